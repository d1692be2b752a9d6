package source

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/utils"
)

// DefaultSettle is how long a file must stay untouched before it is loaded.
const DefaultSettle = 200 * time.Millisecond

// WatcherOptions tune a Watcher. Zero values take defaults.
type WatcherOptions struct {
	Settle time.Duration
	Clock  clock.Clock
}

// Watcher loads cloud files as they appear in a directory and hands them to a handler. A file is
// loaded once it has not been written to for the settle duration.
type Watcher struct {
	dir     string
	frameID string
	handle  Handler
	settle  time.Duration
	clock   clock.Clock
	logger  logging.Logger

	fsWatcher *fsnotify.Watcher
	workers   utils.StoppableWorkers

	mu      sync.Mutex
	pending map[string]*pendingLoad
	closed  bool
	loading sync.WaitGroup

	loaded atomic.Int64
	failed atomic.Int64
}

// pendingLoad is the settle timer of one file. A newer write replaces it.
type pendingLoad struct {
	timer *clock.Timer
}

// NewWatcher starts watching dir. Files already present are ignored; use Replay for those.
func NewWatcher(dir, frameID string, handle Handler, opts WatcherOptions, logger logging.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "watching %q", dir), fsWatcher.Close())
	}
	w := &Watcher{
		dir:       dir,
		frameID:   frameID,
		handle:    handle,
		settle:    opts.Settle,
		clock:     opts.Clock,
		logger:    logger,
		fsWatcher: fsWatcher,
		pending:   map[string]*pendingLoad{},
	}
	if w.settle <= 0 {
		w.settle = DefaultSettle
	}
	if w.clock == nil {
		w.clock = clock.New()
	}
	w.workers = utils.NewStoppableWorkers(w.watch)
	logger.Infow("watching for increments", "dir", dir, "settle", w.settle)
	return w, nil
}

// Loaded returns how many increments were handed off.
func (w *Watcher) Loaded() int64 {
	return w.loaded.Load()
}

// Failed returns how many files could not be loaded or handled.
func (w *Watcher) Failed() int64 {
	return w.failed.Load()
}

func (w *Watcher) watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("directory watch error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, fn string) {
	if !IsCloudFile(fn) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if prev, ok := w.pending[fn]; ok {
		prev.timer.Stop()
	}
	p := &pendingLoad{}
	p.timer = w.clock.AfterFunc(w.settle, func() { w.load(ctx, fn, p) })
	w.pending[fn] = p
}

// load reads fn for the settle timer p. It does nothing when fn was rescheduled after p fired.
func (w *Watcher) load(ctx context.Context, fn string, p *pendingLoad) {
	w.mu.Lock()
	if w.pending[fn] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, fn)
	if w.closed || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.loading.Add(1)
	w.mu.Unlock()
	defer w.loading.Done()

	cloud, err := LoadIncrement(fn, w.frameID, w.logger)
	if err != nil {
		w.failed.Inc()
		w.logger.Warnw("skipping unreadable increment", "file", fn, "error", err)
		return
	}
	if err := w.handle(ctx, fn, cloud); err != nil {
		w.failed.Inc()
		w.logger.Warnw("failed to handle increment", "file", fn, "error", err)
		return
	}
	w.loaded.Inc()
	w.logger.Debugw("loaded increment", "file", fn, "points", cloud.Size())
}

// Close stops watching and waits for loads in progress. Files still settling are not loaded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for fn, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, fn)
	}
	w.mu.Unlock()

	w.workers.Stop()
	w.loading.Wait()
	return w.fsWatcher.Close()
}
