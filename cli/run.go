package cli

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/mapping"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/publish"
	"go.viam.com/icpslam/source"
)

const metricsShutdownTimeout = 5 * time.Second

func newLogger(c *cli.Context) logging.Logger {
	var logger logging.Logger
	if fn := c.String(logFileFlag); fn != "" {
		logger = logging.NewFileLogger("icpslam", fn)
	} else {
		logger = logging.NewLogger("icpslam")
	}
	if c.Bool(debugFlag) {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

// RunAction is the corresponding Action for 'run'.
func RunAction(c *cli.Context) error {
	if c.String(inputFlag) == "" && c.String(bagFlag) == "" {
		return errors.Errorf("one of --%s or --%s is required", inputFlag, bagFlag)
	}
	if c.Bool(watchFlag) && c.String(inputFlag) == "" {
		return errors.Errorf("--%s needs --%s", watchFlag, inputFlag)
	}
	logger := newLogger(c)
	conf, err := mapping.ReadConfigFile(c.String(configFlag))
	if err != nil {
		return err
	}
	if c.Bool(debugFlag) && conf.VerbosityLevel < 2 {
		conf.VerbosityLevel = 2
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := mapping.Options{Registerer: reg}
	if out := c.String(outputFlag); out != "" {
		publisher, err := publish.NewDirPublisher(out, publish.TopicsFromConfig(*conf), logger.Sublogger("publish"))
		if err != nil {
			return err
		}
		if c.Bool(pcdAsciiFlag) {
			publisher.SetPCDType(pc.PCDAscii)
		}
		opts.Publisher = publisher
	}

	mapper, err := mapping.NewMapper(conf, opts, logger.Sublogger("mapper"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// stops the metrics server once mapping is over
		defer cancel()
		return runMapping(gctx, c, mapper, logger)
	})
	if addr := c.String(metricsAddrFlag); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Infow("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "serving metrics")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()
	printSummary(c, mapper.Stats())
	err = multierr.Combine(runErr, mapper.Close())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runMapping(ctx context.Context, c *cli.Context, mapper *mapping.Mapper, logger logging.Logger) error {
	input := c.String(inputFlag)
	frame := mapper.Config().LaserFrame
	mapNow := func(ctx context.Context, name string, cloud pc.PointCloud) error {
		mapper.OnIncrement(cloud)
		_, err := mapper.ProcessPending(ctx)
		return err
	}

	if bag := c.String(bagFlag); bag != "" {
		handled, err := source.ReplayBag(ctx, bag, c.String(bagTopicFlag), frame, mapNow, logger.Sublogger("bag"))
		if err != nil {
			return err
		}
		logger.Infow("bag replay done", "increments", handled, "map_points", mapper.Store().Size())
	}
	if input == "" {
		return nil
	}

	handled, err := source.Replay(ctx, input, frame, mapNow, logger.Sublogger("replay"))
	if err != nil {
		return err
	}
	logger.Infow("replay done", "increments", handled, "map_points", mapper.Store().Size())

	if !c.Bool(watchFlag) {
		return nil
	}
	mapper.Start()
	watcher, err := source.NewWatcher(input, frame, func(ctx context.Context, name string, cloud pc.PointCloud) error {
		mapper.OnIncrement(cloud)
		return nil
	}, source.WatcherOptions{Settle: c.Duration(settleFlag)}, logger.Sublogger("watch"))
	if err != nil {
		return err
	}
	<-ctx.Done()
	return watcher.Close()
}

func printSummary(c *cli.Context, stats mapping.Stats) {
	printf(c.App.Writer, "increments: %d received, %d processed, %d dropped, %d rejected",
		stats.Received, stats.Processed, stats.Dropped, stats.Rejected)
	printf(c.App.Writer, "registration: %d refined, %d unrefined, %d skipped, %d failed",
		stats.Refined, stats.Unrefined, stats.Skipped, stats.Failed)
	if stats.Refined+stats.Unrefined > 0 && !math.IsNaN(stats.MeanFitness) {
		printf(c.App.Writer, "fitness: mean %.6f, median %.6f", stats.MeanFitness, stats.MedianFitness)
	}
	printf(c.App.Writer, "map: %d points", stats.MapPoints)
}

// InspectAction is the corresponding Action for 'inspect'.
func InspectAction(c *cli.Context) error {
	conf, err := mapping.ReadConfigFile(c.String(configFlag))
	if err != nil {
		return err
	}
	topics := publish.TopicsFromConfig(*conf)
	dir := c.String(outputFlag)

	path, err := publish.ReadPathFile(filepath.Join(dir, topics.RefinedPath+".json"))
	if err != nil {
		return errors.Wrap(err, "reading refined path")
	}
	mapCloud, err := pc.NewFromFile(filepath.Join(dir, topics.MapCloud+".pcd"), path.FrameID, logging.NewLogger("inspect"))
	if err != nil {
		return errors.Wrap(err, "reading map cloud")
	}

	printf(c.App.Writer, "session %s in frame %q", path.SessionID, path.FrameID)
	printf(c.App.Writer, "path: %d poses", len(path.Poses))
	if n := len(path.Poses); n > 0 {
		last := path.Poses[n-1]
		printf(c.App.Writer, "last pose at %s: x %.3f y %.3f z %.3f yaw %.3f",
			last.Stamp.Format(time.RFC3339), last.X, last.Y, last.Z, last.Yaw)
	}
	md := mapCloud.MetaData()
	printf(c.App.Writer, "map: %d points", mapCloud.Size())
	if mapCloud.Size() > 0 {
		printf(c.App.Writer, "extent: (%.2f, %.2f, %.2f) to (%.2f, %.2f, %.2f)",
			md.MinX, md.MinY, md.MinZ, md.MaxX, md.MaxY, md.MaxZ)
	}
	if c.Bool(posesFlag) {
		printf(c.App.Writer, "%s", posesTable(path.Poses))
	}
	return nil
}

// posesTable renders one row per refined pose with columns of stamp, translation and orientation.
func posesTable(poses []publish.PathPose) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Stamp", "Translation", "Orientation"})
	for i, p := range poses {
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i),
			p.Stamp.Format(time.RFC3339Nano),
			fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", p.X, p.Y, p.Z),
			fmt.Sprintf("Roll:%.3f, Pitch:%.3f, Yaw:%.3f", p.Roll, p.Pitch, p.Yaw),
		})
	}
	return t.Render()
}
