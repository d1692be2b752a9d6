package mapping

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/trace"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/mapstore"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/registration"
	"go.viam.com/icpslam/spatialmath"
	"go.viam.com/icpslam/utils"
)

// IncrementState is how far an increment got through the pipeline.
type IncrementState int

const (
	// StateIdle means nothing happened yet.
	StateIdle IncrementState = iota
	// StateReceived means the increment was taken off the queue.
	StateReceived
	// StateTransformed means the increment was moved from the sensor frame to the robot frame.
	StateTransformed
	// StateRegistered means the pose was refined or the prior was kept.
	StateRegistered
	// StateFused means the increment was added to the map and its pose appended to the path.
	StateFused
	// StatePublished means the snapshot was handed off successfully.
	StatePublished
)

func (s IncrementState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceived:
		return "received"
	case StateTransformed:
		return "transformed"
	case StateRegistered:
		return "registered"
	case StateFused:
		return "fused"
	case StatePublished:
		return "published"
	}
	return "unknown"
}

// Report describes the processing of one increment.
type Report struct {
	Stamp       time.Time
	State       IncrementState
	Skipped     bool
	Refined     bool
	RefineState registration.RefineState
	Pose        spatialmath.Pose
	// Fitness is NaN when registration did not complete.
	Fitness    float64
	Inserted   int
	MapPoints  int
	Err        error
	PublishErr error
	Duration   time.Duration
}

// Options are the collaborators of a Mapper. Every field is optional.
type Options struct {
	// PoseSource provides prior poses. Defaults to the latest refined pose.
	PoseSource PoseSource
	// Publisher receives a snapshot after every increment. Defaults to discarding them.
	Publisher Publisher
	// Estimator overrides the ICP built from the config.
	Estimator registration.Estimator
	// Registerer receives the metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
	// Clock stamps increments that arrive without a capture time.
	Clock clock.Clock
}

// Mapper incrementally builds a map from scan increments.
type Mapper struct {
	cfg        *Config
	logger     logging.Logger
	store      *mapstore.Store
	refiner    *registration.Refiner
	queue      *IncrementQueue
	poses      PoseSource
	publisher  Publisher
	metrics    *Metrics
	clock      clock.Clock
	sensorPose spatialmath.Pose
	stats      statsTracker

	// processMu serialises per-increment work with Reset.
	processMu sync.Mutex
	wake      chan struct{}

	workersMu sync.Mutex
	workers   utils.StoppableWorkers
}

// NewMapper validates a copy of cfg and builds a Mapper with an empty map. Later changes to cfg do
// not affect the Mapper.
func NewMapper(conf *Config, opts Options, logger logging.Logger) (*Mapper, error) {
	if conf == nil {
		return nil, errors.New("mapper config is required")
	}
	cfg := conf.copy()
	cfg.ApplyDefaults()
	if err := cfg.Validate("mapper"); err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.LogLevel())

	store, err := mapstore.New(cfg.MapFrame, cfg.OctreeResolution, cfg.MaxMapPoints, logger.Sublogger("store"))
	if err != nil {
		return nil, err
	}

	estimator := opts.Estimator
	if estimator == nil {
		icp, err := registration.NewICP(cfg.ICPConfig(), logger.Sublogger("icp"))
		if err != nil {
			return nil, err
		}
		estimator = icp
	}

	m := &Mapper{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		refiner:    registration.NewRefiner(store, estimator, cfg.MapFrame, logger.Sublogger("refine")),
		queue:      NewIncrementQueue(cfg.MaxIncrementsQueue),
		poses:      opts.PoseSource,
		publisher:  opts.Publisher,
		metrics:    NewMetrics(opts.Registerer),
		clock:      opts.Clock,
		sensorPose: cfg.SensorPose(),
		wake:       make(chan struct{}, 1),
	}
	if m.poses == nil {
		m.poses = &LastPoseSource{Store: store}
	}
	if m.publisher == nil {
		m.publisher = PublisherFunc(func(context.Context, Snapshot) error { return nil })
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	logger.Infow("mapper ready",
		"resolution", cfg.OctreeResolution,
		"queue", cfg.MaxIncrementsQueue,
		"map_frame", cfg.MapFrame,
		"session", store.SessionID())
	return m, nil
}

// Store returns the map.
func (m *Mapper) Store() *mapstore.Store {
	return m.store
}

// Config returns the effective configuration.
func (m *Mapper) Config() Config {
	return *m.cfg
}

// QueueLen returns the number of increments waiting to be mapped.
func (m *Mapper) QueueLen() int {
	return m.queue.Len()
}

// Stats returns counters since creation or the last reset.
func (m *Mapper) Stats() Stats {
	s := m.stats.snapshot()
	s.Dropped = int(m.queue.Dropped())
	s.MapPoints = m.store.Size()
	return s
}

// OnIncrement queues a scan in the laser frame for mapping and wakes the worker. It never blocks;
// when the queue is full the oldest pending scan is dropped.
func (m *Mapper) OnIncrement(cloud pc.PointCloud) {
	m.metrics.IncrementsReceived.Inc()
	m.stats.update(func(s *Stats) { s.Received++ })

	header := cloud.Header()
	if header.FrameID != "" && header.FrameID != m.cfg.LaserFrame {
		m.metrics.IncrementsRejected.Inc()
		m.stats.update(func(s *Stats) { s.Rejected++ })
		m.logger.Warnw("ignoring increment in unexpected frame",
			"frame", header.FrameID, "expected", m.cfg.LaserFrame)
		return
	}
	cloud, nonFinite := pc.DropNonFinite(cloud)
	if nonFinite > 0 {
		m.metrics.NonFinitePoints.Add(float64(nonFinite))
		m.stats.update(func(s *Stats) { s.NonFinitePoints += nonFinite })
		m.logger.Debugw("dropped non-finite points from increment", "count", nonFinite, "stamp", header.Stamp)
	}
	if header.FrameID == "" || header.Stamp.IsZero() {
		header.FrameID = m.cfg.LaserFrame
		if header.Stamp.IsZero() {
			header.Stamp = m.clock.Now()
		}
		cloud = pc.New(header, cloud.Points())
	}

	if m.queue.Push(cloud) {
		m.metrics.IncrementsDropped.Inc()
		m.logger.Debugw("increment queue full, dropped oldest", "capacity", m.queue.Capacity())
	}
	m.metrics.QueueDepth.Set(float64(m.queue.Len()))

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start runs the consumer loop in the background until Close.
func (m *Mapper) Start() {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()
	if m.workers != nil {
		return
	}
	m.workers = utils.NewStoppableWorkers(m.consume)
}

// Close stops the consumer loop. Increments still queued are left unprocessed.
func (m *Mapper) Close() error {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()
	if m.workers != nil {
		m.workers.Stop()
		m.workers = nil
	}
	return nil
}

func (m *Mapper) consume(ctx context.Context) {
	for {
		if _, err := m.ProcessPending(ctx); err != nil && ctx.Err() == nil {
			m.logger.Errorw("processing increments", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
	}
}

// ProcessPending maps queued increments in arrival order until the queue is empty and returns one
// report per increment. It only fails when ctx is done.
func (m *Mapper) ProcessPending(ctx context.Context) ([]Report, error) {
	var reports []Report
	for {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		m.processMu.Lock()
		cloud, ok := m.queue.Pop()
		if !ok {
			m.processMu.Unlock()
			return reports, nil
		}
		m.metrics.QueueDepth.Set(float64(m.queue.Len()))
		report := m.processIncrement(ctx, cloud)
		m.processMu.Unlock()
		reports = append(reports, report)
	}
}

// Reset drops pending increments, empties the map and the path, and clears the statistics.
func (m *Mapper) Reset() error {
	m.processMu.Lock()
	defer m.processMu.Unlock()

	pending := m.queue.Clear()
	if err := m.store.Reset(); err != nil {
		return err
	}
	m.stats.reset()
	m.metrics.QueueDepth.Set(0)
	m.metrics.MapPoints.Set(0)
	m.logger.Infow("mapper reset", "discarded_increments", pending, "session", m.store.SessionID())
	return nil
}

func (m *Mapper) processIncrement(ctx context.Context, cloud pc.PointCloud) Report {
	ctx, span := trace.StartSpan(ctx, "mapping::processIncrement")
	defer span.End()

	start := m.clock.Now()
	stamp := cloud.Header().Stamp
	report := Report{Stamp: stamp, State: StateReceived, Fitness: math.NaN()}
	defer func() {
		report.Duration = m.clock.Since(start)
		m.metrics.ProcessingSeconds.Observe(report.Duration.Seconds())
	}()

	stopSlowLog := utils.SlowLogger(ctx, "still mapping increment", "stamp", stamp, m.logger)
	defer stopSlowLog()

	fail := func(err error) Report {
		report.Err = err
		m.metrics.IncrementsProcessed.WithLabelValues(outcomeFailed).Inc()
		m.stats.update(func(s *Stats) { s.Failed++ })
		m.logger.Errorw("failed to map increment", "stamp", stamp, "state", report.State, "error", err)
		return report
	}

	robotCloud, err := pc.ApplyPose(ctx, cloud, m.sensorPose, m.cfg.RobotFrame)
	if err != nil {
		return fail(errors.Wrap(err, "moving increment to the robot frame"))
	}
	report.State = StateTransformed

	query := PoseQuery{
		RobotFrame: m.cfg.RobotFrame,
		OdomFrame:  m.cfg.OdomFrame,
		MapFrame:   m.cfg.MapFrame,
		Stamp:      stamp,
	}
	prior, err := m.poses.PriorPose(ctx, query)
	if err != nil {
		var lookupErr *LookupError
		if !errors.As(err, &lookupErr) {
			lookupErr = NewLookupError(query, err)
		}
		report.Err = lookupErr
		report.Skipped = true
		m.metrics.LookupFailures.Inc()
		m.metrics.IncrementsProcessed.WithLabelValues(outcomeSkipped).Inc()
		m.stats.update(func(s *Stats) { s.Skipped++ })
		m.logger.Warnw("skipping increment, no prior pose", "error", lookupErr)
		return report
	}

	outcome, err := m.refiner.Refine(ctx, robotCloud, prior)
	if err != nil {
		return fail(errors.Wrap(err, "refining pose"))
	}
	report.State = StateRegistered
	report.Refined = outcome.Refined
	report.RefineState = outcome.State
	report.Pose = outcome.Pose
	if outcome.Result != nil {
		report.Fitness = outcome.Result.Fitness
		if !math.IsInf(report.Fitness, 0) {
			m.metrics.ICPFitness.Observe(report.Fitness)
			m.stats.addFitness(report.Fitness)
		}
	}

	fused := outcome.Transformed
	if outcome.Refined {
		if fused, err = pc.ApplyPose(ctx, robotCloud, outcome.Pose, m.cfg.MapFrame); err != nil {
			return fail(errors.Wrap(err, "placing increment in the map"))
		}
	}
	inserted, err := m.store.AddPoints(ctx, fused)
	if err != nil {
		return fail(errors.Wrap(err, "fusing increment"))
	}
	m.store.AppendPose(stamp, outcome.Pose)
	report.Inserted = inserted
	report.MapPoints = m.store.Size()
	report.State = StateFused
	m.metrics.MapPoints.Set(float64(report.MapPoints))

	outcomeLabel := outcomeUnrefined
	if outcome.Refined {
		outcomeLabel = outcomeRefined
	}
	m.metrics.IncrementsProcessed.WithLabelValues(outcomeLabel).Inc()
	m.stats.update(func(s *Stats) {
		s.Processed++
		if outcome.Refined {
			s.Refined++
		} else {
			s.Unrefined++
		}
	})

	snapshot := Snapshot{
		SessionID: m.store.SessionID(),
		Stamp:     stamp,
		Pose:      outcome.Pose,
		Refined:   outcome.Refined,
		Map:       m.store.Cloud(),
		Increment: fused,
		Neighbors: outcome.Neighbors,
		Path:      m.store.Path(),
	}
	if err := m.publisher.Publish(ctx, snapshot); err != nil {
		report.PublishErr = err
		m.metrics.PublishFailures.Inc()
		m.logger.Warnw("failed to publish snapshot", "stamp", stamp, "error", err)
	} else {
		report.State = StatePublished
	}

	m.logger.Infow("mapped increment",
		"stamp", stamp,
		"refined", report.Refined,
		"fitness", report.Fitness,
		"inserted", report.Inserted,
		"map_points", report.MapPoints,
		"pose", spatialmath.PrettyPrint(report.Pose))
	return report
}
