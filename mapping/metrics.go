package mapping

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded for processed increments.
const (
	outcomeRefined   = "refined"
	outcomeUnrefined = "unrefined"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// Metrics are the mapper's prometheus instruments.
type Metrics struct {
	IncrementsReceived  prometheus.Counter
	IncrementsDropped   prometheus.Counter
	IncrementsRejected  prometheus.Counter
	NonFinitePoints     prometheus.Counter
	IncrementsProcessed *prometheus.CounterVec
	LookupFailures      prometheus.Counter
	PublishFailures     prometheus.Counter
	MapPoints           prometheus.Gauge
	QueueDepth          prometheus.Gauge
	ICPFitness          prometheus.Histogram
	ProcessingSeconds   prometheus.Histogram
}

// NewMetrics registers the mapper metrics on reg. A nil reg uses a private registry so several
// mappers can coexist.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		IncrementsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "icpslam_increments_received_total",
			Help: "Total number of scan increments handed to the mapper",
		}),
		IncrementsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "icpslam_increments_dropped_total",
			Help: "Total number of queued increments discarded because the queue was full",
		}),
		IncrementsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "icpslam_increments_rejected_total",
			Help: "Total number of increments refused because of their frame",
		}),
		NonFinitePoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "icpslam_nonfinite_points_dropped_total",
			Help: "Total number of NaN or infinite points removed from increments",
		}),
		IncrementsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "icpslam_increments_processed_total",
			Help: "Total number of increments taken off the queue, by outcome",
		}, []string{"outcome"}),
		LookupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "icpslam_pose_lookup_failures_total",
			Help: "Total number of increments skipped because the prior pose lookup failed",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "icpslam_publish_failures_total",
			Help: "Total number of failed snapshot publications",
		}),
		MapPoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "icpslam_map_points",
			Help: "Current number of points stored in the map",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "icpslam_queue_depth",
			Help: "Current number of increments waiting to be mapped",
		}),
		ICPFitness: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "icpslam_icp_fitness",
			Help:    "Final registration fitness of each increment",
			Buckets: prometheus.ExponentialBuckets(1e-4, 4, 10),
		}),
		ProcessingSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "icpslam_increment_processing_seconds",
			Help:    "Time spent mapping one increment",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
