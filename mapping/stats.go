package mapping

import (
	"sync"

	"github.com/montanaflynn/stats"
)

// Stats summarises what the pipeline has done since creation or the last reset.
type Stats struct {
	Received  int
	Dropped   int
	Rejected  int
	Processed int
	Refined   int
	Unrefined int
	Skipped   int
	Failed    int
	MapPoints int
	// NonFinitePoints counts NaN or infinite points removed from increments.
	NonFinitePoints int
	MeanFitness     float64
	MedianFitness   float64
}

type statsTracker struct {
	mu      sync.Mutex
	current Stats
	fitness []float64
}

func (st *statsTracker) update(fn func(s *Stats)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.current)
}

func (st *statsTracker) addFitness(f float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.fitness = append(st.fitness, f)
}

func (st *statsTracker) reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.current = Stats{}
	st.fitness = nil
}

func (st *statsTracker) snapshot() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := st.current
	if len(st.fitness) > 0 {
		// both only fail on empty input
		out.MeanFitness, _ = stats.Mean(st.fitness)
		out.MedianFitness, _ = stats.Median(st.fitness)
	}
	return out
}
