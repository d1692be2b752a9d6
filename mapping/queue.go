package mapping

import (
	"sync"

	"go.uber.org/atomic"

	pc "go.viam.com/icpslam/pointcloud"
)

// IncrementQueue is a bounded FIFO of scans waiting to be mapped. When full, pushing discards the
// oldest entry; producers never block.
type IncrementQueue struct {
	capacity int

	mu    sync.Mutex
	items []pc.PointCloud

	dropped atomic.Uint64
}

// NewIncrementQueue returns an empty queue holding at most capacity increments.
func NewIncrementQueue(capacity int) *IncrementQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &IncrementQueue{
		capacity: capacity,
		items:    make([]pc.PointCloud, 0, capacity),
	}
}

// Push appends cloud, dropping the oldest entry first when the queue is full. It reports whether
// an entry was dropped.
func (q *IncrementQueue) Push(cloud pc.PointCloud) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.items) >= q.capacity {
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped.Inc()
		dropped = true
	}
	q.items = append(q.items, cloud)
	return dropped
}

// Pop removes and returns the oldest increment.
func (q *IncrementQueue) Pop() (pc.PointCloud, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	cloud := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return cloud, true
}

// Len returns the number of pending increments.
func (q *IncrementQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the most increments the queue will hold.
func (q *IncrementQueue) Capacity() int {
	return q.capacity
}

// Clear discards every pending increment, restarts the drop count and returns how many increments
// were pending.
func (q *IncrementQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = make([]pc.PointCloud, 0, q.capacity)
	q.dropped.Store(0)
	return n
}

// Dropped returns how many increments were discarded to make room since creation or the last Clear.
func (q *IncrementQueue) Dropped() uint64 {
	return q.dropped.Load()
}
