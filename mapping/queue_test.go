package mapping

import (
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	pc "go.viam.com/icpslam/pointcloud"
)

func stampedCloud(sec int64) pc.PointCloud {
	return pc.New(pc.Header{FrameID: "laser", Stamp: time.Unix(sec, 0)}, []r3.Vector{{X: float64(sec)}})
}

func TestIncrementQueueDropsOldest(t *testing.T) {
	q := NewIncrementQueue(DefaultMaxIncrementsQueue)
	test.That(t, q.Capacity(), test.ShouldEqual, 30)

	for i := int64(0); i < 30; i++ {
		test.That(t, q.Push(stampedCloud(i)), test.ShouldBeFalse)
	}
	test.That(t, q.Len(), test.ShouldEqual, 30)
	test.That(t, q.Push(stampedCloud(30)), test.ShouldBeTrue)
	test.That(t, q.Len(), test.ShouldEqual, 30)
	test.That(t, q.Dropped(), test.ShouldEqual, uint64(1))

	for i := int64(1); i <= 30; i++ {
		cloud, ok := q.Pop()
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, cloud.Header().Stamp.Unix(), test.ShouldEqual, i)
	}
	_, ok := q.Pop()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestIncrementQueueClear(t *testing.T) {
	q := NewIncrementQueue(0)
	test.That(t, q.Capacity(), test.ShouldEqual, 1)
	q.Push(stampedCloud(1))
	test.That(t, q.Push(stampedCloud(2)), test.ShouldBeTrue)

	test.That(t, q.Dropped(), test.ShouldEqual, uint64(1))

	test.That(t, q.Clear(), test.ShouldEqual, 1)
	test.That(t, q.Len(), test.ShouldEqual, 0)
	test.That(t, q.Dropped(), test.ShouldEqual, uint64(0))
}

func TestIncrementQueueConcurrentPush(t *testing.T) {
	q := NewIncrementQueue(10)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 25; i++ {
				q.Push(stampedCloud(i))
			}
		}()
	}
	wg.Wait()
	test.That(t, q.Len(), test.ShouldEqual, 10)
	test.That(t, q.Dropped(), test.ShouldEqual, uint64(90))
}
