package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// a slice of points in insertion order.
type basicPointCloud struct {
	header Header
	points []r3.Vector
	meta   MetaData
}

// New returns a PointCloud holding a copy of the given points.
func New(header Header, points []r3.Vector) PointCloud {
	owned := make([]r3.Vector, len(points))
	copy(owned, points)
	return newOwned(header, owned)
}

// NewEmpty returns a PointCloud with no points in the given frame.
func NewEmpty(frameID string) PointCloud {
	return newOwned(Header{FrameID: frameID}, nil)
}

// newOwned takes ownership of points without copying them.
func newOwned(header Header, points []r3.Vector) *basicPointCloud {
	meta := NewMetaData()
	for _, p := range points {
		meta.Merge(p)
	}
	return &basicPointCloud{header: header, points: points, meta: meta}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) At(i int) r3.Vector {
	return cloud.points[i]
}

func (cloud *basicPointCloud) Points() []r3.Vector {
	out := make([]r3.Vector, len(cloud.points))
	copy(out, cloud.points)
	return out
}

func (cloud *basicPointCloud) Header() Header {
	return cloud.header
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector) bool) {
	from, to := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		from = myBatch * batchSize
		to = from + batchSize
		if to > len(cloud.points) {
			to = len(cloud.points)
		}
	}
	for i := from; i < to; i++ {
		if !fn(cloud.points[i]) {
			return
		}
	}
}

// IsFinite reports whether no coordinate of p is NaN or infinite.
func IsFinite(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

// DropNonFinite returns cloud without its non-finite points and how many were removed. Order and
// header are kept, and cloud itself is returned when nothing was removed.
func DropNonFinite(cloud PointCloud) (PointCloud, int) {
	kept := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector) bool {
		if IsFinite(p) {
			kept = append(kept, p)
		}
		return true
	})
	removed := cloud.Size() - len(kept)
	if removed == 0 {
		return cloud, 0
	}
	return newOwned(cloud.Header(), kept), removed
}
