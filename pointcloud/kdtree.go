package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree is an immutable nearest neighbor index over the points of a cloud.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// NewKDTree builds a kd-tree over a copy of the cloud's points.
func NewKDTree(cloud PointCloud) *KDTree {
	pts := make(kdtree.Points, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector) bool {
		pts = append(pts, kdtree.Point{p.X, p.Y, p.Z})
		return true
	})
	if len(pts) == 0 {
		return &KDTree{}
	}
	return &KDTree{tree: kdtree.New(pts, false), size: len(pts)}
}

// Size returns the number of indexed points.
func (kd *KDTree) Size() int {
	return kd.size
}

// NearestNeighbor returns the closest indexed point to p and the euclidean distance to it.
// The last return is false when the tree is empty.
func (kd *KDTree) NearestNeighbor(p r3.Vector) (r3.Vector, float64, bool) {
	if kd.size == 0 {
		return r3.Vector{}, math.Inf(1), false
	}
	nearest, dist2 := kd.tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
	if nearest == nil {
		return r3.Vector{}, math.Inf(1), false
	}
	np := nearest.(kdtree.Point)
	return r3.Vector{X: np[0], Y: np[1], Z: np[2]}, math.Sqrt(dist2), true
}
