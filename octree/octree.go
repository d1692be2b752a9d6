// Package octree implements an octree over a fixed-resolution voxel grid, used as the spatial index
// of the accumulated map.
package octree

import (
	"github.com/golang/geo/r3"

	pc "go.viam.com/icpslam/pointcloud"
)

// Each node in the octree is either an internal node which links to other nodes, is an empty node with
// no points or further links, or is an occupied node which contains a single point.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8

// Octree is a data structure that recursively partitions 3D space into octants to represent occupancy.
// Space is quantised into cubic cells of a fixed resolution and each cell holds at most one point.
// The covered volume grows as points arrive outside of it.
type Octree interface {
	// Set inserts the point unless its cell is already occupied. The bool reports whether the
	// octree changed.
	Set(p r3.Vector) (bool, error)

	// Fits returns the error inserting points in order would hit, without changing the octree.
	Fits(points []r3.Vector) error

	// Size returns the number of stored points.
	Size() int

	// Resolution returns the cell edge length.
	Resolution() float64

	// ApproxNearest descends toward the existing child closest to p at every level and returns the
	// stored point it reaches. The bool is false only when the octree is empty.
	ApproxNearest(p r3.Vector) (r3.Vector, bool)

	// Iterate calls fn for every stored point until fn returns false.
	Iterate(fn func(p r3.Vector) bool)

	// Reduce collapses subtrees until at most maxPoints remain and returns how many points were removed.
	// A non-positive maxPoints does nothing.
	Reduce(maxPoints int) int

	// MetaData returns bounds of the stored points.
	MetaData() pc.MetaData
}
