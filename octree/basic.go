package octree

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/icpslam/logging"
	pc "go.viam.com/icpslam/pointcloud"
)

// maxDepth bounds how far the root may grow so cell offsets stay representable.
const maxDepth = 60

// basicOctree is a data structure that represents a basic octree over voxel keys. The root covers
// 2^depth cells per side starting at origin.
type basicOctree struct {
	logger     logging.Logger
	resolution float64
	origin     pc.VoxelCoords
	depth      uint
	root       *basicOctreeNode
	size       int
	meta       pc.MetaData
}

// basicOctreeNode is a struct comprised of the type of node, children nodes (should they exist) and the
// point stored in a filled leaf.
type basicOctreeNode struct {
	nodeType NodeType
	children []*basicOctreeNode
	point    r3.Vector
}

// New creates a new empty octree with cells of the given edge length.
func New(resolution float64, logger logging.Logger) (Octree, error) {
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return nil, errors.Errorf("invalid resolution (%.4f) for octree", resolution)
	}
	return &basicOctree{
		logger:     logger,
		resolution: resolution,
		meta:       pc.NewMetaData(),
	}, nil
}

func (octree *basicOctree) Size() int {
	return octree.size
}

func (octree *basicOctree) Resolution() float64 {
	return octree.resolution
}

func (octree *basicOctree) MetaData() pc.MetaData {
	return octree.meta
}

// Set grows the root until it covers the point's cell, then descends, splitting filled leaves that
// hold a point of a different cell.
func (octree *basicOctree) Set(p r3.Vector) (bool, error) {
	if !pc.IsFinite(p) {
		return false, errors.Errorf("cannot store non-finite point %v", p)
	}
	key := pc.GetVoxelCoordinates(p, octree.resolution)

	if octree.root == nil {
		octree.origin = key
		octree.depth = 0
		octree.root = newLeafNodeFilled(p)
		octree.added(p)
		return true, nil
	}

	for !octree.contains(key) {
		if err := octree.grow(key); err != nil {
			return false, err
		}
	}

	inserted, err := octree.root.set(p, key, octree.origin, octree.depth, octree.resolution)
	if err != nil {
		return false, err
	}
	if inserted {
		octree.added(p)
	}
	return inserted, nil
}

func (octree *basicOctree) added(p r3.Vector) {
	octree.size++
	octree.meta.Merge(p)
}

func (octree *basicOctree) contains(key pc.VoxelCoords) bool {
	return inCube(key, octree.origin, octree.depth)
}

// Fits replays the root growth that inserting points in order would need, without changing the
// octree, and returns the error Set would hit first.
func (octree *basicOctree) Fits(points []r3.Vector) error {
	origin, depth, empty := octree.origin, octree.depth, octree.root == nil
	for _, p := range points {
		if !pc.IsFinite(p) {
			return errors.Errorf("cannot store non-finite point %v", p)
		}
		key := pc.GetVoxelCoordinates(p, octree.resolution)
		if empty {
			origin, depth, empty = key, 0, false
			continue
		}
		for !inCube(key, origin, depth) {
			if depth >= maxDepth {
				return errTooFar(key, origin)
			}
			origin, _ = growToward(key, origin, depth)
			depth++
		}
	}
	return nil
}

// grow doubles the root cube toward key. The old root becomes one octant of the new root.
func (octree *basicOctree) grow(key pc.VoxelCoords) error {
	if octree.depth >= maxDepth {
		return errTooFar(key, octree.origin)
	}
	newOrigin, octant := growToward(key, octree.origin, octree.depth)

	children := make([]*basicOctreeNode, 8)
	for i := range children {
		children[i] = newLeafNodeEmpty()
	}
	children[octant] = octree.root

	octree.root = newInternalNode(children)
	octree.origin = newOrigin
	octree.depth++
	octree.logger.Debugw("grew map octree", "depth", octree.depth, "origin", octree.origin)
	return nil
}

func errTooFar(key, origin pc.VoxelCoords) error {
	return errors.Errorf("point cell %v is too far from the map origin %v", key, origin)
}

// set places p in the subtree rooted at node, which covers 2^level cells per side from origin.
func (node *basicOctreeNode) set(p r3.Vector, key, origin pc.VoxelCoords, level uint, res float64) (bool, error) {
	switch node.nodeType {
	case InternalNode:
		octant, childOrigin := childFor(key, origin, level)
		return node.children[octant].set(p, key, childOrigin, level-1, res)

	case LeafNodeFilled:
		if pc.GetVoxelCoordinates(node.point, res).IsEqual(key) {
			return false, nil
		}
		if level == 0 {
			return false, errors.New("error two cells share a unit leaf, please check your tree")
		}
		if err := node.splitIntoOctants(origin, level, res); err != nil {
			return false, err
		}
		return node.set(p, key, origin, level, res)

	case LeafNodeEmpty:
		node.nodeType = LeafNodeFilled
		node.point = p
		return true, nil
	}
	return false, errors.Errorf("unknown node type %d", node.nodeType)
}

// splitIntoOctants turns a filled leaf into an internal node whose matching child holds the old point.
func (node *basicOctreeNode) splitIntoOctants(origin pc.VoxelCoords, level uint, res float64) error {
	if node.nodeType != LeafNodeFilled {
		return errors.New("error attempted to split a node that is not a filled leaf")
	}
	if level == 0 {
		return errors.New("error attempted to split a unit leaf")
	}
	children := make([]*basicOctreeNode, 8)
	for i := range children {
		children[i] = newLeafNodeEmpty()
	}
	octant, _ := childFor(pc.GetVoxelCoordinates(node.point, res), origin, level)
	children[octant] = newLeafNodeFilled(node.point)

	*node = *newInternalNode(children)
	return nil
}

func (octree *basicOctree) ApproxNearest(p r3.Vector) (r3.Vector, bool) {
	if octree.root == nil {
		return r3.Vector{}, false
	}
	node := octree.root
	origin := octree.origin
	level := octree.depth
	for node.nodeType == InternalNode {
		bestDist := math.Inf(1)
		bestOctant := -1
		var bestOrigin pc.VoxelCoords
		for octant, child := range node.children {
			if child.nodeType == LeafNodeEmpty {
				continue
			}
			childOrigin := octantOrigin(origin, level, octant)
			if d := cubeCenter(childOrigin, level-1, octree.resolution).Sub(p).Norm2(); d < bestDist {
				bestDist, bestOctant, bestOrigin = d, octant, childOrigin
			}
		}
		if bestOctant < 0 {
			// only reachable if an internal node lost all its points
			return r3.Vector{}, false
		}
		node = node.children[bestOctant]
		origin = bestOrigin
		level--
	}
	if node.nodeType != LeafNodeFilled {
		return r3.Vector{}, false
	}
	return node.point, true
}

func (octree *basicOctree) Iterate(fn func(p r3.Vector) bool) {
	if octree.root == nil {
		return
	}
	octree.root.iterate(fn)
}

func (node *basicOctreeNode) iterate(fn func(p r3.Vector) bool) bool {
	switch node.nodeType {
	case InternalNode:
		for _, child := range node.children {
			if !child.iterate(fn) {
				return false
			}
		}
	case LeafNodeFilled:
		return fn(node.point)
	case LeafNodeEmpty:
	}
	return true
}

// Reduce picks the lowest level whose occupied subtrees fit in maxPoints and replaces each of those
// subtrees by the stored point closest to its centroid.
func (octree *basicOctree) Reduce(maxPoints int) int {
	if maxPoints <= 0 || octree.size <= maxPoints || octree.root == nil {
		return 0
	}
	level := uint(1)
	for ; level < octree.depth; level++ {
		if octree.root.occupied(octree.depth, level) <= maxPoints {
			break
		}
	}
	octree.root.collapse(octree.depth, level)

	before := octree.size
	octree.size = 0
	octree.meta = pc.NewMetaData()
	octree.Iterate(func(p r3.Vector) bool {
		octree.added(p)
		return true
	})
	removed := before - octree.size
	octree.logger.Debugw("reduced map density", "level", level, "removed", removed, "remaining", octree.size)
	return removed
}

// occupied counts the non-empty subtrees at target level below node, which sits at level.
func (node *basicOctreeNode) occupied(level, target uint) int {
	switch node.nodeType {
	case LeafNodeFilled:
		return 1
	case InternalNode:
		if level <= target {
			return 1
		}
		total := 0
		for _, child := range node.children {
			total += child.occupied(level-1, target)
		}
		return total
	case LeafNodeEmpty:
	}
	return 0
}

func (node *basicOctreeNode) collapse(level, target uint) {
	if node.nodeType != InternalNode {
		return
	}
	if level > target {
		for _, child := range node.children {
			child.collapse(level-1, target)
		}
		return
	}

	var points []r3.Vector
	var sum r3.Vector
	node.iterate(func(p r3.Vector) bool {
		points = append(points, p)
		sum = sum.Add(p)
		return true
	})
	centroid := sum.Mul(1 / float64(len(points)))
	best := points[0]
	bestDist := best.Sub(centroid).Norm2()
	for _, p := range points[1:] {
		if d := p.Sub(centroid).Norm2(); d < bestDist {
			best, bestDist = p, d
		}
	}
	*node = *newLeafNodeFilled(best)
}
