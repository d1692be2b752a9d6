package octree

import (
	"github.com/golang/geo/r3"

	pc "go.viam.com/icpslam/pointcloud"
)

// Creates a new LeafNodeEmpty.
func newLeafNodeEmpty() *basicOctreeNode {
	return &basicOctreeNode{
		nodeType: LeafNodeEmpty,
	}
}

// Creates a new InternalNode with specified children nodes.
func newInternalNode(children []*basicOctreeNode) *basicOctreeNode {
	return &basicOctreeNode{
		nodeType: InternalNode,
		children: children,
	}
}

// Creates a new LeafNodeFilled holding p.
func newLeafNodeFilled(p r3.Vector) *basicOctreeNode {
	return &basicOctreeNode{
		nodeType: LeafNodeFilled,
		point:    p,
	}
}

// inCube reports whether key lies in the cube of 2^level cells per side starting at origin.
func inCube(key, origin pc.VoxelCoords, level uint) bool {
	side := int64(1) << level
	di, dj, dk := key.I-origin.I, key.J-origin.J, key.K-origin.K
	return di >= 0 && di < side && dj >= 0 && dj < side && dk >= 0 && dk < side
}

// childFor returns the octant of the cube at level that contains key, and that octant's origin.
// Bit 0 of the octant selects the upper I half, bit 1 the upper J half and bit 2 the upper K half.
func childFor(key, origin pc.VoxelCoords, level uint) (int, pc.VoxelCoords) {
	half := int64(1) << (level - 1)
	octant := 0
	if key.I-origin.I >= half {
		octant |= 1
	}
	if key.J-origin.J >= half {
		octant |= 2
	}
	if key.K-origin.K >= half {
		octant |= 4
	}
	return octant, octantOrigin(origin, level, octant)
}

func octantOrigin(origin pc.VoxelCoords, level uint, octant int) pc.VoxelCoords {
	half := int64(1) << (level - 1)
	out := origin
	if octant&1 != 0 {
		out.I += half
	}
	if octant&2 != 0 {
		out.J += half
	}
	if octant&4 != 0 {
		out.K += half
	}
	return out
}

// cubeCenter returns the metric centre of the cube at level starting at origin.
func cubeCenter(origin pc.VoxelCoords, level uint, res float64) r3.Vector {
	halfSide := float64(int64(1)<<level) * res / 2
	return r3.Vector{
		X: float64(origin.I)*res + halfSide,
		Y: float64(origin.J)*res + halfSide,
		Z: float64(origin.K)*res + halfSide,
	}
}

// growToward returns the origin of the cube twice the size of the one at origin and depth that
// extends toward key, and the octant the old cube takes in it.
func growToward(key, origin pc.VoxelCoords, depth uint) (pc.VoxelCoords, int) {
	side := int64(1) << depth
	octant := 0
	if key.I < origin.I {
		origin.I -= side
		octant |= 1
	}
	if key.J < origin.J {
		origin.J -= side
		octant |= 2
	}
	if key.K < origin.K {
		origin.K -= side
		octant |= 4
	}
	return origin, octant
}
