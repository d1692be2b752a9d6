package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// VoxelCoords stores Voxel coordinates in VoxelGrid axes.
type VoxelCoords struct {
	I, J, K int64
}

// IsEqual tests if two VoxelCoords are the same.
func (c VoxelCoords) IsEqual(c2 VoxelCoords) bool {
	return c.I == c2.I && c.J == c2.J && c.K == c2.K
}

// GetVoxelCoordinates computes voxel coordinates in VoxelGrid Axes for a grid anchored at the origin.
func GetVoxelCoordinates(pt r3.Vector, voxelSize float64) VoxelCoords {
	return VoxelCoords{
		I: int64(math.Floor(pt.X / voxelSize)),
		J: int64(math.Floor(pt.Y / voxelSize)),
		K: int64(math.Floor(pt.Z / voxelSize)),
	}
}

// VoxelCenter returns the centre of the voxel at the given coordinates.
func VoxelCenter(c VoxelCoords, voxelSize float64) r3.Vector {
	return r3.Vector{
		X: (float64(c.I) + 0.5) * voxelSize,
		Y: (float64(c.J) + 0.5) * voxelSize,
		Z: (float64(c.K) + 0.5) * voxelSize,
	}
}

type voxelAccumulator struct {
	sum     r3.Vector
	members []int
}

// VoxelDownsample keeps one point per occupied voxel of the given size: the input point closest
// to the centroid of the points sharing that voxel. Voxels are emitted in order of first
// occupancy. A non-positive size returns the cloud unchanged.
func VoxelDownsample(cloud PointCloud, voxelSize float64) PointCloud {
	if voxelSize <= 0 || cloud.Size() == 0 {
		return cloud
	}

	order := make([]VoxelCoords, 0)
	voxels := make(map[VoxelCoords]*voxelAccumulator)
	for i := 0; i < cloud.Size(); i++ {
		pt := cloud.At(i)
		key := GetVoxelCoordinates(pt, voxelSize)
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccumulator{}
			voxels[key] = acc
			order = append(order, key)
		}
		acc.sum = acc.sum.Add(pt)
		acc.members = append(acc.members, i)
	}

	out := make([]r3.Vector, 0, len(order))
	for _, key := range order {
		acc := voxels[key]
		centroid := acc.sum.Mul(1 / float64(len(acc.members)))
		best := cloud.At(acc.members[0])
		bestDist := best.Sub(centroid).Norm2()
		for _, idx := range acc.members[1:] {
			pt := cloud.At(idx)
			if d := pt.Sub(centroid).Norm2(); d < bestDist {
				best, bestDist = pt, d
			}
		}
		out = append(out, best)
	}
	return newOwned(cloud.Header(), out)
}
