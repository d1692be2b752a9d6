package pointcloud

import (
	"context"

	"github.com/golang/geo/r3"

	"go.viam.com/icpslam/spatialmath"
	"go.viam.com/icpslam/utils"
)

// minParallelGroup is the smallest number of points worth a goroutine of its own.
const minParallelGroup = 4096

// ApplyPose rotates then translates every point of the cloud by the pose and labels the result
// with frameID. Point order and stamp are preserved and the input is left untouched.
func ApplyPose(ctx context.Context, cloud PointCloud, pose spatialmath.Pose, frameID string) (PointCloud, error) {
	header := cloud.Header()
	header.FrameID = frameID
	if cloud.Size() == 0 {
		return newOwned(header, nil), nil
	}

	rot := pose.Orientation().RotationMatrix()
	trans := pose.Point()
	out := make([]r3.Vector, cloud.Size())

	err := utils.GroupWorkParallel(
		ctx,
		cloud.Size(),
		minParallelGroup,
		func(numGroups int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				out[workNum] = rot.Mul(cloud.At(workNum)).Add(trans)
			}, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return newOwned(header, out), nil
}

// ApplyOffset transforms the cloud by the pose while keeping its frame label.
func ApplyOffset(ctx context.Context, cloud PointCloud, pose spatialmath.Pose) (PointCloud, error) {
	return ApplyPose(ctx, cloud, pose, cloud.Header().FrameID)
}
