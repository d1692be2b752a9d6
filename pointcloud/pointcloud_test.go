package pointcloud

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/icpslam/spatialmath"
	"go.viam.com/icpslam/utils"
)

func TestBasicCloud(t *testing.T) {
	stamp := time.Unix(1700000000, 0)
	src := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -1, Y: 0, Z: 5}, {X: 1, Y: 2, Z: 3}}
	pc := New(Header{FrameID: "laser", Stamp: stamp}, src)

	// duplicates are kept and order is preserved
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	test.That(t, pc.At(1), test.ShouldResemble, r3.Vector{X: -1, Y: 0, Z: 5})
	test.That(t, pc.Header().FrameID, test.ShouldEqual, "laser")
	test.That(t, pc.Header().Stamp, test.ShouldEqual, stamp)

	// the cloud owns its points
	src[0] = r3.Vector{}
	test.That(t, pc.At(0), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	pts := pc.Points()
	pts[0] = r3.Vector{}
	test.That(t, pc.At(0), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	meta := pc.MetaData()
	test.That(t, meta.MinX, test.ShouldEqual, -1.)
	test.That(t, meta.MaxZ, test.ShouldEqual, 5.)
	test.That(t, meta.MaxSideLength(), test.ShouldEqual, 2.)
	test.That(t, CloudCentroid(pc).ApproxEqual(r3.Vector{X: 1. / 3, Y: 4. / 3, Z: 11. / 3}), test.ShouldBeTrue)

	empty := NewEmpty("map")
	test.That(t, empty.Size(), test.ShouldEqual, 0)
	emptyMeta := empty.MetaData()
	test.That(t, emptyMeta.Center(), test.ShouldResemble, r3.Vector{})
}

func TestIterateBatches(t *testing.T) {
	pts := make([]r3.Vector, 10)
	for i := range pts {
		pts[i] = r3.Vector{X: float64(i)}
	}
	pc := New(Header{}, pts)

	var seen []float64
	for batch := 0; batch < 3; batch++ {
		pc.Iterate(3, batch, func(p r3.Vector) bool {
			seen = append(seen, p.X)
			return true
		})
	}
	test.That(t, seen, test.ShouldResemble, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	count := 0
	pc.Iterate(0, 0, func(p r3.Vector) bool {
		count++
		return count < 4
	})
	test.That(t, count, test.ShouldEqual, 4)
}

func TestApplyPose(t *testing.T) {
	ctx := context.Background()
	pose := spatialmath.NewPose(
		r3.Vector{X: 1, Y: -2, Z: 0.5},
		&spatialmath.EulerAngles{Roll: 0.1, Pitch: 0.3, Yaw: math.Pi / 3},
	)

	t.Run("empty in empty out", func(t *testing.T) {
		out, err := ApplyPose(ctx, NewEmpty("laser"), pose, "map")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Size(), test.ShouldEqual, 0)
		test.That(t, out.Header().FrameID, test.ShouldEqual, "map")
	})

	t.Run("single point", func(t *testing.T) {
		yaw := spatialmath.NewPose(r3.Vector{X: 1}, &spatialmath.EulerAngles{Yaw: math.Pi / 2})
		out, err := ApplyPose(ctx, New(Header{FrameID: "robot"}, []r3.Vector{{X: 1}}), yaw, "map")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.At(0).Sub(r3.Vector{X: 1, Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
	})

	t.Run("round trip through inverse", func(t *testing.T) {
		prevFactor := utils.ParallelFactor
		utils.ParallelFactor = 4
		defer func() { utils.ParallelFactor = prevFactor }()

		// large enough to be split across groups
		pts := make([]r3.Vector, 3*minParallelGroup+17)
		for i := range pts {
			f := float64(i)
			pts[i] = r3.Vector{X: math.Sin(f), Y: math.Cos(f) * 3, Z: f / 1000}
		}
		stamp := time.Unix(5, 0)
		orig := New(Header{FrameID: "robot", Stamp: stamp}, pts)

		moved, err := ApplyPose(ctx, orig, pose, "map")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, moved.Header().Stamp, test.ShouldEqual, stamp)

		back, err := ApplyPose(ctx, moved, spatialmath.PoseInverse(pose), "robot")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.Size(), test.ShouldEqual, orig.Size())
		for i := 0; i < orig.Size(); i++ {
			test.That(t, back.At(i).Sub(orig.At(i)).Norm(), test.ShouldBeLessThan, 1e-9)
		}
		// the input is not modified
		test.That(t, orig.At(7), test.ShouldResemble, pts[7])
	})
}

func TestDropNonFinite(t *testing.T) {
	stamp := time.Unix(1700000000, 0)
	cloud := New(Header{FrameID: "laser", Stamp: stamp}, []r3.Vector{
		{X: 1},
		{X: math.NaN()},
		{Y: math.Inf(-1)},
		{Z: 3},
	})
	test.That(t, IsFinite(cloud.At(0)), test.ShouldBeTrue)
	test.That(t, IsFinite(cloud.At(1)), test.ShouldBeFalse)
	test.That(t, IsFinite(cloud.At(2)), test.ShouldBeFalse)

	kept, removed := DropNonFinite(cloud)
	test.That(t, removed, test.ShouldEqual, 2)
	test.That(t, kept.Points(), test.ShouldResemble, []r3.Vector{{X: 1}, {Z: 3}})
	test.That(t, kept.Header(), test.ShouldResemble, cloud.Header())
	test.That(t, kept.MetaData().MaxZ, test.ShouldEqual, 3.)

	same, removed := DropNonFinite(kept)
	test.That(t, removed, test.ShouldEqual, 0)
	test.That(t, same, test.ShouldEqual, kept)
}
