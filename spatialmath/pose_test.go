package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestBasicPoseConstruction(t *testing.T) {
	p := NewZeroPose()
	test.That(t, p.Point(), test.ShouldResemble, r3.Vector{})
	test.That(t, OrientationAlmostEqual(p.Orientation(), NewZeroOrientation()), test.ShouldBeTrue)

	p = NewPoseFromPoint(r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, p.Point().ApproxEqual(r3.Vector{X: 1, Y: 2, Z: 3}), test.ShouldBeTrue)

	ea := &EulerAngles{Roll: 0.1, Pitch: -0.2, Yaw: 1.3}
	p = NewPose(r3.Vector{X: -4, Y: 0.5, Z: 2}, ea)
	test.That(t, p.Point().Sub(r3.Vector{X: -4, Y: 0.5, Z: 2}).Norm(), test.ShouldBeLessThan, 1e-9)
	got := p.Orientation().EulerAngles()
	test.That(t, got.Roll, test.ShouldAlmostEqual, 0.1)
	test.That(t, got.Pitch, test.ShouldAlmostEqual, -0.2)
	test.That(t, got.Yaw, test.ShouldAlmostEqual, 1.3)
}

func TestCompose(t *testing.T) {
	yaw90 := &EulerAngles{Yaw: math.Pi / 2}
	a := NewPose(r3.Vector{X: 1}, yaw90)
	b := NewPoseFromPoint(r3.Vector{X: 2})

	// b's translation is rotated into a's frame before being added
	c := Compose(a, b)
	test.That(t, c.Point().Sub(r3.Vector{X: 1, Y: 2}).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, c.Orientation().EulerAngles().Yaw, test.ShouldAlmostEqual, math.Pi/2)

	// composing with identity is a no-op on both sides
	test.That(t, PoseAlmostEqual(Compose(a, NewZeroPose()), a), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Compose(NewZeroPose(), a), a), test.ShouldBeTrue)

	pt := r3.Vector{X: 0.3, Y: -1, Z: 2}
	viaCompose := TransformPoint(c, pt)
	viaChain := TransformPoint(a, TransformPoint(b, pt))
	test.That(t, viaCompose.Sub(viaChain).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestPoseInverse(t *testing.T) {
	p := NewPose(r3.Vector{X: 3, Y: -2, Z: 0.5}, &EulerAngles{Roll: 0.4, Pitch: 0.2, Yaw: -2.1})
	inv := PoseInverse(p)
	test.That(t, PoseAlmostEqual(Compose(p, inv), NewZeroPose()), test.ShouldBeTrue)
	test.That(t, PoseAlmostEqual(Compose(inv, p), NewZeroPose()), test.ShouldBeTrue)

	between := PoseBetween(p, NewPoseFromPoint(r3.Vector{X: 1}))
	test.That(t, PoseAlmostEqual(Compose(p, between), NewPoseFromPoint(r3.Vector{X: 1})), test.ShouldBeTrue)
}

func TestRotationMatrixRoundTrip(t *testing.T) {
	ea := &EulerAngles{Roll: -0.7, Pitch: 0.9, Yaw: 2.5}
	rm := ea.RotationMatrix()
	test.That(t, QuaternionAlmostEqual(rm.Quaternion(), ea.Quaternion(), 1e-9), test.ShouldBeTrue)

	v := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, rm.Mul(v).Sub(RotateVector(ea.Quaternion(), v)).Norm(), test.ShouldBeLessThan, 1e-9)

	_, err := NewRotationMatrix([]float64{1, 0, 0})
	test.That(t, err, test.ShouldNotBeNil)

	identity, err := NewRotationMatrix([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, OrientationAlmostEqual(identity, NewZeroOrientation()), test.ShouldBeTrue)

	// a 180 degree turn exercises the non-positive trace branches
	flip, err := NewRotationMatrix([]float64{-1, 0, 0, 0, -1, 0, 0, 0, 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, flip.EulerAngles().Yaw, test.ShouldAlmostEqual, math.Pi)
}
