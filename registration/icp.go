// Package registration aligns incoming scans to the accumulated map.
package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/icpslam/logging"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/spatialmath"
)

// ErrInsufficientCorrespondences is returned when fewer than three source points have a target
// point within the correspondence distance.
var ErrInsufficientCorrespondences = errors.New("too few correspondences for registration")

// minCorrespondences is the smallest set a rigid transform can be solved from.
const minCorrespondences = 3

// ICPConfig holds the tuning of the point to point ICP.
type ICPConfig struct {
	// MaxCorrespondenceDistance rejects pairs farther apart than this, in meters.
	MaxCorrespondenceDistance float64
	// Epsilon stops iterating once the mean squared residual improves by less than this,
	// or the incremental transform moves less than this.
	Epsilon float64
	// MaxIterations caps the number of correspondence and solve rounds.
	MaxIterations int
	// FitnessThreshold is the largest final fitness still reported as converged.
	FitnessThreshold float64
	// VoxelLeafSize downsamples both clouds before matching. Zero disables it.
	VoxelLeafSize float64
}

// DefaultICPConfig returns the stock registration tuning.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxCorrespondenceDistance: 1.0,
		Epsilon:                   1e-6,
		MaxIterations:             10,
		FitnessThreshold:          0.1,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg ICPConfig) Validate() error {
	switch {
	case cfg.MaxCorrespondenceDistance <= 0:
		return errors.Errorf("max correspondence distance must be positive, got %v", cfg.MaxCorrespondenceDistance)
	case cfg.Epsilon < 0:
		return errors.Errorf("epsilon cannot be negative, got %v", cfg.Epsilon)
	case cfg.MaxIterations < 1:
		return errors.Errorf("max iterations must be at least 1, got %d", cfg.MaxIterations)
	case cfg.FitnessThreshold < 0:
		return errors.Errorf("fitness threshold cannot be negative, got %v", cfg.FitnessThreshold)
	case cfg.VoxelLeafSize < 0:
		return errors.Errorf("voxel leaf size cannot be negative, got %v", cfg.VoxelLeafSize)
	}
	return nil
}

// Result describes the transform that best maps a source cloud onto a target cloud.
type Result struct {
	// Delta moves source points onto the target.
	Delta spatialmath.Pose
	// Fitness is the mean squared distance from transformed source points to their nearest target
	// point, over the pairs within the correspondence distance. +Inf when there are none.
	Fitness float64
	// Converged reports Fitness <= FitnessThreshold.
	Converged bool
	// Iterations is the number of solve rounds run.
	Iterations int
	// Correspondences is the number of pairs behind Fitness.
	Correspondences int
}

// Estimator finds the rigid transform aligning source to target.
type Estimator interface {
	EstimateTransform(ctx context.Context, source, target pc.PointCloud) (Result, error)
}

// ICP is a point to point iterative closest point Estimator.
type ICP struct {
	cfg    ICPConfig
	logger logging.Logger
}

// NewICP returns an ICP Estimator using cfg.
func NewICP(cfg ICPConfig, logger logging.Logger) (*ICP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ICP{cfg: cfg, logger: logger}, nil
}

// EstimateTransform repeatedly pairs every source point with its nearest target point, solves the
// rigid transform of the pairs in closed form and applies it, until the residual stops improving or
// the iteration cap is hit.
func (icp *ICP) EstimateTransform(ctx context.Context, source, target pc.PointCloud) (Result, error) {
	_, span := trace.StartSpan(ctx, "registration::ICP::EstimateTransform")
	defer span.End()

	source, _ = pc.DropNonFinite(source)
	target, _ = pc.DropNonFinite(target)
	source = pc.VoxelDownsample(source, icp.cfg.VoxelLeafSize)
	target = pc.VoxelDownsample(target, icp.cfg.VoxelLeafSize)
	tree := pc.NewKDTree(target)
	maxDist := icp.cfg.MaxCorrespondenceDistance

	current := source.Points()
	total := spatialmath.NewZeroPose()
	prevResidual := math.Inf(1)
	iterations := 0

	srcPairs := make([]r3.Vector, 0, len(current))
	tgtPairs := make([]r3.Vector, 0, len(current))
	for iterations < icp.cfg.MaxIterations {
		srcPairs, tgtPairs = srcPairs[:0], tgtPairs[:0]
		residual := 0.
		for _, p := range current {
			nn, dist, ok := tree.NearestNeighbor(p)
			if !ok || !(dist <= maxDist) {
				continue
			}
			srcPairs = append(srcPairs, p)
			tgtPairs = append(tgtPairs, nn)
			residual += dist * dist
		}
		if len(srcPairs) < minCorrespondences {
			if iterations == 0 {
				return Result{}, errors.Wrapf(ErrInsufficientCorrespondences,
					"%d of %d source points matched", len(srcPairs), len(current))
			}
			break
		}
		residual /= float64(len(srcPairs))
		if math.Abs(prevResidual-residual) < icp.cfg.Epsilon {
			break
		}
		prevResidual = residual

		step, err := solveRigidTransform(srcPairs, tgtPairs)
		if err != nil {
			return Result{}, err
		}
		iterations++
		rot := step.Orientation().RotationMatrix()
		shift := step.Point()
		for i, p := range current {
			current[i] = rot.Mul(p).Add(shift)
		}
		total = spatialmath.Compose(step, total)

		if stepMagnitude(step) < icp.cfg.Epsilon {
			break
		}
	}

	fitness, pairs := fitnessScore(current, tree, maxDist)
	res := Result{
		Delta:           total,
		Fitness:         fitness,
		Converged:       pairs >= minCorrespondences && fitness <= icp.cfg.FitnessThreshold,
		Iterations:      iterations,
		Correspondences: pairs,
	}
	icp.logger.Debugw("icp finished",
		"iterations", res.Iterations,
		"fitness", res.Fitness,
		"converged", res.Converged,
		"delta", spatialmath.PrettyPrint(res.Delta))
	return res, nil
}

// fitnessScore is the mean squared nearest neighbor distance over points within maxDist.
func fitnessScore(points []r3.Vector, tree *pc.KDTree, maxDist float64) (float64, int) {
	total := 0.
	n := 0
	for _, p := range points {
		_, dist, ok := tree.NearestNeighbor(p)
		if !ok || !(dist <= maxDist) {
			continue
		}
		total += dist * dist
		n++
	}
	if n == 0 {
		return math.Inf(1), 0
	}
	return total / float64(n), n
}

// stepMagnitude is the squared translation plus the squared rotation angle of a pose.
func stepMagnitude(p spatialmath.Pose) float64 {
	q := p.Orientation().Quaternion()
	angle := 2 * math.Acos(math.Min(1, math.Abs(q.Real)))
	return p.Point().Norm2() + angle*angle
}

// solveRigidTransform returns the rotation and translation minimising the squared distance between
// the paired points, using the SVD of their cross covariance.
func solveRigidTransform(src, tgt []r3.Vector) (spatialmath.Pose, error) {
	n := float64(len(src))
	var srcCenter, tgtCenter r3.Vector
	for i := range src {
		srcCenter = srcCenter.Add(src[i])
		tgtCenter = tgtCenter.Add(tgt[i])
	}
	srcCenter = srcCenter.Mul(1 / n)
	tgtCenter = tgtCenter.Mul(1 / n)

	cov := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(srcCenter)
		t := tgt[i].Sub(tgtCenter)
		sv := [3]float64{s.X, s.Y, s.Z}
		tv := [3]float64{t.X, t.Y, t.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov.Set(r, c, cov.At(r, c)+sv[r]*tv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return nil, errors.New("svd of correspondence covariance failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		// reflection, flip the axis of the smallest singular value
		for r := 0; r < 3; r++ {
			v.Set(r, 2, -v.At(r, 2))
		}
		rot.Mul(&v, u.T())
	}

	rm, err := spatialmath.NewRotationMatrixFromDense(&rot)
	if err != nil {
		return nil, err
	}
	shift := tgtCenter.Sub(rm.Mul(srcCenter))
	return spatialmath.NewPose(shift, rm), nil
}
