package registration

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/icpslam/logging"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/spatialmath"
)

// RefineState is a step of pose refinement.
type RefineState int

const (
	// StatePrior holds the prior pose, nothing has been computed yet.
	StatePrior RefineState = iota
	// StateQueryNeighbors looks up map points near the transformed scan.
	StateQueryNeighbors
	// StateTryICP registers the transformed scan against the neighbors.
	StateTryICP
	// StateRefined is terminal: the pose was corrected by registration.
	StateRefined
	// StateUnrefined is terminal: the prior pose is kept.
	StateUnrefined
)

func (s RefineState) String() string {
	switch s {
	case StatePrior:
		return "prior"
	case StateQueryNeighbors:
		return "query_neighbors"
	case StateTryICP:
		return "try_icp"
	case StateRefined:
		return "refined"
	case StateUnrefined:
		return "unrefined"
	}
	return "unknown"
}

// NeighborSource answers approximate nearest neighbor queries against the map.
type NeighborSource interface {
	ApproxNearestNeighbors(ctx context.Context, query pc.PointCloud) (pc.PointCloud, bool, error)
}

// Outcome is the terminal state of one refinement. Pose is always usable.
type Outcome struct {
	Pose    spatialmath.Pose
	Refined bool
	State   RefineState
	// Transformed is the scan placed in the map frame with the prior pose.
	Transformed pc.PointCloud
	// Neighbors are the map points matched to Transformed; empty when the map was empty.
	Neighbors pc.PointCloud
	// Result is set when registration ran to completion.
	Result *Result
	// Reason explains why the prior was kept, when registration failed.
	Reason error
}

// Refiner corrects prior poses by registering scans against the map.
type Refiner struct {
	neighbors NeighborSource
	estimator Estimator
	mapFrame  string
	logger    logging.Logger
}

// NewRefiner returns a Refiner querying neighbors and registering with estimator.
func NewRefiner(neighbors NeighborSource, estimator Estimator, mapFrame string, logger logging.Logger) *Refiner {
	return &Refiner{
		neighbors: neighbors,
		estimator: estimator,
		mapFrame:  mapFrame,
		logger:    logger,
	}
}

// Refine places cloud, expressed in the robot frame, in the map with prior and tries to correct the
// pose by registering against nearby map points. Any registration problem falls back to the prior.
// Only a cancelled context yields an error.
func (r *Refiner) Refine(ctx context.Context, cloud pc.PointCloud, prior spatialmath.Pose) (Outcome, error) {
	ctx, span := trace.StartSpan(ctx, "registration::Refine")
	defer span.End()

	out := Outcome{Pose: prior, State: StatePrior}
	for {
		switch out.State {
		case StatePrior:
			transformed, err := pc.ApplyPose(ctx, cloud, prior, r.mapFrame)
			if err != nil {
				return out, err
			}
			out.Transformed = transformed
			out.Neighbors = pc.NewEmpty(r.mapFrame)
			out.State = StateQueryNeighbors

		case StateQueryNeighbors:
			neighbors, found, err := r.neighbors.ApproxNearestNeighbors(ctx, out.Transformed)
			switch {
			case err != nil && ctx.Err() != nil:
				return out, ctx.Err()
			case err != nil:
				out.Reason = errors.Wrap(err, "querying map neighbors")
				out.State = StateUnrefined
			case !found:
				out.State = StateUnrefined
			default:
				out.Neighbors = neighbors
				out.State = StateTryICP
			}

		case StateTryICP:
			res, err := r.estimator.EstimateTransform(ctx, out.Transformed, out.Neighbors)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				out.Reason = err
				out.State = StateUnrefined
				continue
			}
			out.Result = &res
			if !res.Converged {
				out.Reason = errors.Errorf("registration fitness %.4f above threshold", res.Fitness)
				out.State = StateUnrefined
				continue
			}
			out.Pose = spatialmath.Compose(res.Delta, prior)
			out.State = StateRefined

		case StateRefined:
			out.Refined = true
			return out, nil

		case StateUnrefined:
			out.Pose = prior
			out.Refined = false
			if out.Reason != nil {
				r.logger.Debugw("keeping prior pose", "reason", out.Reason)
			}
			return out, nil

		default:
			return out, errors.Errorf("unknown refine state %d", out.State)
		}
	}
}
