package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"go.viam.com/icpslam/mapstore"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/spatialmath"
)

// PoseQuery asks for the pose of the robot frame in the map frame at a given time, going through the
// odometry frame.
type PoseQuery struct {
	RobotFrame string
	OdomFrame  string
	MapFrame   string
	Stamp      time.Time
}

// PoseSource provides the prior pose of the robot for an increment.
type PoseSource interface {
	PriorPose(ctx context.Context, query PoseQuery) (spatialmath.Pose, error)
}

// LookupError is returned when the prior pose of an increment cannot be found. The increment is
// skipped.
type LookupError struct {
	Query PoseQuery
	Err   error
}

// NewLookupError wraps err as a failed lookup of query.
func NewLookupError(query PoseQuery, err error) *LookupError {
	return &LookupError{Query: query, Err: err}
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("looking up %s in %s via %s at %s: %v",
		e.Query.RobotFrame, e.Query.MapFrame, e.Query.OdomFrame, e.Query.Stamp.Format(time.RFC3339Nano), e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// FixedPoseSource always answers with the same pose.
type FixedPoseSource struct {
	Pose spatialmath.Pose
}

// PriorPose returns the fixed pose.
func (s *FixedPoseSource) PriorPose(ctx context.Context, query PoseQuery) (spatialmath.Pose, error) {
	if s.Pose == nil {
		return spatialmath.NewZeroPose(), nil
	}
	return s.Pose, nil
}

// LastPoseSource answers with the most recent refined pose of the map, or the origin before the
// first increment. It suits replaying scans with no odometry.
type LastPoseSource struct {
	Store *mapstore.Store
}

// PriorPose returns the latest refined pose.
func (s *LastPoseSource) PriorPose(ctx context.Context, query PoseQuery) (spatialmath.Pose, error) {
	if latest, ok := s.Store.LatestPose(); ok {
		return latest.Pose, nil
	}
	return spatialmath.NewZeroPose(), nil
}

// Snapshot is what gets published after each increment.
type Snapshot struct {
	SessionID uuid.UUID
	Stamp     time.Time
	// Pose is the pose used to fuse the increment.
	Pose      spatialmath.Pose
	Refined   bool
	Map       pc.PointCloud
	Increment pc.PointCloud
	Neighbors pc.PointCloud
	Path      []mapstore.StampedPose
}

// Publisher receives a snapshot after every processed increment. Errors are reported and never stop
// the pipeline.
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot) error
}

// PublisherFunc adapts a function into a Publisher.
type PublisherFunc func(ctx context.Context, snapshot Snapshot) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, snapshot Snapshot) error {
	return f(ctx, snapshot)
}
