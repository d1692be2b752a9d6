// Package mapstore owns the accumulated map: the octree index over all fused points and the refined
// path of the sensor platform.
package mapstore

import (
	"context"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/octree"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/spatialmath"
	"go.viam.com/icpslam/utils"
)

// minQueryGroup is the smallest number of neighbor queries handed to one goroutine.
const minQueryGroup = 1024

// StampedPose is one entry of the refined path.
type StampedPose struct {
	Stamp time.Time
	Pose  spatialmath.Pose
}

// Store is the single long-lived map. Inserts and resets are exclusive; queries share a read lock.
type Store struct {
	frameID    string
	resolution float64
	maxPoints  int
	logger     logging.Logger

	mu        sync.RWMutex
	index     octree.Octree
	path      []StampedPose
	sessionID uuid.UUID
}

// New returns an empty map in frameID whose cells have the given edge length. When maxPoints is
// positive the map is thinned after each insertion batch that leaves it larger than maxPoints.
func New(frameID string, resolution float64, maxPoints int, logger logging.Logger) (*Store, error) {
	if maxPoints < 0 {
		return nil, errors.Errorf("max map points cannot be negative, got %d", maxPoints)
	}
	index, err := octree.New(resolution, logger)
	if err != nil {
		return nil, err
	}
	return &Store{
		frameID:    frameID,
		resolution: resolution,
		maxPoints:  maxPoints,
		logger:     logger,
		index:      index,
		sessionID:  uuid.New(),
	}, nil
}

// FrameID returns the frame all stored points are expressed in.
func (s *Store) FrameID() string {
	return s.frameID
}

// Resolution returns the fixed cell edge length.
func (s *Store) Resolution() float64 {
	return s.resolution
}

// SessionID identifies the map between resets.
func (s *Store) SessionID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Size returns the number of stored points.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Size()
}

// Reset discards every point and the refined path and starts a new session at the same resolution.
func (s *Store) Reset() error {
	index, err := octree.New(s.resolution, s.logger)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = index
	s.path = nil
	s.sessionID = uuid.New()
	s.logger.Infow("map reset", "session", s.sessionID)
	return nil
}

// AddPoints inserts every finite point of cloud whose cell is still empty and returns how many
// points changed the index. Non-finite points are skipped. The batch is checked before the index is
// touched, so on error the map is unchanged. The cloud must already be expressed in the map frame.
func (s *Store) AddPoints(ctx context.Context, cloud pc.PointCloud) (int, error) {
	_, span := trace.StartSpan(ctx, "mapstore::AddPoints")
	defer span.End()

	if frame := cloud.Header().FrameID; frame != "" && frame != s.frameID {
		return 0, errors.Errorf("cannot add points in frame %q to a map in frame %q", frame, s.frameID)
	}
	cloud, nonFinite := pc.DropNonFinite(cloud)
	if nonFinite > 0 {
		s.logger.Debugw("skipping non-finite points", "count", nonFinite)
	}
	points := cloud.Points()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Fits(points); err != nil {
		return 0, errors.Wrap(err, "inserting into map")
	}
	inserted := 0
	for _, p := range points {
		added, err := s.index.Set(p)
		if err != nil {
			return inserted, errors.Wrap(err, "inserting into map")
		}
		if added {
			inserted++
		}
	}

	if s.maxPoints > 0 && s.index.Size() > s.maxPoints {
		removed := s.index.Reduce(s.maxPoints)
		s.logger.Debugw("map exceeded point budget", "max_map_points", s.maxPoints, "removed", removed)
	}
	return inserted, nil
}

// ApproxNearestNeighbors returns, for each query point in order, the stored point reached by
// descending the octree toward it. The bool is false when the map is empty.
func (s *Store) ApproxNearestNeighbors(ctx context.Context, query pc.PointCloud) (pc.PointCloud, bool, error) {
	ctx, span := trace.StartSpan(ctx, "mapstore::ApproxNearestNeighbors")
	defer span.End()

	header := pc.Header{FrameID: s.frameID, Stamp: query.Header().Stamp}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index.Size() == 0 || query.Size() == 0 {
		return pc.New(header, nil), false, nil
	}

	var groups [][]r3.Vector
	err := utils.GroupWorkParallel(
		ctx,
		query.Size(),
		minQueryGroup,
		func(numGroups int) { groups = make([][]r3.Vector, numGroups) },
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			found := make([]r3.Vector, 0, groupSize)
			return func(memberNum, workNum int) {
					if nn, ok := s.index.ApproxNearest(query.At(workNum)); ok {
						found = append(found, nn)
					}
				}, func() {
					groups[groupNum] = found
				}
		},
	)
	if err != nil {
		return nil, false, err
	}

	neighbors := make([]r3.Vector, 0, query.Size())
	for _, g := range groups {
		neighbors = append(neighbors, g...)
	}
	return pc.New(header, neighbors), len(neighbors) > 0, nil
}

// Cloud returns a snapshot of every stored point in the map frame.
func (s *Store) Cloud() pc.PointCloud {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := make([]r3.Vector, 0, s.index.Size())
	s.index.Iterate(func(p r3.Vector) bool {
		points = append(points, p)
		return true
	})
	return pc.New(pc.Header{FrameID: s.frameID}, points)
}

// AppendPose records the pose of a fully processed increment.
func (s *Store) AppendPose(stamp time.Time, pose spatialmath.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.path = append(s.path, StampedPose{Stamp: stamp, Pose: pose})
}

// Path returns a copy of the refined path.
func (s *Store) Path() []StampedPose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StampedPose, len(s.path))
	copy(out, s.path)
	return out
}

// LatestPose returns the last refined pose, if any.
func (s *Store) LatestPose() (StampedPose, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.path) == 0 {
		return StampedPose{}, false
	}
	return s.path[len(s.path)-1], true
}
