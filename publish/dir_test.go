package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.viam.com/test"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/mapping"
	"go.viam.com/icpslam/mapstore"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/spatialmath"
)

var testTopics = Topics{
	MapCloud:       "map_cloud",
	IncrementCloud: "increment_cloud",
	NNCloud:        "nn_cloud",
	RefinedPath:    "refined_path",
}

func testSnapshot() mapping.Snapshot {
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mapCloud := pc.New(pc.Header{FrameID: "map"}, []r3.Vector{{X: 1}, {Y: 2}, {Z: 3}})
	return mapping.Snapshot{
		SessionID: uuid.New(),
		Stamp:     stamp,
		Pose:      spatialmath.NewPoseFromPoint(r3.Vector{X: 0.5}),
		Refined:   true,
		Map:       mapCloud,
		Increment: pc.New(pc.Header{FrameID: "map", Stamp: stamp}, []r3.Vector{{X: 1}}),
		Neighbors: pc.New(pc.Header{FrameID: "map", Stamp: stamp}, []r3.Vector{{X: 1}, {Y: 2}}),
		Path: []mapstore.StampedPose{
			{Stamp: stamp.Add(-time.Second), Pose: spatialmath.NewZeroPose()},
			{Stamp: stamp, Pose: spatialmath.NewPose(r3.Vector{X: 0.5}, &spatialmath.EulerAngles{Yaw: 0.25})},
		},
	}
}

func readCloud(t *testing.T, fn string) pc.PointCloud {
	t.Helper()
	//nolint:gosec
	f, err := os.Open(fn)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	cloud, err := pc.ReadPCD(f, "map")
	test.That(t, err, test.ShouldBeNil)
	return cloud
}

func TestNewDirPublisherValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewDirPublisher("", testTopics, logger)
	test.That(t, err, test.ShouldNotBeNil)

	bad := testTopics
	bad.NNCloud = "../escape"
	_, err = NewDirPublisher(t.TempDir(), bad, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsafe path join")

	bad = testTopics
	bad.RefinedPath = ""
	_, err = NewDirPublisher(t.TempDir(), bad, logger)
	test.That(t, err, test.ShouldNotBeNil)

	conf, err := mapping.NewConfigFromAttributes(map[string]interface{}{"map_cloud_topic": "accumulated"})
	test.That(t, err, test.ShouldBeNil)
	topics := TopicsFromConfig(*conf)
	test.That(t, topics.MapCloud, test.ShouldEqual, "accumulated")
	test.That(t, topics.RefinedPath, test.ShouldEqual, "refined_path")
}

func TestDirPublisherWritesTopics(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	p, err := NewDirPublisher(dir, testTopics, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Dir(), test.ShouldEqual, dir)

	snapshot := testSnapshot()
	test.That(t, p.Publish(context.Background(), snapshot), test.ShouldBeNil)

	mapCloud := readCloud(t, filepath.Join(dir, "map_cloud.pcd"))
	test.That(t, mapCloud.Size(), test.ShouldEqual, 3)
	test.That(t, mapCloud.At(2), test.ShouldResemble, r3.Vector{Z: 3})
	test.That(t, readCloud(t, filepath.Join(dir, "increment_cloud.pcd")).Size(), test.ShouldEqual, 1)
	test.That(t, readCloud(t, filepath.Join(dir, "nn_cloud.pcd")).Size(), test.ShouldEqual, 2)

	path, err := ReadPathFile(filepath.Join(dir, "refined_path.json"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path.SessionID, test.ShouldEqual, snapshot.SessionID.String())
	test.That(t, path.FrameID, test.ShouldEqual, "map")
	test.That(t, path.Refined, test.ShouldBeTrue)
	test.That(t, path.Stamp.Equal(snapshot.Stamp), test.ShouldBeTrue)
	test.That(t, path.Poses, test.ShouldHaveLength, 2)
	test.That(t, path.Poses[1].X, test.ShouldAlmostEqual, 0.5)
	test.That(t, path.Poses[1].Yaw, test.ShouldAlmostEqual, 0.25)
	test.That(t, path.Poses[0].Stamp.Equal(snapshot.Stamp.Add(-time.Second)), test.ShouldBeTrue)

	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, entries, test.ShouldHaveLength, 4)
}

func TestDirPublisherOverwrites(t *testing.T) {
	dir := t.TempDir()
	p, err := NewDirPublisher(dir, testTopics, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	p.SetPCDType(pc.PCDAscii)

	snapshot := testSnapshot()
	test.That(t, p.Publish(context.Background(), snapshot), test.ShouldBeNil)

	snapshot.Map = pc.New(pc.Header{FrameID: "map"}, []r3.Vector{{X: 7}})
	snapshot.Neighbors = nil
	snapshot.Path = snapshot.Path[:1]
	test.That(t, p.Publish(context.Background(), snapshot), test.ShouldBeNil)

	mapCloud := readCloud(t, filepath.Join(dir, "map_cloud.pcd"))
	test.That(t, mapCloud.Size(), test.ShouldEqual, 1)
	test.That(t, mapCloud.At(0).X, test.ShouldEqual, 7.0)

	path, err := ReadPathFile(filepath.Join(dir, "refined_path.json"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path.Poses, test.ShouldHaveLength, 1)
}

func TestDirPublisherAsMapperPublisher(t *testing.T) {
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)
	conf, err := mapping.NewConfigFromAttributes(map[string]interface{}{})
	test.That(t, err, test.ShouldBeNil)
	p, err := NewDirPublisher(dir, TopicsFromConfig(*conf), logger)
	test.That(t, err, test.ShouldBeNil)

	m, err := mapping.NewMapper(conf, mapping.Options{Publisher: p}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, m.Close(), test.ShouldBeNil) }()

	m.OnIncrement(pc.New(pc.Header{FrameID: "laser", Stamp: time.Unix(10, 0)}, []r3.Vector{{X: 0.1}, {X: 2.1}}))
	reports, err := m.ProcessPending(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reports, test.ShouldHaveLength, 1)
	test.That(t, reports[0].State, test.ShouldEqual, mapping.StatePublished)

	test.That(t, readCloud(t, filepath.Join(dir, "map_cloud.pcd")).Size(), test.ShouldEqual, 2)
	path, err := ReadPathFile(filepath.Join(dir, "refined_path.json"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path.SessionID, test.ShouldEqual, m.Store().SessionID().String())
	test.That(t, path.Poses, test.ShouldHaveLength, 1)
}

func TestReadPathFileErrors(t *testing.T) {
	_, err := ReadPathFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	fn := filepath.Join(t.TempDir(), "broken.json")
	test.That(t, os.WriteFile(fn, []byte("{"), 0o600), test.ShouldBeNil)
	_, err = ReadPathFile(fn)
	test.That(t, err, test.ShouldNotBeNil)
}
