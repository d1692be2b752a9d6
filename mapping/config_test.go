package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/spatialmath"
)

func TestConfigDefaults(t *testing.T) {
	conf, err := NewConfigFromAttributes(map[string]interface{}{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.OctreeResolution, test.ShouldEqual, 0.3)
	test.That(t, conf.MaxIncrementsQueue, test.ShouldEqual, 30)
	test.That(t, conf.ICPFitnessThresh, test.ShouldEqual, 0.1)
	test.That(t, conf.ICPMaxCorrDist, test.ShouldEqual, 1.0)
	test.That(t, conf.ICPEpsilon, test.ShouldEqual, 1e-6)
	test.That(t, conf.ICPMaxIters, test.ShouldEqual, 10)
	test.That(t, conf.LaserFrame, test.ShouldEqual, "laser")
	test.That(t, conf.RobotFrame, test.ShouldEqual, "base_link")
	test.That(t, conf.OdomFrame, test.ShouldEqual, "odom")
	test.That(t, conf.MapFrame, test.ShouldEqual, "map")
	test.That(t, conf.MapCloudTopic, test.ShouldEqual, "map_cloud")
	test.That(t, conf.IncrementCloudTopic, test.ShouldEqual, "increment_cloud")
	test.That(t, conf.NNCloudTopic, test.ShouldEqual, "nn_cloud")
	test.That(t, conf.RefinedPathTopic, test.ShouldEqual, "refined_path")
	test.That(t, conf.LogLevel(), test.ShouldEqual, logging.WARN)
	test.That(t, spatialmath.PoseAlmostEqual(conf.SensorPose(), spatialmath.NewZeroPose()), test.ShouldBeTrue)

	icp := conf.ICPConfig()
	test.That(t, icp.MaxIterations, test.ShouldEqual, 10)
	test.That(t, icp.MaxCorrespondenceDistance, test.ShouldEqual, 1.0)
}

func TestConfigAttributes(t *testing.T) {
	conf, err := NewConfigFromAttributes(map[string]interface{}{
		"octree_resolution":    0.05,
		"max_increments_queue": 5,
		"icp_max_iters":        25,
		"map_frame":            "world",
		"verbosity_level":      2,
		"sensor_offset": map[string]interface{}{
			"z":   0.4,
			"yaw": 0.5,
		},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.OctreeResolution, test.ShouldEqual, 0.05)
	test.That(t, conf.MaxIncrementsQueue, test.ShouldEqual, 5)
	test.That(t, conf.ICPMaxIters, test.ShouldEqual, 25)
	test.That(t, conf.MapFrame, test.ShouldEqual, "world")
	test.That(t, conf.LaserFrame, test.ShouldEqual, "laser")
	test.That(t, conf.LogLevel(), test.ShouldEqual, logging.DEBUG)

	expected := spatialmath.NewPose(r3.Vector{Z: 0.4}, &spatialmath.EulerAngles{Yaw: 0.5})
	test.That(t, spatialmath.PoseAlmostEqual(conf.SensorPose(), expected), test.ShouldBeTrue)
}

func TestConfigInvalid(t *testing.T) {
	for _, tc := range []struct {
		name  string
		attrs map[string]interface{}
		err   string
	}{
		{"negative resolution", map[string]interface{}{"octree_resolution": -1.0}, "octree_resolution"},
		{"negative queue", map[string]interface{}{"max_increments_queue": -3}, "max_increments_queue"},
		{"negative point budget", map[string]interface{}{"max_map_points": -1}, "max_map_points"},
		{"negative correspondence distance", map[string]interface{}{"icp_max_corr_dist": -0.5}, "correspondence"},
		{"map frame equals laser frame", map[string]interface{}{"map_frame": "laser"}, "map_frame"},
		{"unknown key", map[string]interface{}{"octree_res": 0.1}, "octree_res"},
		{"wrong type", map[string]interface{}{"octree_resolution": "fine"}, "octree_resolution"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfigFromAttributes(tc.attrs)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}
}

func TestReadConfigFile(t *testing.T) {
	conf, err := ReadConfigFile("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.OctreeResolution, test.ShouldEqual, DefaultOctreeResolution)

	dir := t.TempDir()
	fn := filepath.Join(dir, "mapper.json")
	test.That(t, os.WriteFile(fn, []byte(`{"octree_resolution": 0.1, "icp_fitness_thresh": 0.5}`), 0o600), test.ShouldBeNil)
	conf, err = ReadConfigFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.OctreeResolution, test.ShouldEqual, 0.1)
	test.That(t, conf.ICPFitnessThresh, test.ShouldEqual, 0.5)

	test.That(t, os.WriteFile(fn, []byte(`{"octree_resolution":`), 0o600), test.ShouldBeNil)
	_, err = ReadConfigFile(fn)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "parsing config")

	_, err = ReadConfigFile(filepath.Join(dir, "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
