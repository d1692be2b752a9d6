// Package mapping runs the incremental mapping pipeline: queued scan increments are placed in the
// map frame, registered against the accumulated map, fused into it and published.
package mapping

import (
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/registration"
	"go.viam.com/icpslam/spatialmath"
)

// Defaults applied to unset configuration fields.
const (
	DefaultOctreeResolution   = 0.3
	DefaultMaxIncrementsQueue = 30
	DefaultICPFitnessThresh   = 0.1
	DefaultICPMaxCorrDist     = 1.0
	DefaultICPEpsilon         = 1e-6
	DefaultICPMaxIters        = 10

	DefaultLaserFrame = "laser"
	DefaultRobotFrame = "base_link"
	DefaultOdomFrame  = "odom"
	DefaultMapFrame   = "map"

	DefaultMapCloudTopic       = "map_cloud"
	DefaultIncrementCloudTopic = "increment_cloud"
	DefaultNNCloudTopic        = "nn_cloud"
	DefaultRefinedPathTopic    = "refined_path"
)

// PoseConfig is a pose given as a translation in meters and roll, pitch, yaw in radians.
type PoseConfig struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Pose converts the config into a spatialmath.Pose.
func (pc *PoseConfig) Pose() spatialmath.Pose {
	if pc == nil {
		return spatialmath.NewZeroPose()
	}
	return spatialmath.NewPose(
		r3.Vector{X: pc.X, Y: pc.Y, Z: pc.Z},
		&spatialmath.EulerAngles{Roll: pc.Roll, Pitch: pc.Pitch, Yaw: pc.Yaw},
	)
}

// Config describes how to configure the mapper. Zero valued fields take their defaults.
type Config struct {
	OctreeResolution   float64 `json:"octree_resolution"`
	MaxIncrementsQueue int     `json:"max_increments_queue"`
	ICPFitnessThresh   float64 `json:"icp_fitness_thresh"`
	ICPMaxCorrDist     float64 `json:"icp_max_corr_dist"`
	ICPEpsilon         float64 `json:"icp_epsilon"`
	ICPMaxIters        int     `json:"icp_max_iters"`
	ICPVoxelLeafSize   float64 `json:"icp_voxel_leaf_size"`
	MaxMapPoints       int     `json:"max_map_points"`

	LaserFrame string `json:"laser_frame"`
	RobotFrame string `json:"robot_frame"`
	OdomFrame  string `json:"odom_frame"`
	MapFrame   string `json:"map_frame"`

	MapCloudTopic       string `json:"map_cloud_topic"`
	IncrementCloudTopic string `json:"increment_cloud_topic"`
	NNCloudTopic        string `json:"nn_cloud_topic"`
	RefinedPathTopic    string `json:"refined_path_topic"`

	VerbosityLevel int `json:"verbosity_level"`

	// SensorOffset is the pose of the laser in the robot frame.
	SensorOffset *PoseConfig `json:"sensor_offset,omitempty"`
}

// NewConfigFromAttributes decodes an attribute map keyed by the json field names, fills defaults
// and validates the result. Unknown keys are an error.
func NewConfigFromAttributes(attrs map[string]interface{}) (*Config, error) {
	var conf Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &conf,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "decoding mapper config")
	}
	conf.ApplyDefaults()
	if err := conf.Validate("mapper"); err != nil {
		return nil, err
	}
	return &conf, nil
}

// ReadConfigFile loads a JSON attribute file. An empty path yields the default config.
func ReadConfigFile(path string) (*Config, error) {
	attrs := map[string]interface{}{}
	if path != "" {
		//nolint:gosec
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %q", path)
		}
		if err := json.Unmarshal(data, &attrs); err != nil {
			return nil, errors.Wrapf(err, "parsing config %q", path)
		}
	}
	return NewConfigFromAttributes(attrs)
}

// copy returns a deep copy of config.
func (config *Config) copy() *Config {
	out := *config
	if config.SensorOffset != nil {
		offset := *config.SensorOffset
		out.SensorOffset = &offset
	}
	return &out
}

// ApplyDefaults fills every zero valued field with its default.
func (config *Config) ApplyDefaults() {
	setFloat := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setString := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	setFloat(&config.OctreeResolution, DefaultOctreeResolution)
	setInt(&config.MaxIncrementsQueue, DefaultMaxIncrementsQueue)
	setFloat(&config.ICPFitnessThresh, DefaultICPFitnessThresh)
	setFloat(&config.ICPMaxCorrDist, DefaultICPMaxCorrDist)
	setFloat(&config.ICPEpsilon, DefaultICPEpsilon)
	setInt(&config.ICPMaxIters, DefaultICPMaxIters)
	setString(&config.LaserFrame, DefaultLaserFrame)
	setString(&config.RobotFrame, DefaultRobotFrame)
	setString(&config.OdomFrame, DefaultOdomFrame)
	setString(&config.MapFrame, DefaultMapFrame)
	setString(&config.MapCloudTopic, DefaultMapCloudTopic)
	setString(&config.IncrementCloudTopic, DefaultIncrementCloudTopic)
	setString(&config.NNCloudTopic, DefaultNNCloudTopic)
	setString(&config.RefinedPathTopic, DefaultRefinedPathTopic)
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) error {
	if config.OctreeResolution <= 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("octree_resolution must be positive, got %v", config.OctreeResolution))
	}
	if config.MaxIncrementsQueue < 1 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("max_increments_queue must be at least 1, got %d", config.MaxIncrementsQueue))
	}
	if config.MaxMapPoints < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("max_map_points cannot be negative, got %d", config.MaxMapPoints))
	}
	if err := config.ICPConfig().Validate(); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	for field, value := range map[string]string{
		"laser_frame": config.LaserFrame,
		"robot_frame": config.RobotFrame,
		"odom_frame":  config.OdomFrame,
		"map_frame":   config.MapFrame,
	} {
		if value == "" {
			return goutils.NewConfigValidationFieldRequiredError(path, field)
		}
	}
	if config.MapFrame == config.LaserFrame || config.MapFrame == config.RobotFrame {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("map_frame %q must differ from the laser and robot frames", config.MapFrame))
	}
	return nil
}

// ICPConfig returns the registration tuning described by the config.
func (config *Config) ICPConfig() registration.ICPConfig {
	return registration.ICPConfig{
		MaxCorrespondenceDistance: config.ICPMaxCorrDist,
		Epsilon:                   config.ICPEpsilon,
		MaxIterations:             config.ICPMaxIters,
		FitnessThreshold:          config.ICPFitnessThresh,
		VoxelLeafSize:             config.ICPVoxelLeafSize,
	}
}

// SensorPose returns the pose of the laser in the robot frame.
func (config *Config) SensorPose() spatialmath.Pose {
	return config.SensorOffset.Pose()
}

// LogLevel maps verbosity_level onto a logger level.
func (config *Config) LogLevel() logging.Level {
	return logging.LevelFromVerbosity(config.VerbosityLevel)
}
