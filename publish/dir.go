// Package publish writes mapper snapshots out of the process.
package publish

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/icpslam/logging"
	"go.viam.com/icpslam/mapping"
	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/utils"
)

// Topics name the files a DirPublisher writes, without extension.
type Topics struct {
	MapCloud       string
	IncrementCloud string
	NNCloud        string
	RefinedPath    string
}

// TopicsFromConfig takes the topic names of a mapper config.
func TopicsFromConfig(conf mapping.Config) Topics {
	return Topics{
		MapCloud:       conf.MapCloudTopic,
		IncrementCloud: conf.IncrementCloudTopic,
		NNCloud:        conf.NNCloudTopic,
		RefinedPath:    conf.RefinedPathTopic,
	}
}

// PathPose is one refined pose as written to the path file. Angles are in radians.
type PathPose struct {
	Stamp time.Time `json:"stamp"`
	X     float64   `json:"x"`
	Y     float64   `json:"y"`
	Z     float64   `json:"z"`
	Roll  float64   `json:"roll"`
	Pitch float64   `json:"pitch"`
	Yaw   float64   `json:"yaw"`
}

// PathFile is the content of the refined path file.
type PathFile struct {
	SessionID string     `json:"session_id"`
	FrameID   string     `json:"frame_id"`
	Stamp     time.Time  `json:"stamp"`
	Refined   bool       `json:"refined"`
	Poses     []PathPose `json:"poses"`
}

// DirPublisher replaces one file per topic in a directory on every snapshot: the map, the latest
// increment and its neighbors as binary PCD, and the refined path as JSON.
type DirPublisher struct {
	dir     string
	topics  Topics
	pcdType pc.PCDType
	logger  logging.Logger
}

// NewDirPublisher creates dir if needed and checks every topic maps to a file inside it.
func NewDirPublisher(dir string, topics Topics, logger logging.Logger) (*DirPublisher, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "creating output directory %q", dir)
	}
	p := &DirPublisher{dir: dir, topics: topics, pcdType: pc.PCDBinary, logger: logger}
	for _, name := range []string{topics.MapCloud, topics.IncrementCloud, topics.NNCloud, topics.RefinedPath} {
		if name == "" {
			return nil, errors.New("topic names cannot be empty")
		}
		if _, err := p.topicPath(name, ".pcd"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SetPCDType switches the encoding of the written clouds.
func (p *DirPublisher) SetPCDType(pcdType pc.PCDType) {
	p.pcdType = pcdType
}

// Dir returns the output directory.
func (p *DirPublisher) Dir() string {
	return p.dir
}

func (p *DirPublisher) topicPath(topic, ext string) (string, error) {
	return utils.SafeJoinDir(p.dir, topic+ext)
}

// Publish writes every topic of snapshot. All topics are attempted even when one fails.
func (p *DirPublisher) Publish(ctx context.Context, snapshot mapping.Snapshot) error {
	ctx, span := trace.StartSpan(ctx, "publish::DirPublisher::Publish")
	defer span.End()

	clouds := map[string]pc.PointCloud{
		p.topics.MapCloud:       snapshot.Map,
		p.topics.IncrementCloud: snapshot.Increment,
		p.topics.NNCloud:        snapshot.Neighbors,
	}
	fs := make([]utils.SimpleFunc, 0, len(clouds)+1)
	for topic, cloud := range clouds {
		if cloud == nil {
			continue
		}
		fs = append(fs, func(ctx context.Context) error {
			return p.writeCloud(topic, cloud)
		})
	}
	fs = append(fs, func(ctx context.Context) error {
		return p.writePath(snapshot)
	})

	elapsed, err := utils.RunInParallel(ctx, fs)
	if err != nil {
		return err
	}
	p.logger.Debugw("published snapshot", "dir", p.dir, "elapsed", elapsed)
	return nil
}

func (p *DirPublisher) writeCloud(topic string, cloud pc.PointCloud) error {
	fn, err := p.topicPath(topic, ".pcd")
	if err != nil {
		return err
	}
	return errors.Wrapf(utils.WriteFileAtomic(fn, func(w io.Writer) error {
		return pc.ToPCD(cloud, w, p.pcdType)
	}), "writing %s", topic)
}

func (p *DirPublisher) writePath(snapshot mapping.Snapshot) error {
	fn, err := p.topicPath(p.topics.RefinedPath, ".json")
	if err != nil {
		return err
	}
	out := PathFile{
		SessionID: snapshot.SessionID.String(),
		Stamp:     snapshot.Stamp,
		Refined:   snapshot.Refined,
		Poses:     make([]PathPose, 0, len(snapshot.Path)),
	}
	if snapshot.Map != nil {
		out.FrameID = snapshot.Map.Header().FrameID
	}
	for _, sp := range snapshot.Path {
		pt := sp.Pose.Point()
		ea := sp.Pose.Orientation().EulerAngles()
		out.Poses = append(out.Poses, PathPose{
			Stamp: sp.Stamp,
			X:     pt.X,
			Y:     pt.Y,
			Z:     pt.Z,
			Roll:  ea.Roll,
			Pitch: ea.Pitch,
			Yaw:   ea.Yaw,
		})
	}
	return errors.Wrapf(utils.WriteFileAtomic(fn, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}), "writing %s", p.topics.RefinedPath)
}

// ReadPathFile loads a refined path file written by a DirPublisher.
func ReadPathFile(fn string) (*PathFile, error) {
	//nolint:gosec
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	var out PathFile
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(err, "parsing path file %q", fn)
	}
	return &out, nil
}
