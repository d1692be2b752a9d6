// Package source feeds scan increments stored as point cloud files to the mapper.
package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/icpslam/logging"
	pc "go.viam.com/icpslam/pointcloud"
)

// Handler receives one increment loaded from name.
type Handler func(ctx context.Context, name string, cloud pc.PointCloud) error

// IsCloudFile reports whether fn has an extension pointcloud.NewFromFile can read.
func IsCloudFile(fn string) bool {
	if strings.HasPrefix(filepath.Base(fn), ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(fn)) {
	case ".pcd", ".las":
		return true
	}
	return false
}

// ListCloudFiles returns the cloud files directly inside dir, sorted by name.
func ListCloudFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %q", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsCloudFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// LoadIncrement reads fn as a scan in frameID, stamped with the file modification time.
func LoadIncrement(fn, frameID string, logger logging.Logger) (pc.PointCloud, error) {
	info, err := os.Stat(fn)
	if err != nil {
		return nil, err
	}
	cloud, err := pc.NewFromFile(fn, frameID, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q", fn)
	}
	return pc.New(pc.Header{FrameID: frameID, Stamp: info.ModTime()}, cloud.Points()), nil
}

// Replay loads every cloud file of dir in name order and hands it to handle. Unreadable files are
// logged and skipped. It returns how many increments were handled, stopping early on a handler
// error or when ctx is done.
func Replay(ctx context.Context, dir, frameID string, handle Handler, logger logging.Logger) (int, error) {
	files, err := ListCloudFiles(dir)
	if err != nil {
		return 0, err
	}
	logger.Infow("replaying increments", "dir", dir, "files", len(files))

	handled := 0
	for _, fn := range files {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		cloud, err := LoadIncrement(fn, frameID, logger)
		if err != nil {
			logger.Warnw("skipping unreadable increment", "file", fn, "error", err)
			continue
		}
		if err := handle(ctx, fn, cloud); err != nil {
			return handled, errors.Wrapf(err, "handling %q", fn)
		}
		handled++
	}
	return handled, nil
}
