package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	pc "go.viam.com/icpslam/pointcloud"
	"go.viam.com/icpslam/publish"
	"go.viam.com/icpslam/spatialmath"
)

func writeLatticeScans(t *testing.T, dir string) int {
	t.Helper()
	var pts []r3.Vector
	for i := 0; i < 6; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 3; k++ {
				pts = append(pts, r3.Vector{X: float64(i)*1.2 + 0.15, Y: float64(j)*1.2 + 0.15, Z: float64(k)*1.2 + 0.15})
			}
		}
	}
	first := pc.New(pc.Header{FrameID: "laser"}, pts)
	second, err := pc.ApplyPose(context.Background(), first, spatialmath.NewPoseFromPoint(r3.Vector{X: -0.05}), "laser")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, pc.WriteToPCDFile(first, filepath.Join(dir, "scan_000.pcd")), test.ShouldBeNil)
	test.That(t, pc.WriteToPCDFile(second, filepath.Join(dir, "scan_001.pcd")), test.ShouldBeNil)
	return first.Size()
}

func TestRunAndInspect(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	logFile := filepath.Join(t.TempDir(), "icpslam.log")
	size := writeLatticeScans(t, input)

	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	err := app.RunContext(context.Background(), []string{
		"icpslam", "--log-file", logFile, "run", "--input", input, "--output", output,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "2 received, 2 processed, 0 dropped, 0 rejected")
	test.That(t, out.String(), test.ShouldContainSubstring, "1 refined, 1 unrefined, 0 skipped, 0 failed")
	test.That(t, out.String(), test.ShouldContainSubstring, "fitness: mean")

	path, err := publish.ReadPathFile(filepath.Join(output, "refined_path.json"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path.Poses, test.ShouldHaveLength, 2)
	test.That(t, path.Poses[1].X, test.ShouldAlmostEqual, 0.05, 1e-5)

	mapCloud, err := pc.NewFromFile(filepath.Join(output, "map_cloud.pcd"), "map", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mapCloud.Size(), test.ShouldEqual, size)

	_, err = os.Stat(logFile)
	test.That(t, err, test.ShouldBeNil)

	out.Reset()
	err = NewApp(&out, &errOut).RunContext(context.Background(), []string{"icpslam", "inspect", "--output", output})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "path: 2 poses")
	test.That(t, out.String(), test.ShouldContainSubstring, "map: 72 points")
	test.That(t, out.String(), test.ShouldContainSubstring, `in frame "map"`)
	test.That(t, out.String(), test.ShouldNotContainSubstring, "X:0.050")

	out.Reset()
	err = NewApp(&out, &errOut).RunContext(context.Background(), []string{"icpslam", "inspect", "--output", output, "--poses"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "Roll:")
	test.That(t, out.String(), test.ShouldContainSubstring, "X:0.050")
}

func TestRunRejectsBadConfig(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "mapper.json")
	test.That(t, os.WriteFile(conf, []byte(`{"octree_resolution": -2}`), 0o600), test.ShouldBeNil)

	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).RunContext(context.Background(), []string{
		"icpslam", "run", "--input", t.TempDir(), "--config", conf,
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "octree_resolution")
}

func TestRunMissingInput(t *testing.T) {
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).RunContext(context.Background(), []string{
		"icpslam", "run", "--input", filepath.Join(t.TempDir(), "missing"),
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "0 received")
}

func TestInspectMissingOutput(t *testing.T) {
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).RunContext(context.Background(), []string{
		"icpslam", "inspect", "--output", t.TempDir(),
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "reading refined path")
}

func TestRunNeedsASource(t *testing.T) {
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).RunContext(context.Background(), []string{"icpslam", "run"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--input or --bag")

	err = NewApp(&out, &errOut).RunContext(context.Background(), []string{
		"icpslam", "run", "--bag", "scans.bag", "--watch",
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--watch needs --input")
}
