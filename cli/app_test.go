package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/scenestore/pointcloud"
	"go.viam.com/scenestore/testutils"
)

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"scenestore"}, args...))
	return out.String(), errOut.String(), err
}

func writeCloud(t *testing.T, fn string) {
	t.Helper()
	f, err := os.Create(fn)
	test.That(t, err, test.ShouldBeNil)
	cloud := &pointcloud.PointCloud{
		Positions:   []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: -4, Y: 0.5, Z: 60}},
		Intensities: []float64{7, 9},
	}
	test.That(t, pointcloud.WritePCD(cloud, f, pointcloud.PCDBinary), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	testutils.WriteFile(t, dir, "a.txt", []byte("1 2 3\n"))
	testutils.WriteFile(t, dir, "seq/b.txt", []byte("4 5 6\n"))

	out, _, err := runApp(t, "ls", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "a.txt\n")
	test.That(t, out, test.ShouldContainSubstring, "seq\n")

	out, _, err = runApp(t, "ls", "--long", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "NAME")
	test.That(t, out, test.ShouldContainSubstring, "6B")
	test.That(t, out, test.ShouldContainSubstring, "dir")

	_, _, err = runApp(t, "ls")
	test.That(t, err, test.ShouldNotBeNil)

	nested := filepath.Join(dir, "out", "x", "y")
	_, _, err = runApp(t, "mkdir", nested)
	test.That(t, err, test.ShouldBeNil)
	info, err := os.Stat(nested)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.IsDir(), test.ShouldBeTrue)

	_, _, err = runApp(t, "cp", filepath.Join(dir, "a.txt"), filepath.Join(nested, "a.txt"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, testutils.ReadFile(t, filepath.Join(nested, "a.txt")), test.ShouldResemble, []byte("1 2 3\n"))

	_, errOut, err := runApp(t, "cp", filepath.Join(dir, "nope.txt"), filepath.Join(nested, "nope.txt"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, errOut, test.ShouldContainSubstring, "copy file error")
}

func TestCloudCommands(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.pcd")
	writeCloud(t, src)

	out, _, err := runApp(t, "info", src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "pcd")
	test.That(t, out, test.ShouldContainSubstring, "intensity")
	test.That(t, out, test.ShouldContainSubstring, "Z:[3.00, 60.00]")

	out, _, err = runApp(t, "info", "--crop", src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Z:[3.00, 3.00]")

	txt := filepath.Join(dir, "scan.txt")
	out, _, err = runApp(t, "convert", src, txt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "wrote 2 points")
	test.That(t, string(testutils.ReadFile(t, txt)), test.ShouldEqual,
		"1.0000\t2.0000\t3.0000\t7.0000\t\n-4.0000\t0.5000\t60.0000\t9.0000\t\n")

	ascii := filepath.Join(dir, "scan_ascii.pcd")
	_, _, err = runApp(t, "convert", "--pcd-type", "ascii", src, ascii)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(testutils.ReadFile(t, ascii)), test.ShouldContainSubstring, "DATA ascii")

	las := filepath.Join(dir, "scan.las")
	_, _, err = runApp(t, "convert", src, las)
	test.That(t, err, test.ShouldBeNil)
	out, _, err = runApp(t, "info", las)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "las")

	_, _, err = runApp(t, "convert", src, filepath.Join(dir, "scan.ply"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot write")

	_, _, err = runApp(t, "convert", "--pcd-type", "zip", src, ascii)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTrajectoryCommands(t *testing.T) {
	dir := t.TempDir()
	var poses strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&poses, "1 0 0 %d 0 1 0 %d 0 0 1 0\n", i, 2*i)
	}
	testutils.WriteFile(t, dir, "poses.txt", []byte(poses.String()))

	out, _, err := runApp(t, "poses", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "X:29.000, Y:58.000, Z:0.000")
	test.That(t, out, test.ShouldContainSubstring, "W:1.0000")

	out, _, err = runApp(t, "smooth", "--segment-size", "8", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "smoothed 30 poses")
	test.That(t, out, test.ShouldContainSubstring, "residual mean 0.0000")
	lines := strings.Split(strings.TrimRight(string(testutils.ReadFile(t, filepath.Join(dir, smoothedPosesFile))), "\n"), "\n")
	test.That(t, len(lines), test.ShouldEqual, 30)
	test.That(t, lines[29], test.ShouldEqual, "29.0000\t58.0000\t0.0000\t")

	custom := filepath.Join(dir, "with_rotation.txt")
	_, _, err = runApp(t, "smooth", "--orientations", "--keep-original", "--out", custom, dir)
	test.That(t, err, test.ShouldBeNil)
	lines = strings.Split(strings.TrimRight(string(testutils.ReadFile(t, custom)), "\n"), "\n")
	test.That(t, lines[0], test.ShouldEqual, "0.0000\t0.0000\t0.0000\t1.0000\t0.0000\t0.0000\t0.0000\t")

	_, _, err = runApp(t, "smooth", filepath.Join(dir, "missing"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRemoteFlags(t *testing.T) {
	_, _, err := runApp(t, "exec", "true")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "exec needs --remote")

	_, _, err = runApp(t, "--remote", "ls", "/")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "--remote needs a host")

	_, _, err = runApp(t, "--remote", "--host", "127.0.0.1", "--user", "nobody", "ls", "/")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no ssh auth configured")
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "scenestore.log")
	conf := testutils.WriteFile(t, dir, "config.json", []byte(fmt.Sprintf(
		`{"dataset": {"pcd_output": "ascii"}, "log": {"level": "debug", "file": %q}}`, logFile)))
	src := filepath.Join(dir, "scan.pcd")
	writeCloud(t, src)

	dst := filepath.Join(dir, "copy.pcd")
	_, errOut, err := runApp(t, "--config", conf, "convert", src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(testutils.ReadFile(t, dst)), test.ShouldContainSubstring, "DATA ascii")
	test.That(t, errOut, test.ShouldContainSubstring, "wrote file")
	test.That(t, string(testutils.ReadFile(t, logFile)), test.ShouldContainSubstring, "wrote file")

	_, _, err = runApp(t, "--config", filepath.Join(dir, "missing.json"), "ls", dir)
	test.That(t, err, test.ShouldNotBeNil)
}
