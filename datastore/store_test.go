package datastore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/nlpodyssey/gopickle/types"
	"go.viam.com/test"

	"go.viam.com/scenestore/config"
	"go.viam.com/scenestore/datastore"
	"go.viam.com/scenestore/logging"
	"go.viam.com/scenestore/pointcloud"
	"go.viam.com/scenestore/session"
	"go.viam.com/scenestore/spatialmath"
	"go.viam.com/scenestore/testutils"
)

const identityPose = "1 0 0 0 0 1 0 0 0 0 1 0\n"

// sceneCloud has two points inside the default region around the origin and two outside of it.
func sceneCloud() *pointcloud.PointCloud {
	return &pointcloud.PointCloud{
		Positions: []r3.Vector{
			{X: 1.5, Y: -2.25, Z: 0.5},
			{X: 100, Y: 0, Z: 0},
			{X: -3, Y: 4, Z: -1.75},
			{X: 0, Y: 0, Z: 12},
		},
		Colors: []pointcloud.Color{
			pointcloud.NewColorFromRGB255(255, 0, 0),
			pointcloud.NewColorFromRGB255(0, 255, 0),
			pointcloud.NewColorFromRGB255(0, 0, 255),
			pointcloud.NewColorFromRGB255(10, 20, 30),
		},
	}
}

func writeScene(t *testing.T, dir string) {
	t.Helper()
	store := datastore.NewLocal(logging.NewTestLogger(t))
	ctx := context.Background()
	test.That(t, store.WritePointCloud(ctx, filepath.Join(dir, "scene.pcd"), sceneCloud(), datastore.WriteModeTruncate), test.ShouldBeNil)
	testutils.WriteFile(t, dir, "track.txt", []byte("1 2 3 9\n4 5 6 9\n"))
	testutils.WriteFile(t, dir, "notes.md", []byte("# not a cloud\n"))
	testutils.WriteFile(t, dir, "broken.pcd", []byte("VERSION .7\nFIELDS x y\n"))
	testutils.WriteFile(t, dir, datastore.PosesFile, []byte(identityPose+identityPose))
	testutils.WriteFile(t, dir, "labels.pkl", []byte("\x80\x02]q\x00(K\x01K\x02e."))
	test.That(t, os.Mkdir(filepath.Join(dir, "velodyne"), 0o755), test.ShouldBeNil)
}

type storeCase struct {
	name  string
	open  func(t *testing.T, dir string, logger logging.Logger) *datastore.Store
	crops bool
}

var storeCases = []storeCase{
	{
		name: "local",
		open: func(t *testing.T, dir string, logger logging.Logger) *datastore.Store {
			return datastore.NewLocal(logger)
		},
		crops: true,
	},
	{
		name: "remote",
		open: func(t *testing.T, dir string, logger logging.Logger) *datastore.Store {
			return datastore.NewRemote(testutils.NewLoopbackSession(t, dir, logger), logger)
		},
	},
}

func positionsEqual(a, b []r3.Vector) bool {
	return cmp.Equal(a, b, cmpopts.EquateApprox(0, 1e-6), cmpopts.EquateEmpty())
}

func TestDirectories(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			writeScene(t, dir)
			store := tc.open(t, dir, logging.NewTestLogger(t))

			test.That(t, store.IsDirectory(ctx, dir), test.ShouldBeTrue)
			test.That(t, store.IsDirectory(ctx, filepath.Join(dir, "velodyne")), test.ShouldBeTrue)
			test.That(t, store.IsDirectory(ctx, filepath.Join(dir, "scene.pcd")), test.ShouldBeFalse)
			test.That(t, store.IsDirectory(ctx, filepath.Join(dir, "missing")), test.ShouldBeFalse)

			names, err := store.ListDirectory(ctx, dir)
			test.That(t, err, test.ShouldBeNil)
			sort.Strings(names)
			test.That(t, names, test.ShouldResemble, []string{
				"broken.pcd", "labels.pkl", "notes.md", "poses.txt", "scene.pcd", "track.txt", "velodyne",
			})

			_, err = store.ListDirectory(ctx, filepath.Join(dir, "missing"))
			test.That(t, errors.Is(err, datastore.ErrNotFound), test.ShouldBeTrue)

			nested := filepath.Join(dir, "out", "seq00", "labels")
			test.That(t, store.MakeDirectory(ctx, nested), test.ShouldBeNil)
			test.That(t, store.IsDirectory(ctx, nested), test.ShouldBeTrue)
			test.That(t, store.MakeDirectory(ctx, nested), test.ShouldBeNil)

			info, err := store.Stat(ctx, filepath.Join(dir, "track.txt"))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, info.Size(), test.ShouldEqual, 16)
			_, err = store.Stat(ctx, filepath.Join(dir, "missing"))
			test.That(t, errors.Is(err, datastore.ErrNotFound), test.ShouldBeTrue)
		})
	}
}

func TestCopyFile(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			writeScene(t, dir)
			logger, logs := logging.NewObservedTestLogger(t)
			store := tc.open(t, dir, logger)

			dst := filepath.Join(dir, "velodyne", "copy.txt")
			store.CopyFile(ctx, filepath.Join(dir, "track.txt"), dst)
			test.That(t, testutils.ReadFile(t, dst), test.ShouldResemble, []byte("1 2 3 9\n4 5 6 9\n"))
			test.That(t, logs.FilterMessageSnippet("copy file error").Len(), test.ShouldEqual, 0)

			// A failed copy is only logged.
			store.CopyFile(ctx, filepath.Join(dir, "missing.txt"), filepath.Join(dir, "other.txt"))
			test.That(t, logs.FilterMessageSnippet("copy file error").Len(), test.ShouldEqual, 1)
			_, err := os.Stat(filepath.Join(dir, "other.txt"))
			test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
		})
	}
}

func TestLoadPointCloud(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			writeScene(t, dir)
			logger, logs := logging.NewObservedTestLogger(t)
			store := tc.open(t, dir, logger)

			cloud := store.LoadPointCloud(ctx, filepath.Join(dir, "scene.pcd"), nil, nil)
			test.That(t, positionsEqual(cloud.Positions, sceneCloud().Positions), test.ShouldBeTrue)
			test.That(t, cloud.HasColor(), test.ShouldBeTrue)
			r, g, b := cloud.Colors[2].RGB255()
			test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{0, 0, 255})
			test.That(t, cloud.HasIntensity(), test.ShouldBeFalse)

			// Text rows replace the positions and drop every other attribute.
			same := store.LoadPointCloud(ctx, filepath.Join(dir, "track.txt"), cloud, nil)
			test.That(t, same, test.ShouldEqual, cloud)
			test.That(t, cloud.Positions, test.ShouldResemble, []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}})
			test.That(t, cloud.HasColor(), test.ShouldBeFalse)

			// Unknown extensions pass the cloud through.
			same = store.LoadPointCloud(ctx, filepath.Join(dir, "notes.md"), cloud, nil)
			test.That(t, same.Size(), test.ShouldEqual, 2)

			missing := store.LoadPointCloud(ctx, filepath.Join(dir, "missing.pcd"), nil, nil)
			test.That(t, missing.Size(), test.ShouldEqual, 0)
			same = store.LoadPointCloud(ctx, filepath.Join(dir, "missing.pcd"), cloud, nil)
			test.That(t, same.Size(), test.ShouldEqual, 2)
			if store.IsRemote() {
				test.That(t, logs.FilterMessageSnippet("load point cloud error").Len(), test.ShouldEqual, 2)
			}

			broken := store.LoadPointCloud(ctx, filepath.Join(dir, "broken.pcd"), nil, nil)
			test.That(t, broken.Size(), test.ShouldEqual, 0)
			test.That(t, logs.FilterMessageSnippet("cannot decode point cloud").Len(), test.ShouldEqual, 1)
		})
	}
}

// Only local loads of binary formats are cropped to the region of interest. Remote loads and
// text files are returned whole.
func TestLoadPointCloudRegionOfInterest(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			writeScene(t, dir)
			store := tc.open(t, dir, logging.NewTestLogger(t))
			roi := pointcloud.DefaultRegionOfInterest(r3.Vector{})

			cloud := store.LoadPointCloud(ctx, filepath.Join(dir, "scene.pcd"), nil, roi)
			if tc.crops {
				test.That(t, cloud.Size(), test.ShouldEqual, 2)
				test.That(t, positionsEqual(cloud.Positions, []r3.Vector{
					{X: 1.5, Y: -2.25, Z: 0.5},
					{X: -3, Y: 4, Z: -1.75},
				}), test.ShouldBeTrue)
				test.That(t, len(cloud.Colors), test.ShouldEqual, 2)
				r, g, b := cloud.Colors[1].RGB255()
				test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{0, 0, 255})
			} else {
				test.That(t, cloud.Size(), test.ShouldEqual, 4)
			}

			far := store.LoadPointCloud(ctx, filepath.Join(dir, "track.txt"), nil, pointcloud.DefaultRegionOfInterest(r3.Vector{X: 1000}))
			test.That(t, far.Size(), test.ShouldEqual, 2)
		})
	}
}

func TestWritePointCloud(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			store := tc.open(t, dir, logging.NewTestLogger(t))

			cloud := sceneCloud()
			cloud.Colors = nil
			cloud.Intensities = []float64{1, 2, 3, 4}

			for _, name := range []string{"out.pcd", "out.las"} {
				fn := filepath.Join(dir, name)
				test.That(t, store.WritePointCloud(ctx, fn, cloud, datastore.WriteModeTruncate), test.ShouldBeNil)
				read := store.LoadPointCloud(ctx, fn, nil, nil)
				test.That(t, read.Size(), test.ShouldEqual, 4)
				test.That(t, cmp.Equal(read.Positions, cloud.Positions, cmpopts.EquateApprox(0, 1e-2)), test.ShouldBeTrue)
				test.That(t, read.Intensities, test.ShouldResemble, cloud.Intensities)
				test.That(t, read.HasColor(), test.ShouldBeFalse)
			}

			// Writes replace by default.
			fn := filepath.Join(dir, "out.pcd")
			test.That(t, store.WritePointCloud(ctx, fn, pointcloud.New(), datastore.WriteModeTruncate), test.ShouldBeNil)
			test.That(t, store.LoadPointCloud(ctx, fn, nil, nil).Size(), test.ShouldEqual, 0)

			bad := sceneCloud()
			bad.Intensities = []float64{1}
			test.That(t, store.WritePointCloud(ctx, fn, bad, datastore.WriteModeTruncate), test.ShouldNotBeNil)

			// Text keeps one row per point and loads back as positions.
			txt := filepath.Join(dir, "out.txt")
			test.That(t, store.WritePointCloud(ctx, txt, cloud, datastore.WriteModeTruncate), test.ShouldBeNil)
			read := store.LoadPointCloud(ctx, txt, nil, nil)
			test.That(t, cmp.Equal(read.Positions, cloud.Positions, cmpopts.EquateApprox(0, 1e-4)), test.ShouldBeTrue)
			test.That(t, read.HasIntensity(), test.ShouldBeFalse)

			for _, name := range []string{"out.ply", "out.bin", "out"} {
				fn := filepath.Join(dir, name)
				err := store.WritePointCloud(ctx, fn, cloud, datastore.WriteModeTruncate)
				test.That(t, errors.Is(err, datastore.ErrUnsupportedFormat), test.ShouldBeTrue)
				_, err = store.Stat(ctx, fn)
				test.That(t, errors.Is(err, datastore.ErrNotFound), test.ShouldBeTrue)
			}
		})
	}
}

func TestWriteText(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			store := tc.open(t, dir, logging.NewTestLogger(t))

			fn := filepath.Join(dir, "traj.txt")
			test.That(t, store.WriteText(ctx, fn, [][]float64{{1, 2.5, -3}}, datastore.WriteModeTruncate), test.ShouldBeNil)
			test.That(t, store.WriteText(ctx, fn, [][]float64{{0.12345, 10}}, datastore.WriteModeAppend), test.ShouldBeNil)
			test.That(t, string(testutils.ReadFile(t, fn)), test.ShouldEqual, "1.0000\t2.5000\t-3.0000\t\n0.1235\t10.0000\t\n")

			test.That(t, store.WriteText(ctx, fn, [][]float64{{7}}, datastore.WriteModeTruncate), test.ShouldBeNil)
			test.That(t, string(testutils.ReadFile(t, fn)), test.ShouldEqual, "7.0000\t\n")

			err := store.WriteText(ctx, filepath.Join(dir, "missing", "traj.txt"), nil, datastore.WriteModeTruncate)
			var transferErr *datastore.TransferError
			test.That(t, errors.As(err, &transferErr), test.ShouldBeTrue)
			test.That(t, transferErr.Op, test.ShouldEqual, "open")
		})
	}
}

func TestReadPoses(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			writeScene(t, dir)
			store := tc.open(t, dir, logging.NewTestLogger(t))

			poses, err := store.ReadPoses(ctx, dir)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, len(poses), test.ShouldEqual, 2)
			for _, pose := range poses {
				test.That(t, spatialmath.PoseAlmostEqual(pose, spatialmath.NewZeroPose(), 1e-12), test.ShouldBeTrue)
				test.That(t, pose.At(3, 3), test.ShouldEqual, 1.)
			}

			testutils.WriteFile(t, dir, "moved/"+datastore.PosesFile, []byte("1 0 0 5 0 1 0 6 0 0 1 7\n"))
			poses, err = store.ReadPoses(ctx, filepath.Join(dir, "moved"))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, poses[0].Point(), test.ShouldResemble, r3.Vector{X: 5, Y: 6, Z: 7})

			testutils.WriteFile(t, dir, "short/"+datastore.PosesFile, []byte("1 0 0 5\n"))
			_, err = store.ReadPoses(ctx, filepath.Join(dir, "short"))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, "expected 12 values")

			_, err = store.ReadPoses(ctx, filepath.Join(dir, "velodyne"))
			test.That(t, errors.Is(err, datastore.ErrNotFound), test.ShouldBeTrue)
		})
	}
}

func TestLoadPickle(t *testing.T) {
	for _, tc := range storeCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			writeScene(t, dir)
			store := tc.open(t, dir, logging.NewTestLogger(t))

			v, err := store.LoadPickle(ctx, filepath.Join(dir, "labels.pkl"))
			test.That(t, err, test.ShouldBeNil)
			list, ok := v.(*types.List)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, list.Len(), test.ShouldEqual, 2)

			_, err = store.LoadPickle(ctx, filepath.Join(dir, "notes.md"))
			test.That(t, err, test.ShouldNotBeNil)
			_, err = store.LoadPickle(ctx, filepath.Join(dir, "missing.pkl"))
			test.That(t, errors.Is(err, datastore.ErrNotFound), test.ShouldBeTrue)
		})
	}
}

func TestExec(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)

	local := datastore.NewLocal(logger)
	_, err := local.Exec(ctx, "true")
	test.That(t, err, test.ShouldBeError, datastore.ErrNotRemote)
	test.That(t, local.Close(), test.ShouldBeNil)

	remote := datastore.NewRemote(testutils.NewLoopbackSession(t, dir, logger), logger)
	test.That(t, remote.IsRemote(), test.ShouldBeTrue)
	test.That(t, remote.Backend().Name(), test.ShouldEqual, "loopback")
	res, err := remote.Exec(ctx, "echo one; echo two")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Stdout, test.ShouldResemble, []string{"one", "two"})

	_, err = remote.Exec(ctx, "exit 3")
	var cmdErr *session.CommandError
	test.That(t, errors.As(err, &cmdErr), test.ShouldBeTrue)
	test.That(t, cmdErr.ExitStatus, test.ShouldEqual, 3)

	test.That(t, remote.Close(), test.ShouldBeNil)
	_, err = remote.Exec(ctx, "true")
	test.That(t, err, test.ShouldBeError, session.ErrClosed)
}

func TestShellQuoting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := logging.NewTestLogger(t)
	store := datastore.NewRemote(testutils.NewLoopbackSession(t, dir, logger), logger)

	odd := filepath.Join(dir, "it's a dir; rm -rf x")
	test.That(t, store.MakeDirectory(ctx, odd), test.ShouldBeNil)
	test.That(t, store.IsDirectory(ctx, odd), test.ShouldBeTrue)
	testutils.WriteFile(t, odd, "a b.txt", []byte("1 2 3\n"))
	test.That(t, store.LoadPointCloud(ctx, filepath.Join(odd, "a b.txt"), nil, nil).Size(), test.ShouldEqual, 1)

	names, err := store.ListDirectory(ctx, odd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldResemble, []string{"a b.txt"})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	conf, err := config.FromReader("test", strings.NewReader(`{"dataset": {"pcd_output": "ascii"}}`), logger)
	test.That(t, err, test.ShouldBeNil)
	store, err := datastore.Open(ctx, conf, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, store.IsRemote(), test.ShouldBeFalse)
	test.That(t, store.Join("a", "b"), test.ShouldEqual, filepath.Join("a", "b"))

	// The configured PCD encoding is used for writes.
	fn := filepath.Join(t.TempDir(), "ascii.pcd")
	test.That(t, store.WritePointCloud(ctx, fn, sceneCloud(), datastore.WriteModeTruncate), test.ShouldBeNil)
	test.That(t, string(testutils.ReadFile(t, fn)), test.ShouldContainSubstring, "DATA ascii\n")

	conf.Remote = &config.Remote{Host: "127.0.0.1", User: "nobody"}
	_, err = datastore.Open(ctx, conf, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no ssh auth configured")
}
