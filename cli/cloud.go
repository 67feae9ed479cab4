package cli

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/scenestore/datastore"
	"go.viam.com/scenestore/pointcloud"
)

func cropRegion(c *cli.Context) *pointcloud.RegionOfInterest {
	if !c.Bool(cloudFlagCrop) {
		return nil
	}
	return pointcloud.DefaultRegionOfInterest(r3.Vector{})
}

// InfoAction is the corresponding Action for 'info'.
func InfoAction(c *cli.Context) error {
	return withClient(c, infoAction)
}

func infoAction(c *cli.Context, sc *sceneClient) error {
	if c.NArg() == 0 {
		return errors.New("expected at least one file")
	}
	if sc.store.IsRemote() && c.Bool(cloudFlagCrop) {
		warningf(sc.errOut(), "--crop is ignored for remote stores")
	}
	roi := cropRegion(c)

	t := table.NewWriter()
	t.SetOutputMirror(sc.out())
	t.AppendHeader(table.Row{"File", "Format", "Points", "Attributes", "Size", "Bounds"})
	for _, fn := range c.Args().Slice() {
		size := "-"
		if info, err := sc.store.Stat(c.Context, fn); err == nil {
			size = units.HumanSize(float64(info.Size()))
		}
		cloud := sc.store.LoadPointCloud(c.Context, fn, nil, roi)
		t.AppendRow(table.Row{
			fn,
			strings.TrimPrefix(string(pointcloud.FormatFromPath(fn)), "."),
			cloud.Size(),
			attributes(cloud),
			size,
			bounds(cloud),
		})
	}
	t.Render()
	return nil
}

func attributes(cloud *pointcloud.PointCloud) string {
	names := lo.Compact([]string{
		lo.Ternary(cloud.HasColor(), "rgb", ""),
		lo.Ternary(cloud.HasNormals(), "normals", ""),
		lo.Ternary(cloud.HasIntensity(), "intensity", ""),
	})
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func bounds(cloud *pointcloud.PointCloud) string {
	if cloud.Size() == 0 {
		return "-"
	}
	meta := cloud.MetaData()
	return fmt.Sprintf("X:[%.2f, %.2f] Y:[%.2f, %.2f] Z:[%.2f, %.2f]",
		meta.MinX, meta.MaxX, meta.MinY, meta.MaxY, meta.MinZ, meta.MaxZ)
}

// ConvertAction is the corresponding Action for 'convert'.
func ConvertAction(c *cli.Context) error {
	return withClient(c, convertAction)
}

func convertAction(c *cli.Context, sc *sceneClient) error {
	if c.NArg() != 2 {
		return errors.New("expected <src> <dst>")
	}
	src, dst := c.Args().Get(0), c.Args().Get(1)
	ctx := c.Context

	cloud := sc.store.LoadPointCloud(ctx, src, nil, cropRegion(c))
	if cloud.Size() == 0 {
		warningf(sc.errOut(), "%q has no points", src)
	}

	if err := sc.store.WritePointCloud(ctx, dst, cloud, datastore.WriteModeTruncate); err != nil {
		return err
	}
	infof(sc.out(), "wrote %d points to %s", cloud.Size(), dst)
	return nil
}

// PickleAction is the corresponding Action for 'pickle'.
func PickleAction(c *cli.Context) error {
	return withClient(c, func(c *cli.Context, sc *sceneClient) error {
		fn, err := singleArg(c, "file")
		if err != nil {
			return err
		}
		v, err := sc.store.LoadPickle(c.Context, fn)
		if err != nil {
			return err
		}
		printf(sc.out(), "%T", v)
		printf(sc.out(), "%v", v)
		return nil
	})
}
