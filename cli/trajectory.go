package cli

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/scenestore/datastore"
	"go.viam.com/scenestore/spatialmath"
	"go.viam.com/scenestore/trajectory"
)

// smoothedPosesFile is written next to poses.txt by 'smooth' unless --out is given.
const smoothedPosesFile = "poses_smoothed.txt"

// PosesAction is the corresponding Action for 'poses'.
func PosesAction(c *cli.Context) error {
	return withClient(c, func(c *cli.Context, sc *sceneClient) error {
		root, err := singleArg(c, "root")
		if err != nil {
			return err
		}
		poses, err := sc.store.ReadPoses(c.Context, root)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(sc.out())
		t.AppendHeader(table.Row{"#", "Translation", "Quaternion"})
		for i, pose := range poses {
			tra := pose.Point()
			q := pose.Quaternion()
			t.AppendRow(table.Row{
				i,
				fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", tra.X, tra.Y, tra.Z),
				fmt.Sprintf("W:%.4f, X:%.4f, Y:%.4f, Z:%.4f", q.Real, q.Imag, q.Jmag, q.Kmag),
			})
		}
		t.Render()
		return nil
	})
}

// SmoothAction is the corresponding Action for 'smooth'.
func SmoothAction(c *cli.Context) error {
	return withClient(c, smoothAction)
}

func smoothAction(c *cli.Context, sc *sceneClient) error {
	root, err := singleArg(c, "root")
	if err != nil {
		return err
	}
	ctx := c.Context
	poses, err := sc.store.ReadPoses(ctx, root)
	if err != nil {
		return err
	}
	if len(poses) == 0 {
		return errors.Errorf("no poses under %q", root)
	}

	opts := trajectory.Options{
		SegmentSize:             sc.conf.Dataset.SegmentSize,
		FrameTime:               sc.conf.Dataset.FrameTime,
		KeepOriginal:            c.Bool(smoothFlagKeepOriginal),
		InterpolateOrientations: c.Bool(smoothFlagOrientations),
	}
	if c.IsSet(smoothFlagSegmentSize) {
		opts.SegmentSize = c.Int(smoothFlagSegmentSize)
	}
	if c.IsSet(smoothFlagFrameTime) {
		opts.FrameTime = c.Float64(smoothFlagFrameTime)
	}
	positions := lo.Map(poses, func(p spatialmath.Pose, _ int) r3.Vector { return p.Point() })
	if opts.InterpolateOrientations {
		opts.Orientations = lo.Map(poses, func(p spatialmath.Pose, _ int) quat.Number { return p.Quaternion() })
	}

	res, err := trajectory.Filter(positions, opts)
	if err != nil {
		return err
	}

	rows := make([][]float64, len(res.Positions))
	for i, p := range res.Positions {
		rows[i] = []float64{p.X, p.Y, p.Z}
		if res.Orientations != nil {
			q := res.Orientations[i]
			rows[i] = append(rows[i], q.Real, q.Imag, q.Jmag, q.Kmag)
		}
	}
	out := c.String(smoothFlagOut)
	if out == "" {
		out = sc.store.Join(root, smoothedPosesFile)
	}
	if err := sc.store.WriteText(ctx, out, rows, datastore.WriteModeTruncate); err != nil {
		return err
	}
	infof(sc.out(), "smoothed %d poses into %s", len(rows), out)

	residuals := trajectory.Residuals(positions, res.Positions)
	mean, err := stats.Mean(residuals)
	if err != nil {
		return err
	}
	maxResidual, err := stats.Max(residuals)
	if err != nil {
		return err
	}
	p95, err := stats.PercentileNearestRank(residuals, 95)
	if err != nil {
		return err
	}
	printf(sc.out(), "residual mean %.4f p95 %.4f max %.4f", mean, p95, maxResidual)
	return nil
}
