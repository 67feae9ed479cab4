package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/scenestore/config"
	"go.viam.com/scenestore/trajectory"
)

const (
	// Global flags.
	generalFlagConfig   = "config"
	generalFlagRemote   = "remote"
	generalFlagHost     = "host"
	generalFlagPort     = "port"
	generalFlagUser     = "user"
	generalFlagIdentity = "identity"
	generalFlagDebug    = "debug"
	generalFlagLogFile  = "log-file"

	lsFlagLong = "long"

	cloudFlagCrop    = "crop"
	cloudFlagPCDType = "pcd-type"

	smoothFlagOut          = "out"
	smoothFlagSegmentSize  = "segment-size"
	smoothFlagFrameTime    = "frame-time"
	smoothFlagKeepOriginal = "keep-original"
	smoothFlagOrientations = "orientations"
)

var app = &cli.App{
	Name:            "scenestore",
	Usage:           "inspect and convert lidar scenes on this machine or on a remote host",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    generalFlagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:  generalFlagRemote,
			Usage: "work on the remote host instead of the local disk",
		},
		&cli.StringFlag{
			Name:  generalFlagHost,
			Usage: "remote host, overrides the config",
		},
		&cli.IntFlag{
			Name:  generalFlagPort,
			Usage: "remote ssh port, overrides the config",
		},
		&cli.StringFlag{
			Name:  generalFlagUser,
			Usage: "remote user, overrides the config",
		},
		&cli.StringFlag{
			Name:  generalFlagIdentity,
			Usage: "ssh private key `FILE`, overrides the config",
		},
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  generalFlagLogFile,
			Usage: "also write logs to `FILE`, rotated as it grows",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "<path>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    lsFlagLong,
					Aliases: []string{"l"},
					Usage:   "show sizes and modification times",
				},
			},
			Action: ListAction,
		},
		{
			Name:      "mkdir",
			Usage:     "create directories and their parents",
			ArgsUsage: "<path> [path...]",
			Action:    MakeDirectoryAction,
		},
		{
			Name:      "cp",
			Usage:     "copy a file on the store",
			ArgsUsage: "<src> <dst>",
			Action:    CopyAction,
		},
		{
			Name:      "info",
			Usage:     "describe point cloud files",
			ArgsUsage: "<file> [file...]",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  cloudFlagCrop,
					Usage: "crop binary clouds to the default region around the origin (local only)",
				},
			},
			Action: InfoAction,
		},
		{
			Name:      "convert",
			Usage:     "convert a point cloud between .txt, .pcd, .ply and .las",
			ArgsUsage: "<src> <dst>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  cloudFlagCrop,
					Usage: "crop binary clouds to the default region around the origin (local only)",
				},
				&cli.StringFlag{
					Name:  cloudFlagPCDType,
					Usage: "pcd encoding, one of ascii, binary or binary_compressed",
					Value: config.DefaultPCDOutput,
				},
			},
			Action: ConvertAction,
		},
		{
			Name:      "poses",
			Usage:     "print the poses of a sequence",
			ArgsUsage: "<root>",
			Action:    PosesAction,
		},
		{
			Name:      "smooth",
			Usage:     "smooth the trajectory of a sequence and write it as text",
			ArgsUsage: "<root>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  smoothFlagOut,
					Usage: "output `FILE`, defaults to <root>/poses_smoothed.txt",
				},
				&cli.IntFlag{
					Name:  smoothFlagSegmentSize,
					Usage: fmt.Sprintf("frames per fitted segment, defaults to the config or %d", trajectory.DefaultSegmentSize),
				},
				&cli.Float64Flag{
					Name:  smoothFlagFrameTime,
					Usage: fmt.Sprintf("seconds between frames, defaults to the config or %g", trajectory.DefaultFrameTime),
				},
				&cli.BoolFlag{
					Name:  smoothFlagKeepOriginal,
					Usage: "keep the input positions at the input times",
				},
				&cli.BoolFlag{
					Name:  smoothFlagOrientations,
					Usage: "also write interpolated orientations as quaternions",
				},
			},
			Action: SmoothAction,
		},
		{
			Name:      "pickle",
			Usage:     "print a pickled annotation file",
			ArgsUsage: "<file>",
			Action:    PickleAction,
		},
		{
			Name:      "exec",
			Usage:     "run a shell command on the remote host",
			ArgsUsage: "<command...>",
			Action:    ExecAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
