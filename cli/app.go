// Package cli contains the icpslam command line tool.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	inputFlag       = "input"
	watchFlag       = "watch"
	outputFlag      = "output"
	configFlag      = "config"
	metricsAddrFlag = "metrics-addr"
	logFileFlag     = "log-file"
	debugFlag       = "debug"
	pcdAsciiFlag    = "pcd-ascii"
	settleFlag      = "settle"
	bagFlag         = "bag"
	bagTopicFlag    = "bag-topic"
	posesFlag       = "poses"
)

// NewApp returns a new app with the icpslam commands, Writer set to out, and ErrWriter set to
// errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "icpslam",
		Usage:           "build a point cloud map from scan increments with ICP",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  logFileFlag,
				Usage: "write logs to `FILE` instead of stdout",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "map recorded or live scan increments",
				UsageText: "icpslam run (--input <dir> | --bag <file>) [--watch] [--output <dir>] [other options]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    inputFlag,
						Aliases: []string{"i"},
						Usage:   "directory of .pcd or .las increments, replayed in name order",
					},
					&cli.StringFlag{
						Name:  bagFlag,
						Usage: "ROS bag `FILE` of PointCloud2 increments, replayed before the input directory",
					},
					&cli.StringFlag{
						Name:  bagTopicFlag,
						Value: "/points",
						Usage: "topic of the PointCloud2 messages in the bag",
					},
					&cli.BoolFlag{
						Name:  watchFlag,
						Usage: "keep mapping files written to the input directory until interrupted",
					},
					&cli.DurationFlag{
						Name:  settleFlag,
						Usage: "how long a watched file must stay unchanged before it is read",
					},
					&cli.StringFlag{
						Name:    outputFlag,
						Aliases: []string{"o"},
						Usage:   "directory receiving the map, increment, neighbor clouds and the refined path",
					},
					&cli.BoolFlag{
						Name:  pcdAsciiFlag,
						Usage: "write ascii instead of binary pcd files",
					},
					&cli.StringFlag{
						Name:    configFlag,
						Aliases: []string{"c"},
						Usage:   "load mapper attributes from JSON `FILE`",
					},
					&cli.StringFlag{
						Name:  metricsAddrFlag,
						Usage: "serve prometheus metrics on `ADDR`, e.g. :9090",
					},
				},
				Action: RunAction,
			},
			{
				Name:      "inspect",
				Usage:     "summarize the output directory of a previous run",
				UsageText: "icpslam inspect --output <dir> [--config <file>] [--poses]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     outputFlag,
						Aliases:  []string{"o"},
						Required: true,
						Usage:    "output directory of a run",
					},
					&cli.StringFlag{
						Name:    configFlag,
						Aliases: []string{"c"},
						Usage:   "mapper attributes used for the run, for the topic names",
					},
					&cli.BoolFlag{
						Name:  posesFlag,
						Usage: "print every refined pose as a table",
					},
				},
				Action: InspectAction,
			},
		},
	}
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
