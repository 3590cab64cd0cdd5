package main

import (
	"os"

	"github.com/urfave/cli"
	"github.com/yenchenlin/orthographic-ngp/cmd"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "orthographic-ngp"
	app.Usage = "train and render neural radiance fields on the CPU"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "train",
			Usage: "train a field on the synthetic cube scene",
			Description: `
Fit a trilinear voxel field to analytically rendered orthographic views of
a solid cube, jointly refining the camera parameters when requested, then
write a rendered frame of the result.`,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "steps",
					Value: 500,
					Usage: "optimization steps",
				},
				cli.IntFlag{
					Name:  "target-batch",
					Value: 0,
					Usage: "target samples per batch (0 keeps the default)",
				},
				cli.StringFlag{
					Name:  "loss",
					Value: "l2",
					Usage: "reconstruction loss: l2, l1, relative-l2, huber, log-l1",
				},
				cli.Float64Flag{
					Name:  "learning-rate",
					Value: 0.05,
					Usage: "field learning rate",
				},
				cli.IntFlag{
					Name:  "grid-res",
					Value: 64,
					Usage: "occupancy grid resolution per cascade",
				},
				cli.BoolFlag{
					Name:  "optimize-extrinsics",
					Usage: "jointly refine per-image camera poses",
				},
				cli.BoolFlag{
					Name:  "optimize-exposure",
					Usage: "jointly refine per-image exposure",
				},
				cli.BoolFlag{
					Name:  "no-importance-sampling",
					Usage: "disable error-map driven ray selection",
				},
				cli.IntFlag{
					Name:  "width",
					Value: 512,
					Usage: "output frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 512,
					Usage: "output frame height",
				},
				cli.Float64Flag{
					Name:  "exposure",
					Value: 0.0,
					Usage: "output exposure in stops",
				},
				cli.IntFlag{
					Name:  "seed",
					Value: 1337,
					Usage: "session seed",
				},
				cli.IntFlag{
					Name:  "workers",
					Value: 0,
					Usage: "worker goroutines (0 selects one per CPU)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame (empty to skip)",
				},
			},
			Action: cmd.TrainScene,
		},
		{
			Name:  "render",
			Usage: "render a frame from a freshly fitted field",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "steps",
					Value: 200,
					Usage: "optimization steps before rendering",
				},
				cli.IntFlag{
					Name:  "view",
					Value: 0,
					Usage: "dataset view to render from",
				},
				cli.Float64Flag{
					Name:  "learning-rate",
					Value: 0.05,
					Usage: "field learning rate",
				},
				cli.IntFlag{
					Name:  "grid-res",
					Value: 64,
					Usage: "occupancy grid resolution per cascade",
				},
				cli.IntFlag{
					Name:  "width",
					Value: 512,
					Usage: "frame width",
				},
				cli.IntFlag{
					Name:  "height",
					Value: 512,
					Usage: "frame height",
				},
				cli.Float64Flag{
					Name:  "exposure",
					Value: 0.0,
					Usage: "exposure in stops",
				},
				cli.IntFlag{
					Name:  "seed",
					Value: 1337,
					Usage: "session seed",
				},
				cli.IntFlag{
					Name:  "workers",
					Value: 0,
					Usage: "worker goroutines (0 selects one per CPU)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Value: "frame.png",
					Usage: "image filename for the rendered frame",
				},
			},
			Action: cmd.RenderFrame,
		},
		{
			Name:  "info",
			Usage: "print training defaults and derived grid parameters",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "grid-res",
					Usage: "occupancy grid resolution per cascade",
				},
				cli.IntFlag{
					Name:  "cascades",
					Usage: "occupancy grid cascade count",
				},
			},
			Action: cmd.Info,
		},
	}

	app.Run(os.Args)
}
