package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "mipnerf"
	app.Usage = "render anti-aliased neural radiance fields"
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

	configFlag := cli.StringFlag{
		Name:  "config, c",
		Value: "config.yaml",
		Usage: "YAML configuration file (defaults are used when it does not exist)",
	}
	paramsFlag := cli.StringFlag{
		Name:  "params, p",
		Value: "params.zst",
		Usage: "network parameters written by init-params",
	}
	constantFlag := cli.BoolFlag{
		Name:  "constant",
		Usage: "render a constant density field instead of the network",
	}
	transformsFlag := cli.StringFlag{
		Name:  "transforms, t",
		Usage: "Blender transforms.json with camera poses",
	}
	framesFlag := cli.IntFlag{
		Name:  "frames, n",
		Usage: "render at most this many frames (0 renders all)",
	}

	app.Commands = []cli.Command{
		{
			Name:   "init-config",
			Usage:  "write the default configuration",
			Action: initConfig,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "out, o",
					Value: "config.yaml",
					Usage: "configuration file to write",
				},
			},
		},
		{
			Name:  "init-params",
			Usage: "initialise network parameters",
			Description: `
Create a network with the architecture of the configuration and He-uniform
weights drawn from the seed, and write its parameters to a compressed file.`,
			Action: initParams,
			Flags: []cli.Flag{
				configFlag,
				cli.StringFlag{
					Name:  "out, o",
					Value: "params.zst",
					Usage: "parameters file to write",
				},
				cli.Uint64Flag{
					Name:  "seed",
					Usage: "initialisation seed (defaults to render.seed)",
				},
			},
		},
		{
			Name:  "render",
			Usage: "render a camera path",
			Description: `
Render every pose of the configured camera path. An orbit needs no input;
spiral and views paths read their poses from a transforms file.

The color image of every frame is written to the output directory together
with the selected depth, opacity and normal maps and a transforms.json
describing the rendered poses.`,
			Action: renderPath,
			Flags: []cli.Flag{
				configFlag,
				paramsFlag,
				constantFlag,
				transformsFlag,
				framesFlag,
				cli.StringFlag{
					Name:  "out, o",
					Usage: "output directory (defaults to output.dir)",
				},
			},
		},
		{
			Name:  "eval",
			Usage: "compare renderings against ground truth images",
			Description: `
Render the views of a transforms file and report PSNR, SSIM and related
metrics against the images it references.`,
			Action: evaluate,
			Flags: []cli.Flag{
				configFlag,
				paramsFlag,
				constantFlag,
				transformsFlag,
				framesFlag,
				cli.StringFlag{
					Name:  "images",
					Usage: "directory with the ground truth images (defaults to the paths in the transforms file)",
				},
				cli.StringFlag{
					Name:  "out, o",
					Usage: "also save the renderings to this directory",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("mipnerf failed")
	}
}
