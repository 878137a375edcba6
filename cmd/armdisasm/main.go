package main

import (
	"fmt"
	"os"
	"strconv"

	cli "github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Name = "armdisasm"
	app.Usage = "Reconstruct an annotated disassembly from a stripped ARM Cortex-M firmware image"
	app.Action = func(c *cli.Context) error {
		cli.ShowAppHelp(c)
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:      "disasm",
			Aliases:   []string{"d"},
			Usage:     "Disassemble a raw firmware image",
			ArgsUsage: "file",
			Action: func(c *cli.Context) error {
				args := c.Args()
				if args.Len() < 1 {
					return cli.Exit("Insufficient arguments", 1)
				}
				file := args.First()

				var forcedBase int64
				hasBase := false
				if baseStr := c.String("base"); baseStr != "" {
					v, err := strconv.ParseInt(baseStr, 0, 64)
					if err != nil {
						return cli.Exit(fmt.Sprintf("Could not parse --base: %v", err), 1)
					}
					forcedBase, hasBase = v, true
				}

				if err := runDisasm(file, forcedBase, hasBase, c.Bool("json"), c.String("log-level")); err != nil {
					return cli.Exit(err, 1)
				}
				return nil
			},
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "base",
					Usage: "force the application code base instead of running the estimator",
				},
				&cli.BoolFlag{
					Name:  "json",
					Usage: "emit the analysis report as JSON instead of a text listing",
				},
				&cli.StringFlag{
					Name:  "log-level",
					Value: "info",
					Usage: "logging verbosity (panic, fatal, error, warn, info, debug, trace)",
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
