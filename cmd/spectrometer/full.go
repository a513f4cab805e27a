package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/engine"
	"github.com/panbanda/spectrometer/internal/export"
	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/internal/progress"
)

func fullCmd() *cli.Command {
	return &cli.Command{
		Name:      "full",
		Usage:     "Run every stage and write all artifacts to an output directory",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Directory to write artifacts into",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Show per-stage progress bars",
			},
		},
		Action: runFull,
	}
}

func runFull(c *cli.Context) error {
	e := getEnv(c)
	dir := c.String("output")
	if dir == "" {
		return usageError("--output is required")
	}

	var opts []engine.Option
	if c.Bool("progress") {
		opts = append(opts, engine.WithProgress(progress.NewStages(e.stderr)))
	}
	eng, err := e.newEngine(opts...)
	if err != nil {
		return err
	}
	defer eng.Close()

	state, snap := eng.Run(c.Context, pathArg(c, 0))
	_ = output.New(output.FormatText, e.stderr, e.colored).Output(stageTable(snap.Stages))

	w, err := export.NewWriter(dir, export.WithLogger(e.logger))
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	written, err := w.WriteAll(export.Bundle{
		State:          state,
		Snapshot:       snap,
		Registry:       eng.Registry(),
		MinOccurrences: e.cfg.Discovery.MinOccurrences,
		MinConfidence:  e.cfg.Discovery.MinConfidence,
	})
	for _, p := range written {
		fmt.Fprintln(e.stdout, p)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("export: %v", err), exitFailed)
	}
	return failedExit(failures(snap.Stages))
}
