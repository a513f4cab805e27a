package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/engine"
	"github.com/panbanda/spectrometer/internal/logging"
	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/pkg/config"
	"github.com/panbanda/spectrometer/pkg/pipeline"
)

const envKey = "env"

// env is the per-invocation state every command reads.
type env struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	stdout     io.Writer
	stderr     io.Writer
	colored    bool
}

// setup loads the configuration and builds the logger. Config and flag
// errors exit with the usage code.
func setup(c *cli.Context, stdout, stderr io.Writer) error {
	var (
		cfg  *config.Config
		path = c.String("config")
		err  error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		var cwd string
		if cwd, err = os.Getwd(); err == nil {
			path = config.Find(cwd)
			cfg, err = config.LoadOrDefault(cwd)
		}
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), exitUsage)
	}

	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	logger, err := logging.FromConfig(cfg.Log, stderr)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	colored := cfg.Output.Color && !c.Bool("no-color")
	if !colored {
		color.NoColor = true
	}

	c.App.Metadata[envKey] = &env{
		cfg:        cfg,
		configPath: path,
		logger:     logger,
		stdout:     stdout,
		stderr:     stderr,
		colored:    colored,
	}
	return nil
}

func getEnv(c *cli.Context) *env {
	return c.App.Metadata[envKey].(*env)
}

// pathArg returns the positional argument at i, defaulting to ".".
func pathArg(c *cli.Context, i int) string {
	if c.Args().Len() > i {
		return c.Args().Get(i)
	}
	return "."
}

func (e *env) newEngine(opts ...engine.Option) (*engine.Engine, error) {
	opts = append([]engine.Option{engine.WithLogger(e.logger)}, opts...)
	eng, err := engine.New(e.cfg, opts...)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	return eng, nil
}

// formatter writes to stdout in format.
func (e *env) formatter(format output.Format) *output.Formatter {
	return output.New(format, e.stdout, e.colored)
}

// stageTable lists stage results.
func stageTable(results []pipeline.StageResult) *output.Table {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := string(r.Status)
		rows = append(rows, []string{
			r.StageName,
			output.StatusColor(status, status),
			fmt.Sprintf("%.1f", r.LatencyMS),
			fmt.Sprintf("%+d", r.NodesAfter-r.NodesBefore),
			fmt.Sprintf("%+d", r.EdgesAfter-r.EdgesBefore),
			r.Error,
		})
	}
	return output.NewTable("Stages",
		[]string{"Stage", "Status", "ms", "Nodes", "Edges", "Detail"},
		rows, nil, results)
}

// failures counts FAIL results.
func failures(results []pipeline.StageResult) int {
	n := 0
	for _, r := range results {
		if r.Status == pipeline.StatusFail {
			n++
		}
	}
	return n
}

// failedExit is the error returned when any stage failed.
func failedExit(n int) error {
	if n == 0 {
		return nil
	}
	return cli.Exit(fmt.Sprintf("%d stage(s) failed", n), exitFailed)
}
