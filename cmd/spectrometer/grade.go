package main

import (
	"encoding/json"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/cache"
	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/internal/scanner"
	"github.com/panbanda/spectrometer/pkg/analyzer/grade"
)

const gradeCacheKey = "grade"

func formatFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: text, json, markdown, toon",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Shorthand for --format json",
		},
	}
}

// outputFormat resolves --json and --format against the configured default.
func (e *env) outputFormat(c *cli.Context) (output.Format, error) {
	if c.Bool("json") {
		return output.FormatJSON, nil
	}
	f := c.String("format")
	if f == "" {
		f = e.cfg.Output.Format
	}
	if !output.Valid(f) {
		return "", usageError("unknown format %q", f)
	}
	return output.ParseFormat(f), nil
}

func gradeCmd() *cli.Command {
	return &cli.Command{
		Name:      "grade",
		Usage:     "Run the full pipeline and print the health grade",
		ArgsUsage: "[path]",
		Flags: append(formatFlags(),
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Ignore and do not update the grade cache",
			},
		),
		Action: runGrade,
	}
}

func runGrade(c *cli.Context) error {
	e := getEnv(c)
	format, err := e.outputFormat(c)
	if err != nil {
		return err
	}
	path := pathArg(c, 0)

	gc, hash := e.gradeCache(path, !c.Bool("no-cache"))
	if gc != nil {
		var cached grade.Result
		if gc.Load(gradeCacheKey, hash, &cached) {
			e.logger.Debug("grade served from cache", "path", path)
			return e.formatter(format).Output(&cached)
		}
	}

	eng, err := e.newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	state, snap := eng.Run(c.Context, path)
	if format == output.FormatText {
		_ = output.New(output.FormatText, e.stderr, e.colored).Output(stageTable(snap.Stages))
	}
	if state.Grade == nil {
		if n := failures(snap.Stages); n > 0 {
			return failedExit(n)
		}
		output.New(format, e.stderr, e.colored).Warning("nothing to grade in %s", path)
		return nil
	}
	if err := e.formatter(format).Output(state.Grade); err != nil {
		return err
	}

	n := failures(snap.Stages)
	if gc != nil && n == 0 {
		if err := gc.Store(gradeCacheKey, hash, state.Grade); err != nil {
			e.logger.Warn("grade cache write failed", "error", err)
		}
	}
	return failedExit(n)
}

// gradeCache opens the cache under path and hashes the files a run would
// analyze. It returns nil when caching is off or the tree cannot be hashed.
func (e *env) gradeCache(path string, want bool) (*cache.Cache, string) {
	if !want || !e.cfg.Cache.Enabled {
		return nil, ""
	}
	res, err := scanner.NewScanner(e.cfg).Scan(path)
	if err != nil || len(res.Files) == 0 {
		return nil, ""
	}
	salt, err := json.Marshal(struct {
		Version    string
		Thresholds any
		Grade      any
		Discovery  any
	}{version, e.cfg.Thresholds, e.cfg.Grade, e.cfg.Discovery})
	if err != nil {
		return nil, ""
	}
	hash, err := cache.HashFiles(res.Root, res.Files, string(salt))
	if err != nil {
		e.logger.Debug("grade cache disabled", "error", err)
		return nil, ""
	}
	dir := e.cfg.Cache.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(res.Root, dir)
	}
	gc, err := cache.New(dir, e.cfg.CacheTTL())
	if err != nil {
		e.logger.Debug("grade cache disabled", "error", err)
		return nil, ""
	}
	return gc, hash
}

