package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/pkg/pipeline"
)

func stageCmd() *cli.Command {
	return &cli.Command{
		Name:      "stage",
		Usage:     "Run one stage, building its input from the stages before it",
		ArgsUsage: "<name> [path]",
		Flags:     formatFlags(),
		Action:    runStage,
	}
}

func runStage(c *cli.Context) error {
	e := getEnv(c)
	if c.Args().Len() < 1 {
		return usageError("stage name is required")
	}
	format, err := e.outputFormat(c)
	if err != nil {
		return err
	}

	eng, err := e.newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	name := c.Args().First()
	_, results, err := eng.RunStage(c.Context, name, pathArg(c, 1))
	if errors.Is(err, pipeline.ErrStageNotFound) {
		return usageError("unknown stage %q (stages: %s)", name, strings.Join(eng.Stages(), ", "))
	}
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	last := results[len(results)-1]
	sections := []output.Renderable{stageTable(results)}
	if len(last.OutputSummary) > 0 {
		sections = append(sections, summaryTable(last))
	}
	if last.Error != "" {
		sections = append(sections, &output.Section{Title: "Error", Content: last.Error})
	}
	report := &output.Report{
		Title:    fmt.Sprintf("Stage %s", name),
		Sections: sections,
		Data:     last,
	}
	if err := e.formatter(format).Output(report); err != nil {
		return err
	}
	return failedExit(failures(results))
}

// summaryTable lists a stage's output summary.
func summaryTable(res pipeline.StageResult) *output.Table {
	keys := make([]string, 0, len(res.OutputSummary))
	for k := range res.OutputSummary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(res.OutputSummary[k])})
	}
	return output.NewTable("Output", []string{"Field", "Value"}, rows, nil, nil)
}
