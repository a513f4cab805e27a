package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/export"
	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

func taxonomyCmd() *cli.Command {
	return &cli.Command{
		Name:  "taxonomy",
		Usage: "Inspect the atom taxonomy",
		Subcommands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Write the taxonomy as validated JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "File to write (default stdout)",
					},
				},
				Action: func(c *cli.Context) error {
					reg, err := taxonomy.New(taxonomy.WithLogger(getEnv(c).logger))
					if err != nil {
						return cli.Exit(err.Error(), exitFailed)
					}
					return writeTaxonomy(reg.Canon(), c.String("output"), getEnv(c).stdout)
				},
			},
			{
				Name:   "stats",
				Usage:  "Summarize the taxonomy",
				Flags:  formatFlags(),
				Action: runTaxonomyStats,
			},
		},
	}
}

// writeTaxonomy validates canon and writes it to path, or to stdout when
// path is empty.
func writeTaxonomy(canon taxonomy.Canon, path string, stdout io.Writer) error {
	data, err := json.MarshalIndent(canon, "", "  ")
	if err != nil {
		return err
	}
	if err := export.Validate(export.TaxonomyFile, data); err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}

	w, err := export.NewWriter(filepath.Dir(path))
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	if _, err := w.WriteText(filepath.Base(path), func(out io.Writer) error {
		_, err := out.Write(data)
		return err
	}); err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	fmt.Fprintln(stdout, path)
	return nil
}

func runTaxonomyStats(c *cli.Context) error {
	e := getEnv(c)
	format, err := e.outputFormat(c)
	if err != nil {
		return err
	}
	reg, err := taxonomy.New(taxonomy.WithLogger(e.logger))
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	stats := reg.Stats()

	continents := make([]string, 0, len(stats.ByContinent))
	for k := range stats.ByContinent {
		continents = append(continents, k)
	}
	sort.Strings(continents)
	rows := make([][]string, 0, len(continents))
	for _, k := range continents {
		rows = append(rows, []string{k, strconv.Itoa(stats.ByContinent[k])})
	}
	footer := []string{"total", strconv.Itoa(stats.TotalAtoms)}
	return e.formatter(format).Output(output.NewTable(
		fmt.Sprintf("Taxonomy (%d AST types mapped)", stats.ASTTypesMapped),
		[]string{"Continent", "Atoms"}, rows, footer, stats))
}
