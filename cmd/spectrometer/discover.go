package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/engine"
	"github.com/panbanda/spectrometer/internal/export"
	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/pkg/analyzer/discovery"
)

func discoverCmd() *cli.Command {
	return &cli.Command{
		Name:      "discover",
		Usage:     "Report recurring syntax the taxonomy does not classify",
		ArgsUsage: "[path]",
		Flags: append(formatFlags(),
			&cli.IntFlag{
				Name:  "min-occurrences",
				Usage: "Minimum occurrences for a candidate (default from config)",
			},
			&cli.Float64Flag{
				Name:  "min-confidence",
				Usage: "Minimum confidence for a candidate (default from config)",
				Value: -1,
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Directory of a persistent store that accumulates unknowns across runs",
			},
			&cli.BoolFlag{
				Name:  "promote",
				Usage: "Register classified candidates in the taxonomy",
			},
			&cli.StringFlag{
				Name:  "taxonomy-out",
				Usage: "Write the taxonomy after promotion to this file",
			},
		),
		Action: runDiscover,
	}
}

func runDiscover(c *cli.Context) error {
	e := getEnv(c)
	format, err := e.outputFormat(c)
	if err != nil {
		return err
	}
	if c.IsSet("min-occurrences") {
		if c.Int("min-occurrences") < 1 {
			return usageError("--min-occurrences must be at least 1")
		}
		e.cfg.Discovery.MinOccurrences = c.Int("min-occurrences")
	}
	if c.IsSet("min-confidence") {
		v := c.Float64("min-confidence")
		if v < 0 || v > 1 {
			return usageError("--min-confidence must be between 0 and 1")
		}
		e.cfg.Discovery.MinConfidence = v
	}
	if s := c.String("store"); s != "" {
		e.cfg.Discovery.StoreDir = s
	}
	if c.IsSet("taxonomy-out") && !c.Bool("promote") {
		return usageError("--taxonomy-out requires --promote")
	}

	eng, err := e.newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	state, results, err := eng.RunStage(c.Context, engine.StageDiscovery, pathArg(c, 0))
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	if format == output.FormatText {
		_ = output.New(output.FormatText, e.stderr, e.colored).Output(stageTable(results))
	}
	if n := failures(results); n > 0 || state.Discovery == nil {
		return failedExit(n)
	}

	candidates := state.Candidates
	if store := eng.Store(); store != nil {
		all, err := store.Load()
		if err != nil {
			return cli.Exit(fmt.Sprintf("load store: %v", err), exitFailed)
		}
		candidates = discovery.Candidates(all, e.cfg.Discovery.MinOccurrences, e.cfg.Discovery.MinConfidence)
	}

	doc := export.CandidateDocument{
		Repo:           state.Discovery.Repo,
		GeneratedAt:    state.Discovery.Timestamp,
		MinOccurrences: e.cfg.Discovery.MinOccurrences,
		MinConfidence:  e.cfg.Discovery.MinConfidence,
		Candidates:     candidates,
	}
	if doc.Candidates == nil {
		doc.Candidates = []*discovery.UnknownAtom{}
	}
	if err := e.formatter(format).Output(candidateReport(state.Discovery, doc)); err != nil {
		return err
	}

	if c.Bool("promote") {
		return e.promote(c, eng, doc)
	}
	return nil
}

// candidateReport renders the discovery summary followed by the candidates.
// Its data form is the candidates document.
func candidateReport(r *discovery.Report, doc export.CandidateDocument) output.Renderable {
	rows := make([][]string, 0, len(doc.Candidates))
	for _, a := range doc.Candidates {
		sig := a.Signature
		if len(sig) > 12 {
			sig = sig[:12]
		}
		rows = append(rows, []string{
			sig,
			a.ASTType,
			strconv.Itoa(a.OccurrenceCount),
			fmt.Sprintf("%.2f", a.Confidence),
			a.Proposal.Name,
			string(a.Proposal.Continent),
		})
	}
	summary := output.NewTable("Discovery",
		[]string{"Files", "Nodes", "Known", "Unknown", "Coverage"},
		[][]string{{
			strconv.Itoa(r.FilesAnalyzed),
			strconv.Itoa(r.TotalNodes),
			strconv.Itoa(r.KnownNodes),
			strconv.Itoa(r.UnknownNodes),
			fmt.Sprintf("%.1f%%", r.CoverageRatio*100),
		}}, nil, nil)
	table := output.NewTable(
		fmt.Sprintf("Candidates (occurrences >= %d, confidence >= %.2f)", doc.MinOccurrences, doc.MinConfidence),
		[]string{"Signature", "AST type", "Count", "Confidence", "Proposed", "Continent"},
		rows, nil, nil)
	return &output.Report{
		Title:    "Pattern discovery: " + doc.Repo,
		Sections: []output.Renderable{summary, table},
		Data:     doc,
	}
}

// promote registers every classified candidate and optionally writes the
// resulting taxonomy.
func (e *env) promote(c *cli.Context, eng *engine.Engine, doc export.CandidateDocument) error {
	f := output.New(output.FormatText, e.stderr, e.colored)
	promoted := 0
	for _, cand := range doc.Candidates {
		id, conflicts, err := discovery.Promote(eng.Registry(), cand, doc.Repo)
		if errors.Is(err, discovery.ErrUnclassified) {
			e.logger.Debug("candidate not promoted", "ast_type", cand.ASTType)
			continue
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("promote %s: %v", cand.ASTType, err), exitFailed)
		}
		promoted++
		f.Success("promoted %s as atom %d", cand.ASTType, id)
		for _, cf := range conflicts {
			f.Warning("%s moved from atom %d to %d", cf.ASTType, cf.PreviousID, cf.NewID)
		}
	}
	f.Info("%d of %d candidates promoted", promoted, len(doc.Candidates))

	out := c.String("taxonomy-out")
	if out == "" {
		return nil
	}
	return writeTaxonomy(eng.Registry().Canon(), out, e.stdout)
}
