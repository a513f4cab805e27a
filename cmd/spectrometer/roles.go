package main

import (
	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/output"
	"github.com/panbanda/spectrometer/pkg/roles"
)

// roleMapping is one normalized label.
type roleMapping struct {
	Label     string      `json:"label"`
	Role      roles.Role  `json:"role"`
	Group     roles.Group `json:"group"`
	Canonical bool        `json:"canonical"`
}

func rolesCmd() *cli.Command {
	return &cli.Command{
		Name:  "roles",
		Usage: "Work with the canonical role vocabulary",
		Subcommands: []*cli.Command{
			{
				Name:      "normalize",
				Usage:     "Map labels onto canonical roles",
				ArgsUsage: "<label>...",
				Flags:     formatFlags(),
				Action:    runRolesNormalize,
			},
			{
				Name:   "list",
				Usage:  "List the canonical roles",
				Flags:  formatFlags(),
				Action: runRolesList,
			},
		},
	}
}

func runRolesNormalize(c *cli.Context) error {
	e := getEnv(c)
	if c.Args().Len() == 0 {
		return usageError("at least one label is required")
	}
	format, err := e.outputFormat(c)
	if err != nil {
		return err
	}

	mappings := make([]roleMapping, 0, c.Args().Len())
	rows := make([][]string, 0, c.Args().Len())
	for _, label := range c.Args().Slice() {
		r := roles.Normalize(label)
		m := roleMapping{Label: label, Role: r, Group: r.Group(), Canonical: roles.IsCanonical(label)}
		mappings = append(mappings, m)
		canon := "no"
		if m.Canonical {
			canon = "yes"
		}
		rows = append(rows, []string{label, string(r), string(m.Group), canon})
	}
	return e.formatter(format).Output(output.NewTable("Roles",
		[]string{"Label", "Role", "Group", "Canonical"}, rows, nil, mappings))
}

func runRolesList(c *cli.Context) error {
	e := getEnv(c)
	format, err := e.outputFormat(c)
	if err != nil {
		return err
	}
	all := roles.All()
	rows := make([][]string, 0, len(all))
	for _, r := range all {
		rows = append(rows, []string{string(r), string(r.Group())})
	}
	return e.formatter(format).Output(output.NewTable("Canonical roles",
		[]string{"Role", "Group"}, rows, nil, all))
}
