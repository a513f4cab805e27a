package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/panbanda/spectrometer/internal/mcpserver"
)

func mcpCmd() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Start the MCP server on stdio",
		Description: `Serves the grade, graph_stats and discover tools over the Model
Context Protocol. Logs go to stderr; stdout carries the protocol.`,
		Action: func(c *cli.Context) error {
			e := getEnv(c)
			srv := mcpserver.NewServer(version,
				mcpserver.WithConfig(e.cfg),
				mcpserver.WithLogger(e.logger),
			)
			return srv.Run(c.Context)
		},
		Subcommands: []*cli.Command{
			{
				Name:  "manifest",
				Usage: "Print the server.json registry manifest",
				Action: func(c *cli.Context) error {
					data, err := mcpserver.GenerateManifest(version)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(getEnv(c).stdout, string(data))
					return err
				},
			},
		},
	}
}
