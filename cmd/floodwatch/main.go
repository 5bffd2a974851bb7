// Command floodwatch serves flood, river and road summaries for a region and
// offers one-shot CLI access to the same pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "floodwatch: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the YAML configuration file",
		Sources: cli.EnvVars("FLOODWATCH_CONFIG"),
	}
	return &cli.Command{
		Name:    "floodwatch",
		Usage:   "flood, river and road conditions summarised by an LLM",
		Version: version,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API, websocket stream and MCP server",
				Action: serve,
			},
			{
				Name:      "summary",
				Usage:     "answer one question and print the result as JSON",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "region", Usage: "region id, defaults to the configured region"},
					&cli.FloatFlag{Name: "lat", Usage: "latitude of the point of interest"},
					&cli.FloatFlag{Name: "lon", Usage: "longitude of the point of interest"},
				},
				Action: summary,
			},
			{
				Name:  "survey",
				Usage: "fetch all data sources concurrently and print the result as JSON",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "region", Usage: "region id, defaults to the configured region"},
					&cli.FloatFlag{Name: "lat", Usage: "latitude, defaults to the region centre"},
					&cli.FloatFlag{Name: "lon", Usage: "longitude, defaults to the region centre"},
				},
				Action: surveyCmd,
			},
			{
				Name:   "migrate",
				Usage:  "create the PostgreSQL tables",
				Action: migrate,
			},
			{
				Name:   "tools",
				Usage:  "print the tool declarations sent to the model",
				Action: listTools,
			},
		},
	}
}
