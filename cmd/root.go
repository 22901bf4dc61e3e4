/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "tradefeed",
		Usage: "A paginated trade feed for in-game item trading",
		Description: `A trade feed where traders post what they have and what they
		want in exchange. The feed merges featured trades into the newest
		trades, pages through them with opaque cursors and supports item
		search on either side of a trade.

		Trades are stored in SQLite or PostgreSQL and served over an HTTP
		API with live updates over server-sent events.

		Flags can generally be set via environment variables, e.g.:

		--database => TRADEFEED_DATABASE=trades.db
		--port => TRADEFEED_PORT=3000
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (trace, debug, info, warn, error)",
				EnvVars: []string{"TRADEFEED_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "Write logs as JSON",
				EnvVars: []string{"TRADEFEED_LOG_JSON"},
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := log.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			log.SetLevel(level)

			if ctx.Bool("log-json") {
				log.SetFormatter(&log.JSONFormatter{})
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			tidyCmd(),
			postCmd(),
			browseCmd(),
			tokenCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}
