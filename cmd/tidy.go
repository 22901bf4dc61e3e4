/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"time"

	"tradefeed/config"
	"tradefeed/db"

	"github.com/urfave/cli/v2"
)

func tidyCmd() *cli.Command {
	return &cli.Command{
		Name:  "tidy",
		Usage: "Tidy up the database",
		Description: `Tidy up the database by clearing expired featured flags and
		removing trades that are old.

		Trades older than the configured retention (90 days by default) are
		removed to keep the database size down and the feed fresh.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.DurationFlag{
				Name:  "retention",
				Usage: "Remove trades older than this, overrides the config file",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			retention := cfg.Trades.Retention.Duration
			if ctx.IsSet("retention") {
				retention = ctx.Duration("retention")
			}

			store, err := db.Open(ctx.Context, ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.Tidy(ctx.Context, time.Now(), retention)
			if err != nil {
				return err
			}

			fmt.Printf("Cleared %d expired featured trades and removed %d old trades\n",
				result.ExpiredFeatured, result.DeletedTrades)
			return nil
		},
	}
}
