/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"tradefeed/auth"
	"tradefeed/config"
	"tradefeed/db"
	"tradefeed/server"
	"tradefeed/trades"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the trade feed HTTP API",
		Description: `Starts the trade feed HTTP server.

Serves feed sessions, trade posting and ratings over HTTP and streams trade
events to dashboard clients. A maintenance loop clears expired featured flags
and removes trades older than the configured retention.

Run the migrate command first, serve does not touch the schema.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			jwtSecretFlag(true),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   3000,
				Usage:   "Port to listen on",
				EnvVars: []string{"TRADEFEED_PORT"},
			},
			&cli.StringFlag{
				Name:    "hostname",
				Aliases: []string{"n"},
				Usage:   "Hostname the server is reachable on, overrides the config file",
				EnvVars: []string{"TRADEFEED_HOSTNAME"},
			},
			&cli.DurationFlag{
				Name:    "tidy-interval",
				Value:   time.Hour,
				Usage:   "How often the database is tidied while serving",
				EnvVars: []string{"TRADEFEED_TIDY_INTERVAL"},
			},
			&cli.DurationFlag{
				Name:    "token-ttl",
				Value:   24 * time.Hour,
				Usage:   "Lifetime of bearer tokens",
				EnvVars: []string{"TRADEFEED_TOKEN_TTL"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			hostname := cfg.Server.Hostname
			if ctx.String("hostname") != "" {
				hostname = ctx.String("hostname")
			}

			// Cancel everything on interrupt
			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := db.Open(runCtx, ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			broadcaster := server.NewBroadcaster()
			sessions := server.NewSessions(store, feedConfig(cfg), cfg.Feed.SessionTTL.Duration)
			maintainer := db.NewMaintainer(store, ctx.Duration("tidy-interval"), cfg.Trades.Retention.Duration)

			app := server.Server(&server.ServerConfig{
				Hostname:    hostname,
				CorsOrigins: cfg.Server.CorsOrigins,
				Store:       store,
				Trades:      trades.NewService(store, tradesConfig(cfg)),
				Sessions:    sessions,
				Broadcaster: broadcaster,
				JWT:         auth.NewJWTService(ctx.String("jwt-secret"), ctx.Duration("token-ttl")),
			})

			g, gctx := errgroup.WithContext(runCtx)

			g.Go(func() error {
				maintainer.Run(gctx)
				return nil
			})

			g.Go(func() error {
				sessions.Run(gctx)
				return nil
			})

			g.Go(func() error {
				log.WithFields(log.Fields{
					"hostname": hostname,
					"port":     ctx.Int("port"),
				}).Info("Starting server")
				return app.Listen(fmt.Sprintf(":%d", ctx.Int("port")))
			})

			g.Go(func() error {
				<-gctx.Done()
				log.Info("Gracefully shutting down...")
				broadcaster.Shutdown()
				return app.ShutdownWithTimeout(60 * time.Second)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			log.Info("Done!")
			return nil
		},
	}
}
