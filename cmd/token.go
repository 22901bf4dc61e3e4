/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"tradefeed/auth"
	"tradefeed/config"
)

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Mint a bearer token for a trader",
		ArgsUsage: "<trader id>",
		Description: `Mints a signed bearer token for the given trader id. Meant for
development and scripting against the HTTP API.`,
		Flags: []cli.Flag{
			configFlag(),
			jwtSecretFlag(true),
			&cli.DurationFlag{
				Name:    "ttl",
				Value:   24 * time.Hour,
				Usage:   "Lifetime of the token",
				EnvVars: []string{"TRADEFEED_TOKEN_TTL"},
			},
		},
		Action: func(ctx *cli.Context) error {
			trader := ctx.Args().First()
			if trader == "" {
				return errors.New("please specify a trader id")
			}

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			token, err := auth.NewJWTService(ctx.String("jwt-secret"), ctx.Duration("ttl")).GenerateToken(trader)
			if err != nil {
				return err
			}

			log.WithFields(log.Fields{
				"trader":    trader,
				"moderator": cfg.IsModerator(trader),
				"ttl":       ctx.Duration("ttl"),
			}).Info("Minted token")

			fmt.Println(token)
			return nil
		},
	}
}
