package cmd

import (
	"net/url"

	"github.com/urfave/cli/v2"

	"tradefeed/config"
	"tradefeed/feeds"
	"tradefeed/trades"
)

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   "trades.db",
		Usage:   "SQLite database file or postgres:// URL",
		EnvVars: []string{"TRADEFEED_DATABASE"},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the TOML configuration file, defaults are used when empty",
		EnvVars: []string{"TRADEFEED_CONFIG"},
	}
}

func jwtSecretFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "jwt-secret",
		Usage:    "Secret used to sign and verify bearer tokens",
		EnvVars:  []string{"TRADEFEED_JWT_SECRET"},
		Required: required,
	}
}

func feedConfig(cfg *config.TomlConfig) feeds.Config {
	return feeds.Config{
		PageSize:       cfg.Feed.PageSize,
		FeaturedInline: cfg.Feed.FeaturedInline,
		MergeBlock:     cfg.Feed.MergeBlock,
		FeaturedLimit:  cfg.Feed.FeaturedLimit,
	}
}

func tradesConfig(cfg *config.TomlConfig) trades.Config {
	return trades.Config{
		FairMargin:       cfg.Trades.FairMargin,
		PostCooldown:     cfg.Trades.PostCooldown.Duration,
		FeaturedDuration: cfg.Trades.FeaturedDuration.Duration,
		Moderators:       cfg.Trades.Moderators,
	}
}

// redact hides the password of a database URL before it is logged
func redact(database string) string {
	u, err := url.Parse(database)
	if err != nil || u.User == nil {
		return database
	}
	return u.Redacted()
}
