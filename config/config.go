package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it can be written as "10m" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// TomlFeed holds feed paging settings
type TomlFeed struct {
	PageSize       int      `toml:"page_size"`
	FeaturedInline int      `toml:"featured_inline"`
	MergeBlock     int      `toml:"merge_block"`
	FeaturedLimit  int      `toml:"featured_limit"`
	SessionTTL     Duration `toml:"session_ttl"`
}

// TomlTrades holds trade lifecycle settings
type TomlTrades struct {
	FairMargin       float64  `toml:"fair_margin"`
	PostCooldown     Duration `toml:"post_cooldown"`
	FeaturedDuration Duration `toml:"featured_duration"`
	Retention        Duration `toml:"retention"`
	Moderators       []string `toml:"moderators,omitempty"`
}

// TomlServer holds HTTP server settings
type TomlServer struct {
	Hostname    string `toml:"hostname"`
	CorsOrigins string `toml:"cors_origins"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Feed   TomlFeed   `toml:"feed"`
	Trades TomlTrades `toml:"trades"`
	Server TomlServer `toml:"server"`
}

// Default returns the configuration used when no file is given. Values left
// out of a config file fall back to these.
func Default() *TomlConfig {
	return &TomlConfig{
		Feed: TomlFeed{
			PageSize:       20,
			FeaturedInline: 3,
			MergeBlock:     4,
			FeaturedLimit:  50,
			SessionTTL:     Duration{10 * time.Minute},
		},
		Trades: TomlTrades{
			FairMargin:       0.05,
			PostCooldown:     Duration{time.Minute},
			FeaturedDuration: Duration{24 * time.Hour},
			Retention:        Duration{90 * 24 * time.Hour},
		},
		Server: TomlServer{
			Hostname:    "localhost",
			CorsOrigins: "*",
		},
	}
}

func LoadConfig(path string) (*TomlConfig, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

func (c *TomlConfig) Validate() error {
	if c.Feed.PageSize < 1 {
		return fmt.Errorf("feed.page_size must be positive, got %d", c.Feed.PageSize)
	}
	if c.Feed.FeaturedInline < 0 {
		return fmt.Errorf("feed.featured_inline must not be negative, got %d", c.Feed.FeaturedInline)
	}
	if c.Feed.MergeBlock < 1 {
		return fmt.Errorf("feed.merge_block must be positive, got %d", c.Feed.MergeBlock)
	}
	if c.Feed.FeaturedLimit < 0 {
		return fmt.Errorf("feed.featured_limit must not be negative, got %d", c.Feed.FeaturedLimit)
	}
	if c.Feed.SessionTTL.Duration < 0 {
		return fmt.Errorf("feed.session_ttl must not be negative, got %s", c.Feed.SessionTTL)
	}
	if c.Trades.FairMargin < 0 || c.Trades.FairMargin >= 1 {
		return fmt.Errorf("trades.fair_margin must be in [0, 1), got %f", c.Trades.FairMargin)
	}
	if c.Trades.PostCooldown.Duration < 0 {
		return fmt.Errorf("trades.post_cooldown must not be negative, got %s", c.Trades.PostCooldown)
	}
	// A zero window would feature trades that are already expired
	if c.Trades.FeaturedDuration.Duration <= 0 {
		return fmt.Errorf("trades.featured_duration must be positive, got %s", c.Trades.FeaturedDuration)
	}
	return nil
}

// IsModerator reports whether the trader may moderate other traders' trades
func (c *TomlConfig) IsModerator(traderId string) bool {
	for _, moderator := range c.Trades.Moderators {
		if moderator == traderId {
			return true
		}
	}
	return false
}
