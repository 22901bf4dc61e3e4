/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cqroot/prompt"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"tradefeed/config"
	"tradefeed/db"
	"tradefeed/models"
	"tradefeed/trades"
)

// postCmd posts a trade straight to the database
func postCmd() *cli.Command {
	return &cli.Command{
		Name:  "post",
		Usage: "Post a trade",
		Description: `Posts a trade on behalf of a trader.

Items are given as name=value pairs, e.g. --has "Frost Dragon=40". Any side
left out on the command line is asked for interactively, one item per line
until an empty line.

Prints the stored trade as JSON.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:    "trader",
				Aliases: []string{"t"},
				Usage:   "Trader id posting the trade",
				EnvVars: []string{"TRADEFEED_TRADER"},
			},
			&cli.StringSliceFlag{
				Name:  "has",
				Usage: "Item offered as name=value, repeatable",
			},
			&cli.StringSliceFlag{
				Name:  "wants",
				Usage: "Item wanted as name=value, repeatable",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			trader := ctx.String("trader")
			if trader == "" {
				trader, err = prompt.New().Ask("Trader id:").Input("")
				if err != nil {
					return err
				}
			}

			has, err := itemsFromFlagOrPrompt(ctx.StringSlice("has"), "Item offered (name=value):")
			if err != nil {
				return err
			}
			wants, err := itemsFromFlagOrPrompt(ctx.StringSlice("wants"), "Item wanted (name=value):")
			if err != nil {
				return err
			}

			store, err := db.Open(ctx.Context, ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			trade, err := trades.NewService(store, tradesConfig(cfg)).Create(ctx.Context, trader, has, wants)
			if err != nil {
				return err
			}

			tradeJson, err := json.MarshalIndent(trade, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(tradeJson))
			return nil
		},
	}
}

func itemsFromFlagOrPrompt(values []string, question string) ([]models.Item, error) {
	if len(values) > 0 {
		return ParseItems(values)
	}

	items := []models.Item{}
	for {
		answer, err := prompt.New().Ask(question).Input("")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(answer) == "" {
			return MergeItems(items), nil
		}

		item, err := ParseItem(answer)
		if err != nil {
			fmt.Println(err)
			continue
		}
		items = append(items, item)
	}
}

// ParseItem parses an item written as name=value. The value may be left out
// and defaults to zero.
func ParseItem(raw string) (models.Item, error) {
	name, rawValue, hasValue := strings.Cut(raw, "=")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return models.Item{}, errors.New("item needs a name")
	}

	item := models.Item{Name: name}
	if hasValue && strings.TrimSpace(rawValue) != "" {
		value, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
		if err != nil || value < 0 {
			return models.Item{}, fmt.Errorf("invalid value %q for item %s", rawValue, name)
		}
		item.Value = value
	}
	return item, nil
}

func ParseItems(values []string) ([]models.Item, error) {
	items := make([]models.Item, 0, len(values))
	for _, raw := range values {
		item, err := ParseItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return MergeItems(items), nil
}

// MergeItems folds items listed more than once, names compared without case,
// into the first listing with the values added up
func MergeItems(items []models.Item) []models.Item {
	grouped := lo.GroupBy(items, func(item models.Item) string {
		return strings.ToLower(item.Name)
	})
	return lo.FilterMap(items, func(item models.Item, _ int) (models.Item, bool) {
		group, ok := grouped[strings.ToLower(item.Name)]
		if !ok {
			return models.Item{}, false
		}
		delete(grouped, strings.ToLower(item.Name))

		total := lo.SumBy(group, func(i models.Item) float64 {
			return i.Value
		})
		return models.Item{Name: item.Name, Value: total}, true
	})
}
