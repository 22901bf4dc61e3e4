/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/cqroot/prompt"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"tradefeed/config"
	"tradefeed/db"
	"tradefeed/feeds"
	"tradefeed/models"
)

const (
	actionMore    = "Load more"
	actionSearch  = "Search items"
	actionClear   = "Clear search"
	actionRefresh = "Refresh"
	actionQuit    = "Quit"
)

func browseCmd() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Browse the trade feed in the terminal",
		Description: `Pages through the trade feed the same way the HTTP API does,
with featured trades merged into the newest trades.

Narrow the feed with --status and --trader, then load more pages or search
for items interactively.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only show trades with this status (win, lose, fair)",
			},
			&cli.StringFlag{
				Name:  "trader",
				Usage: "Only show trades posted by this trader",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			filters := models.FeedFilters{TraderId: ctx.String("trader")}
			if raw := ctx.String("status"); raw != "" {
				status, ok := models.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("invalid status %q", raw)
				}
				filters.Status = status
			}

			store, err := db.Open(ctx.Context, ctx.String("database"))
			if err != nil {
				return err
			}
			defer store.Close()

			controller := feeds.NewController(store, feedConfig(cfg))
			page := controller.LoadInitial(ctx.Context, filters)
			searching := false

			for {
				printPage(page)

				actions := []string{actionSearch, actionRefresh, actionQuit}
				if searching {
					actions = []string{actionSearch, actionClear, actionRefresh, actionQuit}
				}
				if controller.State().HasMore {
					actions = append([]string{actionMore}, actions...)
				}

				action, err := prompt.New().Ask("What next?").Choose(actions)
				if err != nil {
					return err
				}

				switch action {
				case actionMore:
					page = controller.LoadMore(ctx.Context)
				case actionSearch:
					term, err := prompt.New().Ask("Item name:").Input("")
					if err != nil {
						return err
					}
					scope, err := prompt.New().Ask("Side:").Choose([]string{
						string(models.ScopeBoth),
						string(models.ScopeHas),
						string(models.ScopeWants),
					})
					if err != nil {
						return err
					}
					searching = feeds.NormalizeTerm(term) != ""
					page = controller.Search(ctx.Context, term, models.SearchScope(scope))
				case actionClear:
					searching = false
					page = controller.Search(ctx.Context, "", models.ScopeBoth)
				case actionRefresh:
					page = controller.Refresh(ctx.Context)
				case actionQuit:
					return nil
				}
			}
		},
	}
}

func printPage(page feeds.Page) {
	if len(page.Items) == 0 {
		fmt.Println("No more trades")
		return
	}

	for _, trade := range page.Items {
		fmt.Println(FormatTrade(trade))
	}
}

// FormatTrade renders a trade on a single line for the terminal
func FormatTrade(trade models.Trade) string {
	names := func(items []models.Item) string {
		return strings.Join(lo.Map(items, func(item models.Item, _ int) string {
			return fmt.Sprintf("%s (%g)", item.Name, item.Value)
		}), ", ")
	}

	marker := " "
	if trade.IsFeatured {
		marker = "*"
	}

	return fmt.Sprintf("%s %s  %-4s  %s  has: %s  wants: %s",
		marker,
		time.UnixMilli(trade.Timestamp).Format("2006-01-02 15:04"),
		trade.Status,
		trade.TraderId,
		names(trade.HasItems),
		names(trade.WantsItems),
	)
}
