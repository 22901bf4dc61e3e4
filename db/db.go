package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"tradefeed/models"
	"tradefeed/query"
)

// DB handles all database operations with a shared connection pool
type DB struct {
	db     *sql.DB
	flavor sqlbuilder.Flavor
}

// Write operations

// CreateTrade stores a trade together with its search tokens
func (db *DB) CreateTrade(ctx context.Context, trade models.Trade) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	log.WithFields(log.Fields{
		"id":          trade.Id,
		"trader_id":   trade.TraderId,
		"status":      trade.Status,
		"has_total":   trade.HasTotal,
		"wants_total": trade.WantsTotal,
		"created_at":  time.UnixMilli(trade.Timestamp).Format(time.RFC3339),
	}).Info("Creating trade")

	hasItems, err := json.Marshal(trade.HasItems)
	if err != nil {
		return fmt.Errorf("encode has items: %w", err)
	}
	wantsItems, err := json.Marshal(trade.WantsItems)
	if err != nil {
		return fmt.Errorf("encode wants items: %w", err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin error: %w", err)
	}
	defer tx.Rollback()

	insertTrade := db.flavor.NewInsertBuilder()
	insertTrade.InsertInto("trades").
		Cols("id", "trader_id", "has_items", "wants_items", "has_total", "wants_total",
			"status", "is_featured", "featured_until", "created_at").
		Values(trade.Id, trade.TraderId, string(hasItems), string(wantsItems), trade.HasTotal,
			trade.WantsTotal, string(trade.Status), trade.IsFeatured, nullableMillis(trade.FeaturedUntil),
			trade.Timestamp)

	sql, args := insertTrade.Build()
	if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}

	if len(trade.HasTokens)+len(trade.WantsTokens) > 0 {
		insertTokens := db.flavor.NewInsertBuilder()
		insertTokens.InsertInto("trade_tokens").Cols("trade_id", "side", "token")
		for _, token := range trade.HasTokens {
			insertTokens.Values(trade.Id, string(models.SideHas), token)
		}
		for _, token := range trade.WantsTokens {
			insertTokens.Values(trade.Id, string(models.SideWants), token)
		}

		sql, args = insertTokens.Build()
		if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert tokens error: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteTrade removes a trade and its search tokens
func (db *DB) DeleteTrade(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	log.WithFields(log.Fields{
		"id": id,
	}).Info("Deleting trade")

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin error: %w", err)
	}
	defer tx.Rollback()

	deleteTokens := db.flavor.NewDeleteBuilder()
	deleteTokens.DeleteFrom("trade_tokens").Where(deleteTokens.Equal("trade_id", id))
	sql, args := deleteTokens.Build()
	if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete tokens error: %w", err)
	}

	deleteTrade := db.flavor.NewDeleteBuilder()
	deleteTrade.DeleteFrom("trades").Where(deleteTrade.Equal("id", id))
	sql, args = deleteTrade.Build()
	res, err := tx.ExecContext(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrTradeNotFound
	}

	return tx.Commit()
}

// SetFeatured marks a trade as featured until the given time
func (db *DB) SetFeatured(ctx context.Context, id string, until time.Time) error {
	update := db.flavor.NewUpdateBuilder()
	update.Update("trades").
		Set(
			update.Assign("is_featured", true),
			update.Assign("featured_until", until.UnixMilli()),
		).
		Where(update.Equal("id", id))

	sql, args := update.Build()
	res, err := db.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update error: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrTradeNotFound
	}
	return nil
}

// Read operations

// GetTrade returns a single trade by id
func (db *DB) GetTrade(ctx context.Context, id string) (models.Trade, error) {
	sb := db.flavor.NewSelectBuilder()
	sb.Select(query.TradeColumns...).From("trades").Where(sb.Equal("trades.id", id))

	sql, args := sb.Build()
	trade, err := scanTrade(db.db.QueryRowContext(ctx, sql, args...))
	if errors.Is(err, errNoRows) {
		return models.Trade{}, models.ErrTradeNotFound
	}
	if err != nil {
		return models.Trade{}, fmt.Errorf("query error: %w", err)
	}
	return trade, nil
}

// GetLatestTradeTimestamp returns when the trader last posted, or the zero
// time if the trader never posted
func (db *DB) GetLatestTradeTimestamp(ctx context.Context, traderId string) (time.Time, error) {
	sb := db.flavor.NewSelectBuilder()
	sb.Select("created_at").From("trades").
		Where(sb.Equal("trader_id", traderId)).
		OrderBy("created_at").Desc().
		Limit(1)

	sql, args := sb.Build()

	var millis int64
	err := db.db.QueryRowContext(ctx, sql, args...).Scan(&millis)
	if errors.Is(err, errNoRows) {
		return time.Time{}, nil // Return zero time if no trades
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query error: %w", err)
	}
	return time.UnixMilli(millis), nil
}

var errNoRows = sql.ErrNoRows

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (models.Trade, error) {
	var (
		trade         models.Trade
		hasItems      string
		wantsItems    string
		status        string
		featuredUntil sql.NullInt64
	)

	if err := row.Scan(
		&trade.Id,
		&trade.TraderId,
		&hasItems,
		&wantsItems,
		&trade.HasTotal,
		&trade.WantsTotal,
		&status,
		&trade.IsFeatured,
		&featuredUntil,
		&trade.Timestamp,
	); err != nil {
		return models.Trade{}, err
	}

	if err := json.Unmarshal([]byte(hasItems), &trade.HasItems); err != nil {
		return models.Trade{}, fmt.Errorf("decode has items of %s: %w", trade.Id, err)
	}
	if err := json.Unmarshal([]byte(wantsItems), &trade.WantsItems); err != nil {
		return models.Trade{}, fmt.Errorf("decode wants items of %s: %w", trade.Id, err)
	}

	trade.Status = models.TradeStatus(status)
	if featuredUntil.Valid {
		until := featuredUntil.Int64
		trade.FeaturedUntil = &until
	}

	return trade, nil
}

func nullableMillis(millis *int64) interface{} {
	if millis == nil {
		return nil
	}
	return *millis
}
