package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"tradefeed/models"
	"tradefeed/query"
)

// NormalTrades returns up to limit trades that are not featured at now,
// newest first, starting after cursor
func (db *DB) NormalTrades(ctx context.Context, filters models.FeedFilters, cursor models.PageCursor, now time.Time, limit int) ([]models.Trade, error) {
	qb := query.NewTradeQueryBuilder(db.flavor).
		AddFilter(&query.NotFeaturedFilter{Now: now}).
		AddFilter(&query.StatusFilter{Status: filters.Status}).
		AddFilter(&query.TraderFilter{TraderId: filters.TraderId}).
		AddFilter(&query.CursorFilter{Cursor: cursor})

	return db.listTrades(ctx, qb, limit)
}

// FeaturedTrades returns up to limit trades whose featured window is open at
// now, ordered by the end of the window
func (db *DB) FeaturedTrades(ctx context.Context, filters models.FeedFilters, now time.Time, limit int) ([]models.Trade, error) {
	qb := query.NewTradeQueryBuilder(db.flavor).
		AddFilter(&query.FeaturedFilter{Now: now}).
		AddFilter(&query.StatusFilter{Status: filters.Status}).
		AddFilter(&query.TraderFilter{TraderId: filters.TraderId}).
		OrderBy(&query.ByFeaturedUntil{})

	return db.listTrades(ctx, qb, limit)
}

// SearchTrades returns up to limit trades carrying token on side, newest
// first, starting after cursor
func (db *DB) SearchTrades(ctx context.Context, token string, side models.Side, filters models.FeedFilters, cursor models.PageCursor, limit int) ([]models.Trade, error) {
	qb := query.NewTradeQueryBuilder(db.flavor).
		AddFilter(&query.TokenFilter{Side: side, Token: token}).
		AddFilter(&query.StatusFilter{Status: filters.Status}).
		AddFilter(&query.TraderFilter{TraderId: filters.TraderId}).
		AddFilter(&query.CursorFilter{Cursor: cursor})

	return db.listTrades(ctx, qb, limit)
}

func (db *DB) listTrades(ctx context.Context, qb query.Builder, limit int) ([]models.Trade, error) {
	sql, args := qb.Build(limit)

	log.WithFields(log.Fields{
		"sql":  sql,
		"args": args,
	}).Debug("Generated SQL query")

	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return trades, nil
}

// GetTradeCountPerTime returns the number of trades posted per hour, day or
// week, optionally for a single status
func (db *DB) GetTradeCountPerTime(ctx context.Context, status models.TradeStatus, timeAgg string) ([]models.TradesAggregatedByTime, error) {
	var bucket int64

	switch timeAgg {
	case "day":
		bucket = int64(24 * time.Hour / time.Millisecond)
	case "week":
		bucket = int64(7 * 24 * time.Hour / time.Millisecond)
	default:
		bucket = int64(time.Hour / time.Millisecond)
	}

	// Timestamps are stored as epoch milliseconds so integer division buckets
	// them the same way in every dialect
	bucketExpr := fmt.Sprintf("(created_at / %d) * %d", bucket, bucket)

	sb := db.flavor.NewSelectBuilder()
	sb.Select(bucketExpr+" AS bucket", "count(*) AS count").From("trades")
	if status != "" {
		sb.Where(sb.Equal("status", string(status)))
	}
	sb.GroupBy(bucketExpr)
	sb.OrderBy("bucket").Asc()

	sql, args := sb.Build()
	rows, err := db.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	counts := []models.TradesAggregatedByTime{}
	for rows.Next() {
		var millis int64
		var count models.TradesAggregatedByTime
		if err := rows.Scan(&millis, &count.Count); err != nil {
			continue // Skip this row
		}
		count.Time = time.UnixMilli(millis).UTC()
		counts = append(counts, count)
	}

	return counts, rows.Err()
}
