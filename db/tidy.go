package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// TidyResult reports what a tidy pass changed
type TidyResult struct {
	ExpiredFeatured int64
	DeletedTrades   int64
}

// Tidy clears featured flags whose window has closed and removes trades
// posted before now minus retention. A zero retention keeps every trade.
func (db *DB) Tidy(ctx context.Context, now time.Time, retention time.Duration) (TidyResult, error) {
	var result TidyResult

	expire := db.flavor.NewUpdateBuilder()
	expire.Update("trades").
		Set(
			expire.Assign("is_featured", false),
			expire.Assign("featured_until", nil),
		).
		Where(
			expire.Equal("is_featured", true),
			expire.Or(
				expire.IsNull("featured_until"),
				expire.LessEqualThan("featured_until", now.UnixMilli()),
			),
		)

	sql, args := expire.Build()
	res, err := db.db.ExecContext(ctx, sql, args...)
	if err != nil {
		return result, fmt.Errorf("expire featured error: %w", err)
	}
	result.ExpiredFeatured, _ = res.RowsAffected()

	if retention > 0 {
		cutoff := now.Add(-retention).UnixMilli()

		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			return result, fmt.Errorf("begin error: %w", err)
		}
		defer tx.Rollback()

		stale := db.flavor.NewSelectBuilder()
		stale.Select("id").From("trades").Where(stale.LessThan("created_at", cutoff))

		deleteTokens := db.flavor.NewDeleteBuilder()
		deleteTokens.DeleteFrom("trade_tokens").Where(deleteTokens.In("trade_id", stale))
		sql, args = deleteTokens.Build()
		if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
			return result, fmt.Errorf("delete tokens error: %w", err)
		}

		deleteTrades := db.flavor.NewDeleteBuilder()
		deleteTrades.DeleteFrom("trades").Where(deleteTrades.LessThan("created_at", cutoff))
		sql, args = deleteTrades.Build()
		res, err := tx.ExecContext(ctx, sql, args...)
		if err != nil {
			return result, fmt.Errorf("delete trades error: %w", err)
		}
		result.DeletedTrades, _ = res.RowsAffected()

		if err := tx.Commit(); err != nil {
			return result, fmt.Errorf("commit error: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"expired_featured": result.ExpiredFeatured,
		"deleted_trades":   result.DeletedTrades,
	}).Info("Tidied database")

	return result, nil
}
