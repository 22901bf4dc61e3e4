package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"tradefeed/models"
)

// GetRatingSummary returns the rating summary of a user, migrating it from
// the legacy summaries on first access. Users without ratings get an empty
// summary.
func (db *DB) GetRatingSummary(ctx context.Context, userId string) (models.RatingSummary, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RatingSummary{}, fmt.Errorf("begin error: %w", err)
	}
	defer tx.Rollback()

	summary, err := db.summaryTx(ctx, tx, userId, false)
	if err != nil {
		return models.RatingSummary{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.RatingSummary{}, fmt.Errorf("commit error: %w", err)
	}
	return summary, nil
}

// Rate records a rating of userId by raterId and updates the running
// average. A rater rating the same user again replaces their earlier score.
func (db *DB) Rate(ctx context.Context, userId, raterId string, score int, now time.Time) (models.RatingSummary, error) {
	if userId == raterId {
		return models.RatingSummary{}, models.ErrSelfRating
	}
	if score < 1 || score > 5 {
		return models.RatingSummary{}, models.ErrInvalidScore
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RatingSummary{}, fmt.Errorf("begin error: %w", err)
	}
	defer tx.Rollback()

	summary, err := db.summaryTx(ctx, tx, userId, true)
	if err != nil {
		return models.RatingSummary{}, err
	}

	previous, err := db.previousScoreTx(ctx, tx, userId, raterId)
	if err != nil {
		return models.RatingSummary{}, err
	}

	if previous > 0 {
		summary = ReplaceScore(summary, previous, score)
		update := db.flavor.NewUpdateBuilder()
		update.Update("ratings").
			Set(update.Assign("score", score), update.Assign("created_at", now.UnixMilli())).
			Where(update.Equal("user_id", userId), update.Equal("rater_id", raterId))
		sql, args := update.Build()
		if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
			return models.RatingSummary{}, fmt.Errorf("update rating error: %w", err)
		}
	} else {
		summary = AddScore(summary, score)
		insert := db.flavor.NewInsertBuilder()
		insert.InsertInto("ratings").
			Cols("user_id", "rater_id", "score", "created_at").
			Values(userId, raterId, score, now.UnixMilli())
		sql, args := insert.Build()
		if _, err := tx.ExecContext(ctx, sql, args...); err != nil {
			return models.RatingSummary{}, fmt.Errorf("insert rating error: %w", err)
		}
	}

	if err := db.saveSummaryTx(ctx, tx, summary); err != nil {
		return models.RatingSummary{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.RatingSummary{}, fmt.Errorf("commit error: %w", err)
	}
	return summary, nil
}

// AddScore folds a new score into a running average
func AddScore(summary models.RatingSummary, score int) models.RatingSummary {
	total := summary.Average*float64(summary.Count) + float64(score)
	summary.Count++
	summary.Average = total / float64(summary.Count)
	return summary
}

// ReplaceScore swaps a score already counted in the average for a new one
func ReplaceScore(summary models.RatingSummary, previous, score int) models.RatingSummary {
	if summary.Count == 0 {
		return AddScore(summary, score)
	}
	total := summary.Average*float64(summary.Count) - float64(previous) + float64(score)
	summary.Average = total / float64(summary.Count)
	return summary
}

// summaryTx loads the summary of userId inside tx, moving a legacy summary
// over on first access. With create set a user without any summary gets an
// empty row so the caller can update it. On Postgres the returned row stays
// locked until tx ends.
func (db *DB) summaryTx(ctx context.Context, tx *sql.Tx, userId string, create bool) (models.RatingSummary, error) {
	summary, found, err := db.readSummaryTx(ctx, tx, "rating_summaries", userId)
	if err != nil || found {
		return summary, err
	}

	legacy, found, err := db.readSummaryTx(ctx, tx, "legacy_rating_summaries", userId)
	if err != nil {
		return models.RatingSummary{}, err
	}

	if !found {
		// A concurrent transaction may have moved the legacy row while we
		// waited on its lock.
		summary, found, err = db.readSummaryTx(ctx, tx, "rating_summaries", userId)
		if err != nil || found {
			return summary, err
		}
		if !create {
			return models.RatingSummary{UserId: userId}, nil
		}
		legacy = models.RatingSummary{UserId: userId}
	} else {
		log.WithFields(log.Fields{
			"user_id": userId,
			"average": legacy.Average,
			"count":   legacy.Count,
		}).Info("Migrating legacy rating summary")
	}

	query, args := insertSummaryQuery(db.flavor, legacy)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return models.RatingSummary{}, fmt.Errorf("insert summary error: %w", err)
	}

	if found {
		remove := db.flavor.NewDeleteBuilder()
		remove.DeleteFrom("legacy_rating_summaries").Where(remove.Equal("user_id", userId))
		query, args = remove.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return models.RatingSummary{}, fmt.Errorf("remove legacy summary error: %w", err)
		}
	}

	summary, found, err = db.readSummaryTx(ctx, tx, "rating_summaries", userId)
	if err != nil {
		return models.RatingSummary{}, err
	}
	if !found {
		return models.RatingSummary{}, fmt.Errorf("summary of %s missing after insert", userId)
	}
	return summary, nil
}

func (db *DB) readSummaryTx(ctx context.Context, tx *sql.Tx, table, userId string) (models.RatingSummary, bool, error) {
	query, args := summaryQuery(db.flavor, table, userId)

	var summary models.RatingSummary
	err := tx.QueryRowContext(ctx, query, args...).Scan(&summary.UserId, &summary.Average, &summary.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RatingSummary{}, false, nil
	}
	if err != nil {
		return models.RatingSummary{}, false, fmt.Errorf("query %s error: %w", table, err)
	}
	return summary, true, nil
}

// summaryQuery selects one summary row. Postgres locks the row for the rest
// of the transaction; SQLite already serializes writers on its single
// connection and has no FOR UPDATE.
func summaryQuery(flavor sqlbuilder.Flavor, table, userId string) (string, []interface{}) {
	sb := flavor.NewSelectBuilder()
	sb.Select("user_id", "average", "count").From(table).Where(sb.Equal("user_id", userId))
	if flavor == sqlbuilder.PostgreSQL {
		sb.ForUpdate()
	}
	return sb.Build()
}

// insertSummaryQuery inserts a summary row, leaving an existing row for the
// same user untouched
func insertSummaryQuery(flavor sqlbuilder.Flavor, summary models.RatingSummary) (string, []interface{}) {
	insert := flavor.NewInsertBuilder()
	insert.InsertInto("rating_summaries").
		Cols("user_id", "average", "count").
		Values(summary.UserId, summary.Average, summary.Count).
		SQL("ON CONFLICT (user_id) DO NOTHING")
	return insert.Build()
}

func (db *DB) previousScoreTx(ctx context.Context, tx *sql.Tx, userId, raterId string) (int, error) {
	sb := db.flavor.NewSelectBuilder()
	sb.Select("score").From("ratings").
		Where(sb.Equal("user_id", userId), sb.Equal("rater_id", raterId))
	query, args := sb.Build()

	var score int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query rating error: %w", err)
	}
	return score, nil
}

// saveSummaryTx writes back a summary row loaded by summaryTx
func (db *DB) saveSummaryTx(ctx context.Context, tx *sql.Tx, summary models.RatingSummary) error {
	update := db.flavor.NewUpdateBuilder()
	update.Update("rating_summaries").
		Set(update.Assign("average", summary.Average), update.Assign("count", summary.Count)).
		Where(update.Equal("user_id", summary.UserId))
	query, args := update.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update summary error: %w", err)
	}
	return nil
}
