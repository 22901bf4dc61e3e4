package db

import "context"

// SeedLegacySummary inserts a summary written before ratings were tracked
// individually
func (db *DB) SeedLegacySummary(ctx context.Context, userId string, average float64, count int64) error {
	insert := db.flavor.NewInsertBuilder()
	insert.InsertInto("legacy_rating_summaries").
		Cols("user_id", "average", "count").
		Values(userId, average, count)
	query, args := insert.Build()
	_, err := db.db.ExecContext(ctx, query, args...)
	return err
}

var (
	SummaryQuery       = summaryQuery
	InsertSummaryQuery = insertSummaryQuery
)
