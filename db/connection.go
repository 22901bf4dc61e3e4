package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	sqliteScheme   = "sqlite://"
	postgresScheme = "postgres://"
	postgresAlias  = "postgresql://"
)

// dialect works out the database/sql driver, its DSN and the sqlbuilder
// flavor from a database URL. Anything without a known scheme is treated as a
// SQLite file path.
func dialect(database string) (driver string, dsn string, flavor sqlbuilder.Flavor) {
	switch {
	case strings.HasPrefix(database, postgresScheme), strings.HasPrefix(database, postgresAlias):
		return "postgres", database, sqlbuilder.PostgreSQL
	default:
		path := strings.TrimPrefix(database, sqliteScheme)
		// Enable foreign keys and WAL mode on every pooled connection
		dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
		return "sqlite", dsn, sqlbuilder.SQLite
	}
}

// migrationURL returns the golang-migrate database URL and the migrations
// directory for a database URL
func migrationURL(database string) (string, string) {
	driver, _, _ := dialect(database)
	if driver == "postgres" {
		return database, "migrations/postgres"
	}
	return sqliteScheme + strings.TrimPrefix(database, sqliteScheme), "migrations/sqlite"
}

func connection(database string) (*sql.DB, sqlbuilder.Flavor, error) {
	driver, dsn, flavor := dialect(database)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, flavor, err
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
		db.SetMaxIdleConns(1) // Keep one connection in the pool

		// Configure some additional pragmas for better performance
		if _, err := db.Exec(`
			PRAGMA synchronous = NORMAL;
			PRAGMA cache_size = -32000; -- 32MB cache
			PRAGMA temp_store = MEMORY;
		`); err != nil {
			db.Close()
			return nil, flavor, fmt.Errorf("failed to set pragmas: %w", err)
		}
	} else {
		db.SetMaxOpenConns(20) // Allow multiple concurrent operations
		db.SetMaxIdleConns(10) // Keep some connections ready
	}

	db.SetConnMaxLifetime(time.Hour) // Recreate connections after an hour
	db.SetConnMaxIdleTime(time.Hour) // Close idle connections after an hour

	return db, flavor, nil
}

// Open connects to the database and checks that it answers, retrying with
// exponential backoff until ctx is done. Postgres is often still starting
// when the service comes up.
func Open(ctx context.Context, database string) (*DB, error) {
	db, flavor, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = time.Minute

	ping := func() error {
		err := db.PingContext(ctx)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Warn("Database not reachable yet")
		}
		return err
	}

	if err := backoff.Retry(ping, backoff.WithContext(bo, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{db: db, flavor: flavor}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}
