package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations
var fs embed.FS

func migrator(database string) (*migrate.Migrate, error) {
	url, dir := migrationURL(database)

	// Create a new source instance using the embedded migrations
	d, err := iofs.New(fs, dir)
	if err != nil {
		return nil, err
	}

	// Create a new migrate instance using the iofs source instance and our database
	m, err := migrate.NewWithSourceInstance("iofs", d, url)
	if err != nil {
		return nil, fmt.Errorf("error creating migrate instance: %w", err)
	}
	return m, nil
}

// Migrate runs the database migrations using golang-migrate
func Migrate(database string) error {
	log.Info("Running migrations")
	m, err := migrator(database)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error running migrations: %w", err)
	}

	return nil
}

// Rollback reverts the most recent migration
func Rollback(database string) error {
	log.Info("Rolling back last migration")
	m, err := migrator(database)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil {
		return fmt.Errorf("error rolling back migration: %w", err)
	}

	return nil
}
