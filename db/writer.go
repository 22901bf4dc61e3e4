package db

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Maintainer periodically tidies the database while the server runs
type Maintainer struct {
	db        *DB
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewMaintainer(db *DB, interval time.Duration, retention time.Duration) *Maintainer {
	return &Maintainer{
		db:        db,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Run tidies the database immediately and then on every tick until ctx is
// cancelled
func (m *Maintainer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tidy(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping database maintainer")
			return
		case <-ticker.C:
			m.tidy(ctx)
		}
	}
}

func (m *Maintainer) tidy(ctx context.Context) {
	if _, err := m.db.Tidy(ctx, m.now(), m.retention); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Error("Error tidying database")
	}
}
