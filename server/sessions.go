package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tradefeed/feeds"
)

type session struct {
	controller *feeds.Controller
	lastSeen   time.Time
}

// Sessions keeps one feed controller per client, keyed by a random id, and
// drops the ones left idle for longer than the ttl
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*session

	source feeds.Source
	config feeds.Config
	ttl    time.Duration
	now    func() time.Time
}

func NewSessions(source feeds.Source, config feeds.Config, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		sessions: make(map[string]*session),
		source:   source,
		config:   config,
		ttl:      ttl,
		now:      now,
	}
}

// Create starts a new session with a fresh controller
func (s *Sessions) Create() (string, *feeds.Controller) {
	key := uuid.New().String()
	controller := feeds.NewController(s.source, s.config)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = &session{controller: controller, lastSeen: s.now()}
	activeSessions.Set(float64(len(s.sessions)))

	return key, controller
}

// Get returns the controller of a live session and marks it as used
func (s *Sessions) Get(key string) (*feeds.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess.controller, true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reap drops every session idle for longer than the ttl and returns how many
// were dropped
func (s *Sessions) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	reaped := 0
	for key, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, key)
			reaped++
		}
	}

	activeSessions.Set(float64(len(s.sessions)))
	reapedSessions.Add(float64(reaped))
	return reaped
}

// Run reaps idle sessions until ctx is cancelled
func (s *Sessions) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := s.Reap(); reaped > 0 {
				log.WithFields(log.Fields{
					"reaped": reaped,
					"live":   s.Len(),
				}).Info("Reaped idle feed sessions")
			}
		}
	}
}
