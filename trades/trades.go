// Package trades implements the trade lifecycle: posting, deleting and
// featuring trades on behalf of their owners.
package trades

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"tradefeed/feeds"
	"tradefeed/models"
)

// Store is the persistence the trade lifecycle needs
type Store interface {
	CreateTrade(ctx context.Context, trade models.Trade) error
	GetTrade(ctx context.Context, id string) (models.Trade, error)
	DeleteTrade(ctx context.Context, id string) error
	SetFeatured(ctx context.Context, id string, until time.Time) error
	GetLatestTradeTimestamp(ctx context.Context, traderId string) (time.Time, error)
}

// Config tunes the trade lifecycle
type Config struct {
	FairMargin       float64
	PostCooldown     time.Duration
	FeaturedDuration time.Duration
	Moderators       []string
	// Now overrides the clock
	Now func() time.Time
}

type Service struct {
	store  Store
	config Config
	now    func() time.Time
}

func NewService(store Store, config Config) *Service {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  store,
		config: config,
		now:    now,
	}
}

// ComputeStatus rates a trade from the point of view of the trader giving
// hasTotal for wantsTotal. Differences within margin of the larger total are
// fair.
func ComputeStatus(hasTotal, wantsTotal, margin float64) models.TradeStatus {
	tolerance := margin * math.Max(hasTotal, wantsTotal)
	diff := wantsTotal - hasTotal

	switch {
	case diff > tolerance:
		return models.StatusWin
	case -diff > tolerance:
		return models.StatusLose
	default:
		return models.StatusFair
	}
}

// BuildTrade validates the items and fills in the derived fields of a new
// trade: totals, status, search tokens, id and timestamp
func BuildTrade(traderId string, has, wants []models.Item, margin float64, now time.Time) (models.Trade, error) {
	if strings.TrimSpace(traderId) == "" {
		return models.Trade{}, fmt.Errorf("%w: missing trader", models.ErrInvalidTrade)
	}
	if len(has) == 0 || len(wants) == 0 {
		return models.Trade{}, fmt.Errorf("%w: both sides need at least one item", models.ErrInvalidTrade)
	}

	for _, item := range append(append([]models.Item{}, has...), wants...) {
		if feeds.NormalizeTerm(item.Name) == "" {
			return models.Trade{}, fmt.Errorf("%w: item without a name", models.ErrInvalidTrade)
		}
		if item.Value < 0 || math.IsNaN(item.Value) || math.IsInf(item.Value, 0) {
			return models.Trade{}, fmt.Errorf("%w: item %q has value %v", models.ErrInvalidTrade, item.Name, item.Value)
		}
	}

	hasTotal := total(has)
	wantsTotal := total(wants)

	return models.Trade{
		Id:          uuid.New().String(),
		TraderId:    traderId,
		HasItems:    has,
		WantsItems:  wants,
		HasTotal:    hasTotal,
		WantsTotal:  wantsTotal,
		Status:      ComputeStatus(hasTotal, wantsTotal, margin),
		Timestamp:   now.UnixMilli(),
		HasTokens:   feeds.ItemsTokens(has),
		WantsTokens: feeds.ItemsTokens(wants),
	}, nil
}

func total(items []models.Item) float64 {
	return lo.SumBy(items, func(item models.Item) float64 {
		return item.Value
	})
}

// Create posts a new trade for traderId unless the trader posted within the
// cooldown. The check and the insert are separate statements, so concurrent
// posts from one trader may both get through.
func (s *Service) Create(ctx context.Context, traderId string, has, wants []models.Item) (models.Trade, error) {
	now := s.now()

	trade, err := BuildTrade(traderId, has, wants, s.config.FairMargin, now)
	if err != nil {
		return models.Trade{}, err
	}

	if s.config.PostCooldown > 0 {
		latest, err := s.store.GetLatestTradeTimestamp(ctx, traderId)
		if err != nil {
			return models.Trade{}, fmt.Errorf("check cooldown: %w", err)
		}
		if !latest.IsZero() && now.Sub(latest) < s.config.PostCooldown {
			log.WithFields(log.Fields{
				"trader_id": traderId,
				"latest":    latest.Format(time.RFC3339),
			}).Info("Rejecting trade within cooldown")
			return models.Trade{}, models.ErrCooldown
		}
	}

	if err := s.store.CreateTrade(ctx, trade); err != nil {
		return models.Trade{}, fmt.Errorf("create trade: %w", err)
	}
	return trade, nil
}

// Delete removes a trade owned by requesterId. Moderators may delete any
// trade.
func (s *Service) Delete(ctx context.Context, id, requesterId string) (models.Trade, error) {
	trade, err := s.owned(ctx, id, requesterId, true)
	if err != nil {
		return models.Trade{}, err
	}

	if err := s.store.DeleteTrade(ctx, id); err != nil {
		return models.Trade{}, err
	}
	return trade, nil
}

// Feature promotes a trade owned by requesterId for duration, or for the
// configured featured duration when duration is zero
func (s *Service) Feature(ctx context.Context, id, requesterId string, duration time.Duration) (models.Trade, error) {
	if duration <= 0 {
		duration = s.config.FeaturedDuration
	}

	trade, err := s.owned(ctx, id, requesterId, false)
	if err != nil {
		return models.Trade{}, err
	}

	until := s.now().Add(duration)
	if err := s.store.SetFeatured(ctx, id, until); err != nil {
		return models.Trade{}, err
	}

	untilMillis := until.UnixMilli()
	trade.IsFeatured = true
	trade.FeaturedUntil = &untilMillis
	return trade, nil
}

func (s *Service) owned(ctx context.Context, id, requesterId string, moderatorsAllowed bool) (models.Trade, error) {
	trade, err := s.store.GetTrade(ctx, id)
	if err != nil {
		return models.Trade{}, err
	}

	if trade.TraderId != requesterId && !(moderatorsAllowed && lo.Contains(s.config.Moderators, requesterId)) {
		return models.Trade{}, models.ErrNotOwner
	}
	return trade, nil
}
