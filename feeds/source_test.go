package feeds_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"tradefeed/feeds"
	"tradefeed/models"
)

var errStoreDown = errors.New("store unavailable")

// memorySource is an in-memory feeds.Source with the same semantics as the
// SQL store
type memorySource struct {
	mu     sync.Mutex
	trades []models.Trade
	fail   bool

	// block, when set, is waited on by NormalTrades calls after the first
	block        chan struct{}
	normalCalls  atomic.Int32
	searchCalls  atomic.Int32
	enteredFetch chan struct{}
}

func newMemorySource(trades ...models.Trade) *memorySource {
	return &memorySource{trades: trades}
}

func (s *memorySource) matching(keep func(models.Trade) bool) []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Filter(s.trades, func(trade models.Trade, _ int) bool {
		return keep(trade)
	})
}

func matchesFilters(trade models.Trade, filters models.FeedFilters) bool {
	if filters.Status != "" && trade.Status != filters.Status {
		return false
	}
	if filters.TraderId != "" && trade.TraderId != filters.TraderId {
		return false
	}
	return true
}

func after(trade models.Trade, cursor models.PageCursor) bool {
	if cursor.IsZero() {
		return true
	}
	return trade.Timestamp < cursor.Timestamp ||
		(trade.Timestamp == cursor.Timestamp && trade.Id < cursor.Id)
}

func newestFirst(trades []models.Trade) []models.Trade {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Timestamp != trades[j].Timestamp {
			return trades[i].Timestamp > trades[j].Timestamp
		}
		return trades[i].Id > trades[j].Id
	})
	return trades
}

func (s *memorySource) NormalTrades(ctx context.Context, filters models.FeedFilters, cursor models.PageCursor, now time.Time, limit int) ([]models.Trade, error) {
	if s.normalCalls.Add(1) > 1 && s.block != nil {
		if s.enteredFetch != nil {
			close(s.enteredFetch)
		}
		<-s.block
	}
	if s.fail {
		return nil, errStoreDown
	}

	trades := newestFirst(s.matching(func(trade models.Trade) bool {
		return !trade.FeaturedAt(now) && matchesFilters(trade, filters) && after(trade, cursor)
	}))
	return lo.Slice(trades, 0, limit), nil
}

func (s *memorySource) FeaturedTrades(ctx context.Context, filters models.FeedFilters, now time.Time, limit int) ([]models.Trade, error) {
	if s.fail {
		return nil, errStoreDown
	}

	trades := s.matching(func(trade models.Trade) bool {
		return trade.FeaturedAt(now) && matchesFilters(trade, filters)
	})
	sort.Slice(trades, func(i, j int) bool {
		return *trades[i].FeaturedUntil > *trades[j].FeaturedUntil
	})
	return lo.Slice(trades, 0, limit), nil
}

func (s *memorySource) SearchTrades(ctx context.Context, token string, side models.Side, filters models.FeedFilters, cursor models.PageCursor, limit int) ([]models.Trade, error) {
	s.searchCalls.Add(1)
	if s.fail {
		return nil, errStoreDown
	}

	trades := newestFirst(s.matching(func(trade models.Trade) bool {
		items := trade.HasItems
		if side == models.SideWants {
			items = trade.WantsItems
		}
		return lo.Contains(feeds.ItemsTokens(items), token) && matchesFilters(trade, filters) && after(trade, cursor)
	}))
	return lo.Slice(trades, 0, limit), nil
}

var _ feeds.Source = (*memorySource)(nil)
