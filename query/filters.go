package query

import (
	"time"

	"github.com/huandu/go-sqlbuilder"

	"tradefeed/models"
)

// StatusFilter keeps trades with the given status
type StatusFilter struct {
	Status models.TradeStatus
}

func (f *StatusFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if f.Status != "" {
		sb.Where(sb.Equal("trades.status", string(f.Status)))
	}
}

// TraderFilter keeps the trades posted by a single trader
type TraderFilter struct {
	TraderId string
}

func (f *TraderFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if f.TraderId != "" {
		sb.Where(sb.Equal("trades.trader_id", f.TraderId))
	}
}

// FeaturedFilter keeps trades whose featured window is still open at Now
type FeaturedFilter struct {
	Now time.Time
}

func (f *FeaturedFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(
		sb.Equal("trades.is_featured", true),
		sb.GreaterThan("trades.featured_until", f.Now.UnixMilli()),
	)
}

// NotFeaturedFilter keeps trades that are not featured at Now. Trades with an
// expired featured window count as not featured.
type NotFeaturedFilter struct {
	Now time.Time
}

func (f *NotFeaturedFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Or(
		sb.Equal("trades.is_featured", false),
		sb.IsNull("trades.featured_until"),
		sb.LessEqualThan("trades.featured_until", f.Now.UnixMilli()),
	))
}

// TokenFilter keeps trades carrying Token on the given side
type TokenFilter struct {
	Side  models.Side
	Token string
}

func (f *TokenFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	sb.Join("trade_tokens", "trade_tokens.trade_id = trades.id")
	sb.Where(
		sb.Equal("trade_tokens.side", string(f.Side)),
		sb.Equal("trade_tokens.token", f.Token),
	)
}

// CursorFilter keeps trades strictly after Cursor in recency order
type CursorFilter struct {
	Cursor models.PageCursor
}

func (f *CursorFilter) ApplyFilter(sb *sqlbuilder.SelectBuilder) {
	if f.Cursor.IsZero() {
		return
	}
	sb.Where(sb.Or(
		sb.LessThan("trades.created_at", f.Cursor.Timestamp),
		sb.And(
			sb.Equal("trades.created_at", f.Cursor.Timestamp),
			sb.LessThan("trades.id", f.Cursor.Id),
		),
	))
}

// ByRecency orders trades newest first
type ByRecency struct{}

func (o *ByRecency) GetSort() []string {
	return []string{"trades.created_at DESC", "trades.id DESC"}
}

// ByFeaturedUntil orders featured trades by the end of their featured window,
// latest first
type ByFeaturedUntil struct{}

func (o *ByFeaturedUntil) GetSort() []string {
	return []string{"trades.featured_until DESC", "trades.id DESC"}
}

var _ FilterStrategy = (*StatusFilter)(nil)
var _ FilterStrategy = (*TraderFilter)(nil)
var _ FilterStrategy = (*FeaturedFilter)(nil)
var _ FilterStrategy = (*NotFeaturedFilter)(nil)
var _ FilterStrategy = (*TokenFilter)(nil)
var _ FilterStrategy = (*CursorFilter)(nil)
var _ Ordering = (*ByRecency)(nil)
var _ Ordering = (*ByFeaturedUntil)(nil)
