package models

import (
	"errors"
	"time"
)

var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrNotOwner      = errors.New("trade is owned by another trader")
	ErrInvalidTrade  = errors.New("invalid trade")
	ErrCooldown      = errors.New("trader is posting too often")
	ErrSelfRating    = errors.New("traders cannot rate themselves")
	ErrInvalidScore  = errors.New("rating score must be between 1 and 5")
)

// TradeStatus is the outcome of a trade seen from the trader posting it
type TradeStatus string

const (
	StatusWin  TradeStatus = "win"
	StatusLose TradeStatus = "lose"
	StatusFair TradeStatus = "fair"
)

// ParseStatus returns the status for s and false if s is not a known status
func ParseStatus(s string) (TradeStatus, bool) {
	switch TradeStatus(s) {
	case StatusWin, StatusLose, StatusFair:
		return TradeStatus(s), true
	}
	return "", false
}

// Side of a trade a search token belongs to
type Side string

const (
	SideHas   Side = "has"
	SideWants Side = "wants"
)

// SearchScope selects which sides of a trade a search looks at
type SearchScope string

const (
	ScopeHas   SearchScope = "has"
	ScopeWants SearchScope = "wants"
	ScopeBoth  SearchScope = "both"
)

// ParseScope returns the scope for s and false if s is not a known scope
func ParseScope(s string) (SearchScope, bool) {
	switch SearchScope(s) {
	case ScopeHas, ScopeWants, ScopeBoth:
		return SearchScope(s), true
	}
	return "", false
}

// Sides expands the scope into the token sides to query. Unknown scopes
// search both sides.
func (s SearchScope) Sides() []Side {
	switch s {
	case ScopeHas:
		return []Side{SideHas}
	case ScopeWants:
		return []Side{SideWants}
	default:
		return []Side{SideHas, SideWants}
	}
}

// Item is a single in-game item with the value the trader assigned to it
type Item struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Trade is an offer of hasItems in exchange for wantsItems
type Trade struct {
	Id            string      `json:"id"`
	TraderId      string      `json:"traderId"`
	HasItems      []Item      `json:"hasItems"`
	WantsItems    []Item      `json:"wantsItems"`
	HasTotal      float64     `json:"hasTotal"`
	WantsTotal    float64     `json:"wantsTotal"`
	Status        TradeStatus `json:"status"`
	IsFeatured    bool        `json:"isFeatured"`
	FeaturedUntil *int64      `json:"featuredUntil,omitempty"`
	Timestamp     int64       `json:"timestamp"`
	HasTokens     []string    `json:"-"`
	WantsTokens   []string    `json:"-"`
}

// FeaturedAt reports whether the trade is featured at the given time. An
// expired featured flag is treated as not featured.
func (t Trade) FeaturedAt(now time.Time) bool {
	return t.IsFeatured && t.FeaturedUntil != nil && *t.FeaturedUntil > now.UnixMilli()
}

// Cursor returns the position of this trade in the recency ordering
func (t Trade) Cursor() PageCursor {
	return PageCursor{Timestamp: t.Timestamp, Id: t.Id}
}

// PageCursor marks a position in a collection ordered by timestamp and id,
// both descending. The zero value is the start of the collection.
type PageCursor struct {
	Timestamp int64
	Id        string
}

func (c PageCursor) IsZero() bool {
	return c.Timestamp == 0 && c.Id == ""
}

// FeedFilters narrow the normal trade feed
type FeedFilters struct {
	Status   TradeStatus `json:"status,omitempty"`
	TraderId string      `json:"traderId,omitempty"`
}

// FeedResponse is a page of the merged feed
type FeedResponse struct {
	Feed    []Trade `json:"feed"`
	Cursor  *string `json:"cursor"`
	HasMore bool    `json:"hasMore"`
	Session string  `json:"session,omitempty"`
}

// RatingSummary is the running average of the ratings a trader received
type RatingSummary struct {
	UserId  string  `json:"userId"`
	Average float64 `json:"average"`
	Count   int64   `json:"count"`
}

// TradesAggregatedByTime counts the trades posted in a time bucket
type TradesAggregatedByTime struct {
	Time  time.Time `json:"time"`
	Count int64     `json:"count"`
}

// TradeEvent is broadcast to live subscribers when a trade changes
type TradeEvent struct {
	Type  string `json:"type"`
	Trade Trade  `json:"trade"`
}

const (
	TradeCreated  = "create-trade"
	TradeDeleted  = "delete-trade"
	TradeFeatured = "feature-trade"
)
