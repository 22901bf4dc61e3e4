package query

import (
	"github.com/huandu/go-sqlbuilder"
)

// TradeColumns are the trade columns every listing selects, in scan order
var TradeColumns = []string{
	"trades.id",
	"trades.trader_id",
	"trades.has_items",
	"trades.wants_items",
	"trades.has_total",
	"trades.wants_total",
	"trades.status",
	"trades.is_featured",
	"trades.featured_until",
	"trades.created_at",
}

// TradeQueryBuilder builds trade listing queries from filters and an ordering
type TradeQueryBuilder struct {
	flavor   sqlbuilder.Flavor
	filters  []FilterStrategy
	ordering Ordering
}

func NewTradeQueryBuilder(flavor sqlbuilder.Flavor) *TradeQueryBuilder {
	return &TradeQueryBuilder{
		flavor:   flavor,
		filters:  make([]FilterStrategy, 0),
		ordering: &ByRecency{},
	}
}

func (b *TradeQueryBuilder) AddFilter(filter FilterStrategy) *TradeQueryBuilder {
	b.filters = append(b.filters, filter)
	return b
}

func (b *TradeQueryBuilder) OrderBy(ordering Ordering) *TradeQueryBuilder {
	b.ordering = ordering
	return b
}

func (b *TradeQueryBuilder) Build(limit int) (string, []interface{}) {
	sb := b.flavor.NewSelectBuilder()
	sb.Select(TradeColumns...).From("trades")

	for _, filter := range b.filters {
		filter.ApplyFilter(sb)
	}

	sb.OrderBy(b.ordering.GetSort()...)
	if limit > 0 {
		sb.Limit(limit)
	}

	return sb.Build()
}

var _ Builder = (*TradeQueryBuilder)(nil)
