package query

import (
	"github.com/huandu/go-sqlbuilder"
)

// Builder builds SQL queries for trade listings
type Builder interface {
	Build(limit int) (string, []interface{})
}

// FilterStrategy adds WHERE conditions to the query
type FilterStrategy interface {
	// ApplyFilter adds filter conditions to the query builder
	ApplyFilter(sb *sqlbuilder.SelectBuilder)
}

// Ordering decides the ORDER BY clause of a listing
type Ordering interface {
	// GetSort returns the ORDER BY clause
	GetSort() []string
}
