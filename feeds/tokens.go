package feeds

import (
	"strings"

	"github.com/samber/lo"

	"tradefeed/models"
)

// NormalizeTerm lowercases a name or search term and collapses whitespace
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.Join(strings.Fields(term), " "))
}

// ItemTokens returns the search tokens for a single item name: the full
// lowercase name followed by each lowercase word, without duplicates.
func ItemTokens(name string) []string {
	full := NormalizeTerm(name)
	if full == "" {
		return []string{}
	}

	tokens := append([]string{full}, strings.Fields(full)...)
	return lo.Uniq(tokens)
}

// ItemsTokens returns the union of the tokens of all items in order of first
// appearance
func ItemsTokens(items []models.Item) []string {
	tokens := lo.FlatMap(items, func(item models.Item, _ int) []string {
		return ItemTokens(item.Name)
	})
	return lo.Uniq(tokens)
}
