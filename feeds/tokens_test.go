package feeds_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradefeed/feeds"
	"tradefeed/models"
)

func TestItemTokens(t *testing.T) {
	tests := []struct {
		name     string
		item     string
		expected []string
	}{
		{
			name:     "multi word name",
			item:     "Mega Neon Frost Dragon",
			expected: []string{"mega neon frost dragon", "mega", "neon", "frost", "dragon"},
		},
		{
			name:     "single word name has one token",
			item:     "Dragon",
			expected: []string{"dragon"},
		},
		{
			name:     "repeated words",
			item:     "Neon neon Cat",
			expected: []string{"neon neon cat", "neon", "cat"},
		},
		{
			name:     "extra whitespace collapsed",
			item:     "  Shadow   Dragon ",
			expected: []string{"shadow dragon", "shadow", "dragon"},
		},
		{
			name:     "blank name",
			item:     "   ",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, feeds.ItemTokens(tt.item))
		})
	}
}

func TestItemsTokensUnion(t *testing.T) {
	tokens := feeds.ItemsTokens([]models.Item{
		{Name: "Frost Dragon", Value: 10},
		{Name: "Shadow Dragon", Value: 12},
	})

	assert.Equal(t, []string{"frost dragon", "frost", "dragon", "shadow dragon", "shadow"}, tokens)
}

func TestNormalizeTerm(t *testing.T) {
	assert.Equal(t, "frost dragon", feeds.NormalizeTerm("  FROST\tDragon "))
	assert.Equal(t, "", feeds.NormalizeTerm(" \n "))
}
