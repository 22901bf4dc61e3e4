package feeds

import (
	"github.com/samber/lo"

	"tradefeed/models"
)

// DefaultMergeBlock is the number of consecutive items taken from either
// source before switching to the other
const DefaultMergeBlock = 4

// MergeFeaturedWithNormal interleaves featured trades into a page of normal
// trades. Up to block featured trades lead the page, followed by alternating
// blocks of up to block normal and up to block featured trades until the
// normal trades run out. Featured trades left over are dropped for the page.
func MergeFeaturedWithNormal(featured, normal []models.Trade, block int) []models.Trade {
	if block <= 0 {
		block = DefaultMergeBlock
	}

	featuredBlocks := lo.Chunk(featured, block)
	merged := make([]models.Trade, 0, len(normal)+len(featured))

	next := 0
	takeFeatured := func() {
		if next < len(featuredBlocks) {
			merged = append(merged, featuredBlocks[next]...)
			next++
		}
	}

	takeFeatured()
	for _, normalBlock := range lo.Chunk(normal, block) {
		merged = append(merged, normalBlock...)
		takeFeatured()
	}

	return merged
}
