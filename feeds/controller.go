package feeds

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tradefeed/models"
)

// Source is the remote store the feed pages through
type Source interface {
	NormalTrades(ctx context.Context, filters models.FeedFilters, cursor models.PageCursor, now time.Time, limit int) ([]models.Trade, error)
	FeaturedTrades(ctx context.Context, filters models.FeedFilters, now time.Time, limit int) ([]models.Trade, error)
	SearchTrades(ctx context.Context, token string, side models.Side, filters models.FeedFilters, cursor models.PageCursor, limit int) ([]models.Trade, error)
}

// Config tunes how a feed is paged and merged
type Config struct {
	// PageSize is the number of normal trades fetched per page
	PageSize int
	// FeaturedInline is the number of featured trades drawn per page
	FeaturedInline int
	// MergeBlock is the interleave block size of MergeFeaturedWithNormal
	MergeBlock int
	// FeaturedLimit caps how many featured trades are buffered per feed
	FeaturedLimit int
	// Now overrides the clock, mostly for tests
	Now func() time.Time
}

type mode int

const (
	feedMode mode = iota
	searchMode
)

func (m mode) String() string {
	if m == searchMode {
		return "search"
	}
	return "feed"
}

// Page is the result of a single load: the trades it added to the feed and
// whether another load can add more
type Page struct {
	Items   []models.Trade
	Cursor  models.PageCursor
	HasMore bool
}

// PageState is everything a controller has loaded since the last reset
type PageState struct {
	Items      []models.Trade
	LastCursor models.PageCursor
	HasMore    bool
}

// Controller owns the state of one feed view. It merges featured trades into
// the normal feed, switches between feed and search modes and keeps a
// separate cursor for each.
type Controller struct {
	source Source
	config Config

	// loadMu is held for the whole of a load so overlapping page requests
	// cannot be issued
	loadMu sync.Mutex

	mu           sync.RWMutex
	mode         mode
	filters      models.FeedFilters
	term         string
	scope        models.SearchScope
	items        []models.Trade
	seen         map[string]struct{}
	buffer       []models.Trade
	cursor       models.PageCursor
	searchCursor models.PageCursor
	hasMore      bool
}

func NewController(source Source, config Config) *Controller {
	if config.PageSize <= 0 {
		config.PageSize = 20
	}
	if config.FeaturedInline < 0 {
		config.FeaturedInline = 0
	}
	if config.MergeBlock <= 0 {
		config.MergeBlock = DefaultMergeBlock
	}
	if config.FeaturedLimit <= 0 {
		config.FeaturedLimit = 50
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Controller{
		source: source,
		config: config,
		seen:   make(map[string]struct{}),
	}
}

// LoadInitial resets the controller to the normal feed narrowed by filters
// and loads the first page. Featured trades beyond the first FeaturedInline
// are buffered for later pages.
func (c *Controller) LoadInitial(ctx context.Context, filters models.FeedFilters) Page {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	return c.loadInitial(ctx, filters)
}

func (c *Controller) loadInitial(ctx context.Context, filters models.FeedFilters) Page {
	now := c.config.Now()

	var normal, featured []models.Trade
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		normal, err = c.source.NormalTrades(gctx, filters, models.PageCursor{}, now, c.config.PageSize)
		return err
	})
	g.Go(func() error {
		var err error
		featured, err = c.source.FeaturedTrades(gctx, filters, now, c.config.FeaturedLimit)
		return err
	})

	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset(feedMode)
	c.filters = filters

	if err != nil {
		c.failOpen(err)
		return Page{}
	}

	inline := lo.Slice(featured, 0, c.config.FeaturedInline)
	c.buffer = lo.Slice(featured, c.config.FeaturedInline, len(featured))

	return c.appendPage(MergeFeaturedWithNormal(inline, normal, c.config.MergeBlock), normal)
}

// LoadMore loads the next page of the current mode. While another load is in
// flight it returns an empty page without querying the store.
func (c *Controller) LoadMore(ctx context.Context) Page {
	if !c.loadMu.TryLock() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		log.Debug("Load already in flight, skipping")
		return Page{Cursor: c.currentCursor(), HasMore: c.hasMore}
	}
	defer c.loadMu.Unlock()

	c.mu.RLock()
	current, hasMore := c.mode, c.hasMore
	filters, cursor := c.filters, c.cursor
	c.mu.RUnlock()

	if !hasMore {
		return Page{}
	}

	if current == searchMode {
		return c.searchNext(ctx)
	}

	now := c.config.Now()
	normal, err := c.source.NormalTrades(ctx, filters, cursor, now, c.config.PageSize)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failOpen(err)
		return Page{}
	}

	return c.appendPage(MergeFeaturedWithNormal(c.drawFeatured(now), normal, c.config.MergeBlock), normal)
}

// Search switches to token search over the given sides of each trade. An
// empty term goes back to the normal feed with the current filters.
func (c *Controller) Search(ctx context.Context, term string, scope models.SearchScope) Page {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	return c.search(ctx, term, scope)
}

func (c *Controller) search(ctx context.Context, term string, scope models.SearchScope) Page {
	c.mu.RLock()
	filters := c.filters
	c.mu.RUnlock()

	token := NormalizeTerm(term)
	if token == "" {
		return c.loadInitial(ctx, filters)
	}

	c.mu.Lock()
	c.reset(searchMode)
	c.term = token
	c.scope = scope
	c.hasMore = true
	c.mu.Unlock()

	return c.searchNext(ctx)
}

// Refresh reloads the current mode from the start
func (c *Controller) Refresh(ctx context.Context) Page {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	c.mu.RLock()
	current, filters, term, scope := c.mode, c.filters, c.term, c.scope
	c.mu.RUnlock()

	if current == searchMode {
		return c.search(ctx, term, scope)
	}
	return c.loadInitial(ctx, filters)
}

// State returns a copy of everything loaded so far
func (c *Controller) State() PageState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return PageState{
		Items:      append([]models.Trade{}, c.items...),
		LastCursor: c.currentCursor(),
		HasMore:    c.hasMore,
	}
}

// searchNext loads the next search page. Each side is queried for one more
// trade than a page holds so the merged result tells whether more remain.
func (c *Controller) searchNext(ctx context.Context) Page {
	c.mu.RLock()
	term, scope, filters, cursor := c.term, c.scope, c.filters, c.searchCursor
	c.mu.RUnlock()

	sides := scope.Sides()
	results := make([][]models.Trade, len(sides))

	g, gctx := errgroup.WithContext(ctx)
	for i, side := range sides {
		g.Go(func() error {
			trades, err := c.source.SearchTrades(gctx, term, side, filters, cursor, c.config.PageSize+1)
			results[i] = trades
			return err
		})
	}
	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failOpen(err)
		return Page{}
	}

	found := lo.UniqBy(lo.Flatten(results), func(trade models.Trade) string {
		return trade.Id
	})
	sortByRecency(found)

	more := len(found) > c.config.PageSize
	found = lo.Slice(found, 0, c.config.PageSize)

	page := Page{HasMore: more}
	for _, trade := range found {
		if c.markSeen(trade) {
			page.Items = append(page.Items, trade)
		}
	}
	c.items = append(c.items, page.Items...)
	if len(found) > 0 {
		c.searchCursor = found[len(found)-1].Cursor()
	}
	c.hasMore = more
	page.Cursor = c.searchCursor

	feedPages.WithLabelValues(c.mode.String()).Inc()
	feedPageItems.WithLabelValues(c.mode.String()).Observe(float64(len(page.Items)))
	return page
}

// appendPage adds a merged page to the feed. normal is the page of normal
// trades it was built from; it decides the cursor and whether more remain.
// Must be called with mu held.
func (c *Controller) appendPage(merged, normal []models.Trade) Page {
	page := Page{HasMore: len(normal) >= c.config.PageSize}
	for _, trade := range merged {
		if c.markSeen(trade) {
			page.Items = append(page.Items, trade)
		}
	}

	c.items = append(c.items, page.Items...)
	if len(normal) > 0 {
		c.cursor = normal[len(normal)-1].Cursor()
	}
	c.hasMore = page.HasMore
	page.Cursor = c.cursor

	feedPages.WithLabelValues(c.mode.String()).Inc()
	feedPageItems.WithLabelValues(c.mode.String()).Observe(float64(len(page.Items)))
	return page
}

// drawFeatured takes the next FeaturedInline buffered trades that are still
// featured at now and not shown yet. Must be called with mu held.
func (c *Controller) drawFeatured(now time.Time) []models.Trade {
	drawn := make([]models.Trade, 0, c.config.FeaturedInline)
	for len(c.buffer) > 0 && len(drawn) < c.config.FeaturedInline {
		trade := c.buffer[0]
		c.buffer = c.buffer[1:]
		if _, shown := c.seen[trade.Id]; shown || !trade.FeaturedAt(now) {
			continue
		}
		drawn = append(drawn, trade)
	}
	return drawn
}

func (c *Controller) markSeen(trade models.Trade) bool {
	if _, ok := c.seen[trade.Id]; ok {
		return false
	}
	c.seen[trade.Id] = struct{}{}
	return true
}

func (c *Controller) currentCursor() models.PageCursor {
	if c.mode == searchMode {
		return c.searchCursor
	}
	return c.cursor
}

// reset clears the page state for a new mode. Must be called with mu held.
func (c *Controller) reset(m mode) {
	c.mode = m
	c.items = nil
	c.seen = make(map[string]struct{})
	c.buffer = nil
	c.searchCursor = models.PageCursor{}
	c.hasMore = false
	if m == feedMode {
		c.cursor = models.PageCursor{}
		c.term = ""
		c.scope = ""
	}
}

// failOpen logs a store error and ends the feed. Must be called with mu held.
func (c *Controller) failOpen(err error) {
	feedQueryErrors.WithLabelValues(c.mode.String()).Inc()
	log.WithFields(log.Fields{
		"mode":    c.mode.String(),
		"filters": c.filters,
		"term":    c.term,
		"error":   err,
	}).Error("Error loading feed page")
	c.hasMore = false
}

func sortByRecency(trades []models.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Timestamp != trades[j].Timestamp {
			return trades[i].Timestamp > trades[j].Timestamp
		}
		return trades[i].Id > trades[j].Id
	})
}
