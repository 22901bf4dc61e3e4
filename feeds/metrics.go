package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedPages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefeed_feed_pages_total",
		Help: "The total number of feed pages loaded",
	}, []string{"mode"})

	feedPageItems = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradefeed_feed_page_items",
		Help:    "Number of trades added to a feed by a single page load",
		Buckets: prometheus.LinearBuckets(0, 5, 10),
	}, []string{"mode"})

	feedQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradefeed_feed_query_errors_total",
		Help: "The total number of store errors swallowed while loading feed pages",
	}, []string{"mode"})
)
