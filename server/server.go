package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cache"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"tradefeed/auth"
	"tradefeed/feeds"
	"tradefeed/models"
	"tradefeed/trades"
)

// Store is what the HTTP API reads directly, outside the feed sessions
type Store interface {
	GetTrade(ctx context.Context, id string) (models.Trade, error)
	GetRatingSummary(ctx context.Context, userId string) (models.RatingSummary, error)
	Rate(ctx context.Context, userId, raterId string, score int, now time.Time) (models.RatingSummary, error)
	GetTradeCountPerTime(ctx context.Context, status models.TradeStatus, timeAgg string) ([]models.TradesAggregatedByTime, error)
}

type ServerConfig struct {

	// The hostname to use for the server
	Hostname string

	// Comma separated origins allowed to call the API. Defaults to the https
	// origin of Hostname when empty.
	CorsOrigins string

	Store  Store
	Trades *trades.Service

	// Feed controllers per client
	Sessions *Sessions

	// Broadcast channel to pass trade events to SSE clients
	Broadcaster *Broadcaster

	JWT *auth.JWTService

	// Interval between SSE keep-alive pings, 5s when zero
	PingInterval time.Duration
}

type createTradeRequest struct {
	HasItems   []models.Item `json:"hasItems"`
	WantsItems []models.Item `json:"wantsItems"`
}

type rateRequest struct {
	Score int `json:"score"`
}

// Returns a fiber.App instance to be used as an HTTP server for the trade feed
func Server(config *ServerConfig) *fiber.App {
	bc := config.Broadcaster

	pingInterval := config.PingInterval
	if pingInterval <= 0 {
		pingInterval = 5 * time.Second
	}

	app := fiber.New(fiber.Config{
		AppName: "tradefeed",
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), "/sse")
		},
	}))
	allowOrigins := config.CorsOrigins
	if allowOrigins == "" && config.Hostname != "" {
		allowOrigins = "https://" + config.Hostname
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Authorization, Content-Type, Cache-Control",
	}))

	// Only the dashboard aggregates are cached, feeds are per session
	app.Use(cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Method() != fiber.MethodGet || !strings.HasPrefix(c.Path(), "/dashboard")
		},
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.Request().URI().String()
		},
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	requireAuth := auth.Middleware(config.JWT)

	broadcast := func(eventType string, trade models.Trade) {
		tradeEvents.WithLabelValues(eventType).Inc()
		bc.Broadcast(models.TradeEvent{Type: eventType, Trade: trade})
	}

	// Feed sessions

	app.Get("/api/feed", func(c *fiber.Ctx) error {
		filters, err := parseFilters(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		key, controller := config.Sessions.Create()

		log.WithFields(log.Fields{
			"session": key,
			"status":  filters.Status,
			"trader":  filters.TraderId,
		}).Info("Starting feed session")

		return c.JSON(pageResponse(key, controller.LoadInitial(c.UserContext(), filters)))
	})

	withSession := func(handler func(c *fiber.Ctx, key string, controller *feeds.Controller) error) fiber.Handler {
		return func(c *fiber.Ctx) error {
			key := c.Params("session")
			controller, ok := config.Sessions.Get(key)
			if !ok {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Unknown or expired feed session"})
			}
			return handler(c, key, controller)
		}
	}

	app.Get("/api/feed/:session/more", withSession(func(c *fiber.Ctx, key string, controller *feeds.Controller) error {
		return c.JSON(pageResponse(key, controller.LoadMore(c.UserContext())))
	}))

	app.Get("/api/feed/:session/search", withSession(func(c *fiber.Ctx, key string, controller *feeds.Controller) error {
		scope, ok := models.ParseScope(c.Query("scope", string(models.ScopeBoth)))
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": fmt.Sprintf("invalid scope %q", c.Query("scope"))})
		}
		return c.JSON(pageResponse(key, controller.Search(c.UserContext(), c.Query("q"), scope)))
	}))

	app.Get("/api/feed/:session/refresh", withSession(func(c *fiber.Ctx, key string, controller *feeds.Controller) error {
		return c.JSON(pageResponse(key, controller.Refresh(c.UserContext())))
	}))

	// Live trade events. Registered before /api/trades/:id so the path is not
	// taken for a trade id.

	app.Delete("/api/trades/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(fiber.StatusOK).SendString("OK")
	})

	app.Get("/api/trades/sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		events := make(chan models.TradeEvent, 10)
		bc.AddClient(key, events)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			alive := time.NewTicker(pingInterval)
			defer alive.Stop()
			defer func() {
				log.Infof("Cleaning up SSE stream for client: %s", key)
				bc.RemoveClient(key)
			}()

			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-alive.C:
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-events:
					if !ok {
						log.Infof("Event channel closed for client %s", key)
						return
					}
					jsonTrade, err := json.Marshal(event.Trade)
					if err != nil {
						log.Errorf("Error marshalling trade for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, jsonTrade); err != nil {
						log.Warnf("Failed to send %s event to client %s: %v", event.Type, key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush %s event for client %s: %v", event.Type, key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	// Trades

	app.Get("/api/trades/:id", func(c *fiber.Ctx) error {
		trade, err := config.Store.GetTrade(c.UserContext(), c.Params("id"))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(trade)
	})

	app.Post("/api/trades", requireAuth, func(c *fiber.Ctx) error {
		var req createTradeRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		trade, err := config.Trades.Create(c.UserContext(), auth.UserID(c), req.HasItems, req.WantsItems)
		if err != nil {
			return sendError(c, err)
		}

		broadcast(models.TradeCreated, trade)
		return c.Status(fiber.StatusCreated).JSON(trade)
	})

	app.Delete("/api/trades/:id", requireAuth, func(c *fiber.Ctx) error {
		trade, err := config.Trades.Delete(c.UserContext(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return sendError(c, err)
		}

		broadcast(models.TradeDeleted, trade)
		return c.JSON(trade)
	})

	app.Post("/api/trades/:id/feature", requireAuth, func(c *fiber.Ctx) error {
		var duration time.Duration
		if raw := c.Query("duration"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid duration"})
			}
			duration = parsed
		}

		trade, err := config.Trades.Feature(c.UserContext(), c.Params("id"), auth.UserID(c), duration)
		if err != nil {
			return sendError(c, err)
		}

		broadcast(models.TradeFeatured, trade)
		return c.JSON(trade)
	})

	// Ratings

	app.Get("/api/users/:id/rating", func(c *fiber.Ctx) error {
		summary, err := config.Store.GetRatingSummary(c.UserContext(), c.Params("id"))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(summary)
	})

	app.Post("/api/users/:id/ratings", requireAuth, func(c *fiber.Ctx) error {
		var req rateRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		summary, err := config.Store.Rate(c.UserContext(), c.Params("id"), auth.UserID(c), req.Score, time.Now())
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(summary)
	})

	app.Get("/dashboard/trades-per-time", func(c *fiber.Ctx) error {
		status := models.TradeStatus("")
		if raw := c.Query("status"); raw != "" {
			parsed, ok := models.ParseStatus(raw)
			if !ok {
				return c.Status(fiber.StatusBadRequest).SendString("Invalid status")
			}
			status = parsed
		}

		timeAgg := c.Query("time", "hour")
		if timeAgg != "hour" && timeAgg != "day" && timeAgg != "week" {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid time")
		}

		tradesPerTime, err := config.Store.GetTradeCountPerTime(c.UserContext(), status, timeAgg)
		if err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Error getting trades per time")

			return c.Status(fiber.StatusInternalServerError).SendString("Error getting trades per time")
		}

		return c.Status(fiber.StatusOK).JSON(tradesPerTime)
	})

	return app
}

func parseFilters(c *fiber.Ctx) (models.FeedFilters, error) {
	filters := models.FeedFilters{TraderId: strings.TrimSpace(c.Query("trader"))}

	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseStatus(raw)
		if !ok {
			return filters, fmt.Errorf("invalid status %q", raw)
		}
		filters.Status = status
	}
	return filters, nil
}

func pageResponse(session string, page feeds.Page) models.FeedResponse {
	items := page.Items
	if items == nil {
		items = []models.Trade{}
	}
	return models.FeedResponse{
		Feed:    items,
		Cursor:  feeds.EncodeCursor(page.Cursor),
		HasMore: page.HasMore,
		Session: session,
	}
}

// sendError maps domain errors to HTTP statuses. Anything unknown is logged
// and reported as an internal error.
func sendError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrTradeNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrNotOwner):
		status = fiber.StatusForbidden
	case errors.Is(err, models.ErrCooldown):
		status = fiber.StatusTooManyRequests
	case errors.Is(err, models.ErrInvalidTrade),
		errors.Is(err, models.ErrSelfRating),
		errors.Is(err, models.ErrInvalidScore):
		status = fiber.StatusBadRequest
	}

	if status == fiber.StatusInternalServerError {
		log.WithFields(log.Fields{
			"error":  err,
			"method": c.Method(),
			"path":   c.Path(),
		}).Error("Request failed")
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
