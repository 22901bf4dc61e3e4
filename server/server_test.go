package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradefeed/auth"
	"tradefeed/db"
	"tradefeed/feeds"
	"tradefeed/models"
	"tradefeed/server"
	"tradefeed/trades"
)

type testServer struct {
	app         *fiber.App
	jwt         *auth.JWTService
	broadcaster *server.Broadcaster
	sessions    *server.Sessions
}

func newTestServer(t *testing.T, opts ...func(*server.ServerConfig)) *testServer {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trades.db")
	require.NoError(t, db.Migrate(path))
	store, err := db.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})

	jwtService := auth.NewJWTService("test-secret", time.Hour)
	broadcaster := server.NewBroadcaster()
	sessions := server.NewSessions(store, feeds.Config{PageSize: 2, FeaturedInline: 1}, time.Minute)

	config := &server.ServerConfig{
		Hostname:    "localhost",
		CorsOrigins: "*",
		Store:       store,
		Trades: trades.NewService(store, trades.Config{
			FairMargin:       0.05,
			PostCooldown:     time.Minute,
			FeaturedDuration: time.Hour,
			Moderators:       []string{"mod"},
		}),
		Sessions:    sessions,
		Broadcaster: broadcaster,
		JWT:         jwtService,
	}
	for _, opt := range opts {
		opt(config)
	}
	app := server.Server(config)

	return &testServer{app: app, jwt: jwtService, broadcaster: broadcaster, sessions: sessions}
}

func (s *testServer) do(t *testing.T, method, target, user string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		token, err := s.jwt.GenerateToken(user)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (s *testServer) postTrade(t *testing.T, user string, has, wants string, value float64) models.Trade {
	t.Helper()

	status, body := s.do(t, http.MethodPost, "/api/trades", user, map[string]interface{}{
		"hasItems":   []models.Item{{Name: has, Value: value}},
		"wantsItems": []models.Item{{Name: wants, Value: 10}},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var trade models.Trade
	require.NoError(t, json.Unmarshal(body, &trade))
	return trade
}

func decodePage(t *testing.T, body []byte) models.FeedResponse {
	t.Helper()
	var page models.FeedResponse
	require.NoError(t, json.Unmarshal(body, &page))
	return page
}

func feedIds(page models.FeedResponse) []string {
	out := []string{}
	for _, trade := range page.Feed {
		out = append(out, trade.Id)
	}
	return out
}

func TestCreateTrade(t *testing.T) {
	s := newTestServer(t)

	events := make(chan models.TradeEvent, 4)
	s.broadcaster.AddClient("watcher", events)

	status, _ := s.do(t, http.MethodPost, "/api/trades", "", map[string]interface{}{})
	assert.Equal(t, http.StatusUnauthorized, status)

	trade := s.postTrade(t, "alice", "Frost Dragon", "Giraffe", 20)
	assert.Equal(t, "alice", trade.TraderId)
	assert.Equal(t, models.StatusLose, trade.Status)
	assert.Equal(t, 20.0, trade.HasTotal)

	event := <-events
	assert.Equal(t, models.TradeCreated, event.Type)
	assert.Equal(t, trade.Id, event.Trade.Id)

	status, body := s.do(t, http.MethodPost, "/api/trades", "alice", map[string]interface{}{
		"hasItems":   []models.Item{{Name: "Egg", Value: 1}},
		"wantsItems": []models.Item{{Name: "Potion", Value: 1}},
	})
	assert.Equal(t, http.StatusTooManyRequests, status, string(body))

	status, _ = s.do(t, http.MethodPost, "/api/trades", "bob", map[string]interface{}{
		"hasItems": []models.Item{{Name: "Egg", Value: 1}},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/api/trades/"+trade.Id, "", nil)
	require.Equal(t, http.StatusOK, status)
	var stored models.Trade
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, trade.Id, stored.Id)
	assert.Equal(t, trade.HasItems, stored.HasItems)

	status, _ = s.do(t, http.MethodGet, "/api/trades/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteAndFeatureTrade(t *testing.T) {
	s := newTestServer(t)

	trade := s.postTrade(t, "alice", "Frost Dragon", "Giraffe", 10)

	events := make(chan models.TradeEvent, 8)
	s.broadcaster.AddClient("watcher", events)

	status, _ := s.do(t, http.MethodPost, "/api/trades/"+trade.Id+"/feature", "bob", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/api/trades/"+trade.Id+"/feature?duration=soon", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := s.do(t, http.MethodPost, "/api/trades/"+trade.Id+"/feature?duration=2h", "alice", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	var featured models.Trade
	require.NoError(t, json.Unmarshal(body, &featured))
	assert.True(t, featured.IsFeatured)
	require.NotNil(t, featured.FeaturedUntil)
	assert.InDelta(t, time.Now().Add(2*time.Hour).UnixMilli(), *featured.FeaturedUntil, float64(time.Minute.Milliseconds()))

	status, _ = s.do(t, http.MethodDelete, "/api/trades/"+trade.Id, "bob", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodDelete, "/api/trades/"+trade.Id, "mod", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodDelete, "/api/trades/"+trade.Id, "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Only the successful feature and delete reach the clients
	require.Len(t, events, 2)
	event := <-events
	assert.Equal(t, models.TradeFeatured, event.Type)
	assert.Equal(t, trade.Id, event.Trade.Id)
	assert.True(t, event.Trade.IsFeatured)
	event = <-events
	assert.Equal(t, models.TradeDeleted, event.Type)
	assert.Equal(t, trade.Id, event.Trade.Id)
}

func TestFeedSession(t *testing.T) {
	s := newTestServer(t)

	first := s.postTrade(t, "alice", "Frost Dragon", "Giraffe", 10)
	time.Sleep(2 * time.Millisecond)
	second := s.postTrade(t, "bob", "Shadow Dragon", "Frost Dragon", 10)
	time.Sleep(2 * time.Millisecond)
	third := s.postTrade(t, "carol", "Egg", "Potion", 30)

	status, body := s.do(t, http.MethodGet, "/api/feed", "", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	page := decodePage(t, body)
	require.NotEmpty(t, page.Session)
	assert.Equal(t, []string{third.Id, second.Id}, feedIds(page))
	assert.True(t, page.HasMore)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, second.Cursor(), feeds.ParseCursor(*page.Cursor))

	status, body = s.do(t, http.MethodGet, "/api/feed/"+page.Session+"/more", "", nil)
	require.Equal(t, http.StatusOK, status)
	more := decodePage(t, body)
	assert.Equal(t, []string{first.Id}, feedIds(more))
	assert.False(t, more.HasMore)
	assert.Equal(t, page.Session, more.Session)

	status, body = s.do(t, http.MethodGet, "/api/feed/"+page.Session+"/search?q=Frost&scope=wants", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{second.Id}, feedIds(decodePage(t, body)))

	status, body = s.do(t, http.MethodGet, "/api/feed/"+page.Session+"/search?q=frost+dragon", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{second.Id, first.Id}, feedIds(decodePage(t, body)))

	status, _ = s.do(t, http.MethodGet, "/api/feed/"+page.Session+"/search?q=frost&scope=sideways", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/api/feed/"+page.Session+"/refresh", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{second.Id, first.Id}, feedIds(decodePage(t, body)))

	status, body = s.do(t, http.MethodGet, "/api/feed?status=lose", "", nil)
	require.Equal(t, http.StatusOK, status)
	lose := decodePage(t, body)
	assert.Equal(t, []string{third.Id}, feedIds(lose))
	assert.NotEqual(t, page.Session, lose.Session)
	assert.Equal(t, 2, s.sessions.Len())

	status, _ = s.do(t, http.MethodGet, "/api/feed?status=great", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/api/feed/unknown/more", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEmptyFeed(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/feed", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"feed":[]`)
	assert.Contains(t, string(body), `"cursor":null`)
	assert.Contains(t, string(body), `"hasMore":false`)
}

func TestRatings(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/api/users/alice/ratings", "", map[string]int{"score": 5})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = s.do(t, http.MethodPost, "/api/users/alice/ratings", "alice", map[string]int{"score": 5})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/users/alice/ratings", "bob", map[string]int{"score": 9})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodPost, "/api/users/alice/ratings", "bob", map[string]int{"score": 5})
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.do(t, http.MethodPost, "/api/users/alice/ratings", "carol", map[string]int{"score": 2})
	assert.Equal(t, http.StatusOK, status)

	status, body := s.do(t, http.MethodGet, "/api/users/alice/rating", "", nil)
	require.Equal(t, http.StatusOK, status)
	var summary models.RatingSummary
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, "alice", summary.UserId)
	assert.Equal(t, int64(2), summary.Count)
	assert.InDelta(t, 3.5, summary.Average, 1e-9)
}

func TestDashboardAndMetrics(t *testing.T) {
	s := newTestServer(t)
	s.postTrade(t, "alice", "Frost Dragon", "Giraffe", 10)

	status, body := s.do(t, http.MethodGet, "/dashboard/trades-per-time?time=day", "", nil)
	require.Equal(t, http.StatusOK, status)
	var counts []models.TradesAggregatedByTime
	require.NoError(t, json.Unmarshal(body, &counts))
	require.Len(t, counts, 1)
	assert.Equal(t, int64(1), counts[0].Count)

	status, _ = s.do(t, http.MethodGet, "/dashboard/trades-per-time?time=year", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/dashboard/trades-per-time?status=great", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "tradefeed_trade_events_total")
}

func TestRemoveSSEClient(t *testing.T) {
	s := newTestServer(t)

	events := make(chan models.TradeEvent, 1)
	s.broadcaster.AddClient("client-key", events)
	require.Equal(t, 1, s.broadcaster.Count())

	status, _ := s.do(t, http.MethodDelete, "/api/trades/sse?key=client-key", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, s.broadcaster.Count())

	_, open := <-events
	assert.False(t, open)
}

func TestTradeEventStream(t *testing.T) {
	s := newTestServer(t, func(config *server.ServerConfig) {
		config.PingInterval = 20 * time.Millisecond
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = s.app.Listener(ln)
	}()
	t.Cleanup(func() {
		s.broadcaster.Shutdown()
		_ = s.app.ShutdownWithTimeout(time.Second)
	})

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/api/trades/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSuffix(line, "\n")
	}
	// nextEvent skips ahead to the named event and returns its data
	nextEvent := func(name string) string {
		for {
			if readLine() == "event: "+name {
				return strings.TrimPrefix(readLine(), "data: ")
			}
		}
	}

	assert.Equal(t, "event: init", readLine())
	key := strings.TrimPrefix(readLine(), "data: ")
	_, err = uuid.Parse(key)
	require.NoError(t, err, key)
	assert.Equal(t, "", readLine())
	assert.Equal(t, 1, s.broadcaster.Count())

	assert.Equal(t, "", nextEvent("ping"))

	trade := s.postTrade(t, "alice", "Frost Dragon", "Giraffe", 10)
	var streamed models.Trade
	require.NoError(t, json.Unmarshal([]byte(nextEvent(models.TradeCreated)), &streamed))
	assert.Equal(t, trade.Id, streamed.Id)
	assert.Equal(t, trade.HasItems, streamed.HasItems)

	// Removing the client by its key ends the stream
	status, _ := s.do(t, http.MethodDelete, "/api/trades/sse?key="+key, "", nil)
	assert.Equal(t, http.StatusOK, status)
	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Equal(t, 0, s.broadcaster.Count())
}

func TestBroadcastSkipsFullClients(t *testing.T) {
	b := server.NewBroadcaster()

	full := make(chan models.TradeEvent, 1)
	full <- models.TradeEvent{Type: models.TradeCreated, Trade: models.Trade{Id: "t0"}}
	ready := make(chan models.TradeEvent, 1)
	b.AddClient("full", full)
	b.AddClient("ready", ready)

	done := make(chan struct{})
	go func() {
		b.Broadcast(models.TradeEvent{Type: models.TradeDeleted, Trade: models.Trade{Id: "t1"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full client")
	}

	assert.Equal(t, "t0", (<-full).Trade.Id)
	assert.Empty(t, full)

	event := <-ready
	assert.Equal(t, models.TradeDeleted, event.Type)
	assert.Equal(t, "t1", event.Trade.Id)

	b.Shutdown()
	assert.Equal(t, 0, b.Count())
}

func TestCorsOrigins(t *testing.T) {
	tests := []struct {
		name     string
		origins  string
		origin   string
		expected string
	}{
		{name: "wildcard", origins: "*", origin: "https://anywhere.test", expected: "*"},
		{name: "hostname fallback", origins: "", origin: "https://trades.test", expected: "https://trades.test"},
		{name: "other origin refused", origins: "", origin: "https://elsewhere.test", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, func(config *server.ServerConfig) {
				config.Hostname = "trades.test"
				config.CorsOrigins = tt.origins
			})

			req := httptest.NewRequest(http.MethodGet, "/api/users/alice/rating", nil)
			req.Header.Set("Origin", tt.origin)
			resp, err := s.app.Test(req, 5000)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.expected, resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}
