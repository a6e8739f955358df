// Package integration contains integration tests for the arbitrage scanner.
//
// These tests verify the correct interaction between components:
// - API integration tests: full HTTP request cycle through the wired router
// - WebSocket tests: connection upgrade, seeding, per-publish streaming
// - Pipeline tests: store -> scanner -> broker -> API surface
//
// No external services are required: order books are injected directly
// into the market data store instead of opening exchange connections.
package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/rekwert/tesor/internal/api"
	"github.com/rekwert/tesor/internal/broker"
	"github.com/rekwert/tesor/internal/config"
	"github.com/rekwert/tesor/internal/exchange"
	"github.com/rekwert/tesor/internal/marketdata"
	"github.com/rekwert/tesor/internal/scanner"
	"github.com/rekwert/tesor/internal/websocket"
)

// TestServer encapsulates all components needed for integration testing
type TestServer struct {
	Config  *config.Config
	Store   *marketdata.Store
	Broker  *broker.Broker
	Hub     *websocket.Hub
	Scanner *scanner.Scanner
	Router  *mux.Router
	Server  *httptest.Server
	Cleanup func()
}

// SetupTestServer creates a complete test server with all components.
// The supervisor is wired but never started; tests feed the store directly.
func SetupTestServer(t *testing.T) *TestServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Exchanges.Enabled = []string{"alpha", "beta"}
	cfg.Exchanges.TakerFees = map[string]float64{"alpha": 0.1, "beta": 0.1}
	cfg.Scanner.Interval = 10 * time.Millisecond
	cfg.Scanner.MinProfitPct = 0.01
	cfg.Scanner.OrderBookDepth = 10
	cfg.Scanner.Symbols = []string{"BTC/USDT"}
	cfg.Scanner.TradeVolumes = map[string]float64{"BTC/USDT": 1.0}

	store := marketdata.NewStore(cfg.Exchanges.Enabled)
	b := broker.New()
	hub := websocket.NewHub(b)

	router := api.SetupRoutes(&api.Dependencies{
		Config:     cfg,
		Store:      store,
		Broker:     b,
		Hub:        hub,
		Supervisor: marketdata.NewSupervisor(cfg, store),
	})
	server := httptest.NewServer(router)

	cleanup := func() {
		// Same order as the binary shutdown: broker first so writer pumps
		// drain, then hub, then the HTTP listener
		b.Close()
		hub.Shutdown()
		server.Close()
	}

	return &TestServer{
		Config:  cfg,
		Store:   store,
		Broker:  b,
		Hub:     hub,
		Scanner: scanner.New(cfg, store, b),
		Router:  router,
		Server:  server,
		Cleanup: cleanup,
	}
}

// connectVenue marks a venue as live so its data participates in scans
func connectVenue(ts *TestServer, venues ...string) {
	for _, venue := range venues {
		ts.Store.SetStatus(venue, marketdata.StatusConnected)
	}
}

// orderBook builds a normalized book; levels are (price, volume) pairs
func orderBook(venue, symbol string, bids, asks [][2]float64) *exchange.OrderBook {
	book := &exchange.OrderBook{
		Exchange:  venue,
		Symbol:    symbol,
		Timestamp: time.Now(),
	}
	for _, level := range bids {
		book.Bids = append(book.Bids, exchange.PriceLevel{Price: level[0], Volume: level[1]})
	}
	for _, level := range asks {
		book.Asks = append(book.Asks, exchange.PriceLevel{Price: level[0], Volume: level[1]})
	}
	return book
}

// getJSON performs a GET request and decodes the JSON response into v
func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			t.Fatalf("failed to decode response %q: %v", body, err)
		}
	}
	return resp.StatusCode
}

// waitFor polls cond until it holds or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
