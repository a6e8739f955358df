package marketdata

import (
	"testing"
	"time"

	"github.com/rekwert/tesor/internal/exchange"
)

func testBook(venue, symbol string, bid, ask float64) *exchange.OrderBook {
	return &exchange.OrderBook{
		Exchange:  venue,
		Symbol:    symbol,
		Bids:      []exchange.PriceLevel{{Price: bid, Volume: 1.0}},
		Asks:      []exchange.PriceLevel{{Price: ask, Volume: 1.0}},
		Timestamp: time.Now(),
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		str      string
		terminal bool
		live     bool
	}{
		{StatusDisconnected, "disconnected", false, false},
		{StatusConnecting, "connecting", false, true},
		{StatusConnected, "connected", false, true},
		{StatusError, "error", false, false},
		{StatusAuthError, "auth_error", true, false},
		{StatusUnsupported, "unsupported", true, false},
		{StatusNoPairs, "no_pairs", true, false},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s: IsTerminal() = %v, want %v", tt.str, got, tt.terminal)
		}
		if got := tt.status.IsLive(); got != tt.live {
			t.Errorf("%s: IsLive() = %v, want %v", tt.str, got, tt.live)
		}
	}
}

func TestStoreSeedsDisconnected(t *testing.T) {
	s := NewStore([]string{"binance", "kraken"})

	statuses := s.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 venues, got %d", len(statuses))
	}
	for venue, st := range statuses {
		if st != StatusDisconnected {
			t.Errorf("%s: initial status = %s", venue, st)
		}
	}
}

func TestStorePutBookRequiresRow(t *testing.T) {
	s := NewStore([]string{"binance"})

	// До подключения строки нет - запись отбрасывается
	if s.PutBook(testBook("binance", "BTC/USDT", 100, 101)) {
		t.Error("PutBook must reject writes before the venue row exists")
	}

	s.SetStatus("binance", StatusConnected)
	if !s.PutBook(testBook("binance", "BTC/USDT", 100, 101)) {
		t.Error("PutBook must accept writes for a connected venue")
	}

	// После сноса сессии строка исчезает - опоздавшие записи отбрасываются
	s.SetStatus("binance", StatusError)
	if s.PutBook(testBook("binance", "BTC/USDT", 100, 101)) {
		t.Error("PutBook must reject writes after the session was torn down")
	}
}

func TestStorePutBookRejectsCrossed(t *testing.T) {
	s := NewStore([]string{"binance"})
	s.SetStatus("binance", StatusConnected)

	good := testBook("binance", "BTC/USDT", 100, 101)
	if !s.PutBook(good) {
		t.Fatal("valid book must be accepted")
	}

	// Пересечённый стакан отбрасывается, действует предыдущий
	crossed := testBook("binance", "BTC/USDT", 102, 101)
	if s.PutBook(crossed) {
		t.Error("crossed book must be rejected")
	}

	books := s.CloneBooks()
	kept := books["binance"]["BTC/USDT"]
	if kept == nil {
		t.Fatal("previous book must be kept after crossed update")
	}
	if kept.Bids[0].Price != 100 {
		t.Errorf("unexpected surviving book: %+v", kept)
	}
}

func TestStoreCloneBooksOnlyLiveVenues(t *testing.T) {
	s := NewStore([]string{"binance", "bybit", "kraken"})

	s.SetStatus("binance", StatusConnected)
	s.PutBook(testBook("binance", "BTC/USDT", 100, 101))

	s.SetStatus("bybit", StatusConnected)
	s.PutBook(testBook("bybit", "BTC/USDT", 99, 100.5))
	s.SetStatus("bybit", StatusError) // снос: книги исчезают

	s.SetStatus("kraken", StatusConnecting) // живой статус, но книг ещё нет

	books := s.CloneBooks()
	if len(books) != 1 {
		t.Fatalf("expected only binance in clone, got %v", books)
	}
	if books["binance"]["BTC/USDT"] == nil {
		t.Error("binance book missing from clone")
	}
}

func TestStoreCloneBooksIsolation(t *testing.T) {
	s := NewStore([]string{"binance"})
	s.SetStatus("binance", StatusConnected)
	s.PutBook(testBook("binance", "BTC/USDT", 100, 101))

	clone := s.CloneBooks()
	clone["binance"]["ETH/USDT"] = testBook("binance", "ETH/USDT", 10, 11)
	delete(clone["binance"], "BTC/USDT")

	fresh := s.CloneBooks()
	if fresh["binance"]["BTC/USDT"] == nil {
		t.Error("store must not observe clone mutations")
	}
	if fresh["binance"]["ETH/USDT"] != nil {
		t.Error("store must not observe symbols added to a clone")
	}
}

func TestStoreDropBook(t *testing.T) {
	s := NewStore([]string{"binance"})
	s.SetStatus("binance", StatusConnected)
	s.PutBook(testBook("binance", "BTC/USDT", 100, 101))
	s.PutBook(testBook("binance", "ETH/USDT", 10, 11))

	s.DropBook("binance", "BTC/USDT")

	books := s.CloneBooks()
	if books["binance"]["BTC/USDT"] != nil {
		t.Error("dropped book must be gone")
	}
	if books["binance"]["ETH/USDT"] == nil {
		t.Error("other symbols must survive a drop")
	}
}

func TestStoreTickers(t *testing.T) {
	s := NewStore([]string{"binance"})

	rejected := s.PutTicker(&exchange.Ticker{Exchange: "binance", Symbol: "BTC/USDT", Bid: 100})
	if rejected {
		t.Error("PutTicker must reject writes before the venue row exists")
	}

	s.SetStatus("binance", StatusConnected)
	if !s.PutTicker(&exchange.Ticker{Exchange: "binance", Symbol: "BTC/USDT", Bid: 100, Ask: 101, Last: 100.5}) {
		t.Fatal("PutTicker must accept writes for a connected venue")
	}

	tickers := s.CloneTickers()
	tk := tickers["binance"]["BTC/USDT"]
	if tk == nil || tk.Bid != 100 || tk.Ask != 101 {
		t.Errorf("unexpected ticker clone: %+v", tk)
	}

	s.DropTicker("binance", "BTC/USDT")
	if s.CloneTickers()["binance"] != nil {
		t.Error("dropped ticker must be gone")
	}
}

func TestStoreStatusTransitionsClearData(t *testing.T) {
	tests := []struct {
		name   string
		status Status
	}{
		{"error", StatusError},
		{"disconnected", StatusDisconnected},
		{"auth_error", StatusAuthError},
		{"unsupported", StatusUnsupported},
		{"no_pairs", StatusNoPairs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore([]string{"binance"})
			s.SetStatus("binance", StatusConnected)
			s.PutBook(testBook("binance", "BTC/USDT", 100, 101))
			s.PutTicker(&exchange.Ticker{Exchange: "binance", Symbol: "BTC/USDT"})

			s.SetStatus("binance", tt.status)

			if len(s.CloneBooks()) != 0 {
				t.Error("books must be cleared on leaving a live status")
			}
			if len(s.CloneTickers()) != 0 {
				t.Error("tickers must be cleared on leaving a live status")
			}
			if got := s.Status("binance"); got != tt.status {
				t.Errorf("status = %s, want %s", got, tt.status)
			}
		})
	}
}

func TestStoreReset(t *testing.T) {
	s := NewStore([]string{"binance", "bybit", "kraken"})

	s.SetStatus("binance", StatusConnected)
	s.PutBook(testBook("binance", "BTC/USDT", 100, 101))
	s.SetStatus("bybit", StatusError)
	s.SetStatus("kraken", StatusAuthError)

	s.Reset()

	if len(s.CloneBooks()) != 0 {
		t.Error("reset must clear all books")
	}

	statuses := s.Statuses()
	if statuses["binance"] != StatusDisconnected || statuses["bybit"] != StatusDisconnected {
		t.Errorf("non-terminal statuses must reset to disconnected: %v", statuses)
	}
	// Терминальный статус - постоянная проблема конфигурации, остаётся видимым
	if statuses["kraken"] != StatusAuthError {
		t.Errorf("terminal status must survive reset, got %s", statuses["kraken"])
	}
}
