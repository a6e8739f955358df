package marketdata

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rekwert/tesor/internal/exchange"
)

// fakeAdapter - управляемая биржа для тестов сессии.
// Наблюдатели блокируются на каналах, как настоящие.
type fakeAdapter struct {
	caps      exchange.Capabilities
	markets   map[string]exchange.Market
	loadErr   error            // ошибка первого LoadMarkets
	watchErrs map[string]error // ошибка наблюдателя стакана по символу
	feeds     map[string]chan *exchange.OrderBook

	loadCalls int32 // atomic
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		caps: exchange.Capabilities{SupportsOrderBookStream: true, SupportsTickerStream: false},
		markets: map[string]exchange.Market{
			"BTC/USDT": {Symbol: "BTC/USDT", ID: "BTCUSDT", Active: true},
			"ETH/USDT": {Symbol: "ETH/USDT", ID: "ETHUSDT", Active: true},
		},
		feeds: map[string]chan *exchange.OrderBook{
			"BTC/USDT": make(chan *exchange.OrderBook, 16),
			"ETH/USDT": make(chan *exchange.OrderBook, 16),
		},
		closed: make(chan struct{}),
	}
}

func (f *fakeAdapter) push(book *exchange.OrderBook) {
	f.feeds[book.Symbol] <- book
}

func (f *fakeAdapter) GetName() string                     { return "fake" }
func (f *fakeAdapter) Capabilities() exchange.Capabilities { return f.caps }

func (f *fakeAdapter) LoadMarkets(ctx context.Context) (map[string]exchange.Market, error) {
	if atomic.AddInt32(&f.loadCalls, 1) == 1 && f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.markets, nil
}

func (f *fakeAdapter) WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*exchange.OrderBook)) error {
	if err := f.watchErrs[symbol]; err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed:
			return errors.New("fake: closed")
		case book := <-f.feeds[symbol]:
			callback(book)
		}
	}
}

func (f *fakeAdapter) WatchTicker(ctx context.Context, symbol string, callback func(*exchange.Ticker)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return errors.New("fake: closed")
	}
}

func (f *fakeAdapter) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// fakeFactory выдаёт новый адаптер на каждую попытку подключения
type fakeFactory struct {
	mu    sync.Mutex
	made  []*fakeAdapter
	build func(attempt int) *fakeAdapter
}

func (ff *fakeFactory) factory(venue string) (exchange.Exchange, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	a := ff.build(len(ff.made) + 1)
	ff.made = append(ff.made, a)
	return a, nil
}

func (ff *fakeFactory) adapter(i int) *fakeAdapter {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if i >= len(ff.made) {
		return nil
	}
	return ff.made[i]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.made)
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Venue:          "fake",
		Symbols:        []string{"BTC/USDT", "ETH/USDT"},
		Depth:          5,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
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

func TestSessionUnsupportedIsTerminal(t *testing.T) {
	store := NewStore([]string{"fake"})
	ff := &fakeFactory{build: func(int) *fakeAdapter {
		a := newFakeAdapter()
		a.caps = exchange.Capabilities{SupportsOrderBookStream: false}
		return a
	}}

	sess := NewSession(testSessionConfig(), store, ff.factory)
	sess.Run(context.Background()) // терминальный статус возвращает управление

	if got := store.Status("fake"); got != StatusUnsupported {
		t.Errorf("status = %s, want unsupported", got)
	}
	if calls := atomic.LoadInt32(&ff.adapter(0).loadCalls); calls != 0 {
		t.Errorf("LoadMarkets must not be called for unsupported exchange, got %d calls", calls)
	}
}

func TestSessionNoPairsIsTerminal(t *testing.T) {
	store := NewStore([]string{"fake"})
	ff := &fakeFactory{build: func(int) *fakeAdapter {
		a := newFakeAdapter()
		a.markets = map[string]exchange.Market{
			// Одна пара чужая, вторая делистнута
			"XRP/USDT": {Symbol: "XRP/USDT", ID: "XRPUSDT", Active: true},
			"ETH/USDT": {Symbol: "ETH/USDT", ID: "ETHUSDT", Active: false},
		}
		return a
	}}

	sess := NewSession(testSessionConfig(), store, ff.factory)
	sess.Run(context.Background())

	if got := store.Status("fake"); got != StatusNoPairs {
		t.Errorf("status = %s, want no_pairs", got)
	}
	if len(store.CloneBooks()) != 0 {
		t.Error("no_pairs venue must hold no books")
	}
}

func TestSessionAuthErrorIsTerminal(t *testing.T) {
	store := NewStore([]string{"fake"})
	ff := &fakeFactory{build: func(int) *fakeAdapter {
		a := newFakeAdapter()
		a.loadErr = exchange.NewAuthError("fake", "invalid api key")
		return a
	}}

	sess := NewSession(testSessionConfig(), store, ff.factory)
	sess.Run(context.Background())

	if got := store.Status("fake"); got != StatusAuthError {
		t.Errorf("status = %s, want auth_error", got)
	}
	if ff.count() != 1 {
		t.Errorf("auth error must not be retried, got %d attempts", ff.count())
	}
}

func TestSessionRetriesTransientDiscoveryError(t *testing.T) {
	store := NewStore([]string{"fake"})
	ff := &fakeFactory{build: func(attempt int) *fakeAdapter {
		a := newFakeAdapter()
		if attempt == 1 {
			a.loadErr = errors.New("connection refused")
		}
		return a
	}}

	sess := NewSession(testSessionConfig(), store, ff.factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()

	// Первая попытка падает, вторая должна дойти до connected
	waitUntil(t, 2*time.Second, func() bool {
		return store.Status("fake") == StatusConnected
	}, "session did not reconnect after transient discovery error")

	if ff.count() < 2 {
		t.Errorf("expected at least 2 connection attempts, got %d", ff.count())
	}

	cancel()
	<-done
	if got := store.Status("fake"); got != StatusDisconnected {
		t.Errorf("status after cancel = %s, want disconnected", got)
	}
}

func TestSessionStoresValidatedBooks(t *testing.T) {
	store := NewStore([]string{"fake"})
	ff := &fakeFactory{build: func(int) *fakeAdapter { return newFakeAdapter() }}

	sess := NewSession(testSessionConfig(), store, ff.factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()

	waitUntil(t, 2*time.Second, func() bool {
		return store.Status("fake") == StatusConnected
	}, "session did not connect")

	ff.adapter(0).push(testBook("fake", "BTC/USDT", 100, 101))

	waitUntil(t, 2*time.Second, func() bool {
		books := store.CloneBooks()
		return books["fake"]["BTC/USDT"] != nil
	}, "book did not reach the store")

	cancel()
	<-done
	if len(store.CloneBooks()) != 0 {
		t.Error("books must be cleared after disconnect")
	}
}

func TestSessionDropsInvalidSymbolOnly(t *testing.T) {
	store := NewStore([]string{"fake"})
	ff := &fakeFactory{build: func(int) *fakeAdapter {
		a := newFakeAdapter()
		a.watchErrs = map[string]error{
			"ETH/USDT": exchange.NewSymbolError("fake", "ETH/USDT"),
		}
		return a
	}}

	sess := NewSession(testSessionConfig(), store, ff.factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()

	waitUntil(t, 2*time.Second, func() bool {
		return store.Status("fake") == StatusConnected
	}, "session did not connect")

	// Потеря одной пары не сносит сессию: вторая продолжает получать данные
	ff.adapter(0).push(testBook("fake", "BTC/USDT", 100, 101))
	waitUntil(t, 2*time.Second, func() bool {
		return store.CloneBooks()["fake"]["BTC/USDT"] != nil
	}, "surviving symbol stopped flowing")

	if got := store.Status("fake"); got != StatusConnected {
		t.Errorf("status = %s, want connected after single-symbol drop", got)
	}
	if ff.count() != 1 {
		t.Errorf("single-symbol failure must not restart the session, got %d attempts", ff.count())
	}

	cancel()
	<-done
}

func TestSessionWatcherErrorRestartsSession(t *testing.T) {
	store := NewStore([]string{"fake"})
	ff := &fakeFactory{build: func(attempt int) *fakeAdapter {
		a := newFakeAdapter()
		if attempt == 1 {
			a.watchErrs = map[string]error{
				"BTC/USDT": errors.New("stream corrupted"),
			}
		}
		return a
	}}

	sess := NewSession(testSessionConfig(), store, ff.factory)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sess.Run(ctx); close(done) }()

	// Ошибка наблюдателя сносит первую сессию, вторая попытка выживает
	waitUntil(t, 2*time.Second, func() bool {
		return ff.count() >= 2 && store.Status("fake") == StatusConnected
	}, "session did not restart after watcher error")

	cancel()
	<-done
}

func TestValidateBook(t *testing.T) {
	valid := func() *exchange.OrderBook {
		return &exchange.OrderBook{
			Bids: []exchange.PriceLevel{{Price: 101, Volume: 1}, {Price: 100, Volume: 2}},
			Asks: []exchange.PriceLevel{{Price: 102, Volume: 1}, {Price: 103, Volume: 2}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*exchange.OrderBook)
		ok     bool
	}{
		{"valid", func(*exchange.OrderBook) {}, true},
		{"empty sides", func(b *exchange.OrderBook) { b.Bids = nil; b.Asks = nil }, true},
		{"zero price", func(b *exchange.OrderBook) { b.Bids[0].Price = 0 }, false},
		{"negative volume", func(b *exchange.OrderBook) { b.Asks[1].Volume = -1 }, false},
		{"nan price", func(b *exchange.OrderBook) { b.Bids[0].Price = math.NaN() }, false},
		{"infinite price", func(b *exchange.OrderBook) { b.Asks[0].Price = math.Inf(1) }, false},
		{"bids ascending", func(b *exchange.OrderBook) { b.Bids[0].Price = 99 }, false},
		{"asks descending", func(b *exchange.OrderBook) { b.Asks[0].Price = 104 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := valid()
			tt.mutate(book)
			err := validateBook(book)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
