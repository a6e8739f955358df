package exchange

import (
	"testing"
)

func TestBinanceStreamDepth(t *testing.T) {
	tests := []struct {
		depth int
		want  int
	}{
		{0, 5},
		{1, 5},
		{5, 5},
		{6, 10},
		{10, 10},
		{11, 20},
		{20, 20},
		{500, 20},
	}

	for _, tt := range tests {
		if got := binanceStreamDepth(tt.depth); got != tt.want {
			t.Errorf("binanceStreamDepth(%d) = %d, want %d", tt.depth, got, tt.want)
		}
	}
}

func TestBinanceHandleDepthMessage(t *testing.T) {
	b := NewBinance(Options{})

	var got *OrderBook
	w := newStreamWatch("BTC/USDT")
	w.depth = 10
	w.onBook = func(ob *OrderBook) { got = ob }
	if err := b.addWatch("btcusdt@depth10@100ms", w); err != nil {
		t.Fatal(err)
	}

	// Записанный кадр комбинированного стрима
	frame := []byte(`{"stream":"btcusdt@depth10@100ms","data":{"lastUpdateId":160,"bids":[["100.00","1.5"],["99.50","2.0"],["98.00","0"]],"asks":[["100.50","0.8"],["101.00","3.1"]]}}`)
	b.handleMessage(frame)

	if got == nil {
		t.Fatal("expected order book callback")
	}
	if got.Exchange != "binance" || got.Symbol != "BTC/USDT" {
		t.Errorf("unexpected identity: %s %s", got.Exchange, got.Symbol)
	}
	if len(got.Bids) != 2 {
		t.Fatalf("expected 2 bids (zero volume dropped), got %d", len(got.Bids))
	}
	if got.Bids[0].Price != 100.0 || got.Bids[0].Volume != 1.5 {
		t.Errorf("unexpected best bid: %+v", got.Bids[0])
	}
	if len(got.Asks) != 2 || got.Asks[0].Price != 100.5 {
		t.Errorf("unexpected asks: %v", got.Asks)
	}
	if got.Timestamp.IsZero() {
		t.Error("expected receive timestamp to be set")
	}
}

func TestBinanceHandleTickerMessage(t *testing.T) {
	b := NewBinance(Options{})

	var got *Ticker
	w := newStreamWatch("ETH/USDT")
	w.onTicker = func(tk *Ticker) { got = tk }
	if err := b.addWatch("ethusdt@ticker", w); err != nil {
		t.Fatal(err)
	}

	frame := []byte(`{"stream":"ethusdt@ticker","data":{"e":"24hrTicker","E":1672515782136,"s":"ETHUSDT","c":"1200.50","b":"1200.40","a":"1200.60"}}`)
	b.handleMessage(frame)

	if got == nil {
		t.Fatal("expected ticker callback")
	}
	if got.Exchange != "binance" || got.Symbol != "ETH/USDT" {
		t.Errorf("unexpected identity: %s %s", got.Exchange, got.Symbol)
	}
	if got.Bid != 1200.40 || got.Ask != 1200.60 || got.Last != 1200.50 {
		t.Errorf("unexpected prices: %+v", got)
	}
	if got.Timestamp != 1672515782136 {
		t.Errorf("expected event time, got %d", got.Timestamp)
	}
}

func TestBinanceIgnoresControlFrames(t *testing.T) {
	b := NewBinance(Options{})

	called := false
	w := newStreamWatch("BTC/USDT")
	w.onBook = func(*OrderBook) { called = true }
	if err := b.addWatch("btcusdt@depth10@100ms", w); err != nil {
		t.Fatal(err)
	}

	// Ответ на SUBSCRIBE и мусор не должны трогать наблюдателей
	b.handleMessage([]byte(`{"result":null,"id":1}`))
	b.handleMessage([]byte(`not json`))
	b.handleMessage([]byte(`{"stream":"ethusdt@depth10@100ms","data":{"bids":[],"asks":[]}}`))

	if called {
		t.Error("control frames must not reach watch callbacks")
	}
}

func TestBinanceAddWatchRejectsDuplicate(t *testing.T) {
	b := NewBinance(Options{})

	if err := b.addWatch("btcusdt@depth10@100ms", newStreamWatch("BTC/USDT")); err != nil {
		t.Fatal(err)
	}
	if err := b.addWatch("btcusdt@depth10@100ms", newStreamWatch("BTC/USDT")); err == nil {
		t.Error("expected duplicate watch to be rejected")
	}
}

func TestBinanceFailAllWatches(t *testing.T) {
	b := NewBinance(Options{})

	w1 := newStreamWatch("BTC/USDT")
	w2 := newStreamWatch("ETH/USDT")
	b.addWatch("btcusdt@depth10@100ms", w1)
	b.addWatch("ethusdt@ticker", w2)

	b.failAllWatches(ErrNotSupported)

	for _, w := range []*streamWatch{w1, w2} {
		select {
		case <-w.errCh:
		default:
			t.Error("expected error delivered to every watch")
		}
	}
}

func TestBinanceCapabilities(t *testing.T) {
	b := NewBinance(Options{})
	caps := b.Capabilities()
	if !caps.SupportsOrderBookStream || !caps.SupportsTickerStream {
		t.Errorf("binance must support order book and ticker streams: %+v", caps)
	}
	if caps.AuthRequired {
		t.Error("public market data must not require auth")
	}
}
