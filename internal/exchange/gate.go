package exchange

import (
	"context"
	"fmt"
)

// Gate - заготовка адаптера без поддержки потоковых стаканов
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) GetName() string {
	return "gate"
}

func (g *Gate) Capabilities() Capabilities {
	return Capabilities{
		SupportsOrderBookStream: false,
		SupportsTickerStream:    false,
	}
}

func (g *Gate) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	return nil, NewError("gate", "not_implemented", "market data streaming is not implemented", ErrNotSupported)
}

func (g *Gate) WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*OrderBook)) error {
	return fmt.Errorf("gate: %w", ErrNotSupported)
}

func (g *Gate) WatchTicker(ctx context.Context, symbol string, callback func(*Ticker)) error {
	return fmt.Errorf("gate: %w", ErrNotSupported)
}

func (g *Gate) Close() error {
	return nil
}
