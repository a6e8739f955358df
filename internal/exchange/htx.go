package exchange

import (
	"context"
	"fmt"
)

// HTX - заготовка адаптера без поддержки потоковых стаканов
type HTX struct{}

func NewHTX() *HTX {
	return &HTX{}
}

func (h *HTX) GetName() string {
	return "htx"
}

func (h *HTX) Capabilities() Capabilities {
	return Capabilities{
		SupportsOrderBookStream: false,
		SupportsTickerStream:    false,
	}
}

func (h *HTX) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	return nil, NewError("htx", "not_implemented", "market data streaming is not implemented", ErrNotSupported)
}

func (h *HTX) WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*OrderBook)) error {
	return fmt.Errorf("htx: %w", ErrNotSupported)
}

func (h *HTX) WatchTicker(ctx context.Context, symbol string, callback func(*Ticker)) error {
	return fmt.Errorf("htx: %w", ErrNotSupported)
}

func (h *HTX) Close() error {
	return nil
}
