package exchange

import (
	"context"
	"fmt"
)

// OKX - заготовка адаптера без поддержки потоковых стаканов.
// Супервизор по Capabilities переведёт такую биржу в терминальный
// статус unsupported, не открывая соединений.
type OKX struct{}

func NewOKX() *OKX {
	return &OKX{}
}

func (o *OKX) GetName() string {
	return "okx"
}

func (o *OKX) Capabilities() Capabilities {
	return Capabilities{
		SupportsOrderBookStream: false,
		SupportsTickerStream:    false,
	}
}

func (o *OKX) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	return nil, NewError("okx", "not_implemented", "market data streaming is not implemented", ErrNotSupported)
}

func (o *OKX) WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*OrderBook)) error {
	return fmt.Errorf("okx: %w", ErrNotSupported)
}

func (o *OKX) WatchTicker(ctx context.Context, symbol string, callback func(*Ticker)) error {
	return fmt.Errorf("okx: %w", ErrNotSupported)
}

func (o *OKX) Close() error {
	return nil
}
