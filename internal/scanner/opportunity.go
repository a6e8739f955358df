package scanner

import "strings"

// Opportunity - найденная арбитражная связка: купить на одной бирже,
// продать на другой. Цены - средневзвешенные по исполнимому объёму,
// прибыль посчитана за вычетом тейкерских комиссий обеих ног.
type Opportunity struct {
	ID                   string  `json:"id"`
	Symbol               string  `json:"symbol"`
	BuyExchange          string  `json:"buy_exchange"`
	SellExchange         string  `json:"sell_exchange"`
	ExecutableVolumeBase float64 `json:"executable_volume_base"`
	BuyPrice             float64 `json:"buy_price"`
	SellPrice            float64 `json:"sell_price"`
	PotentialProfitPct   float64 `json:"potential_profit_pct"`
	FeesPaidQuote        float64 `json:"fees_paid_quote"`
	NetProfitPct         float64 `json:"net_profit_pct"`
	NetProfitQuote       float64 `json:"net_profit_quote"`
	// Сети вывода зарезервированы под учёт комиссий переводов
	BuyNetwork  *string `json:"buy_network"`
	SellNetwork *string `json:"sell_network"`
	Timestamp   int64   `json:"timestamp"`
}

// newOpportunity собирает запись из результата обхода лестниц.
// timestamp задаётся тиком сканера, чтобы все находки одного
// прохода имели одинаковую метку времени.
func newOpportunity(symbol, buyExchange, sellExchange string, res ladderResult, timestamp int64) Opportunity {
	netQuote := 0.0
	if res.Cost > epsilon {
		netQuote = res.NetPct / 100 * res.Cost
	}
	return Opportunity{
		ID:                   opportunityID(symbol, buyExchange, sellExchange),
		Symbol:               symbol,
		BuyExchange:          buyExchange,
		SellExchange:         sellExchange,
		ExecutableVolumeBase: res.Volume,
		BuyPrice:             res.AvgBuy,
		SellPrice:            res.AvgSell,
		PotentialProfitPct:   res.GrossPct,
		FeesPaidQuote:        res.Fees,
		NetProfitPct:         res.NetPct,
		NetProfitQuote:       netQuote,
		Timestamp:            timestamp,
	}
}

// opportunityID строит стабильный идентификатор связки:
// "BTCUSDT-binance-kraken" для покупки BTC/USDT на binance
// с продажей на kraken.
func opportunityID(symbol, buyExchange, sellExchange string) string {
	flat := strings.ReplaceAll(symbol, "/", "")
	return flat + "-" + strings.ToLower(buyExchange) + "-" + strings.ToLower(sellExchange)
}
