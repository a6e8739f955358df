package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rekwert/tesor/pkg/ratelimit"
	"github.com/rekwert/tesor/pkg/retry"
	"github.com/rekwert/tesor/pkg/utils"
)

const (
	bybitBaseURL  = "https://api.bybit.com"
	bybitWSPublic = "wss://stream.bybit.com/v5/public/spot"
)

// Bybit реализует интерфейс Exchange для спот-рынка Bybit (API v5).
//
// Дискавери рынков - REST /v5/market/instruments-info. Стаканы - топики
// orderbook.<N>.<SYMBOL>: первый кадр snapshot, дальше дельты, поэтому
// состояние собирается в bookState. Тикеры - топики tickers.<SYMBOL>
// (на споте всегда полный снапшот). Все топики идут через одно
// WebSocket соединение; живость поддерживается прикладным {"op":"ping"}.
type Bybit struct {
	opts Options

	httpClient *HTTPClient
	rl         *ratelimit.RateLimiter

	// Единственное WebSocket соединение, создаётся при первом Watch*
	wsManager *WSReconnectManager
	wsMu      sync.Mutex

	// Кэш рынков: канонический символ -> метаданные
	markets   map[string]Market
	marketsMu sync.RWMutex

	// Активные подписки по имени топика
	watches   map[string]*streamWatch
	watchesMu sync.RWMutex

	log *utils.Logger
}

// NewBybit создает новый экземпляр Bybit.
// Использует глобальный HTTP клиент с connection pooling.
func NewBybit(opts Options) *Bybit {
	return &Bybit{
		opts:       opts,
		httpClient: GetGlobalHTTPClient(),
		rl:         ratelimit.NewRateLimiter(10, 20),
		markets:    make(map[string]Market),
		watches:    make(map[string]*streamWatch),
		log:        utils.L().WithExchange("bybit"),
	}
}

func (b *Bybit) GetName() string {
	return "bybit"
}

func (b *Bybit) Capabilities() Capabilities {
	return Capabilities{
		SupportsOrderBookStream: true,
		SupportsTickerStream:    true,
	}
}

// LoadMarkets загружает метаданные спот-рынков через /v5/market/instruments-info
func (b *Bybit) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	if err := b.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol    string `json:"symbol"`
				BaseCoin  string `json:"baseCoin"`
				QuoteCoin string `json:"quoteCoin"`
				Status    string `json:"status"`
			} `json:"list"`
		} `json:"result"`
	}

	start := time.Now()
	err := retry.Do(ctx, func() error {
		if err := b.httpClient.GetJSON(ctx, bybitBaseURL+"/v5/market/instruments-info?category=spot&limit=1000", &resp); err != nil {
			return err
		}
		if resp.RetCode != 0 {
			// Ошибки уровня API не временные, повторять нет смысла
			return retry.Permanent(NewError("bybit", strconv.Itoa(resp.RetCode), resp.RetMsg, nil))
		}
		return nil
	}, b.retryConfig())
	RecordRESTRequest("bybit", "instruments_info", time.Since(start), err)
	if err != nil {
		return nil, NewError("bybit", "instruments_info", "failed to load markets", err)
	}

	markets := make(map[string]Market, len(resp.Result.List))
	for _, s := range resp.Result.List {
		m := Market{
			Symbol: s.BaseCoin + "/" + s.QuoteCoin,
			ID:     s.Symbol,
			Base:   s.BaseCoin,
			Quote:  s.QuoteCoin,
			Active: s.Status == "Trading",
		}
		markets[m.Symbol] = m
	}

	b.marketsMu.Lock()
	b.markets = markets
	b.marketsMu.Unlock()

	b.log.Info("markets loaded", zap.Int("count", len(markets)))
	return markets, nil
}

// WatchOrderBook подписывается на топик стакана и блокирует
// до ошибки потока или отмены контекста
func (b *Bybit) WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*OrderBook)) error {
	if callback == nil {
		return fmt.Errorf("bybit: nil callback")
	}

	market, err := b.market(ctx, symbol)
	if err != nil {
		return err
	}

	topic := "orderbook." + strconv.Itoa(bybitStreamDepth(depth)) + "." + market.ID

	w := newStreamWatch(market.Symbol)
	w.depth = depth
	w.onBook = callback
	w.book = newBookState()

	if err := b.addWatch(topic, w); err != nil {
		return err
	}
	defer b.removeWatch(topic)

	return b.runWatch(ctx, w, topic)
}

// WatchTicker подписывается на топик тикера и блокирует
// до ошибки потока или отмены контекста
func (b *Bybit) WatchTicker(ctx context.Context, symbol string, callback func(*Ticker)) error {
	if callback == nil {
		return fmt.Errorf("bybit: nil callback")
	}

	market, err := b.market(ctx, symbol)
	if err != nil {
		return err
	}

	topic := "tickers." + market.ID

	w := newStreamWatch(market.Symbol)
	w.onTicker = callback

	if err := b.addWatch(topic, w); err != nil {
		return err
	}
	defer b.removeWatch(topic)

	return b.runWatch(ctx, w, topic)
}

// runWatch отправляет подписку и ждёт завершения наблюдения.
// req_id дублирует топик: по нему ответ об ошибке подписки
// доставляется нужному наблюдателю.
func (b *Bybit) runWatch(ctx context.Context, w *streamWatch, topic string) error {
	m, err := b.ensureWS()
	if err != nil {
		return NewError("bybit", "ws_connect", "websocket connect failed", err)
	}

	sub := map[string]interface{}{
		"op":     "subscribe",
		"req_id": topic,
		"args":   []string{topic},
	}
	if err := m.Subscribe(topic, sub); err != nil {
		return NewError("bybit", "subscribe", "subscribe failed", err)
	}
	defer m.Unsubscribe(topic, map[string]interface{}{
		"op":   "unsubscribe",
		"args": []string{topic},
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-w.errCh:
		return err
	}
}

// Close закрывает WebSocket соединение и завершает все наблюдения
func (b *Bybit) Close() error {
	b.wsMu.Lock()
	m := b.wsManager
	b.wsManager = nil
	b.wsMu.Unlock()

	b.failAllWatches(fmt.Errorf("bybit: exchange closed"))

	if m != nil {
		return m.Close()
	}
	return nil
}

// ============ Внутреннее ============

// retryConfig - политика повторов discovery-запросов
func (b *Bybit) retryConfig() retry.Config {
	cfg := retry.NetworkConfig()
	cfg.RetryIf = retry.IsRetryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.log.Warn("rest retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return cfg
}

// market возвращает метаданные пары, при необходимости загружая рынки
func (b *Bybit) market(ctx context.Context, symbol string) (Market, error) {
	b.marketsMu.RLock()
	markets := b.markets
	b.marketsMu.RUnlock()

	if len(markets) == 0 {
		if _, err := b.LoadMarkets(ctx); err != nil {
			return Market{}, err
		}
		b.marketsMu.RLock()
		markets = b.markets
		b.marketsMu.RUnlock()
	}

	m, ok := markets[utils.NormalizeSymbol(symbol)]
	if !ok {
		return Market{}, NewSymbolError("bybit", symbol)
	}
	return m, nil
}

// ensureWS лениво создаёт и подключает общий WebSocket менеджер
func (b *Bybit) ensureWS() (*WSReconnectManager, error) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	if b.wsManager != nil {
		return b.wsManager, nil
	}

	m := NewWSReconnectManager("bybit", bybitWSPublic, b.opts.wsConfig(map[string]string{"op": "ping"}))
	m.SetOnMessage(b.handleMessage)
	m.SetOnGiveUp(b.failAllWatches)

	if err := m.Connect(); err != nil {
		return nil, err
	}

	b.wsManager = m
	return m, nil
}

func (b *Bybit) addWatch(topic string, w *streamWatch) error {
	b.watchesMu.Lock()
	defer b.watchesMu.Unlock()
	if _, exists := b.watches[topic]; exists {
		return fmt.Errorf("bybit: already watching %s", topic)
	}
	b.watches[topic] = w
	return nil
}

func (b *Bybit) removeWatch(topic string) {
	b.watchesMu.Lock()
	delete(b.watches, topic)
	b.watchesMu.Unlock()
}

func (b *Bybit) findWatch(topic string) *streamWatch {
	b.watchesMu.RLock()
	defer b.watchesMu.RUnlock()
	return b.watches[topic]
}

// failAllWatches завершает все активные наблюдения с ошибкой.
// Вызывается при исчерпании переподключений и при Close.
func (b *Bybit) failAllWatches(err error) {
	b.watchesMu.RLock()
	defer b.watchesMu.RUnlock()
	for _, w := range b.watches {
		w.fail(err)
	}
}

// handleMessage обрабатывает одно сообщение публичного WebSocket
func (b *Bybit) handleMessage(message []byte) {
	var frame struct {
		Topic   string              `json:"topic"`
		Type    string              `json:"type"`
		TS      int64               `json:"ts"`
		Data    jsoniter.RawMessage `json:"data"`
		Op      string              `json:"op"`
		Success *bool               `json:"success"`
		RetMsg  string              `json:"ret_msg"`
		ReqID   string              `json:"req_id"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		return
	}

	// Ответ на subscribe/unsubscribe/ping
	if frame.Success != nil {
		if !*frame.Success && frame.Op == "subscribe" {
			b.handleSubscribeError(frame.ReqID, frame.RetMsg)
		}
		return
	}

	switch {
	case strings.HasPrefix(frame.Topic, "orderbook."):
		b.handleOrderBook(frame.Topic, frame.Type, frame.TS, frame.Data)
	case strings.HasPrefix(frame.Topic, "tickers."):
		b.handleTicker(frame.Topic, frame.TS, frame.Data)
	}
}

// handleSubscribeError доставляет отказ подписки нужному наблюдателю
func (b *Bybit) handleSubscribeError(reqID, retMsg string) {
	w := b.findWatch(reqID)
	if w == nil {
		b.log.Warn("subscribe rejected", zap.String("req_id", reqID), zap.String("ret_msg", retMsg))
		return
	}

	if strings.Contains(strings.ToLower(retMsg), "invalid symbol") {
		w.fail(NewSymbolError("bybit", w.symbol))
		return
	}
	w.fail(NewError("bybit", "subscribe", retMsg, nil))
}

// handleOrderBook собирает стакан из snapshot/delta кадров
func (b *Bybit) handleOrderBook(topic, typ string, ts int64, data jsoniter.RawMessage) {
	w := b.findWatch(topic)
	if w == nil || w.onBook == nil || w.book == nil {
		return
	}

	var d struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	// После переподключения биржа присылает свежий snapshot,
	// накопленное состояние к этому моменту уже неактуально
	if typ == "snapshot" {
		w.book.Clear()
	}

	for _, lv := range d.Bids {
		if len(lv) < 2 {
			continue
		}
		volume, _ := strconv.ParseFloat(lv[1], 64)
		w.book.UpdateBid(lv[0], volume)
	}
	for _, lv := range d.Asks {
		if len(lv) < 2 {
			continue
		}
		volume, _ := strconv.ParseFloat(lv[1], 64)
		w.book.UpdateAsk(lv[0], volume)
	}

	bids, asks := w.book.Levels(w.depth)
	w.onBook(&OrderBook{
		Exchange:  "bybit",
		Symbol:    w.symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.UnixMilli(ts),
	})
}

// handleTicker обрабатывает один кадр тикера
func (b *Bybit) handleTicker(topic string, ts int64, data jsoniter.RawMessage) {
	w := b.findWatch(topic)
	if w == nil || w.onTicker == nil {
		return
	}

	var d struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
		Bid1Price string `json:"bid1Price"`
		Ask1Price string `json:"ask1Price"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return
	}

	bid, _ := strconv.ParseFloat(d.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(d.Ask1Price, 64)
	last, _ := strconv.ParseFloat(d.LastPrice, 64)

	w.onTicker(&Ticker{
		Exchange:  "bybit",
		Symbol:    w.symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Timestamp: ts,
	})
}

// bybitStreamDepth выбирает ближайшую поддерживаемую глубину
// спот-стакана (50 или 200; глубина 1 для арбитража бесполезна)
func bybitStreamDepth(depth int) int {
	if depth <= 50 {
		return 50
	}
	return 200
}
