package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rekwert/tesor/pkg/ratelimit"
	"github.com/rekwert/tesor/pkg/retry"
	"github.com/rekwert/tesor/pkg/utils"
)

const (
	binanceBaseURL = "https://api.binance.com"

	// Комбинированный эндпоинт: события приходят обёрнутыми в
	// {"stream":...,"data":...}, подписки демультиплексируются по stream.
	// Сырой /ws не подходит: partial depth события не содержат символа.
	binanceWSURL = "wss://stream.binance.com:9443/stream"
)

// Binance реализует интерфейс Exchange для спот-рынка Binance.
//
// Дискавери рынков - REST /api/v3/exchangeInfo. Стаканы - partial depth
// стримы <symbol>@depth<N>@100ms: биржа присылает готовый срез верхних
// уровней каждые 100ms, дельты собирать не нужно. Тикеры - <symbol>@ticker.
// Все подписки идут через одно WebSocket соединение.
type Binance struct {
	opts Options

	httpClient *HTTPClient
	rl         *ratelimit.RateLimiter

	// Единственное WebSocket соединение, создаётся при первом Watch*
	wsManager *WSReconnectManager
	wsMu      sync.Mutex

	// id для SUBSCRIBE/UNSUBSCRIBE фреймов, уникален в рамках соединения
	subID int64

	// Кэш рынков: канонический символ -> метаданные
	markets   map[string]Market
	marketsMu sync.RWMutex

	// Активные подписки по имени стрима
	watches   map[string]*streamWatch
	watchesMu sync.RWMutex

	log *utils.Logger
}

// NewBinance создает новый экземпляр Binance.
// Использует глобальный HTTP клиент с connection pooling.
func NewBinance(opts Options) *Binance {
	return &Binance{
		opts:       opts,
		httpClient: GetGlobalHTTPClient(),
		rl:         ratelimit.NewRateLimiter(20, 40),
		markets:    make(map[string]Market),
		watches:    make(map[string]*streamWatch),
		log:        utils.L().WithExchange("binance"),
	}
}

func (b *Binance) GetName() string {
	return "binance"
}

func (b *Binance) Capabilities() Capabilities {
	return Capabilities{
		SupportsOrderBookStream: true,
		SupportsTickerStream:    true,
	}
}

// LoadMarkets загружает метаданные спот-рынков через /api/v3/exchangeInfo
func (b *Binance) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	if err := b.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var resp struct {
		Symbols []struct {
			Symbol               string `json:"symbol"`
			Status               string `json:"status"`
			BaseAsset            string `json:"baseAsset"`
			QuoteAsset           string `json:"quoteAsset"`
			IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
		} `json:"symbols"`
	}

	start := time.Now()
	err := retry.Do(ctx, func() error {
		return b.httpClient.GetJSON(ctx, binanceBaseURL+"/api/v3/exchangeInfo", &resp)
	}, b.retryConfig())
	RecordRESTRequest("binance", "exchange_info", time.Since(start), err)
	if err != nil {
		return nil, NewError("binance", "exchange_info", "failed to load markets", err)
	}

	markets := make(map[string]Market, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if !s.IsSpotTradingAllowed {
			continue
		}
		m := Market{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			ID:     s.Symbol,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		}
		markets[m.Symbol] = m
	}

	b.marketsMu.Lock()
	b.markets = markets
	b.marketsMu.Unlock()

	b.log.Info("markets loaded", zap.Int("count", len(markets)))
	return markets, nil
}

// WatchOrderBook подписывается на partial depth стрим и блокирует
// до ошибки потока или отмены контекста
func (b *Binance) WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*OrderBook)) error {
	if callback == nil {
		return fmt.Errorf("binance: nil callback")
	}

	market, err := b.market(ctx, symbol)
	if err != nil {
		return err
	}

	stream := strings.ToLower(market.ID) + "@depth" + strconv.Itoa(binanceStreamDepth(depth)) + "@100ms"

	w := newStreamWatch(market.Symbol)
	w.depth = depth
	w.onBook = callback

	if err := b.addWatch(stream, w); err != nil {
		return err
	}
	defer b.removeWatch(stream)

	return b.runWatch(ctx, w, stream)
}

// WatchTicker подписывается на стрим 24h тикера и блокирует
// до ошибки потока или отмены контекста
func (b *Binance) WatchTicker(ctx context.Context, symbol string, callback func(*Ticker)) error {
	if callback == nil {
		return fmt.Errorf("binance: nil callback")
	}

	market, err := b.market(ctx, symbol)
	if err != nil {
		return err
	}

	stream := strings.ToLower(market.ID) + "@ticker"

	w := newStreamWatch(market.Symbol)
	w.onTicker = callback

	if err := b.addWatch(stream, w); err != nil {
		return err
	}
	defer b.removeWatch(stream)

	return b.runWatch(ctx, w, stream)
}

// runWatch отправляет подписку и ждёт завершения наблюдения
func (b *Binance) runWatch(ctx context.Context, w *streamWatch, stream string) error {
	m, err := b.ensureWS()
	if err != nil {
		return NewError("binance", "ws_connect", "websocket connect failed", err)
	}

	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{stream},
		"id":     atomic.AddInt64(&b.subID, 1),
	}
	if err := m.Subscribe(stream, sub); err != nil {
		return NewError("binance", "subscribe", "subscribe failed", err)
	}
	defer m.Unsubscribe(stream, map[string]interface{}{
		"method": "UNSUBSCRIBE",
		"params": []string{stream},
		"id":     atomic.AddInt64(&b.subID, 1),
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-w.errCh:
		return err
	}
}

// Close закрывает WebSocket соединение и завершает все наблюдения
func (b *Binance) Close() error {
	b.wsMu.Lock()
	m := b.wsManager
	b.wsManager = nil
	b.wsMu.Unlock()

	b.failAllWatches(fmt.Errorf("binance: exchange closed"))

	if m != nil {
		return m.Close()
	}
	return nil
}

// ============ Внутреннее ============

// retryConfig - политика повторов discovery-запросов
func (b *Binance) retryConfig() retry.Config {
	cfg := retry.NetworkConfig()
	cfg.RetryIf = retry.IsRetryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.log.Warn("rest retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return cfg
}

// market возвращает метаданные пары, при необходимости загружая рынки
func (b *Binance) market(ctx context.Context, symbol string) (Market, error) {
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
		return Market{}, NewSymbolError("binance", symbol)
	}
	return m, nil
}

// ensureWS лениво создаёт и подключает общий WebSocket менеджер
func (b *Binance) ensureWS() (*WSReconnectManager, error) {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	if b.wsManager != nil {
		return b.wsManager, nil
	}

	m := NewWSReconnectManager("binance", binanceWSURL, b.opts.wsConfig(nil))
	m.SetOnMessage(b.handleMessage)
	m.SetOnGiveUp(b.failAllWatches)

	if err := m.Connect(); err != nil {
		return nil, err
	}

	b.wsManager = m
	return m, nil
}

func (b *Binance) addWatch(stream string, w *streamWatch) error {
	b.watchesMu.Lock()
	defer b.watchesMu.Unlock()
	if _, exists := b.watches[stream]; exists {
		return fmt.Errorf("binance: already watching %s", stream)
	}
	b.watches[stream] = w
	return nil
}

func (b *Binance) removeWatch(stream string) {
	b.watchesMu.Lock()
	delete(b.watches, stream)
	b.watchesMu.Unlock()
}

func (b *Binance) findWatch(stream string) *streamWatch {
	b.watchesMu.RLock()
	defer b.watchesMu.RUnlock()
	return b.watches[stream]
}

// failAllWatches завершает все активные наблюдения с ошибкой.
// Вызывается при исчерпании переподключений и при Close.
func (b *Binance) failAllWatches(err error) {
	b.watchesMu.RLock()
	defer b.watchesMu.RUnlock()
	for _, w := range b.watches {
		w.fail(err)
	}
}

// handleMessage демультиплексирует одно сообщение комбинированного стрима
func (b *Binance) handleMessage(message []byte) {
	var frame struct {
		Stream string              `json:"stream"`
		Data   jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		return
	}
	// Ответы на SUBSCRIBE ({"result":null,"id":N}) приходят без stream
	if frame.Stream == "" {
		return
	}

	w := b.findWatch(frame.Stream)
	if w == nil {
		return
	}

	switch {
	case strings.Contains(frame.Stream, "@depth"):
		b.handleDepth(w, frame.Data)
	case strings.Contains(frame.Stream, "@ticker"):
		b.handleTicker(w, frame.Data)
	}
}

// handleDepth обрабатывает одно partial depth событие
func (b *Binance) handleDepth(w *streamWatch, data jsoniter.RawMessage) {
	var msg struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if w.onBook == nil {
		return
	}

	w.onBook(&OrderBook{
		Exchange:  "binance",
		Symbol:    w.symbol,
		Bids:      parseLevels(msg.Bids, w.depth, false),
		Asks:      parseLevels(msg.Asks, w.depth, true),
		Timestamp: time.Now(),
	})
}

// handleTicker обрабатывает одно событие 24h тикера
func (b *Binance) handleTicker(w *streamWatch, data jsoniter.RawMessage) {
	var msg struct {
		EventTime int64  `json:"E"`
		Last      string `json:"c"`
		Bid       string `json:"b"`
		Ask       string `json:"a"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if w.onTicker == nil {
		return
	}

	bid, _ := strconv.ParseFloat(msg.Bid, 64)
	ask, _ := strconv.ParseFloat(msg.Ask, 64)
	last, _ := strconv.ParseFloat(msg.Last, 64)

	w.onTicker(&Ticker{
		Exchange:  "binance",
		Symbol:    w.symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Timestamp: msg.EventTime,
	})
}

// binanceStreamDepth выбирает ближайшую поддерживаемую глубину
// partial depth стрима (5, 10 или 20)
func binanceStreamDepth(depth int) int {
	switch {
	case depth <= 5:
		return 5
	case depth <= 10:
		return 10
	default:
		return 20
	}
}
