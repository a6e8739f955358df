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
	krakenBaseURL = "https://api.kraken.com"
	krakenWSURL   = "wss://ws.kraken.com"
)

// krakenAssetAliases - исторические коды активов Kraken
var krakenAssetAliases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// Kraken реализует интерфейс Exchange для спот-рынка Kraken (WS API v1).
//
// Дискавери рынков - REST /0/public/AssetPairs, идентификатором пары
// служит wsname ("XBT/USDT"). Стаканы - канал book: первый кадр snapshot
// (as/bs), дальше дельты (a/b) с нулевым объёмом на удаление, уровни
// несут третьим элементом timestamp. Служебные события (heartbeat,
// systemStatus, subscriptionStatus) приходят объектами, данные - массивами.
type Kraken struct {
	opts Options

	httpClient *HTTPClient
	rl         *ratelimit.RateLimiter

	// Единственное WebSocket соединение, создаётся при первом Watch*
	wsManager *WSReconnectManager
	wsMu      sync.Mutex

	// Кэш рынков: канонический символ -> метаданные
	markets   map[string]Market
	marketsMu sync.RWMutex

	// Активные подписки, ключ - "<канал>:<wsname>"
	watches   map[string]*streamWatch
	watchesMu sync.RWMutex

	log *utils.Logger
}

// NewKraken создает новый экземпляр Kraken.
// Использует глобальный HTTP клиент с connection pooling.
func NewKraken(opts Options) *Kraken {
	return &Kraken{
		opts:       opts,
		httpClient: GetGlobalHTTPClient(),
		rl:         ratelimit.NewRateLimiter(1, 5),
		markets:    make(map[string]Market),
		watches:    make(map[string]*streamWatch),
		log:        utils.L().WithExchange("kraken"),
	}
}

func (k *Kraken) GetName() string {
	return "kraken"
}

func (k *Kraken) Capabilities() Capabilities {
	return Capabilities{
		SupportsOrderBookStream: true,
		SupportsTickerStream:    true,
	}
}

// LoadMarkets загружает метаданные пар через /0/public/AssetPairs
func (k *Kraken) LoadMarkets(ctx context.Context) (map[string]Market, error) {
	if err := k.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			Altname string `json:"altname"`
			WSName  string `json:"wsname"`
			Status  string `json:"status"`
		} `json:"result"`
	}

	start := time.Now()
	err := retry.Do(ctx, func() error {
		if err := k.httpClient.GetJSON(ctx, krakenBaseURL+"/0/public/AssetPairs", &resp); err != nil {
			return err
		}
		if len(resp.Error) > 0 {
			return retry.Permanent(NewError("kraken", "api", strings.Join(resp.Error, "; "), nil))
		}
		return nil
	}, k.retryConfig())
	RecordRESTRequest("kraken", "asset_pairs", time.Since(start), err)
	if err != nil {
		return nil, NewError("kraken", "asset_pairs", "failed to load markets", err)
	}

	markets := make(map[string]Market, len(resp.Result))
	for _, p := range resp.Result {
		// Пары без wsname (дарк-пулы) недоступны в WebSocket API
		if p.WSName == "" {
			continue
		}
		parts := strings.Split(p.WSName, "/")
		if len(parts) != 2 {
			continue
		}
		base := krakenAsset(parts[0])
		quote := krakenAsset(parts[1])
		m := Market{
			Symbol: base + "/" + quote,
			ID:     p.WSName,
			Base:   base,
			Quote:  quote,
			Active: p.Status == "" || p.Status == "online",
		}
		markets[m.Symbol] = m
	}

	k.marketsMu.Lock()
	k.markets = markets
	k.marketsMu.Unlock()

	k.log.Info("markets loaded", zap.Int("count", len(markets)))
	return markets, nil
}

// WatchOrderBook подписывается на канал book и блокирует
// до ошибки потока или отмены контекста
func (k *Kraken) WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*OrderBook)) error {
	if callback == nil {
		return fmt.Errorf("kraken: nil callback")
	}

	market, err := k.market(ctx, symbol)
	if err != nil {
		return err
	}

	key := krakenWatchKey("book", market.ID)

	w := newStreamWatch(market.Symbol)
	w.depth = depth
	w.onBook = callback
	w.book = newBookState()

	if err := k.addWatch(key, w); err != nil {
		return err
	}
	defer k.removeWatch(key)

	streamDepth := krakenStreamDepth(depth)
	sub := map[string]interface{}{
		"event": "subscribe",
		"pair":  []string{market.ID},
		"subscription": map[string]interface{}{
			"name":  "book",
			"depth": streamDepth,
		},
	}
	unsub := map[string]interface{}{
		"event": "unsubscribe",
		"pair":  []string{market.ID},
		"subscription": map[string]interface{}{
			"name":  "book",
			"depth": streamDepth,
		},
	}
	return k.runWatch(ctx, w, key, sub, unsub)
}

// WatchTicker подписывается на канал ticker и блокирует
// до ошибки потока или отмены контекста
func (k *Kraken) WatchTicker(ctx context.Context, symbol string, callback func(*Ticker)) error {
	if callback == nil {
		return fmt.Errorf("kraken: nil callback")
	}

	market, err := k.market(ctx, symbol)
	if err != nil {
		return err
	}

	key := krakenWatchKey("ticker", market.ID)

	w := newStreamWatch(market.Symbol)
	w.onTicker = callback

	if err := k.addWatch(key, w); err != nil {
		return err
	}
	defer k.removeWatch(key)

	sub := map[string]interface{}{
		"event": "subscribe",
		"pair":  []string{market.ID},
		"subscription": map[string]interface{}{
			"name": "ticker",
		},
	}
	unsub := map[string]interface{}{
		"event": "unsubscribe",
		"pair":  []string{market.ID},
		"subscription": map[string]interface{}{
			"name": "ticker",
		},
	}
	return k.runWatch(ctx, w, key, sub, unsub)
}

// runWatch отправляет подписку и ждёт завершения наблюдения
func (k *Kraken) runWatch(ctx context.Context, w *streamWatch, key string, sub, unsub interface{}) error {
	m, err := k.ensureWS()
	if err != nil {
		return NewError("kraken", "ws_connect", "websocket connect failed", err)
	}

	if err := m.Subscribe(key, sub); err != nil {
		return NewError("kraken", "subscribe", "subscribe failed", err)
	}
	defer m.Unsubscribe(key, unsub)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-w.errCh:
		return err
	}
}

// Close закрывает WebSocket соединение и завершает все наблюдения
func (k *Kraken) Close() error {
	k.wsMu.Lock()
	m := k.wsManager
	k.wsManager = nil
	k.wsMu.Unlock()

	k.failAllWatches(fmt.Errorf("kraken: exchange closed"))

	if m != nil {
		return m.Close()
	}
	return nil
}

// ============ Внутреннее ============

// retryConfig - политика повторов discovery-запросов
func (k *Kraken) retryConfig() retry.Config {
	cfg := retry.NetworkConfig()
	cfg.RetryIf = retry.IsRetryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		k.log.Warn("rest retry", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	return cfg
}

// market возвращает метаданные пары, при необходимости загружая рынки
func (k *Kraken) market(ctx context.Context, symbol string) (Market, error) {
	k.marketsMu.RLock()
	markets := k.markets
	k.marketsMu.RUnlock()

	if len(markets) == 0 {
		if _, err := k.LoadMarkets(ctx); err != nil {
			return Market{}, err
		}
		k.marketsMu.RLock()
		markets = k.markets
		k.marketsMu.RUnlock()
	}

	m, ok := markets[utils.NormalizeSymbol(symbol)]
	if !ok {
		return Market{}, NewSymbolError("kraken", symbol)
	}
	return m, nil
}

// ensureWS лениво создаёт и подключает общий WebSocket менеджер
func (k *Kraken) ensureWS() (*WSReconnectManager, error) {
	k.wsMu.Lock()
	defer k.wsMu.Unlock()

	if k.wsManager != nil {
		return k.wsManager, nil
	}

	m := NewWSReconnectManager("kraken", krakenWSURL, k.opts.wsConfig(nil))
	m.SetOnMessage(k.handleMessage)
	m.SetOnGiveUp(k.failAllWatches)

	if err := m.Connect(); err != nil {
		return nil, err
	}

	k.wsManager = m
	return m, nil
}

func (k *Kraken) addWatch(key string, w *streamWatch) error {
	k.watchesMu.Lock()
	defer k.watchesMu.Unlock()
	if _, exists := k.watches[key]; exists {
		return fmt.Errorf("kraken: already watching %s", key)
	}
	k.watches[key] = w
	return nil
}

func (k *Kraken) removeWatch(key string) {
	k.watchesMu.Lock()
	delete(k.watches, key)
	k.watchesMu.Unlock()
}

func (k *Kraken) findWatch(key string) *streamWatch {
	k.watchesMu.RLock()
	defer k.watchesMu.RUnlock()
	return k.watches[key]
}

// failAllWatches завершает все активные наблюдения с ошибкой.
// Вызывается при исчерпании переподключений и при Close.
func (k *Kraken) failAllWatches(err error) {
	k.watchesMu.RLock()
	defer k.watchesMu.RUnlock()
	for _, w := range k.watches {
		w.fail(err)
	}
}

// handleMessage разводит служебные события (объекты) и данные (массивы)
func (k *Kraken) handleMessage(message []byte) {
	for _, c := range message {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			k.handleEvent(message)
			return
		case '[':
			k.handleData(message)
			return
		default:
			return
		}
	}
}

// handleEvent обрабатывает служебное событие
func (k *Kraken) handleEvent(message []byte) {
	var ev struct {
		Event        string `json:"event"`
		Status       string `json:"status"`
		Pair         string `json:"pair"`
		ErrorMessage string `json:"errorMessage"`
		Subscription struct {
			Name string `json:"name"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(message, &ev); err != nil {
		return
	}

	switch ev.Event {
	case "heartbeat", "pong":
		// Подтверждают живость соединения, дедлайн чтения уже продлён
	case "systemStatus":
		if ev.Status != "online" {
			k.log.Warn("kraken system status", zap.String("status", ev.Status))
		}
	case "subscriptionStatus":
		if ev.Status != "error" {
			return
		}
		w := k.findWatch(krakenWatchKey(ev.Subscription.Name, ev.Pair))
		if w == nil {
			k.log.Warn("subscription rejected",
				zap.String("pair", ev.Pair), zap.String("error", ev.ErrorMessage))
			return
		}
		lower := strings.ToLower(ev.ErrorMessage)
		if strings.Contains(lower, "not supported") || strings.Contains(lower, "invalid") {
			w.fail(NewSymbolError("kraken", w.symbol))
			return
		}
		w.fail(NewError("kraken", "subscription", ev.ErrorMessage, nil))
	}
}

// handleData обрабатывает кадр данных:
// [channelID, payload..., channelName, pair]
func (k *Kraken) handleData(message []byte) {
	var parts []jsoniter.RawMessage
	if err := json.Unmarshal(message, &parts); err != nil || len(parts) < 4 {
		return
	}

	var channelName, pair string
	if err := json.Unmarshal(parts[len(parts)-2], &channelName); err != nil {
		return
	}
	if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
		return
	}

	// channelName несёт глубину ("book-10"), ключ наблюдения - без неё
	name := channelName
	if i := strings.IndexByte(channelName, '-'); i > 0 {
		name = channelName[:i]
	}

	w := k.findWatch(krakenWatchKey(name, pair))
	if w == nil {
		return
	}

	payloads := parts[1 : len(parts)-2]
	switch name {
	case "book":
		k.handleBook(w, payloads)
	case "ticker":
		if len(payloads) > 0 {
			k.handleTicker(w, payloads[0])
		}
	}
}

// handleBook применяет snapshot (as/bs) и дельты (a/b) к состоянию стакана.
// Уровень: ["цена","объём","timestamp"(, "r")], нулевой объём удаляет уровень.
func (k *Kraken) handleBook(w *streamWatch, payloads []jsoniter.RawMessage) {
	if w.onBook == nil || w.book == nil {
		return
	}

	applied := false
	for _, raw := range payloads {
		var d struct {
			SnapshotAsks [][]string `json:"as"`
			SnapshotBids [][]string `json:"bs"`
			Asks         [][]string `json:"a"`
			Bids         [][]string `json:"b"`
		}
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}

		if len(d.SnapshotAsks) > 0 || len(d.SnapshotBids) > 0 {
			w.book.Clear()
		}

		for _, lv := range d.SnapshotAsks {
			if len(lv) < 2 {
				continue
			}
			volume, _ := strconv.ParseFloat(lv[1], 64)
			w.book.UpdateAsk(lv[0], volume)
			applied = true
		}
		for _, lv := range d.SnapshotBids {
			if len(lv) < 2 {
				continue
			}
			volume, _ := strconv.ParseFloat(lv[1], 64)
			w.book.UpdateBid(lv[0], volume)
			applied = true
		}
		for _, lv := range d.Asks {
			if len(lv) < 2 {
				continue
			}
			volume, _ := strconv.ParseFloat(lv[1], 64)
			w.book.UpdateAsk(lv[0], volume)
			applied = true
		}
		for _, lv := range d.Bids {
			if len(lv) < 2 {
				continue
			}
			volume, _ := strconv.ParseFloat(lv[1], 64)
			w.book.UpdateBid(lv[0], volume)
			applied = true
		}
	}

	if !applied {
		return
	}

	bids, asks := w.book.Levels(w.depth)
	w.onBook(&OrderBook{
		Exchange:  "kraken",
		Symbol:    w.symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now(),
	})
}

// handleTicker обрабатывает один кадр тикера.
// Формат: {"a":["цена",лоты,"объём"],"b":[...],"c":["цена","объём"]},
// элементы массивов смешанных типов, нужна только цена.
func (k *Kraken) handleTicker(w *streamWatch, payload jsoniter.RawMessage) {
	if w.onTicker == nil {
		return
	}

	var d struct {
		Ask  []jsoniter.RawMessage `json:"a"`
		Bid  []jsoniter.RawMessage `json:"b"`
		Last []jsoniter.RawMessage `json:"c"`
	}
	if err := json.Unmarshal(payload, &d); err != nil {
		return
	}

	// Биржа не присылает серверное время в тикере
	w.onTicker(&Ticker{
		Exchange: "kraken",
		Symbol:   w.symbol,
		Bid:      krakenFirstPrice(d.Bid),
		Ask:      krakenFirstPrice(d.Ask),
		Last:     krakenFirstPrice(d.Last),
	})
}

// krakenFirstPrice достаёт цену из первого элемента массива тикера,
// который может быть строкой или числом
func krakenFirstPrice(arr []jsoniter.RawMessage) float64 {
	if len(arr) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(arr[0], &s); err == nil {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	var f float64
	if err := json.Unmarshal(arr[0], &f); err == nil {
		return f
	}
	return 0
}

// krakenAsset переводит код актива Kraken в общепринятый
func krakenAsset(code string) string {
	if alias, ok := krakenAssetAliases[code]; ok {
		return alias
	}
	return code
}

func krakenWatchKey(name, pairID string) string {
	return name + ":" + pairID
}

// krakenStreamDepth выбирает ближайшую поддерживаемую глубину
// канала book (10, 25, 100, 500 или 1000)
func krakenStreamDepth(depth int) int {
	for _, d := range []int{10, 25, 100, 500} {
		if depth <= d {
			return d
		}
	}
	return 1000
}
