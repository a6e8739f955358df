package exchange

import (
	"context"
	"errors"
	"time"
)

// Exchange определяет унифицированный интерфейс для рыночных данных любой биржи.
// Адаптер отвечает за транспорт и нормализацию, жизненным циклом управляет
// супервизор сессий.
type Exchange interface {
	// GetName возвращает идентификатор биржи
	GetName() string

	// Capabilities возвращает статичное описание возможностей адаптера
	Capabilities() Capabilities

	// LoadMarkets загружает метаданные рынков по REST.
	// Ключ результата - канонический символ вида "BTC/USDT".
	LoadMarkets(ctx context.Context) (map[string]Market, error)

	// WatchOrderBook подписывается на обновления стакана и вызывает callback
	// для каждого нормализованного снапшота. Блокирует до ошибки или отмены
	// контекста.
	WatchOrderBook(ctx context.Context, symbol string, depth int, callback func(*OrderBook)) error

	// WatchTicker подписывается на обновления тикера. Блокирует до ошибки
	// или отмены контекста.
	WatchTicker(ctx context.Context, symbol string, callback func(*Ticker)) error

	// Close закрывает соединения с биржей
	Close() error
}

// Capabilities описывает, что умеет адаптер. Заполняется статически:
// супервизор решает по нему, запускать ли сессию вообще.
type Capabilities struct {
	SupportsOrderBookStream bool
	SupportsTickerStream    bool
	AuthRequired            bool
}

// Market - метаданные одной торговой пары с биржи
type Market struct {
	Symbol string // канонический вид "BTC/USDT"
	ID     string // нативный идентификатор биржи, например "BTCUSDT"
	Base   string // базовая валюта
	Quote  string // котируемая валюта
	Active bool   // пара доступна для торговли
}

// Ticker содержит последние цены пары. Сериализуется как есть
// в ответ /api/v1/tickers.
type Ticker struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`  // лучшая цена покупки
	Ask       float64 `json:"ask"`  // лучшая цена продажи
	Last      float64 `json:"last"` // последняя сделка
	Timestamp int64   `json:"timestamp"` // unix ms, 0 если биржа не прислала
}

// OrderBook представляет нормализованный стакан ордеров.
// Bids отсортированы по убыванию цены, Asks - по возрастанию,
// уровни с неположительной ценой или объёмом отброшены адаптером.
type OrderBook struct {
	Exchange  string
	Symbol    string
	Bids      []PriceLevel // заявки на покупку
	Asks      []PriceLevel // заявки на продажу
	Timestamp time.Time
}

// PriceLevel представляет уровень цены в стакане
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// BestBid возвращает лучшую цену покупки
func (ob *OrderBook) BestBid() (float64, bool) {
	if len(ob.Bids) == 0 {
		return 0, false
	}
	return ob.Bids[0].Price, true
}

// BestAsk возвращает лучшую цену продажи
func (ob *OrderBook) BestAsk() (float64, bool) {
	if len(ob.Asks) == 0 {
		return 0, false
	}
	return ob.Asks[0].Price, true
}

// IsCrossed сообщает, пересечён ли стакан (лучший bid >= лучшего ask).
// Такое состояние означает рассинхронизацию данных: стакан нельзя
// использовать для расчётов.
func (ob *OrderBook) IsCrossed() bool {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return false
	}
	return ob.Bids[0].Price >= ob.Asks[0].Price
}

// ============ Ошибки ============

// Ошибки классификации для супервизора сессий.
// Адаптеры оборачивают их в ExchangeError, супервизор распознаёт через errors.Is.
var (
	// ErrAuthFailed - биржа отвергла учётные данные. Повторять бессмысленно.
	ErrAuthFailed = errors.New("authentication rejected")

	// ErrSymbolNotFound - пара не существует или делистнута.
	// Ошибка символа, а не сессии: остальные подписки продолжают работать.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrNotSupported - биржа не предоставляет запрошенную операцию
	ErrNotSupported = errors.New("operation not supported")
)

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// NewError создаёт ошибку биржи с произвольной причиной
func NewError(exchange, code, message string, original error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Code: code, Message: message, Original: original}
}

// NewAuthError создаёт терминальную ошибку аутентификации
func NewAuthError(exchange, message string) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Code: "auth", Message: message, Original: ErrAuthFailed}
}

// NewSymbolError создаёт ошибку несуществующей пары
func NewSymbolError(exchange, symbol string) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Code: "bad_symbol", Message: "unknown symbol " + symbol, Original: ErrSymbolNotFound}
}
