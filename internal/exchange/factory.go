package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/rekwert/tesor/pkg/utils"
)

// Options - параметры создания адаптера. Ключи API передаются уже
// расшифрованными: публичные рыночные данные их не требуют, но часть
// бирж поднимает rate-лимиты для аутентифицированных запросов.
type Options struct {
	APIKey     string
	APISecret  string
	Passphrase string

	// Параметры WebSocket-потоков, ноль - значение по умолчанию
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
}

// wsConfig собирает конфигурацию менеджера переподключений из опций
func (o Options) wsConfig(pingPayload interface{}) WSReconnectConfig {
	cfg := DefaultWSReconnectConfig()
	if o.ReconnectDelay > 0 {
		cfg.InitialDelay = o.ReconnectDelay
	}
	if o.PingInterval > 0 {
		cfg.PingInterval = o.PingInterval
	}
	if o.ReadTimeout > 0 {
		cfg.ReadTimeout = o.ReadTimeout
	}
	cfg.PingPayload = pingPayload
	return cfg
}

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = utils.GetSupportedExchanges()

// NewExchange создает новый экземпляр биржи по имени
func NewExchange(name string, opts Options) (Exchange, error) {
	name = strings.ToLower(name)

	switch name {
	case "binance":
		return NewBinance(opts), nil
	case "bybit":
		return NewBybit(opts), nil
	case "kraken":
		return NewKraken(opts), nil
	case "okx":
		return NewOKX(), nil
	case "gate":
		return NewGate(), nil
	case "htx":
		return NewHTX(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	return utils.IsValidExchange(name)
}
