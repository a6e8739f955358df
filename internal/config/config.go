package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rekwert/tesor/pkg/crypto"
	"github.com/rekwert/tesor/pkg/utils"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Security  SecurityConfig
	Scanner   ScannerConfig
	Exchanges ExchangesConfig
	Logging   LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// bcrypt-хэш ключа для заголовка X-API-Key.
	// Пустая строка = REST API открыт (локальное развертывание).
	APIKeyHash string

	// Ключ AES-256 для расшифровки API ключей бирж из env.
	// Пустая строка = ключи бирж читаются как есть.
	EncryptionKey string
}

// ScannerConfig - настройки сканера арбитража
type ScannerConfig struct {
	Interval       time.Duration // период запуска сканирования
	MinProfitPct   float64       // минимальная чистая прибыль в процентах
	OrderBookDepth int           // глубина книги ордеров (уровней на сторону)
	Symbols        []string      // отслеживаемые пары, например "BTC/USDT"

	// Желаемый объём сделки в базовой валюте на символ.
	// Пары без записи сканером пропускаются.
	TradeVolumes map[string]float64
}

// ExchangesConfig - настройки подключений к биржам
type ExchangesConfig struct {
	Enabled []string // биржи для отслеживания

	// Тейкерская комиссия в процентах на биржу.
	// Биржи без записи исключаются из расчёта прибыли.
	TakerFees map[string]float64

	// API ключи на биржу (опциональны: публичные данные доступны без них)
	Credentials map[string]Credentials

	// WebSocket настройки (event-driven, без polling)
	WSReconnectDelay time.Duration // начальная задержка перед переподключением WS
	WSPingInterval   time.Duration // интервал ping для поддержания соединения
	WSReadTimeout    time.Duration // таймаут чтения WS сообщений
}

// Credentials - API ключи одной биржи.
// При установленном ENCRYPTION_KEY значения в env зашифрованы AES-256-GCM
// и расшифровываются фабрикой адаптеров.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Development bool
	Output      string
}

// Дефолты покрывают биржи со встроенными адаптерами.
// Любое значение переопределяется переменными окружения.
var (
	defaultExchanges = []string{"binance", "bybit", "kraken"}
	defaultSymbols   = []string{"BTC/USDT", "ETH/USDT"}

	defaultTakerFees = map[string]float64{
		"binance": 0.1,
		"bybit":   0.1,
		"kraken":  0.26,
		"okx":     0.1,
		"gate":    0.2,
		"htx":     0.2,
	}

	defaultTradeVolumes = map[string]float64{
		"BTC/USDT": 0.1,
		"ETH/USDT": 1.0,
	}
)

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Security: SecurityConfig{
			APIKeyHash:    getEnv("API_KEY_HASH", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Scanner: ScannerConfig{
			Interval:       secondsToDuration(getEnvAsFloat("SCANNER_INTERVAL_SECONDS", 1.0)),
			MinProfitPct:   getEnvAsFloat("MIN_PROFIT_PCT", 0.01),
			OrderBookDepth: getEnvAsInt("ORDER_BOOK_DEPTH", 10),
			Symbols:        getEnvAsList("SYMBOLS", defaultSymbols),
			TradeVolumes:   getEnvAsFloatMap("TRADE_VOLUMES", defaultTradeVolumes),
		},
		Exchanges: ExchangesConfig{
			Enabled:   getEnvAsList("EXCHANGES", defaultExchanges),
			TakerFees: getEnvAsFloatMap("TAKER_FEES", defaultTakerFees),

			WSReconnectDelay: getEnvAsDuration("WS_RECONNECT_DELAY", 1*time.Second),
			WSPingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 15*time.Second),
			WSReadTimeout:    getEnvAsDuration("WS_READ_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
			Output:      getEnv("LOG_OUTPUT", "stderr"),
		},
	}

	// Канонизация идентификаторов до валидации
	cfg.normalize()

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	// Валидация бирж, символов, комиссий и объёмов одним проходом
	if err := cfg.validateScanner(); err != nil {
		return nil, err
	}

	// API ключи читаются только для включённых бирж
	cfg.Exchanges.Credentials = loadCredentials(cfg.Exchanges.Enabled)

	return cfg, nil
}

// normalize приводит имена бирж и символы к каноническому виду:
// биржи в нижнем регистре, символы в верхнем
func (c *Config) normalize() {
	for i, ex := range c.Exchanges.Enabled {
		c.Exchanges.Enabled[i] = utils.NormalizeExchange(ex)
	}

	for i, s := range c.Scanner.Symbols {
		c.Scanner.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	fees := make(map[string]float64, len(c.Exchanges.TakerFees))
	for ex, fee := range c.Exchanges.TakerFees {
		fees[utils.NormalizeExchange(ex)] = fee
	}
	c.Exchanges.TakerFees = fees

	volumes := make(map[string]float64, len(c.Scanner.TradeVolumes))
	for sym, vol := range c.Scanner.TradeVolumes {
		volumes[strings.ToUpper(strings.TrimSpace(sym))] = vol
	}
	c.Scanner.TradeVolumes = volumes
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY опционален: без него ключи бирж читаются из env как есть
	if c.Security.EncryptionKey != "" && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256, got %d", len(c.Security.EncryptionKey))
	}

	// API_KEY_HASH должен быть bcrypt-хэшем, а не самим ключом
	if c.Security.APIKeyHash != "" {
		if _, err := crypto.GetHashCost(c.Security.APIKeyHash); err != nil {
			return fmt.Errorf("API_KEY_HASH must be a bcrypt hash, not the raw key: %w", err)
		}
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("SCANNER_INTERVAL_SECONDS must be positive, got %v", c.Scanner.Interval)
	}

	if c.Scanner.OrderBookDepth < 1 || c.Scanner.OrderBookDepth > 1000 {
		return fmt.Errorf("ORDER_BOOK_DEPTH must be between 1 and 1000, got %d", c.Scanner.OrderBookDepth)
	}

	if err := utils.ValidatePercentage(c.Scanner.MinProfitPct); err != nil {
		return fmt.Errorf("MIN_PROFIT_PCT: %w", err)
	}

	if c.Exchanges.WSReconnectDelay <= 0 {
		return fmt.Errorf("WS_RECONNECT_DELAY must be positive, got %v", c.Exchanges.WSReconnectDelay)
	}

	if c.Exchanges.WSReadTimeout <= 0 {
		return fmt.Errorf("WS_READ_TIMEOUT must be positive, got %v", c.Exchanges.WSReadTimeout)
	}

	return nil
}

// validateScanner проверяет биржи, символы, комиссии и объёмы.
// Собирает все проблемы за один проход, чтобы оператор видел полный список.
func (c *Config) validateScanner() error {
	var errs utils.ValidationErrors

	if len(c.Exchanges.Enabled) == 0 {
		errs.Add("EXCHANGES", "at least one exchange is required")
	}
	for _, ex := range c.Exchanges.Enabled {
		errs.AddError("EXCHANGES", utils.ValidateExchange(ex))
	}

	if len(c.Scanner.Symbols) == 0 {
		errs.Add("SYMBOLS", "at least one symbol is required")
	}
	for _, sym := range c.Scanner.Symbols {
		errs.AddError("SYMBOLS", utils.ValidateSymbol(sym))
	}

	for ex, fee := range c.Exchanges.TakerFees {
		if err := utils.ValidatePercentage(fee); err != nil {
			errs.AddError("TAKER_FEES", fmt.Errorf("%s: %w", ex, err))
		}
	}

	for sym, vol := range c.Scanner.TradeVolumes {
		if err := utils.ValidateVolume(vol); err != nil {
			errs.AddError("TRADE_VOLUMES", fmt.Errorf("%s: %w", sym, err))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// loadCredentials читает API ключи для включённых бирж.
// Переменные вида BINANCE_API_KEY, BINANCE_API_SECRET, BINANCE_API_PASSPHRASE.
// Отсутствие ключей не является ошибкой: рыночные данные публичны.
func loadCredentials(exchanges []string) map[string]Credentials {
	creds := make(map[string]Credentials, len(exchanges))
	for _, ex := range exchanges {
		prefix := strings.ToUpper(ex)
		c := Credentials{
			APIKey:     getEnv(prefix+"_API_KEY", ""),
			APISecret:  getEnv(prefix+"_API_SECRET", ""),
			Passphrase: getEnv(prefix+"_API_PASSPHRASE", ""),
		}
		if c.APIKey != "" || c.APISecret != "" {
			creds[ex] = c
		}
	}
	return creds
}

// Addr возвращает адрес прослушивания HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// secondsToDuration переводит секунды (в том числе дробные) в time.Duration
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список значений, разделённых запятыми:
// "binance, bybit,kraken" -> ["binance", "bybit", "kraken"]
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		result := make([]string, len(defaultValue))
		copy(result, defaultValue)
		return result
	}

	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		result = append(result, defaultValue...)
	}
	return result
}

// getEnvAsFloatMap разбирает отображение ключ:значение:
// "binance:0.1,kraken:0.26" -> {"binance": 0.1, "kraken": 0.26}.
// Некорректные записи пропускаются.
func getEnvAsFloatMap(key string, defaultValue map[string]float64) map[string]float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		result := make(map[string]float64, len(defaultValue))
		for k, v := range defaultValue {
			result[k] = v
		}
		return result
	}

	result := make(map[string]float64)
	for _, entry := range strings.Split(valueStr, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idx := strings.LastIndex(entry, ":")
		if idx <= 0 || idx == len(entry)-1 {
			continue
		}
		name := strings.TrimSpace(entry[:idx])
		value, err := strconv.ParseFloat(strings.TrimSpace(entry[idx+1:]), 64)
		if err != nil {
			continue
		}
		result[name] = value
	}

	if len(result) == 0 {
		for k, v := range defaultValue {
			result[k] = v
		}
	}
	return result
}
