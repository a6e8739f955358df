package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ============================================================
// Валидация входных данных
// ============================================================
//
// Проверка символов, бирж и API-ключей до того, как они попадут
// в конфигурацию или адаптеры. Все функции Validate* возвращают
// error, функции IsValid* - bool для inline-проверок.

// Ошибки валидации
var (
	ErrInvalidSymbol     = errors.New("invalid symbol format")
	ErrInvalidExchange   = errors.New("unsupported exchange")
	ErrInvalidAPIKey     = errors.New("invalid API key format")
	ErrInvalidAPISecret  = errors.New("invalid API secret format")
	ErrInvalidPercentage = errors.New("percentage out of range")
	ErrInvalidVolume     = errors.New("invalid volume")
)

// SupportedExchanges - биржи, для которых есть адаптеры.
// Список дублирует реестр фабрики адаптеров: pkg не может
// импортировать internal.
var SupportedExchanges = []string{"binance", "bybit", "kraken", "okx", "gate", "htx"}

// симвология: буквы, цифры и разделители -, _, /
var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9\-_/]{2,30}$`)

// известные котируемые валюты, от длинных к коротким -
// иначе USDT распознается как USD
var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "EUR", "USD", "BTC", "ETH", "BNB"}

// ============ Символы ============

// ValidateSymbol проверяет формат торговой пары.
// Допустимы 2-30 символов: буквы, цифры, разделители -, _, /
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSymbol)
	}
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// IsValidSymbol - bool-вариант ValidateSymbol
func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(symbol) == nil
}

// NormalizeSymbol приводит символ к каноническому виду:
// верхний регистр, без разделителей. "btc-usdt" -> "BTCUSDT"
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	return strings.NewReplacer("-", "", "_", "", "/", "").Replace(s)
}

// ExtractBaseCurrency извлекает базовую валюту из символа.
// "BTC/USDT" -> "BTC", "ETHBTC" -> "ETH"
func ExtractBaseCurrency(symbol string) string {
	s := strings.ToUpper(symbol)
	if i := strings.IndexAny(s, "-_/"); i > 0 {
		return s[:i]
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return s[:len(s)-len(quote)]
		}
	}
	return s
}

// ExtractQuoteCurrency извлекает котируемую валюту из символа.
// "BTC/USDT" -> "USDT", "ETHBTC" -> "BTC"
func ExtractQuoteCurrency(symbol string) string {
	s := strings.ToUpper(symbol)
	if i := strings.IndexAny(s, "-_/"); i >= 0 && i < len(s)-1 {
		return s[i+1:]
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return quote
		}
	}
	return ""
}

// ============ Биржи ============

// ValidateExchange проверяет, что биржа поддерживается
func ValidateExchange(exchange string) error {
	if exchange == "" {
		return fmt.Errorf("%w: empty exchange name", ErrInvalidExchange)
	}
	normalized := NormalizeExchange(exchange)
	for _, supported := range SupportedExchanges {
		if normalized == supported {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidExchange, exchange)
}

// IsValidExchange - bool-вариант ValidateExchange
func IsValidExchange(exchange string) bool {
	return ValidateExchange(exchange) == nil
}

// NormalizeExchange приводит имя биржи к каноническому виду
func NormalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

// GetSupportedExchanges возвращает копию списка поддерживаемых бирж
func GetSupportedExchanges() []string {
	result := make([]string, len(SupportedExchanges))
	copy(result, SupportedExchanges)
	return result
}

// ============ API-ключи ============

var apiKeyPattern = regexp.MustCompile(`^[A-Za-z0-9\-_]{16,128}$`)

// ValidateAPIKey проверяет формат API-ключа биржи
func ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidAPIKey)
	}
	if !apiKeyPattern.MatchString(apiKey) {
		return ErrInvalidAPIKey
	}
	return nil
}

// IsValidAPIKey - bool-вариант ValidateAPIKey
func IsValidAPIKey(apiKey string) bool {
	return ValidateAPIKey(apiKey) == nil
}

// ValidateAPISecret проверяет формат API-секрета.
// Секреты бирж содержат спецсимволы, поэтому проверяется только длина.
func ValidateAPISecret(secret string) error {
	if len(secret) < 16 || len(secret) > 256 {
		return ErrInvalidAPISecret
	}
	return nil
}

// ValidateAPIPassphrase проверяет passphrase (опциональна, есть не у всех бирж)
func ValidateAPIPassphrase(passphrase string) error {
	if len(passphrase) > 64 {
		return errors.New("passphrase too long (max 64 characters)")
	}
	return nil
}

// ============ Числовые параметры ============

// ValidatePercentage проверяет процентное значение (0-100)
func ValidatePercentage(pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidPercentage, pct)
	}
	return nil
}

// ValidateVolume проверяет объём в базовой валюте
func ValidateVolume(volume float64) error {
	if volume <= 0 {
		return fmt.Errorf("%w: must be positive, got %v", ErrInvalidVolume, volume)
	}
	if volume > 1e9 {
		return fmt.Errorf("%w: too large, got %v", ErrInvalidVolume, volume)
	}
	return nil
}

// ============ Агрегация ошибок ============

// ValidationError - одна ошибка валидации с привязкой к полю
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors - список ошибок валидации.
// Позволяет собрать все проблемы конфигурации за один проход.
type ValidationErrors []ValidationError

// Add добавляет ошибку по полю
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// AddError добавляет error, если он не nil
func (e *ValidationErrors) AddError(field string, err error) {
	if err == nil {
		return
	}
	*e = append(*e, ValidationError{Field: field, Message: err.Error()})
}

// HasErrors сообщает, есть ли накопленные ошибки
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e))
	for _, ve := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", ve.Field, ve.Message))
	}
	return strings.Join(parts, "; ")
}
