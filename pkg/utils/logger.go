package utils

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================
// Структурированное логирование на базе zap
// ============================================================
//
// Два уровня API:
// - типизированный: logger.Info("msg", Exchange("bybit"), Symbol("BTC/USDT"))
// - глобальный: Info(...), Infof(...) для мест, где прокидывать логгер неудобно
//
// Формат вывода настраивается через LogConfig:
// - json для production (машиночитаемые логи)
// - text для локальной разработки

// LogConfig - конфигурация логгера
type LogConfig struct {
	Level       string // debug, info, warn, error, fatal
	Format      string // json или text
	Development bool   // режим разработки: console-вывод, stacktrace на ошибках
	Output      string // путь к файлу, "stdout" или "stderr" (по умолчанию stderr)
}

// Logger - обёртка над zap.Logger с доменными помощниками
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// ============ Инициализация ============

// InitLogger создаёт логгер по конфигурации.
// Некорректные значения не приводят к панике - применяются значения
// по умолчанию (level=info, format=json, output=stderr).
func InitLogger(config LogConfig) *Logger {
	level := parseLevel(config.Level)

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(config.Format) {
	case "text", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, resolveOutput(config.Output), level)

	opts := []zap.Option{zap.AddCaller()}
	if config.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zl := zap.New(core, opts...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// resolveOutput открывает назначение для записи логов.
// При ошибке открытия файла возвращает stderr - логгер обязан работать всегда.
func resolveOutput(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stderr":
		return zapcore.AddSync(os.Stderr)
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	}

	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(file)
}

// parseLevel преобразует строку в уровень zap.
// Неизвестные значения трактуются как info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============ Глобальный логгер ============

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger создаёт логгер и устанавливает его глобальным
func InitGlobalLogger(config LogConfig) *Logger {
	logger := InitLogger(config)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger возвращает глобальный логгер.
// Если логгер ещё не инициализирован - создаёт логгер по умолчанию.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	if globalLogger != nil {
		defer globalMu.RUnlock()
		return globalLogger
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий псевдоним для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// ============ Методы Logger ============

// With возвращает новый логгер с добавленными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent возвращает логгер с полем component
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithExchange возвращает логгер с полем exchange
func (l *Logger) WithExchange(exchange string) *Logger {
	return l.With(Exchange(exchange))
}

// WithSymbol возвращает логгер с полем symbol
func (l *Logger) WithSymbol(symbol string) *Logger {
	return l.With(Symbol(symbol))
}

// Sugar возвращает sugared-логгер для printf-style логирования
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Глобальные функции логирования ============

// Debug логирует сообщение уровня debug через глобальный логгер
func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Debug(msg, fields...)
}

// Info логирует сообщение уровня info через глобальный логгер
func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Info(msg, fields...)
}

// Warn логирует сообщение уровня warn через глобальный логгер
func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Warn(msg, fields...)
}

// Error логирует сообщение уровня error через глобальный логгер
func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Error(msg, fields...)
}

// Fatal логирует сообщение и завершает процесс
func Fatal(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Fatal(msg, fields...)
}

// Debugf логирует форматированное сообщение уровня debug
func Debugf(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Debugf(template, args...)
}

// Infof логирует форматированное сообщение уровня info
func Infof(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Infof(template, args...)
}

// Warnf логирует форматированное сообщение уровня warn
func Warnf(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Warnf(template, args...)
}

// Errorf логирует форматированное сообщение уровня error
func Errorf(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Errorf(template, args...)
}

// fieldsToInterface преобразует типизированные поля в плоский список
// ключ-значение для sugared-логгера
func fieldsToInterface(fields []zap.Field) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key)
		switch {
		case f.Interface != nil:
			args = append(args, f.Interface)
		case f.String != "":
			args = append(args, f.String)
		default:
			args = append(args, f.Integer)
		}
	}
	return args
}

// ============ Конструкторы доменных полей ============

// Exchange - поле с именем биржи
func Exchange(name string) zap.Field {
	return zap.String("exchange", name)
}

// Symbol - поле с торговой парой
func Symbol(symbol string) zap.Field {
	return zap.String("symbol", symbol)
}

// Price - поле с ценой
func Price(price float64) zap.Field {
	return zap.Float64("price", price)
}

// Volume - поле с объёмом в базовой валюте
func Volume(volume float64) zap.Field {
	return zap.Float64("volume", volume)
}

// Spread - поле со спредом в процентах
func Spread(spread float64) zap.Field {
	return zap.Float64("spread", spread)
}

// Latency - поле с латентностью в миллисекундах
func Latency(ms float64) zap.Field {
	return zap.Float64("latency_ms", ms)
}

// State - поле с состоянием (статус биржи, фаза сессии)
func State(state string) zap.Field {
	return zap.String("state", state)
}

// Component - поле с именем компонента
func Component(name string) zap.Field {
	return zap.String("component", name)
}

// ============ Переэкспорт конструкторов zap ============
//
// Чтобы вызывающий код не импортировал zap напрямую ради полей.

var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Err      = zap.Error
	Any      = zap.Any
	Duration = zap.Duration
)
