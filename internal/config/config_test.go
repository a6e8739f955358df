package config

import (
	"strings"
	"testing"
	"time"

	"github.com/rekwert/tesor/pkg/crypto"
)

// envVars - все переменные, которые читает Load.
// Тесты очищают их, чтобы окружение CI не влияло на результат.
var envVars = []string{
	"SERVER_PORT", "SERVER_HOST", "USE_HTTPS", "CERT_FILE", "KEY_FILE",
	"API_KEY_HASH", "ENCRYPTION_KEY",
	"SCANNER_INTERVAL_SECONDS", "MIN_PROFIT_PCT", "ORDER_BOOK_DEPTH",
	"SYMBOLS", "TRADE_VOLUMES",
	"EXCHANGES", "TAKER_FEES",
	"WS_RECONNECT_DELAY", "WS_PING_INTERVAL", "WS_READ_TIMEOUT",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_DEVELOPMENT", "LOG_OUTPUT",
	"BINANCE_API_KEY", "BINANCE_API_SECRET", "BINANCE_API_PASSPHRASE",
	"BYBIT_API_KEY", "BYBIT_API_SECRET",
	"KRAKEN_API_KEY", "KRAKEN_API_SECRET",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}

	if cfg.Scanner.Interval != time.Second {
		t.Errorf("Scanner.Interval = %v, want 1s", cfg.Scanner.Interval)
	}
	if cfg.Scanner.MinProfitPct != 0.01 {
		t.Errorf("Scanner.MinProfitPct = %v, want 0.01", cfg.Scanner.MinProfitPct)
	}
	if cfg.Scanner.OrderBookDepth != 10 {
		t.Errorf("Scanner.OrderBookDepth = %d, want 10", cfg.Scanner.OrderBookDepth)
	}

	wantSymbols := []string{"BTC/USDT", "ETH/USDT"}
	if len(cfg.Scanner.Symbols) != len(wantSymbols) {
		t.Fatalf("Scanner.Symbols = %v, want %v", cfg.Scanner.Symbols, wantSymbols)
	}
	for i, s := range wantSymbols {
		if cfg.Scanner.Symbols[i] != s {
			t.Errorf("Scanner.Symbols[%d] = %q, want %q", i, cfg.Scanner.Symbols[i], s)
		}
	}

	wantExchanges := []string{"binance", "bybit", "kraken"}
	if len(cfg.Exchanges.Enabled) != len(wantExchanges) {
		t.Fatalf("Exchanges.Enabled = %v, want %v", cfg.Exchanges.Enabled, wantExchanges)
	}

	if fee := cfg.Exchanges.TakerFees["kraken"]; fee != 0.26 {
		t.Errorf("TakerFees[kraken] = %v, want 0.26", fee)
	}
	if vol := cfg.Scanner.TradeVolumes["BTC/USDT"]; vol != 0.1 {
		t.Errorf("TradeVolumes[BTC/USDT] = %v, want 0.1", vol)
	}

	if len(cfg.Exchanges.Credentials) != 0 {
		t.Errorf("Credentials = %v, want empty", cfg.Exchanges.Credentials)
	}

	if cfg.Exchanges.WSReconnectDelay != time.Second {
		t.Errorf("WSReconnectDelay = %v, want 1s", cfg.Exchanges.WSReconnectDelay)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want level info format json", cfg.Logging)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXCHANGES", "Binance, KRAKEN")
	t.Setenv("SYMBOLS", "sol/usdt")
	t.Setenv("SCANNER_INTERVAL_SECONDS", "0.5")
	t.Setenv("MIN_PROFIT_PCT", "0.25")
	t.Setenv("ORDER_BOOK_DEPTH", "25")
	t.Setenv("TAKER_FEES", "Binance:0.075, kraken:0.2")
	t.Setenv("TRADE_VOLUMES", "sol/usdt:10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Имена бирж канонизируются в нижний регистр
	if cfg.Exchanges.Enabled[0] != "binance" || cfg.Exchanges.Enabled[1] != "kraken" {
		t.Errorf("Exchanges.Enabled = %v, want [binance kraken]", cfg.Exchanges.Enabled)
	}

	// Символы канонизируются в верхний регистр
	if cfg.Scanner.Symbols[0] != "SOL/USDT" {
		t.Errorf("Scanner.Symbols = %v, want [SOL/USDT]", cfg.Scanner.Symbols)
	}

	if cfg.Scanner.Interval != 500*time.Millisecond {
		t.Errorf("Scanner.Interval = %v, want 500ms", cfg.Scanner.Interval)
	}
	if cfg.Scanner.MinProfitPct != 0.25 {
		t.Errorf("Scanner.MinProfitPct = %v, want 0.25", cfg.Scanner.MinProfitPct)
	}
	if cfg.Scanner.OrderBookDepth != 25 {
		t.Errorf("Scanner.OrderBookDepth = %d, want 25", cfg.Scanner.OrderBookDepth)
	}

	if fee := cfg.Exchanges.TakerFees["binance"]; fee != 0.075 {
		t.Errorf("TakerFees[binance] = %v, want 0.075", fee)
	}
	if vol := cfg.Scanner.TradeVolumes["SOL/USDT"]; vol != 10 {
		t.Errorf("TradeVolumes[SOL/USDT] = %v, want 10", vol)
	}
}

func TestLoadRejectsUnknownExchange(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXCHANGES", "binance,coinbase")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with unknown exchange: error = nil, want error")
	}
	if !strings.Contains(err.Error(), "EXCHANGES") {
		t.Errorf("error = %q, want mention of EXCHANGES", err.Error())
	}
}

func TestLoadRejectsBadRanges(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero port", "SERVER_PORT", "0"},
		{"port too large", "SERVER_PORT", "70000"},
		{"zero depth", "ORDER_BOOK_DEPTH", "0"},
		{"depth too large", "ORDER_BOOK_DEPTH", "5000"},
		{"negative interval", "SCANNER_INTERVAL_SECONDS", "-1"},
		{"profit over 100", "MIN_PROFIT_PCT", "150"},
		{"negative ws delay", "WS_RECONNECT_DELAY", "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s: error = nil, want error", tt.key, tt.value)
			}
		})
	}
}

func TestLoadSecurityValidation(t *testing.T) {
	t.Run("encryption key wrong length", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ENCRYPTION_KEY", "too-short")

		if _, err := Load(); err == nil {
			t.Error("Load() with short ENCRYPTION_KEY: error = nil, want error")
		}
	})

	t.Run("encryption key exact length", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ENCRYPTION_KEY", "12345678901234567890123456789012")

		if _, err := Load(); err != nil {
			t.Errorf("Load() with 32-byte ENCRYPTION_KEY: error = %v", err)
		}
	})

	t.Run("api key hash must be a hash", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("API_KEY_HASH", "raw-api-key-value")

		if _, err := Load(); err == nil {
			t.Error("Load() with raw API_KEY_HASH: error = nil, want error")
		}
	})

	t.Run("valid bcrypt hash accepted", func(t *testing.T) {
		clearEnv(t)
		hash, err := crypto.HashSecretWithCost("control-plane-key", 4)
		if err != nil {
			t.Fatalf("HashSecretWithCost() error = %v", err)
		}
		t.Setenv("API_KEY_HASH", hash)

		if _, err := Load(); err != nil {
			t.Errorf("Load() with valid API_KEY_HASH: error = %v", err)
		}
	})
}

func TestLoadCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXCHANGES", "binance,kraken")
	t.Setenv("BINANCE_API_KEY", "test-key-1234567890")
	t.Setenv("BINANCE_API_SECRET", "test-secret-1234567890")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	creds, ok := cfg.Exchanges.Credentials["binance"]
	if !ok {
		t.Fatal("Credentials[binance] missing")
	}
	if creds.APIKey != "test-key-1234567890" {
		t.Errorf("APIKey = %q, want test-key-1234567890", creds.APIKey)
	}

	// Биржа без ключей в env не попадает в Credentials
	if _, ok := cfg.Exchanges.Credentials["kraken"]; ok {
		t.Error("Credentials[kraken] present, want absent")
	}
}

func TestGetEnvAsList(t *testing.T) {
	def := []string{"a", "b"}

	t.Run("unset returns copy of default", func(t *testing.T) {
		t.Setenv("TEST_LIST", "")
		got := getEnvAsList("TEST_LIST", def)
		if len(got) != 2 || got[0] != "a" {
			t.Errorf("getEnvAsList = %v, want %v", got, def)
		}
		got[0] = "mutated"
		if def[0] != "a" {
			t.Error("default slice mutated through returned copy")
		}
	})

	t.Run("splits and trims", func(t *testing.T) {
		t.Setenv("TEST_LIST", " x ,, y ")
		got := getEnvAsList("TEST_LIST", def)
		if len(got) != 2 || got[0] != "x" || got[1] != "y" {
			t.Errorf("getEnvAsList = %v, want [x y]", got)
		}
	})
}

func TestGetEnvAsFloatMap(t *testing.T) {
	def := map[string]float64{"binance": 0.1}

	t.Run("unset returns default", func(t *testing.T) {
		t.Setenv("TEST_MAP", "")
		got := getEnvAsFloatMap("TEST_MAP", def)
		if got["binance"] != 0.1 {
			t.Errorf("getEnvAsFloatMap = %v, want default", got)
		}
	})

	t.Run("parses entries", func(t *testing.T) {
		t.Setenv("TEST_MAP", "binance:0.075, kraken:0.26")
		got := getEnvAsFloatMap("TEST_MAP", def)
		if got["binance"] != 0.075 || got["kraken"] != 0.26 {
			t.Errorf("getEnvAsFloatMap = %v", got)
		}
	})

	t.Run("symbol keys keep slash", func(t *testing.T) {
		// Разделитель - последнее двоеточие, слэш в символе не мешает
		t.Setenv("TEST_MAP", "BTC/USDT:0.5")
		got := getEnvAsFloatMap("TEST_MAP", def)
		if got["BTC/USDT"] != 0.5 {
			t.Errorf("getEnvAsFloatMap = %v, want BTC/USDT: 0.5", got)
		}
	})

	t.Run("skips malformed entries", func(t *testing.T) {
		t.Setenv("TEST_MAP", "ok:1.5,broken,also:bad,:0.1")
		got := getEnvAsFloatMap("TEST_MAP", def)
		if len(got) != 1 || got["ok"] != 1.5 {
			t.Errorf("getEnvAsFloatMap = %v, want only ok:1.5", got)
		}
	})
}

func TestSecondsToDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    time.Duration
	}{
		{1.0, time.Second},
		{0.5, 500 * time.Millisecond},
		{2.5, 2500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := secondsToDuration(tt.seconds); got != tt.want {
			t.Errorf("secondsToDuration(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	if got := s.Addr(); got != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9000", got)
	}
}
