package marketdata

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rekwert/tesor/internal/config"
	"github.com/rekwert/tesor/internal/exchange"
	"github.com/rekwert/tesor/pkg/crypto"
	"github.com/rekwert/tesor/pkg/utils"
)

// Supervisor владеет сессиями всех настроенных бирж: запускает по одной
// горутине на биржу, останавливает их совместно и сбрасывает хранилище.
type Supervisor struct {
	cfg     *config.Config
	store   *Store
	factory AdapterFactory
	log     *utils.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running int32 // atomic, для /status
}

// NewSupervisor создаёт супервизор сессий
func NewSupervisor(cfg *config.Config, store *Store) *Supervisor {
	s := &Supervisor{
		cfg:   cfg,
		store: store,
		log:   utils.L().WithComponent("supervisor"),
	}
	s.factory = s.buildAdapter
	return s
}

// Start запускает сессии всех включённых бирж. Повторный вызов
// при работающем сервисе игнорируется.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	atomic.StoreInt32(&s.running, 1)

	for _, venue := range s.cfg.Exchanges.Enabled {
		sess := NewSession(SessionConfig{
			Venue:   venue,
			Symbols: s.cfg.Scanner.Symbols,
			Depth:   s.cfg.Scanner.OrderBookDepth,
		}, s.store, s.factory)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.Run(ctx)
		}()
	}

	s.log.Info("market data sessions started",
		zap.Int("exchanges", len(s.cfg.Exchanges.Enabled)))
}

// Stop останавливает все сессии и дожидается их завершения,
// затем сбрасывает хранилище. Блокирует.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	atomic.StoreInt32(&s.running, 0)
	cancel()
	s.wg.Wait()
	s.store.Reset()

	s.log.Info("market data sessions stopped")
}

// Running сообщает, запущен ли сбор данных
func (s *Supervisor) Running() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// buildAdapter создаёт адаптер биржи с учётными данными из конфигурации.
// При установленном ключе шифрования API ключи в env зашифрованы
// AES-256-GCM и расшифровываются здесь, непосредственно перед передачей.
func (s *Supervisor) buildAdapter(venue string) (exchange.Exchange, error) {
	opts := exchange.Options{
		ReconnectDelay: s.cfg.Exchanges.WSReconnectDelay,
		PingInterval:   s.cfg.Exchanges.WSPingInterval,
		ReadTimeout:    s.cfg.Exchanges.WSReadTimeout,
	}

	if creds, ok := s.cfg.Exchanges.Credentials[venue]; ok {
		var err error
		opts.APIKey, err = s.decryptIfNeeded(creds.APIKey)
		if err == nil {
			opts.APISecret, err = s.decryptIfNeeded(creds.APISecret)
		}
		if err == nil {
			opts.Passphrase, err = s.decryptIfNeeded(creds.Passphrase)
		}
		if err != nil {
			// Нерасшифровываемые ключи - терминальная проблема конфигурации
			return nil, exchange.NewAuthError(venue, "credentials decryption failed: "+err.Error())
		}
	}

	return exchange.NewExchange(venue, opts)
}

func (s *Supervisor) decryptIfNeeded(value string) (string, error) {
	if value == "" || s.cfg.Security.EncryptionKey == "" {
		return value, nil
	}
	return crypto.DecryptWithKeyString(value, s.cfg.Security.EncryptionKey)
}
