package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rekwert/tesor/internal/exchange"
	"github.com/rekwert/tesor/pkg/utils"
)

// AdapterFactory создаёт адаптер биржи по имени. Вынесена в тип,
// чтобы тесты могли подставить фиктивную биржу.
type AdapterFactory func(venue string) (exchange.Exchange, error)

// SessionConfig - параметры сессии одной биржи
type SessionConfig struct {
	Venue   string
	Symbols []string // настроенные пары, фильтруются по рынкам биржи
	Depth   int      // запрашиваемая глубина стакана

	// Откат перезапуска после временных ошибок.
	// Ноль - значения по умолчанию (1s, удвоение, потолок 60s).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Session управляет жизненным циклом подключения к одной бирже:
// discovery по REST, наблюдатели пар по WebSocket, переподключение
// с экспоненциальным откатом. Терминальные ошибки (аутентификация,
// отсутствие стриминга, ни одной пары) останавливают сессию навсегда.
type Session struct {
	cfg     SessionConfig
	store   *Store
	factory AdapterFactory
	log     *utils.Logger
}

// NewSession создаёт сессию биржи
func NewSession(cfg SessionConfig, store *Store, factory AdapterFactory) *Session {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	return &Session{
		cfg:     cfg,
		store:   store,
		factory: factory,
		log:     utils.L().WithExchange(cfg.Venue).WithComponent("session"),
	}
}

// Run ведёт сессию до отмены контекста или терминального статуса. Блокирует.
func (s *Session) Run(ctx context.Context) {
	venue := s.cfg.Venue
	backoff := s.cfg.InitialBackoff
	resetBackoff := func() { backoff = s.cfg.InitialBackoff }

	for {
		select {
		case <-ctx.Done():
			s.store.SetStatus(venue, StatusDisconnected)
			return
		default:
		}

		s.store.SetStatus(venue, StatusConnecting)

		terminal, err := s.runSession(ctx, resetBackoff)
		if terminal {
			// статус уже установлен внутри runSession
			return
		}
		if ctx.Err() != nil {
			s.store.SetStatus(venue, StatusDisconnected)
			return
		}
		if errors.Is(err, exchange.ErrAuthFailed) {
			s.store.SetStatus(venue, StatusAuthError)
			s.log.Error("authentication rejected, giving up", zap.Error(err))
			return
		}

		s.store.SetStatus(venue, StatusError)
		RecordSessionRestart(venue)
		s.log.Warn("session failed, retrying",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			s.store.SetStatus(venue, StatusDisconnected)
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// runSession выполняет одну попытку: discovery, фильтрация пар, запуск
// наблюдателей и ожидание первой ошибки. Возвращает terminal=true, если
// сессия завершилась навсегда (статус уже выставлен); иначе ошибку
// для классификации в Run.
func (s *Session) runSession(ctx context.Context, resetBackoff func()) (bool, error) {
	venue := s.cfg.Venue

	adapter, err := s.factory(venue)
	if err != nil {
		if errors.Is(err, exchange.ErrAuthFailed) {
			s.store.SetStatus(venue, StatusAuthError)
			s.log.Error("credentials rejected", zap.Error(err))
			return true, nil
		}
		// Адаптера нет - это конфигурация, переподключение не поможет
		s.store.SetStatus(venue, StatusUnsupported)
		s.log.Error("no usable adapter", zap.Error(err))
		return true, nil
	}
	defer adapter.Close()

	// Возможности проверяются до любых сетевых вызовов
	caps := adapter.Capabilities()
	if !caps.SupportsOrderBookStream {
		s.store.SetStatus(venue, StatusUnsupported)
		s.log.Warn("exchange does not stream order books, giving up")
		return true, nil
	}

	markets, err := adapter.LoadMarkets(ctx)
	if err != nil {
		return false, fmt.Errorf("load markets: %w", err)
	}

	s.store.SetStatus(venue, StatusConnected)

	tracked := make([]string, 0, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		m, ok := markets[sym]
		if !ok || !m.Active {
			s.log.Warn("symbol not tradable on exchange", utils.Symbol(sym))
			continue
		}
		tracked = append(tracked, sym)
	}
	if len(tracked) == 0 {
		s.store.SetStatus(venue, StatusNoPairs)
		s.log.Warn("no tradable symbols, giving up",
			zap.Int("configured", len(s.cfg.Symbols)))
		return true, nil
	}

	watchCtx, cancelWatchers := context.WithCancel(ctx)
	defer cancelWatchers()

	watchers := 0
	errCh := make(chan error, 2*len(tracked))
	var wg sync.WaitGroup

	for _, sym := range tracked {
		wg.Add(1)
		watchers++
		go func(symbol string) {
			defer wg.Done()
			if err := s.watchOrderBook(watchCtx, adapter, symbol); err != nil {
				errCh <- err
			}
		}(sym)

		if caps.SupportsTickerStream {
			wg.Add(1)
			watchers++
			go func(symbol string) {
				defer wg.Done()
				if err := s.watchTicker(watchCtx, adapter, symbol); err != nil {
					errCh <- err
				}
			}(sym)
		}
	}

	WatchersActive.WithLabelValues(venue).Set(float64(watchers))
	defer WatchersActive.WithLabelValues(venue).Set(0)

	s.log.Info("session established",
		zap.Int("symbols", len(tracked)), zap.Int("watchers", watchers))

	// Подписки запущены - сессия состоялась, откат начинается заново
	resetBackoff()

	allDone := make(chan struct{})
	go func() { wg.Wait(); close(allDone) }()

	var sessionErr error
	select {
	case <-ctx.Done():
	case sessionErr = <-errCh:
	case <-allDone:
		// Все наблюдатели вышли сами: каждая пара отвалилась поодиночке,
		// данных с биржи больше нет
		sessionErr = errors.New("all watchers exited")
	}

	cancelWatchers()
	adapter.Close() // разблокирует наблюдателей, зависших в сетевых вызовах
	wg.Wait()

	// Ошибка аутентификации важнее той, что выиграла гонку
	for {
		select {
		case err := <-errCh:
			if sessionErr == nil || errors.Is(err, exchange.ErrAuthFailed) {
				sessionErr = err
			}
			continue
		default:
		}
		break
	}

	return false, sessionErr
}

// watchOrderBook ведёт наблюдателя стакана одной пары. Возвращает только
// ошибки, требующие сноса всей сессии; отмена и выбывание пары - нет.
func (s *Session) watchOrderBook(ctx context.Context, adapter exchange.Exchange, symbol string) error {
	venue := s.cfg.Venue

	err := adapter.WatchOrderBook(ctx, symbol, s.cfg.Depth, func(book *exchange.OrderBook) {
		if err := validateBook(book); err != nil {
			s.log.Warn("order book update rejected",
				utils.Symbol(symbol), zap.Error(err))
			RecordBookReject(venue, "invalid")
			return
		}
		s.store.PutBook(book)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, exchange.ErrSymbolNotFound):
		// Ошибка пары, а не сессии: выбрасываем пару, остальные работают
		s.store.DropBook(venue, symbol)
		RecordSymbolDropped(venue)
		s.log.Warn("symbol dropped from session", utils.Symbol(symbol), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("watch order book %s: %w", symbol, err)
	}
}

// watchTicker ведёт наблюдателя тикера одной пары
func (s *Session) watchTicker(ctx context.Context, adapter exchange.Exchange, symbol string) error {
	venue := s.cfg.Venue

	err := adapter.WatchTicker(ctx, symbol, func(t *exchange.Ticker) {
		s.store.PutTicker(t)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, exchange.ErrSymbolNotFound):
		s.store.DropTicker(venue, symbol)
		s.log.Warn("ticker subscription dropped", utils.Symbol(symbol), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("watch ticker %s: %w", symbol, err)
	}
}

// validateBook проверяет нормализованный стакан перед записью: цены
// и объёмы положительные и конечные, сортировка сторон не нарушена
func validateBook(book *exchange.OrderBook) error {
	prev := math.Inf(1)
	for _, lv := range book.Bids {
		if err := validateLevel(lv); err != nil {
			return fmt.Errorf("bid %w", err)
		}
		if lv.Price > prev {
			return fmt.Errorf("bids out of order at %v", lv.Price)
		}
		prev = lv.Price
	}

	prev = 0
	for _, lv := range book.Asks {
		if err := validateLevel(lv); err != nil {
			return fmt.Errorf("ask %w", err)
		}
		if lv.Price < prev {
			return fmt.Errorf("asks out of order at %v", lv.Price)
		}
		prev = lv.Price
	}
	return nil
}

func validateLevel(lv exchange.PriceLevel) error {
	if !(lv.Price > 0) || math.IsInf(lv.Price, 0) {
		return fmt.Errorf("level price %v", lv.Price)
	}
	if !(lv.Volume > 0) || math.IsInf(lv.Volume, 0) {
		return fmt.Errorf("level volume %v", lv.Volume)
	}
	return nil
}
