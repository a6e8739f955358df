// Package scanner периодически сверяет стаканы подключённых бирж
// и ищет межбиржевой арбитраж: пары (биржа покупки, биржа продажи),
// где продажа по бидам одной биржи дороже покупки по аскам другой
// с учётом тейкерских комиссий.
//
// Сканер работает в одной горутине. Каждый тик он берёт срез книг
// из хранилища, перебирает упорядоченные пары бирж по каждому
// отслеживаемому символу и публикует отсортированный список находок.
// Пустой список публикуется тоже - подписчики узнают об исчезновении
// возможностей, а не гадают по тишине.
package scanner

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rekwert/tesor/internal/config"
	"github.com/rekwert/tesor/internal/exchange"
	"github.com/rekwert/tesor/internal/marketdata"
	"github.com/rekwert/tesor/pkg/utils"
)

// Publisher принимает готовый список возможностей на публикацию.
// Список отсортирован по чистой доходности, может быть пустым.
type Publisher interface {
	Publish(list []Opportunity)
}

// Scanner - периодический сканер арбитражных возможностей
type Scanner struct {
	cfg   *config.Config
	store *marketdata.Store
	pub   Publisher
	log   *utils.Logger

	// Пропуски из-за неполной конфигурации логируются один раз.
	// Доступ только из горутины Run, блокировка не нужна.
	warnedSymbols map[string]bool
	warnedVenues  map[string]bool
}

func New(cfg *config.Config, store *marketdata.Store, pub Publisher) *Scanner {
	return &Scanner{
		cfg:           cfg,
		store:         store,
		pub:           pub,
		log:           utils.L().WithComponent("scanner"),
		warnedSymbols: make(map[string]bool),
		warnedVenues:  make(map[string]bool),
	}
}

// Run крутит цикл сканирования до отмены контекста. Следующий тик
// назначается на начало текущего плюс интервал; если проход занял
// дольше интервала, следующий стартует сразу, без навёрстывания.
func (s *Scanner) Run(ctx context.Context) {
	s.log.Info("scanner started",
		zap.Duration("interval", s.cfg.Scanner.Interval),
		zap.Float64("min_profit_pct", s.cfg.Scanner.MinProfitPct))

	for {
		start := time.Now()
		s.scanTick()

		wait := s.cfg.Scanner.Interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			s.log.Info("scanner stopped")
			return
		case <-time.After(wait):
		}
	}
}

// scanTick выполняет один проход: срез книг, перебор пар, публикация
func (s *Scanner) scanTick() {
	start := time.Now()

	view := s.store.CloneBooks()
	opportunities := s.collect(view)

	// Стабильная сортировка: при равной доходности сохраняется
	// порядок обнаружения
	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].NetProfitPct > opportunities[j].NetProfitPct
	})

	s.pub.Publish(opportunities)

	best := 0.0
	if len(opportunities) > 0 {
		best = opportunities[0].NetProfitPct
		s.log.Info("arbitrage opportunities found",
			zap.Int("count", len(opportunities)),
			zap.String("top", opportunities[0].ID),
			zap.Float64("top_net_pct", best))
	}
	RecordScan(time.Since(start), len(opportunities), best)
}

// collect перебирает символы в настроенном порядке, а биржи - по
// алфавиту, чтобы два прохода по неизменным книгам давали одинаковый
// список. Все находки одного прохода получают общую метку времени.
func (s *Scanner) collect(view map[string]map[string]*exchange.OrderBook) []Opportunity {
	now := utils.UnixMillis()
	out := make([]Opportunity, 0, 8)

	for _, symbol := range s.cfg.Scanner.Symbols {
		venues := venuesWithSymbol(view, symbol)
		if len(venues) < 2 {
			continue
		}

		maxVolume, ok := s.cfg.Scanner.TradeVolumes[symbol]
		if !ok || maxVolume <= 0 {
			s.warnOnce(s.warnedSymbols, symbol, "no_volume",
				"no trade volume configured, symbol skipped", utils.Symbol(symbol))
			continue
		}

		for _, buy := range venues {
			buyFee, okBuy := s.cfg.Exchanges.TakerFees[buy]
			if !okBuy {
				s.warnOnce(s.warnedVenues, buy, "no_fee",
					"no taker fee configured, exchange skipped", utils.Exchange(buy))
				continue
			}
			for _, sell := range venues {
				if sell == buy {
					continue
				}
				sellFee, okSell := s.cfg.Exchanges.TakerFees[sell]
				if !okSell {
					s.warnOnce(s.warnedVenues, sell, "no_fee",
						"no taker fee configured, exchange skipped", utils.Exchange(sell))
					continue
				}

				res, found := walkLadders(
					view[buy][symbol].Asks, view[sell][symbol].Bids,
					s.cfg.Scanner.MinProfitPct, maxVolume, buyFee, sellFee)
				if !found {
					continue
				}
				out = append(out, newOpportunity(symbol, buy, sell, res, now))
			}
		}
	}
	return out
}

// venuesWithSymbol возвращает отсортированный список бирж,
// у которых в срезе есть стакан по символу
func venuesWithSymbol(view map[string]map[string]*exchange.OrderBook, symbol string) []string {
	venues := make([]string, 0, len(view))
	for venue, books := range view {
		if books[symbol] != nil {
			venues = append(venues, venue)
		}
	}
	sort.Strings(venues)
	return venues
}

func (s *Scanner) warnOnce(seen map[string]bool, key, reason, msg string, fields ...zap.Field) {
	RecordSkip(reason)
	if seen[key] {
		return
	}
	seen[key] = true
	s.log.Warn(msg, fields...)
}
