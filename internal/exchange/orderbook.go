package exchange

import (
	"sort"
	"strconv"
)

// ============================================================
// Сборка и нормализация стаканов
// ============================================================
//
// Биржи присылают стаканы двумя способами:
// - готовые срезы верхних уровней (Binance partial depth)
// - снапшот + дельты (Bybit v5, Kraken book)
//
// parseLevels нормализует готовые срезы, bookState накапливает
// дельты и отдаёт отсортированный срез по запросу. В обоих случаях
// на выходе: bids по убыванию, asks по возрастанию, уровни
// с неположительной ценой или объёмом отброшены, глубина обрезана.

// parseLevels преобразует уровни с провода ([["цена","объём",...], ...])
// в нормализованный срез. Лишние элементы уровня (timestamp у Kraken)
// игнорируются. depth <= 0 означает без обрезки.
func parseLevels(raw [][]string, depth int, ascending bool) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(lv[0], 64)
		if err != nil || price <= 0 {
			continue
		}
		volume, err := strconv.ParseFloat(lv[1], 64)
		if err != nil || volume <= 0 {
			continue
		}
		levels = append(levels, PriceLevel{Price: price, Volume: volume})
	}

	if ascending {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}

	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

// bookState накапливает стакан из сообщений snapshot + delta.
// Цена хранится строкой с провода: биржа форматирует уровни
// стабильно, поэтому строка надёжнее float в роли ключа.
//
// Не потокобезопасен: предполагается один читающий pump на соединение.
type bookState struct {
	bids map[string]float64
	asks map[string]float64
}

func newBookState() *bookState {
	return &bookState{
		bids: make(map[string]float64),
		asks: make(map[string]float64),
	}
}

// Clear сбрасывает накопленное состояние (перед новым снапшотом)
func (s *bookState) Clear() {
	s.bids = make(map[string]float64)
	s.asks = make(map[string]float64)
}

// UpdateBid применяет уровень заявок на покупку, объём <= 0 удаляет уровень
func (s *bookState) UpdateBid(price string, volume float64) {
	if volume <= 0 {
		delete(s.bids, price)
		return
	}
	s.bids[price] = volume
}

// UpdateAsk применяет уровень заявок на продажу, объём <= 0 удаляет уровень
func (s *bookState) UpdateAsk(price string, volume float64) {
	if volume <= 0 {
		delete(s.asks, price)
		return
	}
	s.asks[price] = volume
}

// Levels возвращает нормализованные срезы текущего состояния.
// Каждый вызов выделяет новые срезы: эмитированные стаканы дальше
// живут в снапшот-хранилище и не должны разделять память с bookState.
func (s *bookState) Levels(depth int) (bids, asks []PriceLevel) {
	bids = make([]PriceLevel, 0, len(s.bids))
	for price, volume := range s.bids {
		p, err := strconv.ParseFloat(price, 64)
		if err != nil || p <= 0 {
			continue
		}
		bids = append(bids, PriceLevel{Price: p, Volume: volume})
	}
	asks = make([]PriceLevel, 0, len(s.asks))
	for price, volume := range s.asks {
		p, err := strconv.ParseFloat(price, 64)
		if err != nil || p <= 0 {
			continue
		}
		asks = append(asks, PriceLevel{Price: p, Volume: volume})
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	if depth > 0 && len(bids) > depth {
		bids = bids[:depth]
	}
	if depth > 0 && len(asks) > depth {
		asks = asks[:depth]
	}
	return bids, asks
}

// streamWatch - одна активная подписка WatchOrderBook/WatchTicker.
// Канал ошибок буферизован: фатальная ошибка фиксируется даже когда
// наблюдатель ещё не дошёл до select.
type streamWatch struct {
	symbol   string // канонический символ для эмитируемых данных
	depth    int
	onBook   func(*OrderBook)
	onTicker func(*Ticker)
	errCh    chan error
	book     *bookState
}

func newStreamWatch(symbol string) *streamWatch {
	return &streamWatch{
		symbol: symbol,
		errCh:  make(chan error, 1),
	}
}

// fail доставляет фатальную ошибку наблюдателю, не блокируясь.
// Учитывается только первая ошибка.
func (w *streamWatch) fail(err error) {
	select {
	case w.errCh <- err:
	default:
	}
}
