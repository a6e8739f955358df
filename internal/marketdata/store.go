// Package marketdata собирает рыночные данные бирж в единое хранилище.
// Сессии (по одной на биржу) пишут нормализованные стаканы и тикеры,
// сканер и API читают согласованные срезы.
package marketdata

import (
	"sync"

	"go.uber.org/zap"

	"github.com/rekwert/tesor/internal/exchange"
	"github.com/rekwert/tesor/pkg/utils"
)

// Store - хранилище снапшотов рыночных данных. Один мьютекс защищает
// обе карты: книги и статусы всегда согласованы между собой.
//
// Владение: строка биржи (внутренние карты books/tickers) существует
// только пока сессия жива. Запись в отсутствующую строку отбрасывается:
// это опоздавшее обновление от уже снесённой сессии.
type Store struct {
	mu       sync.RWMutex
	books    map[string]map[string]*exchange.OrderBook
	tickers  map[string]map[string]*exchange.Ticker
	statuses map[string]Status

	log *utils.Logger
}

// NewStore создаёт хранилище для заданных бирж со статусом disconnected
func NewStore(venues []string) *Store {
	s := &Store{
		books:    make(map[string]map[string]*exchange.OrderBook),
		tickers:  make(map[string]map[string]*exchange.Ticker),
		statuses: make(map[string]Status, len(venues)),
		log:      utils.L().WithComponent("store"),
	}
	for _, v := range venues {
		s.statuses[v] = StatusDisconnected
		RecordVenueStatus(v, StatusDisconnected)
	}
	return s
}

// SetStatus переводит биржу в новый статус. Переход в connected создаёт
// строку данных; любой переход в не-живой статус уничтожает её - данные
// мёртвой сессии не должны пережить саму сессию.
func (s *Store) SetStatus(venue string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.statuses[venue]
	s.statuses[venue] = status
	RecordVenueStatus(venue, status)

	switch {
	case status == StatusConnected:
		if s.books[venue] == nil {
			s.books[venue] = make(map[string]*exchange.OrderBook)
		}
		if s.tickers[venue] == nil {
			s.tickers[venue] = make(map[string]*exchange.Ticker)
		}
	case !status.IsLive():
		delete(s.books, venue)
		delete(s.tickers, venue)
		BooksStored.WithLabelValues(venue).Set(0)
	}

	if prev != status {
		s.log.Info("exchange status changed",
			utils.Exchange(venue),
			zap.String("from", prev.String()),
			zap.String("to", status.String()))
	}
}

// Status возвращает текущий статус биржи
func (s *Store) Status(venue string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[venue]
}

// Statuses возвращает копию карты статусов
func (s *Store) Statuses() map[string]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Status, len(s.statuses))
	for v, st := range s.statuses {
		out[v] = st
	}
	return out
}

// PutBook сохраняет стакан, замещая предыдущий для той же пары.
// Возвращает false, если обновление отброшено: строка биржи не существует
// (сессия уже снесена) или стакан пересечён (рассинхронизация данных -
// прежний стакан остаётся в силе).
func (s *Store) PutBook(book *exchange.OrderBook) bool {
	if book.IsCrossed() {
		bid, _ := book.BestBid()
		ask, _ := book.BestAsk()
		s.log.Warn("crossed order book dropped",
			utils.Exchange(book.Exchange),
			utils.Symbol(book.Symbol),
			zap.Float64("best_bid", bid),
			zap.Float64("best_ask", ask))
		RecordBookReject(book.Exchange, "crossed")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.books[book.Exchange]
	if !ok {
		RecordBookReject(book.Exchange, "no_row")
		return false
	}

	row[book.Symbol] = book
	RecordBookUpdate(book.Exchange)
	BooksStored.WithLabelValues(book.Exchange).Set(float64(len(row)))
	return true
}

// PutTicker сохраняет тикер. Как и PutBook, отбрасывает запись
// в отсутствующую строку.
func (s *Store) PutTicker(t *exchange.Ticker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.tickers[t.Exchange]
	if !ok {
		return false
	}
	row[t.Symbol] = t
	return true
}

// DropBook удаляет стакан пары. Используется при необратимой ошибке
// символа: пара выбывает, сессия продолжает работать.
func (s *Store) DropBook(venue, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.books[venue]; ok {
		delete(row, symbol)
		BooksStored.WithLabelValues(venue).Set(float64(len(row)))
	}
}

// DropTicker удаляет тикер пары
func (s *Store) DropTicker(venue, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.tickers[venue]; ok {
		delete(row, symbol)
	}
}

// CloneBooks возвращает срез стаканов бирж с живым статусом
// (connected/connecting). Карты скопированы, сами стаканы разделяются
// по ссылке: OrderBook никогда не изменяется на месте, каждое обновление -
// замена целиком.
func (s *Store) CloneBooks() map[string]map[string]*exchange.OrderBook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]*exchange.OrderBook)
	for venue, row := range s.books {
		if !s.statuses[venue].IsLive() || len(row) == 0 {
			continue
		}
		books := make(map[string]*exchange.OrderBook, len(row))
		for sym, book := range row {
			books[sym] = book
		}
		out[venue] = books
	}
	return out
}

// CloneTickers возвращает срез тикеров бирж с живым статусом
func (s *Store) CloneTickers() map[string]map[string]*exchange.Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]*exchange.Ticker)
	for venue, row := range s.tickers {
		if !s.statuses[venue].IsLive() || len(row) == 0 {
			continue
		}
		tickers := make(map[string]*exchange.Ticker, len(row))
		for sym, t := range row {
			tickers[sym] = t
		}
		out[venue] = tickers
	}
	return out
}

// Reset очищает данные при остановке сервиса: все строки удаляются,
// не-терминальные статусы сбрасываются в disconnected. Терминальные
// остаются как есть - это постоянные проблемы конфигурации, и оператор
// должен их видеть.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for venue := range s.books {
		BooksStored.WithLabelValues(venue).Set(0)
	}
	s.books = make(map[string]map[string]*exchange.OrderBook)
	s.tickers = make(map[string]map[string]*exchange.Ticker)

	for venue, st := range s.statuses {
		if !st.IsTerminal() {
			s.statuses[venue] = StatusDisconnected
			RecordVenueStatus(venue, StatusDisconnected)
		}
	}
}
