package handlers

import (
	"github.com/rekwert/tesor/internal/exchange"
	"github.com/rekwert/tesor/internal/marketdata"
	"github.com/rekwert/tesor/internal/scanner"
)

// ============ Моки источников данных ============

// mockOpportunitySource - мок для OpportunitySource
type mockOpportunitySource struct {
	list []scanner.Opportunity
}

func (m *mockOpportunitySource) Latest() []scanner.Opportunity {
	out := make([]scanner.Opportunity, len(m.list))
	copy(out, m.list)
	return out
}

// mockStatusSource - мок для StatusSource
type mockStatusSource struct {
	statuses map[string]marketdata.Status
}

func (m *mockStatusSource) Statuses() map[string]marketdata.Status {
	return m.statuses
}

// mockServiceState - мок для ServiceState
type mockServiceState struct {
	running bool
}

func (m *mockServiceState) Running() bool {
	return m.running
}

// mockTickerSource - мок для TickerSource
type mockTickerSource struct {
	tickers map[string]map[string]*exchange.Ticker
}

func (m *mockTickerSource) CloneTickers() map[string]map[string]*exchange.Ticker {
	return m.tickers
}
