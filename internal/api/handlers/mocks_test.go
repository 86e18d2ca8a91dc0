package handlers

import (
	"context"
	"errors"
	"sync"

	"tradecore/internal/accounts"
	"tradecore/internal/models"
	"tradecore/internal/pool"

	"github.com/shopspring/decimal"
)

var ErrMockDatabase = errors.New("mock database error")

// ============ MockPortfolio ============

type MockPortfolio struct {
	initialized bool
	accounts    map[models.Venue]accounts.Account
	locked      map[string]models.Money
	margins     map[models.InstrumentID]models.Money
	realized    map[string]models.Money
	unrealized  map[string]models.Money
	exposures   map[string]models.Money
	complete    bool
	marks       map[models.InstrumentID]models.Money
	positions   map[models.InstrumentID]decimal.Decimal
	pnls        map[models.InstrumentID]models.Money
}

func NewMockPortfolio() *MockPortfolio {
	return &MockPortfolio{
		accounts:   make(map[models.Venue]accounts.Account),
		locked:     make(map[string]models.Money),
		margins:    make(map[models.InstrumentID]models.Money),
		realized:   make(map[string]models.Money),
		unrealized: make(map[string]models.Money),
		exposures:  make(map[string]models.Money),
		complete:   true,
		marks:      make(map[models.InstrumentID]models.Money),
		positions:  make(map[models.InstrumentID]decimal.Decimal),
		pnls:       make(map[models.InstrumentID]models.Money),
	}
}

func (m *MockPortfolio) IsInitialized() bool { return m.initialized }

func (m *MockPortfolio) Account(venue models.Venue) accounts.Account {
	if a, ok := m.accounts[venue]; ok {
		return a
	}
	return nil
}

func (m *MockPortfolio) BalancesLocked(models.Venue) map[string]models.Money { return m.locked }
func (m *MockPortfolio) MarginsInit(models.Venue) map[models.InstrumentID]models.Money {
	return m.margins
}
func (m *MockPortfolio) MarginsMaint(models.Venue) map[models.InstrumentID]models.Money {
	return m.margins
}
func (m *MockPortfolio) RealizedPnLs(models.Venue) map[string]models.Money   { return m.realized }
func (m *MockPortfolio) UnrealizedPnLs(models.Venue) map[string]models.Money { return m.unrealized }

func (m *MockPortfolio) TotalPnLs(models.Venue) map[string]models.Money {
	out := make(map[string]models.Money)
	for code, r := range m.realized {
		out[code] = r
	}
	for code, u := range m.unrealized {
		if r, ok := out[code]; ok {
			out[code] = r.MustAdd(u)
			continue
		}
		out[code] = u
	}
	return out
}

func (m *MockPortfolio) NetExposures(models.Venue) (map[string]models.Money, bool) {
	if !m.complete {
		return nil, false
	}
	return m.exposures, true
}

func (m *MockPortfolio) MarkValues(models.Venue) map[models.InstrumentID]models.Money {
	return m.marks
}

func (m *MockPortfolio) RealizedPnL(id models.InstrumentID) (models.Money, bool) {
	v, ok := m.pnls[id]
	return v, ok
}

func (m *MockPortfolio) UnrealizedPnL(id models.InstrumentID) (models.Money, bool) {
	v, ok := m.pnls[id]
	return v, ok
}

func (m *MockPortfolio) TotalPnL(id models.InstrumentID) (models.Money, bool) {
	v, ok := m.pnls[id]
	if !ok {
		return models.Money{}, false
	}
	return v.MustAdd(v), true
}

func (m *MockPortfolio) NetExposure(id models.InstrumentID) (models.Money, bool) {
	v, ok := m.marks[id]
	return v, ok
}

func (m *MockPortfolio) NetPosition(id models.InstrumentID) decimal.Decimal {
	return m.positions[id]
}

func (m *MockPortfolio) IsNetLong(id models.InstrumentID) bool {
	return m.positions[id].IsPositive()
}

func (m *MockPortfolio) IsNetShort(id models.InstrumentID) bool {
	return m.positions[id].IsNegative()
}

func (m *MockPortfolio) IsFlat(id models.InstrumentID) bool {
	return m.positions[id].IsZero()
}

func (m *MockPortfolio) IsCompletelyFlat() bool {
	for _, p := range m.positions {
		if !p.IsZero() {
			return false
		}
	}
	return true
}

// ============ MockPoolStore ============

type MockPoolStore struct {
	mu     sync.Mutex
	saved  []pool.Snapshot
	errors map[string]error
}

func NewMockPoolStore() *MockPoolStore {
	return &MockPoolStore{errors: make(map[string]error)}
}

func (m *MockPoolStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockPoolStore) Save(_ context.Context, s pool.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errors["save"]; err != nil {
		return err
	}
	m.saved = append(m.saved, s)
	return nil
}

// ============ MockAccountHistory ============

type MockAccountHistory struct {
	states    map[models.AccountID][]models.AccountState
	errors    map[string]error
	lastLimit int
}

func NewMockAccountHistory() *MockAccountHistory {
	return &MockAccountHistory{
		states: make(map[models.AccountID][]models.AccountState),
		errors: make(map[string]error),
	}
}

func (m *MockAccountHistory) SetError(method string, err error) {
	m.errors[method] = err
}

func (m *MockAccountHistory) Add(st models.AccountState) {
	m.states[st.AccountID] = append(m.states[st.AccountID], st)
}

func (m *MockAccountHistory) History(_ context.Context, id models.AccountID, limit int) ([]models.AccountState, error) {
	if err := m.errors["history"]; err != nil {
		return nil, err
	}
	m.lastLimit = limit
	states := m.states[id]
	if len(states) > limit {
		states = states[:limit]
	}
	return states, nil
}

func (m *MockAccountHistory) AccountIDs(context.Context) ([]models.AccountID, error) {
	if err := m.errors["ids"]; err != nil {
		return nil, err
	}
	var ids []models.AccountID
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids, nil
}
