package portfolio

import (
	"sort"

	"tradecore/internal/accounts"
	"tradecore/internal/models"
	"tradecore/pkg/utils"

	"github.com/shopspring/decimal"
)

// ============================================================
// Accounts
// ============================================================

// Account - счёт площадки или nil
func (p *Portfolio) Account(venue models.Venue) accounts.Account {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.cache.AccountForVenue(venue)
	if acc == nil {
		s.log.Error("no account registered for venue", utils.Venue(string(venue)))
	}
	return acc
}

// BalancesLocked - заблокированные под ордера суммы по валютам
func (p *Portfolio) BalancesLocked(venue models.Venue) map[string]models.Money {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.cache.AccountForVenue(venue)
	if acc == nil {
		s.log.Error("cannot get locked balances: no account for venue", utils.Venue(string(venue)))
		return nil
	}
	out := make(map[string]models.Money)
	for code, b := range acc.Balances() {
		out[code] = b.Locked
	}
	return out
}

// MarginsInit - начальная маржа по инструментам; nil для cash счёта
func (p *Portfolio) MarginsInit(venue models.Venue) map[models.InstrumentID]models.Money {
	m := p.marginAccount(venue, "initial margins")
	if m == nil {
		return nil
	}
	return m.InitialMargins()
}

// MarginsMaint - поддерживающая маржа по инструментам; nil для cash счёта
func (p *Portfolio) MarginsMaint(venue models.Venue) map[models.InstrumentID]models.Money {
	m := p.marginAccount(venue, "maintenance margins")
	if m == nil {
		return nil
	}
	return m.MaintenanceMargins()
}

func (p *Portfolio) marginAccount(venue models.Venue, what string) *accounts.MarginAccount {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	acc := s.cache.AccountForVenue(venue)
	if acc == nil {
		s.log.Error("cannot get "+what+": no account for venue", utils.Venue(string(venue)))
		return nil
	}
	m, ok := acc.(*accounts.MarginAccount)
	if !ok {
		s.log.Warn("cannot get "+what+": not a margin account", utils.AccountID(string(acc.ID())))
		return nil
	}
	return m
}

// ============================================================
// PnL
// ============================================================

// UnrealizedPnLs - нереализованный PnL открытых позиций площадки по валютам
func (p *Portfolio) UnrealizedPnLs(venue models.Venue) map[string]models.Money {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := instrumentIDs(s.cache.PositionsOpen(&venue, nil, nil))
	return s.sumByCurrency(ids, s.unrealizedPnL)
}

// RealizedPnLs - реализованный PnL всех позиций площадки по валютам
func (p *Portfolio) RealizedPnLs(venue models.Venue) map[string]models.Money {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := instrumentIDs(s.cache.Positions(&venue, nil, nil))
	return s.sumByCurrency(ids, s.realizedPnL)
}

// TotalPnLs - сумма реализованного и нереализованного PnL по валютам
func (p *Portfolio) TotalPnLs(venue models.Venue) map[string]models.Money {
	realized := p.RealizedPnLs(venue)
	unrealized := p.UnrealizedPnLs(venue)

	out := make(map[string]models.Money, len(realized))
	for code, m := range realized {
		out[code] = m
	}
	for code, m := range unrealized {
		if prev, ok := out[code]; ok {
			out[code] = prev.MustAdd(m)
		} else {
			out[code] = m
		}
	}
	return out
}

func (p *Portfolio) UnrealizedPnL(id models.InstrumentID) (models.Money, bool) {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unrealizedPnL(id)
}

func (p *Portfolio) RealizedPnL(id models.InstrumentID) (models.Money, bool) {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realizedPnL(id)
}

// TotalPnL - реализованный плюс нереализованный PnL инструмента
func (p *Portfolio) TotalPnL(id models.InstrumentID) (models.Money, bool) {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	realized, ok := s.realizedPnL(id)
	if !ok {
		return models.Money{}, false
	}
	unrealized, ok := s.unrealizedPnL(id)
	if !ok {
		return models.Money{}, false
	}
	total, err := realized.Add(unrealized)
	if err != nil {
		s.log.Error("cannot sum pnl", utils.Instrument(id.String()), utils.Err(err))
		return models.Money{}, false
	}
	return total, true
}

// unrealizedPnL берёт значение из кэша расчётов или считает заново
func (s *state) unrealizedPnL(id models.InstrumentID) (models.Money, bool) {
	if pnl, ok := s.unrealized[id]; ok {
		return pnl, true
	}
	pnl, ok := s.calculateUnrealizedPnL(id)
	if ok {
		s.unrealized[id] = pnl
	}
	return pnl, ok
}

func (s *state) realizedPnL(id models.InstrumentID) (models.Money, bool) {
	if pnl, ok := s.realized[id]; ok {
		return pnl, true
	}
	pnl, ok := s.calculateRealizedPnL(id)
	if ok {
		s.realized[id] = pnl
	}
	return pnl, ok
}

func (s *state) sumByCurrency(ids []models.InstrumentID, get func(models.InstrumentID) (models.Money, bool)) map[string]models.Money {
	sums := make(map[string]decimal.Decimal)
	currencies := make(map[string]models.Currency)
	for _, id := range ids {
		pnl, ok := get(id)
		if !ok || pnl.Currency.Code == "" {
			continue
		}
		code := pnl.Currency.Code
		sums[code] = sums[code].Add(pnl.AsDecimal())
		currencies[code] = pnl.Currency
	}

	out := make(map[string]models.Money, len(sums))
	for code, v := range sums {
		out[code] = models.MoneyFromDecimal(v, currencies[code])
	}
	return out
}

// ============================================================
// Exposure
// ============================================================

// NetExposures - суммарная стоимость открытых позиций площадки по валютам.
// false, если для какой-то позиции нет цены или курса.
func (p *Portfolio) NetExposures(venue models.Venue) (map[string]models.Money, bool) {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	sums := make(map[string]decimal.Decimal)
	currencies := make(map[string]models.Currency)
	for _, id := range instrumentIDs(s.cache.PositionsOpen(&venue, nil, nil)) {
		exposure, ok := s.netExposure(id)
		if !ok {
			return nil, false
		}
		code := exposure.Currency.Code
		sums[code] = sums[code].Add(exposure.AsDecimal())
		currencies[code] = exposure.Currency
	}

	out := make(map[string]models.Money, len(sums))
	for code, v := range sums {
		out[code] = models.MoneyFromDecimal(v, currencies[code])
	}
	return out, true
}

// NetExposure - стоимость открытых позиций инструмента
func (p *Portfolio) NetExposure(id models.InstrumentID) (models.Money, bool) {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netExposure(id)
}

func (s *state) netExposure(id models.InstrumentID) (models.Money, bool) {
	ctx, ok := s.resolve(id, "net exposure")
	if !ok {
		return models.Money{}, false
	}

	total := decimal.Zero
	currency := ctx.currency
	for _, pos := range s.cache.PositionsOpen(nil, &id, nil) {
		price, ok := s.price(pos)
		if !ok {
			s.log.Error("cannot calculate net exposure: no prices", utils.Instrument(id.String()))
			return models.Money{}, false
		}
		notional, err := ctx.inst.CalculateNotional(pos.Quantity, price, false)
		if err != nil {
			s.log.Error("cannot calculate net exposure", utils.Instrument(id.String()), utils.Err(err))
			return models.Money{}, false
		}
		if !ctx.convert {
			currency = notional.Currency
		}
		v, ok := s.toBase(ctx, notional.AsDecimal())
		if !ok {
			s.log.Error("cannot calculate net exposure: no xrate",
				utils.Instrument(id.String()), utils.String("currency", ctx.currency.Code))
			return models.Money{}, false
		}
		total = total.Add(v)
	}
	return models.MoneyFromDecimal(total, currency), true
}

// MarkValues - стоимость открытых позиций площадки по инструментам
func (p *Portfolio) MarkValues(venue models.Venue) map[models.InstrumentID]models.Money {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.InstrumentID]models.Money)
	for _, id := range instrumentIDs(s.cache.PositionsOpen(&venue, nil, nil)) {
		if v, ok := s.netExposure(id); ok {
			out[id] = v
		}
	}
	return out
}

// ============================================================
// Net position
// ============================================================

// NetPosition - сумма SignedQty открытых позиций инструмента
func (p *Portfolio) NetPosition(id models.InstrumentID) decimal.Decimal {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netPositions[id]
}

func (p *Portfolio) IsNetLong(id models.InstrumentID) bool {
	return p.NetPosition(id).IsPositive()
}

func (p *Portfolio) IsNetShort(id models.InstrumentID) bool {
	return p.NetPosition(id).IsNegative()
}

func (p *Portfolio) IsFlat(id models.InstrumentID) bool {
	return p.NetPosition(id).IsZero()
}

// IsCompletelyFlat - нет ни одной ненулевой нетто-позиции
func (p *Portfolio) IsCompletelyFlat() bool {
	s := p.inner
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, net := range s.netPositions {
		if !net.IsZero() {
			return false
		}
	}
	return true
}

// instrumentIDs - уникальные инструменты позиций в порядке id
func instrumentIDs(positions []*models.Position) []models.InstrumentID {
	seen := make(map[models.InstrumentID]struct{}, len(positions))
	var out []models.InstrumentID
	for _, pos := range positions {
		if _, ok := seen[pos.InstrumentID]; ok {
			continue
		}
		seen[pos.InstrumentID] = struct{}{}
		out = append(out, pos.InstrumentID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
