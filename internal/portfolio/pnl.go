package portfolio

import (
	"tradecore/internal/accounts"
	"tradecore/internal/models"
	"tradecore/pkg/utils"

	"github.com/shopspring/decimal"
)

// ============================================================
// PnL
// ============================================================

// pnlContext - счёт, инструмент и валюта результата для расчёта PnL
type pnlContext struct {
	account  accounts.Account
	inst     *models.Instrument
	currency models.Currency
	convert  bool
}

func (s *state) resolve(id models.InstrumentID, what string) (pnlContext, bool) {
	acc := s.cache.AccountForVenue(id.Venue)
	if acc == nil {
		s.log.Error("cannot calculate "+what+": no account for venue", utils.Venue(string(id.Venue)))
		return pnlContext{}, false
	}
	inst := s.cache.Instrument(id)
	if inst == nil {
		s.log.Error("cannot calculate "+what+": no instrument", utils.Instrument(id.String()))
		return pnlContext{}, false
	}
	ctx := pnlContext{account: acc, inst: inst, currency: inst.Settlement()}
	if base := acc.BaseCurrency(); base != nil && s.cfg.ConvertToAccountBaseCurrency {
		ctx.currency = *base
		ctx.convert = true
	}
	return ctx, true
}

// toBase переводит сумму в валюту результата с округлением до её точности
func (s *state) toBase(ctx pnlContext, amount decimal.Decimal) (decimal.Decimal, bool) {
	if !ctx.convert {
		return amount, true
	}
	xrate, ok := s.xrateToBase(ctx.inst, ctx.account)
	if !ok {
		return decimal.Zero, false
	}
	return amount.Mul(decimal.NewFromFloat(xrate)).Round(int32(ctx.currency.Precision)), true
}

// calculateUnrealizedPnL суммирует нереализованный PnL открытых позиций.
// Без цены или курса инструмент помечается отложенным.
func (s *state) calculateUnrealizedPnL(id models.InstrumentID) (models.Money, bool) {
	ctx, ok := s.resolve(id, "unrealized pnl")
	if !ok {
		return models.Money{}, false
	}

	total := decimal.Zero
	for _, p := range s.cache.PositionsOpen(nil, &id, nil) {
		if p.InstrumentID != id || p.Side == models.PositionSideFlat {
			continue
		}
		price, ok := s.price(p)
		if !ok {
			s.log.Debug("cannot calculate unrealized pnl: no prices", utils.Instrument(id.String()))
			s.markPending(id)
			return models.Money{}, false
		}
		pnl, ok := s.toBase(ctx, p.UnrealizedPnL(price).AsDecimal())
		if !ok {
			s.log.Error("cannot calculate unrealized pnl: no xrate",
				utils.Instrument(id.String()), utils.String("currency", ctx.currency.Code))
			s.markPending(id)
			return models.Money{}, false
		}
		total = total.Add(pnl)
	}
	return models.MoneyFromDecimal(total, ctx.currency), true
}

// calculateRealizedPnL - реализованный PnL позиций инструмента и их снимков.
// HEDGING: суммируются все снимки. NETTING: для позиции, которая есть в
// кэше, берётся последний снимок, для закрытой и удалённой - сумма снимков.
func (s *state) calculateRealizedPnL(id models.InstrumentID) (models.Money, bool) {
	ctx, ok := s.resolve(id, "realized pnl")
	if !ok {
		return models.Money{}, false
	}

	positions := s.cache.Positions(nil, &id, nil)
	snapshotIDs := s.cache.PositionSnapshotIDs(id)
	if len(positions) == 0 && len(snapshotIDs) == 0 {
		return models.MoneyZero(ctx.currency), true
	}

	active := make(map[models.PositionID]bool, len(positions))
	for _, p := range positions {
		active[p.ID] = true
	}

	total := decimal.Zero
	add := func(amount decimal.Decimal) bool {
		v, ok := s.toBase(ctx, amount)
		if !ok {
			s.log.Error("cannot calculate realized pnl: no xrate",
				utils.Instrument(id.String()), utils.String("currency", ctx.currency.Code))
			s.markPending(id)
			return false
		}
		total = total.Add(v)
		return true
	}

	for _, pid := range snapshotIDs {
		tally := s.refreshSnapshots(pid)
		if tally.count == 0 {
			continue
		}
		amount := tally.sum
		if s.cfg.OmsType == models.OmsNetting && active[pid] {
			amount = tally.last
		}
		if !add(amount) {
			return models.Money{}, false
		}
	}

	for _, p := range positions {
		if p.InstrumentID != id || p.RealizedPnL == nil {
			continue
		}
		if !add(p.RealizedPnL.AsDecimal()) {
			return models.Money{}, false
		}
	}
	return models.MoneyFromDecimal(total, ctx.currency), true
}

// ============================================================
// Prices / exchange rates
// ============================================================

// price выбирает цену оценки позиции: mark (если включено), затем bid для
// длинной и ask для короткой, затем последняя сделка, затем закрытие бара
func (s *state) price(p *models.Position) (models.Price, bool) {
	id := p.InstrumentID
	if s.cfg.UseMarkPrices {
		if px, ok := s.cache.Price(id, models.PriceTypeMark); ok {
			return px, true
		}
	}

	pt := models.PriceTypeBid
	if p.Side == models.PositionSideShort {
		pt = models.PriceTypeAsk
	}
	if px, ok := s.cache.Price(id, pt); ok {
		return px, true
	}
	if px, ok := s.cache.Price(id, models.PriceTypeLast); ok {
		return px, true
	}
	px, ok := s.barClose[id]
	return px, ok
}

// xrateToBase - курс из валюты расчётов инструмента в базовую валюту счёта
func (s *state) xrateToBase(inst *models.Instrument, acc accounts.Account) (float64, bool) {
	if !s.cfg.ConvertToAccountBaseCurrency {
		return 1, true
	}
	base := acc.BaseCurrency()
	if base == nil {
		return 1, true
	}
	if s.cfg.UseMarkXRates {
		return s.cache.MarkXRate(inst.Settlement(), *base)
	}
	return s.cache.GetXRate(inst.ID.Venue, inst.Settlement(), *base, models.PriceTypeMid)
}
