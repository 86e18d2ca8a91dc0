package accounts

import (
	"errors"
	"fmt"

	"tradecore/internal/models"
	"tradecore/pkg/utils"

	"github.com/shopspring/decimal"
)

var ErrNoXRate = errors.New("exchange rate not available")

// Cache - то, что менеджеру нужно от кэша: позиции и курсы конвертации
type Cache interface {
	Position(id models.PositionID) *models.Position
	PositionsOpen(venue *models.Venue, instrumentID *models.InstrumentID, strategyID *models.StrategyID) []*models.Position
	GetXRate(venue models.Venue, from, to models.Currency, priceType models.PriceType) (float64, bool)
}

// Manager пересчитывает балансы и маржу счетов по исполнениям,
// открытым ордерам и позициям. Счёт изменяется на месте, а итоговое
// состояние применяется к нему как очередное событие.
type Manager struct {
	cache Cache
	clock func() models.UnixNanos
	log   *utils.Logger
}

func NewManager(cache Cache, clock func() models.UnixNanos) *Manager {
	if clock == nil {
		clock = models.NanosNow
	}
	return &Manager{
		cache: cache,
		clock: clock,
		log:   utils.L().WithComponent("accounts"),
	}
}

// ============================================================
// Fills
// ============================================================

// UpdateBalances применяет исполнение к балансам счёта
func (m *Manager) UpdateBalances(account Account, inst *models.Instrument, fill models.OrderEvent) (models.AccountState, error) {
	if fill.Kind != models.OrderEventFilled {
		return models.AccountState{}, fmt.Errorf("%w: expected fill, got %s", ErrInvalidEvent, fill.Kind)
	}

	var position *models.Position
	if fill.PositionID != "" {
		position = m.cache.Position(fill.PositionID)
	}
	if position == nil {
		venue := inst.ID.Venue
		open := m.cache.PositionsOpen(&venue, &inst.ID, nil)
		if len(open) > 0 {
			position = open[0]
		}
	}

	pnls, err := account.CalculatePnLs(inst, fill, position)
	if err != nil {
		return models.AccountState{}, err
	}

	commission := models.MoneyZero(inst.Settlement())
	if fill.Commission != nil {
		commission = *fill.Commission
	}

	if base := account.BaseCurrency(); base != nil {
		err = m.applySingleCurrency(account, inst, fill, *base, pnls, commission)
	} else {
		err = m.applyMultiCurrency(account, pnls, commission)
	}
	if err != nil {
		m.log.Error("balance update failed",
			utils.AccountID(account.ID().String()),
			utils.Instrument(inst.ID.String()),
			utils.OrderID(string(fill.ClientOrderID)),
			utils.Err(err))
		return models.AccountState{}, err
	}

	return m.generateAccountState(account, fill.TsEvent)
}

func (m *Manager) applySingleCurrency(account Account, inst *models.Instrument, fill models.OrderEvent,
	base models.Currency, pnls []models.Money, commission models.Money) error {
	pnl := models.MoneyZero(base)
	if len(pnls) > 0 {
		pnl = pnls[0]
	}
	priceType := models.PriceTypeAsk
	if fill.IsSell() {
		priceType = models.PriceTypeBid
	}

	var err error
	if commission, err = m.toCurrency(inst.ID.Venue, commission, base, priceType); err != nil {
		return err
	}
	if pnl, err = m.toCurrency(inst.ID.Venue, pnl, base, priceType); err != nil {
		return err
	}
	pnl = models.MoneyFromRaw(pnl.Raw-commission.Raw, base)
	if pnl.IsZero() {
		return nil
	}

	bal, ok := account.Balance(base.Code)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBalance, base.Code)
	}
	updated, err := models.NewAccountBalance(
		models.MoneyFromRaw(bal.Total.Raw+pnl.Raw, base),
		bal.Locked,
		models.MoneyFromRaw(bal.Free.Raw+pnl.Raw, base),
	)
	if err != nil {
		return err
	}
	if err := account.UpdateBalances([]models.AccountBalance{updated}); err != nil {
		return err
	}
	account.UpdateCommissions(commission)
	return nil
}

func (m *Manager) applyMultiCurrency(account Account, pnls []models.Money, commission models.Money) error {
	var balances []models.AccountBalance
	applied := commission.IsZero()

	for _, pnl := range pnls {
		if !applied && pnl.Currency.Code == commission.Currency.Code {
			pnl = models.MoneyFromRaw(pnl.Raw-commission.Raw, pnl.Currency)
			applied = true
		}
		if pnl.IsZero() {
			continue
		}

		bal, ok := account.Balance(pnl.Currency.Code)
		if !ok {
			if pnl.Raw < 0 {
				return fmt.Errorf("%w: cannot open %s balance with negative pnl %s", ErrNegativeBalance,
					pnl.Currency.Code, pnl)
			}
			balances = append(balances, models.BalanceFromTotal(pnl))
			continue
		}

		total := bal.Total.Raw + pnl.Raw
		free := bal.Free.Raw + pnl.Raw
		if total < 0 || free < 0 {
			return fmt.Errorf("%w: %s total %s free %s after pnl %s", ErrNegativeBalance, pnl.Currency.Code,
				models.MoneyFromRaw(total, pnl.Currency), models.MoneyFromRaw(free, pnl.Currency), pnl)
		}
		balances = append(balances, models.AccountBalance{
			Total:  models.MoneyFromRaw(total, pnl.Currency),
			Locked: bal.Locked,
			Free:   models.MoneyFromRaw(free, pnl.Currency),
		})
	}

	if !applied {
		bal, ok := account.Balance(commission.Currency.Code)
		if !ok {
			return fmt.Errorf("%w: commission currency %s", ErrNoBalance, commission.Currency.Code)
		}
		balances = append(balances, models.AccountBalance{
			Total:  models.MoneyFromRaw(bal.Total.Raw-commission.Raw, commission.Currency),
			Locked: bal.Locked,
			Free:   models.MoneyFromRaw(bal.Free.Raw-commission.Raw, commission.Currency),
		})
	}

	if err := account.UpdateBalances(balances); err != nil {
		return err
	}
	account.UpdateCommissions(commission)
	return nil
}

// ============================================================
// Orders / positions
// ============================================================

// UpdateOrders пересчитывает блокировку (cash) или начальную маржу (margin)
// по открытым ордерам инструмента
func (m *Manager) UpdateOrders(account Account, inst *models.Instrument, orders []*models.Order,
	tsEvent models.UnixNanos) (models.AccountState, error) {
	var err error
	switch acc := account.(type) {
	case *CashAccount:
		err = m.updateBalanceLocked(acc, inst, orders)
	case *MarginAccount:
		err = m.updateMarginInit(acc, inst, orders)
	default:
		err = fmt.Errorf("unsupported account type %T", account)
	}
	if err != nil {
		return models.AccountState{}, err
	}
	return m.generateAccountState(account, tsEvent)
}

func (m *Manager) updateBalanceLocked(acc *CashAccount, inst *models.Instrument, orders []*models.Order) error {
	if len(orders) == 0 {
		return acc.ClearBalanceLocked(inst.ID)
	}

	totals := make(map[string]models.Money)
	for _, o := range orders {
		if o.InstrumentID != inst.ID {
			return fmt.Errorf("order %s instrument %s != %s", o.ClientOrderID, o.InstrumentID, inst.ID)
		}
		if !o.IsOpen() || o.IsReduceOnly {
			continue
		}
		px := o.Price
		if px == nil {
			px = o.TriggerPrice
		}
		if px == nil {
			continue
		}

		locked, err := acc.CalculateBalanceLocked(inst, o.Side, o.LeavesQty, *px, false)
		if err != nil {
			return err
		}
		if base := acc.BaseCurrency(); base != nil {
			if locked, err = m.toCurrency(inst.ID.Venue, locked, *base, sidePriceType(o.Side)); err != nil {
				return err
			}
		}
		code := locked.Currency.Code
		if cur, ok := totals[code]; ok {
			totals[code] = cur.MustAdd(locked)
		} else {
			totals[code] = locked
		}
	}

	if err := acc.ClearBalanceLocked(inst.ID); err != nil {
		return err
	}
	for _, locked := range totals {
		if err := acc.UpdateBalanceLocked(inst.ID, locked); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) updateMarginInit(acc *MarginAccount, inst *models.Instrument, orders []*models.Order) error {
	currency := inst.QuoteCurrency
	if inst.IsInverse && inst.BaseCurrency != nil {
		currency = *inst.BaseCurrency
	}
	if base := acc.BaseCurrency(); base != nil {
		currency = *base
	}
	total := models.MoneyZero(currency)

	for _, o := range orders {
		if o.InstrumentID != inst.ID {
			return fmt.Errorf("order %s instrument %s != %s", o.ClientOrderID, o.InstrumentID, inst.ID)
		}
		if !o.IsOpen() || o.IsReduceOnly || o.Price == nil {
			continue
		}
		margin, err := acc.CalculateInitialMargin(inst, o.LeavesQty, *o.Price, false)
		if err != nil {
			return err
		}
		margin, err = m.toCurrency(inst.ID.Venue, margin, currency, sidePriceType(o.Side))
		if err != nil {
			m.log.Debug("skip order without xrate",
				utils.OrderID(string(o.ClientOrderID)), utils.Err(err))
			continue
		}
		total = total.MustAdd(margin)
	}
	return acc.UpdateInitialMargin(inst.ID, total)
}

// UpdatePositions пересчитывает поддерживающую маржу по открытым позициям
func (m *Manager) UpdatePositions(account *MarginAccount, inst *models.Instrument, positions []*models.Position,
	tsEvent models.UnixNanos) (models.AccountState, error) {
	currency := inst.QuoteCurrency
	if inst.IsInverse && inst.BaseCurrency != nil {
		currency = *inst.BaseCurrency
	}
	if base := account.BaseCurrency(); base != nil {
		currency = *base
	}
	total := models.MoneyZero(currency)

	for _, p := range positions {
		if p.InstrumentID != inst.ID {
			return models.AccountState{}, fmt.Errorf("position %s instrument %s != %s", p.ID, p.InstrumentID, inst.ID)
		}
		if !p.IsOpen() {
			continue
		}
		margin, err := account.CalculateMaintenanceMargin(inst, p.Quantity, inst.MakePrice(p.AvgPxOpen), false)
		if err != nil {
			return models.AccountState{}, err
		}
		side := models.OrderSideBuy
		if p.IsShort() {
			side = models.OrderSideSell
		}
		if margin, err = m.toCurrency(inst.ID.Venue, margin, currency, sidePriceType(side)); err != nil {
			return models.AccountState{}, err
		}
		total = total.MustAdd(margin)
	}

	if err := account.UpdateMaintenanceMargin(inst.ID, total); err != nil {
		return models.AccountState{}, err
	}
	return m.generateAccountState(account, tsEvent)
}

// ============================================================
// Helpers
// ============================================================

func (m *Manager) generateAccountState(account Account, tsEvent models.UnixNanos) (models.AccountState, error) {
	state := account.State(tsEvent, m.clock())
	if err := account.Apply(state); err != nil {
		return models.AccountState{}, err
	}
	return state, nil
}

// CalculateXRateToBase - курс из валюты расчётов инструмента в базовую
// валюту счёта; без базовой валюты курс равен 1
func (m *Manager) CalculateXRateToBase(account Account, inst *models.Instrument, side models.OrderSide) (float64, bool) {
	base := account.BaseCurrency()
	if base == nil {
		return 1, true
	}
	return m.cache.GetXRate(inst.ID.Venue, inst.Settlement(), *base, sidePriceType(side))
}

func (m *Manager) toCurrency(venue models.Venue, amount models.Money, to models.Currency,
	priceType models.PriceType) (models.Money, error) {
	if amount.Currency.Code == to.Code {
		return amount, nil
	}
	if amount.IsZero() {
		return models.MoneyZero(to), nil
	}
	rate, ok := m.cache.GetXRate(venue, amount.Currency, to, priceType)
	if !ok {
		return models.Money{}, fmt.Errorf("%w: %s/%s", ErrNoXRate, amount.Currency.Code, to.Code)
	}
	return models.MoneyFromDecimal(amount.AsDecimal().Mul(decimal.NewFromFloat(rate)), to), nil
}

func sidePriceType(side models.OrderSide) models.PriceType {
	if side == models.OrderSideSell {
		return models.PriceTypeBid
	}
	return models.PriceTypeAsk
}
