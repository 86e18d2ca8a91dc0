package portfolio

import (
	"fmt"
	"sort"

	"tradecore/internal/accounts"
	"tradecore/internal/cache"
	"tradecore/internal/models"
	"tradecore/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// unwrap принимает сообщение шины как значение или указатель
func unwrap[T any](msg any) (T, bool) {
	switch v := msg.(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

// ============================================================
// Обработчики шины
// ============================================================

func (s *state) onAccount(msg any) {
	ev, ok := unwrap[models.AccountState](msg)
	if !ok {
		s.log.Warn("unexpected account message", utils.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	s.exec(func() { s.updateAccount(ev) })
}

func (s *state) onOrder(msg any) {
	ev, ok := unwrap[models.OrderEvent](msg)
	if !ok {
		s.log.Warn("unexpected order message", utils.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	s.exec(func() { s.updateOrder(ev) })
}

func (s *state) onPosition(msg any) {
	ev, ok := unwrap[models.PositionEvent](msg)
	if !ok {
		s.log.Warn("unexpected position message", utils.String("type", fmt.Sprintf("%T", msg)))
		return
	}
	s.exec(func() { s.updatePosition(ev) })
}

func (s *state) onQuote(msg any) {
	q, ok := unwrap[models.QuoteTick](msg)
	if !ok {
		return
	}
	s.exec(func() { s.updateInstrument(q.InstrumentID) })
}

func (s *state) onBar(msg any) {
	b, ok := unwrap[models.Bar](msg)
	if !ok {
		return
	}
	s.exec(func() { s.updateBar(b) })
}

func (s *state) onMarkPrice(msg any) {
	m, ok := unwrap[models.MarkPriceUpdate](msg)
	if !ok {
		return
	}
	s.exec(func() { s.updateInstrument(m.InstrumentID) })
}

// Прямые вызовы для движков, работающих без шины

func (p *Portfolio) UpdateAccount(ev models.AccountState) {
	p.inner.exec(func() { p.inner.updateAccount(ev) })
}

func (p *Portfolio) UpdateOrder(ev models.OrderEvent) {
	p.inner.exec(func() { p.inner.updateOrder(ev) })
}

func (p *Portfolio) UpdatePosition(ev models.PositionEvent) {
	p.inner.exec(func() { p.inner.updatePosition(ev) })
}

func (p *Portfolio) UpdateQuoteTick(q models.QuoteTick) {
	p.inner.exec(func() { p.inner.updateInstrument(q.InstrumentID) })
}

func (p *Portfolio) UpdateBar(b models.Bar) {
	p.inner.exec(func() { p.inner.updateBar(b) })
}

func (p *Portfolio) UpdateMarkPrice(m models.MarkPriceUpdate) {
	p.inner.exec(func() { p.inner.updateInstrument(m.InstrumentID) })
}

// ============================================================
// Accounts
// ============================================================

// updateAccount применяет состояние к счёту из кэша или создаёт счёт.
// Состояние, уже применённое менеджером счетов, повторно не применяется.
func (s *state) updateAccount(ev models.AccountState) {
	accountEvents.WithLabelValues("state").Inc()

	if acc := s.cache.Account(ev.AccountID); acc != nil {
		if last, ok := acc.LastEvent(); !ok || last.EventID == "" || last.EventID != ev.EventID {
			if err := acc.Apply(ev); err != nil {
				s.log.Error("failed to apply account state", utils.AccountID(string(ev.AccountID)), utils.Err(err))
				return
			}
		}
		s.cache.UpdateAccount(acc)
	} else if err := s.cache.AddAccount(accounts.FromState(ev)); err != nil {
		s.log.Error("failed to add account", utils.AccountID(string(ev.AccountID)), utils.Err(err))
		return
	}

	s.logAccountState(ev)
}

// logAccountState пишет INFO не чаще MinAccountStateLoggingInterval на счёт
func (s *state) logAccountState(ev models.AccountState) {
	now := s.clock()
	if interval := s.cfg.MinAccountStateLoggingInterval; interval > 0 {
		if last, ok := s.accountLogged[ev.AccountID]; ok && now-last < models.UnixNanos(interval) {
			s.log.Debug("updated account", utils.AccountID(string(ev.AccountID)))
			return
		}
	}
	s.accountLogged[ev.AccountID] = now

	fields := []zap.Field{
		utils.AccountID(string(ev.AccountID)),
		utils.String("type", ev.AccountType.String()),
		utils.Bool("reported", ev.IsReported),
	}
	for _, b := range ev.Balances {
		fields = append(fields, utils.String("balance_"+b.Currency().Code, b.Total.String()))
	}
	s.log.Info("updated account", fields...)
}

// ============================================================
// Orders
// ============================================================

func (s *state) updateOrder(ev models.OrderEvent) {
	if ev.AccountID == "" {
		return
	}
	acc := s.cache.Account(ev.AccountID)
	if acc == nil {
		s.log.Error("cannot update order: no account registered", utils.AccountID(string(ev.AccountID)))
		return
	}
	if !s.cfg.CalculateAccountState {
		return
	}

	switch ev.Kind {
	case models.OrderEventAccepted, models.OrderEventCanceled, models.OrderEventRejected,
		models.OrderEventUpdated, models.OrderEventFilled:
	default:
		return
	}
	orderEvents.WithLabelValues(ev.Kind.String()).Inc()

	order := s.cache.Order(ev.ClientOrderID)
	if order == nil {
		s.log.Error("cannot update order: not found in cache", utils.OrderID(string(ev.ClientOrderID)))
		return
	}
	// отклонённый стоп-лимит мог успеть заблокировать средства
	if ev.Kind == models.OrderEventRejected && order.Type != models.OrderTypeStopLimit {
		return
	}

	id := ev.InstrumentID
	inst := s.cache.Instrument(id)
	if inst == nil {
		s.log.Error("cannot update order: no instrument", utils.Instrument(id.String()))
		return
	}

	if ev.Kind == models.OrderEventFilled {
		if _, err := s.accounts.UpdateBalances(acc, inst, ev); err != nil {
			s.log.Warn("balance update failed", utils.OrderID(string(ev.ClientOrderID)), utils.Err(err))
		}
		if pnl, ok := s.calculateUnrealizedPnL(id); ok {
			s.unrealized[id] = pnl
		} else {
			s.log.Error("failed to calculate unrealized pnl", utils.Instrument(id.String()))
		}
	}

	open := s.cache.OrdersOpen(cache.OrderFilter{InstrumentID: &id})
	st, err := s.accounts.UpdateOrders(acc, inst, open, s.clock())
	s.cache.UpdateAccount(acc)
	if err != nil {
		s.log.Debug("order margin calculation failed", utils.Instrument(id.String()), utils.Err(err))
		s.markPending(id)
		return
	}
	s.outbox = append(s.outbox, st)
}

// ============================================================
// Positions
// ============================================================

func (s *state) updatePosition(ev models.PositionEvent) {
	id := ev.InstrumentID
	positionEvents.WithLabelValues(ev.Kind.String()).Inc()

	open := s.cache.PositionsOpen(nil, &id, nil)
	s.updateNetPosition(id, open)

	if pnl, ok := s.calculateUnrealizedPnL(id); ok {
		s.unrealized[id] = pnl
	} else {
		delete(s.unrealized, id)
	}
	if pnl, ok := s.calculateRealizedPnL(id); ok {
		s.realized[id] = pnl
	} else {
		delete(s.realized, id)
	}

	acc := s.cache.Account(ev.AccountID)
	if acc == nil {
		s.log.Error("cannot update position: no account registered", utils.AccountID(string(ev.AccountID)))
		return
	}
	margin, ok := acc.(*accounts.MarginAccount)
	if !ok || !s.cfg.CalculateAccountState {
		return
	}
	inst := s.cache.Instrument(id)
	if inst == nil {
		s.log.Error("cannot update position: no instrument", utils.Instrument(id.String()))
		return
	}

	st, err := s.accounts.UpdatePositions(margin, inst, open, s.clock())
	if err != nil {
		s.log.Debug("position margin calculation failed", utils.Instrument(id.String()), utils.Err(err))
		s.markPending(id)
		return
	}
	s.cache.UpdateAccount(margin)
	s.outbox = append(s.outbox, st)
}

// updateNetPosition пересчитывает сумму SignedQty; лог только при изменении
func (s *state) updateNetPosition(id models.InstrumentID, open []*models.Position) {
	net := decimal.Zero
	for _, p := range open {
		net = net.Add(decimal.NewFromFloat(p.SignedQty))
	}
	if s.netPositions[id].Equal(net) {
		return
	}
	s.netPositions[id] = net
	s.log.Info("net position changed", utils.Instrument(id.String()), utils.String("net_position", net.String()))
}

// ============================================================
// Market data
// ============================================================

func (s *state) updateBar(b models.Bar) {
	id := b.BarType.InstrumentID
	s.barClose[id] = b.Close
	s.updateInstrument(id)
}

// updateInstrument сбрасывает кэш нереализованного PnL и, пока портфель
// не инициализирован, повторяет отложенные расчёты по инструменту
func (s *state) updateInstrument(id models.InstrumentID) {
	delete(s.unrealized, id)

	if s.initialized || !s.isPending(id) {
		return
	}

	acc := s.cache.AccountForVenue(id.Venue)
	if acc == nil {
		s.log.Error("cannot update tick: no account for venue", utils.Venue(string(id.Venue)))
		return
	}
	inst := s.cache.Instrument(id)
	if inst == nil {
		s.log.Error("cannot update tick: no instrument", utils.Instrument(id.String()))
		return
	}

	orders := s.cache.OrdersOpen(cache.OrderFilter{InstrumentID: &id})
	positions := s.cache.PositionsOpen(nil, &id, nil)

	_, errInit := s.accounts.UpdateOrders(acc, inst, orders, s.clock())
	var errMaint error
	margin, isMargin := acc.(*accounts.MarginAccount)
	if isMargin {
		_, errMaint = s.accounts.UpdatePositions(margin, inst, positions, s.clock())
	}
	s.cache.UpdateAccount(acc)

	_, pnlOK := s.calculateUnrealizedPnL(id)

	if errInit == nil && (!isMargin || (errMaint == nil && pnlOK)) {
		delete(s.pending, id)
		if len(s.pending) == 0 {
			s.initialized = true
			s.log.Info("pending calculations resolved")
		}
	}
}

// ============================================================
// Grouping
// ============================================================

type orderGroup struct {
	id     models.InstrumentID
	orders []*models.Order
}

type positionGroup struct {
	id        models.InstrumentID
	positions []*models.Position
}

// groupOrders группирует ордера по инструменту в порядке id инструмента
func groupOrders(orders []*models.Order) []orderGroup {
	idx := make(map[models.InstrumentID]int)
	var out []orderGroup
	for _, o := range orders {
		i, ok := idx[o.InstrumentID]
		if !ok {
			i = len(out)
			idx[o.InstrumentID] = i
			out = append(out, orderGroup{id: o.InstrumentID})
		}
		out[i].orders = append(out[i].orders, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.String() < out[j].id.String() })
	return out
}

func groupPositions(positions []*models.Position) []positionGroup {
	idx := make(map[models.InstrumentID]int)
	var out []positionGroup
	for _, p := range positions {
		i, ok := idx[p.InstrumentID]
		if !ok {
			i = len(out)
			idx[p.InstrumentID] = i
			out = append(out, positionGroup{id: p.InstrumentID})
		}
		out[i].positions = append(out[i].positions, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id.String() < out[j].id.String() })
	return out
}
