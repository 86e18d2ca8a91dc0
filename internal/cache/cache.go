// Package cache - изменяемый снимок торговых сущностей: ордера, позиции,
// счета, инструменты и последние рыночные данные.
//
// Позиции и ордера принадлежат кэшу; читатели получают общие указатели и
// не должны изменять их вне потока, владеющего обработкой событий.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"tradecore/internal/accounts"
	"tradecore/internal/models"
	"tradecore/pkg/utils"
)

var (
	ErrDuplicate = errors.New("already exists in cache")
	ErrNotFound  = errors.New("not found in cache")
)

// Config - ёмкость очередей рыночных данных на инструмент
type Config struct {
	TickCapacity int
	BarCapacity  int
}

func (c Config) withDefaults() Config {
	if c.TickCapacity <= 0 {
		c.TickCapacity = 10_000
	}
	if c.BarCapacity <= 0 {
		c.BarCapacity = 10_000
	}
	return c
}

// Cache - потокобезопасное хранилище; одна блокировка на операцию
type Cache struct {
	cfg Config
	mu  sync.RWMutex

	instruments map[models.InstrumentID]*models.Instrument
	accounts    map[models.AccountID]accounts.Account

	orders     map[models.ClientOrderID]*models.Order
	orderSeq   []models.ClientOrderID
	positions  map[models.PositionID]*models.Position
	positionSq []models.PositionID

	orderPosition map[models.ClientOrderID]models.PositionID

	snapshots     map[models.PositionID][]byte
	snapshotCount map[models.PositionID]int
	snapshotInst  map[models.PositionID]models.InstrumentID

	quotes     map[models.InstrumentID][]models.QuoteTick
	trades     map[models.InstrumentID][]models.TradeTick
	bars       map[string][]models.Bar
	markPrices map[models.InstrumentID]models.MarkPriceUpdate
	markXRates map[[2]string]float64

	log *utils.Logger
}

func New(cfg Config) *Cache {
	c := &Cache{
		cfg: cfg.withDefaults(),
		log: utils.L().WithComponent("cache"),
	}
	c.init()
	return c
}

func (c *Cache) init() {
	c.instruments = make(map[models.InstrumentID]*models.Instrument)
	c.accounts = make(map[models.AccountID]accounts.Account)
	c.orders = make(map[models.ClientOrderID]*models.Order)
	c.orderSeq = nil
	c.positions = make(map[models.PositionID]*models.Position)
	c.positionSq = nil
	c.orderPosition = make(map[models.ClientOrderID]models.PositionID)
	c.snapshots = make(map[models.PositionID][]byte)
	c.snapshotCount = make(map[models.PositionID]int)
	c.snapshotInst = make(map[models.PositionID]models.InstrumentID)
	c.quotes = make(map[models.InstrumentID][]models.QuoteTick)
	c.trades = make(map[models.InstrumentID][]models.TradeTick)
	c.bars = make(map[string][]models.Bar)
	c.markPrices = make(map[models.InstrumentID]models.MarkPriceUpdate)
	c.markXRates = make(map[[2]string]float64)
}

// Reset очищает кэш полностью
func (c *Cache) Reset() {
	c.mu.Lock()
	c.init()
	c.mu.Unlock()
	c.log.Info("cache reset")
}

// ============================================================
// Instruments
// ============================================================

func (c *Cache) AddInstrument(inst *models.Instrument) {
	c.mu.Lock()
	c.instruments[inst.ID] = inst
	c.mu.Unlock()
}

func (c *Cache) Instrument(id models.InstrumentID) *models.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instruments[id]
}

// Instruments возвращает инструменты площадки (или все при venue == nil)
func (c *Cache) Instruments(venue *models.Venue) []*models.Instrument {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Instrument, 0, len(c.instruments))
	for id, inst := range c.instruments {
		if venue != nil && id.Venue != *venue {
			continue
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// ============================================================
// Accounts
// ============================================================

func (c *Cache) AddAccount(acc accounts.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.accounts[acc.ID()]; ok {
		return fmt.Errorf("account %s: %w", acc.ID(), ErrDuplicate)
	}
	c.accounts[acc.ID()] = acc
	return nil
}

// UpdateAccount добавляет или заменяет счёт
func (c *Cache) UpdateAccount(acc accounts.Account) {
	c.mu.Lock()
	c.accounts[acc.ID()] = acc
	c.mu.Unlock()
}

func (c *Cache) Account(id models.AccountID) accounts.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accounts[id]
}

// AccountForVenue ищет счёт по эмитенту идентификатора (часть до '-')
func (c *Cache) AccountForVenue(venue models.Venue) accounts.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, acc := range c.accounts {
		if id.Issuer() == string(venue) {
			return acc
		}
	}
	return nil
}

func (c *Cache) Accounts() []accounts.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]accounts.Account, 0, len(c.accounts))
	for _, acc := range c.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ============================================================
// Orders
// ============================================================

// AddOrder сохраняет ордер; positionID может быть пустым
func (c *Cache) AddOrder(order *models.Order, positionID models.PositionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[order.ClientOrderID]; ok {
		return fmt.Errorf("order %s: %w", order.ClientOrderID, ErrDuplicate)
	}
	c.orders[order.ClientOrderID] = order
	c.orderSeq = append(c.orderSeq, order.ClientOrderID)
	if positionID != "" {
		c.orderPosition[order.ClientOrderID] = positionID
	}
	return nil
}

// UpdateOrder заменяет сохранённый ордер (после применения события)
func (c *Cache) UpdateOrder(order *models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[order.ClientOrderID]; !ok {
		return fmt.Errorf("order %s: %w", order.ClientOrderID, ErrNotFound)
	}
	c.orders[order.ClientOrderID] = order
	if order.PositionID != "" {
		c.orderPosition[order.ClientOrderID] = order.PositionID
	}
	return nil
}

func (c *Cache) Order(id models.ClientOrderID) *models.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orders[id]
}

func (c *Cache) OrderExists(id models.ClientOrderID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.orders[id]
	return ok
}

// OrderFilter - фильтр запросов ордеров; nil-поля не ограничивают выборку
type OrderFilter struct {
	Venue        *models.Venue
	InstrumentID *models.InstrumentID
	StrategyID   *models.StrategyID
	Side         models.OrderSide
}

func (f OrderFilter) match(o *models.Order) bool {
	if f.Venue != nil && o.InstrumentID.Venue != *f.Venue {
		return false
	}
	if f.InstrumentID != nil && o.InstrumentID != *f.InstrumentID {
		return false
	}
	if f.StrategyID != nil && o.StrategyID != *f.StrategyID {
		return false
	}
	if f.Side != models.NoOrderSide && o.Side != f.Side {
		return false
	}
	return true
}

func (c *Cache) selectOrders(f OrderFilter, keep func(*models.Order) bool) []*models.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.Order
	for _, id := range c.orderSeq {
		o := c.orders[id]
		if o != nil && f.match(o) && keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (c *Cache) Orders(f OrderFilter) []*models.Order {
	return c.selectOrders(f, func(*models.Order) bool { return true })
}

func (c *Cache) OrdersOpen(f OrderFilter) []*models.Order {
	return c.selectOrders(f, (*models.Order).IsOpen)
}

func (c *Cache) OrdersClosed(f OrderFilter) []*models.Order {
	return c.selectOrders(f, (*models.Order).IsClosed)
}

func (c *Cache) OrdersInflight(f OrderFilter) []*models.Order {
	return c.selectOrders(f, (*models.Order).IsInflight)
}

func (c *Cache) OrdersOpenCount(f OrderFilter) int {
	return len(c.OrdersOpen(f))
}

// ============================================================
// Positions
// ============================================================

func (c *Cache) AddPosition(p *models.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.positions[p.ID]; ok {
		return fmt.Errorf("position %s: %w", p.ID, ErrDuplicate)
	}
	c.positions[p.ID] = p
	c.positionSq = append(c.positionSq, p.ID)
	for _, id := range p.ClientOrderIDs() {
		c.orderPosition[id] = p.ID
	}
	return nil
}

func (c *Cache) UpdatePosition(p *models.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.positions[p.ID]; !ok {
		return fmt.Errorf("position %s: %w", p.ID, ErrNotFound)
	}
	c.positions[p.ID] = p
	for _, id := range p.ClientOrderIDs() {
		c.orderPosition[id] = p.ID
	}
	return nil
}

func (c *Cache) Position(id models.PositionID) *models.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positions[id]
}

func (c *Cache) PositionExists(id models.PositionID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.positions[id]
	return ok
}

// PositionForOrder - позиция, к которой относится ордер
func (c *Cache) PositionForOrder(id models.ClientOrderID) *models.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pid, ok := c.orderPosition[id]
	if !ok {
		return nil
	}
	return c.positions[pid]
}

func (c *Cache) selectPositions(venue *models.Venue, instrumentID *models.InstrumentID,
	strategyID *models.StrategyID, keep func(*models.Position) bool) []*models.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.Position
	for _, id := range c.positionSq {
		p := c.positions[id]
		if p == nil {
			continue
		}
		if venue != nil && p.InstrumentID.Venue != *venue {
			continue
		}
		if instrumentID != nil && p.InstrumentID != *instrumentID {
			continue
		}
		if strategyID != nil && p.StrategyID != *strategyID {
			continue
		}
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Cache) Positions(venue *models.Venue, instrumentID *models.InstrumentID, strategyID *models.StrategyID) []*models.Position {
	return c.selectPositions(venue, instrumentID, strategyID, func(*models.Position) bool { return true })
}

func (c *Cache) PositionsOpen(venue *models.Venue, instrumentID *models.InstrumentID, strategyID *models.StrategyID) []*models.Position {
	return c.selectPositions(venue, instrumentID, strategyID, (*models.Position).IsOpen)
}

func (c *Cache) PositionsClosed(venue *models.Venue, instrumentID *models.InstrumentID, strategyID *models.StrategyID) []*models.Position {
	return c.selectPositions(venue, instrumentID, strategyID, (*models.Position).IsClosed)
}

// ============================================================
// Purge
// ============================================================

// PurgeOrder удаляет ордер и его связи; открытый ордер не удаляется
func (c *Cache) PurgeOrder(id models.ClientOrderID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeOrderLocked(id)
}

func (c *Cache) purgeOrderLocked(id models.ClientOrderID) bool {
	o, ok := c.orders[id]
	if !ok || o.IsOpen() {
		return false
	}
	if pid, ok := c.orderPosition[id]; ok {
		if p := c.positions[pid]; p != nil {
			p.PurgeEventsForOrder(id)
		}
	}
	delete(c.orders, id)
	delete(c.orderPosition, id)
	c.orderSeq = removeID(c.orderSeq, id)
	return true
}

// PurgeClosedOrders удаляет ордера, закрытые раньше now - buffer
func (c *Cache) PurgeClosedOrders(now models.UnixNanos, bufferNs uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for _, id := range append([]models.ClientOrderID(nil), c.orderSeq...) {
		o := c.orders[id]
		if o == nil || !o.IsClosed() || uint64(o.TsLast)+bufferNs > uint64(now) {
			continue
		}
		if c.purgeOrderLocked(id) {
			purged++
		}
	}
	if purged > 0 {
		c.log.Info("purged closed orders", utils.Int("count", purged))
	}
	return purged
}

// PurgePosition удаляет закрытую позицию
func (c *Cache) PurgePosition(id models.PositionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgePositionLocked(id)
}

func (c *Cache) purgePositionLocked(id models.PositionID) bool {
	p, ok := c.positions[id]
	if !ok || p.IsOpen() {
		return false
	}
	delete(c.positions, id)
	c.positionSq = removeID(c.positionSq, id)
	for oid, pid := range c.orderPosition {
		if pid == id {
			delete(c.orderPosition, oid)
		}
	}
	return true
}

// PurgeClosedPositions удаляет позиции, закрытые раньше now - buffer
func (c *Cache) PurgeClosedPositions(now models.UnixNanos, bufferNs uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for _, id := range append([]models.PositionID(nil), c.positionSq...) {
		p := c.positions[id]
		if p == nil || p.TsClosed == nil || uint64(*p.TsClosed)+bufferNs > uint64(now) {
			continue
		}
		if c.purgePositionLocked(id) {
			purged++
		}
	}
	if purged > 0 {
		c.log.Info("purged closed positions", utils.Int("count", purged))
	}
	return purged
}

func removeID[T comparable](ids []T, id T) []T {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
