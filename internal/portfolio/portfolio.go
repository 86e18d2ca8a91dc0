// portfolio.go - движок портфеля
//
// Назначение:
// Слушает события ордеров, позиций, счетов и рыночные данные из шины и
// поддерживает по инструментам нетто-позицию, реализованный и
// нереализованный PnL, экспозицию и маржу.
//
// Функции:
// - New: подписка на темы шины и регистрация точки Portfolio.update_account
// - Dispose: снятие подписок
// - InitializeOrders/InitializePositions: начальный расчёт маржи и PnL
// - Reset: сброс расчётного состояния
package portfolio

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"tradecore/internal/accounts"
	"tradecore/internal/cache"
	"tradecore/internal/models"
	"tradecore/internal/msgbus"
	"tradecore/pkg/utils"

	"github.com/shopspring/decimal"
)

// Темы шины, которые слушает портфель
const (
	TopicOrders     = "events.order.*"
	TopicPositions  = "events.position.*"
	TopicAccounts   = "events.account.*"
	TopicQuotes     = "data.quotes.*"
	TopicBars       = "data.bars.*EXTERNAL"
	TopicMarkPrices = "data.mark_prices.*"

	// EndpointUpdateAccount - точка прямой доставки состояний счёта
	EndpointUpdateAccount = "Portfolio.update_account"

	handlerPriority = 10
)

// AccountTopic - тема, в которую публикуется состояние счёта
func AccountTopic(id models.AccountID) string {
	return "events.account." + string(id)
}

// Config - настройки портфеля
type Config struct {
	// OmsType определяет правило учёта снимков позиций в реализованном PnL
	OmsType models.OmsType

	// BarUpdates - использовать закрытие внешних баров как цену последней надежды
	BarUpdates bool

	// UseMarkPrices - оценивать позиции по mark price, если она есть
	UseMarkPrices bool

	// UseMarkXRates - конвертировать в базовую валюту по mark-курсам
	UseMarkXRates bool

	// ConvertToAccountBaseCurrency - приводить PnL и экспозицию к базовой валюте счёта
	ConvertToAccountBaseCurrency bool

	// CalculateAccountState - пересчитывать балансы и маржу локально;
	// false, если состояние счёта присылает площадка
	CalculateAccountState bool

	// MinAccountStateLoggingInterval - не чаще одной строки INFO на счёт за интервал
	MinAccountStateLoggingInterval time.Duration
}

// DefaultConfig - HEDGING, конвертация в базовую валюту и локальный расчёт счёта
func DefaultConfig() Config {
	return Config{
		OmsType:                      models.OmsHedging,
		ConvertToAccountBaseCurrency: true,
		CalculateAccountState:        true,
	}
}

// state - расчётное состояние портфеля. Обработчики шины держат на него
// только слабую ссылку, сильная есть лишь у Portfolio.
type state struct {
	mu sync.Mutex

	cfg      Config
	cache    *cache.Cache
	bus      *msgbus.Bus
	accounts *accounts.Manager
	clock    func() models.UnixNanos
	log      *utils.Logger

	unrealized    map[models.InstrumentID]models.Money
	realized      map[models.InstrumentID]models.Money
	netPositions  map[models.InstrumentID]decimal.Decimal
	pending       map[models.InstrumentID]struct{}
	barClose      map[models.InstrumentID]models.Price
	snapshots     map[models.PositionID]*snapshotTally
	accountLogged map[models.AccountID]models.UnixNanos
	initialized   bool

	// состояния счетов к публикации после снятия блокировки
	outbox []models.AccountState
}

func (s *state) resetLocked() {
	s.unrealized = make(map[models.InstrumentID]models.Money)
	s.realized = make(map[models.InstrumentID]models.Money)
	s.netPositions = make(map[models.InstrumentID]decimal.Decimal)
	s.pending = make(map[models.InstrumentID]struct{})
	s.barClose = make(map[models.InstrumentID]models.Price)
	s.snapshots = make(map[models.PositionID]*snapshotTally)
	s.accountLogged = make(map[models.AccountID]models.UnixNanos)
	s.initialized = false
}

// exec выполняет fn под блокировкой и затем публикует накопленные
// состояния счетов. Публикация вне блокировки: подписчик events.account.*
// может оказаться этим же портфелем.
func (s *state) exec(fn func()) {
	s.mu.Lock()
	fn()
	out := s.outbox
	s.outbox = nil
	pendingCalcs.Set(float64(len(s.pending)))
	s.mu.Unlock()

	for _, st := range out {
		s.bus.Publish(AccountTopic(st.AccountID), st)
	}
}

// route - тема и обработчик состояния
type route struct {
	pattern string
	handle  func(s *state, msg any)
}

// binding - подписки портфеля на шине
type binding struct {
	bus        *msgbus.Bus
	subs       []msgbus.SubscriptionID
	registered bool
}

func (b binding) detach() {
	for _, id := range b.subs {
		b.bus.Unsubscribe(id)
	}
	if b.registered {
		b.bus.Deregister(EndpointUpdateAccount)
	}
}

// Portfolio - агрегированный взгляд на счета и позиции
type Portfolio struct {
	inner    *state
	binding  binding
	cleanup  runtime.Cleanup
	disposed atomic.Bool
}

// New создаёт портфель и подписывает его на шину. clock может быть nil.
func New(bus *msgbus.Bus, c *cache.Cache, cfg Config, clock func() models.UnixNanos) (*Portfolio, error) {
	if bus == nil || c == nil {
		return nil, errors.New("portfolio requires bus and cache")
	}
	if clock == nil {
		clock = models.NanosNow
	}

	s := &state{
		cfg:      cfg,
		cache:    c,
		bus:      bus,
		accounts: accounts.NewManager(c, clock),
		clock:    clock,
		log:      utils.L().WithComponent("portfolio"),
	}
	s.resetLocked()

	p := &Portfolio{inner: s}
	if err := p.register(bus); err != nil {
		p.binding.detach()
		return nil, err
	}
	p.cleanup = runtime.AddCleanup(p, func(b binding) { b.detach() }, p.binding)
	return p, nil
}

func (p *Portfolio) register(bus *msgbus.Bus) error {
	ref := weak.Make(p.inner)
	p.binding.bus = bus

	if err := bus.Register(EndpointUpdateAccount, func(msg any) {
		if s := ref.Value(); s != nil {
			s.onAccount(msg)
		}
	}); err != nil {
		return fmt.Errorf("register %s: %w", EndpointUpdateAccount, err)
	}
	p.binding.registered = true

	routes := []route{
		{TopicQuotes, (*state).onQuote},
		{TopicOrders, (*state).onOrder},
		{TopicPositions, (*state).onPosition},
		{TopicAccounts, (*state).onAccount},
	}
	if p.inner.cfg.BarUpdates {
		routes = append(routes, route{TopicBars, (*state).onBar})
	}
	if p.inner.cfg.UseMarkPrices {
		routes = append(routes, route{TopicMarkPrices, (*state).onMarkPrice})
	}

	for _, r := range routes {
		handle := r.handle
		id, err := bus.Subscribe(r.pattern, func(_ string, msg any) {
			if s := ref.Value(); s != nil {
				handle(s, msg)
			}
		}, handlerPriority)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", r.pattern, err)
		}
		p.binding.subs = append(p.binding.subs, id)
	}
	return nil
}

// Dispose снимает подписки; повторный вызов ничего не делает
func (p *Portfolio) Dispose() {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}
	p.cleanup.Stop()
	p.binding.detach()
	p.inner.log.Debug("disposed")
}

// Reset сбрасывает рассчитанные значения и флаг инициализации
func (p *Portfolio) Reset() {
	p.inner.exec(func() {
		p.inner.log.Debug("resetting")
		p.inner.resetLocked()
	})
}

// IsInitialized - все отложенные расчёты выполнены
func (p *Portfolio) IsInitialized() bool {
	p.inner.mu.Lock()
	defer p.inner.mu.Unlock()
	return p.inner.initialized
}

// ============================================================
// Initialization
// ============================================================

// InitializeOrders рассчитывает блокировки и начальную маржу по всем
// открытым ордерам, сгруппированным по инструментам
func (p *Portfolio) InitializeOrders() {
	s := p.inner
	s.exec(func() {
		groups := groupOrders(s.cache.OrdersOpen(cache.OrderFilter{}))
		initialized := true
		total := 0

		for _, g := range groups {
			total += len(g.orders)
			inst := s.cache.Instrument(g.id)
			if inst == nil {
				s.log.Error("cannot update initial margin: no instrument", utils.Instrument(g.id.String()))
				initialized = false
				continue
			}
			acc := s.cache.AccountForVenue(g.id.Venue)
			if acc == nil {
				s.log.Error("cannot update initial margin: no account for venue", utils.Venue(string(g.id.Venue)))
				initialized = false
				continue
			}
			if _, err := s.accounts.UpdateOrders(acc, inst, g.orders, s.clock()); err != nil {
				s.log.Warn("initial margin calculation failed", utils.Instrument(g.id.String()), utils.Err(err))
				s.markPending(g.id)
				initialized = false
				continue
			}
			s.cache.UpdateAccount(acc)
		}

		s.initialized = initialized
		s.log.Info("initialized open orders", utils.Int("count", total))
	})
}

// InitializePositions пересчитывает нетто-позиции, PnL и поддерживающую
// маржу по всем открытым позициям
func (p *Portfolio) InitializePositions() {
	s := p.inner
	s.exec(func() {
		clear(s.unrealized)
		clear(s.realized)

		groups := groupPositions(s.cache.PositionsOpen(nil, nil, nil))
		initialized := true
		total := 0

		for _, g := range groups {
			total += len(g.positions)
			s.updateNetPosition(g.id, g.positions)

			if pnl, ok := s.calculateUnrealizedPnL(g.id); ok {
				s.unrealized[g.id] = pnl
			} else {
				initialized = false
			}
			if pnl, ok := s.calculateRealizedPnL(g.id); ok {
				s.realized[g.id] = pnl
			} else {
				initialized = false
			}

			acc := s.cache.AccountForVenue(g.id.Venue)
			if acc == nil {
				s.log.Error("cannot update maintenance margin: no account for venue", utils.Venue(string(g.id.Venue)))
				initialized = false
				continue
			}
			margin, ok := acc.(*accounts.MarginAccount)
			if !ok {
				continue
			}
			inst := s.cache.Instrument(g.id)
			if inst == nil {
				s.log.Error("cannot update maintenance margin: no instrument", utils.Instrument(g.id.String()))
				initialized = false
				continue
			}
			if _, err := s.accounts.UpdatePositions(margin, inst, g.positions, s.clock()); err != nil {
				s.log.Warn("maintenance margin calculation failed", utils.Instrument(g.id.String()), utils.Err(err))
				s.markPending(g.id)
				initialized = false
				continue
			}
			s.cache.UpdateAccount(margin)
		}

		s.initialized = initialized
		s.log.Info("initialized open positions", utils.Int("count", total))
	})
}

func (s *state) markPending(id models.InstrumentID) {
	if _, ok := s.pending[id]; !ok {
		s.log.Debug("added pending calculation", utils.Instrument(id.String()))
	}
	s.pending[id] = struct{}{}
	s.initialized = false
}

func (s *state) isPending(id models.InstrumentID) bool {
	_, ok := s.pending[id]
	return ok
}
