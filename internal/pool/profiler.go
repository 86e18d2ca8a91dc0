package pool

// profiler.go - детерминированная модель пула с концентрированной ликвидностью
//
// Назначение:
// Восстанавливает состояние пула (цена, тики, позиции, комиссии) по потоку
// событий цепочки и моделирует новые операции поверх него.
//
// Функции:
// - Initialize / Process / Process*: применение событий цепочки
// - Execute*: моделирование операции с построением события
// - запросы аналитики, позиций и тиков
//
// Profiler безопасен для конкурентного чтения; запись сериализуется.

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"tradecore/pkg/utils"
)

// Config - статические параметры пула
type Config struct {
	Address     common.Address
	Fee         uint32 // в миллионных долях, 3000 = 0.3%
	TickSpacing int32
	FeeProtocol uint8 // младшие 4 бита - token0, старшие - token1
}

func (c Config) validate() error {
	if c.TickSpacing <= 0 {
		return fmt.Errorf("tick spacing must be positive: %d", c.TickSpacing)
	}
	if c.Fee >= 1_000_000 {
		return fmt.Errorf("fee must be below 1000000 pips: %d", c.Fee)
	}
	return nil
}

// State - цена, текущий тик и накопители комиссий
type State struct {
	SqrtPriceX96     uint256.Int `json:"sqrt_price_x96"`
	CurrentTick      int32       `json:"current_tick"`
	FeeGrowthGlobal0 uint256.Int `json:"fee_growth_global_0"`
	FeeGrowthGlobal1 uint256.Int `json:"fee_growth_global_1"`
	FeeProtocol      uint8       `json:"fee_protocol"`
	ProtocolFees0    uint256.Int `json:"protocol_fees_token0"`
	ProtocolFees1    uint256.Int `json:"protocol_fees_token1"`
	Liquidity        uint256.Int `json:"liquidity"`
}

// Analytics - счётчики событий и суммарные потоки
type Analytics struct {
	TotalAmount0Deposited    uint256.Int `json:"total_amount0_deposited"`
	TotalAmount1Deposited    uint256.Int `json:"total_amount1_deposited"`
	TotalAmount0Collected    uint256.Int `json:"total_amount0_collected"`
	TotalAmount1Collected    uint256.Int `json:"total_amount1_collected"`
	TotalSwaps               uint64      `json:"total_swaps"`
	TotalMints               uint64      `json:"total_mints"`
	TotalBurns               uint64      `json:"total_burns"`
	TotalFeeCollects         uint64      `json:"total_fee_collects"`
	TotalFlashes             uint64      `json:"total_flashes"`
	LiquidityUtilizationRate float64     `json:"liquidity_utilization_rate"`
}

// Profiler - состояние одного пула
type Profiler struct {
	mu sync.RWMutex

	cfg           Config
	positions     map[string]*Position
	ticks         *TickMap
	state         State
	analytics     Analytics
	lastProcessed *BlockPosition
	initialized   bool

	log *utils.Logger
}

// NewProfiler создаёт неинициализированный пул
func NewProfiler(cfg Config) (*Profiler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Profiler{
		cfg:       cfg,
		positions: make(map[string]*Position),
		ticks:     NewTickMap(cfg.TickSpacing),
		state:     State{FeeProtocol: cfg.FeeProtocol},
		log:       utils.L().WithComponent("pool").With(zap.String("pool", cfg.Address.Hex())),
	}, nil
}

// Config возвращает параметры пула
func (p *Profiler) Config() Config {
	return p.cfg
}

// ============================================================
// Инициализация и разбор событий
// ============================================================

// Initialize устанавливает начальную цену
func (p *Profiler) Initialize(sqrtPriceX96 *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialize(sqrtPriceX96)
}

func (p *Profiler) initialize(sqrtPriceX96 *uint256.Int) error {
	if p.initialized {
		return ErrAlreadyInitialized
	}
	tick, err := TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return err
	}
	p.state.SqrtPriceX96 = *sqrtPriceX96
	p.state.CurrentTick = tick
	p.initialized = true

	p.log.Info("pool initialized",
		zap.Int32("tick", tick),
		zap.String("sqrt_price_x96", sqrtPriceX96.Dec()))
	return nil
}

// IsInitialized - цена установлена
func (p *Profiler) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// Process применяет событие цепочки. События не позже последнего
// обработанного пропускаются без ошибки.
func (p *Profiler) Process(event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := event.(type) {
	case *Initialize:
		return p.processInitialize(e)
	case *LiquidityUpdate:
		switch e.Type {
		case EventMint:
			return p.processMint(e)
		case EventBurn:
			return p.processBurn(e)
		default:
			return fmt.Errorf("unsupported liquidity update kind: %s", e.Type)
		}
	case *Swap:
		return p.processSwap(e)
	case *FeeCollect:
		return p.processCollect(e)
	case *Flash:
		return p.processFlash(e)
	default:
		return fmt.Errorf("unsupported pool event %T", event)
	}
}

// ProcessInitialize применяет событие инициализации
func (p *Profiler) ProcessInitialize(e *Initialize) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processInitialize(e)
}

// ProcessMint применяет mint из цепочки
func (p *Profiler) ProcessMint(e *LiquidityUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processMint(e)
}

// ProcessBurn применяет burn из цепочки
func (p *Profiler) ProcessBurn(e *LiquidityUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processBurn(e)
}

// ProcessCollect применяет collect из цепочки
func (p *Profiler) ProcessCollect(e *FeeCollect) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processCollect(e)
}

// ProcessFlash применяет flash из цепочки
func (p *Profiler) ProcessFlash(e *Flash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processFlash(e)
}

// ProcessSwap воспроизводит swap из цепочки
func (p *Profiler) ProcessSwap(e *Swap) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processSwap(e)
}

func (p *Profiler) alreadyProcessed(pos BlockPosition) bool {
	if p.lastProcessed == nil || pos.After(*p.lastProcessed) {
		return false
	}
	eventsSkipped.Inc()
	p.log.Debug("skipping already processed event",
		utils.Block(pos.Number),
		zap.Uint32("tx_index", pos.TransactionIndex),
		zap.Uint32("log_index", pos.LogIndex))
	return true
}

func (p *Profiler) markProcessed(pos BlockPosition, kind EventKind, source string) {
	last := pos
	p.lastProcessed = &last
	p.analytics.LiquidityUtilizationRate = p.utilizationRate()
	eventsApplied.WithLabelValues(kind.String(), source).Inc()
}

func (p *Profiler) processInitialize(e *Initialize) error {
	if p.alreadyProcessed(e.Block) {
		return nil
	}
	if err := p.initialize(&e.SqrtPriceX96); err != nil {
		return err
	}
	if e.Tick != p.state.CurrentTick {
		p.log.Warn("initialize tick differs from price",
			zap.Int32("event_tick", e.Tick),
			zap.Int32("derived_tick", p.state.CurrentTick))
	}
	p.markProcessed(e.Block, EventInitialize, sourceProcess)
	return nil
}

func (p *Profiler) processMint(e *LiquidityUpdate) error {
	if !p.initialized {
		return ErrUninitialized
	}
	if p.alreadyProcessed(e.Block) {
		return nil
	}
	return p.applyMint(e, sourceProcess)
}

func (p *Profiler) processBurn(e *LiquidityUpdate) error {
	if !p.initialized {
		return ErrUninitialized
	}
	if p.alreadyProcessed(e.Block) {
		return nil
	}
	return p.applyBurn(e, sourceProcess)
}

func (p *Profiler) processCollect(e *FeeCollect) error {
	if !p.initialized {
		return ErrUninitialized
	}
	if p.alreadyProcessed(e.Block) {
		return nil
	}
	p.applyCollect(e, sourceProcess)
	return nil
}

func (p *Profiler) processFlash(e *Flash) error {
	if !p.initialized {
		return ErrUninitialized
	}
	if p.alreadyProcessed(e.Block) {
		return nil
	}
	return p.applyFlash(e, sourceProcess)
}

// ============================================================
// Mint / Burn
// ============================================================

// ExecuteMint моделирует mint: суммы считаются от текущей цены с округлением вверх
func (p *Profiler) ExecuteMint(owner common.Address, block BlockPosition, lower, upper int32, liquidity *uint256.Int) (*LiquidityUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, ErrUninitialized
	}
	if err := p.validateTicks(lower, upper); err != nil {
		return nil, err
	}
	amount0, amount1, err := AmountsForLiquidity(&p.state.SqrtPriceX96, lower, upper, liquidity, true)
	if err != nil {
		return nil, err
	}
	e := &LiquidityUpdate{
		Type:      EventMint,
		Block:     block,
		Owner:     owner,
		Liquidity: *liquidity,
		Amount0:   *amount0,
		Amount1:   *amount1,
		TickLower: lower,
		TickUpper: upper,
	}
	if err := p.applyMint(e, sourceExecute); err != nil {
		return nil, err
	}
	return e, nil
}

// ExecuteBurn моделирует burn: суммы с округлением вниз переходят в долг позиции
func (p *Profiler) ExecuteBurn(owner common.Address, block BlockPosition, lower, upper int32, liquidity *uint256.Int) (*LiquidityUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, ErrUninitialized
	}
	if err := p.validateTicks(lower, upper); err != nil {
		return nil, err
	}
	amount0, amount1, err := AmountsForLiquidity(&p.state.SqrtPriceX96, lower, upper, liquidity, false)
	if err != nil {
		return nil, err
	}
	e := &LiquidityUpdate{
		Type:      EventBurn,
		Block:     block,
		Owner:     owner,
		Liquidity: *liquidity,
		Amount0:   *amount0,
		Amount1:   *amount1,
		TickLower: lower,
		TickUpper: upper,
	}
	if err := p.applyBurn(e, sourceExecute); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Profiler) applyMint(e *LiquidityUpdate, source string) error {
	if err := p.validateTicks(e.TickLower, e.TickUpper); err != nil {
		return err
	}
	if e.Liquidity.Gt(maxUint128) {
		return ErrLiquidityOverflow
	}
	if err := p.updatePosition(e.Owner, e.TickLower, e.TickUpper, &e.Liquidity, &e.Amount0, &e.Amount1); err != nil {
		return err
	}
	p.analytics.TotalAmount0Deposited.Add(&p.analytics.TotalAmount0Deposited, &e.Amount0)
	p.analytics.TotalAmount1Deposited.Add(&p.analytics.TotalAmount1Deposited, &e.Amount1)
	p.analytics.TotalMints++
	p.markProcessed(e.Block, EventMint, source)
	return nil
}

func (p *Profiler) applyBurn(e *LiquidityUpdate, source string) error {
	if err := p.validateTicks(e.TickLower, e.TickUpper); err != nil {
		return err
	}
	if e.Liquidity.Gt(maxUint128) {
		return ErrLiquidityOverflow
	}
	if err := p.updatePosition(e.Owner, e.TickLower, e.TickUpper, negate(&e.Liquidity), &e.Amount0, &e.Amount1); err != nil {
		return err
	}
	p.analytics.TotalBurns++
	p.markProcessed(e.Block, EventBurn, source)
	return nil
}

// updatePosition применяет знаковую дельту к позиции и её тикам.
// Все проверки выполняются до первой записи.
func (p *Profiler) updatePosition(owner common.Address, lower, upper int32, delta, amount0, amount1 *uint256.Int) error {
	key := PositionKey(owner, lower, upper)
	pos, exists := p.positions[key]
	if !exists {
		pos = NewPosition(owner, lower, upper)
	}

	if delta.IsZero() && pos.Liquidity.IsZero() {
		return fmt.Errorf("%w: position %s holds no liquidity", ErrInsufficientLiquidity, key)
	}
	if delta.Sign() < 0 {
		if burn := negate(delta); pos.Liquidity.Lt(burn) {
			return &BurnError{Key: key, Liquidity: pos.Liquidity.Dec(), Requested: burn.Dec()}
		}
	}
	if _, err := AddDelta(&pos.Liquidity, delta); err != nil {
		return err
	}
	if err := p.ticks.checkUpdate(lower, delta); err != nil {
		return fmt.Errorf("tick %d: %w", lower, err)
	}
	if err := p.ticks.checkUpdate(upper, delta); err != nil {
		return fmt.Errorf("tick %d: %w", upper, err)
	}

	current := p.state.CurrentTick
	inRange := lower <= current && current < upper
	if inRange {
		if _, err := AddDelta(&p.ticks.Liquidity, delta); err != nil {
			return err
		}
	}

	g0, g1 := &p.state.FeeGrowthGlobal0, &p.state.FeeGrowthGlobal1
	flippedLower, _ := p.ticks.Update(lower, current, delta, false, g0, g1)
	flippedUpper, _ := p.ticks.Update(upper, current, delta, true, g0, g1)

	inside0, inside1 := p.ticks.FeeGrowthInside(lower, upper, current, g0, g1)
	pos.UpdateFees(&inside0, &inside1)
	_ = pos.UpdateLiquidity(delta)
	pos.UpdateAmounts(delta, amount0, amount1)
	if !exists {
		p.positions[key] = pos
	}

	if inRange {
		active, _ := AddDelta(&p.ticks.Liquidity, delta)
		p.ticks.Liquidity = *active
	}

	if delta.Sign() < 0 {
		if flippedLower {
			p.ticks.Clear(lower)
		}
		if flippedUpper {
			p.ticks.Clear(upper)
		}
	}
	return nil
}

// ============================================================
// Collect / Flash
// ============================================================

// ExecuteCollect выводит до (amount0Max, amount1Max) из долга позиции
func (p *Profiler) ExecuteCollect(owner common.Address, block BlockPosition, lower, upper int32, amount0Max, amount1Max *uint256.Int) (*FeeCollect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, ErrUninitialized
	}
	e := &FeeCollect{
		Block:     block,
		Owner:     owner,
		Amount0:   *amount0Max,
		Amount1:   *amount1Max,
		TickLower: lower,
		TickUpper: upper,
	}
	e.Amount0, e.Amount1 = p.applyCollect(e, sourceExecute)
	return e, nil
}

// applyCollect выводит min(запрошено, долг). Неверные тики - пустая операция.
func (p *Profiler) applyCollect(e *FeeCollect, source string) (uint256.Int, uint256.Int) {
	var c0, c1 uint256.Int
	if err := p.validateTicks(e.TickLower, e.TickUpper); err != nil {
		p.log.Debug("collect with invalid ticks ignored", zap.Error(err))
		last := e.Block
		p.lastProcessed = &last
		return c0, c1
	}

	key := PositionKey(e.Owner, e.TickLower, e.TickUpper)
	if pos, ok := p.positions[key]; ok {
		c0, c1 = pos.CollectFees(&e.Amount0, &e.Amount1)
		if pos.IsEmpty() {
			delete(p.positions, key)
			p.cleanTick(e.TickLower)
			p.cleanTick(e.TickUpper)
			p.log.Debug("empty position removed", zap.String("position", key))
		}
	}

	p.analytics.TotalAmount0Collected.Add(&p.analytics.TotalAmount0Collected, &c0)
	p.analytics.TotalAmount1Collected.Add(&p.analytics.TotalAmount1Collected, &c1)
	p.analytics.TotalFeeCollects++
	p.markProcessed(e.Block, EventCollect, source)
	return c0, c1
}

// cleanTick удаляет тик без ссылающейся ликвидности
func (p *Profiler) cleanTick(value int32) {
	t, ok := p.ticks.ticks[value]
	if !ok || !t.LiquidityGross.IsZero() {
		return
	}
	if p.ticks.IsTickInitialized(value) {
		p.ticks.bitmap.FlipTick(value)
	}
	p.ticks.Clear(value)
}

// ExecuteFlash моделирует flash-заём; комиссия ceil(amount*fee/1e6)
func (p *Profiler) ExecuteFlash(sender, recipient common.Address, block BlockPosition, amount0, amount1 *uint256.Int) (*Flash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, ErrUninitialized
	}
	fee := uint256.NewInt(uint64(p.cfg.Fee))
	e := &Flash{
		Block:     block,
		Sender:    sender,
		Recipient: recipient,
		Amount0:   *amount0,
		Amount1:   *amount1,
	}
	if !amount0.IsZero() {
		paid, err := MulDivRoundingUp(amount0, fee, feeDenominator)
		if err != nil {
			return nil, err
		}
		e.Paid0 = *paid
	}
	if !amount1.IsZero() {
		paid, err := MulDivRoundingUp(amount1, fee, feeDenominator)
		if err != nil {
			return nil, err
		}
		e.Paid1 = *paid
	}
	if err := p.applyFlash(e, sourceExecute); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *Profiler) applyFlash(e *Flash, source string) error {
	liquidity := p.ticks.Liquidity
	if liquidity.IsZero() {
		return ErrNoLiquidity
	}

	growth0, protocol0, err := splitFee(&e.Paid0, p.state.FeeProtocol%16, &liquidity)
	if err != nil {
		return err
	}
	growth1, protocol1, err := splitFee(&e.Paid1, p.state.FeeProtocol>>4, &liquidity)
	if err != nil {
		return err
	}

	p.state.ProtocolFees0.Add(&p.state.ProtocolFees0, protocol0)
	p.state.ProtocolFees1.Add(&p.state.ProtocolFees1, protocol1)
	p.state.FeeGrowthGlobal0.Add(&p.state.FeeGrowthGlobal0, growth0)
	p.state.FeeGrowthGlobal1.Add(&p.state.FeeGrowthGlobal1, growth1)

	p.analytics.TotalFlashes++
	p.markProcessed(e.Block, EventFlash, source)
	return nil
}

// splitFee делит комиссию на протокольную долю и прирост fee growth
func splitFee(paid *uint256.Int, feeProtocol uint8, liquidity *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	protocol := new(uint256.Int)
	if paid.IsZero() {
		return new(uint256.Int), protocol, nil
	}
	if feeProtocol > 0 {
		protocol.Div(paid, uint256.NewInt(uint64(feeProtocol)))
	}
	lpFee := new(uint256.Int).Sub(paid, protocol)
	growth, err := MulDiv(lpFee, q128, liquidity)
	if err != nil {
		return nil, nil, err
	}
	return growth, protocol, nil
}

// ============================================================
// Проверки
// ============================================================

func (p *Profiler) validateTicks(lower, upper int32) error {
	if lower >= upper {
		return &TickRangeError{Lower: lower, Upper: upper, Reason: "lower tick must be below upper tick"}
	}
	if lower%p.cfg.TickSpacing != 0 || upper%p.cfg.TickSpacing != 0 {
		return &TickRangeError{Lower: lower, Upper: upper,
			Reason: fmt.Sprintf("ticks must be multiples of the tick spacing %d", p.cfg.TickSpacing)}
	}
	if lower < MinTick || upper > MaxTick {
		return &TickRangeError{Lower: lower, Upper: upper, Reason: "ticks out of bounds"}
	}
	return nil
}

// ============================================================
// Настройки
// ============================================================

// SetFeeProtocol меняет протокольную долю комиссии
func (p *Profiler) SetFeeProtocol(feeProtocol uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.FeeProtocol = feeProtocol
}

// SetFeeGrowthGlobal перезаписывает глобальные накопители комиссий
func (p *Profiler) SetFeeGrowthGlobal(global0, global1 *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.FeeGrowthGlobal0 = *global0
	p.state.FeeGrowthGlobal1 = *global1
}

// ============================================================
// Запросы
// ============================================================

// State возвращает копию состояния с активной ликвидностью
func (p *Profiler) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	s.Liquidity = p.ticks.Liquidity
	return s
}

// CurrentTick - текущий тик
func (p *Profiler) CurrentTick() int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.CurrentTick
}

// Analytics возвращает копию аналитики
func (p *Profiler) Analytics() Analytics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.analytics
}

// LastProcessed - позиция последнего применённого события
func (p *Profiler) LastProcessed() (BlockPosition, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastProcessed == nil {
		return BlockPosition{}, false
	}
	return *p.lastProcessed, true
}

// TotalEvents - сумма всех счётчиков событий
func (p *Profiler) TotalEvents() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a := p.analytics
	return a.TotalSwaps + a.TotalMints + a.TotalBurns + a.TotalFeeCollects + a.TotalFlashes
}

// ActiveLiquidity - ликвидность, содержащая текущий тик
func (p *Profiler) ActiveLiquidity() uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticks.Liquidity
}

// TotalLiquidity - сумма ликвидности всех позиций
func (p *Profiler) TotalLiquidity() uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalLiquidity()
}

func (p *Profiler) totalLiquidity() uint256.Int {
	var total uint256.Int
	for _, pos := range p.positions {
		total.Add(&total, &pos.Liquidity)
	}
	return total
}

// ActivePositionsLiquidity - сумма ликвидности позиций, содержащих текущий тик
func (p *Profiler) ActivePositionsLiquidity() uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.activePositionsLiquidity()
}

func (p *Profiler) activePositionsLiquidity() uint256.Int {
	var total uint256.Int
	for _, pos := range p.positions {
		if !pos.Liquidity.IsZero() && pos.InRange(p.state.CurrentTick) {
			total.Add(&total, &pos.Liquidity)
		}
	}
	return total
}

// LiquidityUtilizationRate - доля активной ликвидности, 6 знаков
func (p *Profiler) LiquidityUtilizationRate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.utilizationRate()
}

func (p *Profiler) utilizationRate() float64 {
	total := p.totalLiquidity()
	if total.IsZero() {
		return 0
	}
	const precision = 1_000_000
	ratio, err := MulDiv(&p.ticks.Liquidity, uint256.NewInt(precision), &total)
	if err != nil {
		return 0
	}
	return float64(ratio.Uint64()) / precision
}

// LiquidityInvariantHolds проверяет согласованность: активная ликвидность равна
// сумме активных позиций, а liquidity_net по тикам в сумме ноль
func (p *Profiler) LiquidityInvariantHolds() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	active := p.activePositionsLiquidity()
	return active == p.ticks.Liquidity && p.ticks.NetSum().Sign() == 0
}

// Position возвращает копию позиции
func (p *Profiler) Position(owner common.Address, lower, upper int32) (Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[PositionKey(owner, lower, upper)]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions - копии всех позиций по ключу
func (p *Profiler) Positions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filterPositions(func(*Position) bool { return true })
}

// ActivePositions - позиции с ликвидностью, содержащие текущий тик
func (p *Profiler) ActivePositions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filterPositions(p.isActive)
}

// InactivePositions - остальные позиции
func (p *Profiler) InactivePositions() []Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filterPositions(func(pos *Position) bool { return !p.isActive(pos) })
}

// TotalActivePositions - число активных позиций
func (p *Profiler) TotalActivePositions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, pos := range p.positions {
		if p.isActive(pos) {
			n++
		}
	}
	return n
}

// TotalInactivePositions - число неактивных позиций
func (p *Profiler) TotalInactivePositions() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, pos := range p.positions {
		if !p.isActive(pos) {
			n++
		}
	}
	return n
}

func (p *Profiler) isActive(pos *Position) bool {
	return !pos.Liquidity.IsZero() && pos.InRange(p.state.CurrentTick)
}

func (p *Profiler) filterPositions(keep func(*Position) bool) []Position {
	keys := make([]string, 0, len(p.positions))
	for k, pos := range p.positions {
		if keep(pos) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, *p.positions[k])
	}
	return out
}

// Tick возвращает копию тика
func (p *Profiler) Tick(value int32) (Tick, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticks.Tick(value)
}

// ActiveTickCount - число инициализированных тиков
func (p *Profiler) ActiveTickCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticks.ActiveTickCount()
}

// TotalTickCount - число хранимых тиков
func (p *Profiler) TotalTickCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticks.TotalTickCount()
}

// ActiveTickValues - инициализированные тики по возрастанию
func (p *Profiler) ActiveTickValues() []int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ticks.ActiveTickValues()
}

// Equal сравнивает полное состояние двух пулов
func (p *Profiler) Equal(o *Profiler) bool {
	if p == o {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	if p.initialized != o.initialized || p.state != o.state || p.analytics != o.analytics {
		return false
	}
	if (p.lastProcessed == nil) != (o.lastProcessed == nil) {
		return false
	}
	if p.lastProcessed != nil && *p.lastProcessed != *o.lastProcessed {
		return false
	}
	if len(p.positions) != len(o.positions) {
		return false
	}
	for k, pos := range p.positions {
		other, ok := o.positions[k]
		if !ok || *pos != *other {
			return false
		}
	}
	return p.ticks.equal(o.ticks)
}
