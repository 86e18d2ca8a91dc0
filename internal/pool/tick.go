package pool

import (
	"math/big"
	"sort"

	"github.com/holiman/uint256"
)

// Tick - состояние границы диапазона ликвидности
type Tick struct {
	Value             int32       `json:"value"`
	LiquidityGross    uint256.Int `json:"liquidity_gross"`
	LiquidityNet      uint256.Int `json:"liquidity_net"` // int128 в дополнительном коде
	FeeGrowthOutside0 uint256.Int `json:"fee_growth_outside_0"`
	FeeGrowthOutside1 uint256.Int `json:"fee_growth_outside_1"`
	Initialized       bool        `json:"initialized"`
	UpdatesCount      uint64      `json:"updates_count"`
}

// NetBig возвращает liquidity_net со знаком
func (t *Tick) NetBig() *big.Int {
	return toBigSigned(&t.LiquidityNet)
}

// IsActive - у тика есть ссылающаяся ликвидность
func (t *Tick) IsActive() bool {
	return t.Initialized && !t.LiquidityGross.IsZero()
}

// updateLiquidity применяет дельту к gross/net и возвращает gross до изменения
func (t *Tick) updateLiquidity(delta *uint256.Int, upper bool) (uint256.Int, error) {
	before := t.LiquidityGross
	gross, err := AddDelta(&t.LiquidityGross, delta)
	if err != nil {
		return before, err
	}
	t.LiquidityGross = *gross
	if upper {
		t.LiquidityNet.Sub(&t.LiquidityNet, delta)
	} else {
		t.LiquidityNet.Add(&t.LiquidityNet, delta)
	}
	t.UpdatesCount++
	return before, nil
}

// cross переворачивает fee_growth_outside относительно глобального роста (по модулю 2^256)
func (t *Tick) cross(feeGrowthGlobal0, feeGrowthGlobal1 *uint256.Int) {
	t.FeeGrowthOutside0.Sub(feeGrowthGlobal0, &t.FeeGrowthOutside0)
	t.FeeGrowthOutside1.Sub(feeGrowthGlobal1, &t.FeeGrowthOutside1)
}

// ============================================================
// TickMap
// ============================================================

// TickMap - тики пула, битовая карта инициализированных тиков и активная ликвидность
type TickMap struct {
	ticks               map[int32]*Tick
	bitmap              *TickBitmap
	spacing             int32
	Liquidity           uint256.Int
	MaxLiquidityPerTick uint256.Int
}

// NewTickMap создаёт пустую карту для шага spacing
func NewTickMap(spacing int32) *TickMap {
	return &TickMap{
		ticks:               make(map[int32]*Tick),
		bitmap:              NewTickBitmap(spacing),
		spacing:             spacing,
		MaxLiquidityPerTick: *TickSpacingToMaxLiquidityPerTick(spacing),
	}
}

// Tick возвращает копию тика
func (m *TickMap) Tick(value int32) (Tick, bool) {
	t, ok := m.ticks[value]
	if !ok {
		return Tick{}, false
	}
	return *t, true
}

// GetTickOrInit возвращает тик, создавая пустой при отсутствии
func (m *TickMap) GetTickOrInit(value int32) *Tick {
	t, ok := m.ticks[value]
	if !ok {
		t = &Tick{Value: value}
		m.ticks[value] = t
	}
	return t
}

// FeeGrowthInside - рост комиссий внутри [lower, upper) при текущем тике.
// Вычитание по модулю 2^256: значения растут монотонно и могут переполняться.
func (m *TickMap) FeeGrowthInside(lower, upper, current int32, global0, global1 *uint256.Int) (uint256.Int, uint256.Int) {
	var lo, up Tick
	if t, ok := m.ticks[lower]; ok {
		lo = *t
	}
	if t, ok := m.ticks[upper]; ok {
		up = *t
	}

	var below0, below1, above0, above1 uint256.Int
	if current >= lower {
		below0, below1 = lo.FeeGrowthOutside0, lo.FeeGrowthOutside1
	} else {
		below0.Sub(global0, &lo.FeeGrowthOutside0)
		below1.Sub(global1, &lo.FeeGrowthOutside1)
	}
	if current < upper {
		above0, above1 = up.FeeGrowthOutside0, up.FeeGrowthOutside1
	} else {
		above0.Sub(global0, &up.FeeGrowthOutside0)
		above1.Sub(global1, &up.FeeGrowthOutside1)
	}

	var inside0, inside1 uint256.Int
	inside0.Sub(global0, &below0)
	inside0.Sub(&inside0, &above0)
	inside1.Sub(global1, &below1)
	inside1.Sub(&inside1, &above1)
	return inside0, inside1
}

// checkUpdate проверяет, что дельта применима к тику без изменения состояния
func (m *TickMap) checkUpdate(value int32, delta *uint256.Int) error {
	var gross uint256.Int
	if t, ok := m.ticks[value]; ok {
		gross = t.LiquidityGross
	}
	after, err := AddDelta(&gross, delta)
	if err != nil {
		return err
	}
	if after.Gt(&m.MaxLiquidityPerTick) {
		return ErrMaxLiquidityPerTick
	}
	return nil
}

// Update применяет дельту ликвидности к тику. Возвращает true, если тик
// перешёл между состояниями "без ликвидности" и "с ликвидностью".
func (m *TickMap) Update(value, current int32, delta *uint256.Int, upper bool, global0, global1 *uint256.Int) (bool, error) {
	if err := m.checkUpdate(value, delta); err != nil {
		return false, err
	}

	t := m.GetTickOrInit(value)
	before, err := t.updateLiquidity(delta, upper)
	if err != nil {
		return false, err
	}

	if before.IsZero() {
		// рост до инициализации считается произошедшим ниже тика
		if value <= current {
			t.FeeGrowthOutside0 = *global0
			t.FeeGrowthOutside1 = *global1
		}
		t.Initialized = true
	}

	flipped := t.LiquidityGross.IsZero() != before.IsZero()
	if flipped {
		m.bitmap.FlipTick(value)
	}
	return flipped, nil
}

// CrossTick пересекает тик и возвращает его liquidity_net
func (m *TickMap) CrossTick(value int32, global0, global1 *uint256.Int) uint256.Int {
	t := m.GetTickOrInit(value)
	t.cross(global0, global1)
	return t.LiquidityNet
}

// NextInitializedTick - см. TickBitmap.NextInitializedTickWithinOneWord
func (m *TickMap) NextInitializedTick(tick int32, lte bool) (int32, bool) {
	return m.bitmap.NextInitializedTickWithinOneWord(tick, lte)
}

// IsTickInitialized проверяет бит тика в карте
func (m *TickMap) IsTickInitialized(value int32) bool {
	return m.bitmap.IsInitialized(value)
}

// ActiveTickCount - число тиков с установленным битом
func (m *TickMap) ActiveTickCount() int {
	n := 0
	for v := range m.ticks {
		if m.bitmap.IsInitialized(v) {
			n++
		}
	}
	return n
}

// TotalTickCount - число хранимых тиков
func (m *TickMap) TotalTickCount() int {
	return len(m.ticks)
}

// ActiveTickValues - значения активных тиков по возрастанию
func (m *TickMap) ActiveTickValues() []int32 {
	out := make([]int32, 0, len(m.ticks))
	for v := range m.ticks {
		if m.bitmap.IsInitialized(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ticks - копии всех тиков по возрастанию значения
func (m *TickMap) Ticks() []Tick {
	out := make([]Tick, 0, len(m.ticks))
	for _, t := range m.ticks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// RestoreTick кладёт тик из снимка; инициализированный тик отмечается в битовой карте
func (m *TickMap) RestoreTick(t Tick) {
	restored := t
	if prev, ok := m.ticks[t.Value]; ok && prev.Initialized && m.bitmap.IsInitialized(t.Value) {
		m.bitmap.FlipTick(t.Value)
	}
	m.ticks[t.Value] = &restored
	if restored.Initialized {
		m.bitmap.FlipTick(t.Value)
	}
}

// Clear удаляет тик
func (m *TickMap) Clear(value int32) {
	delete(m.ticks, value)
}

// NetSum - сумма liquidity_net по всем тикам (ноль для согласованной карты)
func (m *TickMap) NetSum() *big.Int {
	sum := new(uint256.Int)
	for _, t := range m.ticks {
		sum.Add(sum, &t.LiquidityNet)
	}
	return toBigSigned(sum)
}

// equal сравнивает тики, битовую карту и активную ликвидность
func (m *TickMap) equal(o *TickMap) bool {
	if m.spacing != o.spacing || m.Liquidity != o.Liquidity || len(m.ticks) != len(o.ticks) {
		return false
	}
	for v, t := range m.ticks {
		ot, ok := o.ticks[v]
		if !ok || *t != *ot {
			return false
		}
	}
	if len(m.bitmap.words) != len(o.bitmap.words) {
		return false
	}
	for pos, w := range m.bitmap.words {
		ow, ok := o.bitmap.words[pos]
		if !ok || !w.Eq(ow) {
			return false
		}
	}
	return true
}
