package pool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolAddress = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob         = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// blockSeq выдаёт возрастающие позиции логов
type blockSeq struct{ n uint64 }

func (s *blockSeq) next() BlockPosition {
	s.n++
	return BlockPosition{Number: 100 + s.n, TransactionIndex: 1, LogIndex: uint32(s.n)}
}

func newTestProfiler(t *testing.T) *Profiler {
	t.Helper()
	p, err := NewProfiler(Config{Address: poolAddress, Fee: 3000, TickSpacing: 60})
	require.NoError(t, err)
	return p
}

// newUniFixture - пул 0.3% с ценой 1:10 и позицией на весь диапазон
func newUniFixture(t *testing.T, seq *blockSeq) *Profiler {
	t.Helper()
	p := newTestProfiler(t)
	price, err := EncodeSqrtRatioX96(u(1), u(10))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(price))

	_, err = p.ExecuteMint(alice, seq.next(), MinTickForSpacing(60), MaxTickForSpacing(60), u(3161))
	require.NoError(t, err)
	return p
}

func TestNewProfilerValidatesConfig(t *testing.T) {
	_, err := NewProfiler(Config{Fee: 3000})
	assert.Error(t, err)

	_, err = NewProfiler(Config{Fee: 1_000_000, TickSpacing: 1})
	assert.Error(t, err)
}

func TestProfilerInitialize(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)

	assert.True(t, p.IsInitialized())
	assert.Equal(t, int32(-23028), p.CurrentTick())
	assert.ErrorIs(t, p.Initialize(Q96()), ErrAlreadyInitialized)

	fresh := newTestProfiler(t)
	_, err := fresh.ExecuteMint(alice, seq.next(), -60, 60, u(1))
	assert.ErrorIs(t, err, ErrUninitialized)
	assert.ErrorIs(t, fresh.Initialize(new(uint256.Int).SubUint64(MinSqrtRatio, 1)), ErrSqrtPriceOutOfRange)
	assert.False(t, fresh.IsInitialized())
}

func TestUniFixtureDeposits(t *testing.T) {
	p := newUniFixture(t, &blockSeq{})

	a := p.Analytics()
	assert.Equal(t, uint64(9996), a.TotalAmount0Deposited.Uint64())
	assert.Equal(t, uint64(1000), a.TotalAmount1Deposited.Uint64())
	assert.Equal(t, uint64(1), a.TotalMints)

	active := p.ActiveLiquidity()
	assert.Equal(t, uint64(3161), active.Uint64())
	assert.Equal(t, 1, p.TotalActivePositions())
	assert.Equal(t, 1.0, p.LiquidityUtilizationRate())
	assert.True(t, p.LiquidityInvariantHolds())

	b0, b1 := p.EstimateBalance0(), p.EstimateBalance1()
	assert.Equal(t, uint64(9996), b0.Uint64())
	assert.Equal(t, uint64(1000), b1.Uint64())
}

func TestMintAbovePrice(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)

	e, err := p.ExecuteMint(alice, seq.next(), -22980, 0, u(10000))
	require.NoError(t, err)
	assert.Equal(t, uint64(21549), e.Amount0.Uint64())
	assert.True(t, e.Amount1.IsZero(), "диапазон выше цены требует только token0")

	assert.Equal(t, []int32{-887220, -22980, 0, 887220}, p.ActiveTickValues())
	active := p.ActiveLiquidity()
	assert.Equal(t, uint64(3161), active.Uint64(), "позиция вне цены не меняет активную ликвидность")
	assert.Equal(t, 1, p.TotalActivePositions())
	assert.Equal(t, 1, p.TotalInactivePositions())
	assert.True(t, p.LiquidityInvariantHolds())
}

func TestMintSharesTickUpdates(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)

	_, err := p.ExecuteMint(bob, seq.next(), -240, MaxTickForSpacing(60), u(100))
	require.NoError(t, err)

	top, ok := p.Tick(MaxTickForSpacing(60))
	require.True(t, ok)
	assert.Equal(t, uint64(2), top.UpdatesCount)
	assert.Equal(t, "3261", top.LiquidityGross.Dec())
	assert.Equal(t, "-3261", top.NetBig().String())
}

func TestMintBurnCollectLifecycle(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)

	mint, err := p.ExecuteMint(bob, seq.next(), -240, 0, u(10000))
	require.NoError(t, err)
	assert.Equal(t, uint64(121), mint.Amount0.Uint64())
	assert.Len(t, p.Positions(), 2)

	burn, err := p.ExecuteBurn(bob, seq.next(), -240, 0, u(10000))
	require.NoError(t, err)
	assert.Equal(t, uint64(120), burn.Amount0.Uint64())

	pos, ok := p.Position(bob, -240, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(120), pos.TokensOwed0.Uint64())
	assert.True(t, pos.Liquidity.IsZero())
	assert.Equal(t, []int32{-887220, 887220}, p.ActiveTickValues(), "сожжённые тики удаляются")

	collect, err := p.ExecuteCollect(bob, seq.next(), -240, 0, MaxUint128(), MaxUint128())
	require.NoError(t, err)
	assert.Equal(t, uint64(120), collect.Amount0.Uint64())
	assert.True(t, collect.Amount1.IsZero())

	_, ok = p.Position(bob, -240, 0)
	assert.False(t, ok, "пустая позиция удаляется после collect")
	assert.Len(t, p.Positions(), 1)
	assert.Equal(t, 1, p.TotalActivePositions())

	a := p.Analytics()
	assert.Equal(t, uint64(120), a.TotalAmount0Collected.Uint64())
	assert.Equal(t, uint64(2), a.TotalMints)
	assert.Equal(t, uint64(1), a.TotalBurns)
	assert.Equal(t, uint64(1), a.TotalFeeCollects)
	assert.Equal(t, uint64(4), p.TotalEvents())
	assert.True(t, p.LiquidityInvariantHolds())
}

func TestTickValidation(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)

	tests := []struct {
		name string
		lower, upper int32
	}{
		{"lower равен upper", 60, 60},
		{"lower выше upper", 120, 60},
		{"вне сетки", -61, 60},
		{"ниже MIN_TICK", -887280, 0},
		{"выше MAX_TICK", 0, 887280},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ExecuteMint(alice, seq.next(), tt.lower, tt.upper, u(1))
			require.ErrorIs(t, err, ErrInvalidTicks)

			var re *TickRangeError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.lower, re.Lower)
		})
	}
	assert.Len(t, p.Positions(), 1)
}

func TestMintValidationLeavesStateUntouched(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)
	before := p.ExtractSnapshot()

	over := new(uint256.Int).AddUint64(TickSpacingToMaxLiquidityPerTick(60), 1)
	_, err := p.ExecuteMint(alice, seq.next(), -60, 60, over)
	assert.ErrorIs(t, err, ErrMaxLiquidityPerTick)

	_, err = p.ExecuteBurn(alice, seq.next(), MinTickForSpacing(60), MaxTickForSpacing(60), u(3162))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
	var be *BurnError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "3161", be.Liquidity)

	_, err = p.ExecuteBurn(bob, seq.next(), -60, 60, u(0))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity, "poke пустой позиции")

	after := p.ExtractSnapshot()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Positions, after.Positions)
	assert.Equal(t, before.Ticks, after.Ticks)
}

func TestCollectWithInvalidTicksIsNoop(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)
	block := seq.next()

	e, err := p.ExecuteCollect(alice, block, 60, -60, MaxUint128(), MaxUint128())
	require.NoError(t, err)
	assert.True(t, e.Amount0.IsZero())
	assert.Zero(t, p.Analytics().TotalFeeCollects)

	last, ok := p.LastProcessed()
	require.True(t, ok)
	assert.Equal(t, block, last)
}

func TestFlash(t *testing.T) {
	seq := &blockSeq{}

	empty := newTestProfiler(t)
	require.NoError(t, empty.Initialize(Q96()))
	_, err := empty.ExecuteFlash(alice, bob, seq.next(), u(100), u(100))
	assert.ErrorIs(t, err, ErrNoLiquidity)

	p := newUniFixture(t, seq)
	e, err := p.ExecuteFlash(alice, bob, seq.next(), u(1000), u(2000))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.Paid0.Uint64())
	assert.Equal(t, uint64(6), e.Paid1.Uint64())

	want0, _ := MulDiv(u(3), q128, u(3161))
	want1, _ := MulDiv(u(6), q128, u(3161))
	s := p.State()
	assert.True(t, s.FeeGrowthGlobal0.Eq(want0))
	assert.True(t, s.FeeGrowthGlobal1.Eq(want1))
	assert.Equal(t, uint64(1), p.Analytics().TotalFlashes)
}

func TestFlashProtocolFee(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)
	// 1/4 для token0, 1/5 для token1
	p.SetFeeProtocol(4 | 5<<4)

	_, err := p.ExecuteFlash(alice, bob, seq.next(), u(1_000_000), u(1_000_000))
	require.NoError(t, err)

	s := p.State()
	assert.Equal(t, uint64(750), s.ProtocolFees0.Uint64())
	assert.Equal(t, uint64(600), s.ProtocolFees1.Uint64())
	want0, _ := MulDiv(u(2250), q128, u(3161))
	assert.True(t, s.FeeGrowthGlobal0.Eq(want0))
}

func TestSwapValidation(t *testing.T) {
	seq := &blockSeq{}
	p := newUniFixture(t, seq)
	price := p.State().SqrtPriceX96

	_, err := p.ExecuteSwap(alice, bob, seq.next(), true, big.NewInt(0), MinSqrtRatio)
	assert.ErrorIs(t, err, ErrZeroAmount)

	above := new(uint256.Int).AddUint64(&price, 1)
	_, err = p.ExecuteSwap(alice, bob, seq.next(), true, big.NewInt(10), above)
	assert.ErrorIs(t, err, ErrPriceLimit)

	_, err = p.ExecuteSwap(alice, bob, seq.next(), true, big.NewInt(10), MinSqrtRatio)
	assert.ErrorIs(t, err, ErrPriceLimit, "предел должен быть строго внутри диапазона")

	_, err = p.ExecuteSwap(alice, bob, seq.next(), false, big.NewInt(10), MaxSqrtRatio)
	assert.ErrorIs(t, err, ErrPriceLimit)

	assert.Zero(t, p.Analytics().TotalSwaps)
}

// TestSwapRoundTripAccruesFees - обмен туда и обратно по позиции на весь диапазон
func TestSwapRoundTripAccruesFees(t *testing.T) {
	seq := &blockSeq{}
	p := newTestProfiler(t)
	require.NoError(t, p.Initialize(Q96()))

	lower := MinTickForSpacing(60) + 60
	upper := MaxTickForSpacing(60) - 60
	_, err := p.ExecuteMint(alice, seq.next(), lower, upper, e18(1))
	require.NoError(t, err)

	down, err := p.SwapExact0For1(bob, bob, seq.next(), e18(1), nil)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", down.Amount0.String())
	assert.Negative(t, down.Amount1.Sign())
	assert.Less(t, p.CurrentTick(), int32(0))

	up, err := p.SwapExact1For0(bob, bob, seq.next(), e18(1), nil)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", up.Amount1.String())
	assert.Negative(t, up.Amount0.Sign())
	assert.True(t, p.LiquidityInvariantHolds())

	_, err = p.ExecuteBurn(alice, seq.next(), lower, upper, e18(1))
	require.NoError(t, err)

	pos, ok := p.Position(alice, lower, upper)
	require.True(t, ok)
	assert.False(t, pos.TokensOwed0.IsZero())
	assert.False(t, pos.TokensOwed1.IsZero())
	assert.False(t, pos.FeeGrowthInside0Last.IsZero(), "комиссии token0 учтены в позиции")
	assert.False(t, pos.FeeGrowthInside1Last.IsZero(), "комиссии token1 учтены в позиции")

	s := p.State()
	assert.True(t, pos.FeeGrowthInside0Last.Eq(&s.FeeGrowthGlobal0))
	assert.Equal(t, uint64(2), p.Analytics().TotalSwaps)
	active := p.ActiveLiquidity()
	assert.True(t, active.IsZero())
}

// newCrossingFixture - две позиции: на весь диапазон и узкая [-60, 60]
func newCrossingFixture(t *testing.T, seq *blockSeq) (*Profiler, []Event) {
	t.Helper()
	p := newTestProfiler(t)
	require.NoError(t, p.Initialize(Q96()))

	wide, err := p.ExecuteMint(alice, seq.next(), MinTickForSpacing(60), MaxTickForSpacing(60), e18(1))
	require.NoError(t, err)
	narrow, err := p.ExecuteMint(bob, seq.next(), -60, 60, e18(1))
	require.NoError(t, err)
	return p, []Event{wide, narrow}
}

func TestSwapCrossesTicks(t *testing.T) {
	seq := &blockSeq{}
	p, _ := newCrossingFixture(t, seq)

	active := p.ActiveLiquidity()
	assert.Equal(t, "2000000000000000000", active.Dec())

	_, err := p.SwapExact0For1(alice, alice, seq.next(), e18(1), sqrtRatioAtTick(-120))
	require.NoError(t, err)
	assert.Equal(t, int32(-120), p.CurrentTick())
	s := p.State()
	assert.True(t, s.SqrtPriceX96.Eq(sqrtRatioAtTick(-120)), "своп остановился на пределе цены")
	active = p.ActiveLiquidity()
	assert.Equal(t, "1000000000000000000", active.Dec(), "узкая позиция вышла из диапазона")
	assert.Equal(t, 1, p.TotalActivePositions())
	assert.True(t, p.LiquidityInvariantHolds())

	crossed, _ := p.Tick(-60)
	assert.False(t, crossed.FeeGrowthOutside0.IsZero(), "пересечение переворачивает fee_growth_outside")

	_, err = p.SwapExact1For0(alice, alice, seq.next(), e18(1), Q96())
	require.NoError(t, err)
	assert.Equal(t, int32(0), p.CurrentTick())
	active = p.ActiveLiquidity()
	assert.Equal(t, "2000000000000000000", active.Dec())
	assert.Equal(t, 2, p.TotalActivePositions())
	assert.True(t, p.LiquidityInvariantHolds())
}

func TestSwapToSqrtPrice(t *testing.T) {
	seq := &blockSeq{}
	p, _ := newCrossingFixture(t, seq)

	target := sqrtRatioAtTick(-300)
	e, err := p.SwapToLowerSqrtPrice(alice, alice, seq.next(), target)
	require.NoError(t, err)
	assert.True(t, e.SqrtPriceX96.Eq(target))
	assert.Equal(t, int32(-300), e.Tick)

	_, err = p.SwapToHigherSqrtPrice(alice, alice, seq.next(), Q96())
	require.NoError(t, err)
	assert.Equal(t, int32(0), p.CurrentTick())
}

func TestExactOutputSwap(t *testing.T) {
	seq := &blockSeq{}
	p, _ := newCrossingFixture(t, seq)

	e, err := p.Swap0ForExact1(alice, alice, seq.next(), u(1_000_000), nil)
	require.NoError(t, err)
	assert.Equal(t, "-1000000", e.Amount1.String())
	assert.Positive(t, e.Amount0.Sign())

	e, err = p.Swap1ForExact0(alice, alice, seq.next(), u(1_000_000), nil)
	require.NoError(t, err)
	assert.Equal(t, "-1000000", e.Amount0.String())
	assert.Positive(t, e.Amount1.Sign())
}

// TestSwapFailureLeavesStateUntouched - ошибка на пересечении тика в середине
// свопа не оставляет следов в карте тиков и активной ликвидности
func TestSwapFailureLeavesStateUntouched(t *testing.T) {
	seq := &blockSeq{}
	p, _ := newCrossingFixture(t, seq)

	// liquidity_net тика -60 больше активной ликвидности: переход вниз уходит в минус
	broken, ok := p.Tick(-60)
	require.True(t, ok)
	broken.LiquidityNet = *e18(5)
	p.ticks.RestoreTick(broken)

	before := newTestProfiler(t)
	require.NoError(t, before.RestoreSnapshot(p.ExtractSnapshot()))
	require.True(t, p.Equal(before))

	_, err := p.SwapExact0For1(alice, alice, seq.next(), e18(1), sqrtRatioAtTick(-120))
	assert.ErrorIs(t, err, ErrLiquidityUnderflow)

	assert.True(t, p.Equal(before), "неудачный своп не меняет пул")
	crossed, _ := p.Tick(-60)
	assert.True(t, crossed.FeeGrowthOutside0.IsZero(), "тик не пересечён")
	assert.Zero(t, p.Analytics().TotalSwaps)
}

// ============================================================
// Воспроизведение событий
// ============================================================

func replay(t *testing.T, events []Event) *Profiler {
	t.Helper()
	p := newTestProfiler(t)
	for _, e := range events {
		require.NoError(t, p.Process(e))
	}
	return p
}

// buildStream моделирует операции на одном пуле и возвращает поток событий
func buildStream(t *testing.T, withSwaps bool) (*Profiler, []Event) {
	t.Helper()
	seq := &blockSeq{}
	p := newTestProfiler(t)

	price, err := EncodeSqrtRatioX96(u(1), u(10))
	require.NoError(t, err)
	tick, _ := TickAtSqrtRatio(price)
	initEvent := &Initialize{Block: seq.next(), SqrtPriceX96: *price, Tick: tick}
	require.NoError(t, p.Process(initEvent))
	events := []Event{initEvent}

	add := func(e Event, err error) {
		t.Helper()
		require.NoError(t, err)
		events = append(events, e)
	}

	add(p.ExecuteMint(alice, seq.next(), MinTickForSpacing(60), MaxTickForSpacing(60), u(3161)))
	add(p.ExecuteMint(bob, seq.next(), -23100, -22980, u(50000)))
	add(p.ExecuteMint(bob, seq.next(), -240, 0, u(10000)))
	add(p.ExecuteFlash(alice, bob, seq.next(), u(100000), u(5000)))
	if withSwaps {
		add(p.SwapExact0For1(alice, alice, seq.next(), u(20000), nil))
		add(p.SwapExact1For0(alice, alice, seq.next(), u(30000), nil))
	}
	add(p.ExecuteBurn(bob, seq.next(), -23100, -22980, u(20000)))
	add(p.ExecuteBurn(bob, seq.next(), -240, 0, u(10000)))
	add(p.ExecuteCollect(bob, seq.next(), -240, 0, MaxUint128(), MaxUint128()))
	return p, events
}

func TestProcessMatchesExecute(t *testing.T) {
	executed, events := buildStream(t, false)
	replayed := replay(t, events)

	assert.True(t, executed.Equal(replayed), "Process должен давать то же состояние, что и Execute")
	assert.True(t, replayed.LiquidityInvariantHolds())
	assert.Equal(t, executed.ExtractSnapshot(), replayed.ExtractSnapshot())
}

func TestProcessSwapMatchesExecute(t *testing.T) {
	executed, events := buildStream(t, true)
	replayed := replay(t, events)

	es, rs := executed.State(), replayed.State()
	assert.Equal(t, es.CurrentTick, rs.CurrentTick)
	assert.True(t, es.SqrtPriceX96.Eq(&rs.SqrtPriceX96))
	assert.True(t, es.Liquidity.Eq(&rs.Liquidity))
	assert.Equal(t, executed.Analytics().TotalSwaps, replayed.Analytics().TotalSwaps)
	assert.Equal(t, executed.ActiveTickValues(), replayed.ActiveTickValues())
	assert.True(t, replayed.LiquidityInvariantHolds())
}

func TestProcessCrossingSwap(t *testing.T) {
	seq := &blockSeq{}
	executed, events := newCrossingFixture(t, seq)
	swap, err := executed.SwapExact0For1(alice, alice, seq.next(), e18(1), sqrtRatioAtTick(-120))
	require.NoError(t, err)

	replayed := newTestProfiler(t)
	require.NoError(t, replayed.Initialize(Q96()))
	for _, e := range append(events, swap) {
		require.NoError(t, replayed.Process(e))
	}

	assert.Equal(t, int32(-120), replayed.CurrentTick())
	active := replayed.ActiveLiquidity()
	assert.Equal(t, "1000000000000000000", active.Dec())
	crossed, _ := replayed.Tick(-60)
	assert.False(t, crossed.FeeGrowthOutside0.IsZero())
}

func TestProcessIsDeterministic(t *testing.T) {
	_, events := buildStream(t, true)

	first := replay(t, events)
	second := replay(t, events)
	assert.True(t, first.Equal(second))
}

func TestProcessSkipsAlreadyProcessed(t *testing.T) {
	_, events := buildStream(t, false)
	p := replay(t, events)
	before := p.Analytics()

	// повтор всего потока ничего не меняет
	for _, e := range events {
		require.NoError(t, p.Process(e))
	}
	assert.Equal(t, before, p.Analytics())

	last, ok := p.LastProcessed()
	require.True(t, ok)
	assert.Equal(t, events[len(events)-1].Position(), last)
}

func TestProcessRequiresInitialize(t *testing.T) {
	_, events := buildStream(t, false)
	p := newTestProfiler(t)

	err := p.Process(events[1])
	assert.ErrorIs(t, err, ErrUninitialized)
}

func TestProcessInvariantAfterEachEvent(t *testing.T) {
	_, events := buildStream(t, true)
	p := newTestProfiler(t)

	for _, e := range events {
		require.NoError(t, p.Process(e))
		if !p.LiquidityInvariantHolds() {
			t.Errorf("инвариант ликвидности нарушен после %s в %s", e.Kind(), e.Position())
		}
	}
}

// ============================================================
// Снимки
// ============================================================

func TestSnapshotRoundTrip(t *testing.T) {
	executed, _ := buildStream(t, true)

	data, err := MarshalSnapshot(executed.ExtractSnapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tick_spacing":60`)

	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	restored := newTestProfiler(t)
	require.NoError(t, restored.RestoreSnapshot(snap))

	assert.True(t, executed.Equal(restored), "восстановленный пул должен совпадать с исходным")
	assert.Equal(t, executed.ActiveTickValues(), restored.ActiveTickValues())
	assert.True(t, restored.LiquidityInvariantHolds())
}

func TestSnapshotWithoutEvents(t *testing.T) {
	p := newTestProfiler(t)
	s := p.ExtractSnapshot()
	assert.Equal(t, BlockPosition{}, s.BlockPosition)
	assert.Empty(t, s.Positions)
}

func TestRestoreSnapshotRejectsSpacing(t *testing.T) {
	executed, _ := buildStream(t, false)
	other, err := NewProfiler(Config{Address: poolAddress, Fee: 500, TickSpacing: 10})
	require.NoError(t, err)

	assert.Error(t, other.RestoreSnapshot(executed.ExtractSnapshot()))
	assert.False(t, other.IsInitialized())
}

func TestUnmarshalSnapshotInvalid(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte(`{"state":`))
	assert.Error(t, err)
}
