package pool

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(u(n), u(1_000_000_000_000_000_000))
}

func TestSqrtRatioAtTickBounds(t *testing.T) {
	minRatio, err := SqrtRatioAtTick(MinTick)
	require.NoError(t, err)
	assert.True(t, minRatio.Eq(MinSqrtRatio), "MIN_TICK должен давать MIN_SQRT_RATIO, получено %s", minRatio)

	maxRatio, err := SqrtRatioAtTick(MaxTick)
	require.NoError(t, err)
	assert.True(t, maxRatio.Eq(MaxSqrtRatio), "MAX_TICK должен давать MAX_SQRT_RATIO, получено %s", maxRatio)

	zero, err := SqrtRatioAtTick(0)
	require.NoError(t, err)
	assert.True(t, zero.Eq(q96))

	_, err = SqrtRatioAtTick(MinTick - 1)
	assert.ErrorIs(t, err, ErrTickOutOfBounds)
	_, err = SqrtRatioAtTick(MaxTick + 1)
	assert.ErrorIs(t, err, ErrTickOutOfBounds)
}

func TestTickAtSqrtRatio(t *testing.T) {
	tests := []struct {
		name  string
		price *uint256.Int
		want  int32
	}{
		{"минимальная цена", MinSqrtRatio, MinTick},
		{"цена 1", q96, 0},
		{"ровно тик 60", sqrtRatioAtTick(60), 60},
		{"чуть ниже тика 60", new(uint256.Int).SubUint64(sqrtRatioAtTick(60), 1), 59},
		{"перед максимальной", new(uint256.Int).SubUint64(MaxSqrtRatio, 1), MaxTick - 1},
		{"максимальная цена", MaxSqrtRatio, MaxTick},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TickAtSqrtRatio(tt.price)
			require.NoError(t, err)
			if got != tt.want {
				t.Errorf("TickAtSqrtRatio(%s) = %d, ожидалось %d", tt.price, got, tt.want)
			}
		})
	}

	_, err := TickAtSqrtRatio(new(uint256.Int).SubUint64(MinSqrtRatio, 1))
	assert.ErrorIs(t, err, ErrSqrtPriceOutOfRange)
}

func TestTickRoundTrip(t *testing.T) {
	for _, tick := range []int32{MinTick, -887220, -23028, -240, -61, -1, 0, 1, 59, 600, 887220, MaxTick - 1} {
		got, err := TickAtSqrtRatio(sqrtRatioAtTick(tick))
		require.NoError(t, err)
		if got != tick {
			t.Errorf("тик %d после двух преобразований стал %d", tick, got)
		}
	}
}

func TestEncodeSqrtRatioX96(t *testing.T) {
	price, err := EncodeSqrtRatioX96(u(1), u(1))
	require.NoError(t, err)
	assert.True(t, price.Eq(q96))

	price, err = EncodeSqrtRatioX96(u(121), u(100))
	require.NoError(t, err)
	assert.Equal(t, "87150978765690771352898345369", price.Dec())

	price, err = EncodeSqrtRatioX96(u(1), u(10))
	require.NoError(t, err)
	assert.Equal(t, "25054144837504793118641380156", price.Dec())
	tick, err := TickAtSqrtRatio(price)
	require.NoError(t, err)
	assert.Equal(t, int32(-23028), tick)

	_, err = EncodeSqrtRatioX96(u(1), u(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestFullMath(t *testing.T) {
	got, err := MulDiv(q128, q128, q128)
	require.NoError(t, err)
	assert.True(t, got.Eq(q128), "промежуточное произведение шире 256 бит")

	got, err = MulDiv(maxUint256, maxUint256, maxUint256)
	require.NoError(t, err)
	assert.True(t, got.Eq(maxUint256))

	_, err = MulDiv(maxUint256, u(2), u(1))
	assert.ErrorIs(t, err, ErrMathOverflow)

	_, err = MulDiv(u(1), u(1), u(0))
	assert.ErrorIs(t, err, ErrDivisionByZero)

	got, err = MulDiv(u(1), u(1), u(3))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = MulDivRoundingUp(u(1), u(1), u(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Uint64())

	_, err = MulDivRoundingUp(maxUint256, maxUint256, new(uint256.Int).SubUint64(maxUint256, 1))
	assert.ErrorIs(t, err, ErrMathOverflow)

	got, err = DivRoundingUp(u(7), u(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.Uint64())
}

func TestAmountDeltas(t *testing.T) {
	priceB, err := EncodeSqrtRatioX96(u(121), u(100))
	require.NoError(t, err)
	liquidity := e18(1)

	assert.Equal(t, "90909090909090910", Amount0Delta(q96, priceB, liquidity, true).Dec())
	assert.Equal(t, "90909090909090909", Amount0Delta(q96, priceB, liquidity, false).Dec())
	assert.Equal(t, "100000000000000000", Amount1Delta(q96, priceB, liquidity, true).Dec())
	assert.Equal(t, "99999999999999999", Amount1Delta(q96, priceB, liquidity, false).Dec())

	// порядок цен не важен
	assert.Equal(t, Amount0Delta(priceB, q96, liquidity, true), Amount0Delta(q96, priceB, liquidity, true))

	assert.True(t, Amount0Delta(q96, priceB, u(0), true).IsZero())
	assert.True(t, Amount1Delta(q96, priceB, u(0), true).IsZero())

	negative := new(big.Int).Neg(liquidity.ToBig())
	assert.Equal(t, "-90909090909090909", Amount0DeltaSigned(q96, priceB, negative).String())
	assert.Equal(t, "100000000000000000", Amount1DeltaSigned(q96, priceB, liquidity.ToBig()).String())
}

func TestAmountsForLiquidity(t *testing.T) {
	price, err := EncodeSqrtRatioX96(u(1), u(10))
	require.NoError(t, err)

	tests := []struct {
		name string
		lower, upper int32
		liquidity uint64
		roundUp   bool
		want0, want1 uint64
	}{
		{"полный диапазон", -887220, 887220, 3161, true, 9996, 1000},
		{"выше цены", -22980, 0, 10000, true, 21549, 0},
		{"выше цены, вверх", -240, 0, 10000, true, 121, 0},
		{"выше цены, вниз", -240, 0, 10000, false, 120, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a0, a1, err := AmountsForLiquidity(price, tt.lower, tt.upper, u(tt.liquidity), tt.roundUp)
			require.NoError(t, err)
			if a0.Uint64() != tt.want0 || a1.Uint64() != tt.want1 {
				t.Errorf("получено (%s, %s), ожидалось (%d, %d)", a0, a1, tt.want0, tt.want1)
			}
		})
	}
}

func TestNextSqrtPrice(t *testing.T) {
	liquidity := e18(1)
	tenth := new(uint256.Int).Div(liquidity, u(10))

	got, err := NextSqrtPriceFromInput(q96, liquidity, tenth, false)
	require.NoError(t, err)
	assert.Equal(t, "87150978765690771352898345369", got.Dec())

	got, err = NextSqrtPriceFromInput(q96, liquidity, tenth, true)
	require.NoError(t, err)
	assert.Equal(t, "72025602285694852357767227579", got.Dec())

	got, err = NextSqrtPriceFromInput(q96, liquidity, u(0), true)
	require.NoError(t, err)
	assert.True(t, got.Eq(q96), "нулевой вход не двигает цену")

	_, err = NextSqrtPriceFromInput(q96, u(0), tenth, true)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	// вывод всего token1 невозможен
	_, err = NextSqrtPriceFromOutput(q96, u(1), q128, true)
	assert.ErrorIs(t, err, ErrMathOverflow)
}

func TestAddDelta(t *testing.T) {
	got, err := AddDelta(u(1), negate(u(1)))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = AddDelta(u(5), u(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.Uint64())

	_, err = AddDelta(u(0), negate(u(1)))
	assert.ErrorIs(t, err, ErrLiquidityUnderflow)

	_, err = AddDelta(maxUint128, u(1))
	assert.ErrorIs(t, err, ErrLiquidityOverflow)
}

func TestAddSaturating128(t *testing.T) {
	near := new(uint256.Int).SubUint64(maxUint128, 1)
	got := addSaturating128(near, u(10))
	assert.True(t, got.Eq(maxUint128), "сумма должна насыщаться на 2^128-1")

	got = addSaturating128(maxUint256, maxUint256)
	assert.True(t, got.Eq(maxUint128))

	got = addSaturating128(u(2), u(3))
	assert.Equal(t, uint64(5), got.Uint64())
}

func TestTickSpacingToMaxLiquidityPerTick(t *testing.T) {
	assert.Equal(t, "11505743598341114571880798222544994", TickSpacingToMaxLiquidityPerTick(60).Dec())
	assert.Equal(t, int32(-887220), MinTickForSpacing(60))
	assert.Equal(t, int32(887220), MaxTickForSpacing(60))
}

func TestComputeSwapStep(t *testing.T) {
	priceTarget, err := EncodeSqrtRatioX96(u(101), u(100))
	require.NoError(t, err)
	liquidity := e18(2)

	t.Run("вход упирается в цель", func(t *testing.T) {
		amount := e18(1)
		step, err := ComputeSwapStep(q96, priceTarget, liquidity, amount, 600)
		require.NoError(t, err)

		assert.True(t, step.SqrtRatioNext.Eq(priceTarget))
		assert.True(t, step.AmountIn.Eq(Amount1Delta(q96, priceTarget, liquidity, true)))
		spent := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
		assert.True(t, spent.Lt(amount), "вход с комиссией меньше доступного")
		assert.False(t, step.AmountOut.IsZero())
	})

	t.Run("вход расходуется полностью", func(t *testing.T) {
		amount := u(1_000_000)
		step, err := ComputeSwapStep(q96, priceTarget, liquidity, amount, 600)
		require.NoError(t, err)

		assert.True(t, step.SqrtRatioNext.Lt(priceTarget))
		spent := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
		assert.True(t, spent.Eq(amount), "весь вход должен уйти в шаг, получено %s", spent)
	})

	t.Run("точный выход ограничен запросом", func(t *testing.T) {
		wanted := u(1_000_000)
		step, err := ComputeSwapStep(q96, priceTarget, liquidity, negate(wanted), 600)
		require.NoError(t, err)

		assert.True(t, step.AmountOut.Eq(wanted))
		assert.True(t, step.SqrtRatioNext.Lt(priceTarget))
		assert.False(t, step.FeeAmount.IsZero())
	})

	t.Run("без ликвидности цена идёт к цели", func(t *testing.T) {
		step, err := ComputeSwapStep(q96, priceTarget, u(0), e18(1), 3000)
		require.NoError(t, err)
		assert.True(t, step.SqrtRatioNext.Eq(priceTarget))
		assert.True(t, step.AmountIn.IsZero())
		assert.True(t, step.FeeAmount.IsZero())
	})
}
