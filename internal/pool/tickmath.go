package pool

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MinTick - минимальный тик, log_1.0001(2^-128)
	MinTick int32 = -887272
	// MaxTick - максимальный тик
	MaxTick int32 = 887272
)

var (
	// MinSqrtRatio - SqrtRatioAtTick(MinTick)
	MinSqrtRatio = uint256.NewInt(4295128739)
	// MaxSqrtRatio - SqrtRatioAtTick(MaxTick)
	MaxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")
)

// Множители sqrt(1.0001)^-(2^i) в Q128.128
var (
	ratioBit0  = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	tickRatios = []struct {
		bit   uint32
		ratio *uint256.Int
	}{
		{0x2, uint256.MustFromHex("0xfff97272373d413259a46990580e213a")},
		{0x4, uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc")},
		{0x8, uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0")},
		{0x10, uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644")},
		{0x20, uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0")},
		{0x40, uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861")},
		{0x80, uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053")},
		{0x100, uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4")},
		{0x200, uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54")},
		{0x400, uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3")},
		{0x800, uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9")},
		{0x1000, uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825")},
		{0x2000, uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5")},
		{0x4000, uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7")},
		{0x8000, uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6")},
		{0x10000, uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9")},
		{0x20000, uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604")},
		{0x40000, uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98")},
		{0x80000, uint256.MustFromHex("0x48a170391f7dc42444e8fa2")},
	}

	mask32 = uint256.NewInt(0xffffffff)

	log2Multiplier = mustBig("255738958999603826347141")
	tickLowOffset  = mustBig("3402992956809132418596140100660247210")
	tickHighOffset = mustBig("291339464771989622907027621153398088495")
)

func mustBig(s string) *big.Int {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("pool: bad big constant " + s)
	}
	return b
}

// SqrtRatioAtTick - sqrt(1.0001^tick) * 2^96
func SqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfBounds, tick)
	}
	return sqrtRatioAtTick(tick), nil
}

// sqrtRatioAtTick без проверки границ; вызывающий гарантирует диапазон
func sqrtRatioAtTick(tick int32) *uint256.Int {
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int)
	if absTick&0x1 != 0 {
		ratio.Set(ratioBit0)
	} else {
		ratio.Set(q128)
	}
	for _, step := range tickRatios {
		if absTick&step.bit != 0 {
			ratio.Mul(ratio, step.ratio)
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio = new(uint256.Int).Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96 с округлением вверх
	rem := new(uint256.Int).And(ratio, mask32)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio
}

// TickAtSqrtRatio - наибольший тик, для которого SqrtRatioAtTick(tick) <= sqrtPriceX96
func TickAtSqrtRatio(sqrtPriceX96 *uint256.Int) (int32, error) {
	if sqrtPriceX96.Lt(MinSqrtRatio) || sqrtPriceX96.Gt(MaxSqrtRatio) {
		return 0, fmt.Errorf("%w: %s", ErrSqrtPriceOutOfRange, sqrtPriceX96.Dec())
	}
	if sqrtPriceX96.Eq(MaxSqrtRatio) {
		return MaxTick, nil
	}
	return tickAtSqrtRatio(sqrtPriceX96), nil
}

func tickAtSqrtRatio(sqrtPriceX96 *uint256.Int) int32 {
	ratio := new(uint256.Int).Lsh(sqrtPriceX96, 32)
	msb := ratio.BitLen() - 1

	r := new(uint256.Int)
	if msb >= 128 {
		r.Rsh(ratio, uint(msb-127))
	} else {
		r.Lsh(ratio, uint(127-msb))
	}

	log2 := new(big.Int).Lsh(big.NewInt(int64(msb-128)), 64)
	f := new(uint256.Int)
	for i := 0; i < 14; i++ {
		r.Mul(r, r)
		r.Rsh(r, 127)
		f.Rsh(r, 128)
		if !f.IsZero() {
			log2.Add(log2, new(big.Int).Lsh(big.NewInt(1), uint(63-i)))
			r.Rsh(r, 1)
		}
	}

	logSqrt10001 := new(big.Int).Mul(log2, log2Multiplier)
	tickLow := int32(new(big.Int).Rsh(new(big.Int).Sub(logSqrt10001, tickLowOffset), 128).Int64())
	tickHigh := int32(new(big.Int).Rsh(new(big.Int).Add(logSqrt10001, tickHighOffset), 128).Int64())

	if tickLow == tickHigh {
		return tickLow
	}
	if !sqrtRatioAtTick(tickHigh).Gt(sqrtPriceX96) {
		return tickHigh
	}
	return tickLow
}

// MinTickForSpacing - наименьший тик, кратный шагу
func MinTickForSpacing(spacing int32) int32 {
	return (MinTick / spacing) * spacing
}

// MaxTickForSpacing - наибольший тик, кратный шагу
func MaxTickForSpacing(spacing int32) int32 {
	return (MaxTick / spacing) * spacing
}

// TickSpacingToMaxLiquidityPerTick - предел liquidity_gross на один тик
func TickSpacingToMaxLiquidityPerTick(spacing int32) *uint256.Int {
	if spacing <= 0 {
		return maxUint128.Clone()
	}
	numTicks := uint64((MaxTickForSpacing(spacing)-MinTickForSpacing(spacing))/spacing) + 1
	return new(uint256.Int).Div(maxUint128, uint256.NewInt(numTicks))
}
