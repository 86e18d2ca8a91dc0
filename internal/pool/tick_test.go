package pool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickMapUpdate(t *testing.T) {
	m := NewTickMap(60)
	g0, g1 := u(7), u(9)

	flipped, err := m.Update(60, 0, u(100), false, g0, g1)
	require.NoError(t, err)
	assert.True(t, flipped)

	above, ok := m.Tick(60)
	require.True(t, ok)
	assert.True(t, above.FeeGrowthOutside0.IsZero(), "тик выше текущего не получает глобальный рост")
	assert.Equal(t, uint64(1), above.UpdatesCount)

	flipped, err = m.Update(-60, 0, u(100), false, g0, g1)
	require.NoError(t, err)
	assert.True(t, flipped)
	below, _ := m.Tick(-60)
	assert.True(t, below.FeeGrowthOutside0.Eq(g0))
	assert.True(t, below.FeeGrowthOutside1.Eq(g1))

	flipped, err = m.Update(60, 0, u(50), true, g0, g1)
	require.NoError(t, err)
	assert.False(t, flipped, "добавление к живому тику не переключает бит")
	above, _ = m.Tick(60)
	assert.Equal(t, "150", above.LiquidityGross.Dec())
	assert.Equal(t, "50", above.NetBig().String())

	flipped, err = m.Update(60, 0, negate(u(150)), true, g0, g1)
	require.NoError(t, err)
	assert.True(t, flipped)
	assert.False(t, m.IsTickInitialized(60))
	assert.Equal(t, []int32{-60}, m.ActiveTickValues())
}

func TestTickMapUpdateRejectsWithoutWrites(t *testing.T) {
	m := NewTickMap(60)
	g := new(uint256.Int)

	over := new(uint256.Int).AddUint64(&m.MaxLiquidityPerTick, 1)
	_, err := m.Update(120, 0, over, false, g, g)
	assert.ErrorIs(t, err, ErrMaxLiquidityPerTick)

	_, err = m.Update(120, 0, negate(u(1)), false, g, g)
	assert.ErrorIs(t, err, ErrLiquidityUnderflow)

	assert.Zero(t, m.TotalTickCount(), "отклонённое обновление не создаёт тик")
}

func TestFeeGrowthInside(t *testing.T) {
	m := NewTickMap(60)
	lower := m.GetTickOrInit(-60)
	lower.FeeGrowthOutside0 = *u(10)
	lower.FeeGrowthOutside1 = *u(3)
	upper := m.GetTickOrInit(60)
	upper.FeeGrowthOutside0 = *u(2)
	upper.FeeGrowthOutside1 = *u(4)

	tests := []struct {
		name    string
		current int32
		want0   *uint256.Int
		want1   *uint256.Int
	}{
		// 15 - 10 - 2; 20 - 3 - 4
		{"внутри диапазона", 0, u(3), u(13)},
		// ниже: below = global - lower; inside = lower - upper
		{"ниже диапазона", -120, u(8), negate(u(1))},
		// выше: above = global - upper; inside = upper - lower
		{"выше диапазона", 120, negate(u(8)), u(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in0, in1 := m.FeeGrowthInside(-60, 60, tt.current, u(15), u(20))
			if !in0.Eq(tt.want0) || !in1.Eq(tt.want1) {
				t.Errorf("FeeGrowthInside = (%s, %s), ожидалось (%s, %s)", in0.Dec(), in1.Dec(), tt.want0.Dec(), tt.want1.Dec())
			}
		})
	}
}

func TestFeeGrowthInsideWraps(t *testing.T) {
	m := NewTickMap(1)
	// outside больше глобального: результат по модулю 2^256
	m.GetTickOrInit(-1).FeeGrowthOutside0 = *u(10)

	in0, _ := m.FeeGrowthInside(-1, 1, 0, u(5), u(0))
	assert.True(t, in0.Eq(negate(u(5))), "ожидалось 2^256-5, получено %s", in0.Dec())
}

func TestFeeGrowthInsideDoesNotCreateTicks(t *testing.T) {
	m := NewTickMap(60)
	in0, in1 := m.FeeGrowthInside(-600, 600, 0, u(100), u(200))

	assert.True(t, in0.Eq(u(100)))
	assert.True(t, in1.Eq(u(200)))
	assert.Zero(t, m.TotalTickCount())
}

func TestTickCross(t *testing.T) {
	m := NewTickMap(60)
	g := u(0)
	_, err := m.Update(60, 0, u(500), true, g, g)
	require.NoError(t, err)

	net := m.CrossTick(60, u(40), u(70))
	assert.Equal(t, "-500", toBigSigned(&net).String())

	crossed, _ := m.Tick(60)
	assert.True(t, crossed.FeeGrowthOutside0.Eq(u(40)))
	assert.True(t, crossed.FeeGrowthOutside1.Eq(u(70)))

	// повторное пересечение возвращает накопители обратно
	m.CrossTick(60, u(40), u(70))
	crossed, _ = m.Tick(60)
	assert.True(t, crossed.FeeGrowthOutside0.IsZero())
}

func TestTickMapNetSum(t *testing.T) {
	m := NewTickMap(10)
	g := u(0)
	for _, r := range [][2]int32{{-100, 100}, {-20, 30}, {0, 10}} {
		_, err := m.Update(r[0], 0, u(1000), false, g, g)
		require.NoError(t, err)
		_, err = m.Update(r[1], 0, u(1000), true, g, g)
		require.NoError(t, err)
	}
	assert.Zero(t, m.NetSum().Sign())
	assert.Equal(t, 6, m.ActiveTickCount())
	assert.Len(t, m.Ticks(), 6)
}

func TestPositionFees(t *testing.T) {
	owner := common.HexToAddress("0x01")
	pos := NewPosition(owner, -60, 60)
	require.NoError(t, pos.UpdateLiquidity(e18(1)))

	// рост на 2^128 на единицу ликвидности даёт 1e18
	pos.UpdateFees(q128, new(uint256.Int).Mul(q128, u(2)))
	assert.Equal(t, "1000000000000000000", pos.TokensOwed0.Dec())
	assert.Equal(t, "2000000000000000000", pos.TokensOwed1.Dec())

	c0, c1 := pos.CollectFees(u(100), maxUint128)
	assert.Equal(t, uint64(100), c0.Uint64())
	assert.Equal(t, "2000000000000000000", c1.Dec())
	assert.True(t, pos.TokensOwed1.IsZero())
	assert.Equal(t, "999999999999999900", pos.TokensOwed0.Dec())
	assert.False(t, pos.IsEmpty())

	assert.Equal(t, owner.Hex()+":-60:60", pos.Key())
	assert.True(t, pos.InRange(-60))
	assert.False(t, pos.InRange(60))
}

func TestPositionFeesSaturate(t *testing.T) {
	pos := NewPosition(common.Address{}, 0, 60)
	require.NoError(t, pos.UpdateLiquidity(maxUint128))
	pos.TokensOwed0 = *new(uint256.Int).SubUint64(maxUint128, 5)

	pos.UpdateFees(q128, u(0))
	assert.True(t, pos.TokensOwed0.Eq(maxUint128), "долг насыщается на 2^128-1")
	assert.True(t, pos.FeeGrowthInside0Last.Eq(q128), "снимок роста обновляется всегда")
}
