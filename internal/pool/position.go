package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Position - позиция ликвидности владельца в диапазоне [TickLower, TickUpper)
type Position struct {
	Owner                 common.Address `json:"owner"`
	TickLower             int32          `json:"tick_lower"`
	TickUpper             int32          `json:"tick_upper"`
	Liquidity             uint256.Int    `json:"liquidity"`
	FeeGrowthInside0Last  uint256.Int    `json:"fee_growth_inside_0_last"`
	FeeGrowthInside1Last  uint256.Int    `json:"fee_growth_inside_1_last"`
	TokensOwed0           uint256.Int    `json:"tokens_owed_0"`
	TokensOwed1           uint256.Int    `json:"tokens_owed_1"`
	TotalAmount0Deposited uint256.Int    `json:"total_amount0_deposited"`
	TotalAmount1Deposited uint256.Int    `json:"total_amount1_deposited"`
	TotalAmount0Collected uint256.Int    `json:"total_amount0_collected"`
	TotalAmount1Collected uint256.Int    `json:"total_amount1_collected"`
}

// PositionKey - ключ позиции "owner:lower:upper"
func PositionKey(owner common.Address, lower, upper int32) string {
	return fmt.Sprintf("%s:%d:%d", owner.Hex(), lower, upper)
}

// NewPosition создаёт пустую позицию
func NewPosition(owner common.Address, lower, upper int32) *Position {
	return &Position{Owner: owner, TickLower: lower, TickUpper: upper}
}

// Key - ключ позиции
func (p *Position) Key() string {
	return PositionKey(p.Owner, p.TickLower, p.TickUpper)
}

// UpdateLiquidity применяет знаковую дельту
func (p *Position) UpdateLiquidity(delta *uint256.Int) error {
	l, err := AddDelta(&p.Liquidity, delta)
	if err != nil {
		return err
	}
	p.Liquidity = *l
	return nil
}

// UpdateFees начисляет комиссии за рост fee_growth_inside с прошлого снимка.
// Начисление насыщается на 2^128-1, снимок обновляется всегда.
func (p *Position) UpdateFees(inside0, inside1 *uint256.Int) {
	if !p.Liquidity.IsZero() {
		p.TokensOwed0 = addSaturating128(&p.TokensOwed0, accrued(inside0, &p.FeeGrowthInside0Last, &p.Liquidity))
		p.TokensOwed1 = addSaturating128(&p.TokensOwed1, accrued(inside1, &p.FeeGrowthInside1Last, &p.Liquidity))
	}
	p.FeeGrowthInside0Last = *inside0
	p.FeeGrowthInside1Last = *inside1
}

func accrued(inside, last, liquidity *uint256.Int) *uint256.Int {
	delta := new(uint256.Int).Sub(inside, last)
	fees, err := MulDiv(delta, liquidity, q128)
	if err != nil {
		return maxUint128.Clone()
	}
	return fees
}

// UpdateAmounts учитывает суммы события: mint - вклад, burn - долг к выплате
func (p *Position) UpdateAmounts(delta, amount0, amount1 *uint256.Int) {
	if delta.Sign() > 0 {
		p.TotalAmount0Deposited.Add(&p.TotalAmount0Deposited, amount0)
		p.TotalAmount1Deposited.Add(&p.TotalAmount1Deposited, amount1)
		return
	}
	if delta.Sign() < 0 {
		p.TokensOwed0 = addSaturating128(&p.TokensOwed0, amount0)
		p.TokensOwed1 = addSaturating128(&p.TokensOwed1, amount1)
	}
}

// CollectFees выводит min(запрошено, долг) и возвращает фактические суммы
func (p *Position) CollectFees(amount0, amount1 *uint256.Int) (uint256.Int, uint256.Int) {
	c0 := minInt(amount0, &p.TokensOwed0)
	c1 := minInt(amount1, &p.TokensOwed1)

	p.TokensOwed0.Sub(&p.TokensOwed0, &c0)
	p.TokensOwed1.Sub(&p.TokensOwed1, &c1)
	p.TotalAmount0Collected.Add(&p.TotalAmount0Collected, &c0)
	p.TotalAmount1Collected.Add(&p.TotalAmount1Collected, &c1)
	return c0, c1
}

// IsEmpty - нет ликвидности и нечего выводить
func (p *Position) IsEmpty() bool {
	return p.Liquidity.IsZero() && p.TokensOwed0.IsZero() && p.TokensOwed1.IsZero()
}

// InRange - диапазон содержит тик
func (p *Position) InRange(tick int32) bool {
	return p.TickLower <= tick && tick < p.TickUpper
}

func minInt(a, b *uint256.Int) uint256.Int {
	if a.Lt(b) {
		return *a
	}
	return *b
}
