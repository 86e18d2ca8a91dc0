package pool

import (
	"github.com/holiman/uint256"
)

// EstimateBalance0 - оценка баланса token0 пула: ликвидность позиций,
// несобранные комиссии и протокольная доля
func (p *Profiler) EstimateBalance0() uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total, collected uint256.Int
	price := &p.state.SqrtPriceX96
	current := p.state.CurrentTick

	for _, pos := range p.positions {
		if !pos.Liquidity.IsZero() {
			switch {
			case pos.TickUpper <= current:
			case pos.TickLower > current:
				a := sqrtRatioAtTick(pos.TickLower)
				b := sqrtRatioAtTick(pos.TickUpper)
				total.Add(&total, Amount0Delta(a, b, &pos.Liquidity, true))
			default:
				b := sqrtRatioAtTick(pos.TickUpper)
				total.Add(&total, Amount0Delta(price, b, &pos.Liquidity, true))
			}
		}
		collected.Add(&collected, &pos.TotalAmount0Collected)
	}

	return p.addFeeTerms(total, &p.state.FeeGrowthGlobal0, &collected, &p.state.ProtocolFees0)
}

// EstimateBalance1 - то же для token1
func (p *Profiler) EstimateBalance1() uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total, collected uint256.Int
	price := &p.state.SqrtPriceX96
	current := p.state.CurrentTick

	for _, pos := range p.positions {
		if !pos.Liquidity.IsZero() {
			switch {
			case pos.TickLower > current:
			case pos.TickUpper <= current:
				a := sqrtRatioAtTick(pos.TickLower)
				b := sqrtRatioAtTick(pos.TickUpper)
				total.Add(&total, Amount1Delta(a, b, &pos.Liquidity, true))
			default:
				a := sqrtRatioAtTick(pos.TickLower)
				total.Add(&total, Amount1Delta(a, price, &pos.Liquidity, true))
			}
		}
		collected.Add(&collected, &pos.TotalAmount1Collected)
	}

	return p.addFeeTerms(total, &p.state.FeeGrowthGlobal1, &collected, &p.state.ProtocolFees1)
}

// addFeeTerms добавляет комиссии активной ликвидности, остаток роста за
// вычетом собранного (не ниже нуля) и протокольную долю
func (p *Profiler) addFeeTerms(total uint256.Int, feeGrowth, collected, protocol *uint256.Int) uint256.Int {
	if !feeGrowth.IsZero() && !p.ticks.Liquidity.IsZero() {
		if fees, err := MulDiv(feeGrowth, &p.ticks.Liquidity, q128); err == nil {
			total.Add(&total, fees)
		}
	}
	if feeGrowth.Gt(collected) {
		left := new(uint256.Int).Sub(feeGrowth, collected)
		total.Add(&total, left)
	}
	total.Add(&total, protocol)
	return total
}
