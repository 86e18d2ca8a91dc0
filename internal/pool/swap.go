package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// ExecuteSwap моделирует обмен. amountSpecified > 0 - точный вход,
// < 0 - точный выход; sqrtPriceLimit ограничивает движение цены.
func (p *Profiler) ExecuteSwap(sender, recipient common.Address, block BlockPosition, zeroForOne bool, amountSpecified *big.Int, sqrtPriceLimit *uint256.Int) (*Swap, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, ErrUninitialized
	}
	if amountSpecified.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	specified, ok := fromBigSigned(amountSpecified)
	if !ok {
		return nil, ErrMathOverflow
	}
	if err := p.checkPriceLimit(zeroForOne, sqrtPriceLimit); err != nil {
		return nil, err
	}

	amount0, amount1, err := p.simulateSwap(specified, zeroForOne, sqrtPriceLimit)
	if err != nil {
		return nil, err
	}
	p.analytics.TotalSwaps++
	p.markProcessed(block, EventSwap, sourceExecute)

	return &Swap{
		Block:        block,
		Sender:       sender,
		Recipient:    recipient,
		Amount0:      amount0,
		Amount1:      amount1,
		SqrtPriceX96: p.state.SqrtPriceX96,
		Liquidity:    p.ticks.Liquidity,
		Tick:         p.state.CurrentTick,
	}, nil
}

func (p *Profiler) checkPriceLimit(zeroForOne bool, limit *uint256.Int) error {
	current := &p.state.SqrtPriceX96
	if zeroForOne {
		if !limit.Lt(current) || !limit.Gt(MinSqrtRatio) {
			return ErrPriceLimit
		}
		return nil
	}
	if !limit.Gt(current) || !limit.Lt(MaxSqrtRatio) {
		return ErrPriceLimit
	}
	return nil
}

// SwapExact0For1 - точный вход token0; limit nil - без ограничения
func (p *Profiler) SwapExact0For1(sender, recipient common.Address, block BlockPosition, amount0In, limit *uint256.Int) (*Swap, error) {
	return p.ExecuteSwap(sender, recipient, block, true, amount0In.ToBig(), lowerLimit(limit))
}

// Swap0ForExact1 - точный выход token1
func (p *Profiler) Swap0ForExact1(sender, recipient common.Address, block BlockPosition, amount1Out, limit *uint256.Int) (*Swap, error) {
	amount := amount1Out.ToBig()
	return p.ExecuteSwap(sender, recipient, block, true, amount.Neg(amount), lowerLimit(limit))
}

// SwapExact1For0 - точный вход token1
func (p *Profiler) SwapExact1For0(sender, recipient common.Address, block BlockPosition, amount1In, limit *uint256.Int) (*Swap, error) {
	return p.ExecuteSwap(sender, recipient, block, false, amount1In.ToBig(), upperLimit(limit))
}

// Swap1ForExact0 - точный выход token0
func (p *Profiler) Swap1ForExact0(sender, recipient common.Address, block BlockPosition, amount0Out, limit *uint256.Int) (*Swap, error) {
	amount := amount0Out.ToBig()
	return p.ExecuteSwap(sender, recipient, block, false, amount.Neg(amount), upperLimit(limit))
}

// SwapToLowerSqrtPrice двигает цену вниз до target
func (p *Profiler) SwapToLowerSqrtPrice(sender, recipient common.Address, block BlockPosition, target *uint256.Int) (*Swap, error) {
	return p.ExecuteSwap(sender, recipient, block, true, maxInt256.ToBig(), target)
}

// SwapToHigherSqrtPrice двигает цену вверх до target
func (p *Profiler) SwapToHigherSqrtPrice(sender, recipient common.Address, block BlockPosition, target *uint256.Int) (*Swap, error) {
	return p.ExecuteSwap(sender, recipient, block, false, maxInt256.ToBig(), target)
}

func lowerLimit(limit *uint256.Int) *uint256.Int {
	if limit != nil {
		return limit
	}
	return new(uint256.Int).AddUint64(MinSqrtRatio, 1)
}

func upperLimit(limit *uint256.Int) *uint256.Int {
	if limit != nil {
		return limit
	}
	return new(uint256.Int).SubUint64(MaxSqrtRatio, 1)
}

// processSwap воспроизводит swap из цепочки: цена события служит пределом,
// расхождения тика, цены и ликвидности исправляются по событию
func (p *Profiler) processSwap(e *Swap) error {
	if !p.initialized {
		return ErrUninitialized
	}
	if p.alreadyProcessed(e.Block) {
		return nil
	}

	zeroForOne := e.Amount0 != nil && e.Amount0.Sign() > 0
	specifiedBig := e.Amount1
	if zeroForOne {
		specifiedBig = e.Amount0
	}
	if specifiedBig == nil {
		specifiedBig = new(big.Int)
	}
	specified, ok := fromBigSigned(specifiedBig)
	if !ok {
		return ErrMathOverflow
	}

	limit := &e.SqrtPriceX96
	current := &p.state.SqrtPriceX96
	if (zeroForOne && limit.Gt(current)) || (!zeroForOne && limit.Lt(current)) {
		swapCorrections.WithLabelValues("direction").Inc()
		p.log.Warn("swap replay direction disagrees with event price",
			zap.Bool("zero_for_one", zeroForOne),
			zap.Uint64("block", e.Block.Number))
	} else if _, _, err := p.simulateSwap(specified, zeroForOne, limit); err != nil {
		return err
	}

	if e.Tick != p.state.CurrentTick {
		swapCorrections.WithLabelValues("tick").Inc()
		p.log.Error("swap replay tick mismatch",
			zap.Int32("simulated", p.state.CurrentTick),
			zap.Int32("event", e.Tick),
			zap.Uint64("block", e.Block.Number))
		p.state.CurrentTick = e.Tick
	}
	if e.SqrtPriceX96 != p.state.SqrtPriceX96 {
		swapCorrections.WithLabelValues("sqrt_price").Inc()
		p.log.Warn("swap replay price mismatch",
			zap.String("simulated", p.state.SqrtPriceX96.Dec()),
			zap.String("event", e.SqrtPriceX96.Dec()),
			zap.Uint64("block", e.Block.Number))
		p.state.SqrtPriceX96 = e.SqrtPriceX96
	}
	if e.Liquidity != p.ticks.Liquidity {
		swapCorrections.WithLabelValues("liquidity").Inc()
		p.log.Error("swap replay liquidity mismatch",
			zap.String("simulated", p.ticks.Liquidity.Dec()),
			zap.String("event", e.Liquidity.Dec()),
			zap.Uint64("block", e.Block.Number))
		p.ticks.Liquidity = e.Liquidity
	}

	p.analytics.TotalSwaps++
	p.markProcessed(e.Block, EventSwap, sourceProcess)
	return nil
}

// tickCrossing - отложенное пересечение тика с глобальными ростами комиссий
// на момент пересечения
type tickCrossing struct {
	tick             int32
	global0, global1 *uint256.Int
}

// simulateSwap проходит кривую цены по диапазонам ликвидности, пока не
// израсходована сумма или не достигнут предел. Возвращает знаковые суммы
// token0/token1 с точки зрения пула.
func (p *Profiler) simulateSwap(specified *uint256.Int, zeroForOne bool, limit *uint256.Int) (*big.Int, *big.Int, error) {
	exactIn := specified.Sign() > 0
	price := p.state.SqrtPriceX96.Clone()
	tick := p.state.CurrentTick
	remaining := specified.Clone()
	calculated := new(uint256.Int)
	protocolFee := new(uint256.Int)

	feeProtocol := p.state.FeeProtocol >> 4
	feeGrowth := p.state.FeeGrowthGlobal1.Clone()
	if zeroForOne {
		feeProtocol = p.state.FeeProtocol % 16
		feeGrowth = p.state.FeeGrowthGlobal0.Clone()
	}

	// пересечения применяются к карте тиков только после успешного прохода
	liquidity := p.ticks.Liquidity.Clone()
	var crossings []tickCrossing
	for !remaining.IsZero() && !limit.Eq(price) {
		start := price.Clone()

		next, initialized := p.ticks.NextInitializedTick(tick, zeroForOne)
		if next < MinTick {
			next = MinTick
		} else if next > MaxTick {
			next = MaxTick
		}
		priceNext := sqrtRatioAtTick(next)

		target := priceNext
		if (zeroForOne && priceNext.Lt(limit)) || (!zeroForOne && priceNext.Gt(limit)) {
			target = limit
		}

		step, err := ComputeSwapStep(price, target, liquidity, remaining, p.cfg.Fee)
		if err != nil {
			return nil, nil, err
		}
		price = step.SqrtRatioNext

		inWithFee := new(uint256.Int).Add(step.AmountIn, step.FeeAmount)
		if exactIn {
			remaining.Sub(remaining, inWithFee)
			calculated.Sub(calculated, step.AmountOut)
		} else {
			remaining.Add(remaining, step.AmountOut)
			calculated.Add(calculated, inWithFee)
		}

		stepFee := step.FeeAmount.Clone()
		if feeProtocol > 0 {
			delta := new(uint256.Int).Div(step.FeeAmount, uint256.NewInt(uint64(feeProtocol)))
			stepFee.Sub(stepFee, delta)
			protocolFee.Add(protocolFee, delta)
		}

		// без активной ликвидности цена двигается без начисления комиссий
		if !liquidity.IsZero() {
			growth, err := MulDiv(stepFee, q128, liquidity)
			if err != nil {
				return nil, nil, err
			}
			feeGrowth.Add(feeGrowth, growth)
		}

		switch {
		case price.Eq(priceNext):
			if initialized {
				c := tickCrossing{tick: next}
				if zeroForOne {
					c.global0, c.global1 = feeGrowth.Clone(), p.state.FeeGrowthGlobal1.Clone()
				} else {
					c.global0, c.global1 = p.state.FeeGrowthGlobal0.Clone(), feeGrowth.Clone()
				}
				var net uint256.Int
				if t, ok := p.ticks.Tick(next); ok {
					net = t.LiquidityNet
				}
				if zeroForOne {
					net.Neg(&net)
				}
				active, err := AddDelta(liquidity, &net)
				if err != nil {
					return nil, nil, err
				}
				liquidity = active
				crossings = append(crossings, c)
			}
			if zeroForOne {
				tick = next - 1
			} else {
				tick = next
			}
		case !price.Eq(start):
			if t, err := TickAtSqrtRatio(price); err == nil {
				tick = t
			}
		}
	}
	ticksCrossed.Observe(float64(len(crossings)))

	for _, c := range crossings {
		p.ticks.CrossTick(c.tick, c.global0, c.global1)
	}
	p.ticks.Liquidity = *liquidity
	p.state.CurrentTick = tick
	p.state.SqrtPriceX96 = *price
	if zeroForOne {
		p.state.FeeGrowthGlobal0 = *feeGrowth
		p.state.ProtocolFees0.Add(&p.state.ProtocolFees0, protocolFee)
	} else {
		p.state.FeeGrowthGlobal1 = *feeGrowth
		p.state.ProtocolFees1.Add(&p.state.ProtocolFees1, protocolFee)
	}

	spent := toBigSigned(new(uint256.Int).Sub(specified, remaining))
	other := toBigSigned(calculated)
	if zeroForOne == exactIn {
		return spent, other, nil
	}
	return other, spent, nil
}
