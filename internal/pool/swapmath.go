package pool

import (
	"github.com/holiman/uint256"
)

// SwapStep - результат одного шага свопа до цели или до исчерпания суммы
type SwapStep struct {
	SqrtRatioNext *uint256.Int
	AmountIn      *uint256.Int
	AmountOut     *uint256.Int
	FeeAmount     *uint256.Int
}

// ComputeSwapStep считает шаг свопа внутри одного диапазона ликвидности.
// amountRemaining - int256 в дополнительном коде: > 0 exact input, < 0 exact output.
// feePips - комиссия в миллионных долях.
func ComputeSwapStep(sqrtCurrent, sqrtTarget, liquidity, amountRemaining *uint256.Int, feePips uint32) (SwapStep, error) {
	zeroForOne := !sqrtCurrent.Lt(sqrtTarget)
	exactIn := amountRemaining.Sign() >= 0
	fee := uint256.NewInt(uint64(feePips))
	feeComplement := new(uint256.Int).Sub(feeDenominator, fee)

	var (
		next      *uint256.Int
		amountIn  = new(uint256.Int)
		amountOut = new(uint256.Int)
		err       error
	)

	if exactIn {
		lessFee, mErr := MulDiv(amountRemaining, feeComplement, feeDenominator)
		if mErr != nil {
			return SwapStep{}, mErr
		}
		if zeroForOne {
			amountIn = Amount0Delta(sqrtTarget, sqrtCurrent, liquidity, true)
		} else {
			amountIn = Amount1Delta(sqrtCurrent, sqrtTarget, liquidity, true)
		}
		if !lessFee.Lt(amountIn) {
			next = sqrtTarget.Clone()
		} else if next, err = NextSqrtPriceFromInput(sqrtCurrent, liquidity, lessFee, zeroForOne); err != nil {
			return SwapStep{}, err
		}
	} else {
		wanted := negate(amountRemaining)
		if zeroForOne {
			amountOut = Amount1Delta(sqrtTarget, sqrtCurrent, liquidity, false)
		} else {
			amountOut = Amount0Delta(sqrtCurrent, sqrtTarget, liquidity, false)
		}
		if !wanted.Lt(amountOut) {
			next = sqrtTarget.Clone()
		} else if next, err = NextSqrtPriceFromOutput(sqrtCurrent, liquidity, wanted, zeroForOne); err != nil {
			return SwapStep{}, err
		}
	}

	reachedTarget := sqrtTarget.Eq(next)

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			amountIn = Amount0Delta(next, sqrtCurrent, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = Amount1Delta(next, sqrtCurrent, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			amountIn = Amount1Delta(sqrtCurrent, next, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = Amount0Delta(sqrtCurrent, next, liquidity, false)
		}
	}

	if !exactIn {
		if wanted := negate(amountRemaining); amountOut.Gt(wanted) {
			amountOut = wanted
		}
	}

	var feeAmount *uint256.Int
	if exactIn && !reachedTarget {
		feeAmount = new(uint256.Int).Sub(amountRemaining, amountIn)
	} else if feeComplement.IsZero() {
		feeAmount = new(uint256.Int)
	} else if feeAmount, err = MulDivRoundingUp(amountIn, fee, feeComplement); err != nil {
		return SwapStep{}, err
	}

	return SwapStep{
		SqrtRatioNext: next,
		AmountIn:      amountIn,
		AmountOut:     amountOut,
		FeeAmount:     feeAmount,
	}, nil
}
