package pool

import (
	"math/big"

	"github.com/holiman/uint256"
)

// EncodeSqrtRatioX96 - sqrt(amount1/amount0) * 2^96, цена token0 в token1
func EncodeSqrtRatioX96(amount1, amount0 *uint256.Int) (*uint256.Int, error) {
	if amount0.IsZero() {
		return nil, ErrDivisionByZero
	}
	if amount1.IsZero() {
		return new(uint256.Int), nil
	}

	limit := new(uint256.Int).Div(maxUint256, q192)
	var result *uint256.Int
	if amount1.Gt(limit) {
		s1 := new(uint256.Int).Sqrt(amount1)
		s0 := new(uint256.Int).Sqrt(amount0)
		if s0.IsZero() {
			return nil, ErrDivisionByZero
		}
		r, err := MulDiv(s1, q96, s0)
		if err != nil {
			return nil, err
		}
		result = r
	} else {
		ratio, err := MulDiv(amount1, q192, amount0)
		if err != nil {
			return nil, err
		}
		result = new(uint256.Int).Sqrt(ratio)
	}

	if result.Gt(maxUint160) {
		return maxUint160.Clone(), nil
	}
	return result, nil
}

// Amount0Delta - количество token0 между двумя ценами для ликвидности L
func Amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.IsZero() {
		return new(uint256.Int)
	}

	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		inner := mulDivOrZero(numerator1, numerator2, sqrtB, true)
		z, err := DivRoundingUp(inner, sqrtA)
		if err != nil {
			return new(uint256.Int)
		}
		return z
	}
	inner := mulDivOrZero(numerator1, numerator2, sqrtB, false)
	return inner.Div(inner, sqrtA)
}

// Amount1Delta - количество token1 между двумя ценами для ликвидности L
func Amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	return mulDivOrZero(liquidity, diff, q96, roundUp)
}

// Amount0DeltaSigned - знаковый вариант: положительная ликвидность округляется вверх
func Amount0DeltaSigned(sqrtA, sqrtB *uint256.Int, liquidity *big.Int) *big.Int {
	if liquidity.Sign() < 0 {
		abs, _ := uint256.FromBig(new(big.Int).Neg(liquidity))
		out := Amount0Delta(sqrtA, sqrtB, abs, false).ToBig()
		return out.Neg(out)
	}
	l, _ := uint256.FromBig(liquidity)
	return Amount0Delta(sqrtA, sqrtB, l, true).ToBig()
}

// Amount1DeltaSigned - знаковый вариант Amount1Delta
func Amount1DeltaSigned(sqrtA, sqrtB *uint256.Int, liquidity *big.Int) *big.Int {
	if liquidity.Sign() < 0 {
		abs, _ := uint256.FromBig(new(big.Int).Neg(liquidity))
		out := Amount1Delta(sqrtA, sqrtB, abs, false).ToBig()
		return out.Neg(out)
	}
	l, _ := uint256.FromBig(liquidity)
	return Amount1Delta(sqrtA, sqrtB, l, true).ToBig()
}

// NextSqrtPriceFromInput - цена после внесения amountIn
func NextSqrtPriceFromInput(sqrtPrice, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPrice.IsZero() || liquidity.IsZero() {
		return nil, ErrDivisionByZero
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0RoundingUp(sqrtPrice, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1RoundingDown(sqrtPrice, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput - цена после вывода amountOut
func NextSqrtPriceFromOutput(sqrtPrice, liquidity, amountOut *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtPrice.IsZero() || liquidity.IsZero() {
		return nil, ErrDivisionByZero
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount1RoundingDown(sqrtPrice, liquidity, amountOut, false)
	}
	return nextSqrtPriceFromAmount0RoundingUp(sqrtPrice, liquidity, amountOut, false)
}

func nextSqrtPriceFromAmount0RoundingUp(sqrtPrice, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if amount.IsZero() {
		return sqrtPrice.Clone(), nil
	}
	numerator := new(uint256.Int).Lsh(liquidity, 96)
	product, mulOverflow := new(uint256.Int).MulOverflow(amount, sqrtPrice)

	if add {
		if !mulOverflow {
			denominator, addOverflow := new(uint256.Int).AddOverflow(numerator, product)
			if !addOverflow {
				return MulDivRoundingUp(numerator, sqrtPrice, denominator)
			}
		}
		fallback := new(uint256.Int).Div(numerator, sqrtPrice)
		fallback.Add(fallback, amount)
		z, err := DivRoundingUp(numerator, fallback)
		if err != nil {
			return nil, err
		}
		if z.Gt(maxUint160) {
			return nil, ErrMathOverflow
		}
		return z, nil
	}

	if mulOverflow || !numerator.Gt(product) {
		return nil, ErrMathOverflow
	}
	denominator := new(uint256.Int).Sub(numerator, product)
	return MulDivRoundingUp(numerator, sqrtPrice, denominator)
}

func nextSqrtPriceFromAmount1RoundingDown(sqrtPrice, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	small := !amount.Gt(maxUint160)

	if add {
		var quotient *uint256.Int
		if small {
			quotient = new(uint256.Int).Lsh(amount, 96)
			quotient.Div(quotient, liquidity)
		} else {
			quotient = mulDivOrZero(amount, q96, liquidity, false)
		}
		z, overflow := new(uint256.Int).AddOverflow(sqrtPrice, quotient)
		if overflow || z.Gt(maxUint160) {
			return nil, ErrMathOverflow
		}
		return z, nil
	}

	var quotient *uint256.Int
	if small {
		q, err := DivRoundingUp(new(uint256.Int).Lsh(amount, 96), liquidity)
		if err != nil {
			return nil, err
		}
		quotient = q
	} else {
		quotient = mulDivOrZero(amount, q96, liquidity, true)
	}
	if !sqrtPrice.Gt(quotient) {
		return nil, ErrMathOverflow
	}
	return new(uint256.Int).Sub(sqrtPrice, quotient), nil
}

// AmountsForLiquidity - суммы token0/token1 для ликвидности в диапазоне тиков при цене sqrtPrice
func AmountsForLiquidity(sqrtPrice *uint256.Int, tickLower, tickUpper int32, liquidity *uint256.Int, roundUp bool) (*uint256.Int, *uint256.Int, error) {
	sqrtA, err := SqrtRatioAtTick(tickLower)
	if err != nil {
		return nil, nil, err
	}
	sqrtB, err := SqrtRatioAtTick(tickUpper)
	if err != nil {
		return nil, nil, err
	}
	if sqrtA.Gt(sqrtB) {
		sqrtA, sqrtB = sqrtB, sqrtA
	}

	amount0 := new(uint256.Int)
	switch {
	case !sqrtPrice.Gt(sqrtA):
		amount0 = Amount0Delta(sqrtA, sqrtB, liquidity, roundUp)
	case sqrtPrice.Lt(sqrtB):
		amount0 = Amount0Delta(sqrtPrice, sqrtB, liquidity, roundUp)
	}

	amount1 := new(uint256.Int)
	switch {
	case sqrtPrice.Lt(sqrtA):
	case sqrtPrice.Lt(sqrtB):
		amount1 = Amount1Delta(sqrtA, sqrtPrice, liquidity, roundUp)
	default:
		amount1 = Amount1Delta(sqrtA, sqrtB, liquidity, roundUp)
	}
	return amount0, amount1, nil
}
