package pool

// fullmath.go - целочисленная арифметика пула
//
// Назначение:
// Беззнаковые u128/u160/u256 значения хранятся в uint256.Int; знаковые
// int128/int256 (liquidity_net, дельты ликвидности) - там же, в дополнительном
// коде, как это делает EVM.
//
// Функции:
// - MulDiv / MulDivRoundingUp: floor/ceil(a*b/d) с 512-битным произведением
// - DivRoundingUp: ceil(a/d)
// - AddDelta: u128 + int128 с контролем переполнения
// - toBigSigned / fromBigSigned: перевод знаковых значений в math/big и обратно

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	one        = uint256.NewInt(1)
	q96        = new(uint256.Int).Lsh(one, 96)
	q128       = new(uint256.Int).Lsh(one, 128)
	q192       = new(uint256.Int).Lsh(one, 192)
	maxUint128 = new(uint256.Int).Sub(q128, one)
	maxUint160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(one, 160), one)
	maxUint256 = new(uint256.Int).SetAllOne()
	maxInt256  = new(uint256.Int).Rsh(maxUint256, 1)

	feeDenominator = uint256.NewInt(1_000_000)
)

// Q96 возвращает копию 2^96
func Q96() *uint256.Int { return q96.Clone() }

// Q128 возвращает копию 2^128
func Q128() *uint256.Int { return q128.Clone() }

// MaxUint128 возвращает копию 2^128-1
func MaxUint128() *uint256.Int { return maxUint128.Clone() }

// MulDiv - floor(a*b/d) без потери точности в промежуточном произведении
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrMathOverflow
	}
	return z, nil
}

// MulDivRoundingUp - ceil(a*b/d)
func MulDivRoundingUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(a, b, d).IsZero() {
		if z.Eq(maxUint256) {
			return nil, ErrMathOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

// DivRoundingUp - ceil(a/d)
func DivRoundingUp(a, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z := new(uint256.Int).Div(a, d)
	if !new(uint256.Int).Mod(a, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

// mulDivOrZero повторяет поведение контракта для дельт: переполнение даёт ноль
func mulDivOrZero(a, b, d *uint256.Int, roundUp bool) *uint256.Int {
	var (
		z   *uint256.Int
		err error
	)
	if roundUp {
		z, err = MulDivRoundingUp(a, b, d)
	} else {
		z, err = MulDiv(a, b, d)
	}
	if err != nil {
		return new(uint256.Int)
	}
	return z
}

// AddDelta прибавляет к u128 знаковую дельту (int128 в дополнительном коде)
func AddDelta(x, delta *uint256.Int) (*uint256.Int, error) {
	if delta.Sign() < 0 {
		abs := new(uint256.Int).Neg(delta)
		if x.Lt(abs) {
			return nil, ErrLiquidityUnderflow
		}
		return new(uint256.Int).Sub(x, abs), nil
	}
	z := new(uint256.Int).Add(x, delta)
	if z.Gt(maxUint128) {
		return nil, ErrLiquidityOverflow
	}
	return z, nil
}

// addSaturating128 - x+y с насыщением на 2^128-1
func addSaturating128(x, y *uint256.Int) uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow || z.Gt(maxUint128) {
		return *maxUint128
	}
	return *z
}

// toBigSigned интерпретирует x как int256 в дополнительном коде
func toBigSigned(x *uint256.Int) *big.Int {
	if x.Sign() >= 0 {
		return x.ToBig()
	}
	b := new(uint256.Int).Neg(x).ToBig()
	return b.Neg(b)
}

// fromBigSigned переводит знаковое big.Int в дополнительный код; false при выходе за int256
func fromBigSigned(b *big.Int) (*uint256.Int, bool) {
	if b.BitLen() > 255 {
		return nil, false
	}
	z, _ := uint256.FromBig(b)
	return z, true
}

// negate возвращает -x в дополнительном коде
func negate(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Neg(x)
}
