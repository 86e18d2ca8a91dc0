package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTicks - нарушен порядок, шаг или границы тиков
	ErrInvalidTicks = errors.New("invalid ticks")
	// ErrInsufficientLiquidity - burn больше ликвидности позиции
	ErrInsufficientLiquidity = errors.New("insufficient position liquidity")
	// ErrUninitialized - операция до Initialize
	ErrUninitialized = errors.New("pool is not initialized")
	// ErrAlreadyInitialized - повторный Initialize
	ErrAlreadyInitialized = errors.New("pool already initialized")
	// ErrNoLiquidity - flash при нулевой активной ликвидности
	ErrNoLiquidity = errors.New("no liquidity")

	ErrTickOutOfBounds     = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfRange = errors.New("sqrt price out of range")
	ErrMathOverflow        = errors.New("math overflow")
	ErrDivisionByZero      = errors.New("division by zero")
	ErrLiquidityOverflow   = errors.New("liquidity overflow")
	ErrLiquidityUnderflow  = errors.New("liquidity underflow")
	ErrMaxLiquidityPerTick = errors.New("liquidity exceeds maximum per tick")
	ErrPriceLimit          = errors.New("invalid sqrt price limit")
	ErrZeroAmount          = errors.New("amount specified is zero")
)

// TickRangeError - детали отклонённого диапазона тиков; Unwrap даёт ErrInvalidTicks
type TickRangeError struct {
	Lower  int32
	Upper  int32
	Reason string
}

func (e *TickRangeError) Error() string {
	return fmt.Sprintf("invalid ticks [%d, %d]: %s", e.Lower, e.Upper, e.Reason)
}

func (e *TickRangeError) Unwrap() error {
	return ErrInvalidTicks
}

// BurnError - позиция держит меньше ликвидности, чем просят сжечь
type BurnError struct {
	Key       string
	Liquidity string
	Requested string
}

func (e *BurnError) Error() string {
	return fmt.Sprintf("position %s liquidity %s is less than the requested burn amount of %s",
		e.Key, e.Liquidity, e.Requested)
}

func (e *BurnError) Unwrap() error {
	return ErrInsufficientLiquidity
}
