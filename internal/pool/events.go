package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind - тип события пула
type EventKind uint8

const (
	EventInitialize EventKind = iota + 1
	EventMint
	EventBurn
	EventSwap
	EventCollect
	EventFlash
)

func (k EventKind) String() string {
	switch k {
	case EventInitialize:
		return "initialize"
	case EventMint:
		return "mint"
	case EventBurn:
		return "burn"
	case EventSwap:
		return "swap"
	case EventCollect:
		return "collect"
	case EventFlash:
		return "flash"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// BlockPosition - положение лога в цепочке
type BlockPosition struct {
	Number           uint64      `json:"number"`
	TransactionHash  common.Hash `json:"transaction_hash"`
	TransactionIndex uint32      `json:"transaction_index"`
	LogIndex         uint32      `json:"log_index"`
}

// After - позиция строго позже o
func (p BlockPosition) After(o BlockPosition) bool {
	if p.Number != o.Number {
		return p.Number > o.Number
	}
	if p.TransactionIndex != o.TransactionIndex {
		return p.TransactionIndex > o.TransactionIndex
	}
	return p.LogIndex > o.LogIndex
}

func (p BlockPosition) String() string {
	return fmt.Sprintf("%d/%d/%d", p.Number, p.TransactionIndex, p.LogIndex)
}

// Event - событие пула для Profiler.Process
type Event interface {
	Kind() EventKind
	Position() BlockPosition
}

// Initialize - установка начальной цены
type Initialize struct {
	Block        BlockPosition
	SqrtPriceX96 uint256.Int
	Tick         int32
}

func (e *Initialize) Kind() EventKind         { return EventInitialize }
func (e *Initialize) Position() BlockPosition { return e.Block }

// LiquidityUpdate - mint или burn
type LiquidityUpdate struct {
	Type      EventKind
	Block     BlockPosition
	Owner     common.Address
	Liquidity uint256.Int
	Amount0   uint256.Int
	Amount1   uint256.Int
	TickLower int32
	TickUpper int32
}

func (e *LiquidityUpdate) Kind() EventKind         { return e.Type }
func (e *LiquidityUpdate) Position() BlockPosition { return e.Block }

// Swap - обмен; знаковые суммы, положительная - приток в пул
type Swap struct {
	Block        BlockPosition
	Sender       common.Address
	Recipient    common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 uint256.Int
	Liquidity    uint256.Int
	Tick         int32
}

func (e *Swap) Kind() EventKind         { return EventSwap }
func (e *Swap) Position() BlockPosition { return e.Block }

// FeeCollect - вывод накопленных сумм позиции
type FeeCollect struct {
	Block     BlockPosition
	Owner     common.Address
	Amount0   uint256.Int
	Amount1   uint256.Int
	TickLower int32
	TickUpper int32
}

func (e *FeeCollect) Kind() EventKind         { return EventCollect }
func (e *FeeCollect) Position() BlockPosition { return e.Block }

// Flash - заём с возвратом и комиссией Paid0/Paid1
type Flash struct {
	Block     BlockPosition
	Sender    common.Address
	Recipient common.Address
	Amount0   uint256.Int
	Amount1   uint256.Int
	Paid0     uint256.Int
	Paid1     uint256.Int
}

func (e *Flash) Kind() EventKind         { return EventFlash }
func (e *Flash) Position() BlockPosition { return e.Block }
