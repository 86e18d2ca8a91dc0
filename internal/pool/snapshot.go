package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot - полное состояние пула на позиции последнего события
type Snapshot struct {
	Address       common.Address `json:"address"`
	Fee           uint32         `json:"fee"`
	TickSpacing   int32          `json:"tick_spacing"`
	State         State          `json:"state"`
	Positions     []Position     `json:"positions"`
	Ticks         []Tick         `json:"ticks"`
	Analytics     Analytics      `json:"analytics"`
	BlockPosition BlockPosition  `json:"block_position"`
}

// ExtractSnapshot снимает копию состояния; позиции по ключу, тики по значению
func (p *Profiler) ExtractSnapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state := p.state
	state.Liquidity = p.ticks.Liquidity

	s := Snapshot{
		Address:     p.cfg.Address,
		Fee:         p.cfg.Fee,
		TickSpacing: p.cfg.TickSpacing,
		State:       state,
		Positions:   p.filterPositions(func(*Position) bool { return true }),
		Ticks:       p.ticks.Ticks(),
		Analytics:   p.analytics,
	}
	if p.lastProcessed != nil {
		s.BlockPosition = *p.lastProcessed
	}
	return s
}

// RestoreSnapshot заменяет состояние пула снимком
func (p *Profiler) RestoreSnapshot(s Snapshot) error {
	if s.TickSpacing != p.cfg.TickSpacing {
		return fmt.Errorf("snapshot tick spacing %d does not match pool %d", s.TickSpacing, p.cfg.TickSpacing)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = s.State
	p.state.Liquidity.Clear()
	p.analytics = s.Analytics

	p.positions = make(map[string]*Position, len(s.Positions))
	for i := range s.Positions {
		pos := s.Positions[i]
		p.positions[pos.Key()] = &pos
	}

	p.ticks = NewTickMap(p.cfg.TickSpacing)
	for _, t := range s.Ticks {
		p.ticks.RestoreTick(t)
	}
	p.ticks.Liquidity = s.State.Liquidity

	last := s.BlockPosition
	p.lastProcessed = &last
	p.initialized = true
	p.analytics.LiquidityUtilizationRate = p.utilizationRate()

	p.log.Info("pool restored from snapshot",
		zap.Uint64("block", last.Number),
		zap.Int("positions", len(s.Positions)),
		zap.Int("ticks", len(s.Ticks)))
	return nil
}

// MarshalSnapshot кодирует снимок в JSON
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(&s)
}

// UnmarshalSnapshot разбирает снимок из JSON
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode pool snapshot: %w", err)
	}
	return s, nil
}
