package pool

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry - профайлеры пулов по адресу
type Registry struct {
	mu    sync.RWMutex
	pools map[common.Address]*Profiler
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[common.Address]*Profiler)}
}

// Add регистрирует профайлер; адрес должен быть уникален
func (r *Registry) Add(p *Profiler) error {
	addr := p.Config().Address
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[addr]; ok {
		return fmt.Errorf("pool %s already registered", addr.Hex())
	}
	r.pools[addr] = p
	return nil
}

func (r *Registry) Get(addr common.Address) (*Profiler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[addr]
	return p, ok
}

// All - профайлеры, упорядоченные по адресу
func (r *Registry) All() []*Profiler {
	r.mu.RLock()
	out := make([]*Profiler, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Config().Address, out[j].Config().Address
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
