package cache

import (
	"fmt"
	"sort"

	"tradecore/internal/models"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotPosition сохраняет копию позиции в JSON-блоб её идентификатора.
// Копия получает id вида "{id}-{uuid}", снимки склеиваются без разделителя.
func (c *Cache) SnapshotPosition(p *models.Position) (models.PositionID, error) {
	snap := p.Clone()
	snap.ID = models.PositionID(fmt.Sprintf("%s-%s", p.ID, uuid.NewString()))

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal position snapshot %s: %w", p.ID, err)
	}

	c.mu.Lock()
	c.snapshots[p.ID] = append(c.snapshots[p.ID], data...)
	c.snapshotCount[p.ID]++
	c.snapshotInst[p.ID] = p.InstrumentID
	c.mu.Unlock()

	return snap.ID, nil
}

// PositionSnapshotBytes - копия блоба снимков позиции
func (c *Cache) PositionSnapshotBytes(id models.PositionID) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.snapshots[id]...)
}

func (c *Cache) PositionSnapshotCount(id models.PositionID) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotCount[id]
}

// PositionSnapshotIDs - позиции инструмента, у которых есть снимки
func (c *Cache) PositionSnapshotIDs(instrumentID models.InstrumentID) []models.PositionID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []models.PositionID
	for id, inst := range c.snapshotInst {
		if inst == instrumentID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PurgePositionSnapshots удаляет все снимки позиции
func (c *Cache) PurgePositionSnapshots(id models.PositionID) {
	c.mu.Lock()
	delete(c.snapshots, id)
	delete(c.snapshotCount, id)
	delete(c.snapshotInst, id)
	c.mu.Unlock()
}

// ReplacePositionSnapshots заменяет блоб снимков (восстановление из хранилища)
func (c *Cache) ReplacePositionSnapshots(id models.PositionID, instrumentID models.InstrumentID, blob []byte, count int) {
	c.mu.Lock()
	c.snapshots[id] = append([]byte(nil), blob...)
	c.snapshotCount[id] = count
	c.snapshotInst[id] = instrumentID
	c.mu.Unlock()
}

// PositionSnapshotInstrument - инструмент, под которым записаны снимки позиции
func (c *Cache) PositionSnapshotInstrument(id models.PositionID) (models.InstrumentID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.snapshotInst[id]
	return inst, ok
}
