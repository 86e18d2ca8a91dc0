package portfolio

import (
	"tradecore/internal/models"
	"tradecore/pkg/utils"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotTally - накопленный реализованный PnL снимков одной позиции.
// Разобранная часть блоба запоминается смещением, новые снимки
// дочитываются с него.
type snapshotTally struct {
	sum    decimal.Decimal
	last   decimal.Decimal
	count  int
	offset int
}

// snapshotPnL - поле снимка, нужное для расчёта
type snapshotPnL struct {
	RealizedPnL *models.Money `json:"realized_pnl"`
}

// refreshSnapshots дочитывает новые снимки позиции. Если снимков в кэше
// стало меньше, чем разобрано (очистка), счётчики строятся заново.
func (s *state) refreshSnapshots(id models.PositionID) *snapshotTally {
	count := s.cache.PositionSnapshotCount(id)
	t := s.snapshots[id]
	if t != nil && count < t.count {
		s.log.Debug("position snapshots purged, rebuilding", utils.PositionID(string(id)),
			utils.Int("processed", t.count), utils.Int("current", count))
		t = nil
	}
	if t == nil {
		t = &snapshotTally{}
		s.snapshots[id] = t
	}
	if count == t.count {
		return t
	}

	blob := s.cache.PositionSnapshotBytes(id)
	if t.offset > len(blob) {
		*t = snapshotTally{}
	}

	objects, consumed := splitObjects(blob[t.offset:])
	for _, raw := range objects {
		t.count++
		var snap snapshotPnL
		if err := json.Unmarshal(raw, &snap); err != nil {
			s.log.Warn("skip malformed position snapshot", utils.PositionID(string(id)), utils.Err(err))
			continue
		}
		if snap.RealizedPnL == nil || snap.RealizedPnL.Currency.Code == "" {
			continue
		}
		pnl := snap.RealizedPnL.AsDecimal()
		t.sum = t.sum.Add(pnl)
		t.last = pnl
	}
	t.offset += consumed
	return t
}

// splitObjects выделяет подряд идущие JSON-объекты верхнего уровня.
// Скобки внутри строк не считаются, экранированная кавычка строку не
// закрывает. consumed - длина префикса, занятого целыми объектами.
func splitObjects(data []byte) (objects [][]byte, consumed int) {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, c := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				objects = append(objects, data[start:i+1])
				consumed = i + 1
				start = -1
			}
		}
	}
	return objects, consumed
}
