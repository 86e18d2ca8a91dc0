package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradecore/internal/cache"
	"tradecore/internal/models"

	"github.com/lib/pq"
)

// Ошибки репозитория снимков позиций
var (
	ErrPositionSnapshotNotFound = errors.New("position snapshot not found")
)

// PositionSnapshotRecord - блоб снимков одной позиции в том виде, в каком
// его держит кэш: JSON-объекты подряд без разделителя
type PositionSnapshotRecord struct {
	PositionID   models.PositionID
	InstrumentID models.InstrumentID
	Count        int
	Data         []byte
	UpdatedAt    time.Time
}

// PositionSnapshotRepository - работа с таблицей position_snapshots
type PositionSnapshotRepository struct {
	db *sql.DB
}

// NewPositionSnapshotRepository создает новый экземпляр репозитория
func NewPositionSnapshotRepository(db *sql.DB) *PositionSnapshotRepository {
	return &PositionSnapshotRepository{db: db}
}

// Save записывает блоб целиком, заменяя предыдущий
func (r *PositionSnapshotRepository) Save(ctx context.Context, rec *PositionSnapshotRecord) error {
	query := `
		INSERT INTO position_snapshots (position_id, instrument_id, snapshot_count, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (position_id) DO UPDATE
		SET instrument_id = EXCLUDED.instrument_id,
			snapshot_count = EXCLUDED.snapshot_count,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`

	rec.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		string(rec.PositionID),
		rec.InstrumentID.String(),
		rec.Count,
		rec.Data,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position snapshots %s: %w", rec.PositionID, err)
	}
	return nil
}

// Get возвращает блоб снимков позиции
func (r *PositionSnapshotRepository) Get(ctx context.Context, id models.PositionID) (*PositionSnapshotRecord, error) {
	query := `
		SELECT position_id, instrument_id, snapshot_count, data, updated_at
		FROM position_snapshots
		WHERE position_id = $1`

	rec, err := scanPositionSnapshot(r.db.QueryRowContext(ctx, query, string(id)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionSnapshotNotFound
		}
		return nil, err
	}
	return rec, nil
}

// GetMany возвращает блобы указанных позиций; отсутствующие пропускаются
func (r *PositionSnapshotRepository) GetMany(ctx context.Context, ids []models.PositionID) ([]*PositionSnapshotRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = string(id)
	}

	query := `
		SELECT position_id, instrument_id, snapshot_count, data, updated_at
		FROM position_snapshots
		WHERE position_id = ANY($1)
		ORDER BY position_id`

	return r.query(ctx, query, pq.Array(keys))
}

// GetByInstrument возвращает блобы всех позиций инструмента
func (r *PositionSnapshotRepository) GetByInstrument(ctx context.Context, instrumentID models.InstrumentID) ([]*PositionSnapshotRecord, error) {
	query := `
		SELECT position_id, instrument_id, snapshot_count, data, updated_at
		FROM position_snapshots
		WHERE instrument_id = $1
		ORDER BY position_id`

	return r.query(ctx, query, instrumentID.String())
}

// Delete удаляет снимки позиции
func (r *PositionSnapshotRepository) Delete(ctx context.Context, id models.PositionID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM position_snapshots WHERE position_id = $1`, string(id))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrPositionSnapshotNotFound
	}
	return nil
}

// ============================================================
// Синхронизация с кэшем
// ============================================================

// Persist сохраняет текущий блоб снимков позиции из кэша.
// Позиция без снимков удаляется из таблицы.
func (r *PositionSnapshotRepository) Persist(ctx context.Context, c *cache.Cache, id models.PositionID) error {
	inst, ok := c.PositionSnapshotInstrument(id)
	if !ok {
		err := r.Delete(ctx, id)
		if errors.Is(err, ErrPositionSnapshotNotFound) {
			return nil
		}
		return err
	}

	return r.Save(ctx, &PositionSnapshotRecord{
		PositionID:   id,
		InstrumentID: inst,
		Count:        c.PositionSnapshotCount(id),
		Data:         c.PositionSnapshotBytes(id),
	})
}

// LoadInto восстанавливает снимки позиций инструмента в кэш.
// Возвращает количество загруженных позиций.
func (r *PositionSnapshotRepository) LoadInto(ctx context.Context, c *cache.Cache, instrumentID models.InstrumentID) (int, error) {
	recs, err := r.GetByInstrument(ctx, instrumentID)
	if err != nil {
		return 0, err
	}
	for _, rec := range recs {
		c.ReplacePositionSnapshots(rec.PositionID, rec.InstrumentID, rec.Data, rec.Count)
	}
	return len(recs), nil
}

func (r *PositionSnapshotRepository) query(ctx context.Context, query string, args ...any) ([]*PositionSnapshotRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PositionSnapshotRecord
	for rows.Next() {
		rec, err := scanPositionSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPositionSnapshot(row rowScanner) (*PositionSnapshotRecord, error) {
	var (
		rec  PositionSnapshotRecord
		id   string
		inst string
	)
	if err := row.Scan(&id, &inst, &rec.Count, &rec.Data, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	instrumentID, err := models.ParseInstrumentID(inst)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", id, err)
	}
	rec.PositionID = models.PositionID(id)
	rec.InstrumentID = instrumentID
	return &rec, nil
}
