package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradecore/internal/pool"

	"github.com/ethereum/go-ethereum/common"
)

// Ошибки репозитория снимков пулов
var (
	ErrPoolSnapshotNotFound = errors.New("pool snapshot not found")
)

// PoolSnapshotInfo - заголовок сохранённого снимка без тела
type PoolSnapshotInfo struct {
	Address   common.Address
	Block     pool.BlockPosition
	UpdatedAt time.Time
}

// PoolSnapshotRepository - последний снимок каждого пула (таблица pool_snapshots)
type PoolSnapshotRepository struct {
	db *sql.DB
}

// NewPoolSnapshotRepository создает новый экземпляр репозитория
func NewPoolSnapshotRepository(db *sql.DB) *PoolSnapshotRepository {
	return &PoolSnapshotRepository{db: db}
}

// Save заменяет снимок пула; более старый блок не перетирает новый
func (r *PoolSnapshotRepository) Save(ctx context.Context, s pool.Snapshot) error {
	data, err := pool.MarshalSnapshot(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pool_snapshots (pool_address, block_number, transaction_index, log_index, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pool_address) DO UPDATE
		SET block_number = EXCLUDED.block_number,
			transaction_index = EXCLUDED.transaction_index,
			log_index = EXCLUDED.log_index,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
		WHERE (pool_snapshots.block_number, pool_snapshots.transaction_index, pool_snapshots.log_index)
			<= (EXCLUDED.block_number, EXCLUDED.transaction_index, EXCLUDED.log_index)`

	_, err = r.db.ExecContext(ctx, query,
		s.Address.Hex(),
		int64(s.BlockPosition.Number),
		int64(s.BlockPosition.TransactionIndex),
		int64(s.BlockPosition.LogIndex),
		data,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save pool snapshot %s: %w", s.Address.Hex(), err)
	}
	return nil
}

// Latest возвращает сохранённый снимок пула
func (r *PoolSnapshotRepository) Latest(ctx context.Context, address common.Address) (pool.Snapshot, error) {
	query := `SELECT data FROM pool_snapshots WHERE pool_address = $1`

	var data []byte
	err := r.db.QueryRowContext(ctx, query, address.Hex()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pool.Snapshot{}, ErrPoolSnapshotNotFound
		}
		return pool.Snapshot{}, err
	}
	return pool.UnmarshalSnapshot(data)
}

// Restore загружает снимок пула профайлера и применяет его.
// Возвращает false, если снимка ещё нет.
func (r *PoolSnapshotRepository) Restore(ctx context.Context, p *pool.Profiler) (bool, error) {
	s, err := r.Latest(ctx, p.Config().Address)
	if err != nil {
		if errors.Is(err, ErrPoolSnapshotNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := p.RestoreSnapshot(s); err != nil {
		return false, err
	}
	return true, nil
}

// List возвращает заголовки всех снимков
func (r *PoolSnapshotRepository) List(ctx context.Context) ([]PoolSnapshotInfo, error) {
	query := `
		SELECT pool_address, block_number, transaction_index, log_index, updated_at
		FROM pool_snapshots
		ORDER BY pool_address`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PoolSnapshotInfo
	for rows.Next() {
		var (
			info         PoolSnapshotInfo
			address      string
			block        int64
			txIdx, logIx int64
		)
		if err := rows.Scan(&address, &block, &txIdx, &logIx, &info.UpdatedAt); err != nil {
			return nil, err
		}
		info.Address = common.HexToAddress(address)
		info.Block = pool.BlockPosition{
			Number:           uint64(block),
			TransactionIndex: uint32(txIdx),
			LogIndex:         uint32(logIx),
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete удаляет снимок пула
func (r *PoolSnapshotRepository) Delete(ctx context.Context, address common.Address) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pool_snapshots WHERE pool_address = $1`, address.Hex())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrPoolSnapshotNotFound
	}
	return nil
}
