package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"tradecore/internal/pool"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var testPool = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")

func newTestPool(t *testing.T) *pool.Profiler {
	t.Helper()
	p, err := pool.NewProfiler(pool.Config{Address: testPool, Fee: 3000, TickSpacing: 60})
	if err != nil {
		t.Fatalf("NewProfiler: %v", err)
	}
	return p
}

func initializedPool(t *testing.T) *pool.Profiler {
	t.Helper()
	p := newTestPool(t)
	price, err := pool.EncodeSqrtRatioX96(uint256.NewInt(1), uint256.NewInt(10))
	if err != nil {
		t.Fatalf("EncodeSqrtRatioX96: %v", err)
	}
	if err := p.Initialize(price); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

// ============================================================
// PoolSnapshotRepository Tests
// ============================================================

func TestNewPoolSnapshotRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewPoolSnapshotRepository(db)
	if repo == nil {
		t.Fatal("NewPoolSnapshotRepository вернул nil")
	}
	if repo.db != db {
		t.Error("db установлен неверно")
	}
}

func TestPoolSnapshotRepositorySave(t *testing.T) {
	snapshot := initializedPool(t).ExtractSnapshot()
	snapshot.BlockPosition = pool.BlockPosition{Number: 12_376_729, TransactionIndex: 3, LogIndex: 17}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO pool_snapshots .+ ON CONFLICT \(pool_address\) DO UPDATE`).
					WithArgs(testPool.Hex(), int64(12_376_729), int64(3), int64(17), sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO pool_snapshots`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			err = NewPoolSnapshotRepository(db).Save(context.Background(), snapshot)
			if tt.expectError != (err != nil) {
				t.Errorf("Save() error = %v, ожидалась ошибка: %v", err, tt.expectError)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPoolSnapshotRepositoryRestore(t *testing.T) {
	source := initializedPool(t)
	data, err := pool.MarshalSnapshot(source.ExtractSnapshot())
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}

	tests := []struct {
		name         string
		mockSetup    func(mock sqlmock.Sqlmock)
		wantRestored bool
		expectError  bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT data FROM pool_snapshots WHERE pool_address = \$1`).
					WithArgs(testPool.Hex()).
					WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
			},
			wantRestored: true,
		},
		{
			name: "no snapshot yet",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT data FROM pool_snapshots`).
					WithArgs(testPool.Hex()).
					WillReturnError(sql.ErrNoRows)
			},
		},
		{
			name: "corrupted data",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT data FROM pool_snapshots`).
					WithArgs(testPool.Hex()).
					WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"state":`)))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			target := newTestPool(t)
			restored, err := NewPoolSnapshotRepository(db).Restore(context.Background(), target)
			if tt.expectError != (err != nil) {
				t.Fatalf("Restore() error = %v, ожидалась ошибка: %v", err, tt.expectError)
			}
			if restored != tt.wantRestored {
				t.Errorf("Restore() = %v, ожидалось %v", restored, tt.wantRestored)
			}
			if tt.wantRestored {
				if !target.IsInitialized() {
					t.Error("пул должен быть инициализирован после восстановления")
				}
				if target.CurrentTick() != source.CurrentTick() {
					t.Errorf("CurrentTick = %d, ожидалось %d", target.CurrentTick(), source.CurrentTick())
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPoolSnapshotRepositoryList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"pool_address", "block_number", "transaction_index", "log_index", "updated_at"}).
		AddRow(testPool.Hex(), int64(100), int64(2), int64(5), now)
	mock.ExpectQuery(`SELECT .+ FROM pool_snapshots ORDER BY pool_address`).WillReturnRows(rows)

	list, err := NewPoolSnapshotRepository(db).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", len(list))
	}
	want := pool.BlockPosition{Number: 100, TransactionIndex: 2, LogIndex: 5}
	if list[0].Address != testPool || list[0].Block != want {
		t.Errorf("получено %+v", list[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPoolSnapshotRepositoryDelete(t *testing.T) {
	tests := []struct {
		name        string
		affected    int64
		expectError error
	}{
		{"success", 1, nil},
		{"not found", 0, ErrPoolSnapshotNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			mock.ExpectExec(`DELETE FROM pool_snapshots WHERE pool_address = \$1`).
				WithArgs(testPool.Hex()).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err = NewPoolSnapshotRepository(db).Delete(context.Background(), testPool)
			if !errors.Is(err, tt.expectError) {
				t.Errorf("Delete() error = %v, ожидалось %v", err, tt.expectError)
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	for range schema {
		mock.ExpectExec(`CREATE (TABLE|INDEX) IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMigrateRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pool_snapshots`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	if err := Migrate(context.Background(), db); err == nil {
		t.Fatal("ожидалась ошибка миграции")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
