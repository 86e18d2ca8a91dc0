package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/msgbus"

	"github.com/DATA-DOG/go-sqlmock"
)

func testAccountState(eventID string, total float64, ts models.UnixNanos) models.AccountState {
	return models.AccountState{
		AccountID:    "SIM-001",
		AccountType:  models.AccountTypeMargin,
		BaseCurrency: &models.USD,
		Balances:     []models.AccountBalance{models.BalanceFromTotal(models.NewMoney(total, models.USD))},
		EventID:      eventID,
		TsEvent:      ts,
	}
}

// ============================================================
// AccountStateRepository Tests
// ============================================================

func TestAccountStateRepositoryAppend(t *testing.T) {
	tests := []struct {
		name         string
		state        models.AccountState
		mockSetup    func(mock sqlmock.Sqlmock)
		wantInserted bool
		expectError  bool
	}{
		{
			name:  "success",
			state: testAccountState("E-1", 1000, 42),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO account_states .+ ON CONFLICT \(event_id\) DO NOTHING`).
					WithArgs("SIM-001", "E-1", int64(42), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			wantInserted: true,
		},
		{
			name:  "duplicate event",
			state: testAccountState("E-1", 1000, 42),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO account_states`).
					WithArgs("SIM-001", "E-1", int64(42), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
		},
		{
			name:  "empty event id gets uuid",
			state: testAccountState("", 1000, 42),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO account_states`).
					WithArgs("SIM-001", sqlmock.AnyArg(), int64(42), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			wantInserted: true,
		},
		{
			name:  "database error",
			state: testAccountState("E-2", 1000, 42),
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO account_states`).
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

			inserted, err := NewAccountStateRepository(db).Append(context.Background(), tt.state)
			if tt.expectError != (err != nil) {
				t.Fatalf("Append() error = %v, ожидалась ошибка: %v", err, tt.expectError)
			}
			if inserted != tt.wantInserted {
				t.Errorf("Append() = %v, ожидалось %v", inserted, tt.wantInserted)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestAccountStateRepositoryLatest(t *testing.T) {
	st := testAccountState("E-7", 1234.5, 99)
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT data FROM account_states WHERE account_id = \$1 ORDER BY ts_event DESC`).
					WithArgs("SIM-001").
					WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
			},
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT data FROM account_states`).
					WithArgs("SIM-001").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrAccountStateNotFound,
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

			got, err := NewAccountStateRepository(db).Latest(context.Background(), "SIM-001")
			if !errors.Is(err, tt.expectError) {
				t.Fatalf("Latest() error = %v, ожидалось %v", err, tt.expectError)
			}
			if tt.expectError != nil {
				return
			}
			if got.EventID != "E-7" || got.AccountType != models.AccountTypeMargin {
				t.Errorf("получено %+v", got)
			}
			b, ok := got.Balance("USD")
			if !ok || b.Total.String() != "1234.50 USD" {
				t.Errorf("баланс USD = %+v", b)
			}
		})
	}
}

func TestAccountStateRepositoryHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	newer, _ := json.Marshal(testAccountState("E-2", 900, 2))
	older, _ := json.Marshal(testAccountState("E-1", 1000, 1))
	mock.ExpectQuery(`SELECT data FROM account_states .+ LIMIT \$2`).
		WithArgs("SIM-001", 10).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(newer).AddRow(older))

	history, err := NewAccountStateRepository(db).History(context.Background(), "SIM-001", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].EventID != "E-2" || history[1].EventID != "E-1" {
		t.Errorf("получено %+v", history)
	}
}

func TestAccountStateRepositoryAccountIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT account_id FROM account_states`).
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow("BITMEX-001").AddRow("SIM-001"))

	ids, err := NewAccountStateRepository(db).AccountIDs(context.Background())
	if err != nil {
		t.Fatalf("AccountIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "BITMEX-001" {
		t.Errorf("получено %v", ids)
	}
}

func TestAccountStateRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM account_states WHERE ts_event < \$1`).
		WithArgs(int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := NewAccountStateRepository(db).DeleteOlderThan(context.Background(), 1000)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 7 {
		t.Errorf("удалено %d, ожидалось 7", n)
	}
}

// ============================================================
// AccountStateRecorder Tests
// ============================================================

func TestAccountStateRecorder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO account_states`).
		WithArgs("SIM-001", "E-1", int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := NewAccountStateRecorder(NewAccountStateRepository(db), 1)
	bus := msgbus.New("test")
	if _, err := rec.Subscribe(bus, "events.account.*"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	st := testAccountState("E-1", 10, 5)
	bus.Publish("events.account.SIM-001", &st)
	// очередь на один элемент: второе событие отбрасывается
	bus.Publish("events.account.SIM-001", st)
	bus.Publish("events.account.SIM-001", "garbage")

	if rec.Dropped() != 1 {
		t.Errorf("Dropped() = %d, ожидалось 1", rec.Dropped())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for mock.ExpectationsWereMet() != nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
