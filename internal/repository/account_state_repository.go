package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"

	"tradecore/internal/models"
	"tradecore/internal/msgbus"
	"tradecore/pkg/utils"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория состояний счетов
var (
	ErrAccountStateNotFound = errors.New("account state not found")
)

// AccountStateRepository - журнал состояний счетов (таблица account_states)
type AccountStateRepository struct {
	db *sql.DB
}

// NewAccountStateRepository создает новый экземпляр репозитория
func NewAccountStateRepository(db *sql.DB) *AccountStateRepository {
	return &AccountStateRepository{db: db}
}

// Append добавляет состояние в журнал. Повтор с тем же EventID игнорируется,
// тогда возвращается false. Пустой EventID заменяется новым UUID.
func (r *AccountStateRepository) Append(ctx context.Context, st models.AccountState) (bool, error) {
	if st.EventID == "" {
		st.EventID = uuid.NewString()
	}

	data, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("marshal account state %s: %w", st.AccountID, err)
	}

	query := `
		INSERT INTO account_states (account_id, event_id, ts_event, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query, string(st.AccountID), st.EventID, int64(st.TsEvent), data)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

// Latest возвращает последнее состояние счёта по ts_event
func (r *AccountStateRepository) Latest(ctx context.Context, id models.AccountID) (models.AccountState, error) {
	query := `
		SELECT data FROM account_states
		WHERE account_id = $1
		ORDER BY ts_event DESC, id DESC
		LIMIT 1`

	var data []byte
	if err := r.db.QueryRowContext(ctx, query, string(id)).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AccountState{}, ErrAccountStateNotFound
		}
		return models.AccountState{}, err
	}

	var st models.AccountState
	if err := json.Unmarshal(data, &st); err != nil {
		return models.AccountState{}, fmt.Errorf("decode account state %s: %w", id, err)
	}
	return st, nil
}

// History возвращает последние limit состояний счёта, от новых к старым
func (r *AccountStateRepository) History(ctx context.Context, id models.AccountID, limit int) ([]models.AccountState, error) {
	query := `
		SELECT data FROM account_states
		WHERE account_id = $1
		ORDER BY ts_event DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, string(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AccountState
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var st models.AccountState
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("decode account state %s: %w", id, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// AccountIDs возвращает счета, у которых есть записи
func (r *AccountStateRepository) AccountIDs(ctx context.Context) ([]models.AccountID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT account_id FROM account_states ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AccountID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, models.AccountID(id))
	}
	return out, rows.Err()
}

// DeleteOlderThan удаляет состояния с ts_event раньше ts
func (r *AccountStateRepository) DeleteOlderThan(ctx context.Context, ts models.UnixNanos) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM account_states WHERE ts_event < $1`, int64(ts))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ============================================================
// Запись из шины
// ============================================================

// AccountStateRecorder пишет состояния счетов из шины в журнал.
// Обработчик шины только кладёт событие в очередь, запись идёт в Run.
type AccountStateRecorder struct {
	repo    *AccountStateRepository
	queue   chan models.AccountState
	dropped atomic.Uint64
	log     *utils.Logger
}

// NewAccountStateRecorder создает рекордер с очередью размера buffer
func NewAccountStateRecorder(repo *AccountStateRepository, buffer int) *AccountStateRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AccountStateRecorder{
		repo:  repo,
		queue: make(chan models.AccountState, buffer),
		log:   utils.L().WithComponent("account_recorder"),
	}
}

// Subscribe подписывает рекордер на pattern (обычно events.account.*)
func (a *AccountStateRecorder) Subscribe(bus *msgbus.Bus, pattern string) (msgbus.SubscriptionID, error) {
	return bus.Subscribe(pattern, a.onAccount, 0)
}

func (a *AccountStateRecorder) onAccount(topic string, msg any) {
	var st models.AccountState
	switch m := msg.(type) {
	case models.AccountState:
		st = m
	case *models.AccountState:
		st = *m
	default:
		return
	}

	select {
	case a.queue <- st:
	default:
		a.dropped.Add(1)
		a.log.Warn("account state queue full, dropping", utils.Topic(topic), utils.AccountID(string(st.AccountID)))
	}
}

// Run пишет очередь в БД до отмены ctx
func (a *AccountStateRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-a.queue:
			if _, err := a.repo.Append(ctx, st); err != nil && ctx.Err() == nil {
				a.log.Error("failed to persist account state",
					utils.AccountID(string(st.AccountID)), utils.Err(err))
			}
		}
	}
}

// Dropped - состояния, не попавшие в очередь
func (a *AccountStateRecorder) Dropped() uint64 {
	return a.dropped.Load()
}
