package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// Config конфигурация retry логики
//
// Экспоненциальный backoff с аддитивным jitter:
// delay(n) = min(InitialDelay * Factor^n, MaxDelay) + rand[0, Jitter]
//
// Общее время ограничено MaxElapsed, каждая попытка - OperationTimeout.
type Config struct {
	// MaxRetries - количество повторов после первой попытки
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64

	// Jitter - верхняя граница случайной добавки к задержке (0 = без jitter)
	Jitter time.Duration

	// ImmediateFirst - первый повтор без задержки
	ImmediateFirst bool

	// MaxElapsed - бюджет на всю операцию (0 = без ограничения)
	MaxElapsed time.Duration

	// OperationTimeout - таймаут одной попытки (0 = без ограничения)
	OperationTimeout time.Duration

	// RetryIf - классификатор ошибок; nil = IsRetryable
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием очередного повтора
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig - 3 повтора, 1s..10s, jitter 100ms, попытка не дольше 30s
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		InitialDelay:     time.Second,
		MaxDelay:         10 * time.Second,
		Factor:           2.0,
		Jitter:           100 * time.Millisecond,
		OperationTimeout: 30 * time.Second,
	}
}

// HTTPConfig для REST запросов: бюджет 3 минуты, попытка до 60s
func HTTPConfig() Config {
	return Config{
		MaxRetries:       3,
		InitialDelay:     time.Second,
		MaxDelay:         10 * time.Second,
		Factor:           2.0,
		Jitter:           time.Second,
		OperationTimeout: 60 * time.Second,
		MaxElapsed:       3 * time.Minute,
	}
}

// WebSocketConfig для переподключений: первый повтор сразу, бюджет 2 минуты
func WebSocketConfig() Config {
	return Config{
		MaxRetries:       5,
		InitialDelay:     time.Second,
		MaxDelay:         10 * time.Second,
		Factor:           2.0,
		Jitter:           time.Second,
		OperationTimeout: 30 * time.Second,
		ImmediateFirst:   true,
		MaxElapsed:       2 * time.Minute,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Factor < 1 {
		c.Factor = 2.0
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

// ============================================================
// Ошибки
// ============================================================

// ErrCanceled - операция прервана отменой контекста.
// Всегда оборачивает и исходную ошибку контекста.
var ErrCanceled = errors.New("operation canceled")

// ErrTimeout - базовая ошибка таймаутов попытки и бюджета
var ErrTimeout = errors.New("operation timed out")

// TimeoutError - попытка или вся операция превысила лимит времени
type TimeoutError struct {
	Op     string
	After  time.Duration
	Budget bool // true = превышен MaxElapsed
}

func (e *TimeoutError) Error() string {
	if e.Budget {
		return fmt.Sprintf("operation '%s' exceeded total time budget of %s", e.Op, e.After)
	}
	return fmt.Sprintf("operation '%s' timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}

// IsCanceled - true для ErrCanceled и context.Canceled
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// ============================================================
// Backoff
// ============================================================

// Backoff - экспоненциальная последовательность задержек.
// Экспонента считается jpillora/backoff, jitter добавляется сверху.
type Backoff struct {
	b              *backoff.Backoff
	jitter         time.Duration
	immediateFirst bool
	used           bool
	rnd            *rand.Rand
	mu             sync.Mutex
}

// NewBackoff создаёт Backoff по конфигурации
func NewBackoff(cfg Config) *Backoff {
	cfg.validate()
	return &Backoff{
		b: &backoff.Backoff{
			Min:    cfg.InitialDelay,
			Max:    cfg.MaxDelay,
			Factor: cfg.Factor,
		},
		jitter:         cfg.Jitter,
		immediateFirst: cfg.ImmediateFirst,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next возвращает следующую задержку
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.immediateFirst && !b.used {
		b.used = true
		return 0
	}
	b.used = true

	delay := b.b.Duration()
	if b.jitter > 0 {
		delay += time.Duration(b.rnd.Int63n(int64(b.jitter) + 1))
	}
	return delay
}

// Reset возвращает последовательность к началу
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.b.Reset()
	b.used = false
}

// Attempt - количество уже выданных задержек
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := int(b.b.Attempt())
	if b.immediateFirst && b.used {
		n++
	}
	return n
}

// ============================================================
// Do / DoWithResult
// ============================================================

// Do выполняет операцию с повторными попытками
//
// Возвращает:
//   - nil: операция успешна
//   - ErrCanceled (wrapped): отменён ctx
//   - *TimeoutError: превышен таймаут попытки или бюджет
//   - последнюю ошибку операции после исчерпания повторов
//
// Пример:
//
//	err := retry.Do(ctx, "submit_order", func(ctx context.Context) error {
//	    return client.SubmitOrder(ctx, ...)
//	}, retry.HTTPConfig())
func Do(ctx context.Context, name string, operation func(ctx context.Context) error, cfg Config) error {
	_, err := DoWithResult(ctx, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	}, cfg)
	return err
}

// DoWithResult выполняет операцию с результатом и retry
func DoWithResult[T any](ctx context.Context, name string, operation func(ctx context.Context) (T, error), cfg Config) (T, error) {
	cfg.validate()
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsRetryable
	}

	var zero T
	bo := NewBackoff(cfg)
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return zero, canceled(ctx)
		}
		if cfg.MaxElapsed > 0 && time.Since(start) > cfg.MaxElapsed {
			return zero, &TimeoutError{Op: name, After: cfg.MaxElapsed, Budget: true}
		}

		result, err := runAttempt(ctx, name, operation, cfg.OperationTimeout)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, canceled(ctx)
		}
		if !retryIf(err) || attempt >= cfg.MaxRetries {
			return zero, err
		}

		delay := bo.Next()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, canceled(ctx)
		}
	}
}

func runAttempt[T any](ctx context.Context, name string, operation func(ctx context.Context) (T, error), timeout time.Duration) (T, error) {
	if timeout <= 0 {
		return operation(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := operation(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, &TimeoutError{Op: name, After: timeout}
	}
	return result, err
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError - ошибка, сама знающая можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable - классификатор по умолчанию
//
// Возвращает false для отмены контекста и ErrCanceled. Ошибки,
// реализующие RetryableError, решают сами. Таймауты повторяются.
// Остальные ошибки повторяются.
func IsRetryable(err error) bool {
	if err == nil || IsCanceled(err) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	return true
}

// ============================================================
// Wrapper errors
// ============================================================

// PermanentError оборачивает ошибку которую не нужно retry'ить
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает ошибку в PermanentError
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// TemporaryError оборачивает ошибку которую нужно retry'ить
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return e.Err.Error() }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Retryable() bool { return true }

// Temporary оборачивает ошибку в TemporaryError
func Temporary(err error) error {
	if err == nil {
		return nil
	}
	return &TemporaryError{Err: err}
}

// ============================================================
// Manager - объект для многократного использования
// ============================================================

// Manager хранит конфигурацию и классификатор для серии операций
//
//	m := retry.NewManager(retry.HTTPConfig(), exchange.ShouldRetry)
//	err := m.Do(ctx, "get_orders", op)
type Manager struct {
	cfg Config
}

// NewManager создаёт Manager; retryIf переопределяет cfg.RetryIf если не nil
func NewManager(cfg Config, retryIf func(error) bool) *Manager {
	cfg.validate()
	if retryIf != nil {
		cfg.RetryIf = retryIf
	}
	return &Manager{cfg: cfg}
}

// Config возвращает копию конфигурации
func (m *Manager) Config() Config {
	return m.cfg
}

// Do выполняет операцию с retry
func (m *Manager) Do(ctx context.Context, name string, operation func(ctx context.Context) error) error {
	return Do(ctx, name, operation, m.cfg)
}

// WithOnRetry возвращает копию Manager с callback'ом
func (m *Manager) WithOnRetry(onRetry func(attempt int, err error, delay time.Duration)) *Manager {
	cfg := m.cfg
	cfg.OnRetry = onRetry
	return &Manager{cfg: cfg}
}

// Execute - типизированный вариант Manager.Do
func Execute[T any](ctx context.Context, m *Manager, name string, operation func(ctx context.Context) (T, error)) (T, error) {
	return DoWithResult(ctx, name, operation, m.cfg)
}
