package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Factor:       2.0,
	}
}

// ============================================================
// Тесты конфигураций
// ============================================================

func TestPresets(t *testing.T) {
	tests := []struct {
		name           string
		cfg            Config
		maxRetries     int
		jitter         time.Duration
		opTimeout      time.Duration
		maxElapsed     time.Duration
		immediateFirst bool
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond, 30 * time.Second, 0, false},
		{"http", HTTPConfig(), 3, time.Second, 60 * time.Second, 3 * time.Minute, false},
		{"websocket", WebSocketConfig(), 5, time.Second, 30 * time.Second, 2 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cfg.MaxRetries != tt.maxRetries {
				t.Errorf("MaxRetries = %d, want %d", tt.cfg.MaxRetries, tt.maxRetries)
			}
			if tt.cfg.Jitter != tt.jitter {
				t.Errorf("Jitter = %v, want %v", tt.cfg.Jitter, tt.jitter)
			}
			if tt.cfg.OperationTimeout != tt.opTimeout {
				t.Errorf("OperationTimeout = %v, want %v", tt.cfg.OperationTimeout, tt.opTimeout)
			}
			if tt.cfg.MaxElapsed != tt.maxElapsed {
				t.Errorf("MaxElapsed = %v, want %v", tt.cfg.MaxElapsed, tt.maxElapsed)
			}
			if tt.cfg.ImmediateFirst != tt.immediateFirst {
				t.Errorf("ImmediateFirst = %v, want %v", tt.cfg.ImmediateFirst, tt.immediateFirst)
			}
		})
	}
}

// ============================================================
// Тесты Backoff
// ============================================================

func TestBackoff_Exponential(t *testing.T) {
	bo := NewBackoff(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Factor: 2})

	want := []time.Duration{10, 20, 40, 50, 50}
	for i, w := range want {
		if got := bo.Next(); got != w*time.Millisecond {
			t.Errorf("Next() #%d = %v, want %v", i, got, w*time.Millisecond)
		}
	}

	bo.Reset()
	if got := bo.Next(); got != 10*time.Millisecond {
		t.Errorf("Next() after Reset = %v, want 10ms", got)
	}
}

func TestBackoff_ImmediateFirst(t *testing.T) {
	bo := NewBackoff(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Factor: 2, ImmediateFirst: true})

	if got := bo.Next(); got != 0 {
		t.Errorf("first Next() = %v, want 0", got)
	}
	if got := bo.Next(); got != 10*time.Millisecond {
		t.Errorf("second Next() = %v, want 10ms", got)
	}
}

func TestBackoff_JitterBounded(t *testing.T) {
	bo := NewBackoff(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Factor: 2, Jitter: 5 * time.Millisecond})

	for i := 0; i < 50; i++ {
		d := bo.Next()
		if d < 10*time.Millisecond || d > 15*time.Millisecond {
			t.Fatalf("Next() = %v, want within [10ms, 15ms]", d)
		}
	}
}

// ============================================================
// Тесты Do
// ============================================================

func TestDo_SuccessFirstAttempt(t *testing.T) {
	var calls int32
	err := Do(context.Background(), "op", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, fastConfig())

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	result, err := DoWithResult(context.Background(), "op", func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, fastConfig())

	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	var calls int32
	sentinel := errors.New("still failing")
	var retries []int

	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	err := Do(context.Background(), "op", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return sentinel
	}, cfg)

	if !errors.Is(err, sentinel) {
		t.Errorf("Do() error = %v, want %v", err, sentinel)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 + MaxRetries)", calls)
	}
	if len(retries) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retries))
	}
}

func TestDo_NonRetryable(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		retryIf func(error) bool
	}{
		{"permanent wrapper", Permanent(errors.New("bad request")), nil},
		{"custom classifier", errors.New("validation"), func(error) bool { return false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			cfg := fastConfig()
			cfg.RetryIf = tt.retryIf

			err := Do(context.Background(), "op", func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				return tt.err
			}, cfg)

			if err == nil {
				t.Fatal("expected error")
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestDo_OperationTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 1
	cfg.OperationTimeout = 20 * time.Millisecond

	err := Do(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, cfg)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Do() error = %v, want *TimeoutError", err)
	}
	if te.Budget {
		t.Error("expected per-attempt timeout, got budget timeout")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("TimeoutError should match ErrTimeout")
	}
}

func TestDo_MaxElapsedBudget(t *testing.T) {
	cfg := Config{
		MaxRetries:   100,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Factor:       2,
		MaxElapsed:   100 * time.Millisecond,
	}

	start := time.Now()
	err := Do(context.Background(), "budget", func(ctx context.Context) error {
		return errors.New("transient")
	}, cfg)

	var te *TimeoutError
	if !errors.As(err, &te) || !te.Budget {
		t.Fatalf("Do() error = %v, want budget TimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("budget not respected: %v", elapsed)
	}
}

func TestDo_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	var calls int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, "op", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("transient")
	}, cfg)

	if !errors.Is(err, ErrCanceled) {
		t.Errorf("Do() error = %v, want ErrCanceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("ErrCanceled should wrap context.Canceled")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"permanent", Permanent(errors.New("x")), false},
		{"temporary", Temporary(errors.New("x")), true},
		{"context canceled", context.Canceled, false},
		{"timeout", &TimeoutError{Op: "x", After: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestManager_Execute(t *testing.T) {
	m := NewManager(fastConfig(), func(err error) bool { return err.Error() == "retry me" })

	var calls int32
	v, err := Execute(context.Background(), m, "op", func(ctx context.Context) (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", errors.New("retry me")
		}
		return "ok", nil
	})

	if err != nil || v != "ok" {
		t.Fatalf("Execute() = %q, %v", v, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
