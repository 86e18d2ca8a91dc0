package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================
// Тесты квот
// ============================================================

func TestQuotaConstructors(t *testing.T) {
	tests := []struct {
		name      string
		quota     Quota
		wantRate  float64
		wantBurst float64
	}{
		{"per second", PerSecond(10), 10, 10},
		{"per minute", PerMinute(120), 2, 120},
		{"with burst", PerMinute(30).WithBurst(10), 0.5, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.quota.Rate != tt.wantRate {
				t.Errorf("Rate = %v, want %v", tt.quota.Rate, tt.wantRate)
			}
			if tt.quota.Burst != tt.wantBurst {
				t.Errorf("Burst = %v, want %v", tt.quota.Burst, tt.wantBurst)
			}
		})
	}
}

// ============================================================
// Тесты RateLimiter
// ============================================================

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := NewRateLimiter(PerSecond(3))
	fixed := time.Now()
	rl.now = func() time.Time { return fixed }
	rl.lastRefill = fixed

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if rl.Allow() {
		t.Error("4th request should be denied")
	}
	if d := rl.Delay(); d <= 0 || d > 400*time.Millisecond {
		t.Errorf("Delay() = %v, want ~333ms", d)
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(PerSecond(2))
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	rl.Allow()
	rl.Allow()
	if rl.Allow() {
		t.Fatal("bucket should be empty")
	}

	now = now.Add(time.Second)
	if got := rl.Tokens(); got != 2 {
		t.Errorf("Tokens() = %v, want 2", got)
	}
}

func TestRateLimiter_WaitCanceled(t *testing.T) {
	rl := NewRateLimiter(PerMinute(1))
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := rl.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait() did not observe cancellation")
	}
}

func TestRateLimiter_WaitBlocksUntilToken(t *testing.T) {
	rl := NewRateLimiter(PerSecond(20).WithBurst(1))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 waits at 20 rps with burst 1 took %v, want >= ~100ms", elapsed)
	}
}

// ============================================================
// Тесты KeyedLimiter
// ============================================================

func TestKeyedLimiter_KeysAndDefault(t *testing.T) {
	def := PerSecond(1)
	kl := NewKeyedLimiter(&def, map[string]Quota{
		"venue:global": PerSecond(2),
		"venue:minute": PerMinute(120),
	})

	if !kl.Allow("venue:global", "venue:minute") {
		t.Fatal("first request should pass")
	}
	if !kl.Allow("venue:global", "venue:minute") {
		t.Fatal("second request should pass")
	}
	if kl.Allow("venue:global", "venue:minute") {
		t.Error("third request should hit the per-second quota")
	}

	// Неизвестный ключ уходит в квоту по умолчанию
	if !kl.Allow("unknown") {
		t.Fatal("default quota should admit first request")
	}
	if kl.Allow() {
		t.Error("default quota should be exhausted")
	}
}

func TestKeyedLimiter_NoDefault(t *testing.T) {
	kl := NewKeyedLimiter(nil, nil)
	for i := 0; i < 100; i++ {
		if !kl.Allow("anything") {
			t.Fatal("limiter without quotas must admit everything")
		}
	}
	if err := kl.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestKeyedLimiter_AddAndGet(t *testing.T) {
	kl := NewKeyedLimiter(nil, nil)
	kl.Add("orders", PerSecond(5))

	l := kl.Get("orders")
	if l == nil {
		t.Fatal("Get() returned nil for added key")
	}
	if l.Rate() != 5 || l.Burst() != 5 {
		t.Errorf("rate/burst = %v/%v, want 5/5", l.Rate(), l.Burst())
	}
	if len(kl.Keys()) != 1 {
		t.Errorf("Keys() = %v", kl.Keys())
	}
}
