package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket для контроля частоты запросов к API площадок
//
// Алгоритм Token Bucket:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость ведра = burst
// - Каждый запрос потребляет 1 токен
// - Если токенов нет, запрос ждёт (Wait) или отклоняется (Allow)
//
// Использование:
//
//	limiter := NewRateLimiter(PerSecond(10))
//	err := limiter.Wait(ctx)
type RateLimiter struct {
	rate       float64 // токенов в секунду
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// Quota - параметры одного ведра
type Quota struct {
	Rate  float64 // токенов в секунду
	Burst float64 // ёмкость ведра
}

// PerSecond - n запросов в секунду, burst n
func PerSecond(n float64) Quota {
	return Quota{Rate: n, Burst: n}
}

// PerMinute - n запросов в минуту, burst n
func PerMinute(n float64) Quota {
	return Quota{Rate: n / 60, Burst: n}
}

// WithBurst возвращает копию квоты с другой ёмкостью
func (q Quota) WithBurst(burst float64) Quota {
	q.Burst = burst
	return q
}

// NewRateLimiter создаёт limiter по квоте. Ведро стартует полным.
func NewRateLimiter(q Quota) *RateLimiter {
	if q.Rate <= 0 {
		q.Rate = 10
	}
	if q.Burst < 1 {
		q.Burst = 1
	}

	return &RateLimiter{
		rate:       q.Rate,
		burst:      q.Burst,
		tokens:     q.Burst,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// refill вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}
	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста.
// При отмене возвращает ctx.Err(), токен не расходуется.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		delay, ok := rl.take()
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// take пытается взять токен; если нельзя, возвращает время до следующего
func (rl *RateLimiter) take() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second)), false
}

// Allow проверяет доступность токена без блокировки
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.take()
	return ok
}

// Delay - сколько пришлось бы ждать токен прямо сейчас (без расхода)
func (rl *RateLimiter) Delay() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	if rl.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}

// Tokens возвращает текущее количество токенов (мониторинг)
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

func (rl *RateLimiter) Rate() float64  { return rl.rate }
func (rl *RateLimiter) Burst() float64 { return rl.burst }

// ============================================================
// KeyedLimiter - набор квот по ключам + квота по умолчанию
// ============================================================

// KeyedLimiter управляет квотами по ключам.
//
// Запрос проходит через все переданные ключи по порядку. Ключ без
// собственной квоты использует квоту по умолчанию (если задана).
// Запрос без ключей проходит только через квоту по умолчанию.
//
// Пример (REST площадки):
//   - "bitmex:global" - 10 req/sec
//   - "bitmex:minute" - 120 req/min
type KeyedLimiter struct {
	limiters map[string]*RateLimiter
	fallback *RateLimiter
	mu       sync.RWMutex
}

// NewKeyedLimiter создаёт limiter. defaultQuota может быть nil.
func NewKeyedLimiter(defaultQuota *Quota, keyed map[string]Quota) *KeyedLimiter {
	kl := &KeyedLimiter{limiters: make(map[string]*RateLimiter, len(keyed))}
	if defaultQuota != nil {
		kl.fallback = NewRateLimiter(*defaultQuota)
	}
	for key, q := range keyed {
		kl.limiters[key] = NewRateLimiter(q)
	}
	return kl
}

// Add добавляет или заменяет квоту для ключа
func (kl *KeyedLimiter) Add(key string, q Quota) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	kl.limiters[key] = NewRateLimiter(q)
}

func (kl *KeyedLimiter) resolve(keys []string) []*RateLimiter {
	kl.mu.RLock()
	defer kl.mu.RUnlock()

	if len(keys) == 0 {
		if kl.fallback == nil {
			return nil
		}
		return []*RateLimiter{kl.fallback}
	}

	out := make([]*RateLimiter, 0, len(keys))
	usedFallback := false
	for _, key := range keys {
		if l, ok := kl.limiters[key]; ok {
			out = append(out, l)
			continue
		}
		if kl.fallback != nil && !usedFallback {
			out = append(out, kl.fallback)
			usedFallback = true
		}
	}
	return out
}

// Wait ожидает допуск по всем ключам. Отмена контекста прерывает ожидание.
func (kl *KeyedLimiter) Wait(ctx context.Context, keys ...string) error {
	for _, l := range kl.resolve(keys) {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Allow - неблокирующая проверка по всем ключам
func (kl *KeyedLimiter) Allow(keys ...string) bool {
	for _, l := range kl.resolve(keys) {
		if !l.Allow() {
			return false
		}
	}
	return true
}

// Get возвращает limiter ключа (nil если квоты нет)
func (kl *KeyedLimiter) Get(key string) *RateLimiter {
	kl.mu.RLock()
	defer kl.mu.RUnlock()
	return kl.limiters[key]
}

// Keys возвращает список ключей с собственной квотой
func (kl *KeyedLimiter) Keys() []string {
	kl.mu.RLock()
	defer kl.mu.RUnlock()

	keys := make([]string, 0, len(kl.limiters))
	for k := range kl.limiters {
		keys = append(keys, k)
	}
	return keys
}
