package crypto

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// TestHashToken проверяет базовое хеширование токена
func TestHashToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"simple token", "dashboard-token-1"},
		{"unicode token", "токен123"},
		{"near limit", strings.Repeat("a", 70)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashToken(tt.token, bcrypt.MinCost)
			if err != nil {
				t.Fatalf("HashToken failed: %v", err)
			}
			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("хеш без префикса bcrypt: %s", hash)
			}
			if err := VerifyToken(tt.token, hash); err != nil {
				t.Errorf("VerifyToken: %v", err)
			}
		})
	}
}

func TestHashTokenErrors(t *testing.T) {
	if _, err := HashToken("", bcrypt.MinCost); err != ErrEmptyToken {
		t.Errorf("пустой токен: got %v, want %v", err, ErrEmptyToken)
	}
	if _, err := HashToken(strings.Repeat("a", 73), bcrypt.MinCost); err != ErrTokenTooLong {
		t.Errorf("длинный токен: got %v, want %v", err, ErrTokenTooLong)
	}
}

func TestHashTokenCostClamp(t *testing.T) {
	tests := []struct {
		name     string
		cost     int
		wantCost int
	}{
		{"below min", 1, bcrypt.MinCost},
		{"min", bcrypt.MinCost, bcrypt.MinCost},
		{"explicit", 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashToken("token", tt.cost)
			if err != nil {
				t.Fatalf("HashToken failed: %v", err)
			}
			cost, err := HashCost(hash)
			if err != nil {
				t.Fatalf("HashCost failed: %v", err)
			}
			if cost != tt.wantCost {
				t.Errorf("cost = %d, want %d", cost, tt.wantCost)
			}
		})
	}
}

func TestVerifyToken(t *testing.T) {
	hash, _ := HashToken("correct", bcrypt.MinCost)

	tests := []struct {
		name    string
		token   string
		hash    string
		wantErr error
	}{
		{"match", "correct", hash, nil},
		{"mismatch", "wrong", hash, ErrTokenMismatch},
		{"empty token", "", hash, ErrEmptyToken},
		{"empty hash", "correct", "", ErrInvalidHash},
		{"garbage hash", "correct", "not-a-bcrypt-hash", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyToken(tt.token, tt.hash); err != tt.wantErr {
				t.Errorf("VerifyToken: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenSet(t *testing.T) {
	h1, _ := HashToken("alpha", bcrypt.MinCost)
	h2, _ := HashToken("beta", bcrypt.MinCost)

	set, err := NewTokenSet([]string{h1, "", h2})
	if err != nil {
		t.Fatalf("NewTokenSet failed: %v", err)
	}
	if set.Len() != 2 {
		t.Errorf("Len() = %d, want 2", set.Len())
	}

	for _, tok := range []string{"alpha", "beta", "alpha"} {
		if !set.Check(tok) {
			t.Errorf("Check(%q) = false", tok)
		}
	}
	for _, tok := range []string{"", "gamma", strings.Repeat("a", 100)} {
		if set.Check(tok) {
			t.Errorf("Check(%q) = true", tok)
		}
	}
	if len(set.verified) != 2 {
		t.Errorf("запомнено %d токенов, ожидалось 2", len(set.verified))
	}
}

func TestNewTokenSetInvalidHash(t *testing.T) {
	if _, err := NewTokenSet([]string{"plain-text-token"}); err != ErrInvalidHash {
		t.Errorf("got %v, want %v", err, ErrInvalidHash)
	}

	empty, err := NewTokenSet(nil)
	if err != nil {
		t.Fatalf("NewTokenSet(nil): %v", err)
	}
	if empty.Check("anything") {
		t.Error("пустой набор должен отклонять любой токен")
	}
}

func BenchmarkTokenSetCheckCached(b *testing.B) {
	h, _ := HashToken("bench", bcrypt.MinCost)
	set, _ := NewTokenSet([]string{h})
	set.Check("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		set.Check("bench")
	}
}
