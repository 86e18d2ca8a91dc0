package crypto

import (
	"crypto/sha256"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования токенов
var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
	ErrTokenTooLong  = errors.New("token exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость bcrypt для токенов API
const DefaultCost = 12

// MaxTokenLength - предел bcrypt
const MaxTokenLength = 72

// HashToken хеширует API токен дашборда; cost вне [MinCost, MaxCost]
// прижимается к границе, 0 означает DefaultCost
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}

	switch {
	case cost == 0:
		cost = DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken сравнивает токен с bcrypt-хешем
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// TokenSet - набор допустимых хешей токенов API.
//
// bcrypt медленный намеренно, поэтому уже проверенные токены запоминаются
// по SHA-256; сам токен в памяти не хранится.
type TokenSet struct {
	hashes []string

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewTokenSet проверяет формат хешей и создает набор
func NewTokenSet(hashes []string) (*TokenSet, error) {
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, ErrInvalidHash
		}
		out = append(out, h)
	}
	return &TokenSet{hashes: out, verified: make(map[[sha256.Size]byte]struct{})}, nil
}

// Len - количество хешей; пустой набор отклоняет любой токен
func (s *TokenSet) Len() int { return len(s.hashes) }

// Check сообщает, подходит ли токен к одному из хешей
func (s *TokenSet) Check(token string) bool {
	if token == "" || len(token) > MaxTokenLength {
		return false
	}

	digest := sha256.Sum256([]byte(token))
	s.mu.RLock()
	_, ok := s.verified[digest]
	s.mu.RUnlock()
	if ok {
		return true
	}

	for _, h := range s.hashes {
		if VerifyToken(token, h) == nil {
			s.mu.Lock()
			s.verified[digest] = struct{}{}
			s.mu.Unlock()
			return true
		}
	}
	return false
}

// HashCost извлекает cost из существующего хеша
func HashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}
	return cost, nil
}
