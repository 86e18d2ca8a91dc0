// encrypt.go - запечатывание секретов площадок (AES-256-GCM)
//
// Назначение:
// API секреты площадок хранятся в окружении зашифрованными
// ({VENUE}_API_SECRET_ENC) и раскрываются ключом ENCRYPTION_KEY при старте.
//
// Функции:
// - ParseKey: ключ из 32 сырых байт, 64 hex-символов или base64
// - Sealer: AEAD с привязкой шифротекста к метке (имени переменной)
// - Encrypt/Decrypt: разовые операции без метки
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// KeySize - длина ключа AES-256
const KeySize = 32

// Ошибки шифрования
var (
	ErrInvalidKeyLength   = errors.New("encryption key must be exactly 32 bytes for AES-256")
	ErrInvalidCiphertext  = errors.New("invalid ciphertext")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrDecryptionFailed   = errors.New("decryption failed: authentication error")
)

// ParseKey разбирает ключ из окружения: 32 байта как есть, 64 hex-символа
// или base64 от 32 байт
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) == KeySize:
		return []byte(s), nil
	case len(s) == 2*KeySize:
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(s); err == nil && len(key) == KeySize {
		return key, nil
	}
	return nil, ErrInvalidKeyLength
}

// Sealer шифрует и расшифровывает секреты одним ключом.
// Безопасен для конкурентного использования.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer создает Sealer для 32-байтного ключа
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal шифрует plaintext; label входит в аутентификацию, поэтому шифротекст,
// перенесённый в другую переменную, не расшифруется. Результат в base64.
func (s *Sealer) Seal(plaintext, label string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает результат Seal с той же меткой
func (s *Sealer) Open(ciphertextBase64, label string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertextBase64))
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize+s.aead.Overhead() {
		return "", ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(label))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Encrypt шифрует plaintext без метки
func Encrypt(plaintext string, key []byte) (string, error) {
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Seal(plaintext, "")
}

// Decrypt расшифровывает результат Encrypt
func Decrypt(ciphertextBase64 string, key []byte) (string, error) {
	s, err := NewSealer(key)
	if err != nil {
		return "", err
	}
	return s.Open(ciphertextBase64, "")
}

// GenerateKey генерирует случайный ключ AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateKeyHex - ключ в hex для .env (ParseKey принимает этот формат)
func GenerateKeyHex() (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
