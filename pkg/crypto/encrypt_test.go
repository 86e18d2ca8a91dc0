package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
)

func mustSealer(t testing.TB) *Sealer {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	s, err := NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}
	return s
}

// TestSealOpen проверяет цикл шифрования/расшифровки с меткой
func TestSealOpen(t *testing.T) {
	s := mustSealer(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty string", ""},
		{"api secret", "chNOOS4KvNXR_Xq4k4c9qsfoKWvnDecLATCRlcBwyKDYnWgO"},
		{"unicode text", "Привет мир 你好世界"},
		{"long text", strings.Repeat("a", 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.plaintext, "BITMEX_API_SECRET")
			if err != nil {
				t.Fatalf("Seal failed: %v", err)
			}
			if _, err := base64.StdEncoding.DecodeString(sealed); err != nil {
				t.Errorf("результат не base64: %v", err)
			}

			opened, err := s.Open(sealed, "BITMEX_API_SECRET")
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if opened != tt.plaintext {
				t.Errorf("got %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

// TestOpenWrongLabel - шифротекст привязан к метке
func TestOpenWrongLabel(t *testing.T) {
	s := mustSealer(t)
	sealed, _ := s.Seal("secret", "BITMEX_API_SECRET")

	if _, err := s.Open(sealed, "BYBIT_API_SECRET"); err != ErrDecryptionFailed {
		t.Errorf("Open с чужой меткой: got %v, want %v", err, ErrDecryptionFailed)
	}
}

// TestSealDifferentResults - каждый вызов даёт новый nonce
func TestSealDifferentResults(t *testing.T) {
	s := mustSealer(t)
	a, _ := s.Seal("same", "")
	b, _ := s.Seal("same", "")
	if a == b {
		t.Error("два шифрования одного текста совпали")
	}
}

func TestNewSealerInvalidKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := NewSealer(make([]byte, n)); err != ErrInvalidKeyLength {
			t.Errorf("NewSealer(%d bytes): got %v, want %v", n, err, ErrInvalidKeyLength)
		}
	}
}

func TestOpenInvalidInput(t *testing.T) {
	s := mustSealer(t)

	tests := []struct {
		name       string
		ciphertext string
		wantErr    error
	}{
		{"not base64", "not-valid-base64!!!", ErrInvalidCiphertext},
		{"too short", "YWJj", ErrCiphertextTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Open(tt.ciphertext, ""); err != tt.wantErr {
				t.Errorf("Open(%q): got %v, want %v", tt.ciphertext, err, tt.wantErr)
			}
		})
	}
}

// TestOpenTampered проверяет обнаружение изменённого шифротекста
func TestOpenTampered(t *testing.T) {
	s := mustSealer(t)
	sealed, _ := s.Seal("original data", "")

	decoded, _ := base64.StdEncoding.DecodeString(sealed)
	decoded[len(decoded)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(decoded)

	if _, err := s.Open(tampered, ""); err != ErrDecryptionFailed {
		t.Errorf("got %v, want %v", err, ErrDecryptionFailed)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	key, _ := GenerateKey()

	encrypted, err := Encrypt("secret data", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	decrypted, err := Decrypt(encrypted, key)
	if err != nil || decrypted != "secret data" {
		t.Errorf("Decrypt = %q, %v", decrypted, err)
	}

	other, _ := GenerateKey()
	if _, err := Decrypt(encrypted, other); err != ErrDecryptionFailed {
		t.Errorf("Decrypt с чужим ключом: got %v, want %v", err, ErrDecryptionFailed)
	}
	if _, err := Encrypt("x", make([]byte, 16)); err != ErrInvalidKeyLength {
		t.Errorf("Encrypt с коротким ключом: got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")

	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{"raw 32 bytes", string(raw), raw, false},
		{"hex", hex.EncodeToString(raw), raw, false},
		{"base64", base64.StdEncoding.EncodeToString(raw), raw, false},
		{"surrounding spaces", "  " + hex.EncodeToString(raw) + "\n", raw, false},
		{"too short", "short", nil, true},
		{"base64 of 16 bytes", base64.StdEncoding.EncodeToString(raw[:16]), nil, true},
		{"64 chars not hex", strings.Repeat("z", 64), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				if err != ErrInvalidKeyLength {
					t.Errorf("ParseKey(%q): got %v, want %v", tt.input, err, ErrInvalidKeyLength)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q): %v", tt.input, err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("ParseKey(%q) = %x, want %x", tt.input, got, tt.want)
			}
		})
	}
}

func TestGenerateKeyHex(t *testing.T) {
	s, err := GenerateKeyHex()
	if err != nil {
		t.Fatalf("GenerateKeyHex failed: %v", err)
	}
	if len(s) != 64 {
		t.Errorf("длина %d, ожидалось 64", len(s))
	}
	key, err := ParseKey(s)
	if err != nil || len(key) != KeySize {
		t.Errorf("ParseKey(GenerateKeyHex()) = %d bytes, %v", len(key), err)
	}
}

func BenchmarkSeal(b *testing.B) {
	s := mustSealer(b)
	for i := 0; i < b.N; i++ {
		_, _ = s.Seal("benchmark secret", "BITMEX_API_SECRET")
	}
}

func BenchmarkOpen(b *testing.B) {
	s := mustSealer(b)
	sealed, _ := s.Seal("benchmark secret", "BITMEX_API_SECRET")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Open(sealed, "BITMEX_API_SECRET")
	}
}
