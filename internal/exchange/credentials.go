package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Credentials - пара ключ/секрет API
type Credentials struct {
	APIKey    string
	APISecret string
}

// Sign - hex(HMAC-SHA256(secret, method + path + expires + body))
func (c *Credentials) Sign(method, path string, expires int64, body []byte) string {
	h := hmac.New(sha256.New, []byte(c.APISecret))
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write([]byte(strconv.FormatInt(expires, 10)))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// String не раскрывает секрет в логах
func (c *Credentials) String() string {
	if c == nil {
		return "Credentials(none)"
	}
	return fmt.Sprintf("Credentials(api_key=%s)", maskKey(c.APIKey))
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// CredentialEnvVars - имена переменных окружения для площадки.
// Для URL с "testnet" используются {VENUE}_TESTNET_API_KEY/_API_SECRET.
func CredentialEnvVars(venue, baseURL string) (keyVar, secretVar string) {
	prefix := strings.ToUpper(venue)
	if strings.Contains(strings.ToLower(baseURL), "testnet") {
		prefix += "_TESTNET"
	}
	return prefix + "_API_KEY", prefix + "_API_SECRET"
}

// ResolveCredentials выбирает переданные ключи, иначе читает окружение.
// Возвращает nil без ошибки, если ключей нет нигде; половина пары - ошибка.
func ResolveCredentials(venue, baseURL, apiKey, apiSecret string) (*Credentials, error) {
	source := "arguments"
	if apiKey == "" && apiSecret == "" {
		keyVar, secretVar := CredentialEnvVars(venue, baseURL)
		apiKey, apiSecret = os.Getenv(keyVar), os.Getenv(secretVar)
		source = keyVar + "/" + secretVar
	}

	switch {
	case apiKey == "" && apiSecret == "":
		return nil, nil
	case apiKey == "":
		return nil, fmt.Errorf("%w: api secret provided without api key (%s)", ErrMissingCredentials, source)
	case apiSecret == "":
		return nil, fmt.Errorf("%w: api key provided without api secret (%s)", ErrMissingCredentials, source)
	}
	return &Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
}
