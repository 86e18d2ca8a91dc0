package config

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"tradecore/internal/models"
	"tradecore/pkg/crypto"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_AUTH_DISABLED", "true")
	for _, key := range []string{
		"ENCRYPTION_KEY", "API_TOKEN_HASHES", "VENUE", "VENUE_TESTNET", "VENUE_BASE_URL",
		"BITMEX_API_KEY", "BITMEX_API_SECRET", "BITMEX_API_SECRET_ENC",
		"BITMEX_TESTNET_API_KEY", "BITMEX_TESTNET_API_SECRET", "BITMEX_TESTNET_API_SECRET_ENC",
		"PORTFOLIO_OMS_TYPE", "SERVER_PORT", "ALLOWED_ORIGINS", "KAFKA_BROKERS",
		"UNISWAP_POOLS", "VENUE_SYMBOLS", "REPLAY_QUOTES_PATH",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, 5*time.Second, cfg.Server.PushInterval)
	assert.Equal(t, "BITMEX", cfg.Exchange.Venue)
	assert.Empty(t, cfg.Exchange.APIKey)
	assert.Equal(t, []string{"events.account.*", "events.position.*"}, cfg.Bus.Patterns)
	assert.Nil(t, cfg.Bus.KafkaBrokers)
	assert.Equal(t, []string{"XBTUSD"}, cfg.Market.Symbols)
	assert.Equal(t, 30*time.Second, cfg.Market.AccountPollInterval)
	assert.Empty(t, cfg.Market.Pools)

	settings := cfg.Portfolio.PortfolioSettings()
	assert.Equal(t, models.OmsHedging, settings.OmsType)
	assert.True(t, settings.ConvertToAccountBaseCurrency)
	assert.True(t, settings.CalculateAccountState)
}

func TestFromEnvLists(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "http://a.local, ,http://b.local")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Bus.KafkaBrokers)
}

func TestFromEnvPlainCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("VENUE_TESTNET", "true")
	t.Setenv("BITMEX_TESTNET_API_KEY", "key")
	t.Setenv("BITMEX_TESTNET_API_SECRET", "secret")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Exchange.APIKey)
	assert.Equal(t, "secret", cfg.Exchange.APISecret)
}

func TestFromEnvEncryptedSecret(t *testing.T) {
	setBaseEnv(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(key)
	require.NoError(t, err)
	sealed, err := sealer.Seal("real-secret", "BITMEX_API_SECRET")
	require.NoError(t, err)

	t.Setenv("ENCRYPTION_KEY", hex.EncodeToString(key))
	t.Setenv("BITMEX_API_KEY", "key")
	t.Setenv("BITMEX_API_SECRET_ENC", sealed)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "real-secret", cfg.Exchange.APISecret)

	// шифротекст другой переменной не подходит
	other, _ := sealer.Seal("real-secret", "BYBIT_API_SECRET")
	t.Setenv("BITMEX_API_SECRET_ENC", other)
	_, err = FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt BITMEX_API_SECRET_ENC")
}

func TestFromEnvErrors(t *testing.T) {
	tokenHash, err := crypto.HashToken("token", bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "encrypted secret without key",
			env:     map[string]string{"BITMEX_API_KEY": "k", "BITMEX_API_SECRET_ENC": "AAAA"},
			wantErr: "ENCRYPTION_KEY is required",
		},
		{
			name:    "both plain and encrypted",
			env:     map[string]string{"BITMEX_API_SECRET": "s", "BITMEX_API_SECRET_ENC": "AAAA"},
			wantErr: "both BITMEX_API_SECRET",
		},
		{
			name:    "half credentials",
			env:     map[string]string{"BITMEX_API_KEY": "k"},
			wantErr: "api key and secret must be set together",
		},
		{
			name:    "bad encryption key",
			env:     map[string]string{"ENCRYPTION_KEY": "short"},
			wantErr: "ENCRYPTION_KEY must be",
		},
		{
			name:    "auth without tokens",
			env:     map[string]string{"API_AUTH_DISABLED": "false"},
			wantErr: "API_TOKEN_HASHES is required",
		},
		{
			name:    "token not hashed",
			env:     map[string]string{"API_TOKEN_HASHES": tokenHash + ",plain"},
			wantErr: "API_TOKEN_HASHES[1]",
		},
		{
			name:    "bad oms type",
			env:     map[string]string{"PORTFOLIO_OMS_TYPE": "UNSPECIFIED"},
			wantErr: "PORTFOLIO_OMS_TYPE",
		},
		{
			name:    "pool entry malformed",
			env:     map[string]string{"UNISWAP_POOLS": "0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8:3000"},
			wantErr: "expected address:fee:tick_spacing",
		},
		{
			name:    "pool bad address",
			env:     map[string]string{"UNISWAP_POOLS": "pool:3000:60"},
			wantErr: "invalid address",
		},
		{
			name:    "pool zero spacing",
			env:     map[string]string{"UNISWAP_POOLS": "0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8:3000:0"},
			wantErr: "invalid tick spacing",
		},
		{
			name: "pool duplicate",
			env: map[string]string{"UNISWAP_POOLS": "0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8:3000:60," +
				"0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8:500:10"},
			wantErr: "duplicate pool",
		},
		{
			name:    "bad port",
			env:     map[string]string{"SERVER_PORT": "70000"},
			wantErr: "SERVER_PORT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "ошибка %q не содержит %q", err, tt.wantErr)
		})
	}
}

func TestFromEnvPools(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("UNISWAP_POOLS", "0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8:3000:60, 0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640:500:10")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.Market.Pools, 2)

	first := cfg.Market.Pools[0].ProfilerConfig()
	assert.Equal(t, "0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8", first.Address.Hex())
	assert.Equal(t, uint32(3000), first.Fee)
	assert.Equal(t, int32(60), first.TickSpacing)
	assert.Equal(t, int32(10), cfg.Market.Pools[1].TickSpacing)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
	assert.NotContains(t, d.DSNWithoutPassword(), "password")
}
