package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/internal/pool"
	"tradecore/internal/portfolio"
	"tradecore/pkg/crypto"
	"tradecore/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Exchange  ExchangeConfig
	Market    MarketConfig
	Portfolio PortfolioConfig
	Bus       BusConfig
	Logging   LoggingConfig
}

// ServerConfig - HTTP API и дашборд
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	// PushInterval - период сводки портфеля в дашборд
	PushInterval time.Duration
}

// DatabaseConfig - архив снимков в Postgres; Enabled=false отключает архив
type DatabaseConfig struct {
	Enabled      bool
	Driver       string
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
}

// SecurityConfig - ключ шифрования секретов и токены API
type SecurityConfig struct {
	EncryptionKey string

	// APITokenHashes - bcrypt-хеши допустимых токенов дашборда
	APITokenHashes []string
	AuthDisabled   bool
}

// ExchangeConfig - подключение к площадке
type ExchangeConfig struct {
	Venue      string
	Testnet    bool
	BaseURL    string
	WSURL      string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration

	MaxRetries        int
	RetryDelayInitial time.Duration
	RetryDelayMax     time.Duration

	Heartbeat        time.Duration
	ReconnectTimeout time.Duration
}

// MarketConfig - источники рыночных данных
type MarketConfig struct {
	// Symbols - инструменты площадки для потока цен маркировки
	Symbols             []string
	AccountPollInterval time.Duration

	// ReplayQuotesPath - CSV котировок Tardis (.csv или .csv.gz), проигрываемый при старте
	ReplayQuotesPath string
	ReplayChunkSize  int

	Pools []PoolSpec
}

// PoolSpec - пул Uniswap V3 из UNISWAP_POOLS ("адрес:fee:tick_spacing")
type PoolSpec struct {
	Address     common.Address
	Fee         uint32
	TickSpacing int32
}

// ProfilerConfig - настройки профайлера пула
func (p PoolSpec) ProfilerConfig() pool.Config {
	return pool.Config{Address: p.Address, Fee: p.Fee, TickSpacing: p.TickSpacing}
}

// PortfolioConfig - параметры расчёта портфеля
type PortfolioConfig struct {
	OmsType               string
	BarUpdates            bool
	UseMarkPrices         bool
	UseMarkXRates         bool
	ConvertToBase         bool
	CalculateAccountState bool
	LogInterval           time.Duration

	// PurgeInterval и PurgeBuffer - очистка закрытых ордеров и позиций из кэша
	PurgeInterval time.Duration
	PurgeBuffer   time.Duration
}

// BusConfig - шина сообщений и внешние мосты
type BusConfig struct {
	Name     string
	Patterns []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	OutputPath  string
	Development bool
}

// Load загружает .env (если есть) и конфигурацию из окружения
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv собирает конфигурацию из переменных окружения
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS"),
			PushInterval:    getEnvAsDuration("PORTFOLIO_PUSH_INTERVAL", 5*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:      getEnvAsBool("DB_ENABLED", true),
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "tradecore"),
			User:         getEnv("DB_USER", "tradecore"),
			Password:     getEnv("DB_PASSWORD", ""),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		},
		Security: SecurityConfig{
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			APITokenHashes: getEnvAsList("API_TOKEN_HASHES"),
			AuthDisabled:   getEnvAsBool("API_AUTH_DISABLED", false),
		},
		Exchange: ExchangeConfig{
			Venue:             strings.ToUpper(getEnv("VENUE", exchange.BitmexVenue)),
			Testnet:           getEnvAsBool("VENUE_TESTNET", false),
			BaseURL:           getEnv("VENUE_BASE_URL", ""),
			WSURL:             getEnv("VENUE_WS_URL", ""),
			RecvWindow:        getEnvAsDuration("VENUE_RECV_WINDOW", 10*time.Second),
			MaxRetries:        getEnvAsInt("VENUE_MAX_RETRIES", 3),
			RetryDelayInitial: getEnvAsDuration("VENUE_RETRY_DELAY_INITIAL", time.Second),
			RetryDelayMax:     getEnvAsDuration("VENUE_RETRY_DELAY_MAX", 10*time.Second),
			Heartbeat:         getEnvAsDuration("VENUE_WS_HEARTBEAT", 30*time.Second),
			ReconnectTimeout:  getEnvAsDuration("VENUE_WS_RECONNECT_TIMEOUT", 10*time.Second),
		},
		Market: MarketConfig{
			Symbols:             getEnvAsListDefault("VENUE_SYMBOLS", []string{"XBTUSD"}),
			AccountPollInterval: getEnvAsDuration("VENUE_ACCOUNT_POLL_INTERVAL", 30*time.Second),
			ReplayQuotesPath:    getEnv("REPLAY_QUOTES_PATH", ""),
			ReplayChunkSize:     getEnvAsInt("REPLAY_CHUNK_SIZE", 10000),
		},
		Portfolio: PortfolioConfig{
			OmsType:               strings.ToUpper(getEnv("PORTFOLIO_OMS_TYPE", "HEDGING")),
			BarUpdates:            getEnvAsBool("PORTFOLIO_BAR_UPDATES", true),
			UseMarkPrices:         getEnvAsBool("PORTFOLIO_USE_MARK_PRICES", false),
			UseMarkXRates:         getEnvAsBool("PORTFOLIO_USE_MARK_XRATES", false),
			ConvertToBase:         getEnvAsBool("PORTFOLIO_CONVERT_TO_BASE", true),
			CalculateAccountState: getEnvAsBool("PORTFOLIO_CALCULATE_ACCOUNT_STATE", true),
			LogInterval:           getEnvAsDuration("PORTFOLIO_LOG_INTERVAL", 0),
			PurgeInterval:         getEnvAsDuration("CACHE_PURGE_INTERVAL", 10*time.Minute),
			PurgeBuffer:           getEnvAsDuration("CACHE_PURGE_BUFFER", time.Hour),
		},
		Bus: BusConfig{
			Name:          getEnv("BUS_NAME", "tradecore"),
			Patterns:      getEnvAsListDefault("BUS_BRIDGE_PATTERNS", []string{"events.account.*", "events.position.*"}),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			RedisStream:   getEnv("REDIS_STREAM", "tradecore:events"),
			KafkaBrokers:  getEnvAsList("KAFKA_BROKERS"),
			KafkaTopic:    getEnv("KAFKA_TOPIC", "tradecore.events"),
			KafkaGroupID:  getEnv("KAFKA_GROUP_ID", "tradecore"),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			OutputPath:  getEnv("LOG_OUTPUT", ""),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	pools, err := parsePoolSpecs(getEnvAsList("UNISWAP_POOLS"))
	if err != nil {
		return nil, err
	}
	cfg.Market.Pools = pools

	if err := cfg.resolveCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveCredentials читает ключи площадки. Секрет берётся из
// {VENUE}_API_SECRET либо расшифровывается из {VENUE}_API_SECRET_ENC
// ключом ENCRYPTION_KEY; имя переменной служит меткой шифротекста.
func (c *Config) resolveCredentials() error {
	keyVar, secretVar := exchange.CredentialEnvVars(c.Exchange.Venue, c.Exchange.baseURLHint())

	c.Exchange.APIKey = os.Getenv(keyVar)
	c.Exchange.APISecret = os.Getenv(secretVar)

	sealed := os.Getenv(secretVar + "_ENC")
	if sealed == "" {
		return nil
	}
	if c.Exchange.APISecret != "" {
		return fmt.Errorf("both %s and %s_ENC are set", secretVar, secretVar)
	}
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required to decrypt %s_ENC", secretVar)
	}

	key, err := crypto.ParseKey(c.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return err
	}
	secret, err := sealer.Open(sealed, secretVar)
	if err != nil {
		return fmt.Errorf("decrypt %s_ENC: %w", secretVar, err)
	}
	c.Exchange.APISecret = secret
	return nil
}

// baseURLHint - URL, по которому выбирается testnet-набор переменных
func (e ExchangeConfig) baseURLHint() string {
	if e.BaseURL != "" {
		return e.BaseURL
	}
	if e.Testnet {
		return "testnet"
	}
	return ""
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.EncryptionKey != "" {
		if _, err := crypto.ParseKey(c.Security.EncryptionKey); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes raw, 64 hex chars or base64 of 32 bytes")
		}
	}

	if len(c.Security.APITokenHashes) == 0 && !c.Security.AuthDisabled {
		return fmt.Errorf("API_TOKEN_HASHES is required unless API_AUTH_DISABLED=true")
	}
	for i, h := range c.Security.APITokenHashes {
		if _, err := crypto.HashCost(h); err != nil {
			return fmt.Errorf("API_TOKEN_HASHES[%d] is not a bcrypt hash", i)
		}
	}

	if (c.Exchange.APIKey == "") != (c.Exchange.APISecret == "") {
		return fmt.Errorf("venue %s: api key and secret must be set together", c.Exchange.Venue)
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("USE_HTTPS requires CERT_FILE and KEY_FILE")
	}
	if c.Server.PushInterval <= 0 {
		return fmt.Errorf("PORTFOLIO_PUSH_INTERVAL must be positive, got %v", c.Server.PushInterval)
	}

	if c.Exchange.MaxRetries < 0 || c.Exchange.MaxRetries > 10 {
		return fmt.Errorf("VENUE_MAX_RETRIES must be between 0 and 10, got %d", c.Exchange.MaxRetries)
	}
	if c.Exchange.RetryDelayInitial <= 0 || c.Exchange.RetryDelayMax < c.Exchange.RetryDelayInitial {
		return fmt.Errorf("VENUE_RETRY_DELAY_INITIAL must be positive and not exceed VENUE_RETRY_DELAY_MAX")
	}
	if c.Exchange.RecvWindow <= 0 {
		return fmt.Errorf("VENUE_RECV_WINDOW must be positive, got %v", c.Exchange.RecvWindow)
	}

	if c.Market.AccountPollInterval <= 0 {
		return fmt.Errorf("VENUE_ACCOUNT_POLL_INTERVAL must be positive, got %v", c.Market.AccountPollInterval)
	}
	if c.Market.ReplayChunkSize <= 0 {
		return fmt.Errorf("REPLAY_CHUNK_SIZE must be positive, got %d", c.Market.ReplayChunkSize)
	}

	if _, err := c.Portfolio.omsType(); err != nil {
		return err
	}
	if c.Portfolio.LogInterval < 0 {
		return fmt.Errorf("PORTFOLIO_LOG_INTERVAL cannot be negative, got %v", c.Portfolio.LogInterval)
	}
	return nil
}

// parsePoolSpecs разбирает записи "0x8ad5...:3000:60"
func parsePoolSpecs(entries []string) ([]PoolSpec, error) {
	var out []PoolSpec
	seen := make(map[common.Address]struct{}, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("UNISWAP_POOLS entry %q: expected address:fee:tick_spacing", e)
		}
		if !common.IsHexAddress(parts[0]) {
			return nil, fmt.Errorf("UNISWAP_POOLS entry %q: invalid address", e)
		}
		fee, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil || fee >= 1_000_000 {
			return nil, fmt.Errorf("UNISWAP_POOLS entry %q: invalid fee", e)
		}
		spacing, err := strconv.ParseInt(parts[2], 10, 32)
		if err != nil || spacing <= 0 {
			return nil, fmt.Errorf("UNISWAP_POOLS entry %q: invalid tick spacing", e)
		}

		addr := common.HexToAddress(parts[0])
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("UNISWAP_POOLS: duplicate pool %s", addr.Hex())
		}
		seen[addr] = struct{}{}
		out = append(out, PoolSpec{Address: addr, Fee: uint32(fee), TickSpacing: int32(spacing)})
	}
	return out, nil
}

func (p PortfolioConfig) omsType() (models.OmsType, error) {
	var t models.OmsType
	if err := t.UnmarshalText([]byte(p.OmsType)); err != nil || t == models.OmsUnspecified {
		return 0, fmt.Errorf("PORTFOLIO_OMS_TYPE must be NETTING or HEDGING, got %q", p.OmsType)
	}
	return t, nil
}

// PortfolioSettings переводит конфигурацию в настройки портфеля
func (p PortfolioConfig) PortfolioSettings() portfolio.Config {
	oms, _ := p.omsType()
	return portfolio.Config{
		OmsType:                        oms,
		BarUpdates:                     p.BarUpdates,
		UseMarkPrices:                  p.UseMarkPrices,
		UseMarkXRates:                  p.UseMarkXRates,
		ConvertToAccountBaseCurrency:   p.ConvertToBase,
		CalculateAccountState:          p.CalculateAccountState,
		MinAccountStateLoggingInterval: p.LogInterval,
	}
}

// LogConfig переводит конфигурацию в настройки логгера
func (l LoggingConfig) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:       l.Level,
		Format:      l.Format,
		Output:      l.OutputPath,
		Development: l.Development,
	}
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr - адрес HTTP сервера
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList - значения через запятую, пустые элементы отбрасываются
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsListDefault(key string, defaultValue []string) []string {
	if list := getEnvAsList(key); len(list) > 0 {
		return list
	}
	return defaultValue
}
