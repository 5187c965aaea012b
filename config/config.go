package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BrokerConfig   BrokerConfig
	DatabaseConfig DatabaseConfig
	RedisConfig    RedisConfig
	TradingConfig  TradingConfig
	RiskConfig     RiskConfig
	SentinelConfig SentinelConfig
	SheetConfig    SheetConfig
	VaultConfig    VaultConfig
	ServerConfig   ServerConfig
	LoggingConfig  LoggingConfig
	LockPath       string
	SeedFile       string
	RunOnce        bool
}

// BrokerConfig holds trading and market-data API credentials.
type BrokerConfig struct {
	BaseURL    string
	DataURL    string
	DataKey    string
	TradingKey string
	SecretKey  string
	DataFeed   string // "iex" or "sip"
	Paper      bool
	MockMode   bool // run against the simulated broker, no live calls
}

type DatabaseConfig struct {
	URL string // Postgres connection URL
}

type RedisConfig struct {
	URL string // empty disables Redis-backed features
}

type TradingConfig struct {
	Capital                float64
	MaxPerTrade            float64
	KIVTimeout             time.Duration
	ConfirmedTimeout       time.Duration
	BouncePct              float64
	ForceCloseMinutes      float64
	PreCloseWarningMinutes float64
	PriceCacheTTL          time.Duration
}

type RiskConfig struct {
	DailyLossLimit  float64
	DailyProfitCap  float64
	RiskPerTradePct float64
	MaxPositions    int
}

type SentinelConfig struct {
	APIRateLimit           int // calls per minute
	MaxDataErrorsDay       int
	MaxConsecutiveFailures int
}

// SheetConfig holds Google Sheets export credentials. Export is disabled
// when all three fields are empty.
type SheetConfig struct {
	ClientEmail string
	PrivateKey  string
	SheetID     string
}

type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	MountPath  string
	SecretPath string
}

// ServerConfig holds the optional operator API settings. Port 0 disables it.
type ServerConfig struct {
	Port           int
	AllowedOrigins string
}

type LoggingConfig struct {
	Level      string
	JSONFormat bool
}

func Load() *Config {
	cfg := &Config{}

	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", "https://paper-api.alpaca.markets")
	cfg.BrokerConfig.DataURL = getEnvOrDefault("BROKER_DATA_URL", "https://data.alpaca.markets")
	cfg.BrokerConfig.DataKey = getEnvOrDefault("BROKER_DATA_KEY", "")
	cfg.BrokerConfig.TradingKey = getEnvOrDefault("BROKER_TRADING_KEY", "")
	cfg.BrokerConfig.SecretKey = getEnvOrDefault("BROKER_SECRET_KEY", "")
	cfg.BrokerConfig.DataFeed = getEnvOrDefault("DATA_FEED", "iex")
	cfg.BrokerConfig.Paper = getEnvBoolOrDefault("PAPER", true)
	cfg.BrokerConfig.MockMode = strings.EqualFold(cfg.BrokerConfig.BaseURL, "mock")

	cfg.DatabaseConfig.URL = getEnvOrDefault("DB_PATH", "")
	cfg.RedisConfig.URL = getEnvOrDefault("REDIS_URL", "")

	cfg.TradingConfig.Capital = getEnvFloatOrDefault("CAPITAL", 10000)
	cfg.TradingConfig.MaxPerTrade = getEnvFloatOrDefault("MAX_PER_TRADE", 2000)
	cfg.TradingConfig.KIVTimeout = getEnvDurationOrDefault("KIV_TIMEOUT", 4*time.Hour)
	cfg.TradingConfig.ConfirmedTimeout = getEnvDurationOrDefault("CONFIRMED_TIMEOUT", 2*time.Hour)
	cfg.TradingConfig.BouncePct = getEnvFloatOrDefault("BOUNCE_PCT", 0.01)
	cfg.TradingConfig.ForceCloseMinutes = getEnvFloatOrDefault("FORCE_CLOSE_MINUTES", 5)
	cfg.TradingConfig.PreCloseWarningMinutes = getEnvFloatOrDefault("PRE_CLOSE_WARNING_MINUTES", 15)
	cfg.TradingConfig.PriceCacheTTL = getEnvDurationOrDefault("PRICE_CACHE_TTL", 60*time.Second)

	cfg.RiskConfig.DailyLossLimit = getEnvFloatOrDefault("DAILY_LOSS_LIMIT", 500)
	cfg.RiskConfig.DailyProfitCap = getEnvFloatOrDefault("DAILY_PROFIT_CAP", 1000)
	cfg.RiskConfig.RiskPerTradePct = getEnvFloatOrDefault("RISK_PER_TRADE_PCT", 0.01)
	cfg.RiskConfig.MaxPositions = getEnvIntOrDefault("MAX_POSITIONS", 5)

	cfg.SentinelConfig.APIRateLimit = getEnvIntOrDefault("API_RATE_LIMIT", 180)
	cfg.SentinelConfig.MaxDataErrorsDay = getEnvIntOrDefault("MAX_DATA_ERRORS_DAY", 10)
	cfg.SentinelConfig.MaxConsecutiveFailures = getEnvIntOrDefault("MAX_CONSECUTIVE_FAILURES", 3)

	cfg.SheetConfig.ClientEmail = getEnvOrDefault("SHEET_CLIENT_EMAIL", "")
	cfg.SheetConfig.PrivateKey = getEnvOrDefault("SHEET_PRIVATE_KEY", "")
	cfg.SheetConfig.SheetID = getEnvOrDefault("SHEET_ID", "")

	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", "")
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", "")
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", "secret")
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", "trading-bot/broker")
	cfg.VaultConfig.Enabled = cfg.VaultConfig.Address != "" && cfg.VaultConfig.Token != ""

	cfg.ServerConfig.Port = getEnvIntOrDefault("OPS_PORT", 0)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("OPS_ALLOWED_ORIGINS", "*")

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_FORMAT", "console") == "json"

	cfg.LockPath = getEnvOrDefault("LOCK_PATH", "data/run.lock")
	cfg.SeedFile = getEnvOrDefault("SEED_FILE", "")
	cfg.RunOnce = getEnvBoolOrDefault("RUN_ONCE", false)

	return cfg
}

// Validate checks required settings. Broker credentials may still arrive from
// Vault, so broker keys are only required when Vault is not configured.
func (c *Config) Validate() error {
	if c.DatabaseConfig.URL == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if !c.BrokerConfig.MockMode && !c.VaultConfig.Enabled {
		if c.BrokerConfig.TradingKey == "" || c.BrokerConfig.SecretKey == "" {
			return fmt.Errorf("BROKER_TRADING_KEY and BROKER_SECRET_KEY are required")
		}
		if c.BrokerConfig.DataKey == "" {
			return fmt.Errorf("BROKER_DATA_KEY is required")
		}
	}
	if c.BrokerConfig.DataFeed != "iex" && c.BrokerConfig.DataFeed != "sip" {
		return fmt.Errorf("DATA_FEED must be iex or sip, got %q", c.BrokerConfig.DataFeed)
	}
	if c.TradingConfig.Capital <= 0 {
		return fmt.Errorf("CAPITAL must be positive")
	}
	if c.TradingConfig.MaxPerTrade <= 0 {
		return fmt.Errorf("MAX_PER_TRADE must be positive")
	}
	if c.RiskConfig.DailyLossLimit <= 0 {
		return fmt.Errorf("DAILY_LOSS_LIMIT must be positive")
	}
	if c.RiskConfig.MaxPositions < 1 {
		return fmt.Errorf("MAX_POSITIONS must be at least 1")
	}
	sheetVars := 0
	for _, v := range []string{c.SheetConfig.ClientEmail, c.SheetConfig.PrivateKey, c.SheetConfig.SheetID} {
		if v != "" {
			sheetVars++
		}
	}
	if sheetVars != 0 && sheetVars != 3 {
		return fmt.Errorf("sheet export needs all of SHEET_CLIENT_EMAIL, SHEET_PRIVATE_KEY, SHEET_ID or none")
	}
	return nil
}

// SheetEnabled reports whether the Google Sheets export is configured.
func (c *Config) SheetEnabled() bool {
	return c.SheetConfig.ClientEmail != "" && c.SheetConfig.PrivateKey != "" && c.SheetConfig.SheetID != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
