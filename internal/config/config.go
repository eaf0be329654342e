// Package config provides configuration management for the execution engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Hari-sh-S/options-algo/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig          `mapstructure:"trading"`
	Execution     ExecutionConfig        `mapstructure:"execution"`
	StopLoss      StopLossConfig         `mapstructure:"stoploss"`
	Scheduler     SchedulerConfig        `mapstructure:"scheduler"`
	SquareOff     SquareOffConfig        `mapstructure:"squareoff"`
	Broker        BrokerConfig           `mapstructure:"broker"`
	Store         StoreConfig            `mapstructure:"store"`
	API           APIConfig              `mapstructure:"api"`
	Logging       LoggingConfig          `mapstructure:"logging"`
	Notifications NotificationConfig     `mapstructure:"notifications"`
	Paper         PaperConfig            `mapstructure:"paper"`
	Indices       map[string]IndexConfig `mapstructure:"indices"`
	Accounts      []AccountConfig        `mapstructure:"accounts"`
	Credentials   Credentials            `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode    string `mapstructure:"mode"`    // "live", "paper"
	Product string `mapstructure:"product"` // MIS, NRML
}

// ExecutionConfig controls fill confirmation.
type ExecutionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	FillTimeout  time.Duration `mapstructure:"fill_timeout"`
}

// StopLossConfig controls stop-loss order construction.
type StopLossConfig struct {
	TickSize float64 `mapstructure:"tick_size"` // 0 disables tick rounding
}

// SchedulerConfig holds the deferred job scheduler settings.
type SchedulerConfig struct {
	MissedPolicy string        `mapstructure:"missed_policy"` // "drop", "fire"
	MissedGrace  time.Duration `mapstructure:"missed_grace"`
	HistorySize  int           `mapstructure:"history_size"`
}

// SquareOffConfig holds auto square-off settings.
type SquareOffConfig struct {
	DailyAt string `mapstructure:"daily_at"` // HH:MM[:SS] IST, empty disables
}

// BrokerConfig holds gateway protection settings.
type BrokerConfig struct {
	RateLimit        float64       `mapstructure:"rate_limit"` // requests per second
	Burst            int           `mapstructure:"burst"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	ReadRetries      int           `mapstructure:"read_retries"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"` // "memory", "sqlite", "redis"
	SQLitePath    string `mapstructure:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// APIConfig holds the HTTP job-control API settings.
type APIConfig struct {
	Addr           string        `mapstructure:"addr"`
	DefaultOwner   string        `mapstructure:"default_owner"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig holds logging and audit configuration.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Console      bool   `mapstructure:"console"`
	File         bool   `mapstructure:"file"`
	FilePath     string `mapstructure:"file_path"`
	MaxSize      int    `mapstructure:"max_size"`
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAge       int    `mapstructure:"max_age"`
	AuditEnabled bool   `mapstructure:"audit_enabled"`
	AuditDir     string `mapstructure:"audit_dir"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // all, trades_only, errors_only
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// PaperConfig configures the simulated gateway.
type PaperConfig struct {
	Spot       map[string]float64 `mapstructure:"spot"`
	Volatility float64            `mapstructure:"volatility"`
	Strikes    int                `mapstructure:"strikes"` // strikes quoted on each side of ATM
}

// IndexConfig overrides contract details for one index.
type IndexConfig struct {
	LotSize        int     `mapstructure:"lot_size"`
	StrikeInterval float64 `mapstructure:"strike_interval"`
	Exchange       string  `mapstructure:"exchange"`
	SpotSymbol     string  `mapstructure:"spot_symbol"`
}

// AccountConfig binds an owner to a trading mode.
type AccountConfig struct {
	Owner string `mapstructure:"owner"`
	Mode  string `mapstructure:"mode"` // "live", "paper"; empty inherits trading.mode
}

// Credentials holds API credentials keyed by owner.
type Credentials struct {
	Zerodha map[string]ZerodhaCredentials `mapstructure:"zerodha"`
}

// ZerodhaCredentials holds Zerodha API credentials.
type ZerodhaCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	AccessToken string `mapstructure:"access_token"`
	TokenPath   string `mapstructure:"token_path"`
}

// For returns the Zerodha credentials of an owner. Viper lowercases map keys,
// so lookups are case-insensitive.
func (c Credentials) For(owner string) (ZerodhaCredentials, bool) {
	creds, ok := c.Zerodha[strings.ToLower(owner)]
	return creds, ok
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/options-algo"
	}
	return filepath.Join(home, ".config", "options-algo")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// Optional .env next to the TOML files
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDerivedDefaults(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.mode", "paper")
	v.SetDefault("trading.product", "MIS")

	v.SetDefault("execution.poll_interval", 2*time.Second)
	v.SetDefault("execution.fill_timeout", 30*time.Second)

	v.SetDefault("stoploss.tick_size", 0.05)

	v.SetDefault("scheduler.missed_policy", "drop")
	v.SetDefault("scheduler.missed_grace", 5*time.Minute)
	v.SetDefault("scheduler.history_size", 200)

	v.SetDefault("broker.rate_limit", 8.0)
	v.SetDefault("broker.burst", 4)
	v.SetDefault("broker.call_timeout", 10*time.Second)
	v.SetDefault("broker.read_retries", 3)
	v.SetDefault("broker.failure_threshold", 5)
	v.SetDefault("broker.reset_timeout", 30*time.Second)

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_prefix", "algo")

	v.SetDefault("api.addr", "127.0.0.1:8080")
	v.SetDefault("api.default_owner", "default")
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.burst", 40)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("api.request_timeout", 90*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.audit_enabled", true)

	v.SetDefault("notifications.level", "all")

	v.SetDefault("paper.volatility", 0.006)
	v.SetDefault("paper.strikes", 20)
	v.SetDefault("paper.spot", map[string]float64{"NIFTY": 22000, "SENSEX": 72000})
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Config file not found, create template and continue on defaults
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALGO_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("ALGO_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("ALGO_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("ALGO_REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}

	// Zerodha credentials apply to the default owner
	owner := cfg.API.DefaultOwner
	if owner == "" {
		owner = "default"
	}
	owner = strings.ToLower(owner)
	creds := cfg.Credentials.Zerodha[owner]
	changed := false
	if v := os.Getenv("ZERODHA_API_KEY"); v != "" {
		creds.APIKey = v
		changed = true
	}
	if v := os.Getenv("ZERODHA_API_SECRET"); v != "" {
		creds.APISecret = v
		changed = true
	}
	if v := os.Getenv("ZERODHA_ACCESS_TOKEN"); v != "" {
		creds.AccessToken = v
		changed = true
	}
	if changed {
		if cfg.Credentials.Zerodha == nil {
			cfg.Credentials.Zerodha = make(map[string]ZerodhaCredentials)
		}
		cfg.Credentials.Zerodha[owner] = creds
	}
}

func (c *Config) applyDerivedDefaults(configDir string) {
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = filepath.Join(configDir, "algo.db")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(configDir, "logs", "algo.log")
	}
	if c.Logging.AuditDir == "" {
		c.Logging.AuditDir = filepath.Join(configDir, "audit")
	}
	if len(c.Accounts) == 0 {
		c.Accounts = []AccountConfig{{Owner: c.API.DefaultOwner}}
	}
	for i := range c.Accounts {
		if c.Accounts[i].Mode == "" {
			c.Accounts[i].Mode = c.Trading.Mode
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !validMode(c.Trading.Mode) {
		return fmt.Errorf("invalid trading mode: %s (must be 'live' or 'paper')", c.Trading.Mode)
	}
	if c.Trading.Product != "" && c.Trading.Product != string(models.ProductMIS) && c.Trading.Product != string(models.ProductNRML) {
		return fmt.Errorf("invalid product: %s (must be MIS or NRML)", c.Trading.Product)
	}

	if c.Execution.PollInterval <= 0 {
		return fmt.Errorf("execution.poll_interval must be positive")
	}
	if c.Execution.FillTimeout < c.Execution.PollInterval {
		return fmt.Errorf("execution.fill_timeout must be at least poll_interval")
	}
	if c.StopLoss.TickSize < 0 {
		return fmt.Errorf("stoploss.tick_size must be non-negative")
	}

	switch c.Scheduler.MissedPolicy {
	case "drop", "fire":
	default:
		return fmt.Errorf("invalid scheduler.missed_policy: %s (must be 'drop' or 'fire')", c.Scheduler.MissedPolicy)
	}
	if c.Scheduler.MissedGrace < 0 {
		return fmt.Errorf("scheduler.missed_grace must be non-negative")
	}

	if c.SquareOff.DailyAt != "" {
		if _, _, _, err := ParseClock(c.SquareOff.DailyAt); err != nil {
			return fmt.Errorf("squareoff.daily_at: %w", err)
		}
	}

	switch c.Store.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("invalid store.backend: %s (must be memory, sqlite or redis)", c.Store.Backend)
	}

	if c.Broker.RateLimit <= 0 || c.Broker.Burst <= 0 {
		return fmt.Errorf("broker.rate_limit and broker.burst must be positive")
	}

	for name, idx := range c.Indices {
		if _, ok := models.ParseIndex(name); !ok {
			return fmt.Errorf("unknown index in [indices]: %s", name)
		}
		if idx.LotSize < 0 || idx.StrikeInterval < 0 {
			return fmt.Errorf("indices.%s: lot_size and strike_interval must be non-negative", name)
		}
	}

	seen := make(map[string]bool)
	for _, acct := range c.Accounts {
		if acct.Owner == "" {
			return fmt.Errorf("account owner must not be empty")
		}
		if seen[acct.Owner] {
			return fmt.Errorf("duplicate account owner: %s", acct.Owner)
		}
		seen[acct.Owner] = true
		if acct.Mode != "" && !validMode(acct.Mode) {
			return fmt.Errorf("account %s: invalid mode %s", acct.Owner, acct.Mode)
		}
	}

	return nil
}

func validMode(mode string) bool {
	return mode == "live" || mode == "paper"
}

// IsPaperMode returns true if paper trading mode is enabled.
func (c *Config) IsPaperMode() bool {
	return c.Trading.Mode == "paper"
}

// IndexSpecs merges configured overrides onto the built-in contract details.
func (c *Config) IndexSpecs() map[models.Index]models.IndexSpec {
	specs := models.DefaultIndexSpecs()
	for name, override := range c.Indices {
		idx, ok := models.ParseIndex(name)
		if !ok {
			continue
		}
		spec := specs[idx]
		if override.LotSize > 0 {
			spec.LotSize = override.LotSize
		}
		if override.StrikeInterval > 0 {
			spec.StrikeInterval = override.StrikeInterval
		}
		if override.Exchange != "" {
			spec.Exchange = models.Exchange(strings.ToUpper(override.Exchange))
		}
		if override.SpotSymbol != "" {
			spec.SpotSymbol = override.SpotSymbol
		}
		specs[idx] = spec
	}
	return specs
}

// Owners returns the configured account owners.
func (c *Config) Owners() []string {
	owners := make([]string, 0, len(c.Accounts))
	for _, acct := range c.Accounts {
		owners = append(owners, acct.Owner)
	}
	return owners
}

// ParseClock parses HH:MM or HH:MM:SS.
func ParseClock(s string) (hour, minute, second int, err error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		t, perr := time.Parse(layout, strings.TrimSpace(s))
		if perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("invalid clock time %q (want HH:MM or HH:MM:SS)", s)
}
