package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"marketdata-etl/internal/domain"
	infraconfig "marketdata-etl/internal/infrastructure/config"

	"gopkg.in/yaml.v3"
)

// Budget is one provider's request allowance.
type Budget struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	Kind   string        `yaml:"kind"`
	Policy string        `yaml:"policy"`
}

type Config struct {
	// Common
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`
	// Storage
	Storage     string `yaml:"storage"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	// Providers
	Provider         string   `yaml:"provider"`
	StockdataBaseURL string   `yaml:"stockdata_base_url"`
	OERBaseURL       string   `yaml:"oer_base_url"`
	Symbols          []string `yaml:"symbols"`
	BaseCurrency     string   `yaml:"base_currency"`
	Currencies       []string `yaml:"currencies"`
	QuoteTimezone    string   `yaml:"quote_timezone"`
	// Scheduling
	QuoteCron     string        `yaml:"quote_cron"`
	RateCron      string        `yaml:"rate_cron"`
	CycleTimeout  time.Duration `yaml:"cycle_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	// Fetching
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMultiplier float64       `yaml:"retry_multiplier"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	StockdataBudget Budget        `yaml:"stockdata_budget"`
	OERBudget       Budget        `yaml:"oer_budget"`
	// Budget counters
	BudgetBackend string `yaml:"budget_backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	// Secrets
	SecretsBackend string `yaml:"secrets_backend"`
	SecretsFile    string `yaml:"secrets_file"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiDef(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func durDef(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func floatDef(s string, def float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func listDef(s string, def []string) []string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Env:              "local",
		LogLevel:         "info",
		Storage:          "sqlite",
		SQLitePath:       "marketdata.db",
		Provider:         "http",
		StockdataBaseURL: "https://api.stockdata.org",
		OERBaseURL:       "https://openexchangerates.org",
		Symbols:          []string{"AAPL", "TSLA", "MSFT"},
		BaseCurrency:     "USD",
		Currencies:       []string{"VND"},
		QuoteTimezone:    "America/New_York",
		QuoteCron:        "0 * * * *",
		RateCron:         "0 5 * * *",
		CycleTimeout:     infraconfig.DefaultCycleTimeout,
		ShutdownGrace:    infraconfig.DefaultShutdownTimeout,
		FetchTimeout:     infraconfig.DefaultFetchTimeout,
		RetryAttempts:    infraconfig.DefaultRetryAttempts,
		RetryBaseDelay:   infraconfig.DefaultRetryBaseDelay,
		RetryMultiplier:  infraconfig.DefaultRetryMultiplier,
		RetryMaxDelay:    infraconfig.DefaultRetryMaxDelay,
		// stockdata.org free plan: 100 requests a day
		StockdataBudget: Budget{Limit: 100, Window: 24 * time.Hour, Kind: "fixed", Policy: "fail"},
		// openexchangerates.org free plan: 1000 a month
		OERBudget:      Budget{Limit: 30, Window: 24 * time.Hour, Kind: "sliding", Policy: "fail"},
		BudgetBackend:  "memory",
		RedisAddr:      "localhost:6379",
		SecretsBackend: "env",
	}
}

// Load applies, in order: defaults, the YAML file named by CONFIG_PATH,
// then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config file: %v", domain.ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", domain.ErrInvalidConfig, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)

	c.Storage = getEnv("STORAGE", c.Storage)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)

	c.Provider = getEnv("PROVIDER", c.Provider)
	c.StockdataBaseURL = getEnv("STOCKDATA_BASE_URL", c.StockdataBaseURL)
	c.OERBaseURL = getEnv("OER_BASE_URL", c.OERBaseURL)
	c.Symbols = listDef(os.Getenv("SYMBOLS"), c.Symbols)
	c.BaseCurrency = getEnv("BASE_CURRENCY", c.BaseCurrency)
	c.Currencies = listDef(os.Getenv("CURRENCIES"), c.Currencies)
	c.QuoteTimezone = getEnv("QUOTE_TZ", c.QuoteTimezone)

	c.QuoteCron = getEnv("QUOTE_CRON", c.QuoteCron)
	c.RateCron = getEnv("RATE_CRON", c.RateCron)
	c.CycleTimeout = durDef(os.Getenv("CYCLE_TIMEOUT"), c.CycleTimeout)
	c.ShutdownGrace = durDef(os.Getenv("SHUTDOWN_GRACE"), c.ShutdownGrace)

	c.FetchTimeout = durDef(os.Getenv("FETCH_TIMEOUT"), c.FetchTimeout)
	c.RetryAttempts = atoiDef(os.Getenv("RETRY_ATTEMPTS"), c.RetryAttempts)
	c.RetryBaseDelay = durDef(os.Getenv("RETRY_BASE_DELAY"), c.RetryBaseDelay)
	c.RetryMultiplier = floatDef(os.Getenv("RETRY_MULTIPLIER"), c.RetryMultiplier)
	c.RetryMaxDelay = durDef(os.Getenv("RETRY_MAX_DELAY"), c.RetryMaxDelay)
	c.StockdataBudget = budgetEnv("STOCKDATA", c.StockdataBudget)
	c.OERBudget = budgetEnv("OER", c.OERBudget)

	c.BudgetBackend = getEnv("BUDGET_BACKEND", c.BudgetBackend)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = atoiDef(os.Getenv("REDIS_DB"), c.RedisDB)

	c.SecretsBackend = getEnv("SECRETS_BACKEND", c.SecretsBackend)
	c.SecretsFile = getEnv("SECRETS_FILE", c.SecretsFile)
}

// budgetEnv reads <PREFIX>_BUDGET_LIMIT, _WINDOW, _KIND and _POLICY.
func budgetEnv(prefix string, b Budget) Budget {
	p := prefix + "_BUDGET_"
	b.Limit = atoiDef(os.Getenv(p+"LIMIT"), b.Limit)
	b.Window = durDef(os.Getenv(p+"WINDOW"), b.Window)
	b.Kind = getEnv(p+"KIND", b.Kind)
	b.Policy = getEnv(p+"POLICY", b.Policy)
	return b
}

// Validate checks the settings that have no safe fallback.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage {
	case "pg":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORAGE=pg"))
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for STORAGE=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE %q", c.Storage))
	}
	switch c.Provider {
	case "http", "fake":
	default:
		errs = append(errs, fmt.Errorf("unknown PROVIDER %q", c.Provider))
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, errors.New("at least one symbol is required"))
	}
	for _, s := range c.Symbols {
		if !domain.ValidSymbol(domain.NormalizeCode(s)) {
			errs = append(errs, fmt.Errorf("invalid symbol %q", s))
		}
	}
	for _, cur := range append([]string{c.BaseCurrency}, c.Currencies...) {
		if !domain.ValidCurrency(domain.NormalizeCode(cur)) {
			errs = append(errs, fmt.Errorf("invalid currency %q", cur))
		}
	}
	if _, err := time.LoadLocation(c.QuoteTimezone); err != nil {
		errs = append(errs, fmt.Errorf("QUOTE_TZ: %v", err))
	}
	if c.QuoteCron == "" || c.RateCron == "" {
		errs = append(errs, errors.New("cron expressions must not be empty"))
	}
	if c.CycleTimeout <= 0 || c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.FetchTimeout > c.CycleTimeout {
		errs = append(errs, errors.New("FETCH_TIMEOUT exceeds CYCLE_TIMEOUT"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("RETRY_ATTEMPTS must be at least 1"))
	}
	if c.RetryMultiplier < 1 {
		errs = append(errs, errors.New("RETRY_MULTIPLIER must be at least 1"))
	}
	switch c.BudgetBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for BUDGET_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BUDGET_BACKEND %q", c.BudgetBackend))
	}
	switch c.SecretsBackend {
	case "env":
	case "file":
		if c.SecretsFile == "" {
			errs = append(errs, errors.New("SECRETS_FILE is required for SECRETS_BACKEND=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SECRETS_BACKEND %q", c.SecretsBackend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Location is the zone naive quote timestamps are read in.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.QuoteTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
