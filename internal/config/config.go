package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName        = "AtlasPay"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	defaultBankTimeout    = 30 * time.Second
	defaultBankRetries    = 3
	defaultBankRetryDelay = time.Second

	defaultHoldingAccount = "holding:escrow"
	defaultFeeAccount     = "holding:fees"

	defaultSimSeedBalance = "1000"
	defaultSimMinLatency  = 50 * time.Millisecond
	defaultSimMaxLatency  = 300 * time.Millisecond
	defaultSimFailureRate = 0.05

	defaultProofTTL = 24 * time.Hour
)

// Bank captures the banking provider configuration. Provider forces the
// selection ("remote" or "simulated"); when unset the remote provider is
// used iff both APIURL and APIKey are present, so a missing upstream
// never fails startup.
type Bank struct {
	Provider   string
	APIURL     string
	APIKey     string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration

	HoldingAccount string
	FeeAccount     string

	FeePercent decimal.Decimal
	FeeMin     decimal.Decimal
	FeeMax     decimal.Decimal

	SimSeedBalance decimal.Decimal
	SimMinLatency  time.Duration
	SimMaxLatency  time.Duration
	SimFailureRate float64
}

// RemoteEnabled reports whether the remote provider should be used.
func (b Bank) RemoteEnabled() bool {
	switch strings.ToLower(b.Provider) {
	case "remote":
		return true
	case "simulated":
		return false
	}
	return b.APIURL != "" && b.APIKey != ""
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	Bank Bank

	ProofSecret string
	ProofTTL    time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ProofSecret:    os.Getenv("PROOF_SECRET"),
	}

	var err error
	if cfg.ShutdownPeriod, err = getDuration("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.ProofTTL, err = getDuration("PROOF_TTL", defaultProofTTL); err != nil {
		return Config{}, err
	}

	bank := Bank{
		Provider:       strings.ToLower(os.Getenv("BANK_PROVIDER")),
		APIURL:         strings.TrimRight(os.Getenv("BANK_API_URL"), "/"),
		APIKey:         os.Getenv("BANK_API_KEY"),
		HoldingAccount: getEnv("ESCROW_HOLDING_ACCOUNT", defaultHoldingAccount),
		FeeAccount:     getEnv("FEE_ACCOUNT", defaultFeeAccount),
	}
	switch bank.Provider {
	case "", "remote", "simulated":
	default:
		return Config{}, fmt.Errorf("invalid BANK_PROVIDER %q (want remote or simulated)", bank.Provider)
	}
	if bank.Provider == "remote" && (bank.APIURL == "" || bank.APIKey == "") {
		return Config{}, fmt.Errorf("BANK_PROVIDER=remote requires BANK_API_URL and BANK_API_KEY")
	}
	if bank.Timeout, err = getDuration("BANK_TIMEOUT", defaultBankTimeout); err != nil {
		return Config{}, err
	}
	if bank.Retries, err = getInt("BANK_RETRIES", defaultBankRetries); err != nil {
		return Config{}, err
	}
	if bank.RetryDelay, err = getDuration("BANK_RETRY_DELAY", defaultBankRetryDelay); err != nil {
		return Config{}, err
	}
	if bank.FeePercent, err = getDecimal("FEE_PERCENT", "0.02"); err != nil {
		return Config{}, err
	}
	if bank.FeeMin, err = getDecimal("FEE_MIN", "5"); err != nil {
		return Config{}, err
	}
	if bank.FeeMax, err = getDecimal("FEE_MAX", "100"); err != nil {
		return Config{}, err
	}
	if bank.SimSeedBalance, err = getDecimal("SIM_SEED_BALANCE", defaultSimSeedBalance); err != nil {
		return Config{}, err
	}
	if bank.SimMinLatency, err = getDuration("SIM_MIN_LATENCY", defaultSimMinLatency); err != nil {
		return Config{}, err
	}
	if bank.SimMaxLatency, err = getDuration("SIM_MAX_LATENCY", defaultSimMaxLatency); err != nil {
		return Config{}, err
	}
	if bank.SimFailureRate, err = getFloat("SIM_FAILURE_RATE", defaultSimFailureRate); err != nil {
		return Config{}, err
	}
	cfg.Bank = bank

	if cfg.ProofSecret == "" {
		return Config{}, fmt.Errorf("PROOF_SECRET must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
