// Package config loads the settings shared by the report and serve commands
// from the environment, with an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment stage
type Environment string

const (
	EnvDevelopment Environment = "dev"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
)

// Cache backends
const (
	CacheFile   = "file"
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// DefaultFuzzyThreshold is the minimum token set score for a name match
const DefaultFuzzyThreshold = 82.0

// Config holds all application configuration
type Config struct {
	Env               Environment
	LogLevel          string
	LogDir            string
	LogRetentionWeeks int
	MaxLogFileSize    int64

	FuzzyThreshold float64
	SynonymsFile   string

	EnrichmentEnabled bool
	RxNavBaseURL      string
	RxNavTimeout      time.Duration
	RxNavRate         float64
	EnrichWorkers     int

	CacheBackend   string
	CachePath      string
	CacheAutoFlush bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	Port              string
	Address           string
	ReportDir         string
	ReportScheduleDay int
}

// Load reads .env when present, then the environment, and validates the result
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Env:               Environment(strings.ToLower(getEnvWithDefault("ENV", "dev"))),
		LogLevel:          strings.ToLower(getEnvWithDefault("LOG_LEVEL", "info")),
		LogDir:            getEnvWithDefault("LOG_DIR", "logs"),
		LogRetentionWeeks: getIntEnvWithDefault("LOG_RETENTION_WEEKS", 4),
		MaxLogFileSize:    getInt64EnvWithDefault("MAX_LOG_FILE_SIZE", 104857600), // 100MB

		FuzzyThreshold: getFloatEnvWithDefault("FUZZY_THRESHOLD", DefaultFuzzyThreshold),
		SynonymsFile:   os.Getenv("SYNONYMS_FILE"),

		EnrichmentEnabled: getBoolEnvWithDefault("ENRICHMENT_ENABLED", false),
		RxNavBaseURL:      getEnvWithDefault("RXNAV_BASE_URL", "https://rxnav.nlm.nih.gov/REST"),
		RxNavTimeout:      getDurationEnvWithDefault("RXNAV_TIMEOUT", 10*time.Second),
		RxNavRate:         getFloatEnvWithDefault("RXNAV_RATE", 10),
		EnrichWorkers:     getIntEnvWithDefault("ENRICH_WORKERS", 4),

		CacheBackend:   strings.ToLower(getEnvWithDefault("CACHE_BACKEND", CacheFile)),
		CachePath:      os.Getenv("CACHE_PATH"),
		CacheAutoFlush: getBoolEnvWithDefault("CACHE_AUTO_FLUSH", false),
		RedisAddr:      getEnvWithDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getIntEnvWithDefault("REDIS_DB", 0),

		Port:              getEnvWithDefault("PORT", "8000"),
		Address:           getEnvWithDefault("ADDRESS", "127.0.0.1"),
		ReportDir:         getEnvWithDefault("REPORT_DIR", "reports"),
		ReportScheduleDay: getIntEnvWithDefault("REPORT_SCHEDULE_DAY", 1),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate re-checks the configuration after command line overrides
func (c *Config) Validate() error {
	return validateConfig(c)
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	if err := validateEnv(cfg.Env); err != nil {
		return fmt.Errorf("invalid ENV: %w", err)
	}

	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if err := validateLogRetentionWeeks(cfg.LogRetentionWeeks); err != nil {
		return fmt.Errorf("invalid LOG_RETENTION_WEEKS: %w", err)
	}

	if err := validateMaxLogFileSize(cfg.MaxLogFileSize); err != nil {
		return fmt.Errorf("invalid MAX_LOG_FILE_SIZE: %w", err)
	}

	if err := validateThreshold(cfg.FuzzyThreshold); err != nil {
		return fmt.Errorf("invalid FUZZY_THRESHOLD: %w", err)
	}

	if err := validateRxNav(cfg.RxNavBaseURL, cfg.RxNavTimeout, cfg.RxNavRate); err != nil {
		return fmt.Errorf("invalid RxNav settings: %w", err)
	}

	if cfg.EnrichWorkers < 1 || cfg.EnrichWorkers > 64 {
		return fmt.Errorf("invalid ENRICH_WORKERS: must be between 1 and 64, got: %d", cfg.EnrichWorkers)
	}

	if err := validateCache(cfg); err != nil {
		return fmt.Errorf("invalid cache settings: %w", err)
	}

	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}

	if err := validateAddress(cfg.Address); err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}

	if cfg.ReportScheduleDay < 1 || cfg.ReportScheduleDay > 28 {
		return fmt.Errorf("invalid REPORT_SCHEDULE_DAY: must be between 1 and 28, got: %d", cfg.ReportScheduleDay)
	}

	return nil
}

// validateEnv validates the ENV environment variable
func validateEnv(env Environment) error {
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction, EnvTest:
		return nil
	case "":
		return fmt.Errorf("ENV cannot be empty")
	}
	return fmt.Errorf("ENV must be one of: [dev staging prod test], got: %s", env)
}

// validateLogLevel validates the LOG_LEVEL environment variable
func validateLogLevel(logLevel string) error {
	if logLevel == "" {
		return fmt.Errorf("LOG_LEVEL cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		if logLevel == level {
			return nil
		}
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

// validateLogRetentionWeeks validates the LOG_RETENTION_WEEKS environment variable
func validateLogRetentionWeeks(weeks int) error {
	if weeks <= 0 {
		return fmt.Errorf("LOG_RETENTION_WEEKS must be positive, got: %d", weeks)
	}

	if weeks > 52 {
		return fmt.Errorf("LOG_RETENTION_WEEKS is too large (max 52 weeks), got: %d", weeks)
	}

	return nil
}

// validateMaxLogFileSize validates the MAX_LOG_FILE_SIZE environment variable
func validateMaxLogFileSize(size int64) error {
	// Minimum 1MB, maximum 1GB
	if size < 1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too small (min 1MB), got: %d bytes", size)
	}

	if size > 1024*1024*1024 {
		return fmt.Errorf("MAX_LOG_FILE_SIZE is too large (max 1GB), got: %d bytes", size)
	}

	return nil
}

func validateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 100 {
		return fmt.Errorf("threshold must be between 0 and 100, got: %g", threshold)
	}
	return nil
}

func validateRxNav(baseURL string, timeout time.Duration, rate float64) error {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return fmt.Errorf("RXNAV_BASE_URL must be an http(s) URL, got: %s", baseURL)
	}
	if timeout <= 0 || timeout > 2*time.Minute {
		return fmt.Errorf("RXNAV_TIMEOUT must be between 0 and 2m, got: %s", timeout)
	}
	if rate < 0 {
		return fmt.Errorf("RXNAV_RATE cannot be negative, got: %g", rate)
	}
	return nil
}

func validateCache(cfg *Config) error {
	switch cfg.CacheBackend {
	case CacheFile, CacheMemory:
		return nil
	case CacheRedis:
		if _, _, err := net.SplitHostPort(cfg.RedisAddr); err != nil {
			return fmt.Errorf("REDIS_ADDR must be host:port: %w", err)
		}
		if cfg.RedisDB < 0 || cfg.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be between 0 and 15, got: %d", cfg.RedisDB)
		}
		return nil
	}
	return fmt.Errorf("CACHE_BACKEND must be one of: [file redis memory], got: %s", cfg.CacheBackend)
}

// validatePort validates the PORT environment variable
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	if portNum < 1024 || portNum > 65535 {
		return fmt.Errorf("PORT must be between 1024 and 65535, got: %d", portNum)
	}

	return nil
}

// validateAddress validates the ADDRESS environment variable
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ADDRESS cannot be empty")
	}

	if address == "localhost" {
		return nil
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return fmt.Errorf("ADDRESS must be a valid IP address or 'localhost', got: %s", address)
	}

	if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() {
		return fmt.Errorf("ADDRESS %s is a public IP, consider using private network ranges for security", address)
	}

	return nil
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvWithDefault gets an environment variable as int with a default value
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getInt64EnvWithDefault gets an environment variable as int64 with a default value
func getInt64EnvWithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnvWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnvWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetEnvVars returns every environment variable the application reads
func GetEnvVars() []string {
	return []string{
		"ENV", "LOG_LEVEL", "LOG_DIR", "LOG_RETENTION_WEEKS", "MAX_LOG_FILE_SIZE",
		"FUZZY_THRESHOLD", "SYNONYMS_FILE",
		"ENRICHMENT_ENABLED", "RXNAV_BASE_URL", "RXNAV_TIMEOUT", "RXNAV_RATE", "ENRICH_WORKERS",
		"CACHE_BACKEND", "CACHE_PATH", "CACHE_AUTO_FLUSH", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"PORT", "ADDRESS", "REPORT_DIR", "REPORT_SCHEDULE_DAY",
	}
}
