package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ServiceName            string `yaml:"service_name"`
	Port                   int    `yaml:"port"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PaginationConfig struct {
	DefaultPage    int `yaml:"default_page"`
	DefaultPerPage int `yaml:"default_per_page"`
}

type ScheduleConfig struct {
	Method string `yaml:"method"`
	// InterestOnlyCountsAsPeriod controls whether an interest-only accrual
	// advances the installment cadence.
	InterestOnlyCountsAsPeriod bool `yaml:"interest_only_counts_as_period"`
}

// AppConfig is the main config struct that holds all configs
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LogConfig        `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Pagination PaginationConfig `yaml:"pagination"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

func assignDefaultConfigValues(cfg *AppConfig) {
	cfg.Server.ServiceName = GetEnvOrDefaultAsString("SERVICE_NAME", orString(cfg.Server.ServiceName, "loanledger"))
	cfg.Server.Port = GetEnvOrDefaultAsInt("SERVER_PORT", orInt(cfg.Server.Port, 8080))
	cfg.Server.ShutdownTimeoutSeconds = GetEnvOrDefaultAsInt("SHUTDOWN_TIMEOUT_SECONDS", orInt(cfg.Server.ShutdownTimeoutSeconds, 10))

	cfg.Logging.Level = GetEnvOrDefaultAsString("LOG_LEVEL", orString(cfg.Logging.Level, "info"))

	cfg.Database.Path = GetEnvOrDefaultAsString("DB_PATH", orString(cfg.Database.Path, "loanledger.db"))

	cfg.Pagination.DefaultPage = GetEnvOrDefaultAsInt("DEFAULT_PAGE", orInt(cfg.Pagination.DefaultPage, 1))
	cfg.Pagination.DefaultPerPage = GetEnvOrDefaultAsInt("DEFAULT_PER_PAGE", orInt(cfg.Pagination.DefaultPerPage, 10))

	cfg.Schedule.Method = GetEnvOrDefaultAsString("AMORTIZATION_METHOD", orString(cfg.Schedule.Method, "fixed_capital"))
	cfg.Schedule.InterestOnlyCountsAsPeriod = GetEnvOrDefaultAsBool("INTEREST_ONLY_COUNTS_AS_PERIOD", cfg.Schedule.InterestOnlyCountsAsPeriod)
}

func orString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// LoadFromConfigFilePath loads and parses a yaml config file into AppConfig,
// then overlays environment variables.
func LoadFromConfigFilePath(configPath string) (*AppConfig, error) {
	// #nosec G304: the path comes from the operator's environment
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	assignDefaultConfigValues(&cfg)
	return &cfg, nil
}

// Load reads an optional .env file and an optional yaml file named by
// CONFIG_PATH. Missing files are not an error; defaults and environment
// variables fill the rest.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	configPath := GetEnvOrDefaultAsString("CONFIG_PATH", "configs/config.yaml")
	cfg, err := LoadFromConfigFilePath(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &AppConfig{}
		assignDefaultConfigValues(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return cfg, nil
}

func GetEnvOrDefaultAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetEnvOrDefaultAsString returns the value of the given env variable or the default value if not set.
func GetEnvOrDefaultAsString(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func GetEnvOrDefaultAsBool(key string, defaultVal bool) bool {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return defaultVal
	}
	return b
}
