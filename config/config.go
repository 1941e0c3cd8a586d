package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerConfig    ServerConfig    `json:"server"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	ProvidersConfig ProvidersConfig `json:"providers"`
	ScannerConfig   ScannerConfig   `json:"scanner"`
	BacktestConfig  BacktestConfig  `json:"backtest"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ProductionMode  bool          `json:"production_mode"`
	AllowedOrigins  string        `json:"allowed_origins"` // Comma-separated list
	RateLimit       int           `json:"rate_limit"`      // Requests per window per client
	RateLimitWindow time.Duration `json:"rate_limit_window"`
	ShutdownTimeout int           `json:"shutdown_timeout"` // Seconds
}

// OriginList splits the comma-separated origins into a slice.
func (s ServerConfig) OriginList() []string {
	var origins []string
	for _, origin := range strings.Split(s.AllowedOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for snapshot publishing
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ProviderSettings configures one market-data provider
type ProviderSettings struct {
	Enabled          bool              `json:"enabled"`
	Priority         int               `json:"priority"` // Lower value = tried first
	RateLimitPerHour float64           `json:"rate_limit_per_hour"`
	SymbolAliases    map[string]string `json:"symbol_aliases"` // Engine symbol -> venue symbol
}

// ProvidersConfig holds the market-data provider chain configuration
type ProvidersConfig struct {
	Binance           ProviderSettings `json:"binance"`
	Yahoo             ProviderSettings `json:"yahoo"`
	SimulatedFallback bool             `json:"simulated_fallback"` // Keep the offline provider as last resort
}

// ScannerConfig holds opportunity scanner configuration
type ScannerConfig struct {
	WorkerCount int `json:"worker_count"` // Concurrent symbol/timeframe evaluations
}

// BacktestConfig holds backtester configuration
type BacktestConfig struct {
	OptimizerWorkers int `json:"optimizer_workers"` // Concurrent grid evaluations
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", "false") == "true"
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS",
		valueOrDefault(cfg.ServerConfig.AllowedOrigins, "http://localhost:5173,http://localhost:3000"))
	cfg.ServerConfig.RateLimit = getEnvIntOrDefault("SERVER_RATE_LIMIT", 120)
	cfg.ServerConfig.RateLimitWindow = getEnvDurationOrDefault("SERVER_RATE_WINDOW", time.Minute)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", "false") == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", valueOrDefault(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", 5432)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", valueOrDefault(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", valueOrDefault(cfg.DatabaseConfig.Database, "market_analysis"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", valueOrDefault(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", valueOrDefault(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Provider config
	cfg.ProvidersConfig.Binance.Enabled = getEnvOrDefault("BINANCE_ENABLED", "true") == "true"
	cfg.ProvidersConfig.Binance.Priority = getEnvIntOrDefault("BINANCE_PRIORITY", 1)
	cfg.ProvidersConfig.Binance.RateLimitPerHour = getEnvFloatOrDefault("BINANCE_RATE_LIMIT_PER_HOUR", 1200)
	cfg.ProvidersConfig.Yahoo.Enabled = getEnvOrDefault("YAHOO_ENABLED", "true") == "true"
	cfg.ProvidersConfig.Yahoo.Priority = getEnvIntOrDefault("YAHOO_PRIORITY", 2)
	cfg.ProvidersConfig.Yahoo.RateLimitPerHour = getEnvFloatOrDefault("YAHOO_RATE_LIMIT_PER_HOUR", 330)
	cfg.ProvidersConfig.SimulatedFallback = getEnvOrDefault("SIMULATED_FALLBACK", "true") == "true"

	// Scanner config
	cfg.ScannerConfig.WorkerCount = getEnvIntOrDefault("SCANNER_WORKER_COUNT", 8)

	// Backtest config
	cfg.BacktestConfig.OptimizerWorkers = getEnvIntOrDefault("OPTIMIZER_WORKERS", 4)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func valueOrDefault(value, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
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

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ProductionMode:  false,
			AllowedOrigins:  "http://localhost:5173,http://localhost:3000",
			RateLimit:       120,
			RateLimitWindow: time.Minute,
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "",
			Database: "market_analysis",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		ProvidersConfig: ProvidersConfig{
			Binance: ProviderSettings{
				Enabled:          true,
				Priority:         1,
				RateLimitPerHour: 1200,
				SymbolAliases:    map[string]string{"BTC": "BTCUSDT", "ETH": "ETHUSDT"},
			},
			Yahoo: ProviderSettings{
				Enabled:          true,
				Priority:         2,
				RateLimitPerHour: 330,
				SymbolAliases:    map[string]string{"DJI": "^DJI", "SPX": "^GSPC"},
			},
			SimulatedFallback: true,
		},
		ScannerConfig: ScannerConfig{
			WorkerCount: 8,
		},
		BacktestConfig: BacktestConfig{
			OptimizerWorkers: 4,
		},
		LoggingConfig: LoggingConfig{
			Level:       "INFO",
			Output:      "stdout",
			JSONFormat:  true,
			IncludeFile: false,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
