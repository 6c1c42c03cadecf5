package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"callscope/report-portal/report-portal-backend/internal/reports"
	"callscope/report-portal/report-portal-backend/internal/reports/athena"
	"callscope/report-portal/report-portal-backend/internal/reports/dashboard"
	"callscope/report-portal/report-portal-backend/internal/reports/delivery"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig          `json:"server"`
	Athena    athena.Config         `json:"athena"`
	Exports   delivery.Config       `json:"exports"`
	Dashboard DashboardConfig       `json:"dashboard"`
	Sessions  reports.ServiceConfig `json:"sessions"`
	Logging   LoggingConfig         `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`
	// Timezone used to interpret calendar dates sent by clients
	Timezone string `json:"timezone"`
}

// DashboardConfig represents the overview refresh configuration
type DashboardConfig struct {
	RefreshSpec string                     `json:"refresh_spec"`
	Aggregator  dashboard.AggregatorConfig `json:"aggregator"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// DefaultConfig returns the configuration used when no file or variable
// overrides a value
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Timezone:        "UTC",
		},
		Athena:  athena.DefaultConfig(),
		Exports: delivery.DefaultConfig(),
		Dashboard: DashboardConfig{
			RefreshSpec: dashboard.DefaultRefreshSpec,
			Aggregator:  dashboard.DefaultAggregatorConfig(),
		},
		Sessions: reports.DefaultServiceConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A
// .env file in the working directory, when present, is loaded first.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := DefaultConfig()

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Server.Timezone, err)
	}
	if c.Athena.Database == "" || c.Athena.Table == "" {
		return fmt.Errorf("athena database and table are required")
	}
	if c.Sessions.SessionCapacity <= 0 {
		return fmt.Errorf("session capacity must be positive")
	}
	return nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = splitList(origins)
	}
	if tz := os.Getenv("SERVER_TIMEZONE"); tz != "" {
		config.Server.Timezone = tz
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Athena.Region = region
	}
	if db := os.Getenv("ATHENA_DATABASE"); db != "" {
		config.Athena.Database = db
	}
	if table := os.Getenv("ATHENA_TABLE"); table != "" {
		config.Athena.Table = table
	}
	if wg := os.Getenv("ATHENA_WORKGROUP"); wg != "" {
		config.Athena.WorkGroup = wg
	}
	if out := os.Getenv("ATHENA_OUTPUT_LOCATION"); out != "" {
		config.Athena.OutputLocation = out
	}

	if bucket := os.Getenv("EXPORTS_BUCKET"); bucket != "" {
		config.Exports.Bucket = bucket
	}
	if prefix := os.Getenv("EXPORTS_PREFIX"); prefix != "" {
		config.Exports.Prefix = prefix
	}
	if d := durationEnv("EXPORTS_URL_EXPIRY"); d > 0 {
		config.Exports.URLExpiry = d
	}

	if spec := os.Getenv("DASHBOARD_REFRESH_SPEC"); spec != "" {
		config.Dashboard.RefreshSpec = spec
	}
	if d := durationEnv("DASHBOARD_CACHE_TTL"); d > 0 {
		config.Dashboard.Aggregator.CacheTTL = d
	}

	if capacity := os.Getenv("SESSION_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			config.Sessions.SessionCapacity = n
		}
	}
	if d := durationEnv("SESSION_TTL"); d > 0 {
		config.Sessions.SessionTTL = d
	}
	if d := durationEnv("QUERY_TIMEOUT"); d > 0 {
		config.Sessions.QueryTimeout = d
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if dev := os.Getenv("LOG_DEVELOPMENT"); dev != "" {
		config.Logging.Development, _ = strconv.ParseBool(dev)
	}
}

func durationEnv(key string) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location returns the configured timezone, falling back to UTC
func (c *ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
