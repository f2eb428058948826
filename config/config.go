package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppEnv string
	Port   string

	// Database (driver switch via ENV, default: sqlite3)
	DBDriver     string
	DBConnection string

	// Rules file (YAML). Empty means built-in defaults.
	PolicyFile string

	// HTTP
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	// Observability (optional)
	SentryDSN string
}

// Load reads the environment, after loading .env files if present. Later
// files do not override variables that are already set.
func Load(envFiles ...string) *Config {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	return &Config{
		AppEnv: envString("APP_ENV", "development"),
		Port:   envString("PORT", "8080"),

		DBDriver:     envString("DB_DRIVER", "sqlite3"),
		DBConnection: envString("DB_CONNECTION", "./data/streaks.db"),

		PolicyFile: envString("POLICY_FILE", ""),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),
		CORSOrigins:    envList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),

		SentryDSN: envString("SENTRY_DSN", ""),
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config invalid float, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

// envList splits a comma-separated value, dropping empty entries.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// RateLimited reports whether the per-caller limiter should be installed.
func (c *Config) RateLimited() bool {
	return c.RateLimitRPS > 0 && c.RateLimitBurst > 0
}
