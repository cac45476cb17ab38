// Package config reads the service settings from the environment,
// optionally seeded from .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type DB struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// Configured reports whether enough is set to open a connection.
func (d DB) Configured() bool { return d.Host != "" && d.Name != "" }

type Config struct {
	Port            string
	Env             string
	ExternalAPIURL  string
	UpstreamTimeout time.Duration

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	DB DB

	DataDir          string
	LogFile          string
	LogLevel         string
	RelayURL         string
	KeepAlive        time.Duration
	SectionsCacheTTL time.Duration
}

// Production reports whether ENV names a production deployment.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// Load reads the given .env files (missing ones are skipped, existing
// variables win) and then the process environment.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := sanitizeEnv(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var errs []string
	duration := func(key string, def int, unit time.Duration) time.Duration {
		raw := get(key, "")
		if raw == "" {
			return time.Duration(def) * unit
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("%s must be a non-negative integer, got %q", key, raw))
			return time.Duration(def) * unit
		}
		return time.Duration(n) * unit
	}

	cfg := Config{
		Port:            get("PORT", "8080"),
		Env:             get("ENV", "development"),
		ExternalAPIURL:  get("EXTERNAL_API_URL", ""),
		UpstreamTimeout: duration("UPSTREAM_TIMEOUT_SEC", 300, time.Second),
		OpenAIKey:       get("OPENAI_API_KEY", ""),
		OpenAIModel:     get("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   get("OPENAI_BASE_URL", ""),
		DB: DB{
			User:     get("DB_USER", ""),
			Password: get("DB_PASSWORD", ""),
			Host:     get("DB_HOST", ""),
			Port:     get("DB_PORT", "3306"),
			Name:     get("DB_NAME", ""),
		},
		DataDir:          get("DATA_DIR", "data"),
		LogFile:          get("LOG_FILE", ""),
		LogLevel:         get("LOG_LEVEL", "info"),
		RelayURL:         get("RELAY_URL", "http://localhost:8080/api/chat"),
		KeepAlive:        duration("KEEPALIVE_SEC", 15, time.Second),
		SectionsCacheTTL: duration("SECTIONS_CACHE_MIN", 10, time.Minute),
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// sanitizeEnv trims whitespace and one pair of matching surrounding quotes,
// which .env files copied between shells often carry.
func sanitizeEnv(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
	}
	return v
}
