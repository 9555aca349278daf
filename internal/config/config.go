package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	LogLevel                 string

	AllowAnyOrigin bool

	DefaultProvider string
	MistralBaseURL  string
	MistralModel    string
	OpenAIBaseURL   string
	OpenAIModel     string
	ProxyAddr       string
	KeyValidation   string

	SettingsStore    string
	SettingsFile     string
	DatabaseURL      string
	RedisURL         string
	RedisSettingsKey string

	SearchURL           string
	ChatURL             string
	EncyclopediaBaseURL string
	Timezone            string
}

// LoadEnvFile merges variables from a dotenv file into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "jarvis"),
		LogLevel:         strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		AllowAnyOrigin:   false,
		DefaultProvider:  strings.ToLower(envOrDefault("JARVIS_PROVIDER", "mistral")),
		MistralBaseURL:   envOrDefault("MISTRAL_BASE_URL", "https://api.mistral.ai/v1/"),
		MistralModel:     envOrDefault("MISTRAL_MODEL", "mistral-small-latest"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1/"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-3.5-turbo"),
		ProxyAddr:        stringsTrimSpace("JARVIS_PROXY_ADDR"),
		// Keys are checked against the backend when saved; "none" defers to first use.
		KeyValidation:       strings.ToLower(envOrDefault("JARVIS_KEY_VALIDATION", "remote")),
		SettingsStore:       strings.ToLower(envOrDefault("JARVIS_SETTINGS_STORE", "auto")),
		SettingsFile:        envOrDefault("JARVIS_SETTINGS_FILE", ".jarvis/settings.json"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		RedisURL:            stringsTrimSpace("REDIS_URL"),
		RedisSettingsKey:    envOrDefault("JARVIS_REDIS_SETTINGS_KEY", "jarvis:settings"),
		SearchURL:           envOrDefault("JARVIS_SEARCH_URL", "https://google.com"),
		ChatURL:             envOrDefault("JARVIS_CHAT_URL", "https://chat.openai.com"),
		EncyclopediaBaseURL: envOrDefault("JARVIS_ENCYCLOPEDIA_URL", "https://ru.wikipedia.org/wiki/"),
		Timezone:            envOrDefault("JARVIS_TIMEZONE", "Local"),
		ShutdownTimeout:     15 * time.Second,
		// Browser tabs idle for long stretches between commands.
		SessionInactivityTimeout: 30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Load calls it; callers that
// override fields from flags should call it again.
func (c Config) Validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid APP_LOG_LEVEL: %q (expected debug|info|warn|error)", c.LogLevel)
	}
	switch c.DefaultProvider {
	case "mistral", "openai":
	default:
		return fmt.Errorf("invalid JARVIS_PROVIDER: %q (expected mistral|openai)", c.DefaultProvider)
	}
	switch c.KeyValidation {
	case "none", "remote":
	default:
		return fmt.Errorf("invalid JARVIS_KEY_VALIDATION: %q (expected none|remote)", c.KeyValidation)
	}
	switch c.SettingsStore {
	case "auto", "memory", "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("JARVIS_SETTINGS_STORE=postgres requires DATABASE_URL")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("JARVIS_SETTINGS_STORE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("invalid JARVIS_SETTINGS_STORE: %q (expected auto|memory|file|postgres|redis)", c.SettingsStore)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the timezone used for spoken time and date answers.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("JARVIS_TIMEZONE parse error: %w", err)
	}
	return loc, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		switch v {
		case "yes", "y", "on":
			return true, nil
		case "no", "n", "off":
			return false, nil
		}
		return false, fmt.Errorf("%s parse error: %w", key, err)
	}
	return b, nil
}
