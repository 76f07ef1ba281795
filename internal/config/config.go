package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// User storage backends.
const (
	UserBackendMongo    = "mongo"
	UserBackendPostgres = "postgres"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port           string
	MongoURI       string
	MongoDB        string
	JWTSecret      string
	LoginPassword  string
	UserBackend    string
	PostgresDSN    string
	RedisAddr      string
	RedisPassword  string
	RedisChannel   string
	AllowedOrigins []string
	LogLevel       string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:           getenv("PORT", "4000"),
		MongoURI:       getenv("MONGODB_URI", ""),
		MongoDB:        getenv("MONGODB_DB", "library"),
		JWTSecret:      getenv("JWT_SECRET", ""),
		LoginPassword:  getenv("LOGIN_PASSWORD", "secret"),
		UserBackend:    strings.ToLower(getenv("USER_BACKEND", UserBackendMongo)),
		PostgresDSN:    getenv("POSTGRES_DSN", ""),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisChannel:   getenv("REDIS_CHANNEL", "library:book-added"),
		AllowedOrigins: splitList(getenv("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGODB_URI is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.UserBackend {
	case UserBackendMongo:
	case UserBackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when USER_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown USER_BACKEND %q", c.UserBackend))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
