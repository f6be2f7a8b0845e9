package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config holds the full gateway configuration. It is assembled once at
// startup from PGCRUD_* environment variables and never mutated afterwards;
// every component receives only the fields it needs.
type Config struct {
	DatabaseURL     string `validate:"required"`
	ReadDatabaseURL string

	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`

	IncludeSchemas []string
	ExcludeSchemas []string
	ExcludeTables  []string

	DefaultPageSize int `validate:"min=1"`
	MaxPageSize     int `validate:"min=1"`
	MaxBulkRows     int `validate:"min=1"`
	MaxBodyBytes    int `validate:"min=1"`

	DocsEnabled bool

	AuthEnabled  bool
	APIKeySecret string

	// CORSAllowAll is true when origins are "true"; otherwise CORSOrigins
	// lists the allowed origins. Both unset means CORS disabled.
	CORSAllowAll bool
	CORSOrigins  []string

	ExposeDBErrors bool

	PoolMaxConns int32 `validate:"min=1"`
}

// FromEnv builds the configuration from the process environment and
// validates it. Any failure here is fatal at startup.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     stripJDBCPrefix(os.Getenv("PGCRUD_DATABASE_URL")),
		ReadDatabaseURL: stripJDBCPrefix(os.Getenv("PGCRUD_READ_DATABASE_URL")),
		Host:            envOr("PGCRUD_HOST", "0.0.0.0"),
		Port:            envIntOr("PGCRUD_PORT", 3000),
		IncludeSchemas:  splitCSV(os.Getenv("PGCRUD_INCLUDE_SCHEMAS")),
		ExcludeSchemas:  splitCSV(os.Getenv("PGCRUD_EXCLUDE_SCHEMAS")),
		ExcludeTables:   splitCSV(os.Getenv("PGCRUD_EXCLUDE_TABLES")),
		DefaultPageSize: envIntOr("PGCRUD_DEFAULT_PAGE_SIZE", 20),
		MaxPageSize:     envIntOr("PGCRUD_MAX_PAGE_SIZE", 100),
		MaxBulkRows:     envIntOr("PGCRUD_MAX_BULK_ROWS", 1000),
		MaxBodyBytes:    envIntOr("PGCRUD_MAX_BODY_BYTES", 1<<20),
		DocsEnabled:     envBoolOr("PGCRUD_DOCS_ENABLED", true),
		AuthEnabled:     envBoolOr("PGCRUD_AUTH_ENABLED", false),
		APIKeySecret:    os.Getenv("PGCRUD_API_KEY_SECRET"),
		ExposeDBErrors:  envBoolOr("PGCRUD_EXPOSE_DB_ERRORS", false),
		PoolMaxConns:    int32(envIntOr("PGCRUD_POOL_MAX_CONNS", 10)),
	}

	cfg.CORSAllowAll, cfg.CORSOrigins = parseCORS(envOr("PGCRUD_CORS_ORIGINS", "true"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the gateway cannot start without.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.AuthEnabled && c.APIKeySecret == "" {
		return fmt.Errorf("invalid configuration: PGCRUD_API_KEY_SECRET is required when PGCRUD_AUTH_ENABLED is true")
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid configuration: max page size %d is below default page size %d", c.MaxPageSize, c.DefaultPageSize)
	}
	return nil
}

// stripJDBCPrefix removes a leading "jdbc:" from connection URLs pasted
// out of Java tooling.
func stripJDBCPrefix(url string) string {
	return strings.TrimPrefix(url, "jdbc:")
}

func parseCORS(raw string) (allowAll bool, origins []string) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "false":
		return false, nil
	case "true":
		return true, nil
	}
	return false, splitCSV(raw)
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
