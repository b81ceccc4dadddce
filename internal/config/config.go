package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Environment string
	HTTPAddr    string
	MetricsAddr string
	BaseURL     string

	Database DatabaseConfig
	OAuth    OAuthConfig

	// DashboardAPIToken authenticates the tenant dashboard against the
	// control surface. Required outside development.
	DashboardAPIToken string

	// EncryptionKey is the process-wide AES-256 key protecting stored
	// credentials. Supplied externally, never derived from tenant data.
	EncryptionKey []byte

	// FallbackServiceAccountFile optionally points at a service account
	// key used as the last credential resolution tier for all tenants.
	FallbackServiceAccountFile string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// OAuthConfig holds the Google OAuth client used for per-tenant
// authorization-code flows.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Load loads configuration from environment variables. A .env file is
// honored in development only.
func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "production")
	if env == "development" {
		// Missing .env is fine; explicit env vars win either way.
		_ = godotenv.Load()
	}

	baseURL := strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/")

	cfg := &Config{
		Environment: env,
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		BaseURL:     baseURL,
		Database: DatabaseConfig{
			DSN:          getEnv("DATABASE_DSN", buildPostgresDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		OAuth: OAuthConfig{
			ClientID:     os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
			RedirectURL:  baseURL + "/api/calendar/oauth/callback",
		},
		DashboardAPIToken:          os.Getenv("DASHBOARD_API_TOKEN"),
		FallbackServiceAccountFile: os.Getenv("FALLBACK_SERVICE_ACCOUNT_FILE"),
	}

	key, err := loadEncryptionKey(env)
	if err != nil {
		return nil, err
	}
	cfg.EncryptionKey = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if len(c.EncryptionKey) != 32 {
			return fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY is required in production (32 bytes, base64)")
		}
		if c.DashboardAPIToken == "" {
			return fmt.Errorf("DASHBOARD_API_TOKEN is required in production")
		}
		if len(c.DashboardAPIToken) < 16 {
			return fmt.Errorf("DASHBOARD_API_TOKEN must be at least 16 characters")
		}
	}

	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return fmt.Errorf("GOOGLE_OAUTH_CLIENT_ID and GOOGLE_OAUTH_CLIENT_SECRET are required")
	}

	return nil
}

// HasFallbackCredential reports whether a process-wide fallback service
// account is configured.
func (c *Config) HasFallbackCredential() bool {
	return c.FallbackServiceAccountFile != ""
}

func loadEncryptionKey(env string) ([]byte, error) {
	encoded := os.Getenv("CREDENTIALS_ENCRYPTION_KEY")
	if encoded == "" {
		if env == "production" {
			return nil, fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY environment variable is required in production")
		}
		return nil, nil
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY must be base64 encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CREDENTIALS_ENCRYPTION_KEY must be 32 bytes, got %d", len(key))
	}

	return key, nil
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "frontdesk")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "frontdesk")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}
