package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// API Configuration (todo backend)
	API APIConfig

	// Identity Provider Configuration
	Provider ProviderConfig

	// Session Configuration
	Session SessionConfig

	// LocalCloud Configuration (emulator server)
	LocalCloud LocalCloudConfig

	// Logging Configuration
	Logging LoggingConfig
}

// APIConfig holds todo backend configuration
type APIConfig struct {
	BaseURL string
}

// ProviderConfig selects and configures the identity provider
type ProviderConfig struct {
	Kind    string // local, cognito
	Cognito CognitoConfig
}

// CognitoConfig holds Cognito user pool client configuration
type CognitoConfig struct {
	Region       string
	ClientID     string
	ClientSecret string
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	RefreshInterval time.Duration // interval between automatic token refreshes
	ReadyTimeout    time.Duration // max wait for the startup session check
}

// LocalCloudConfig holds configuration for the localcloud emulator server
type LocalCloudConfig struct {
	Address         string
	DatabaseURL     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	AllowedOrigins  []string
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	refreshInterval, err := durationEnv("SESSION_REFRESH_INTERVAL", 45*time.Minute)
	if err != nil {
		return nil, err
	}

	readyTimeout, err := durationEnv("SESSION_READY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	accessTTL, err := durationEnv("ACCESS_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, err
	}

	refreshTTL, err := durationEnv("REFRESH_TOKEN_TTL", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		API: APIConfig{
			BaseURL: getEnv("TODOCLOUD_API_URL", "http://localhost:8085"),
		},
		Provider: ProviderConfig{
			Kind: getEnv("TODOCLOUD_PROVIDER", "local"),
			Cognito: CognitoConfig{
				Region:       os.Getenv("COGNITO_REGION"),
				ClientID:     os.Getenv("COGNITO_CLIENT_ID"),
				ClientSecret: os.Getenv("COGNITO_CLIENT_SECRET"),
			},
		},
		Session: SessionConfig{
			RefreshInterval: refreshInterval,
			ReadyTimeout:    readyTimeout,
		},
		LocalCloud: LocalCloudConfig{
			Address:         getEnv("LOCALCLOUD_ADDRESS", ":8085"),
			DatabaseURL:     getEnv("DATABASE_URL", "localcloud.sqlite"),
			AccessTokenTTL:  accessTTL,
			RefreshTokenTTL: refreshTTL,
			AllowedOrigins:  splitEnv("LOCALCLOUD_CORS_ORIGINS", []string{"http://localhost:4200"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}, nil
}

// getEnv returns the value of the environment variable or the fallback
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// durationEnv parses a duration environment variable, e.g. "45m" or "1h30m"
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

// splitEnv parses a comma-separated environment variable into a list
func splitEnv(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
