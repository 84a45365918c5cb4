package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	KurrentDB KurrentDBConfig
	Auth      AuthConfig
	Legacy    LegacyConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// KurrentDBConfig holds configuration for the KurrentDB (EventStoreDB)
// append-only audit stream.
type KurrentDBConfig struct {
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
}

// ConnectionString builds an esdb connection string.
func (k KurrentDBConfig) ConnectionString() string {
	creds := ""
	if k.Username != "" {
		creds = fmt.Sprintf("%s:%s@", k.Username, k.Password)
	}
	return fmt.Sprintf("esdb://%s%s:%d?tls=%t", creds, k.Host, k.Port, !k.Insecure)
}

type AuthConfig struct {
	JWTSecret string
}

// LegacyConfig holds configuration for the legacy tracker import adapter.
type LegacyConfig struct {
	// Enabled controls whether the importer runs
	Enabled bool
	// SQL Server connection settings of the legacy tracker
	Host     string
	Port     int
	Database string
	User     string
	Password string
	// PollIntervalSeconds between import sweeps
	PollIntervalSeconds int
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "trackline"),
			Password: getEnv("DB_PASSWORD", "trackline"),
			Database: getEnv("DB_NAME", "trackline"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		KurrentDB: KurrentDBConfig{
			Host:     getEnv("KURRENTDB_HOST", "localhost"),
			Port:     getEnvInt("KURRENTDB_PORT", 2113),
			Insecure: getEnvBool("KURRENTDB_INSECURE", true),
			Username: getEnv("KURRENTDB_USERNAME", ""),
			Password: getEnv("KURRENTDB_PASSWORD", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Legacy: LegacyConfig{
			Enabled:             getEnvBool("LEGACY_IMPORT_ENABLED", false),
			Host:                getEnv("LEGACY_DB_HOST", "localhost"),
			Port:                getEnvInt("LEGACY_DB_PORT", 1433),
			Database:            getEnv("LEGACY_DB_NAME", "tracker"),
			User:                getEnv("LEGACY_DB_USER", "sa"),
			Password:            getEnv("LEGACY_DB_PASSWORD", ""),
			PollIntervalSeconds: getEnvInt("LEGACY_POLL_INTERVAL_SECONDS", 300),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
