package journal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// PostgresConfig holds the PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// PostgresConfigFromEnv reads POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
// POSTGRES_PASSWORD and POSTGRES_SSLMODE.
func PostgresConfigFromEnv() PostgresConfig {
	return PostgresConfigFromLookup(os.LookupEnv)
}

// PostgresConfigFromLookup is PostgresConfigFromEnv with an injected lookup.
func PostgresConfigFromLookup(lookupEnv func(string) (string, bool)) PostgresConfig {
	get := func(name string) string {
		v, _ := lookupEnv(name)
		return v
	}
	return PostgresConfig{
		Host:     get("POSTGRES_HOST"),
		Port:     get("POSTGRES_PORT"),
		Database: get("POSTGRES_DB"),
		Username: get("POSTGRES_USER"),
		Password: get("POSTGRES_PASSWORD"),
		SSLMode:  get("POSTGRES_SSLMODE"),
	}
}

// Enabled reports whether enough is configured to connect.
func (cfg PostgresConfig) Enabled() bool {
	return strings.TrimSpace(cfg.Database) != ""
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.Database == "" {
		return errors.New("POSTGRES_DB is required")
	}
	if cfg.Username == "" {
		return errors.New("POSTGRES_USER is required")
	}
	if cfg.Password == "" {
		return errors.New("POSTGRES_PASSWORD is required")
	}
	return nil
}

// ConnString returns a postgres:// URL. Validate must have been called.
func (cfg PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
	}
	return u.String()
}

// String describes the target without the password.
func (cfg PostgresConfig) String() string {
	return fmt.Sprintf("host=%s port=%s database=%s username=%s", cfg.Host, cfg.Port, cfg.Database, cfg.Username)
}
