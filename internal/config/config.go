// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every runtime setting the server reads from the environment.
// Values come from env vars (a .env file is auto-loaded in main); each field
// has a sensible development default.
type Config struct {
	Addr string // HTTP + WebSocket listen address

	PGUser     string
	PGPassword string
	PGHost     string
	PGPort     string
	PGDatabase string

	RedisAddr   string
	RedisDB     int
	JournalList string // Redis list the move journal is pushed onto
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Addr: getEnv("FACEOFF_ADDR", ":8080"),

		PGUser:     getEnv("POSTGRES_USER", "postgres"),
		PGPassword: getEnv("POSTGRES_PASSWORD", "postgres"),
		PGHost:     getEnv("PG_HOST", "localhost"),
		PGPort:     getEnv("PG_PORT", "5432"),
		PGDatabase: getEnv("PG_DATABASE", "faceoff"),

		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		JournalList: getEnv("JOURNAL_LIST", "faceoff_moves"),
	}
}

// PostgresURL assembles the pgx connection string.
func (c Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
