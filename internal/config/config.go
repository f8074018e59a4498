// Package config loads cmd/groupdemo's runtime configuration from a
// .env file (via godotenv) and the environment, following the teacher's
// DB_URL-falls-back-to-TURSO_* precedence pattern in server/cmd/server/main.go.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config is everything cmd/groupdemo needs to wire concrete adapters.
type Config struct {
	// AblyAPIKey is the key the Ably transport adapter connects with; the
	// adapter itself is selected by cmd/groupdemo's -ably flag.
	AblyAPIKey    string
	AblyChannel   string
	SQLitePath    string
	KeychainApp   string
	LogLevel      string
}

// Load reads envFile (if present — a missing file is not an error, matching
// the teacher's `_ = godotenv.Load(...)`) and the process environment.
func Load(envFile string) Config {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	return Config{
		AblyAPIKey:  os.Getenv("ABLY_API_KEY"),
		AblyChannel: getenvDefault("ABLY_CHANNEL", "groupcrypto-demo"),
		SQLitePath:  getenvDefault("SQLITE_PATH", ""),
		KeychainApp: getenvDefault("KEYCHAIN_APP", "groupcrypto"),
		LogLevel:    getenvDefault("LOG_LEVEL", "info"),
	}
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
