package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration values for the client core
// and the development relay. Values are loaded from a .env file at
// startup when present, then from the environment.
type Config struct {
	// ServerURL is the base URL of the workspace backend, used for both
	// the websocket push connection and the REST backstop
	ServerURL string

	// Token is the credential presented when connecting the push
	// transport and calling the REST API
	Token string

	// DataDir is where the durable client store lives (active huddle
	// pointer, window state, attendance)
	DataDir string

	// HuddleAutoRejoin controls whether a restored huddle session
	// re-acquires media and rejoins automatically after a reload
	HuddleAutoRejoin bool

	// PendingTimeout is how long an optimistic send may stay
	// unconfirmed before it is marked failed
	PendingTimeout time.Duration

	// LogLevel is the zap level for the process logger
	LogLevel string

	// RelayPort is the port the development relay listens on
	RelayPort string

	// RelayAuthToken is the token the relay accepts at connect time;
	// empty disables the check (local development)
	RelayAuthToken string
}

// Load reads environment variables and returns a populated Config.
// Falls back to sensible local-development defaults.
func Load() *Config {
	// Not an error if the .env file doesn't exist - we may be running
	// with real environment variables.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		ServerURL:        getEnv("PERCH_SERVER_URL", "http://localhost:8080"),
		Token:            getEnv("PERCH_TOKEN", ""),
		DataDir:          getEnv("PERCH_DATA_DIR", ".perch"),
		HuddleAutoRejoin: getBool("PERCH_HUDDLE_AUTOREJOIN", false),
		PendingTimeout:   getDuration("PERCH_PENDING_TIMEOUT", 30*time.Second),
		LogLevel:         getEnv("PERCH_LOG_LEVEL", "info"),
		RelayPort:        getEnv("PORT", "8080"),
		RelayAuthToken:   getEnv("RELAY_AUTH_TOKEN", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a boolean, using default", key, value)
		return defaultValue
	}
	return parsed
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("WARNING: %s=%q is not a duration, using default", key, value)
		return defaultValue
	}
	return parsed
}
