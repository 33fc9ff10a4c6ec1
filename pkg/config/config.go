package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the typed view of the service environment.
type Config struct {
	Environment     string
	ServiceVersion  string
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	TokenTTL        time.Duration
	LogLevel        string
	SigningKey      string // raw JSON {id, privateKey}
	PreviousKeys    string // raw JSON array, JWKS only
	DataDir         string

	// Optional Consul catalog self-registration (build tag consul).
	ConsulAddr        string
	ConsulServiceName string
}

// FromEnv reads the environment into a Config, loading .env first when
// present.
func FromEnv() Config {
	_ = loadDotEnv()
	return Config{
		Environment:       getenv("ENVIRONMENT", "development"),
		ServiceVersion:    getenv("SERVICE_VERSION", "0.0.0"),
		DefaultTTL:        time.Duration(getint("DEFAULT_TTL_SECONDS", 300)) * time.Second,
		CleanupInterval:   time.Duration(getint("CLEANUP_INTERVAL_MS", 60000)) * time.Millisecond,
		TokenTTL:          time.Duration(getint("TOKEN_TTL_SECONDS", 300)) * time.Second,
		LogLevel:          getenv("LOG_LEVEL", "info"),
		SigningKey:        os.Getenv("DISCOVERY_SIGNING_KEY"),
		PreviousKeys:      os.Getenv("DISCOVERY_PREVIOUS_KEYS"),
		DataDir:           getenv("DISCOVERY_DATA_DIR", "./data"),
		ConsulAddr:        os.Getenv("CONSUL_ADDR"),
		ConsulServiceName: getenv("CONSUL_SERVICE_NAME", "coral-discovery"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}
