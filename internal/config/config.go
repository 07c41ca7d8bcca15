package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrConfiguration marks a missing or invalid setting. It is fatal at startup.
var ErrConfiguration = errors.New("configuration error")

var validate = validator.New()

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DBConfig selects and tunes the storage backend.
type DBConfig struct {
	Driver     string `validate:"oneof=postgres sqlite memory"`
	DSN        string `validate:"required_if=Driver postgres"`
	SQLitePath string `validate:"required_if=Driver sqlite"`

	MaxDBConnections int
	MinDBConnections int
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
}

type AppConfig struct {
	AppEnv   string `validate:"oneof=dev prod"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// TempestToken is the bearer credential for both the stream and REST API.
	TempestToken string `validate:"required"`
	DeviceID     int64  `validate:"gt=0"`

	StreamURL   string `validate:"required,url"`
	RESTBaseURL string `validate:"required,url"`

	// RapidWind additionally subscribes to the 3-second wind feed.
	RapidWind bool

	// ReconnectDelay is the pause after a clean remote closure,
	// RestartDelay the pause after a transport failure.
	ReconnectDelay time.Duration `validate:"gt=0"`
	RestartDelay   time.Duration `validate:"gt=0"`
	// RunOnceTimeout bounds a single streaming run.
	RunOnceTimeout time.Duration `validate:"gt=0"`

	// Lookback is the trailing window re-queried on every poll.
	Lookback     time.Duration `validate:"gt=0"`
	PollInterval time.Duration `validate:"gt=0"`
	HTTPTimeout  time.Duration `validate:"gt=0"`

	DB DBConfig

	KafkaBrokers  []string
	KafkaDLQTopic string `validate:"required_with=KafkaBrokers"`

	// StatusAddr is the listen address of the status API; empty disables it.
	StatusAddr string
}

// Load reads configuration from environment (and an optional .env file)
// with sensible defaults, then validates it.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.AppEnv = getenvDefault("APP_ENV", "prod")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))

	cfg.TempestToken = strings.TrimSpace(os.Getenv("TEMPEST_TOKEN"))

	deviceID, err := strconv.ParseInt(getenvDefault("TEMPEST_DEVICE_ID", "469455"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid TEMPEST_DEVICE_ID: %v", ErrConfiguration, err)
	}
	cfg.DeviceID = deviceID

	cfg.StreamURL = getenvDefault("STREAM_URL", "wss://ws.weatherflow.com/swd/data")
	cfg.RESTBaseURL = getenvDefault("REST_BASE_URL", "https://swd.weatherflow.com/swd/rest")
	cfg.RapidWind = getenvBool("STREAM_RAPID_WIND", false)

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"RECONNECT_DELAY", "5s", &cfg.ReconnectDelay},
		{"RESTART_DELAY", "10s", &cfg.RestartDelay},
		{"RUN_ONCE_TIMEOUT", "2m", &cfg.RunOnceTimeout},
		{"LOOKBACK", "15m", &cfg.Lookback},
		{"POLL_INTERVAL", "5m", &cfg.PollInterval},
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"MAX_CONN_LIFETIME", "1h", &cfg.DB.MaxConnLifetime},
		{"MAX_CONN_IDLE_TIME", "30m", &cfg.DB.MaxConnIdleTime},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	cfg.DB.Driver = getenvDefault("STORAGE_DRIVER", DriverPostgres)
	cfg.DB.DSN = os.Getenv("DATABASE_URL")
	cfg.DB.SQLitePath = getenvDefault("SQLITE_PATH", "data/tempest.db")
	cfg.DB.MaxDBConnections = getenvInt("MAX_DB_CONNECTIONS", 4)
	cfg.DB.MinDBConnections = getenvInt("MIN_DB_CONNECTIONS", 1)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	cfg.KafkaDLQTopic = getenvDefault("KAFKA_DLQ_TOPIC", "tempest.deadletter")

	cfg.StatusAddr = os.Getenv("STATUS_ADDR")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field constraint. Callers that override fields
// after Load (e.g. from flags) should validate again.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// TokenPrefix returns the first characters of the token for diagnostics.
func (c *AppConfig) TokenPrefix() string {
	const n = 10
	if len(c.TempestToken) <= n {
		return strings.Repeat("*", len(c.TempestToken))
	}
	return c.TempestToken[:n] + "..."
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", ErrConfiguration, key, err)
	}
	return d, nil
}
