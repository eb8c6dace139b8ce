package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the process configuration.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	StorageDriver string
	SQLitePath    string
	DatabaseURL   string
	AutoMigrate   bool

	IngestPath         string
	IngestMaxBodyBytes int64
	MetricsConfig      string

	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string

	RabbitMQURL      string
	RabbitMQExchange string

	HistoryDefaultLimit int
	AuditDefaultLimit   int

	ShutdownTimeout time.Duration
}

// Options controls where configuration is read from.
type Options struct {
	// EnvFiles are loaded with godotenv before reading the environment. Missing files are ignored.
	EnvFiles []string
	// ConfigPaths are searched for config.yaml.
	ConfigPaths []string
}

// Load reads .env files, an optional config.yaml and the environment. Environment wins.
func Load(opts Options) (Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", file, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range opts.ConfigPaths {
		v.AddConfigPath(path)
	}
	v.AutomaticEnv()

	if len(opts.ConfigPaths) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	databaseURL := v.GetString("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = v.GetString("PG_DSN")
	}

	cfg := Config{
		HTTPAddr:            v.GetString("HTTP_ADDR"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
		StorageDriver:       strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_DRIVER"))),
		SQLitePath:          v.GetString("SQLITE_PATH"),
		DatabaseURL:         databaseURL,
		AutoMigrate:         v.GetBool("AUTO_MIGRATE"),
		IngestPath:          v.GetString("INGEST_PATH"),
		IngestMaxBodyBytes:  v.GetInt64("INGEST_MAX_BODY_BYTES"),
		MetricsConfig:       v.GetString("METRICS_CONFIG"),
		MQTTBrokerURL:       v.GetString("MQTT_BROKER_URL"),
		MQTTTopic:           v.GetString("MQTT_TOPIC"),
		MQTTClientID:        v.GetString("MQTT_CLIENT_ID"),
		MQTTUsername:        v.GetString("MQTT_USERNAME"),
		MQTTPassword:        v.GetString("MQTT_PASSWORD"),
		RabbitMQURL:         v.GetString("RABBITMQ_URL"),
		RabbitMQExchange:    v.GetString("RABBITMQ_EXCHANGE"),
		HistoryDefaultLimit: v.GetInt("HISTORY_DEFAULT_LIMIT"),
		AuditDefaultLimit:   v.GetInt("AUDIT_DEFAULT_LIMIT"),
		ShutdownTimeout:     v.GetDuration("SHUTDOWN_TIMEOUT"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("STORAGE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "sensor_data.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("PG_DSN", "")
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("INGEST_PATH", "/api/ingest-readings")
	v.SetDefault("INGEST_MAX_BODY_BYTES", 1<<20)
	v.SetDefault("METRICS_CONFIG", "")
	v.SetDefault("MQTT_BROKER_URL", "")
	v.SetDefault("MQTT_TOPIC", "sensorhub/+/readings")
	v.SetDefault("MQTT_CLIENT_ID", "sensorhub")
	v.SetDefault("MQTT_USERNAME", "")
	v.SetDefault("MQTT_PASSWORD", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_EXCHANGE", "sensorhub.events")
	v.SetDefault("HISTORY_DEFAULT_LIMIT", 24)
	v.SetDefault("AUDIT_DEFAULT_LIMIT", 20)
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.StorageDriver == DriverSQLite && strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("config: SQLITE_PATH is required for sqlite storage")
	}
	if !strings.HasPrefix(c.IngestPath, "/") {
		return fmt.Errorf("config: INGEST_PATH must start with '/': %q", c.IngestPath)
	}
	if c.IngestMaxBodyBytes <= 0 {
		return errors.New("config: INGEST_MAX_BODY_BYTES must be positive")
	}
	if c.HistoryDefaultLimit <= 0 || c.AuditDefaultLimit <= 0 {
		return errors.New("config: default limits must be positive")
	}
	return nil
}
