package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Alert store backends
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	TCPServer   TCPServerConfig
	Aggregation AggregationConfig
	Alerts      AlertsConfig
	Log         LogConfig
	Metrics     MetricsConfig
}

type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers           []string
	TopicMeasurements string
	TopicAlerts       string
	NumPartitions     int
	WriterGroup       string
	AlertingGroup     string
	BatchSize         int
	BatchTimeout      time.Duration
	Compression       string
	RequiredAcks      int
	MaxRetries        int
	RetryBackoff      time.Duration
	WriterBatchSize   int
	WriterFlush       time.Duration
}

type TCPServerConfig struct {
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
}

type AggregationConfig struct {
	HourlyDelay   time.Duration
	DailyTime     string
	RetentionDays int
}

// AlertsConfig configures threshold evaluation and deduplication
type AlertsConfig struct {
	DedupWindow       time.Duration
	ThresholdsFile    string
	ThresholdCacheTTL time.Duration
	Store             string
	SQLitePath        string
}

type LogConfig struct {
	Level string
}

type MetricsConfig struct {
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "aire_user"),
			Password:       getEnv("DB_PASSWORD", "aire_pass"),
			DBName:         getEnv("DB_NAME", "aire_db"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvAsList("KAFKA_BROKERS", "localhost:9092"),
			TopicMeasurements: getEnv("KAFKA_TOPIC_MEASUREMENTS", "aire.measurements.raw"),
			TopicAlerts:       getEnv("KAFKA_TOPIC_ALERTS", "aire.alerts"),
			NumPartitions:     getEnvAsInt("KAFKA_NUM_PARTITIONS", 10),
			WriterGroup:       getEnv("KAFKA_WRITER_GROUP", "measurement-writer-group"),
			AlertingGroup:     getEnv("KAFKA_ALERTING_GROUP", "alerting-group"),
			BatchSize:         getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			BatchTimeout:      getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
			Compression:       getEnv("KAFKA_COMPRESSION", "snappy"),
			RequiredAcks:      getEnvAsInt("KAFKA_REQUIRED_ACKS", 1),
			MaxRetries:        getEnvAsInt("KAFKA_MAX_RETRIES", 3),
			RetryBackoff:      getEnvAsDuration("KAFKA_RETRY_BACKOFF", 100*time.Millisecond),
			WriterBatchSize:   getEnvAsInt("WRITER_BATCH_SIZE", 100),
			WriterFlush:       getEnvAsDuration("WRITER_FLUSH_INTERVAL", 5*time.Second),
		},
		TCPServer: TCPServerConfig{
			Port:              getEnvAsInt("TCP_PORT", 8080),
			MaxConnections:    getEnvAsInt("TCP_MAX_CONNECTIONS", 2000),
			IdentifyTimeout:   getEnvAsDuration("TCP_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("TCP_INACTIVITY_TIMEOUT", 5*time.Minute),
		},
		Aggregation: AggregationConfig{
			HourlyDelay:   getEnvAsDuration("AGGREGATION_HOURLY_DELAY", 5*time.Minute),
			DailyTime:     getEnv("AGGREGATION_DAILY_TIME", "00:05"),
			RetentionDays: getEnvAsInt("ALERT_RETENTION_DAYS", 90),
		},
		Alerts: AlertsConfig{
			DedupWindow:       getEnvAsDuration("ALERT_DEDUP_WINDOW", 4*time.Hour),
			ThresholdsFile:    getEnv("ALERT_THRESHOLDS_FILE", ""),
			ThresholdCacheTTL: getEnvAsDuration("ALERT_THRESHOLD_CACHE_TTL", 5*time.Minute),
			Store:             strings.ToLower(getEnv("ALERT_STORE", StorePostgres)),
			SQLitePath:        getEnv("ALERT_SQLITE_PATH", "alerts.db"),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Alerts.DedupWindow <= 0 {
		return fmt.Errorf("ALERT_DEDUP_WINDOW must be positive, got %s", c.Alerts.DedupWindow)
	}
	switch c.Alerts.Store {
	case StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("ALERT_STORE must be %q or %q, got %q", StorePostgres, StoreSQLite, c.Alerts.Store)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if _, _, err := ParseClock(c.Aggregation.DailyTime); err != nil {
		return fmt.Errorf("AGGREGATION_DAILY_TIME: %w", err)
	}
	return nil
}

// ParseClock parses an HH:MM time of day
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
