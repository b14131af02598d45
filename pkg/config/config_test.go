package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Alerts.DedupWindow != 4*time.Hour {
		t.Errorf("Expected 4h dedup window, got %s", cfg.Alerts.DedupWindow)
	}
	if cfg.Alerts.Store != StorePostgres {
		t.Errorf("Expected postgres store, got %s", cfg.Alerts.Store)
	}
	if cfg.Kafka.TopicMeasurements != "aire.measurements.raw" {
		t.Errorf("Unexpected measurements topic: %s", cfg.Kafka.TopicMeasurements)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ALERT_DEDUP_WINDOW", "90m")
	t.Setenv("ALERT_STORE", "SQLite")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("TCP_IDENTIFY_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Alerts.DedupWindow != 90*time.Minute {
		t.Errorf("Expected 90m, got %s", cfg.Alerts.DedupWindow)
	}
	if cfg.Alerts.Store != StoreSQLite {
		t.Errorf("Expected sqlite, got %s", cfg.Alerts.Store)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Database.Port != 6543 {
		t.Errorf("Expected port 6543, got %d", cfg.Database.Port)
	}
	if cfg.TCPServer.IdentifyTimeout != 10*time.Second {
		t.Errorf("Invalid duration should fall back to default, got %s", cfg.TCPServer.IdentifyTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"ALERT_STORE":            "mongo",
		"ALERT_DEDUP_WINDOW":     "-1h",
		"AGGREGATION_DAILY_TIME": "25:99",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("Expected error for %s=%s", key, value)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("00:05")
	if err != nil {
		t.Fatalf("ParseClock failed: %v", err)
	}
	if h != 0 || m != 5 {
		t.Errorf("Expected 00:05, got %02d:%02d", h, m)
	}
}
