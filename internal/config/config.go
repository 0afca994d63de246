package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// KafkaConfig selects the Kafka reading feed. Disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// MQTTConfig selects the MQTT reading feed. Disabled when Broker is empty.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// InfluxConfig selects the optional time-series mirror. Disabled when URL is empty.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// BackfillConfig tunes the backfill engine and its daily schedule.
type BackfillConfig struct {
	LookbackDays int      `yaml:"lookback_days"`
	DailyAt      string   `yaml:"daily_at"`
	Users        []string `yaml:"users"`
}

// BaselineConfig bounds the baseline walk per period type.
type BaselineConfig struct {
	MaxDays   int `yaml:"max_days"`
	MaxWeeks  int `yaml:"max_weeks"`
	MaxMonths int `yaml:"max_months"`
}

// Config is the service configuration.
type Config struct {
	HTTPAddr        string         `yaml:"http_addr"`
	DatabaseURL     string         `yaml:"database_url"`
	StoreDriver     string         `yaml:"store_driver"`
	JWTSecret       string         `yaml:"jwt_secret"`
	LogLevel        string         `yaml:"log_level"`
	PeakEpsilonKWh  float64        `yaml:"peak_epsilon_kwh"`
	ProfileCacheTTL time.Duration  `yaml:"profile_cache_ttl"`
	Kafka           KafkaConfig    `yaml:"kafka"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Influx          InfluxConfig   `yaml:"influx"`
	Backfill        BackfillConfig `yaml:"backfill"`
	Baseline        BaselineConfig `yaml:"baseline"`
}

// Load reads the configuration from env, then overlays the YAML file named by HISTORY_CONFIG.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:     getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")),
		StoreDriver:     getenvDefault("STORE_DRIVER", StorePostgres),
		JWTSecret:       os.Getenv("AUTH_JWT_SECRET"),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		PeakEpsilonKWh:  getenvFloatDefault("PEAK_EPSILON_KWH", 0.001),
		ProfileCacheTTL: getenvDuration("PROFILE_CACHE_TTL", 5*time.Minute),
		Kafka: KafkaConfig{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenvDefault("KAFKA_TOPIC", "meter-readings"),
			GroupID: getenvDefault("KAFKA_GROUP_ID", "energy-history"),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			Topic:    getenvDefault("MQTT_TOPIC", "meters/+/readings"),
			ClientID: getenvDefault("MQTT_CLIENT_ID", "energy-history"),
		},
		Influx: InfluxConfig{
			URL:    os.Getenv("INFLUXDB_URL"),
			Token:  os.Getenv("INFLUXDB_TOKEN"),
			Org:    os.Getenv("INFLUXDB_ORG"),
			Bucket: os.Getenv("INFLUXDB_BUCKET"),
		},
		Backfill: BackfillConfig{
			LookbackDays: getenvIntDefault("BACKFILL_LOOKBACK_DAYS", 30),
			DailyAt:      getenvDefault("BACKFILL_DAILY_AT", "00:05"),
			Users:        splitCSV(os.Getenv("BACKFILL_USERS")),
		},
		Baseline: BaselineConfig{
			MaxDays:   getenvIntDefault("BASELINE_MAX_DAYS", 31),
			MaxWeeks:  getenvIntDefault("BASELINE_MAX_WEEKS", 12),
			MaxMonths: getenvIntDefault("BASELINE_MAX_MONTHS", 12),
		},
	}

	if path := os.Getenv("HISTORY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks the loaded configuration.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET required")
	}
	if _, err := time.Parse("15:04", c.Backfill.DailyAt); err != nil {
		return fmt.Errorf("config: backfill daily_at %q: %w", c.Backfill.DailyAt, err)
	}
	if c.Backfill.LookbackDays <= 0 {
		return errors.New("config: backfill lookback must be positive")
	}
	if c.Baseline.MaxDays <= 0 || c.Baseline.MaxWeeks <= 0 || c.Baseline.MaxMonths <= 0 {
		return errors.New("config: baseline bounds must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka topic required")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
