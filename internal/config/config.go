package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/ride-dispatch/internal/logging"
)

// ServerConfig captures all tunable parameters for the dispatch gateway.
// Defaults come first, then an optional YAML file, then environment
// variables, so the binary runs locally without any setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	JWTSecret string `yaml:"jwt_secret"`

	// StoreBackend is one of memory, mongo, postgres.
	StoreBackend  string `yaml:"store_backend"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	PGDSN         string `yaml:"pg_dsn"`
	RunMigrations bool   `yaml:"migrate"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// NotesBackend is memory or redis.
	NotesBackend string        `yaml:"notes_backend"`
	NotesCap     int           `yaml:"notes_cap"`
	NotesTTL     time.Duration `yaml:"notes_ttl"`

	// EventsBackend is none, kafka or amqp.
	EventsBackend string   `yaml:"events_backend"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`
	AMQPURL       string   `yaml:"amqp_url"`
	AMQPExchange  string   `yaml:"amqp_exchange"`

	RadiusKm            float64 `yaml:"radius_km"`
	DefaultVehicleType  string  `yaml:"default_vehicle_type"`
	BroadcastAllDrivers bool    `yaml:"broadcast_all_drivers"`
	DefaultSpeedMps     float64 `yaml:"default_speed_mps"`
	OSRMURL             string  `yaml:"osrm_url"`

	ProfileServiceURL   string        `yaml:"profile_service_url"`
	ProximityServiceURL string        `yaml:"proximity_service_url"`
	UpstreamTimeout     time.Duration `yaml:"upstream_timeout"`

	EventTimeout          time.Duration `yaml:"event_timeout"`
	SendQueueSize         int           `yaml:"send_queue_size"`
	InternalCallbackToken string        `yaml:"internal_callback_token"`

	LogLevel string `yaml:"log_level"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		JWTSecret:           "secret",
		StoreBackend:        "memory",
		MongoDatabase:       "ride",
		NotesBackend:        "memory",
		NotesCap:            50,
		NotesTTL:            24 * time.Hour,
		EventsBackend:       "none",
		KafkaTopic:          "booking-events",
		AMQPExchange:        "booking_topic",
		RadiusKm:            5,
		DefaultVehicleType:  "mini",
		BroadcastAllDrivers: true,
		DefaultSpeedMps:     8,
		UpstreamTimeout:     5 * time.Second,
		EventTimeout:        10 * time.Second,
		SendQueueSize:       64,
		LogLevel:            "info",
	}
}

// LoadServerConfig builds the gateway config. path may be empty; when set
// the YAML file is applied before the environment.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")

	setStringFromEnv(&cfg.StoreBackend, "STORE_BACKEND")
	setStringFromEnv(&cfg.MongoURI, "MONGO_URI")
	setStringFromEnv(&cfg.MongoDatabase, "MONGO_DATABASE")
	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}

	setStringFromEnv(&cfg.NotesBackend, "NOTES_BACKEND")
	setIntFromEnv(&cfg.NotesCap, "NOTES_CAP", &errs)
	setDurationFromEnv(&cfg.NotesTTL, "NOTES_TTL", &errs)

	setStringFromEnv(&cfg.EventsBackend, "EVENTS_BACKEND")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.AMQPURL, "AMQP_URL")
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	setFloatFromEnv(&cfg.RadiusKm, "RADIUS_KM", &errs)
	setStringFromEnv(&cfg.DefaultVehicleType, "DEFAULT_VEHICLE_TYPE")
	setBoolFromEnv(&cfg.BroadcastAllDrivers, "BROADCAST_ALL_DRIVERS", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedMps, "MATCHER_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMURL, "OSRM_URL")

	setStringFromEnv(&cfg.ProfileServiceURL, "PROFILE_SERVICE_URL")
	setStringFromEnv(&cfg.ProximityServiceURL, "PROXIMITY_SERVICE_URL")
	setDurationFromEnv(&cfg.UpstreamTimeout, "UPSTREAM_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.EventTimeout, "EVENT_TIMEOUT", &errs)
	setIntFromEnv(&cfg.SendQueueSize, "WS_SEND_QUEUE", &errs)
	setStringFromEnv(&cfg.InternalCallbackToken, "INTERNAL_CALLBACK_TOKEN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be set"))
	}
	switch c.StoreBackend {
	case "memory":
	case "mongo":
		if c.MongoURI == "" {
			errs = append(errs, fmt.Errorf("MONGO_URI is required for store backend mongo"))
		}
	case "postgres":
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required for store backend postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.NotesBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required for notes backend redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTES_BACKEND %q", c.NotesBackend))
	}
	switch c.EventsBackend {
	case "none":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required for events backend kafka"))
		}
	case "amqp":
		if c.AMQPURL == "" {
			errs = append(errs, fmt.Errorf("AMQP_URL is required for events backend amqp"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_BACKEND %q", c.EventsBackend))
	}
	if c.NotesCap <= 0 {
		errs = append(errs, fmt.Errorf("NOTES_CAP must be > 0"))
	}
	if c.RadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("RADIUS_KM must be > 0"))
	}
	if c.EventTimeout <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_TIMEOUT must be > 0"))
	}
	if c.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_QUEUE must be > 0"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errs
}

// ConsumerConfig configures the driver location ingest worker.
type ConsumerConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	StoreBackend  string
	MongoURI      string
	MongoDatabase string
	PGDSN         string

	Attempts int
	Backoff  time.Duration
	LogLevel string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:   ":2112",
		KafkaBrokers:  []string{"localhost:9092"},
		KafkaTopic:    "driver-locations",
		KafkaGroup:    "ride-dispatch-locations",
		StoreBackend:  "mongo",
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "ride",
		Attempts:      3,
		Backoff:       200 * time.Millisecond,
		LogLevel:      "info",
	}
	var errs []error

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.StoreBackend, "STORE_BACKEND")
	setStringFromEnv(&cfg.MongoURI, "MONGO_URI")
	setStringFromEnv(&cfg.MongoDatabase, "MONGO_DATABASE")
	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setIntFromEnv(&cfg.Attempts, "INGEST_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.Backoff, "INGEST_BACKOFF", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}
	if cfg.StoreBackend != "mongo" && cfg.StoreBackend != "postgres" {
		errs = append(errs, fmt.Errorf("consumer STORE_BACKEND must be mongo or postgres, got %q", cfg.StoreBackend))
	}
	if cfg.StoreBackend == "postgres" && cfg.PGDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required for store backend postgres"))
	}
	if cfg.Attempts <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_ATTEMPTS must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func loadFile(path string, cfg *ServerConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
