package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"bus-tracking-backend/internal/model"
)

var (
	ErrMissingDSN          = errors.New("database.dsn is required")
	ErrInvalidRadii        = errors.New("tracking.arrival_radius_meters must be below tracking.near_radius_meters")
	ErrUnknownProvider     = errors.New("oracle.provider must be one of google, haversine")
	ErrMissingAPIKey       = errors.New("oracle.api_key is required for the google provider")
	ErrMissingBroker       = errors.New("mqtt.broker_url is required when mqtt is enabled")
	ErrMissingOTLPEndpoint = errors.New("telemetry.endpoint is required when telemetry is enabled")
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Oracle     OracleConfig     `yaml:"oracle"`
	School     SchoolConfig     `yaml:"school"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Redis      RedisConfig      `yaml:"redis"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// WorkerPoolConfig holds the configuration for the push delivery worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// TrackingConfig controls the proximity monitor.
type TrackingConfig struct {
	IntervalSeconds         int           `yaml:"interval_seconds"`
	Interval                time.Duration `yaml:"-"`
	TickTimeoutSeconds      int           `yaml:"tick_timeout_seconds"`
	TickTimeout             time.Duration `yaml:"-"`
	LeaseTTLSeconds         int           `yaml:"lease_ttl_seconds"`
	LeaseTTL                time.Duration `yaml:"-"`
	ArrivalRadiusMeters     float64       `yaml:"arrival_radius_meters"`
	NearRadiusMeters        float64       `yaml:"near_radius_meters"`
	ClassifyThresholdMeters float64       `yaml:"classify_threshold_meters"`
	MaxConcurrency          int           `yaml:"max_concurrency"`
	ResumeOnStart           bool          `yaml:"resume_on_start"`
}

// OracleConfig selects and tunes the distance provider.
type OracleConfig struct {
	Provider        string        `yaml:"provider"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	Timeout         time.Duration `yaml:"-"`
	RatePerSec      float64       `yaml:"rate_per_sec"`
	Burst           int           `yaml:"burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
	AverageSpeedKmh float64       `yaml:"average_speed_kmh"`
}

// SchoolConfig is the fixed school location used for signal classification.
type SchoolConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Location returns the school as a model location.
func (s SchoolConfig) Location() model.Location {
	return model.Location{Latitude: s.Latitude, Longitude: s.Longitude}
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	SlowQueryMillis        int    `yaml:"slow_query_millis"`
	LogLevel               string `yaml:"log_level"`
	ApplyDDL               bool   `yaml:"apply_ddl"`
}

// MQTTConfig configures the optional telemetry ingest from bus devices.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// RedisConfig enables the shared monitor lease when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TelemetryConfig configures OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Endpoint              string `yaml:"endpoint"`
	Insecure              bool   `yaml:"insecure"`
	ServiceName           string `yaml:"service_name"`
	MetricIntervalSeconds int    `yaml:"metric_interval_seconds"`
}

// Load reads the configuration from the given path, overlays secrets from the
// environment and fills in defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyEnv() {
	overlay := map[string]*string{
		"DATABASE_DSN":        &cfg.Database.DSN,
		"GOOGLE_MAPS_API_KEY": &cfg.Oracle.APIKey,
		"VAPID_PUBLIC_KEY":    &cfg.Push.PublicKey,
		"VAPID_PRIVATE_KEY":   &cfg.Push.PrivateKey,
		"MQTT_PASSWORD":       &cfg.MQTT.Password,
		"REDIS_PASSWORD":      &cfg.Redis.Password,
	}
	for name, field := range overlay {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 10
	}

	if cfg.Database.SlowQueryMillis <= 0 {
		cfg.Database.SlowQueryMillis = 100
	}

	t := &cfg.Tracking
	if t.IntervalSeconds <= 0 {
		t.IntervalSeconds = 15
	}
	t.Interval = time.Duration(t.IntervalSeconds) * time.Second
	if t.TickTimeoutSeconds <= 0 {
		t.TickTimeoutSeconds = 2 * t.IntervalSeconds
	}
	t.TickTimeout = time.Duration(t.TickTimeoutSeconds) * time.Second
	if t.LeaseTTLSeconds <= 0 {
		t.LeaseTTLSeconds = 3 * t.IntervalSeconds
	}
	t.LeaseTTL = time.Duration(t.LeaseTTLSeconds) * time.Second
	if t.ArrivalRadiusMeters <= 0 {
		t.ArrivalRadiusMeters = 100
	}
	if t.NearRadiusMeters <= 0 {
		t.NearRadiusMeters = 1000
	}
	if t.ClassifyThresholdMeters <= 0 {
		t.ClassifyThresholdMeters = 80
	}
	if t.MaxConcurrency <= 0 {
		log.Printf("tracking.max_concurrency is not set or invalid; defaulting to 8")
		t.MaxConcurrency = 8
	}

	o := &cfg.Oracle
	if o.Provider == "" {
		o.Provider = "google"
	}
	o.Provider = strings.ToLower(o.Provider)
	if o.BaseURL == "" {
		o.BaseURL = "https://maps.googleapis.com/maps/api"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 5
	}
	o.Timeout = time.Duration(o.TimeoutSeconds) * time.Second
	if o.RatePerSec <= 0 {
		o.RatePerSec = 20
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	if o.CacheTTLSeconds < 0 {
		o.CacheTTLSeconds = 0
	}
	o.CacheTTL = time.Duration(o.CacheTTLSeconds) * time.Second
	if o.AverageSpeedKmh <= 0 {
		o.AverageSpeedKmh = 30
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 256
	}

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "bus"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "busd"
	}
	if cfg.MQTT.QoS > 2 {
		cfg.MQTT.QoS = 1
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "bus-tracking-backend"
	}
	if cfg.Telemetry.MetricIntervalSeconds <= 0 {
		cfg.Telemetry.MetricIntervalSeconds = 30
	}
}

// Validate reports the first configuration problem that would prevent startup.
func (cfg *Config) Validate() error {
	if cfg.Database.DSN == "" {
		return ErrMissingDSN
	}
	if cfg.Tracking.ArrivalRadiusMeters >= cfg.Tracking.NearRadiusMeters {
		return fmt.Errorf("%w: %.0f >= %.0f", ErrInvalidRadii, cfg.Tracking.ArrivalRadiusMeters, cfg.Tracking.NearRadiusMeters)
	}
	switch cfg.Oracle.Provider {
	case "google":
		if cfg.Oracle.APIKey == "" {
			return ErrMissingAPIKey
		}
	case "haversine":
	default:
		return fmt.Errorf("%w: got %q", ErrUnknownProvider, cfg.Oracle.Provider)
	}
	if cfg.MQTT.Enabled && cfg.MQTT.BrokerURL == "" {
		return ErrMissingBroker
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return ErrMissingOTLPEndpoint
	}
	return nil
}
