package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Runtime settings such as SMTP live in
// the configuracion table instead.
type Config struct {
	HTTPAddr    string       `yaml:"http_addr"`
	DatabaseURL string       `yaml:"database_url"`
	Log         LogConfig    `yaml:"log"`
	Auth        AuthConfig   `yaml:"auth"`
	Ingest      IngestConfig `yaml:"ingest"`
	Alerts      AlertsConfig `yaml:"alerts"`
	Live        LiveConfig   `yaml:"live"`
	Redis       RedisConfig  `yaml:"redis"`
	MQTT        MQTTConfig   `yaml:"mqtt"`
}

// LogConfig selects zap level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig holds the dashboard JWT secret and the device key.
type AuthConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	IngestAPIKey string `yaml:"ingest_api_key"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// AlertsConfig tunes the alert dispatcher.
type AlertsConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	Cooldown    time.Duration `yaml:"cooldown"`
	WebhookURL  string        `yaml:"webhook_url"`
}

// LiveConfig tunes live subscribers.
type LiveConfig struct {
	ClientBuffer   int      `yaml:"client_buffer"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RedisConfig enables the cross-replica live relay when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// MQTTConfig enables MQTT ingestion when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		Log:      LogConfig{Level: "info", Format: "json"},
		Ingest:   IngestConfig{MaxAttempts: 3},
		Alerts: AlertsConfig{
			Workers:     2,
			QueueSize:   256,
			SendTimeout: 15 * time.Second,
		},
		Live:  LiveConfig{ClientBuffer: 64},
		Redis: RedisConfig{Channel: "hisens:lecturas"},
		MQTT: MQTTConfig{
			ClientID: "hisens-cloud",
			Topic:    "hisens/+/lectura",
			QoS:      1,
		},
	}
}

// Load reads defaults, then the YAML file at HISENS_CONFIG when set, then
// environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv("HISENS_CONFIG"))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.Auth.IngestAPIKey == "" {
		return errors.New("config: INGEST_API_KEY is required")
	}
	if c.Alerts.Workers <= 0 || c.Alerts.QueueSize <= 0 {
		return errors.New("config: alert workers and queue size must be positive")
	}
	if c.Ingest.MaxAttempts <= 0 {
		return errors.New("config: ingest max attempts must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.DatabaseURL, "PG_DSN")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&cfg.Auth.IngestAPIKey, "INGEST_API_KEY")
	setInt(&cfg.Ingest.MaxAttempts, "INGEST_MAX_ATTEMPTS")
	setInt(&cfg.Alerts.Workers, "ALERT_WORKERS")
	setInt(&cfg.Alerts.QueueSize, "ALERT_QUEUE_SIZE")
	setDuration(&cfg.Alerts.SendTimeout, "ALERT_SEND_TIMEOUT")
	setDuration(&cfg.Alerts.Cooldown, "ALERT_COOLDOWN")
	setString(&cfg.Alerts.WebhookURL, "ALERT_WEBHOOK_URL")
	setInt(&cfg.Live.ClientBuffer, "LIVE_CLIENT_BUFFER")
	if value := os.Getenv("LIVE_ALLOWED_ORIGINS"); value != "" {
		cfg.Live.AllowedOrigins = splitCSV(value)
	}
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Redis.Channel, "REDIS_CHANNEL")
	setString(&cfg.MQTT.Broker, "MQTT_BROKER")
	setString(&cfg.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&cfg.MQTT.Username, "MQTT_USERNAME")
	setString(&cfg.MQTT.Password, "MQTT_PASSWORD")
	setString(&cfg.MQTT.Topic, "MQTT_TOPIC")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setInt(dst *int, key string) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return
	}
	*dst = parsed
}

func setDuration(dst *time.Duration, key string) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return
	}
	*dst = parsed
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
