package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env       string
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Assistant AssistantConfig
	Delivery  DeliveryConfig
	Sweeper   SweeperConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Address string
}

type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig selects the store. An empty PostgresURL means the
// in-memory store is used.
type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
	LockTTL  time.Duration
}

type GatewayConfig struct {
	BaseURL        string
	APIKey         string
	DefaultDevices string
	MaxRetries     int
	BaseDelay      time.Duration
	Timeout        time.Duration
	AllowMockSend  bool
}

// Configured reports whether real gateway credentials are present.
func (g GatewayConfig) Configured() bool {
	return g.BaseURL != "" && g.APIKey != ""
}

type AssistantConfig struct {
	SenderNumber   string
	SystemNumber   string
	BookingBaseURL string
	Name           string
	EmergencyLine  string
	ContentMax     int
}

type DeliveryConfig struct {
	Workers   int
	QueueSize int
}

type SweeperConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxAge     time.Duration
	StaleAfter time.Duration
}

type RateLimitConfig struct {
	PerMinute int
}

const defaultNumber = "0000000000"

func LoadAll() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	env := strings.ToLower(getEnv("APP_ENV", "development"))

	allowMock, err := getEnvBool("GATEWAY_ALLOW_MOCK_SEND", env != "production")
	if err != nil {
		errs = append(errs, err)
	}

	sender := digitsOnly(getEnv("SMS_SENDER_NUMBER", getEnv("SMS_SYSTEM_NUMBER", defaultNumber)))
	system := digitsOnly(getEnv("SMS_SYSTEM_NUMBER", sender))
	if sender == "" {
		sender = defaultNumber
	}
	if system == "" {
		system = sender
	}

	cfg := &Config{
		Env: env,
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
		Database: DatabaseConfig{
			PostgresURL: os.Getenv("POSTGRES_URL"),
		},
		Gateway: GatewayConfig{
			BaseURL:        strings.TrimRight(getEnv("SENSOR_API_BASE_URL", "https://connect.sensorequation.com"), "/"),
			APIKey:         os.Getenv("SENSOR_API_KEY"),
			DefaultDevices: getEnv("SENSOR_API_DEFAULT_DEVICES", "3"),
			MaxRetries:     intVar("SENDSMS_MAX_RETRIES", 3),
			BaseDelay:      time.Duration(intVar("SENDSMS_BASE_DELAY_MS", 800)) * time.Millisecond,
			Timeout:        time.Duration(intVar("SENDSMS_TIMEOUT_MS", 15000)) * time.Millisecond,
			AllowMockSend:  allowMock,
		},
		Assistant: AssistantConfig{
			SenderNumber:   sender,
			SystemNumber:   system,
			BookingBaseURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
			Name:           getEnv("ASSISTANT_NAME", "PlumbPro"),
			EmergencyLine:  getEnv("EMERGENCY_LINE", "(555) PLUMBER"),
			ContentMax:     intVar("CONTENT_MAX", 1600),
		},
		Delivery: DeliveryConfig{
			Workers:   intVar("DELIVERY_WORKERS", 4),
			QueueSize: intVar("DELIVERY_QUEUE_SIZE", 256),
		},
		Sweeper: SweeperConfig{
			Interval:   time.Duration(intVar("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
			BatchSize:  intVar("SWEEP_BATCH_SIZE", 20),
			MaxAge:     time.Duration(intVar("SWEEP_MAX_AGE_MINUTES", 60)) * time.Minute,
			StaleAfter: time.Duration(intVar("SWEEP_STALE_AFTER_MINUTES", 10)) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			PerMinute: intVar("RATE_LIMIT_PER_MINUTE", 100),
		},
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.Redis = redisCfg

	errs = append(errs, validate(cfg)...)
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}
	lockTTL, err := getEnvInt("REDIS_LOCK_TTL_SECONDS", 30)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
		LockTTL:  time.Duration(lockTTL) * time.Second,
	}, joinErrors(errs)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Gateway.MaxRetries <= 0 {
		errs = append(errs, errors.New("SENDSMS_MAX_RETRIES must be > 0"))
	}
	if cfg.Gateway.BaseDelay < 0 {
		errs = append(errs, errors.New("SENDSMS_BASE_DELAY_MS must be >= 0"))
	}
	if cfg.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("SENDSMS_TIMEOUT_MS must be > 0"))
	}
	if cfg.Assistant.ContentMax <= 0 {
		errs = append(errs, errors.New("CONTENT_MAX must be > 0"))
	}
	if cfg.Delivery.Workers <= 0 {
		errs = append(errs, errors.New("DELIVERY_WORKERS must be > 0"))
	}
	if cfg.Delivery.QueueSize <= 0 {
		errs = append(errs, errors.New("DELIVERY_QUEUE_SIZE must be > 0"))
	}
	if cfg.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Sweeper.BatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be > 0"))
	}
	if cfg.RateLimit.PerMinute < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be >= 0"))
	}
	if cfg.Env == "production" && !cfg.Gateway.AllowMockSend {
		if _, err := requireEnv("SENSOR_API_KEY"); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.Log.Format))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
