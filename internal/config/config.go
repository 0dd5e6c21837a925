package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvProduction = "production"

// nonProductionEnvs lists the environments treated as non-production. Any
// other value, including typos, is production.
var nonProductionEnvs = map[string]bool{
	"development": true,
	"dev":         true,
	"test":        true,
	"local":       true,
}

type Config struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`
	Server struct {
		Addr            string        `yaml:"addr"`
		MaxConcurrent   int           `yaml:"max_concurrent"`
		MaxBacklog      int           `yaml:"max_backlog"`
		BacklogTimeout  time.Duration `yaml:"backlog_timeout"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	DB struct {
		DSN            string        `yaml:"dsn"`
		MaxConns       int32         `yaml:"max_conns"`
		MinConns       int32         `yaml:"min_conns"`
		AcquireTimeout time.Duration `yaml:"acquire_timeout"`
		CallTimeout    time.Duration `yaml:"call_timeout"`
	} `yaml:"db"`
	Webhook struct {
		Secret                string `yaml:"secret"`
		SignatureHeader       string `yaml:"signature_header"`
		SkipSignature         bool   `yaml:"skip_signature"`
		AllowInsecureOverride bool   `yaml:"allow_insecure_override"`
		DefaultCurrency       string `yaml:"default_currency"`
		DefaultGateway        string `yaml:"default_gateway"`
	} `yaml:"webhook"`
	Retry struct {
		MaxRetries  int           `yaml:"max_retries"`
		Cooldown    time.Duration `yaml:"cooldown"`
		BatchSize   int           `yaml:"batch_size"`
		Concurrency int           `yaml:"concurrency"`
		Interval    time.Duration `yaml:"interval"`
	} `yaml:"retry"`
	Broker struct {
		URL            string        `yaml:"url"`
		Exchange       string        `yaml:"exchange"`
		OutboxInterval time.Duration `yaml:"outbox_interval"`
		OutboxBatch    int           `yaml:"outbox_batch"`
	} `yaml:"broker"`
	Stream struct {
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"stream"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides and defaults,
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Production() bool {
	return !nonProductionEnvs[strings.ToLower(strings.TrimSpace(c.App.Env))]
}

// SignatureBypassed reports whether inbound webhooks skip HMAC verification.
func (c *Config) SignatureBypassed() bool {
	return c.Webhook.SkipSignature
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if c.Webhook.SkipSignature && c.Production() && !c.Webhook.AllowInsecureOverride {
		return errors.New("webhook.skip_signature cannot be enabled in production without webhook.allow_insecure_override")
	}
	if !c.Webhook.SkipSignature && c.Webhook.Secret == "" {
		return errors.New("webhook.secret is required when signature verification is enabled")
	}
	if c.Retry.MaxRetries <= 0 {
		return errors.New("retry.max_retries must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Env == "" {
		cfg.App.Env = EnvProduction
	}
	if cfg.Server.MaxConcurrent <= 0 {
		cfg.Server.MaxConcurrent = 64
	}
	if cfg.Server.MaxBacklog < 0 {
		cfg.Server.MaxBacklog = 0
	}
	if cfg.Server.BacklogTimeout <= 0 {
		cfg.Server.BacklogTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.DB.MaxConns <= 0 {
		cfg.DB.MaxConns = 10
	}
	if cfg.DB.AcquireTimeout <= 0 {
		cfg.DB.AcquireTimeout = 5 * time.Second
	}
	if cfg.DB.CallTimeout <= 0 {
		cfg.DB.CallTimeout = 10 * time.Second
	}
	if cfg.Webhook.SignatureHeader == "" {
		cfg.Webhook.SignatureHeader = "X-Payment-Signature"
	}
	if cfg.Webhook.DefaultCurrency == "" {
		cfg.Webhook.DefaultCurrency = "USD"
	}
	if cfg.Webhook.DefaultGateway == "" {
		cfg.Webhook.DefaultGateway = "razorpay"
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.Cooldown <= 0 {
		cfg.Retry.Cooldown = 5 * time.Minute
	}
	if cfg.Retry.BatchSize <= 0 {
		cfg.Retry.BatchSize = 100
	}
	if cfg.Retry.Concurrency <= 0 {
		cfg.Retry.Concurrency = 4
	}
	if cfg.Retry.Interval <= 0 {
		cfg.Retry.Interval = time.Minute
	}
	if cfg.Broker.Exchange == "" {
		cfg.Broker.Exchange = "payments.reconciled"
	}
	if cfg.Broker.OutboxInterval <= 0 {
		cfg.Broker.OutboxInterval = 2 * time.Second
	}
	if cfg.Broker.OutboxBatch <= 0 {
		cfg.Broker.OutboxBatch = 32
	}
	if cfg.Stream.PollInterval <= 0 {
		cfg.Stream.PollInterval = time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SERVER_MAX_CONCURRENT"); v != "" {
		cfg.Server.MaxConcurrent = atoiOr(cfg.Server.MaxConcurrent, v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = int32(atoiOr(int(cfg.DB.MaxConns), v))
	}
	if v := os.Getenv("DB_ACQUIRE_TIMEOUT"); v != "" {
		cfg.DB.AcquireTimeout = durationOr(cfg.DB.AcquireTimeout, v)
	}
	if v := os.Getenv("DB_CALL_TIMEOUT"); v != "" {
		cfg.DB.CallTimeout = durationOr(cfg.DB.CallTimeout, v)
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("WEBHOOK_SKIP_SIGNATURE"); v != "" {
		cfg.Webhook.SkipSignature = boolOr(cfg.Webhook.SkipSignature, v)
	}
	if v := os.Getenv("WEBHOOK_ALLOW_INSECURE_OVERRIDE"); v != "" {
		cfg.Webhook.AllowInsecureOverride = boolOr(cfg.Webhook.AllowInsecureOverride, v)
	}
	if v := os.Getenv("RETRY_MAX_RETRIES"); v != "" {
		cfg.Retry.MaxRetries = atoiOr(cfg.Retry.MaxRetries, v)
	}
	if v := os.Getenv("RETRY_COOLDOWN"); v != "" {
		cfg.Retry.Cooldown = durationOr(cfg.Retry.Cooldown, v)
	}
	if v := os.Getenv("RETRY_INTERVAL"); v != "" {
		cfg.Retry.Interval = durationOr(cfg.Retry.Interval, v)
	}
	if v := os.Getenv("BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("BROKER_EXCHANGE"); v != "" {
		cfg.Broker.Exchange = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func durationOr(fallback time.Duration, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
