package config

import (
	"strings"
	"testing"
	"time"
)

const base = `
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/payments"
webhook:
  secret: "s3cret"
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(base))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cfg.Production() {
		t.Fatal("env should default to production")
	}
	if cfg.Retry.MaxRetries != 3 || cfg.Retry.Cooldown != 5*time.Minute {
		t.Fatalf("retry defaults = %+v", cfg.Retry)
	}
	if cfg.Webhook.SignatureHeader != "X-Payment-Signature" || cfg.Webhook.DefaultCurrency != "USD" || cfg.Webhook.DefaultGateway != "razorpay" {
		t.Fatalf("webhook defaults = %+v", cfg.Webhook)
	}
	if cfg.SignatureBypassed() {
		t.Fatal("signature bypass should be off by default")
	}
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  addr: ":8080"
db:
  dsn: "postgres://localhost/payments"
  acquire_timeout: 250ms
webhook:
  secret: "s3cret"
retry:
  cooldown: 90s
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Retry.Cooldown != 90*time.Second || cfg.DB.AcquireTimeout != 250*time.Millisecond {
		t.Fatalf("durations = %s %s", cfg.Retry.Cooldown, cfg.DB.AcquireTimeout)
	}
}

func TestSignatureBypassRules(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "bypass in development",
			yaml: "app:\n  env: development\nwebhook:\n  skip_signature: true\n",
		},
		{
			name:    "bypass in production",
			yaml:    "webhook:\n  skip_signature: true\n",
			wantErr: "allow_insecure_override",
		},
		{
			name:    "bypass with abbreviated production env",
			yaml:    "app:\n  env: prod\nwebhook:\n  skip_signature: true\n",
			wantErr: "allow_insecure_override",
		},
		{
			name:    "bypass with unknown env",
			yaml:    "app:\n  env: live\nwebhook:\n  skip_signature: true\n",
			wantErr: "allow_insecure_override",
		},
		{
			name: "bypass in local",
			yaml: "app:\n  env: LOCAL\nwebhook:\n  skip_signature: true\n",
		},
		{
			name: "bypass in production with override",
			yaml: "webhook:\n  skip_signature: true\n  allow_insecure_override: true\n",
		},
		{
			name:    "no secret",
			yaml:    "app:\n  env: development\n",
			wantErr: "webhook.secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := "server:\n  addr: \":8080\"\ndb:\n  dsn: \"postgres://x\"\n" + tt.yaml
			_, err := Parse([]byte(doc))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("RETRY_MAX_RETRIES", "5")
	t.Setenv("RETRY_COOLDOWN", "1m")
	t.Setenv("WEBHOOK_SECRET", "from-env")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg, err := Parse([]byte(base))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Production() || cfg.Retry.MaxRetries != 5 || cfg.Retry.Cooldown != time.Minute {
		t.Fatalf("overrides not applied: env=%s retry=%+v", cfg.App.Env, cfg.Retry)
	}
	if cfg.Webhook.Secret != "from-env" {
		t.Fatalf("secret = %q", cfg.Webhook.Secret)
	}
	if cfg.DB.MaxConns != 10 {
		t.Fatalf("invalid override should fall back, got %d", cfg.DB.MaxConns)
	}
}

func TestProduction(t *testing.T) {
	for env, want := range map[string]bool{
		"production":  true,
		"prod":        true,
		"live":        true,
		"staging":     true,
		"development": false,
		"dev":         false,
		"Test":        false,
		" local ":     false,
	} {
		c := &Config{}
		c.App.Env = env
		if got := c.Production(); got != want {
			t.Fatalf("Production() for %q = %v, want %v", env, got, want)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	if _, err := Parse([]byte("db:\n  dsn: x\nwebhook:\n  secret: s\n")); err == nil {
		t.Fatal("expected missing addr error")
	}
	if _, err := Parse([]byte("server:\n  addr: \":1\"\nwebhook:\n  secret: s\n")); err == nil {
		t.Fatal("expected missing dsn error")
	}
	if _, err := Parse([]byte(base + "retry:\n  max_retries: -1\n")); err == nil {
		t.Fatal("expected max_retries error")
	}
}
