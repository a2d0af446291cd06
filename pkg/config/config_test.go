package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RabbitMQ.StatsQueue != "stats" {
		t.Errorf("stats queue = %q", cfg.RabbitMQ.StatsQueue)
	}
	if cfg.RabbitMQ.NotificationsExchange != "notifications" || cfg.RabbitMQ.LogsExchange != "logs" {
		t.Errorf("exchanges = %q/%q", cfg.RabbitMQ.NotificationsExchange, cfg.RabbitMQ.LogsExchange)
	}
	if cfg.API.ProducerMode != ModeDirect {
		t.Errorf("producer mode = %q", cfg.API.ProducerMode)
	}
	if cfg.Worker.MinDelay != 2*time.Second || cfg.Worker.MaxDelay != 4*time.Second {
		t.Errorf("delay range = [%s, %s]", cfg.Worker.MinDelay, cfg.Worker.MaxDelay)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "amqp://u:p@broker:5672/vhost")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("PRODUCER_MODE", "outbox")
	t.Setenv("WORKER_INSTANCES", "3")
	t.Setenv("WORKER_MIN_DELAY", "0s")
	t.Setenv("WORKER_MAX_DELAY", "250ms")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RabbitMQ.URL != "amqp://u:p@broker:5672/vhost" {
		t.Errorf("rabbitmq url = %q", cfg.RabbitMQ.URL)
	}
	if cfg.Database.MaxConns != 25 {
		t.Errorf("max conns = %d", cfg.Database.MaxConns)
	}
	if cfg.API.ProducerMode != ModeOutbox {
		t.Errorf("producer mode = %q", cfg.API.ProducerMode)
	}
	if cfg.Worker.Instances != 3 {
		t.Errorf("instances = %d", cfg.Worker.Instances)
	}
	if cfg.Worker.MinDelay != 0 || cfg.Worker.MaxDelay != 250*time.Millisecond {
		t.Errorf("delay range = [%s, %s]", cfg.Worker.MinDelay, cfg.Worker.MaxDelay)
	}
	if got := strings.Join(cfg.API.CORSOrigins, "|"); got != "http://a.example|http://b.example" {
		t.Errorf("cors origins = %q", got)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "worker:\n  callback_base_url: http://api:5000\n  instances: 2\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.CallbackBaseURL != "http://api:5000" || cfg.Worker.Instances != 2 {
		t.Errorf("worker config = %+v", cfg.Worker)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad producer mode", func(c *Config) { c.API.ProducerMode = "sync" }},
		{"empty broker url", func(c *Config) { c.RabbitMQ.URL = "" }},
		{"inverted delays", func(c *Config) { c.Worker.MinDelay = 5 * time.Second }},
		{"zero instances", func(c *Config) { c.Worker.Instances = 0 }},
		{"relative public url", func(c *Config) { c.API.PublicURL = "/api" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
