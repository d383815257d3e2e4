package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: soc-console-1
realtime:
  url: wss://rt.example.com/ws
  token_file: /run/secrets/rt-token
  heartbeat_interval: 15s
  heartbeat_max_missed: 3
  reconnect_jitter: 0.2
subscriptions:
  - topic: alerts.new
    filters:
      severity: high
    permissions: ["alerts:read"]
  - topic: agents.status
recorder:
  enabled: true
  batch_size: 100
database:
  host: localhost
  name: soc_audit
  user: soc
  password: secret
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "soc-console-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "soc-console-1")
	}
	if cfg.Realtime.URL != "wss://rt.example.com/ws" {
		t.Errorf("Realtime.URL = %q", cfg.Realtime.URL)
	}
	if cfg.Realtime.HeartbeatInterval != 15*time.Second {
		t.Errorf("Realtime.HeartbeatInterval = %v, want 15s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.Realtime.ReconnectJitter != 0.2 {
		t.Errorf("Realtime.ReconnectJitter = %v, want 0.2", cfg.Realtime.ReconnectJitter)
	}
	if len(cfg.Subscriptions) != 2 {
		t.Fatalf("len(Subscriptions) = %d, want 2", len(cfg.Subscriptions))
	}
	if cfg.Subscriptions[0].Filters["severity"] != "high" {
		t.Errorf("Subscriptions[0].Filters = %v", cfg.Subscriptions[0].Filters)
	}
	if len(cfg.Subscriptions[0].Permissions) != 1 || cfg.Subscriptions[0].Permissions[0] != "alerts:read" {
		t.Errorf("Subscriptions[0].Permissions = %v", cfg.Subscriptions[0].Permissions)
	}
	if !cfg.Recorder.Enabled || cfg.Recorder.BatchSize != 100 {
		t.Errorf("Recorder = %+v", cfg.Recorder)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_RT_HOST", "rt.internal:8443")

	yaml := `
instance:
  id: soc-console-1
realtime:
  url: wss://${TEST_RT_HOST}/ws
database:
  host: localhost
  name: soc_audit
  user: soc
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "secret123" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "secret123")
	}
	if cfg.Realtime.URL != "wss://rt.internal:8443/ws" {
		t.Errorf("Realtime.URL = %q", cfg.Realtime.URL)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: soc-console-1
realtime:
  url: ws://localhost:8080/ws
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	rt := cfg.Realtime
	if rt.TokenParam != DefaultTokenParam {
		t.Errorf("Realtime.TokenParam = %q, want default %q", rt.TokenParam, DefaultTokenParam)
	}
	if rt.TokenEnv != DefaultTokenEnv {
		t.Errorf("Realtime.TokenEnv = %q, want default %q", rt.TokenEnv, DefaultTokenEnv)
	}
	if rt.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("Realtime.HeartbeatInterval = %v, want default %v", rt.HeartbeatInterval, DefaultHeartbeatInterval)
	}
	if rt.ReconnectBaseDelay != DefaultReconnectBaseDelay || rt.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Realtime reconnect delays = %v/%v", rt.ReconnectBaseDelay, rt.ReconnectMaxDelay)
	}
	if rt.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Realtime.MaxReconnectAttempts = %d, want default %d", rt.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Recorder.BatchSize != DefaultBatchSize {
		t.Errorf("Recorder.BatchSize = %d, want default %d", cfg.Recorder.BatchSize, DefaultBatchSize)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want info/text", cfg.Log)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadWithDefaults_TokenFileSkipsEnvDefault(t *testing.T) {
	yaml := `
instance:
  id: soc-console-1
realtime:
  url: ws://localhost:8080/ws
  token_file: /tmp/token
`
	cfg, err := LoadWithDefaults(writeTempFile(t, yaml))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Realtime.TokenEnv != "" {
		t.Errorf("Realtime.TokenEnv = %q, want empty when token_file is set", cfg.Realtime.TokenEnv)
	}
}

func TestLoadAndValidate_Invalid(t *testing.T) {
	yaml := `
instance:
  id: soc-console-1
realtime:
  url: http://localhost:8080/ws
`
	_, err := LoadAndValidate(writeTempFile(t, yaml))
	if err == nil || !strings.Contains(err.Error(), "ws or wss") {
		t.Errorf("LoadAndValidate() error = %v, want scheme error", err)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
	if _, err := Parse([]byte("realtime: [unclosed")); err == nil {
		t.Error("Parse() expected error for bad yaml")
	}
}

func validConfig() Config {
	cfg := Config{
		Instance: InstanceConfig{ID: "test"},
		Realtime: RealtimeConfig{URL: "wss://rt.example.com/ws"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Realtime.URL = "" },
			wantErr: "realtime.url is required",
		},
		{
			name:    "token in url",
			mutate:  func(c *Config) { c.Realtime.URL = "wss://rt.example.com/ws?token=abc" },
			wantErr: "realtime.url must not embed the token parameter",
		},
		{
			name: "max delay below base",
			mutate: func(c *Config) {
				c.Realtime.ReconnectBaseDelay = 10 * time.Second
				c.Realtime.ReconnectMaxDelay = time.Second
			},
			wantErr: "realtime.reconnect_max_delay (1s) cannot be less than reconnect_base_delay (10s)",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Realtime.ReconnectJitter = 1.5 },
			wantErr: "realtime.reconnect_jitter must be in [0, 1), got 1.5",
		},
		{
			name:    "negative attempts",
			mutate:  func(c *Config) { c.Realtime.MaxReconnectAttempts = -1 },
			wantErr: "realtime.max_reconnect_attempts must be >= 1",
		},
		{
			name: "duplicate topic",
			mutate: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{Topic: "alerts"}, {Topic: "alerts"}}
			},
			wantErr: `subscriptions[1].topic "alerts" is duplicated`,
		},
		{
			name:    "empty topic",
			mutate:  func(c *Config) { c.Subscriptions = []SubscriptionConfig{{}} },
			wantErr: "subscriptions[0].topic is required",
		},
		{
			name:    "recorder without database",
			mutate:  func(c *Config) { c.Recorder.Enabled = true },
			wantErr: "database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Recorder.Enabled = true
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "metrics port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 70000
			},
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
		{
			name: "valid config",
			mutate: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{Topic: "alerts"}, {Topic: "incidents"}}
				c.Recorder.Enabled = true
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
				c.Metrics.Enabled = true
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
