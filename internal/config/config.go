package config

import "time"

// Config is the root configuration for a realtime client instance.
type Config struct {
	Instance      InstanceConfig       `yaml:"instance"`
	Realtime      RealtimeConfig       `yaml:"realtime"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Recorder      RecorderConfig       `yaml:"recorder"`
	Database      DBConfig             `yaml:"database"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Log           LogConfig            `yaml:"log"`
}

// InstanceConfig identifies this client.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// RealtimeConfig holds connection manager settings.
type RealtimeConfig struct {
	URL                  string        `yaml:"url"`
	TokenParam           string        `yaml:"token_param"` // Query parameter carrying the token
	TokenEnv             string        `yaml:"token_env"`   // Environment variable holding the token
	TokenFile            string        `yaml:"token_file"`  // File holding the token; wins over token_env
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatMaxMissed   int           `yaml:"heartbeat_max_missed"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter      float64       `yaml:"reconnect_jitter"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
}

// SubscriptionConfig is a topic subscribed at startup.
type SubscriptionConfig struct {
	Topic       string         `yaml:"topic"`
	Filters     map[string]any `yaml:"filters"`
	Permissions []string       `yaml:"permissions"`
}

// RecorderConfig holds event recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds the Postgres connection used by the recorder.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
