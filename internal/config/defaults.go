package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTokenParam           = "token"
	DefaultTokenEnv             = "REALTIME_TOKEN"
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHeartbeatMaxMissed   = 2
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultRequestTimeout       = 5 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() {
	// Realtime defaults
	rt := &c.Realtime
	if rt.TokenParam == "" {
		rt.TokenParam = DefaultTokenParam
	}
	if rt.TokenEnv == "" && rt.TokenFile == "" {
		rt.TokenEnv = DefaultTokenEnv
	}
	if rt.HandshakeTimeout == 0 {
		rt.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if rt.WriteTimeout == 0 {
		rt.WriteTimeout = DefaultWriteTimeout
	}
	if rt.HeartbeatInterval == 0 {
		rt.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if rt.HeartbeatMaxMissed == 0 {
		rt.HeartbeatMaxMissed = DefaultHeartbeatMaxMissed
	}
	if rt.ReconnectBaseDelay == 0 {
		rt.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if rt.ReconnectMaxDelay == 0 {
		rt.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if rt.MaxReconnectAttempts == 0 {
		rt.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if rt.RequestTimeout == 0 {
		rt.RequestTimeout = DefaultRequestTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database)

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
