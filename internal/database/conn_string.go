package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/soc-realtime/internal/config"
)

// connURL builds the postgres:// URL for cfg. An empty ssl_mode means prefer.
func connURL(cfg config.DBConfig) *url.URL {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DBConfig) string {
	return connURL(cfg).String()
}

// RedactConnString is BuildConnString with the password masked, for logs.
func RedactConnString(cfg config.DBConfig) string {
	return connURL(cfg).Redacted()
}
