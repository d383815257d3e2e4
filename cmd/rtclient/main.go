package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/soc-realtime/internal/auth"
	"github.com/rickgao/soc-realtime/internal/backoff"
	"github.com/rickgao/soc-realtime/internal/config"
	"github.com/rickgao/soc-realtime/internal/connection"
	"github.com/rickgao/soc-realtime/internal/database"
	"github.com/rickgao/soc-realtime/internal/heartbeat"
	"github.com/rickgao/soc-realtime/internal/metrics"
	"github.com/rickgao/soc-realtime/internal/protocol"
	"github.com/rickgao/soc-realtime/internal/recorder"
	"github.com/rickgao/soc-realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/rtclient.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting rtclient",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("rtclient exited", "error", err)
		os.Exit(1)
	}
	logger.Info("rtclient stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, err := tokenProvider(cfg.Realtime)
	if err != nil {
		return err
	}

	metrics.Init()
	mgr := connection.NewManager(connectionConfig(cfg.Realtime), tokens, logger)
	defer mgr.Close()

	for _, s := range cfg.Subscriptions {
		if err := mgr.Subscribe(s.Topic, s.Filters, s.Permissions); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.Topic, err)
		}
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		if err := rec.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		if err := rec.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			rec.Stop(stopCtx)
		}()

		mgr.OnAnyMessage(rec.Handle)
		mgr.OnStateChange(func(c connection.StateChange) { rec.RecordStateChange(c) })
	}

	failed := make(chan error, 1)
	mgr.OnStateChange(func(c connection.StateChange) {
		if c.To == connection.StateFailed {
			select {
			case failed <- c.Err:
			default:
			}
		}
	})
	mgr.OnError(func(err error) {
		var se *protocol.ServerError
		if errors.As(err, &se) {
			logger.Warn("server error", "code", se.Code, "message", se.Message)
			return
		}
		logger.Debug("connection error", "error", err)
	})

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHealthHandler(cfg.Metrics, mgr, rec),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := mgr.Connect(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-failed:
			return err
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		mgr.Disconnect()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newLogger builds the slog logger selected by the log section.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// tokenProvider reads the token from token_file when set, else token_env.
func tokenProvider(rt config.RealtimeConfig) (auth.TokenProvider, error) {
	if rt.TokenFile != "" {
		p, err := auth.FromFile(rt.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("load token file: %w", err)
		}
		return p, nil
	}
	return auth.FromEnv(rt.TokenEnv), nil
}

// connectionConfig maps the realtime section onto the manager config.
func connectionConfig(rt config.RealtimeConfig) connection.Config {
	cfg := connection.DefaultConfig()
	cfg.URL = rt.URL
	cfg.TokenParam = rt.TokenParam
	cfg.HandshakeTimeout = rt.HandshakeTimeout
	cfg.WriteTimeout = rt.WriteTimeout
	cfg.Heartbeat = heartbeat.Config{
		Interval:  rt.HeartbeatInterval,
		MaxMissed: rt.HeartbeatMaxMissed,
	}
	cfg.Backoff = backoff.Policy{
		Base:   rt.ReconnectBaseDelay,
		Max:    rt.ReconnectMaxDelay,
		Jitter: rt.ReconnectJitter,
	}
	cfg.MaxReconnectAttempts = rt.MaxReconnectAttempts
	cfg.RequestTimeout = rt.RequestTimeout
	cfg.UserAgent = version.UserAgent()
	return cfg
}

// newHealthHandler serves /health and, when enabled, the metrics endpoint.
func newHealthHandler(mc config.MetricsConfig, mgr *connection.Manager, rec *recorder.Recorder) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		state := mgr.State()
		stats := mgr.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		switch state {
		case connection.StateConnected:
		case connection.StateConnecting, connection.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		health.Components["connection"] = map[string]any{
			"state":             state.String(),
			"connection_id":     stats.ConnectionID,
			"attempt":           stats.Attempt,
			"reconnect_count":   stats.ReconnectCount,
			"messages_sent":     stats.MessagesSent,
			"messages_received": stats.MessagesReceived,
			"latency_ms":        stats.Latency.Milliseconds(),
		}
		health.Components["subscriptions"] = len(mgr.Subscriptions())
		if rec != nil {
			health.Components["recorder"] = rec.Stats()
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	if mc.Enabled {
		mux.Handle(mc.Path, metrics.Handler())
	}
	return mux
}
