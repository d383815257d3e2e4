// mockserver runs the scriptable realtime server for local development.
// Usage: go run ./cmd/mockserver --addr :8081 --token dev-token --rate 5
//
// Every subscribed topic receives synthetic "<topic>.event" frames at the
// given rate. --drop-every forces abrupt socket drops to exercise reconnects.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/soc-realtime/internal/wstest"
)

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	path := flag.String("path", "/realtime", "socket path")
	token := flag.String("token", "", "required token, empty accepts any")
	eventsPerSec := flag.Float64("rate", 2, "synthetic events per second per topic")
	dropEvery := flag.Duration("drop-every", 0, "drop all sockets on this interval, 0 disables")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	srv := wstest.New(wstest.Options{Token: *token, Logger: logger})
	mux := http.NewServeMux()
	mux.Handle(*path, srv)

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("mock server listening", "addr", *addr, "path", *path)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return publish(gctx, srv, rate.NewLimiter(rate.Limit(*eventsPerSec), 1), logger)
	})
	if *dropEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*dropEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					logger.Info("dropping sockets", "connections", srv.Connections())
					srv.DropAll()
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("mock server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("mock server stopped")
}

// publish emits one synthetic event per subscribed topic each time the
// limiter allows.
func publish(ctx context.Context, srv *wstest.Server, limiter *rate.Limiter, logger *slog.Logger) error {
	var seq int64
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		for _, topic := range srv.Topics() {
			seq++
			n := srv.Publish(topic, topic+".event", map[string]any{
				"id":       uuid.NewString(),
				"seq":      seq,
				"topic":    topic,
				"severity": severities[seq%int64(len(severities))],
				"at":       time.Now().UTC().Format(time.RFC3339Nano),
			})
			logger.Debug("published", "topic", topic, "seq", seq, "sockets", n)
		}
	}
}

var severities = []string{"low", "medium", "high", "critical"}
