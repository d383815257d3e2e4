// streamtest connects to a realtime endpoint and prints routed frames to the console.
// Usage: go run ./cmd/streamtest --url ws://localhost:8081/realtime --topics alerts,incidents
//
// The token is read from the environment variable named by --token-env
// (REALTIME_TOKEN by default).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/soc-realtime/internal/auth"
	"github.com/rickgao/soc-realtime/internal/connection"
	"github.com/rickgao/soc-realtime/internal/protocol"
	"github.com/rickgao/soc-realtime/internal/version"
)

func main() {
	url := flag.String("url", "ws://localhost:8081/realtime", "realtime endpoint")
	tokenEnv := flag.String("token-env", "REALTIME_TOKEN", "environment variable holding the token")
	topics := flag.String("topics", "alerts", "comma separated topics to subscribe")
	verbose := flag.Bool("verbose", false, "print full frame data")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := connection.DefaultConfig()
	cfg.URL = *url
	cfg.UserAgent = version.UserAgent()

	mgr := connection.NewManager(cfg, auth.FromEnv(*tokenEnv), logger)
	defer mgr.Close()

	for _, topic := range strings.Split(*topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if err := mgr.Subscribe(topic, nil, nil); err != nil {
			logger.Error("subscribe failed", "topic", topic, "error", err)
			os.Exit(1)
		}
	}

	mgr.OnAnyMessage(func(f protocol.Frame) error {
		printFrame(f, *verbose)
		return nil
	})
	mgr.OnStateChange(func(c connection.StateChange) {
		fmt.Printf("[STATE] %s -> %s err=%v\n", c.From, c.To, c.Err)
		if c.To == connection.StateFailed {
			stop()
		}
	})

	if err := mgr.Connect(); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := mgr.Stats()
				routerStats := mgr.RouterStats()
				logger.Info("stats",
					"state", mgr.State(),
					"messages_received", connStats.MessagesReceived,
					"messages_sent", connStats.MessagesSent,
					"reconnects", connStats.ReconnectCount,
					"latency", connStats.Latency,
					"dispatched", routerStats.Dispatched,
					"unhandled", routerStats.Unhandled,
					"pending", routerStats.Pending,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Disconnect()
	logger.Info("shutdown complete")
}

func printFrame(f protocol.Frame, verbose bool) {
	label := strings.ToUpper(f.Kind().String())
	if verbose {
		fmt.Printf("[%s] type=%s source=%s request_id=%s data=%s\n", label, f.Type, f.Source, f.RequestID, f.Data)
		return
	}
	fmt.Printf("[%s] type=%s source=%s\n", label, f.Type, f.Source)
}
