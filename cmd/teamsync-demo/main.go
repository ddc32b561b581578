// Command teamsync-demo wires the full sync stack against a hosted backend
// and exercises the offline-first write path end to end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pitchside/teamsync"
	"github.com/pitchside/teamsync/config"
	"github.com/pitchside/teamsync/connectivity"
	"github.com/pitchside/teamsync/logging"
	"github.com/pitchside/teamsync/queue"
	"github.com/pitchside/teamsync/realtime"
	"github.com/pitchside/teamsync/service"
	"github.com/pitchside/teamsync/storage/sqlite"
	"github.com/pitchside/teamsync/transport/resthttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "teamsync-demo:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logger := logging.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := sqlite.New(sqlite.DefaultConfig(cfg.DatabasePath))
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer local.Close()

	q, err := queue.New(&queue.Config{
		DataSourceName: cfg.DatabasePath,
		MaxRetries:     cfg.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	remote := resthttp.NewClient(cfg.RemoteURL, resthttp.WithAPIKey(cfg.RemoteAPIKey))
	defer remote.Close()

	monitor := connectivity.NewProbeMonitor(connectivity.ProbeConfig{URL: cfg.ProbeURL})
	monitor.Start(ctx)
	defer monitor.Stop()

	var engineOpts []teamsync.EngineOption
	if cfg.CallTimeout > 0 {
		engineOpts = append(engineOpts, teamsync.WithCallTimeout(cfg.CallTimeout))
	}
	engine := teamsync.NewEngine(q, remote, monitor, engineOpts...)
	defer engine.Close()

	engine.Subscribe(func(state teamsync.SyncState) {
		logger.Info("sync state changed",
			slog.String("status", string(state.Status)),
			slog.Int("pending", state.PendingCount),
		)
	})
	engine.Start(ctx)

	services := service.NewRegistry(service.Deps{
		Local:   local,
		Remote:  remote,
		Queue:   q,
		Monitor: monitor,
	})

	if cfg.RealtimeURL != "" {
		notifier := realtime.NewWebsocketNotifier(realtime.Config{
			URL:    cfg.RealtimeURL,
			APIKey: cfg.RemoteAPIKey,
		})
		defer notifier.Close()

		go func() {
			err := notifier.Subscribe(ctx, func(n realtime.Notification) error {
				logger.Debug("change notification",
					slog.String("type", n.Type),
					slog.String("table", n.Table),
				)
				return engine.ProcessQueue(ctx)
			})
			if err != nil && ctx.Err() == nil {
				logger.LogError(ctx, err, "realtime subscription ended")
			}
		}()
	}

	// Seed a record through the offline-first write path, then pull.
	game, err := services.Games.Create(ctx, teamsync.Record{
		"opponent":  "Demo FC",
		"kickoff":   time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"home_away": "home",
	})
	if err != nil {
		logger.LogError(ctx, err, "create game failed; will replay when online")
	} else {
		logger.Info("game created", slog.Any("id", game["id"]))
	}

	for _, svc := range services.All() {
		if _, err := svc.Pull(ctx, nil); err != nil {
			logger.LogError(ctx, err, "pull failed", slog.String("table", svc.Table()))
		}
	}

	stats, err := engine.Stats(ctx)
	if err != nil {
		return err
	}
	logger.Info("queue stats",
		slog.Int("pending", stats.Pending),
		slog.Int("synced", stats.Synced),
		slog.Int("failed", stats.Failed),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
