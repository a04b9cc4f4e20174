package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/basket/runledger/internal/audit"
	"github.com/basket/runledger/internal/bus"
	"github.com/basket/runledger/internal/config"
	"github.com/basket/runledger/internal/eventstore"
	"github.com/basket/runledger/internal/ledger"
	otelPkg "github.com/basket/runledger/internal/otel"
	"github.com/basket/runledger/internal/shared"
)

// runWatchCommand runs the store in the foreground: it holds the lock,
// runs periodic and scheduled compaction, hot-reloads config, and logs
// bus events to the operations log until SIGINT/SIGTERM.
func runWatchCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("runledger watch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	logger, cleanup, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return 1
	}
	defer cleanup()

	// One trace id per watch session so every log line of this run is
	// correlatable.
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	logger = logger.With("trace_id", shared.TraceID(ctx))
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if err := audit.Init(cfg.HomeDir); err != nil {
		logger.Error("audit init failed", "error", err)
		return 1
	}
	defer audit.Close()

	otelProvider, err := otelPkg.Init(ctx, cfg.OTel)
	if err != nil {
		logger.Error("otel init failed", "error", err)
		return 1
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}

	eventBus := bus.New()
	store := eventstore.New(cfg.StoragePath(),
		eventstore.WithLogger(logger),
		eventstore.WithBus(eventBus),
		eventstore.WithMetrics(metrics),
	)

	if err := store.AcquireLock(); err != nil {
		if errors.Is(err, eventstore.ErrLockHeld) {
			logger.Error("another instance holds the storage lock")
			fmt.Fprintln(os.Stderr, "another instance holds the storage lock; exiting")
			return 1
		}
		logger.Error("lock acquisition failed", "error", err)
		return 1
	}

	led := ledger.NewPersistent(store, nil, ledger.Options{
		MaxEvents:         cfg.Storage.MaxEvents,
		CompactIntervalMS: cfg.Storage.CompactIntervalMS,
		CompactSchedule:   cfg.Storage.CompactSchedule,
		EnableWAL:         cfg.Storage.WALEnabled(),
	},
		ledger.WithLogger(logger),
		ledger.WithBus(eventBus),
		ledger.WithMetrics(metrics),
	)
	_, span := otelPkg.StartSpan(ctx, otelProvider.Tracer, "ledger.hydrate",
		otelPkg.AttrStorePath.String(cfg.StoragePath()))
	err = led.Init()
	if err != nil {
		span.End()
		logger.Error("ledger init failed", "error", err)
		store.ReleaseLock()
		return 1
	}
	span.SetAttributes(otelPkg.AttrRecordCount.Int(led.EventCount()))
	span.End()
	logger.Info("ledger hydrated",
		"events", led.EventCount(), "storage", cfg.StoragePath())

	go logBusEvents(ctx, eventBus, logger)
	go watchConfig(ctx, cfg, logger)

	<-ctx.Done()
	logger.Info("shutdown requested")

	// Checkpoint memory before teardown so nothing rides only on the
	// fire-and-forget path.
	_, saveSpan := otelPkg.StartSpan(context.Background(), otelProvider.Tracer, "ledger.checkpoint",
		otelPkg.AttrRecordCount.Int(led.EventCount()))
	if err := led.Save(); err != nil {
		logger.Error("final save failed", "error", err)
	}
	saveSpan.End()
	if err := led.Destroy(); err != nil {
		logger.Error("ledger teardown failed", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// logBusEvents mirrors bus traffic into the log and the operations log.
func logBusEvents(ctx context.Context, b *bus.Bus, logger *slog.Logger) {
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			switch payload := ev.Payload.(type) {
			case bus.WALAppendFailedEvent:
				logger.Error("durable append failed",
					"event_id", payload.EventID, "task_id", payload.TaskID, "error", payload.Err)
				audit.Record("wal_append", "error", payload.Err.Error(), payload.EventID)
			case bus.CompactionRunEvent:
				audit.Record("compact", "ok",
					fmt.Sprintf("evicted=%d retained=%d max=%d elapsed_ms=%d",
						payload.Evicted, payload.Retained, payload.MaxEvents, payload.Elapsed),
					"store")
			case bus.LockReclaimedEvent:
				audit.Record("lock_reclaim", "ok",
					fmt.Sprintf("pid=%d age_ms=%d", payload.PID, payload.AgeMS),
					payload.Holder)
			default:
				logger.Debug("bus event", "topic", ev.Topic)
			}
		}
	}
}

// watchConfig hot-reloads config.yaml. Log level and retention take a
// restart to rewire; the watcher reports what changed so an operator
// knows a restart is pending.
func watchConfig(ctx context.Context, current config.Config, logger *slog.Logger) {
	watcher := config.NewWatcher(current.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}
	fingerprint := current.Fingerprint()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events():
			if !ok {
				return
			}
			reloaded, err := config.Load()
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			next := reloaded.Fingerprint()
			if next == fingerprint {
				continue
			}
			logger.Info("config changed; restart to apply storage settings",
				"old_fingerprint", fingerprint, "new_fingerprint", next)
			fingerprint = next
		}
	}
}
