package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/basket/runledger/internal/audit"
	"github.com/basket/runledger/internal/config"
	"github.com/basket/runledger/internal/eventstore"
)

func runCompactCommand(ctx context.Context, args []string) int {
	_ = ctx

	fs := flag.NewFlagSet("runledger compact", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	maxEvents := fs.Int("max", 0, "retention bound (default: storage.max_events from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	if _, cleanup, err := setupLogger(cfg); err == nil {
		defer cleanup()
	}
	if err := audit.Init(cfg.HomeDir); err == nil {
		defer audit.Close()
	}

	bound := *maxEvents
	if bound <= 0 {
		bound = cfg.Storage.MaxEvents
	}

	store := eventstore.New(cfg.StoragePath())
	if err := store.AcquireLock(); err != nil {
		if errors.Is(err, eventstore.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "another instance holds the storage lock; retry later")
			return 1
		}
		fmt.Fprintf(os.Stderr, "acquire lock: %v\n", err)
		return 1
	}
	defer store.ReleaseLock()

	evicted, err := store.Compact(bound)
	if err != nil {
		audit.Record("compact", "error", err.Error(), cfg.StoragePath())
		fmt.Fprintf(os.Stderr, "compact: %v\n", err)
		return 1
	}
	audit.Record("compact", "ok", fmt.Sprintf("evicted=%d max=%d", evicted, bound), cfg.StoragePath())

	fmt.Printf("evicted %d events (retention bound %d)\n", evicted, bound)
	return 0
}
