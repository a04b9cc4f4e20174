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

func runDestroyCommand(ctx context.Context, args []string) int {
	_ = ctx

	fs := flag.NewFlagSet("runledger destroy", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	force := fs.Bool("force", false, "confirm deletion of all storage files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !*force {
		fmt.Fprintln(os.Stderr, "destroy deletes the record, index, and lock files; pass -force to confirm")
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

	store := eventstore.New(cfg.StoragePath())
	// Refuse to destroy under a live foreign lock.
	if err := store.AcquireLock(); err != nil {
		if errors.Is(err, eventstore.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "another instance holds the storage lock; refusing to destroy")
			return 1
		}
		fmt.Fprintf(os.Stderr, "acquire lock: %v\n", err)
		return 1
	}

	if err := store.Destroy(); err != nil {
		audit.Record("destroy", "error", err.Error(), cfg.StoragePath())
		fmt.Fprintf(os.Stderr, "destroy: %v\n", err)
		return 1
	}
	audit.Record("destroy", "ok", "", cfg.StoragePath())

	fmt.Printf("destroyed store at %s\n", cfg.StoragePath())
	return 0
}
