package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/runledger/internal/config"
	"github.com/basket/runledger/internal/eventstore"
)

func runStatsCommand(ctx context.Context, args []string) int {
	_ = ctx

	fs := flag.NewFlagSet("runledger stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	jsonOutput := fs.Bool("json", false, "emit stats as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	store := eventstore.New(cfg.StoragePath())
	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("Storage:    %s\n", cfg.StoragePath())
	fmt.Printf("Events:     %d\n", stats.EventCount)
	fmt.Printf("Size:       %d bytes\n", stats.StorageSizeBytes)
	fmt.Printf("Oldest:     %s\n", formatEpochMS(stats.OldestEvent))
	fmt.Printf("Newest:     %s\n", formatEpochMS(stats.NewestEvent))
	return 0
}

func formatEpochMS(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", *ms, time.UnixMilli(*ms).UTC().Format(time.RFC3339))
}
