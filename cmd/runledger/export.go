package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/basket/runledger/internal/config"
	"github.com/basket/runledger/internal/event"
	"github.com/basket/runledger/internal/eventstore"
)

func runExportCommand(ctx context.Context, args []string) int {
	_ = ctx

	fs := flag.NewFlagSet("runledger export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	start := fs.Int64("start", 0, "inclusive lower timestamp bound (epoch ms)")
	end := fs.Int64("end", math.MaxInt64, "inclusive upper timestamp bound (epoch ms)")
	outPath := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *start > *end {
		fmt.Fprintln(os.Stderr, "start must not exceed end")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	store := eventstore.New(cfg.StoragePath())
	records, err := store.ReadRange(*start, *end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read: %v\n", err)
		return 1
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *outPath, err)
			return 1
		}
		defer f.Close()
		out = f
	}

	if err := writeJSONL(out, records); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		return 1
	}
	if *outPath != "" {
		fmt.Printf("exported %d events to %s\n", len(records), *outPath)
	}
	return 0
}

func writeJSONL(out io.Writer, records []event.RunEvent) error {
	w := bufio.NewWriter(out)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}
