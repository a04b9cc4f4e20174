package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/runledger/internal/audit"
	"github.com/basket/runledger/internal/config"
	"github.com/basket/runledger/internal/event"
	"github.com/basket/runledger/internal/eventstore"
)

func runImportCommand(ctx context.Context, args []string) int {
	_ = ctx

	fs := flag.NewFlagSet("runledger import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("path", "", "JSONL file to ingest (default: stdin)")
	validate := fs.Bool("validate", true, "validate each line against the record schema")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if len(fs.Args()) != 0 {
		fmt.Fprintln(os.Stderr, "usage: runledger import [-path file] [-validate=false]")
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

	var in io.Reader = os.Stdin
	src := "stdin"
	if *path != "" {
		f, err := os.Open(*path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", *path, err)
			return 1
		}
		defer f.Close()
		in = f
		src = *path
	}

	events, badLines, err := parseImportStream(in, *validate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", src, err)
		return 1
	}
	if len(events) == 0 {
		fmt.Println("no events to import")
		return 0
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

	for i, ev := range events {
		if err := store.Append(ev); err != nil {
			audit.Record("import", "error", err.Error(), src)
			fmt.Fprintf(os.Stderr, "append event %d: %v\n", i, err)
			return 1
		}
	}
	audit.Record("import", "ok", fmt.Sprintf("events=%d rejected=%d", len(events), badLines), src)

	fmt.Printf("imported %d events", len(events))
	if badLines > 0 {
		fmt.Printf(" (%d lines rejected)", badLines)
	}
	fmt.Println()
	return 0
}

// parseImportStream reads JSONL input, optionally schema-validating
// each line. Rejected lines are counted, not fatal, matching the
// store's own malformed-line tolerance.
func parseImportStream(in io.Reader, validate bool) ([]event.RunEvent, int, error) {
	var validator *event.SchemaValidator
	if validate {
		v, err := event.NewSchemaValidator()
		if err != nil {
			return nil, 0, err
		}
		validator = v
	}

	var events []event.RunEvent
	badLines := 0
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if validator != nil {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(line))
			if err != nil {
				fmt.Fprintf(os.Stderr, "line %d: not JSON: %v\n", lineNo, err)
				badLines++
				continue
			}
			if err := validator.ValidateJSON(doc); err != nil {
				fmt.Fprintf(os.Stderr, "line %d: schema violation: %v\n", lineNo, err)
				badLines++
				continue
			}
		}

		var ev event.RunEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: decode: %v\n", lineNo, err)
			badLines++
			continue
		}
		if ev.EventID == "" {
			ev.EventID = event.NewEventID()
		}
		if err := ev.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "line %d: invalid event: %v\n", lineNo, err)
			badLines++
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, badLines, err
	}
	return events, badLines, nil
}
