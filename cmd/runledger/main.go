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

	"github.com/mattn/go-isatty"

	"github.com/basket/runledger/internal/config"
	"github.com/basket/runledger/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SUBCOMMANDS:
  %s stats [-json]            Show storage stats for the event store
  %s compact [-max N]         Run one compaction pass (acquires the lock)
  %s export [options]         Dump events as JSON lines
                              Options: -start ms, -end ms, -o <file>
  %s import [options]         Ingest events from a JSONL file
                              Options: -path <file>, -validate=false
  %s verify [-json]           Run storage diagnostics
  %s watch                    Foreground mode: periodic and scheduled
                              compaction plus config hot reload, until
                              SIGINT/SIGTERM
  %s destroy -force           Delete the record, index, and lock files

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  RUNLEDGER_HOME              Data directory (default: ~/.runledger)
  RUNLEDGER_STORAGE_PATH      Storage directory (default: <home>/store)
  RUNLEDGER_MAX_EVENTS        Compaction retention bound
  RUNLEDGER_ENABLE_WAL        Set to false for memory-only until save

EXAMPLES:
  Show stats:                 %s stats
  Compact to 5000 events:     %s compact -max 5000
  Export a time range:        %s export -start 1700000000000 -end 1700099999999
  Validate and ingest:        %s import -path events.jsonl
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
	case "stats":
		os.Exit(runStatsCommand(ctx, args[1:]))
	case "compact":
		os.Exit(runCompactCommand(ctx, args[1:]))
	case "export":
		os.Exit(runExportCommand(ctx, args[1:]))
	case "import":
		os.Exit(runImportCommand(ctx, args[1:]))
	case "verify":
		os.Exit(runVerifyCommand(ctx, args[1:]))
	case "watch":
		os.Exit(runWatchCommand(ctx, args[1:]))
	case "destroy":
		os.Exit(runDestroyCommand(ctx, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// setupLogger wires the structured logger. Logs stay out of stdout when
// it is not a terminal so piped command output remains clean JSON.
func setupLogger(cfg config.Config) (*slog.Logger, func(), error) {
	quiet := !isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return logger, func() { _ = closer.Close() }, nil
}
