// Command aip-observer runs the post-hoc reconciliation loop: it tails
// an append-only JSONL log of upstream provider calls the gateway
// didn't analyze inline (a sidecar deployment, a fail-open bypass, a
// timed-out analysis call) and turns any reasoning block it finds into
// an integrity checkpoint, deduped against whatever the gateway
// already wrote for the same trace.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemom/aip/internal/config"
	"github.com/mnemom/aip/pkg/alignmentcard"
	"github.com/mnemom/aip/pkg/analysismodel"
	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/integrity"
	"github.com/mnemom/aip/pkg/observability"
	"github.com/mnemom/aip/pkg/observer"
	"github.com/mnemom/aip/pkg/resilience"
	"github.com/mnemom/aip/pkg/types"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("aip-observer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var configPath, logPath string
	fs.StringVar(&configPath, "config", "", "Path to a YAML configuration file (optional)")
	fs.StringVar(&logPath, "log-path", "./aip-upstream.jsonl", "Path to the upstream call log this process tails")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stdout, nil))

	serviceName := cfg.ServiceName + "-observer"
	_, shutdownTracing, err := observability.NewTracerProvider(context.Background(), serviceName, cfg.OTelCollectorEndpoint)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: set up tracing: %v\n", err)
		return 2
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	store, err := checkpointstore.OpenSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open store: %v\n", err)
		return 2
	}
	defer func() { _ = store.DB().Close() }()

	analysisClient := analysismodel.New(cfg.AnalysisModelAPIKey, cfg.AnalysisModel)
	breakers := resilience.NewBreakers()
	guarded := &resilience.AnalysisClient{Inner: analysisClient, Breaker: breakers.For("analysis-model")}
	engineConfig := integrity.DefaultEngineConfig
	engineConfig.AnalysisModel = cfg.AnalysisModel
	engine := integrity.NewEngine(guarded, engineConfig)

	source := observer.NewFileLogSource(logPath)
	cards := observer.StoreCardResolver{Cards: alignmentcard.NewMemStore(types.AlignmentCard{})}

	interval := 30 * time.Second
	if d, err := time.ParseDuration(cfg.ObserverPollInterval); err == nil {
		interval = d
	}

	obs := observer.New(store, engine, source, cards, logger, interval)

	_, _ = fmt.Fprintf(stdout, "Agent Integrity Pipeline — Observer\n")
	_, _ = fmt.Fprintf(stdout, "════════════════════════════════════\n")
	_, _ = fmt.Fprintf(stdout, "  Tailing:  %s\n", logPath)
	_, _ = fmt.Fprintf(stdout, "  Database: %s\n", cfg.DatabaseURL)
	_, _ = fmt.Fprintf(stdout, "  Interval: %s\n", interval)
	_, _ = fmt.Fprintf(stdout, "\n  Ctrl+C to stop.\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := obs.Run(ctx); err != nil && err != context.Canceled {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
