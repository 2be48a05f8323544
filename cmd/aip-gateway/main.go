// Command aip-gateway runs the transparent reverse proxy in front of
// the Anthropic, OpenAI, and Gemini APIs: every request is identified,
// quota-checked, and forwarded; every response is mined for a
// reasoning block, analyzed, attested, and acted on.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mnemom/aip/internal/config"
	"github.com/mnemom/aip/pkg/alignmentcard"
	"github.com/mnemom/aip/pkg/alignmentcard/policy"
	"github.com/mnemom/aip/pkg/analysismodel"
	"github.com/mnemom/aip/pkg/attestation"
	"github.com/mnemom/aip/pkg/audit"
	"github.com/mnemom/aip/pkg/background"
	"github.com/mnemom/aip/pkg/cache"
	"github.com/mnemom/aip/pkg/checkpointstore"
	"github.com/mnemom/aip/pkg/checkpointstore/export"
	aipcrypto "github.com/mnemom/aip/pkg/crypto"
	"github.com/mnemom/aip/pkg/enforcement"
	"github.com/mnemom/aip/pkg/gateway"
	"github.com/mnemom/aip/pkg/integrity"
	"github.com/mnemom/aip/pkg/kms"
	"github.com/mnemom/aip/pkg/metrics"
	"github.com/mnemom/aip/pkg/observability"
	"github.com/mnemom/aip/pkg/ops"
	"github.com/mnemom/aip/pkg/provider"
	"github.com/mnemom/aip/pkg/resilience"
	"github.com/mnemom/aip/pkg/types"
	"github.com/mnemom/aip/pkg/webhook"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("aip-gateway", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to a YAML configuration file (optional; env vars always override)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	_, shutdownTracing, err := observability.NewTracerProvider(context.Background(), cfg.ServiceName, cfg.OTelCollectorEndpoint)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: set up tracing: %v\n", err)
		return 2
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	checkpoints, gatewayStores, closeDB, err := openStores(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer closeDB()

	kmsKeystore, err := kms.NewLocalKMS(cfg.KMSKeystorePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open kms keystore: %v\n", err)
		return 2
	}

	signerSeed, err := kmsKeystore.DeriveEd25519Seed("checkpoint-signer")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: derive signing key: %v\n", err)
		return 2
	}
	signer := aipcrypto.NewEd25519SignerFromKey(signerSeed, fmt.Sprintf("kms-v%d", kmsKeystore.ActiveVersion()))

	redisCache := cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	analysisClient := analysismodel.New(cfg.AnalysisModelAPIKey, cfg.AnalysisModel)
	breakers := resilience.NewBreakers()
	guardedAnalysisClient := &resilience.AnalysisClient{Inner: analysisClient, Breaker: breakers.For("analysis-model")}
	engineConfig := integrity.DefaultEngineConfig
	engineConfig.AnalysisModel = cfg.AnalysisModel
	engine := integrity.NewEngine(guardedAnalysisClient, engineConfig)

	merkleStore := attestation.NewMemStore()
	attestor := attestation.NewAttestor(signer, merkleStore, merkleStore)

	policyEvaluator, err := policy.NewEvaluator(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: compile policy module: %v\n", err)
		return 2
	}

	encryptedEndpoints := webhook.NewEncryptedEndpointStore(gatewayStores.endpoints, kmsKeystore)
	sender := webhook.NewSender(&http.Client{Timeout: 10 * time.Second})
	dispatcher := webhook.NewDispatcher(encryptedEndpoints, gatewayStores.deliveries, sender, logger)

	nudges := enforcement.NewManager(gatewayStores.nudges, time.Now, nil)
	containment := enforcement.NewContainment(
		gateway.RecentVerdictsFetcher{Checkpoints: checkpoints},
		gateway.AgentUpdater{Agents: gatewayStores.agents, Cache: redisCache},
		audit.NewLogger(),
		time.Now,
	)

	notifier := ops.NewNotifier(cfg.SlackToken, cfg.SlackChannel, logger)
	registry := metrics.New()

	providers, err := resolveProviders(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	threshold := &cfg.AutoContainmentThreshold
	if cfg.AutoContainmentThreshold <= 0 {
		threshold = nil
	}

	gw := gateway.New(gateway.Config{
		Providers:              providers,
		JWTSecret:              cfg.JWTSecret,
		CFAIGToken:             cfg.CFAIGToken,
		DefaultEnforcementMode: cfg.EnforcementMode(),
		AutoContainmentThreshold: threshold,
		NudgeStrategy: enforcement.StrategyParams{
			Strategy:            cfg.NudgeStrategyKind(),
			SamplingRatePercent: cfg.NudgeSamplingRatePercent,
			ThresholdViolations: cfg.NudgeThresholdViolations,
		},
	}, gateway.Deps{
		Cache:       redisCache,
		Agents:      gatewayStores.agents,
		Cards:       alignmentcard.NewMemStore(types.AlignmentCard{}),
		Engine:      engine,
		Signer:      signer,
		Attestor:    attestor,
		Checkpoints: checkpoints,
		Nudges:      nudges,
		Containment: containment,
		Dispatcher:  dispatcher,
		Policy:      policyEvaluator,
		Metrics:     registry,
		Notifier:    notifier,
		Breakers:    breakers,
		Logger:      logger,
		Clock:       time.Now,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           gw.Router(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	runner := background.NewRunner(server, logger)
	runner.AddWorker("webhook-retry-sweep", func(ctx context.Context) error {
		return pollEvery(ctx, 15*time.Second, func() { _ = dispatcher.DeliverDueRetries(ctx) })
	})
	runner.AddWorker("nudge-expiry-sweep", func(ctx context.Context) error {
		return pollEvery(ctx, time.Minute, func() { _, _ = nudges.SweepExpired(ctx) })
	})

	if cfg.ExportS3Bucket != "" {
		aging, ok := checkpoints.(export.AgingStore)
		if !ok {
			_, _ = fmt.Fprintf(stderr, "Error: checkpoint store does not support cold-storage export\n")
			return 2
		}
		sink, err := export.NewSink(context.Background(), export.Config{
			Bucket:   cfg.ExportS3Bucket,
			Region:   cfg.ExportS3Region,
			Endpoint: cfg.ExportS3Endpoint,
			Prefix:   cfg.ExportS3Prefix,
		})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: set up checkpoint export sink: %v\n", err)
			return 2
		}
		sweeper := export.NewSweeper(aging, sink, cfg.ExportRetentionDuration())
		runner.AddWorker("checkpoint-export-sweep", func(ctx context.Context) error {
			return pollEvery(ctx, cfg.ExportSweepPeriodDuration(), func() {
				if _, err := sweeper.SweepOnce(ctx); err != nil {
					logger.Error("checkpoint export sweep failed", "error", err)
				}
			})
		})
	}

	printBanner(stdout, cfg, providers)

	if err := runner.Run(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printBanner(stdout io.Writer, cfg config.Config, providers map[provider.Name]gateway.ProviderTarget) {
	_, _ = fmt.Fprintf(stdout, "Agent Integrity Pipeline — Gateway\n")
	_, _ = fmt.Fprintf(stdout, "═══════════════════════════════════\n")
	_, _ = fmt.Fprintf(stdout, "  Listen:          http://localhost:%d\n", cfg.Port)
	_, _ = fmt.Fprintf(stdout, "  Health:          http://localhost:%d/healthz\n", cfg.Port)
	_, _ = fmt.Fprintf(stdout, "  Metrics:         http://localhost:%d/metrics\n", cfg.Port)
	_, _ = fmt.Fprintf(stdout, "  Database:        %s\n", cfg.DatabaseDriver)
	_, _ = fmt.Fprintf(stdout, "  Enforcement:     %s (default)\n", cfg.EnforcementMode())
	for name, target := range providers {
		_, _ = fmt.Fprintf(stdout, "  Provider:        /%s -> %s\n", name, target.BaseURL)
	}
	_, _ = fmt.Fprintf(stdout, "\n  Point your client's base URL at /anthropic, /openai, or /gemini. Ctrl+C to stop.\n")
}

func resolveProviders(cfg config.Config) (map[provider.Name]gateway.ProviderTarget, error) {
	out := make(map[provider.Name]gateway.ProviderTarget, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		base, err := url.Parse(pc.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("config: invalid base_url for provider %q: %w", name, err)
		}
		out[provider.Name(name)] = gateway.ProviderTarget{
			Name:             provider.Name(name),
			BaseURL:          base,
			CredentialHeader: pc.CredentialHeader,
		}
	}
	return out, nil
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func pollEvery(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// gatewayStateStores bundles the four tables the gateway's request
// path, nudge manager, and webhook dispatcher need beyond the
// checkpoint ledger itself.
type gatewayStateStores struct {
	agents     checkpointstore.AgentStore
	nudges     enforcement.Store
	endpoints  webhook.RegisteringEndpointStore
	deliveries webhook.DeliveryStore
}

func openStores(cfg config.Config) (checkpointstore.Store, gatewayStateStores, func(), error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, gatewayStateStores{}, func() {}, fmt.Errorf("open postgres: %w", err)
		}
		store := checkpointstore.NewPostgresStore(db)
		if err := store.Init(context.Background()); err != nil {
			return nil, gatewayStateStores{}, func() {}, fmt.Errorf("apply migrations: %w", err)
		}
		stores := gatewayStateStores{
			agents:     checkpointstore.NewPostgresAgentStore(db),
			nudges:     checkpointstore.NewPostgresNudgeStore(db),
			endpoints:  checkpointstore.NewPostgresEndpointStore(db),
			deliveries: checkpointstore.NewPostgresDeliveryStore(db),
		}
		return store, stores, func() { _ = db.Close() }, nil
	default:
		store, err := checkpointstore.OpenSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return nil, gatewayStateStores{}, func() {}, fmt.Errorf("open sqlite: %w", err)
		}
		db := store.DB()
		stores := gatewayStateStores{
			agents:     checkpointstore.NewSQLiteAgentStore(db),
			nudges:     checkpointstore.NewSQLiteNudgeStore(db),
			endpoints:  checkpointstore.NewSQLiteEndpointStore(db),
			deliveries: checkpointstore.NewSQLiteDeliveryStore(db),
		}
		return store, stores, func() { _ = db.Close() }, nil
	}
}
