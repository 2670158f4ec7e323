package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cratsale/core/events"
	"cratsale/native/sale"
	"cratsale/observability"
	"cratsale/observability/logging"
	telemetry "cratsale/observability/otel"
	"cratsale/services/saled/config"
	"cratsale/services/saled/server"
	"cratsale/services/saled/storage"
	kv "cratsale/storage"
)

// recentEvents bounds the in-memory feed behind /v1/journal/events.
const recentEvents = 512

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/saled/config.yaml", "path to saled configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("saled: load config: %v", err)
	}
	env := strings.TrimSpace(cfg.Environment)
	if fromEnv := strings.TrimSpace(os.Getenv("CRATSALE_ENV")); fromEnv != "" {
		env = fromEnv
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "saled",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "saled",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("saled: init telemetry: %v", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := kv.Open(cfg.State.Backend, cfg.State.Path)
	if err != nil {
		log.Fatalf("saled: open state: %v", err)
	}
	defer db.Close()

	ledger, err := openLedger(cfg, db, logger)
	if err != nil {
		log.Fatalf("saled: bootstrap ledger: %v", err)
	}
	params, err := cfg.SaleParams()
	if err != nil {
		log.Fatalf("saled: sale params: %v", err)
	}
	engine, err := sale.NewEngine(params, ledger, db)
	if err != nil {
		log.Fatalf("saled: sale engine: %v", err)
	}
	engine.SetLogger(logger)
	recent := events.NewRecorder(recentEvents)
	emitter := events.Multi{observability.Events(), recent}
	engine.SetEmitter(emitter)
	ledger.SetEmitter(emitter)

	journal, err := storage.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("saled: open journal: %v", err)
	}
	defer journal.Close()

	operatorSecret := cfg.Auth.Operator.HMACSecret
	if fromEnv := strings.TrimSpace(os.Getenv("SALED_OPERATOR_SECRET")); fromEnv != "" {
		operatorSecret = fromEnv
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		MaxClockSkew:  cfg.Auth.MaxClockSkew.Duration,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Operator: server.OperatorAuthConfig{
			HMACSecret: operatorSecret,
			Issuer:     cfg.Auth.Operator.Issuer,
			Audience:   cfg.Auth.Operator.Audience,
		},
		ReadTimeout:     cfg.Server.ReadTimeout.Duration,
		WriteTimeout:    cfg.Server.WriteTimeout.Duration,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration,
		Events:          recent,
	}, engine, ledger, journal, logger)
	if err != nil {
		log.Fatalf("saled: server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pruneNonces(ctx, journal, cfg.Auth.NonceTTL.Duration, logger)

	state := engine.State()
	logger.Info("saled: sale ready",
		slog.String("sale", params.Address.Hex()),
		slog.String("phase", state.Phase.String()),
		slog.String("price", sale.FormatUnits(state.CurrentPrice)),
		slog.String("tokens_sold", sale.FormatUnits(state.TokensSold)))

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("saled: server error: %v", err)
	}
	logger.Info("saled: shutdown complete")
}

// pruneNonces drops consumed nonces once their timestamps can no longer pass
// the freshness check.
func pruneNonces(ctx context.Context, journal *storage.Store, ttl time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pruned, err := journal.PruneNonces(ctx, now.Add(-ttl))
			if err != nil {
				logger.Warn("saled: prune nonces", slog.Any("error", err))
				continue
			}
			if pruned > 0 {
				logger.Debug("saled: pruned nonces", slog.Int64("count", pruned))
			}
		}
	}
}
