package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakevault/config"
	"stakevault/core"
	"stakevault/core/events"
	"stakevault/core/types"
	"stakevault/observability/logging"
	"stakevault/observability/metrics"
	telemetry "stakevault/observability/otel"
	"stakevault/rpc"
	"stakevault/storage"
)

const environmentEnv = "STAKEVAULT_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv(environmentEnv))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("stakevaultd", env, &logging.FileRotation{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	otlpEndpoint := strings.TrimSpace(cfg.Telemetry.Endpoint)
	if otlpEndpoint == "" {
		otlpEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:   "stakevaultd",
		Environment:   env,
		OTLPEndpoint:  otlpEndpoint,
		Insecure:      cfg.Telemetry.Insecure,
		Headers:       telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		EnableTraces:  cfg.Telemetry.EnableTraces,
		EnableMetrics: cfg.Telemetry.EnableMetrics,
	})
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	ledger, err := core.NewLedger(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to open ledger: %v", err))
	}

	if dir := filepath.Dir(cfg.JournalPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			panic(fmt.Sprintf("Failed to prepare journal directory: %v", err))
		}
	}
	journal, err := storage.NewJournal(cfg.JournalPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to open event journal: %v", err))
	}
	defer journal.Close()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	verified, err := journal.Verify(verifyCtx)
	cancelVerify()
	if err != nil {
		panic(fmt.Sprintf("Event journal failed hash-chain verification: %v", err))
	}
	logger.Info("event journal verified", slog.Uint64("entries", verified))

	ledger.SetJournal(journal)
	ledger.SetEmitter(events.Fanout{
		metrics.NewRecorder(),
		&eventLogger{logger: logger},
	})

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	if genesisPath != "" {
		doc, accounts, err := config.LoadGenesis(genesisPath)
		if err != nil {
			panic(fmt.Sprintf("Failed to load genesis: %v", err))
		}
		if err := ledger.InitGenesis(doc, accounts); err != nil {
			panic(fmt.Sprintf("Failed to apply genesis: %v", err))
		}
	}

	ownership, err := ledger.Owner()
	if err != nil {
		panic(fmt.Sprintf("Failed to read ledger ownership: %v", err))
	}
	if ownership == nil || ownership.Owner.IsZero() {
		logger.Warn("ledger has no owner; provide a genesis file to seed the pools")
	} else {
		logger.Info("ledger ready", slog.String("owner", ownership.Owner.String()))
	}

	var idemStore *rpc.IdempotencyStore
	if path := strings.TrimSpace(cfg.RPC.IdempotencyPath); path != "" {
		store, err := rpc.NewIdempotencyStore(path, time.Duration(cfg.RPC.IdempotencyTTLHours)*time.Hour)
		if err != nil {
			panic(fmt.Sprintf("Failed to open idempotency store: %v", err))
		}
		defer store.Close()
		idemStore = store
	}

	authToken := strings.TrimSpace(os.Getenv(cfg.RPC.AuthTokenEnv))
	if authToken == "" {
		logger.Warn("RPC bearer token not configured; staking calls will be rejected",
			slog.String("env", cfg.RPC.AuthTokenEnv))
	}
	adminSecret := strings.TrimSpace(os.Getenv(cfg.RPC.AdminSecretEnv))
	if adminSecret == "" {
		logger.Warn("admin JWT secret not configured; admin calls will be rejected",
			slog.String("env", cfg.RPC.AdminSecretEnv))
	}

	server, err := rpc.NewServer(ledger, journal, rpc.ServerConfig{
		AuthToken: authToken,
		Admin: rpc.JWTConfig{
			Enable:   adminSecret != "",
			Secret:   adminSecret,
			Issuer:   cfg.RPC.AdminIssuer,
			Audience: cfg.RPC.AdminAudience,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RPC.RequestsPerMinute,
			Burst:             cfg.RPC.Burst,
		},
		Idempotency: idemStore,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to initialise RPC server", slog.Any("error", err))
		os.Exit(1)
	}

	handler := http.Handler(server.Router())
	if cfg.Telemetry.EnableTraces {
		handler = otelhttp.NewHandler(handler, "stakevault-rpc")
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Error("failed to listen", slog.String("address", cfg.ListenAddress), slog.Any("error", err))
		os.Exit(1)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("stakevaultd listening", slog.String("address", listener.Addr().String()))
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
		}
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("RPC server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

type eventWithPayload interface {
	Event() *types.Event
}

// eventLogger mirrors committed ledger events onto the structured log so
// operators can follow state changes without querying the journal.
type eventLogger struct {
	logger *slog.Logger
}

func (e *eventLogger) Emit(evt events.Event) {
	if e == nil || e.logger == nil || evt == nil {
		return
	}
	attrs := []slog.Attr{slog.String("type", evt.EventType())}
	if payload, ok := evt.(eventWithPayload); ok {
		if event := payload.Event(); event != nil {
			for key, value := range event.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	e.logger.LogAttrs(context.Background(), slog.LevelDebug, "ledger event", attrs...)
}
