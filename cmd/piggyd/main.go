package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"slimhogs/cmd/internal/passphrase"
	"slimhogs/config"
	"slimhogs/core/events"
	"slimhogs/core/state"
	"slimhogs/crypto"
	"slimhogs/integrations/natsbus"
	"slimhogs/native/piggy"
	"slimhogs/observability"
	"slimhogs/observability/journal"
	"slimhogs/observability/logging"
	telemetry "slimhogs/observability/otel"
	"slimhogs/oracle"
	"slimhogs/rpc"
	"slimhogs/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	allowMigrateFlag := flag.Bool("allow-migrate", false, "Allow starting with a mismatched state schema (manual migrations only)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("piggyd", cfg.Environment, logging.Options{
		File:  cfg.LogFile,
		Level: logging.ParseLevel(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *allowMigrateFlag); err != nil {
		logger.Error("piggyd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, allowMigrate bool) error {
	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "piggyd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := state.EnsureStateVersion(db, allowMigrate); err != nil {
		return err
	}

	custody, err := crypto.ParseAddress(cfg.CustodyAddress)
	if err != nil {
		return fmt.Errorf("custody address: %w", err)
	}

	// token transfers and registry transitions share one fan-out
	emitters := events.Multi{observability.Events()}

	var history *journal.Journal
	if dsn := strings.TrimSpace(cfg.Journal.DSN); dsn != "" {
		jdb, err := journal.Open(dsn)
		if err != nil {
			return err
		}
		history = journal.New(jdb, logger)
		emitters = append(emitters, history)
		logger.Info("event journal enabled")
	}

	if url := strings.TrimSpace(cfg.NATS.URL); url != "" {
		publisher, closeNATS, err := startPublisher(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer closeNATS()
		emitters = append(emitters, publisher)
	}

	passSource := passphrase.NewSource(cfg.CustodyPassEnv, "custody")
	tokens, err := buildTokens(ctx, cfg, emitters, passSource.Get, logger)
	if err != nil {
		return err
	}

	settlement, err := buildOracle(ctx, cfg.Oracle, logger)
	if err != nil {
		return err
	}

	operators := piggy.NewOperatorSet()
	engine := piggy.NewEngine()
	engine.SetState(state.NewManager(db))
	engine.SetVault(piggy.NewVault(custody, tokens))
	engine.SetOracle(settlement)
	engine.SetApprovals(operators)
	engine.SetEmitter(emitters)
	engine.SetMetrics(observability.Piggy())
	engine.SetLogger(logger)

	for _, addr := range tokens.Addresses() {
		if err := engine.VerifyCustody(ctx, addr); err != nil {
			logger.Warn("custody check failed", slog.String("token", addr.Hex()), slog.Any("error", err))
		}
	}

	server := rpc.NewServer(engine, tokens, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
		RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
		Burst:             cfg.RateLimit.Burst,
		Metrics:           observability.RPC(),
		Logger:            logger,
	})
	server.SetOperators(operators)
	if history != nil {
		server.SetHistory(history)
	}

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           otelhttp.NewHandler(server.Handler(), "piggyd.rpc"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("addr", cfg.RPCAddress), slog.String("custody", custody.Hex()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func startPublisher(ctx context.Context, cfg config.NATS, logger *slog.Logger) (*natsbus.Publisher, func(), error) {
	nc, js, err := natsbus.Connect(cfg.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := natsbus.EnsureStream(ctx, js, cfg.Stream, cfg.SubjectPrefix); err != nil {
		nc.Close()
		return nil, nil, err
	}
	publisher := natsbus.NewPublisher(js, cfg.SubjectPrefix, 0, logger)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = publisher.Run(runCtx)
	}()
	logger.Info("nats publisher enabled", slog.String("url", cfg.URL))
	return publisher, func() {
		cancel()
		<-done
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}, nil
}

func buildOracle(ctx context.Context, cfg config.Oracle, logger *slog.Logger) (piggy.Oracle, error) {
	path := strings.TrimSpace(cfg.FeedFile)
	if path == "" {
		logger.Warn("no oracle feed configured; settlement will fail until one is provided")
		return oracle.NewStatic(), nil
	}
	feed, err := oracle.LoadFileFeed(path)
	if err != nil {
		return nil, err
	}
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		defer signal.Stop(reload)
		for {
			select {
			case <-ctx.Done():
				return
			case <-reload:
				if err := feed.Reload(); err != nil {
					logger.Warn("oracle reload failed", slog.Any("error", err))
					continue
				}
				logger.Info("oracle feed reloaded", slog.String("path", path))
			}
		}
	}()
	return feed, nil
}
