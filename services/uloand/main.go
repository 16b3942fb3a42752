package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"uloan/core/events"
	"uloan/indexer"
	"uloan/native/lending"
	"uloan/observability/logging"
	telemetry "uloan/observability/otel"
	"uloan/oracle"
	"uloan/rpc"
	"uloan/services/uloand/config"
	"uloan/settlement"
	"uloan/storage/memory"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/uloand/config.yaml", "path to uloand config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ULOAN_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.SetupWithFile("uloand", env, cfg.LogFile)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "uloand",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	params, err := lending.LoadParams(cfg.ParamsPath)
	if err != nil {
		log.Fatalf("load params: %v", err)
	}

	vault := settlement.NewVault(cfg.Treasury)
	for _, account := range cfg.Vault.Seed {
		if amount, ok := new(big.Int).SetString(account.Amount, 10); ok {
			vault.Credit(account.Address, amount)
		}
	}

	engine := lending.NewEngine(params, cfg.Treasury, cfg.ProtocolOwner)
	engine.SetState(memory.NewLedger())
	engine.SetTransferor(vault)
	engine.SetOracle(oracle.NewStatic())

	hub := events.NewHub()
	engine.SetEmitter(hub)

	var index *indexer.Indexer
	if cfg.Database.IndexerEnabled() {
		db, err := openDatabase(cfg.Database)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		index, err = indexer.New(db, logger)
		if err != nil {
			log.Fatalf("init indexer: %v", err)
		}
		hub.Subscribe(index)
	}

	server := rpc.New(rpc.Config{
		Engine:    engine,
		Index:     index,
		Log:       logger,
		APITokens: cfg.Auth.APITokens,
		RateLimit: cfg.RateLimit.RPS,
		RateBurst: cfg.RateLimit.Burst,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "err", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	default:
		return nil, errors.New("unsupported database driver " + cfg.Driver)
	}
}
