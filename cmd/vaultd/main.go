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
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"icavault/cmd/internal/passphrase"
	"icavault/config"
	"icavault/crypto"
	"icavault/native/vault"
	"icavault/observability"
	"icavault/observability/logging"
	telemetry "icavault/observability/otel"
	"icavault/rpc"
	"icavault/storage"
	"icavault/transport"
)

func main() {
	configFile := flag.String("config", "./vaultd.toml", "Path to the configuration file")
	exportPath := flag.String("export-outbox", "", "Write the outbox to a parquet file and exit")
	exportSince := flag.Duration("export-since", 0, "Only export messages created within this window (0 exports everything)")
	flag.Parse()

	var err error
	if *exportPath != "" {
		err = exportOutbox(*configFile, *exportPath, *exportSince)
	} else {
		err = run(*configFile)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultd: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configFile string) (*config.Config, error) {
	var source *passphrase.Source
	cfg, err := config.Load(configFile, config.WithPassphraseSource(func(envVar string) (string, error) {
		if source == nil {
			source = passphrase.NewSource(envVar)
		}
		return source.Get()
	}))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func exportOutbox(configFile, path string, window time.Duration) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if cfg.Outbox.Driver == "" {
		return errors.New("no outbox configured")
	}
	gdb, err := transport.OpenDB(cfg.Outbox.Driver, cfg.Outbox.DSN)
	if err != nil {
		return err
	}
	var since time.Time
	if window > 0 {
		since = time.Now().Add(-window)
	}
	n, err := transport.NewOutbox(gdb).ExportParquet(context.Background(), path, since)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d outbox messages to %s\n", n, path)
	return nil
}

func run(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logOpts := logging.Options{Level: logging.ParseLevel(cfg.Log.Level)}
	if cfg.Log.File != "" {
		logOpts.File = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	logger := logging.Setup("vaultd", cfg.Environment, logOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: telemetry.DefaultServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	codes, err := cfg.CodeRegistry()
	if err != nil {
		return err
	}
	contract := vault.NewContract(vault.NewStore(db), crypto.NewBech32API(cfg.Bech32Prefix), codes, logger)

	dispatcher, err := openDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := instantiateIfNeeded(ctx, cfg, configFile, contract, dispatcher, logger); err != nil {
		return err
	}

	server := rpc.NewServer(contract, dispatcher, rpc.Config{
		ContractAddress: cfg.ContractAddress,
		RateLimit: rpc.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Auth: rpc.AuthConfig{
			HMACSecret:           cfg.Auth.Secret(),
			Issuer:               cfg.Auth.Issuer,
			Audience:             cfg.Auth.Audience,
			AllowUnauthenticated: cfg.Auth.AllowUnauthenticated,
		},
		Logger: logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server.Handler(), "vaultd"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening", slog.String("addr", cfg.ListenAddress))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport.Dispatcher, error) {
	if cfg.Outbox.Driver == "" {
		logger.Warn("no outbox configured; outbound messages are kept in memory and never delivered")
		return transport.NewMemory(), nil
	}
	gdb, err := transport.OpenDB(cfg.Outbox.Driver, cfg.Outbox.DSN)
	if err != nil {
		return nil, err
	}
	outbox := transport.NewOutbox(gdb)
	if cfg.Relay.Endpoint != "" {
		key, err := cfg.RelayKey()
		if err != nil {
			return nil, err
		}
		relay := transport.NewRelay(outbox, nil, transport.RelayConfig{
			Endpoint:    cfg.Relay.Endpoint,
			Interval:    cfg.Relay.Interval(),
			BatchSize:   cfg.Relay.BatchSize,
			MaxAttempts: cfg.Relay.MaxAttempts,
			Signer:      key,
		}, logger)
		logger.Info("relay started", slog.String("operator", key.Address()))
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped", slog.String("error", err.Error()))
			}
		}()
	}
	return outbox, nil
}

func instantiateIfNeeded(ctx context.Context, cfg *config.Config, configFile string, contract *vault.Contract, dispatcher transport.Dispatcher, logger *slog.Logger) error {
	ok, err := contract.Instantiated()
	if err != nil {
		return err
	}
	if ok || cfg.InstantiateFile == "" {
		return nil
	}
	path := cfg.InstantiateFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(configFile), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warn("vault not instantiated and no instantiate file found", slog.String("path", path))
		return nil
	}
	msg, err := config.LoadInstantiate(path)
	if err != nil {
		return err
	}
	env := vault.Env{ContractAddress: cfg.ContractAddress, BlockHeight: 1, BlockTime: time.Now().UTC()}
	resp, err := contract.Instantiate(env, vault.MessageInfo{Sender: msg.Owner}, msg)
	if err != nil {
		return fmt.Errorf("instantiate vault: %w", err)
	}
	for _, out := range resp.Messages {
		err := dispatcher.Dispatch(ctx, out)
		observability.Vault().RecordDispatch(out.Kind(), err)
		if err != nil {
			return fmt.Errorf("dispatch controller instantiation: %w", err)
		}
	}
	return nil
}
