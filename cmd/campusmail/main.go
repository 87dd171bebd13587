// Package main is the entry point for the campus mail server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/euphoria1203/campus-email/internal/blob"
	"github.com/euphoria1203/campus-email/internal/config"
	"github.com/euphoria1203/campus-email/internal/delivery"
	"github.com/euphoria1203/campus-email/internal/poller"
	"github.com/euphoria1203/campus-email/internal/provider"
	"github.com/euphoria1203/campus-email/internal/provider/graph"
	"github.com/euphoria1203/campus-email/internal/provider/relay"
	"github.com/euphoria1203/campus-email/internal/provider/ses"
	"github.com/euphoria1203/campus-email/internal/provider/stdout"
	"github.com/euphoria1203/campus-email/internal/smtp"
	"github.com/euphoria1203/campus-email/internal/store"
	"github.com/euphoria1203/campus-email/internal/store/memory"
	"github.com/euphoria1203/campus-email/internal/store/postgres"
	"github.com/euphoria1203/campus-email/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("campusmail stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("campusmail stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	otel, err := telemetry.New(telemetry.Config{
		Metrics: cfg.Telemetry.Metrics,
		Tracing: cfg.Telemetry.Tracing,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	engine := delivery.New(st,
		delivery.WithProvider(prov),
		delivery.WithBlobStore(blobs),
		delivery.WithTelemetry(otel),
		delivery.WithInternalDomain(cfg.Mail.InternalDomain),
		delivery.WithRelayInbound(cfg.Mail.RelayInbound),
		delivery.WithBatchSize(cfg.Dispatch.BatchSize),
		delivery.WithLogger(slog.Default()),
	)

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Deliverer:      engine,
		Workers:        cfg.SMTP.Workers,
		IdleTimeout:    cfg.SMTP.IdleTimeout,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		ShutdownGrace:  cfg.SMTP.ShutdownGrace,
	})

	dispatcher := poller.New(engine, poller.Config{Interval: cfg.Dispatch.Interval})

	providerName := "none"
	if prov != nil {
		providerName = prov.Name()
	}
	slog.Info("starting campusmail",
		"listen", cfg.SMTP.Listen,
		"hostname", cfg.SMTP.Hostname,
		"database", cfg.Database.Driver,
		"attachments", cfg.Attachments.Backend,
		"provider", providerName,
		"internal_domain", cfg.Mail.InternalDomain,
		"dispatch_interval", cfg.Dispatch.Interval,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	return g.Wait()
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Open(cfg.Database.DSN, postgres.WithLogger(slog.Default()))
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Connect(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		return pg, func() {
			if err := pg.Close(); err != nil {
				slog.Warn("failed to close database", "error", err)
			}
		}, nil
	default:
		slog.Warn("using in-memory store, mail is lost on restart")
		return memory.New(), func() {}, nil
	}
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	a := cfg.Attachments
	if a.Backend == config.BackendS3 {
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:          a.S3Bucket,
			Region:          a.S3Region,
			Prefix:          a.S3Prefix,
			Endpoint:        a.S3Endpoint,
			AccessKeyID:     a.S3AccessKeyID,
			SecretAccessKey: a.S3SecretAccessKey,
		})
	}
	return blob.NewFS(a.Dir)
}

// selectProvider chooses the outbound transport. No provider means
// external recipients are dropped with a warning.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case config.ProviderRelay:
		slog.Info("using SMTP relay provider", "fallback_host", cfg.Relay.Host)
		return relay.New(relay.Config{Host: cfg.Relay.Host, Port: cfg.Relay.Port}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case config.ProviderNone:
		slog.Warn("no outbound provider configured, external recipients will be dropped")
		return nil, nil

	default:
		return nil, errors.New("unknown provider " + cfg.Provider)
	}
}
