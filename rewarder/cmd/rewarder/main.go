package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/alert"
	"github.com/airvault/airdrop/rewarder/pkg/chain"
	"github.com/airvault/airdrop/rewarder/pkg/journal"
	"github.com/airvault/airdrop/rewarder/pkg/metrics"
	"github.com/airvault/airdrop/rewarder/pkg/rewarder"
	"github.com/airvault/airdrop/rewarder/pkg/server"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	"github.com/airvault/airdrop/utils/pkg/logger"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := loadEnvFile(envFileFromArgs(os.Args[1:])); err != nil {
		return err
	}
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		return err
	}

	log := logger.NewWithOptions(logger.Options{Verbose: cfg.Verbose, JSON: cfg.LogJSON})
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reporters, flush, err := setupAlerts(log, cfg)
	if err != nil {
		return err
	}
	defer flush()

	key, err := chain.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	vault, err := chain.ParseAddress(cfg.VaultAddress)
	if err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}
	backend, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	client, err := chain.NewClient(ctx, chain.Config{
		Logger:       log,
		Backend:      backend,
		VaultAddress: vault,
		PrivateKey:   key,
		ChainID:      cfg.ChainID,
	})
	if err != nil {
		backend.Close()
		return err
	}
	defer client.Close()
	distributor, _ := client.Distributor()
	log.Info("connected to chain", "chainId", client.ChainID().String(), "vault", vault.Hex(), "distributor", distributor.Hex())

	var recorder settlement.Recorder
	var passes server.Journal
	if cfg.Postgres.Enabled() {
		if err := cfg.Postgres.Validate(); err != nil {
			return err
		}
		j, err := journal.Open(ctx, journal.Config{
			Logger:        log,
			ConnString:    cfg.Postgres.ConnString(),
			RunMigrations: cfg.PostgresRunMigrations,
		})
		if err != nil {
			return fmt.Errorf("failed to open settlement journal: %w", err)
		}
		defer j.Close()
		recorder, passes = j, j
		log.Info("settlement journal enabled", "postgres", cfg.Postgres.String())
	}

	var reporter settlement.Reporter
	if len(reporters) > 0 {
		reporter = reporters
	}

	rw, err := rewarder.New(rewarder.Config{
		Logger:              log,
		Chain:               client,
		Rate:                cfg.Rate,
		StrictWithdrawals:   cfg.StrictWithdrawals,
		PollInterval:        cfg.PollInterval,
		BlockInterval:       cfg.BlockInterval,
		SettleTimeout:       cfg.SettleTimeout,
		DistributionTimeout: cfg.DistributionTimeout,
		Recorder:            recorder,
		Reporter:            reporter,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      cfg.ListenAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Status:          rw,
		Journal:         passes,
		AllowedOrigins:  cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		if err := rw.Start(gctx); err != nil {
			return fmt.Errorf("failed to start rewarder: %w", err)
		}
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	log.Info("shutting down, waiting for in-flight settlement", "timeout", cfg.ShutdownTimeout)
	stopped := make(chan struct{})
	go func() {
		rw.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("timeout waiting for in-flight settlement, exiting", "timeout", cfg.ShutdownTimeout)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("rewarder exited", "lastProcessed", rw.Cursor().LastProcessed)
	return nil
}

// setupAlerts builds the configured failure reporters. The returned flush drains buffered
// Sentry events and must run before exit.
func setupAlerts(log *slog.Logger, cfg config) (alert.Multi, func(), error) {
	var reporters alert.Multi
	flush := func() {}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
			Release:     version,
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		flush = func() { sentry.Flush(2 * time.Second) }
		reporters = append(reporters, alert.NewSentryReporter(nil))
		log.Info("sentry error reporting enabled", "environment", cfg.SentryEnvironment)
	}

	if cfg.SlackWebhookURL != "" {
		slackReporter, err := alert.NewSlackReporter(alert.SlackConfig{
			Logger:     log,
			WebhookURL: cfg.SlackWebhookURL,
			Channel:    cfg.SlackChannel,
		})
		if err != nil {
			return nil, nil, err
		}
		reporters = append(reporters, slackReporter)
		log.Info("slack failure alerts enabled")
	}

	return reporters, flush, nil
}

// loadEnvFile loads a dotenv file without overriding variables already set. A missing file is
// not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// envFileFromArgs finds --env-file ahead of full flag parsing, since the file feeds the
// environment that parsing reads.
func envFileFromArgs(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--env-file" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--env-file="):
			return strings.TrimPrefix(arg, "--env-file=")
		}
	}
	return ".env"
}
