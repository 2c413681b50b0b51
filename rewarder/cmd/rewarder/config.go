package main

import (
	"errors"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/journal"
	"github.com/airvault/airdrop/rewarder/pkg/reward"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	flag "github.com/spf13/pflag"
)

const defaultPort = "3000"

type config struct {
	Verbose bool
	LogJSON bool
	EnvFile string

	RPCURL       string
	ChainID      *big.Int
	VaultAddress string
	PrivateKey   string

	ListenAddr      string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	PollInterval        time.Duration
	BlockInterval       uint64
	Rate                reward.Rate
	StrictWithdrawals   bool
	SettleTimeout       time.Duration
	DistributionTimeout time.Duration

	Postgres              journal.PostgresConfig
	PostgresRunMigrations bool

	SlackWebhookURL   string
	SlackChannel      string
	SentryDSN         string
	SentryEnvironment string
}

// parseConfig reads flags from args, then lets environment variables override them. Required
// settings are checked after both sources are applied.
func parseConfig(args []string, lookupEnv func(string) (string, bool)) (config, error) {
	fs := flag.NewFlagSet("rewarder", flag.ContinueOnError)

	verbose := fs.Bool("verbose", false, "enable verbose (debug) logging")
	logJSON := fs.Bool("log-json", false, "emit JSON logs instead of colored text")
	envFile := fs.String("env-file", ".env", "dotenv file to load before reading the environment")

	rpcURL := fs.String("rpc-url", "", "Ethereum JSON-RPC endpoint, http(s) or ws(s) (or set RPC_URL env var)")
	chainID := fs.String("chain-id", "", "chain id; queried from the endpoint when empty (or set CHAIN_ID env var)")
	address := fs.String("address", "", "AirVault contract address (or set ADDRESS env var)")
	privateKey := fs.String("private-key", "", "hex key of the distributor account (or set PRIVATE_KEY env var)")

	port := fs.String("port", defaultPort, "HTTP port for the status API (or set PORT env var)")
	allowedOrigins := fs.StringSlice("allowed-origins", nil, "CORS origins allowed to read the status API (default any)")
	shutdownTimeout := fs.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight work during shutdown")

	pollInterval := fs.Duration("poll-interval", settlement.DefaultPollInterval, "how often the chain head is sampled (or set POLL_INTERVAL env var)")
	blockInterval := fs.Uint64("block-interval", settlement.DefaultBlockInterval, "blocks between settlement passes (or set BLOCK_INTERVAL env var)")
	rateNum := fs.Int64("reward-rate-numerator", reward.DefaultRateNumerator, "reward rate numerator (or set REWARD_RATE_NUMERATOR env var)")
	rateDen := fs.Int64("reward-rate-denominator", reward.DefaultRateDenominator, "reward rate denominator (or set REWARD_RATE_DENOMINATOR env var)")
	strict := fs.Bool("strict-withdrawals", false, "reject withdrawals larger than the recorded balance (or set STRICT_WITHDRAWALS=true)")
	settleTimeout := fs.Duration("settle-timeout", 5*time.Minute, "upper bound on a settlement pass")
	distributionTimeout := fs.Duration("distribution-timeout", 2*time.Minute, "upper bound on submitting and confirming a distribution")

	pgRunMigrations := fs.Bool("pg-run-migrations", false, "apply journal migrations on startup (or set POSTGRES_RUN_MIGRATIONS=true)")

	slackWebhook := fs.String("slack-webhook-url", "", "Slack incoming webhook for failure alerts (or set SLACK_WEBHOOK_URL env var)")
	slackChannel := fs.String("slack-channel", "", "Slack channel override (or set SLACK_CHANNEL env var)")
	sentryDSN := fs.String("sentry-dsn", "", "Sentry DSN for error reporting (or set SENTRY_DSN env var)")
	sentryEnv := fs.String("sentry-environment", "production", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	env := func(name string, target *string) {
		if v, ok := lookupEnv(name); ok && v != "" {
			*target = v
		}
	}
	env("RPC_URL", rpcURL)
	env("CHAIN_ID", chainID)
	env("ADDRESS", address)
	env("PRIVATE_KEY", privateKey)
	env("PORT", port)
	env("SLACK_WEBHOOK_URL", slackWebhook)
	env("SLACK_CHANNEL", slackChannel)
	env("SENTRY_DSN", sentryDSN)
	env("SENTRY_ENVIRONMENT", sentryEnv)

	var errs []error
	envDuration := func(name string, target *time.Duration) {
		if v, ok := lookupEnv(name); ok && v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*target = d
		}
	}
	envUint := func(name string, target *uint64) {
		if v, ok := lookupEnv(name); ok && v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*target = n
		}
	}
	envInt := func(name string, target *int64) {
		if v, ok := lookupEnv(name); ok && v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*target = n
		}
	}
	envBool := func(name string, target *bool) {
		if v, ok := lookupEnv(name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
				return
			}
			*target = b
		}
	}
	envDuration("POLL_INTERVAL", pollInterval)
	envUint("BLOCK_INTERVAL", blockInterval)
	envInt("REWARD_RATE_NUMERATOR", rateNum)
	envInt("REWARD_RATE_DENOMINATOR", rateDen)
	envBool("STRICT_WITHDRAWALS", strict)
	envBool("POSTGRES_RUN_MIGRATIONS", pgRunMigrations)
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}

	cfg := config{
		Verbose:               *verbose,
		LogJSON:               *logJSON,
		EnvFile:               *envFile,
		RPCURL:                strings.TrimSpace(*rpcURL),
		VaultAddress:          strings.TrimSpace(*address),
		PrivateKey:            strings.TrimSpace(*privateKey),
		ListenAddr:            net.JoinHostPort("", *port),
		AllowedOrigins:        *allowedOrigins,
		ShutdownTimeout:       *shutdownTimeout,
		PollInterval:          *pollInterval,
		BlockInterval:         *blockInterval,
		Rate:                  reward.Rate{Numerator: *rateNum, Denominator: *rateDen},
		StrictWithdrawals:     *strict,
		SettleTimeout:         *settleTimeout,
		DistributionTimeout:   *distributionTimeout,
		Postgres:              journal.PostgresConfigFromLookup(lookupEnv),
		PostgresRunMigrations: *pgRunMigrations,
		SlackWebhookURL:       *slackWebhook,
		SlackChannel:          *slackChannel,
		SentryDSN:             *sentryDSN,
		SentryEnvironment:     *sentryEnv,
	}

	if *chainID != "" {
		id, ok := new(big.Int).SetString(*chainID, 10)
		if !ok || id.Sign() <= 0 {
			return config{}, fmt.Errorf("invalid CHAIN_ID %q", *chainID)
		}
		cfg.ChainID = id
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (cfg config) validate() error {
	var missing []string
	if cfg.RPCURL == "" {
		missing = append(missing, "RPC_URL")
	}
	if cfg.VaultAddress == "" {
		missing = append(missing, "ADDRESS")
	}
	if cfg.PrivateKey == "" {
		missing = append(missing, "PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if cfg.BlockInterval == 0 {
		return errors.New("block interval must be positive")
	}
	return cfg.Rate.Validate()
}

// parseDuration accepts Go durations ("2s") and bare integers, which are read as milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
