package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/journal"
	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/rewarder"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultRateLimit         = rate.Limit(10)
	defaultRateBurst         = 20
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Status is the read side of the running rewarder.
type Status interface {
	Ready() bool
	Depositors() ledger.Snapshot
	Cursor() rewarder.Cursor
}

// Journal serves recorded settlement passes.
type Journal interface {
	RecentPasses(ctx context.Context, limit int) ([]journal.PassSummary, error)
	Payouts(ctx context.Context, passID uuid.UUID) ([]journal.Payout, error)
}

type Config struct {
	Logger            *slog.Logger
	Clock             clockwork.Clock
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	Status  Status
	Journal Journal // optional

	// AllowedOrigins lists CORS origins; empty allows any origin.
	AllowedOrigins []string

	// RateLimit and RateBurst bound requests per client IP.
	RateLimit rate.Limit
	RateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Status == nil {
		return errors.New("status is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
