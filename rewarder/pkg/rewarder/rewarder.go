package rewarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/ingest"
	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/reward"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	"github.com/airvault/airdrop/utils/pkg/retry"
	"github.com/jonboulle/clockwork"
)

// Chain is everything the rewarder needs from the vault's chain: the head, the event stream and
// the disbursement transaction.
type Chain interface {
	settlement.BlockSource
	settlement.Disburser
	ingest.Source
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Chain  Chain

	Rate              reward.Rate
	StrictWithdrawals bool

	PollInterval        time.Duration
	BlockInterval       uint64
	SettleTimeout       time.Duration
	DistributionTimeout time.Duration
	QueueSize           int
	Retry               retry.Config

	Recorder settlement.Recorder // optional
	Reporter settlement.Reporter // optional
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Chain == nil {
		return errors.New("chain is required")
	}
	if cfg.Rate == (reward.Rate{}) {
		cfg.Rate = reward.DefaultRate()
	}
	if err := cfg.Rate.Validate(); err != nil {
		return err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Rewarder wires the deposit ledger, event ingestion and the settlement poller together.
type Rewarder struct {
	log *slog.Logger
	cfg Config

	store    *ledger.Store
	ingestor *ingest.Ingestor
	poller   *settlement.Poller

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(cfg Config) (*Rewarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := ledger.NewStore(ledger.StoreConfig{
		Logger:            cfg.Logger,
		StrictWithdrawals: cfg.StrictWithdrawals,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}

	ingestor, err := ingest.NewIngestor(ingest.Config{
		Logger:    cfg.Logger,
		Clock:     cfg.Clock,
		Source:    cfg.Chain,
		Ledger:    store,
		QueueSize: cfg.QueueSize,
		Retry:     cfg.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestor: %w", err)
	}

	calculator, err := reward.NewCalculator(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("failed to create calculator: %w", err)
	}

	distributor, err := settlement.NewDistributor(settlement.DistributorConfig{
		Logger:    cfg.Logger,
		Disburser: cfg.Chain,
		Timeout:   cfg.DistributionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create distributor: %w", err)
	}

	poller, err := settlement.NewPoller(settlement.PollerConfig{
		Logger:        cfg.Logger,
		Clock:         cfg.Clock,
		Blocks:        cfg.Chain,
		Ledger:        store,
		Calculator:    calculator,
		Distributor:   distributor,
		PollInterval:  cfg.PollInterval,
		BlockInterval: cfg.BlockInterval,
		SettleTimeout: cfg.SettleTimeout,
		Retry:         cfg.Retry,
		Recorder:      cfg.Recorder,
		Reporter:      cfg.Reporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poller: %w", err)
	}

	return &Rewarder{
		log:      cfg.Logger,
		cfg:      cfg,
		store:    store,
		ingestor: ingestor,
		poller:   poller,
	}, nil
}

// Start establishes the cursor at the chain head, then ingests vault events from that block and
// starts the settlement loop. It returns once both are running.
func (r *Rewarder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("rewarder already started")
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	if err := r.poller.Start(runCtx); err != nil {
		cancel()
		return err
	}
	from := r.poller.LastProcessed()
	if err := r.ingestor.Start(runCtx, from); err != nil {
		cancel()
		return err
	}

	r.log.Info("rewarder: started", "fromBlock", from, "rate", r.cfg.Rate.String(), "strictWithdrawals", r.cfg.StrictWithdrawals)
	return nil
}

// Stop waits for an in-flight settlement pass, then stops ingestion. It is safe to call more
// than once and before Start.
func (r *Rewarder) Stop() {
	r.stopOnce.Do(func() {
		r.poller.Stop()

		r.mu.Lock()
		cancel := r.cancel
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		r.ingestor.Wait()
		r.log.Info("rewarder: stopped", "lastProcessed", r.poller.LastProcessed(), "ingestedBlock", r.ingestor.LastBlock())
	})
}

func (r *Rewarder) Ready() bool {
	return r.poller.Ready()
}

// Depositors returns a detached copy of the ledger.
func (r *Rewarder) Depositors() ledger.Snapshot {
	return r.store.Snapshot()
}

// Cursor reports the settlement cursor and the most recent pass.
func (r *Rewarder) Cursor() Cursor {
	c := Cursor{
		LastProcessed: r.poller.LastProcessed(),
		State:         r.poller.State().String(),
		IngestedBlock: r.ingestor.LastBlock(),
	}
	if rec, ok := r.poller.LastPass(); ok {
		c.LastPass = newPassStatus(rec)
	}
	return c
}

// Tick runs one settlement cycle immediately.
func (r *Rewarder) Tick(ctx context.Context) settlement.Outcome {
	return r.poller.Tick(ctx)
}
