package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/metrics"
	"github.com/airvault/airdrop/utils/pkg/retry"
	"github.com/jonboulle/clockwork"
)

const (
	defaultQueueSize        = 1024
	defaultResubscribeDelay = 5 * time.Second
)

// Source delivers notifications from fromBlock onwards into out until ctx is done or the
// underlying subscription fails.
type Source interface {
	Stream(ctx context.Context, fromBlock uint64, out chan<- Notification) error
}

// Ledger is the mutation side of the deposit ledger.
type Ledger interface {
	Append(depositor string, amount *big.Int, block uint64) error
	Consume(depositor string, amount *big.Int, block uint64) (*big.Int, error)
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Source Source
	Ledger Ledger

	QueueSize int

	// Retry governs resubscription after the source fails. Once exhausted the ingestor waits
	// ResubscribeDelay and starts over.
	Retry            retry.Config
	ResubscribeDelay time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Source == nil {
		return errors.New("source is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.QueueSize < 0 {
		return errors.New("queue size must not be negative")
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.ResubscribeDelay <= 0 {
		cfg.ResubscribeDelay = defaultResubscribeDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Ingestor applies source notifications to the ledger. Notifications flow through one queue
// into a single consumer goroutine, so they are applied in delivery order.
type Ingestor struct {
	log *slog.Logger
	cfg Config

	queue chan Notification

	applyMu   sync.Mutex
	highBlock atomic.Uint64
	seen      map[string]struct{}

	started atomic.Bool
	wg      sync.WaitGroup
}

func NewIngestor(cfg Config) (*Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ingestor{
		log:   cfg.Logger,
		cfg:   cfg,
		queue: make(chan Notification, cfg.QueueSize),
		seen:  make(map[string]struct{}),
	}, nil
}

// Start streams notifications from fromBlock until ctx is done. It returns immediately.
func (i *Ingestor) Start(ctx context.Context, fromBlock uint64) error {
	if !i.started.CompareAndSwap(false, true) {
		return errors.New("ingestor already started")
	}
	i.highBlock.Store(fromBlock)

	i.wg.Add(2)
	go func() {
		defer i.wg.Done()
		i.consume(ctx)
	}()
	go func() {
		defer i.wg.Done()
		i.stream(ctx)
	}()
	i.log.Info("ingest: started", "fromBlock", fromBlock)
	return nil
}

// Wait blocks until both ingestion goroutines have exited.
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

// LastBlock returns the highest block applied so far, or the start block.
func (i *Ingestor) LastBlock() uint64 {
	return i.highBlock.Load()
}

func (i *Ingestor) stream(ctx context.Context) {
	for {
		err := retry.Do(ctx, i.retryConfig(), func() error {
			return i.cfg.Source.Stream(ctx, i.highBlock.Load(), i.queue)
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("source closed")
		}
		i.log.Error("ingest: subscription failed", "error", err, "resubscribeIn", i.cfg.ResubscribeDelay)

		select {
		case <-ctx.Done():
			return
		case <-i.cfg.Clock.After(i.cfg.ResubscribeDelay):
		}
	}
}

func (i *Ingestor) retryConfig() retry.Config {
	cfg := i.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		i.log.Warn("ingest: resubscribing", "attempt", attempt, "fromBlock", i.highBlock.Load(), "error", err)
	}
	return cfg
}

func (i *Ingestor) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-i.queue:
			_ = i.Apply(n)
		}
	}
}

// Apply validates n and applies it to the ledger. Invalid and duplicate notifications are
// logged and dropped without mutating the ledger.
func (i *Ingestor) Apply(n Notification) error {
	i.applyMu.Lock()
	defer i.applyMu.Unlock()

	if err := n.Validate(); err != nil {
		i.log.Error("ingest: dropping malformed notification", "error", err, "kind", n.Kind.String(), "depositor", n.Depositor, "block", n.Block, "tx", n.TxHash)
		metrics.NotificationsTotal.WithLabelValues(n.Kind.String(), "invalid").Inc()
		return err
	}

	// Sources deliver in block order, so a keyed notification below the high block or already
	// seen at it was replayed by a resubscription.
	if key := n.key(); key != "" {
		high := i.highBlock.Load()
		_, dup := i.seen[key]
		if n.Block < high || (n.Block == high && dup) {
			i.log.Debug("ingest: dropping duplicate notification", "kind", n.Kind.String(), "tx", n.TxHash, "logIndex", n.LogIndex)
			metrics.NotificationsTotal.WithLabelValues(n.Kind.String(), "duplicate").Inc()
			return nil
		}
		if n.Block > high {
			clear(i.seen)
		}
		i.seen[key] = struct{}{}
	}
	if n.Block > i.highBlock.Load() {
		i.highBlock.Store(n.Block)
	}

	switch n.Kind {
	case KindDeposit:
		if err := i.cfg.Ledger.Append(n.Depositor, n.Amount, n.Block); err != nil {
			metrics.NotificationsTotal.WithLabelValues(n.Kind.String(), "rejected").Inc()
			i.log.Error("ingest: failed to record deposit", "error", err, "depositor", n.Depositor, "block", n.Block)
			return fmt.Errorf("failed to record deposit: %w", err)
		}
	case KindWithdrawal:
		discarded, err := i.cfg.Ledger.Consume(n.Depositor, n.Amount, n.Block)
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues(n.Kind.String(), "rejected").Inc()
			i.log.Error("ingest: failed to record withdrawal", "error", err, "depositor", n.Depositor, "block", n.Block)
			return fmt.Errorf("failed to record withdrawal: %w", err)
		}
		if discarded != nil && discarded.Sign() > 0 {
			metrics.OverConsumptionTotal.Inc()
			i.log.Warn("ingest: withdrawal exceeded recorded balance", "depositor", n.Depositor, "block", n.Block, "amount", n.Amount.String(), "discarded", discarded.String())
		}
	}

	metrics.NotificationsTotal.WithLabelValues(n.Kind.String(), "applied").Inc()
	i.log.Debug("ingest: applied notification", "kind", n.Kind.String(), "depositor", n.Depositor, "amount", n.Amount.String(), "block", n.Block)
	return nil
}
