package settlement

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
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultBlockInterval = 5

	defaultSampleTimeout = 10 * time.Second
	defaultSettleTimeout = 5 * time.Minute
	defaultRecordTimeout = 10 * time.Second
)

type PollerConfig struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Blocks      BlockSource
	Ledger      Snapshotter
	Calculator  Calculator
	Distributor *Distributor

	PollInterval  time.Duration
	BlockInterval uint64

	// SampleTimeout bounds the head query of a tick. SettleTimeout bounds a settlement pass,
	// which keeps running after the parent context is cancelled.
	SampleTimeout time.Duration
	SettleTimeout time.Duration

	// Retry governs establishing the initial cursor.
	Retry retry.Config

	Recorder Recorder // optional
	Reporter Reporter // optional
}

func (cfg *PollerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Blocks == nil {
		return errors.New("block source is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Calculator == nil {
		return errors.New("calculator is required")
	}
	if cfg.Distributor == nil {
		return errors.New("distributor is required")
	}
	if cfg.PollInterval < 0 {
		return errors.New("poll interval must not be negative")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BlockInterval == 0 {
		cfg.BlockInterval = DefaultBlockInterval
	}
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = defaultSampleTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Poller triggers a settlement pass whenever the chain head has moved at least BlockInterval
// blocks past the last processed block. At most one pass runs at a time; ticks that arrive
// while a pass is in flight are skipped.
type Poller struct {
	log *slog.Logger
	cfg PollerConfig

	state  atomic.Int32
	cursor atomic.Uint64

	// passMu is held for the duration of a pass. Only Stop contends for it.
	passMu sync.Mutex

	lifecycleMu sync.Mutex
	started     bool
	looping     bool
	stopCh      chan struct{}
	loopDone    chan struct{}
	stopOnce    sync.Once
	passes      sync.WaitGroup

	readyOnce sync.Once
	readyCh   chan struct{}

	lastMu   sync.Mutex
	lastPass *Record
}

func NewPoller(cfg PollerConfig) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Poller{
		log:      cfg.Logger,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		readyCh:  make(chan struct{}),
	}, nil
}

// Start establishes the initial cursor at the current chain head and starts the tick loop.
func (p *Poller) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	if p.started {
		p.lifecycleMu.Unlock()
		return errors.New("poller already started")
	}
	p.started = true
	p.lifecycleMu.Unlock()

	var head uint64
	cfg := p.cfg.Retry
	cfg.OnRetry = func(attempt int, err error) {
		p.log.Warn("poller: retrying initial block query", "attempt", attempt, "error", err)
	}
	err := retry.Do(ctx, cfg, func() error {
		sampleCtx, cancel := context.WithTimeout(ctx, p.cfg.SampleTimeout)
		defer cancel()
		var err error
		head, err = p.cfg.Blocks.BlockNumber(sampleCtx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to establish initial cursor: %w", err)
	}
	p.SetCursor(head)

	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	select {
	case <-p.stopCh:
		return errors.New("poller stopped")
	default:
	}
	p.looping = true
	go p.loop(ctx)

	p.log.Info("poller: started", "cursor", head, "pollInterval", p.cfg.PollInterval, "blockInterval", p.cfg.BlockInterval)
	return nil
}

// SetCursor sets the last processed block and marks the poller ready. Start calls it with the
// chain head; it is exported for callers that drive Tick directly.
func (p *Poller) SetCursor(block uint64) {
	p.cursor.Store(block)
	metrics.LastProcessedBlock.Set(float64(block))
	p.readyOnce.Do(func() { close(p.readyCh) })
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.loopDone)

	ticker := p.cfg.Clock.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.Chan():
			// The pass runs off the ticker goroutine so later ticks keep arriving and are
			// skipped while it is in flight.
			p.passes.Add(1)
			go func() {
				defer p.passes.Done()
				p.safeTick(ctx)
			}()
		}
	}
}

// Stop cancels the tick loop and waits for an in-flight pass to finish. No tick runs a pass
// after Stop returns. It is safe to call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.lifecycleMu.Lock()
		close(p.stopCh)
		looping := p.looping
		p.lifecycleMu.Unlock()

		if looping {
			<-p.loopDone
		}
		p.passes.Wait()

		p.passMu.Lock()
		p.state.Store(int32(StateStopped))
		p.passMu.Unlock()

		p.log.Info("poller: stopped", "cursor", p.cursor.Load())
	})
}

func (p *Poller) Ready() bool {
	select {
	case <-p.readyCh:
		return true
	default:
		return false
	}
}

// LastProcessed returns the block of the last settlement pass, or the initial head.
func (p *Poller) LastProcessed() uint64 {
	return p.cursor.Load()
}

func (p *Poller) State() State {
	return State(p.state.Load())
}

// LastPass returns the most recent completed settlement pass.
func (p *Poller) LastPass() (Record, bool) {
	p.lastMu.Lock()
	defer p.lastMu.Unlock()
	if p.lastPass == nil {
		return Record{}, false
	}
	return *p.lastPass, true
}

func (p *Poller) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("poller: tick panicked", "panic", r)
			metrics.PollerTicksTotal.WithLabelValues("panic").Inc()
		}
	}()
	p.Tick(ctx)
}

// Tick runs one cycle of the state machine: sample the head, check the block gate, and settle
// if it is open. It returns immediately with OutcomeSkippedBusy if another tick is in flight.
func (p *Poller) Tick(ctx context.Context) (outcome Outcome) {
	defer func() {
		metrics.PollerTicksTotal.WithLabelValues(string(outcome)).Inc()
	}()

	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateSampling)) {
		if p.State() == StateStopped {
			return OutcomeStopped
		}
		p.log.Debug("poller: skipping tick, pass in flight", "state", p.State().String())
		return OutcomeSkippedBusy
	}

	p.passMu.Lock()
	defer p.passMu.Unlock()
	if p.State() != StateSampling {
		// Stop won the race for passMu.
		return OutcomeStopped
	}
	defer func() {
		if !p.state.CompareAndSwap(int32(StateSettling), int32(StateIdle)) {
			p.state.CompareAndSwap(int32(StateSampling), int32(StateIdle))
		}
	}()

	sampleCtx, cancel := context.WithTimeout(ctx, p.cfg.SampleTimeout)
	current, err := p.cfg.Blocks.BlockNumber(sampleCtx)
	cancel()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.log.Warn("poller: failed to read current block", "error", err)
		}
		return OutcomeSampleFailed
	}

	last := p.cursor.Load()
	if current < last+p.cfg.BlockInterval {
		p.log.Debug("poller: block gate closed", "current", current, "lastProcessed", last, "blockInterval", p.cfg.BlockInterval)
		return OutcomeGateClosed
	}

	p.state.Store(int32(StateSettling))
	passCtx, cancelPass := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SettleTimeout)
	defer cancelPass()

	rec := p.settle(passCtx, last, current)

	// The cursor advances whatever the outcome so a failed window is never reprocessed.
	p.cursor.Store(current)
	metrics.LastProcessedBlock.Set(float64(current))

	p.finish(passCtx, rec)
	return rec.Outcome
}

func (p *Poller) settle(ctx context.Context, previous, current uint64) Record {
	pass := Pass{
		ID:            uuid.New(),
		PreviousBlock: previous,
		CurrentBlock:  current,
		StartedAt:     p.cfg.Clock.Now(),
	}
	rec := Record{Pass: pass}
	done := func(outcome Outcome, err error) Record {
		rec.Outcome = outcome
		rec.Err = err
		rec.FinishedAt = p.cfg.Clock.Now()
		return rec
	}

	p.log.Debug("poller: settlement pass started", "pass", pass.ID, "previous", previous, "current", current)

	addresses, amounts, err := p.compute(current)
	if err != nil {
		p.log.Error("poller: reward computation failed", "pass", pass.ID, "block", current, "error", err)
		return done(OutcomeComputeFailed, err)
	}
	rec.Addresses = addresses
	rec.Amounts = amounts

	if !hasPositive(amounts) {
		p.log.Debug("poller: no rewards to distribute", "pass", pass.ID, "block", current, "depositors", len(addresses))
		return done(OutcomeNoRewards, nil)
	}

	res := p.cfg.Distributor.Distribute(ctx, rec.Pass)
	if !res.OK() {
		return done(OutcomeDistributionFailed, res.Err)
	}
	rec.TxHash = res.Confirmation.TxHash
	return done(OutcomeSettled, nil)
}

func (p *Poller) compute(current uint64) (addresses []string, amounts []*big.Int, err error) {
	defer func() {
		if r := recover(); r != nil {
			addresses, amounts = nil, nil
			err = &ComputeError{Panic: r}
		}
	}()

	snap := p.cfg.Ledger.Snapshot()
	metrics.LedgerDepositors.Set(float64(len(snap)))
	metrics.LedgerLots.Set(float64(snap.Lots()))

	res := p.cfg.Calculator.Calculate(snap, current)
	if len(res.Addresses) != len(res.Amounts) {
		return nil, nil, &ComputeError{Err: fmt.Errorf("misaligned result: %d addresses, %d amounts", len(res.Addresses), len(res.Amounts))}
	}
	return res.Addresses, res.Amounts, nil
}

func (p *Poller) finish(ctx context.Context, rec Record) {
	duration := rec.Duration()
	metrics.SettlementPassesTotal.WithLabelValues(string(rec.Outcome)).Inc()
	metrics.SettlementDuration.Observe(duration.Seconds())

	attrs := []any{"pass", rec.ID, "previous", rec.PreviousBlock, "current", rec.CurrentBlock, "outcome", string(rec.Outcome), "recipients", len(rec.Addresses), "duration", duration.String()}
	if rec.TxHash != "" {
		attrs = append(attrs, "tx", rec.TxHash)
	}
	if rec.Err != nil {
		attrs = append(attrs, "error", rec.Err)
		p.log.Warn("poller: settlement pass completed with failure", attrs...)
	} else {
		p.log.Info("poller: settlement pass completed", attrs...)
	}

	p.lastMu.Lock()
	p.lastPass = &rec
	p.lastMu.Unlock()

	if p.cfg.Recorder != nil {
		recordCtx, cancel := context.WithTimeout(ctx, defaultRecordTimeout)
		if err := p.cfg.Recorder.RecordPass(recordCtx, rec); err != nil {
			metrics.JournalWritesTotal.WithLabelValues("error").Inc()
			p.log.Error("poller: failed to record settlement pass", "pass", rec.ID, "error", err)
		} else {
			metrics.JournalWritesTotal.WithLabelValues("success").Inc()
		}
		cancel()
	}

	if rec.Err != nil && p.cfg.Reporter != nil {
		if err := p.cfg.Reporter.Report(ctx, rec); err != nil {
			p.log.Error("poller: failed to report settlement failure", "pass", rec.ID, "error", err)
		}
	}
}

func hasPositive(amounts []*big.Int) bool {
	for _, amount := range amounts {
		if amount != nil && amount.Sign() > 0 {
			return true
		}
	}
	return false
}
