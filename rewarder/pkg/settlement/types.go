package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/reward"
	"github.com/google/uuid"
)

// State is the poller's position in its tick cycle.
type State int32

const (
	StateIdle State = iota
	StateSampling
	StateSettling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateSettling:
		return "settling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is the result of a single tick.
type Outcome string

const (
	OutcomeSkippedBusy        Outcome = "skipped_busy"
	OutcomeStopped            Outcome = "stopped"
	OutcomeSampleFailed       Outcome = "sample_failed"
	OutcomeGateClosed         Outcome = "gate_closed"
	OutcomeNoRewards          Outcome = "no_rewards"
	OutcomeComputeFailed      Outcome = "compute_failed"
	OutcomeDistributionFailed Outcome = "distribution_failed"
	OutcomeSettled            Outcome = "settled"
)

// Settled reports whether the outcome came out of a settlement pass, which always advances the
// cursor.
func (o Outcome) Settled() bool {
	switch o {
	case OutcomeNoRewards, OutcomeComputeFailed, OutcomeDistributionFailed, OutcomeSettled:
		return true
	}
	return false
}

// BlockSource reports the chain head.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// Snapshotter captures a consistent copy of the deposit ledger.
type Snapshotter interface {
	Snapshot() ledger.Snapshot
}

// Calculator turns a ledger snapshot into rewards.
type Calculator interface {
	Calculate(snap ledger.Snapshot, currentBlock uint64) reward.Result
}

// Recorder persists completed settlement passes.
type Recorder interface {
	RecordPass(ctx context.Context, rec Record) error
}

// Reporter raises alerts for failed settlement passes.
type Reporter interface {
	Report(ctx context.Context, rec Record) error
}

// Pass is the work of a single settlement: the block window and the rewards computed for it.
type Pass struct {
	ID            uuid.UUID
	PreviousBlock uint64
	CurrentBlock  uint64
	Addresses     []string
	Amounts       []*big.Int
	StartedAt     time.Time
}

// Total returns the sum of the pass's reward amounts.
func (p Pass) Total() *big.Int {
	sum := new(big.Int)
	for _, amount := range p.Amounts {
		sum.Add(sum, amount)
	}
	return sum
}

// Record is a completed settlement pass.
type Record struct {
	Pass
	Outcome    Outcome
	TxHash     string
	Err        error
	FinishedAt time.Time
}

func (r Record) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ComputeError reports a failure while computing rewards for a snapshot.
type ComputeError struct {
	Panic any
	Err   error
}

func (e *ComputeError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("reward computation panicked: %v", e.Panic)
	}
	return fmt.Sprintf("reward computation failed: %v", e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}

// DistributionError reports a failed disbursement.
type DistributionError struct {
	PassID uuid.UUID
	Err    error
}

func (e *DistributionError) Error() string {
	return fmt.Sprintf("distribution for pass %s failed: %v", e.PassID, e.Err)
}

func (e *DistributionError) Unwrap() error {
	return e.Err
}
