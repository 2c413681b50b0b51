package settlement

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/reward"
	"github.com/airvault/airdrop/utils/pkg/retry"
	rewardtesting "github.com/airvault/airdrop/utils/pkg/testing"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	bob   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type mockBlockSource struct {
	head            atomic.Uint64
	blockNumberFunc func(ctx context.Context) (uint64, error)
}

func (m *mockBlockSource) BlockNumber(ctx context.Context) (uint64, error) {
	if m.blockNumberFunc != nil {
		return m.blockNumberFunc(ctx)
	}
	return m.head.Load(), nil
}

type disburseCall struct {
	addresses []string
	amounts   []*big.Int
}

type mockDisburser struct {
	mu           sync.Mutex
	calls        []disburseCall
	disburseFunc func(ctx context.Context, addresses []string, amounts []*big.Int) (Confirmation, error)
}

func (m *mockDisburser) Disburse(ctx context.Context, addresses []string, amounts []*big.Int) (Confirmation, error) {
	m.mu.Lock()
	m.calls = append(m.calls, disburseCall{addresses: addresses, amounts: amounts})
	m.mu.Unlock()
	if m.disburseFunc != nil {
		return m.disburseFunc(ctx, addresses, amounts)
	}
	return Confirmation{TxHash: "0xabc", Block: 1}, nil
}

func (m *mockDisburser) Calls() []disburseCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]disburseCall(nil), m.calls...)
}

type mockCalculator struct {
	calculateFunc func(snap ledger.Snapshot, currentBlock uint64) reward.Result
}

func (m *mockCalculator) Calculate(snap ledger.Snapshot, currentBlock uint64) reward.Result {
	return m.calculateFunc(snap, currentBlock)
}

type mockRecorder struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (m *mockRecorder) RecordPass(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *mockRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

type mockReporter struct {
	mu      sync.Mutex
	reports []Record
}

func (m *mockReporter) Report(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, rec)
	return nil
}

func (m *mockReporter) Reports() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.reports...)
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(ledger.Decimals), nil))
}

type pollerFixture struct {
	clock     *clockwork.FakeClock
	blocks    *mockBlockSource
	store     *ledger.Store
	disburser *mockDisburser
	recorder  *mockRecorder
	reporter  *mockReporter
	poller    *Poller
}

func newPollerFixture(t *testing.T, mutate func(cfg *PollerConfig)) *pollerFixture {
	t.Helper()
	log := rewardtesting.NewLogger()

	store, err := ledger.NewStore(ledger.StoreConfig{Logger: log})
	require.NoError(t, err)
	calc, err := reward.NewCalculator(reward.DefaultRate())
	require.NoError(t, err)

	f := &pollerFixture{
		clock:     clockwork.NewFakeClock(),
		blocks:    &mockBlockSource{},
		store:     store,
		disburser: &mockDisburser{},
		recorder:  &mockRecorder{},
		reporter:  &mockReporter{},
	}
	dist, err := NewDistributor(DistributorConfig{Logger: log, Disburser: f.disburser, Timeout: time.Minute})
	require.NoError(t, err)

	cfg := PollerConfig{
		Logger:      log,
		Clock:       f.clock,
		Blocks:      f.blocks,
		Ledger:      store,
		Calculator:  calc,
		Distributor: dist,
		Recorder:    f.recorder,
		Reporter:    f.reporter,
		Retry:       retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.poller, err = NewPoller(cfg)
	require.NoError(t, err)
	t.Cleanup(f.poller.Stop)
	return f
}
