package rewarder

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/ingest"
	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/reward"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	"github.com/airvault/airdrop/utils/pkg/retry"
	rewardtesting "github.com/airvault/airdrop/utils/pkg/testing"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	bob   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(ledger.Decimals), nil))
}

type disburseCall struct {
	addresses []string
	amounts   []*big.Int
}

type mockChain struct {
	head            atomic.Uint64
	blockNumberFunc func(ctx context.Context) (uint64, error)

	events     chan ingest.Notification
	streamFrom atomic.Uint64
	streaming  atomic.Bool

	mu    sync.Mutex
	calls []disburseCall
}

func newMockChain() *mockChain {
	return &mockChain{events: make(chan ingest.Notification)}
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) {
	if m.blockNumberFunc != nil {
		return m.blockNumberFunc(ctx)
	}
	return m.head.Load(), nil
}

func (m *mockChain) Disburse(ctx context.Context, addresses []string, amounts []*big.Int) (settlement.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, disburseCall{addresses: addresses, amounts: amounts})
	return settlement.Confirmation{TxHash: "0xfeed", Block: m.head.Load() + 1}, nil
}

func (m *mockChain) Stream(ctx context.Context, fromBlock uint64, out chan<- ingest.Notification) error {
	m.streamFrom.Store(fromBlock)
	m.streaming.Store(true)
	defer m.streaming.Store(false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-m.events:
			select {
			case out <- n:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (m *mockChain) Calls() []disburseCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]disburseCall(nil), m.calls...)
}

func newTestRewarder(t *testing.T, chain *mockChain, clock clockwork.Clock) *Rewarder {
	t.Helper()
	r, err := New(Config{
		Logger: rewardtesting.NewLogger(),
		Clock:  clock,
		Chain:  chain,
		Retry:  retry.Config{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	return r
}

func TestRewarder_Config_Validate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Chain: newMockChain()})
	require.Error(t, err)

	_, err = New(Config{Logger: rewardtesting.NewLogger()})
	require.Error(t, err)

	_, err = New(Config{Logger: rewardtesting.NewLogger(), Chain: newMockChain(), Rate: reward.Rate{Numerator: 1}})
	require.Error(t, err)

	cfg := Config{Logger: rewardtesting.NewLogger(), Chain: newMockChain()}
	require.NoError(t, cfg.Validate())
	require.Equal(t, reward.DefaultRate(), cfg.Rate)
	require.NotNil(t, cfg.Clock)
}

func TestRewarder_EndToEnd(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	chain := newMockChain()
	chain.head.Store(100)
	r := newTestRewarder(t, chain, clock)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.False(t, r.Ready())
	require.NoError(t, r.Start(ctx))
	require.Error(t, r.Start(ctx))
	require.True(t, r.Ready())
	require.Eventually(t, chain.streaming.Load, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(100), chain.streamFrom.Load())

	chain.events <- ingest.Notification{Kind: ingest.KindDeposit, Depositor: alice, Amount: units(60), Block: 100, TxHash: "0x01", LogIndex: 0}
	chain.events <- ingest.Notification{Kind: ingest.KindDeposit, Depositor: bob, Amount: units(5), Block: 102, TxHash: "0x02", LogIndex: 0}
	chain.events <- ingest.Notification{Kind: ingest.KindWithdrawal, Depositor: alice, Amount: units(10), Block: 102, TxHash: "0x02", LogIndex: 1}
	require.Eventually(t, func() bool { return r.Cursor().IngestedBlock == 102 && r.Depositors().Lots() == 2 }, time.Second, 5*time.Millisecond)

	snap := r.Depositors()
	require.Equal(t, alice, snap[0].Depositor)
	require.Equal(t, units(50), snap[0].Total())
	require.Equal(t, bob, snap[1].Depositor)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	chain.head.Store(200)
	clock.Advance(settlement.DefaultPollInterval)
	require.Eventually(t, func() bool { return len(chain.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return r.Cursor().LastPass != nil }, time.Second, 5*time.Millisecond)

	call := chain.Calls()[0]
	require.Equal(t, []string{alice, bob}, call.addresses)
	// alice: 50 units for 100 blocks, bob: 5 units for 98 blocks, both at 5%.
	require.Equal(t, "2500000000000000000", call.amounts[0].String())
	require.Equal(t, "250000000000000000", call.amounts[1].String())

	cursor := r.Cursor()
	require.Equal(t, uint64(200), cursor.LastProcessed)
	require.Equal(t, "settled", cursor.LastPass.Outcome)
	require.Equal(t, "0xfeed", cursor.LastPass.TxHash)
	require.Equal(t, "2.75", cursor.LastPass.Total)
	require.Equal(t, 2, cursor.LastPass.Recipients)

	r.Stop()
	r.Stop()
	require.Equal(t, "stopped", r.Cursor().State)
	require.False(t, chain.streaming.Load())
	require.Equal(t, settlement.OutcomeStopped, r.Tick(t.Context()))
}

func TestRewarder_Start_Failure(t *testing.T) {
	t.Parallel()

	chain := newMockChain()
	chain.blockNumberFunc = func(context.Context) (uint64, error) {
		return 0, errors.New("invalid api key")
	}
	r := newTestRewarder(t, chain, clockwork.NewFakeClock())

	require.ErrorContains(t, r.Start(t.Context()), "invalid api key")
	require.False(t, r.Ready())
	require.False(t, chain.streaming.Load())
	r.Stop()
}

func TestRewarder_Stop_BeforeStart(t *testing.T) {
	t.Parallel()

	r := newTestRewarder(t, newMockChain(), clockwork.NewFakeClock())
	r.Stop()
	require.Equal(t, "stopped", r.Cursor().State)
	require.Nil(t, r.Cursor().LastPass)
}
