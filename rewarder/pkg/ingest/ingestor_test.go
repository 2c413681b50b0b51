package ingest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/utils/pkg/retry"
	rewardtesting "github.com/airvault/airdrop/utils/pkg/testing"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	bob   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

type mockSource struct {
	streamFunc func(ctx context.Context, fromBlock uint64, out chan<- Notification) error
}

func (m *mockSource) Stream(ctx context.Context, fromBlock uint64, out chan<- Notification) error {
	if m.streamFunc != nil {
		return m.streamFunc(ctx, fromBlock, out)
	}
	<-ctx.Done()
	return ctx.Err()
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(ledger.Decimals), nil))
}

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.NewStore(ledger.StoreConfig{Logger: rewardtesting.NewLogger()})
	require.NoError(t, err)
	return store
}

func newTestIngestor(t *testing.T, store *ledger.Store, source Source) *Ingestor {
	t.Helper()
	ing, err := NewIngestor(Config{
		Logger:           rewardtesting.NewLogger(),
		Clock:            clockwork.NewFakeClock(),
		Source:           source,
		Ledger:           store,
		Retry:            retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		ResubscribeDelay: time.Second,
	})
	require.NoError(t, err)
	return ing
}

func deposit(depositor string, amount *big.Int, block uint64, tx string, idx uint) Notification {
	return Notification{Kind: KindDeposit, Depositor: depositor, Amount: amount, Block: block, TxHash: tx, LogIndex: idx}
}

func withdrawal(depositor string, amount *big.Int, block uint64, tx string, idx uint) Notification {
	return Notification{Kind: KindWithdrawal, Depositor: depositor, Amount: amount, Block: block, TxHash: tx, LogIndex: idx}
}

func TestIngest_Config_Validate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := NewIngestor(Config{Source: &mockSource{}, Ledger: store})
	require.Error(t, err)
	_, err = NewIngestor(Config{Logger: rewardtesting.NewLogger(), Ledger: store})
	require.Error(t, err)
	_, err = NewIngestor(Config{Logger: rewardtesting.NewLogger(), Source: &mockSource{}})
	require.Error(t, err)

	cfg := Config{Logger: rewardtesting.NewLogger(), Source: &mockSource{}, Ledger: store}
	require.NoError(t, cfg.Validate())
	require.Equal(t, defaultQueueSize, cfg.QueueSize)
	require.Equal(t, defaultResubscribeDelay, cfg.ResubscribeDelay)
	require.NotNil(t, cfg.Clock)
	require.Equal(t, retry.DefaultConfig().MaxAttempts, cfg.Retry.MaxAttempts)
}

func TestIngest_Notification_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    Notification
	}{
		{name: "unknown kind", n: Notification{Depositor: alice, Amount: units(1)}},
		{name: "missing depositor", n: Notification{Kind: KindDeposit, Amount: units(1)}},
		{name: "missing amount", n: Notification{Kind: KindWithdrawal, Depositor: alice}},
		{name: "negative amount", n: Notification{Kind: KindWithdrawal, Depositor: alice, Amount: big.NewInt(-1)}},
		{name: "zero deposit", n: Notification{Kind: KindDeposit, Depositor: alice, Amount: big.NewInt(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ingErr *IngestionError
			require.ErrorAs(t, tt.n.Validate(), &ingErr)
		})
	}

	require.NoError(t, withdrawal(alice, big.NewInt(0), 1, "", 0).Validate())
	require.Equal(t, "deposit", KindDeposit.String())
	require.Equal(t, "withdrawal", KindWithdrawal.String())
	require.Equal(t, "unknown", Kind(0).String())
}

func TestIngest_Ingestor_Apply(t *testing.T) {
	t.Parallel()

	t.Run("deposits and withdrawals mutate the ledger", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		ing := newTestIngestor(t, store, &mockSource{})

		require.NoError(t, ing.Apply(deposit(alice, units(10), 1, "0x01", 0)))
		require.NoError(t, ing.Apply(deposit(alice, units(20), 2, "0x02", 0)))
		require.NoError(t, ing.Apply(withdrawal(alice, units(15), 3, "0x03", 0)))

		snap := store.Snapshot()
		require.Len(t, snap, 1)
		require.Equal(t, []ledger.Lot{{Amount: units(15), Block: 2}}, snap[0].Lots)
		require.Equal(t, uint64(3), ing.LastBlock())
	})

	t.Run("malformed notifications are dropped", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		ing := newTestIngestor(t, store, &mockSource{})

		err := ing.Apply(Notification{Kind: KindDeposit, Amount: units(1), Block: 1})
		var ingErr *IngestionError
		require.ErrorAs(t, err, &ingErr)
		require.Zero(t, store.Len())
	})

	t.Run("over-withdrawal empties the depositor without error", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		ing := newTestIngestor(t, store, &mockSource{})

		require.NoError(t, ing.Apply(deposit(alice, units(5), 1, "0x01", 0)))
		require.NoError(t, ing.Apply(withdrawal(alice, units(8), 2, "0x02", 0)))
		require.Zero(t, store.Len())
	})

	t.Run("strict ledger rejections are returned", func(t *testing.T) {
		t.Parallel()
		store, err := ledger.NewStore(ledger.StoreConfig{Logger: rewardtesting.NewLogger(), StrictWithdrawals: true})
		require.NoError(t, err)
		ing := newTestIngestor(t, store, &mockSource{})

		require.NoError(t, ing.Apply(deposit(alice, units(5), 1, "0x01", 0)))
		require.ErrorIs(t, ing.Apply(withdrawal(alice, units(8), 2, "0x02", 0)), ledger.ErrInsufficientBalance)
		balance, ok := store.Balance(alice)
		require.True(t, ok)
		require.Equal(t, units(5), balance)
	})

	t.Run("replayed notifications are dropped", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		ing := newTestIngestor(t, store, &mockSource{})

		require.NoError(t, ing.Apply(deposit(alice, units(10), 5, "0xaa", 0)))
		require.NoError(t, ing.Apply(deposit(bob, units(3), 6, "0xbb", 1)))
		require.NoError(t, ing.Apply(deposit(alice, units(10), 5, "0xaa", 0)))
		require.NoError(t, ing.Apply(deposit(bob, units(3), 6, "0xBB", 1)))
		require.NoError(t, ing.Apply(deposit(bob, units(4), 6, "0xbb", 2)))

		balance, _ := store.Balance(alice)
		require.Equal(t, units(10), balance)
		balance, _ = store.Balance(bob)
		require.Equal(t, units(7), balance)
	})

	t.Run("unkeyed notifications are never deduplicated", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		ing := newTestIngestor(t, store, &mockSource{})

		require.NoError(t, ing.Apply(deposit(alice, units(1), 5, "", 0)))
		require.NoError(t, ing.Apply(deposit(alice, units(1), 5, "", 0)))
		balance, _ := store.Balance(alice)
		require.Equal(t, units(2), balance)
	})
}

func TestIngest_Ingestor_Start(t *testing.T) {
	t.Parallel()

	t.Run("applies streamed notifications in order", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		var fromBlock uint64
		source := &mockSource{streamFunc: func(ctx context.Context, from uint64, out chan<- Notification) error {
			fromBlock = from
			out <- deposit(alice, units(10), 11, "0x01", 0)
			out <- withdrawal(alice, units(4), 12, "0x02", 0)
			out <- deposit(bob, units(2), 12, "0x02", 1)
			out <- withdrawal(alice, units(6), 13, "0x03", 0)
			<-ctx.Done()
			return ctx.Err()
		}}
		ing := newTestIngestor(t, store, source)

		ctx, cancel := context.WithCancel(t.Context())
		require.NoError(t, ing.Start(ctx, 10))
		require.Error(t, ing.Start(ctx, 10))

		require.Eventually(t, func() bool { return ing.LastBlock() == 13 }, time.Second, 5*time.Millisecond)
		cancel()
		ing.Wait()

		require.Equal(t, uint64(10), fromBlock)
		_, ok := store.Balance(alice)
		require.False(t, ok)
		balance, ok := store.Balance(bob)
		require.True(t, ok)
		require.Equal(t, units(2), balance)
	})

	t.Run("resubscribes from the last applied block", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)

		var mu sync.Mutex
		var froms []uint64
		source := &mockSource{streamFunc: func(ctx context.Context, from uint64, out chan<- Notification) error {
			mu.Lock()
			froms = append(froms, from)
			call := len(froms)
			mu.Unlock()

			switch call {
			case 1:
				out <- deposit(alice, units(10), 21, "0x01", 0)
				out <- deposit(alice, units(5), 22, "0x02", 0)
				return errors.New("websocket: connection reset by peer")
			default:
				out <- deposit(alice, units(5), 22, "0x02", 0)
				out <- deposit(bob, units(1), 23, "0x03", 0)
				<-ctx.Done()
				return ctx.Err()
			}
		}}
		ing := newTestIngestor(t, store, source)

		ctx, cancel := context.WithCancel(t.Context())
		require.NoError(t, ing.Start(ctx, 20))
		require.Eventually(t, func() bool { return ing.LastBlock() == 23 }, time.Second, 5*time.Millisecond)
		cancel()
		ing.Wait()

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, froms, 2)
		require.Equal(t, uint64(20), froms[0])
		require.GreaterOrEqual(t, froms[1], uint64(20))

		balance, _ := store.Balance(alice)
		require.Equal(t, units(15), balance)
	})

	t.Run("waits before starting over when retries are exhausted", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t)
		clock := clockwork.NewFakeClock()

		var mu sync.Mutex
		calls := 0
		source := &mockSource{streamFunc: func(ctx context.Context, from uint64, out chan<- Notification) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return errors.New("unauthorized")
		}}
		ing, err := NewIngestor(Config{
			Logger:           rewardtesting.NewLogger(),
			Clock:            clock,
			Source:           source,
			Ledger:           store,
			Retry:            retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
			ResubscribeDelay: time.Minute,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()
		require.NoError(t, ing.Start(ctx, 1))

		// A non-retryable error gives up after a single attempt.
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		mu.Lock()
		require.Equal(t, 1, calls)
		mu.Unlock()

		clock.Advance(time.Minute)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls == 2
		}, time.Second, 5*time.Millisecond)

		cancel()
		ing.Wait()
	})
}
