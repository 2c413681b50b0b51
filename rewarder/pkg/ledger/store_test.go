package ledger

import (
	"math/big"
	"sync"
	"testing"

	rewardtesting "github.com/airvault/airdrop/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	bob   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	carol = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil))
}

func newTestStore(t *testing.T, strict bool) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Logger: rewardtesting.NewLogger(), StrictWithdrawals: strict})
	require.NoError(t, err)
	return store
}

func lotAmounts(t *testing.T, store *Store, depositor string) []*big.Int {
	t.Helper()
	for _, h := range store.Snapshot() {
		if h.Depositor == depositor {
			out := make([]*big.Int, len(h.Lots))
			for i, lot := range h.Lots {
				out[i] = lot.Amount
			}
			return out
		}
	}
	return nil
}

func TestLedger_Store_Config(t *testing.T) {
	t.Parallel()

	_, err := NewStore(StoreConfig{})
	require.Error(t, err)
}

func TestLedger_Store_Append(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.ErrorIs(t, store.Append(alice, big.NewInt(0), 1), ErrNonPositiveAmount)
		require.ErrorIs(t, store.Append(alice, big.NewInt(-1), 1), ErrNonPositiveAmount)
		require.ErrorIs(t, store.Append(alice, nil, 1), ErrNonPositiveAmount)
		require.Zero(t, store.Len())
	})

	t.Run("appends lots in order", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		require.NoError(t, store.Append(alice, units(20), 5))

		snap := store.Snapshot()
		require.Len(t, snap, 1)
		require.Equal(t, []Lot{{Amount: units(10), Block: 1}, {Amount: units(20), Block: 5}}, snap[0].Lots)
	})

	t.Run("does not alias the caller's amount", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		amount := units(10)
		require.NoError(t, store.Append(alice, amount, 1))
		amount.SetInt64(1)

		balance, ok := store.Balance(alice)
		require.True(t, ok)
		require.Equal(t, units(10), balance)
	})
}

func TestLedger_Store_Consume(t *testing.T) {
	t.Parallel()

	t.Run("partial consumption reduces the oldest lot", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		require.NoError(t, store.Append(alice, units(20), 2))

		discarded, err := store.Consume(alice, units(4), 3)
		require.NoError(t, err)
		require.Zero(t, discarded.Sign())
		require.Equal(t, []*big.Int{units(6), units(20)}, lotAmounts(t, store, alice))
	})

	t.Run("spans lots oldest first and leaves later lots untouched", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		require.NoError(t, store.Append(alice, units(20), 2))
		require.NoError(t, store.Append(alice, units(30), 3))

		_, err := store.Consume(alice, units(15), 4)
		require.NoError(t, err)
		require.Equal(t, []*big.Int{units(15), units(30)}, lotAmounts(t, store, alice))

		snap := store.Snapshot()
		require.Equal(t, uint64(2), snap[0].Lots[0].Block)
		require.Equal(t, uint64(3), snap[0].Lots[1].Block)
	})

	t.Run("exact lot amount removes the lot", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		require.NoError(t, store.Append(alice, units(20), 2))

		_, err := store.Consume(alice, units(10), 3)
		require.NoError(t, err)
		require.Equal(t, []*big.Int{units(20)}, lotAmounts(t, store, alice))
	})

	t.Run("consuming the full balance removes the depositor", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		require.NoError(t, store.Append(alice, units(20), 2))
		require.NoError(t, store.Append(bob, units(5), 2))

		discarded, err := store.Consume(alice, units(30), 3)
		require.NoError(t, err)
		require.Zero(t, discarded.Sign())

		_, ok := store.Balance(alice)
		require.False(t, ok)
		require.Equal(t, 1, store.Len())
		for _, h := range store.Snapshot() {
			require.NotEqual(t, alice, h.Depositor)
		}
	})

	t.Run("append then consume in the same block leaves no entry", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(7), 9))
		_, err := store.Consume(alice, units(7), 9)
		require.NoError(t, err)
		require.Zero(t, store.Len())
		require.Empty(t, store.Snapshot())
	})

	t.Run("over-withdrawal consumes everything and returns the discarded remainder", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		require.NoError(t, store.Append(alice, units(5), 2))

		discarded, err := store.Consume(alice, units(18), 3)
		require.NoError(t, err)
		require.Equal(t, units(3), discarded)
		require.Zero(t, store.Len())
	})

	t.Run("withdrawal from an unknown depositor is discarded", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		discarded, err := store.Consume(alice, units(2), 3)
		require.NoError(t, err)
		require.Equal(t, units(2), discarded)
		require.Zero(t, store.Len())
	})

	t.Run("zero amount is a no-op", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		discarded, err := store.Consume(alice, big.NewInt(0), 2)
		require.NoError(t, err)
		require.Zero(t, discarded.Sign())
		require.Equal(t, []*big.Int{units(10)}, lotAmounts(t, store, alice))
	})

	t.Run("negative amount is rejected", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		_, err := store.Consume(alice, big.NewInt(-1), 2)
		require.ErrorIs(t, err, ErrNegativeAmount)
	})

	t.Run("strict mode rejects over-withdrawal without mutating", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, true)
		require.NoError(t, store.Append(alice, units(10), 1))
		require.NoError(t, store.Append(alice, units(5), 2))

		_, err := store.Consume(alice, units(16), 3)
		require.ErrorIs(t, err, ErrInsufficientBalance)
		require.Equal(t, []*big.Int{units(10), units(5)}, lotAmounts(t, store, alice))

		_, err = store.Consume(bob, units(1), 3)
		require.ErrorIs(t, err, ErrInsufficientBalance)

		discarded, err := store.Consume(alice, units(15), 3)
		require.NoError(t, err)
		require.Zero(t, discarded.Sign())
		require.Zero(t, store.Len())
	})
}

func TestLedger_Store_Conservation(t *testing.T) {
	t.Parallel()

	type op struct {
		deposit bool
		amount  int64
	}
	sequences := map[string][]op{
		"deposits only":       {{true, 10}, {true, 20}, {true, 30}},
		"interleaved":         {{true, 10}, {false, 3}, {true, 20}, {false, 12}, {true, 5}, {false, 1}},
		"drain and refill":    {{true, 10}, {false, 10}, {true, 4}, {false, 1}},
		"many small withdraw": {{true, 50}, {false, 1}, {false, 2}, {false, 3}, {false, 4}},
		"over-withdrawal":     {{true, 10}, {true, 5}, {false, 20}, {true, 7}, {false, 2}},
	}

	for name, ops := range sequences {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			store := newTestStore(t, false)
			expected := new(big.Int)
			for i, o := range ops {
				if o.deposit {
					require.NoError(t, store.Append(alice, units(o.amount), uint64(i)))
					expected.Add(expected, units(o.amount))
					continue
				}
				_, err := store.Consume(alice, units(o.amount), uint64(i))
				require.NoError(t, err)
				expected.Sub(expected, units(o.amount))
				if expected.Sign() < 0 {
					expected.SetInt64(0)
				}
			}

			balance, ok := store.Balance(alice)
			require.Equal(t, expected, balance)
			require.Equal(t, expected.Sign() > 0, ok)
		})
	}
}

func TestLedger_Store_Snapshot(t *testing.T) {
	t.Parallel()

	t.Run("is ordered by first deposit", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(carol, units(1), 1))
		require.NoError(t, store.Append(alice, units(1), 2))
		require.NoError(t, store.Append(bob, units(1), 3))
		require.NoError(t, store.Append(carol, units(1), 4))

		for i := 0; i < 5; i++ {
			snap := store.Snapshot()
			require.Equal(t, []string{carol, alice, bob}, []string{snap[0].Depositor, snap[1].Depositor, snap[2].Depositor})
		}
	})

	t.Run("a depositor that drains and returns moves to the back", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(1), 1))
		require.NoError(t, store.Append(bob, units(1), 2))
		_, err := store.Consume(alice, units(1), 3)
		require.NoError(t, err)
		require.NoError(t, store.Append(alice, units(2), 4))

		snap := store.Snapshot()
		require.Equal(t, bob, snap[0].Depositor)
		require.Equal(t, alice, snap[1].Depositor)
	})

	t.Run("is detached from later mutations", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)
		require.NoError(t, store.Append(alice, units(10), 1))
		snap := store.Snapshot()

		_, err := store.Consume(alice, units(4), 2)
		require.NoError(t, err)
		require.Equal(t, units(10), snap[0].Lots[0].Amount)

		snap[0].Lots[0].Amount.SetInt64(1)
		balance, _ := store.Balance(alice)
		require.Equal(t, units(6), balance)
	})

	t.Run("concurrent mutation and snapshot", func(t *testing.T) {
		t.Parallel()
		store := newTestStore(t, false)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					assert.NoError(t, store.Append(alice, units(2), uint64(j)))
					_, err := store.Consume(alice, units(1), uint64(j))
					assert.NoError(t, err)
				}
			}(i)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					snap := store.Snapshot()
					for _, h := range snap {
						assert.NotEmpty(t, h.Lots)
					}
				}
			}()
		}
		wg.Wait()

		balance, _ := store.Balance(alice)
		require.Equal(t, units(800), balance)
	})
}
