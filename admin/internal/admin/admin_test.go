package admin

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/journal"
	rewardtesting "github.com/airvault/airdrop/utils/pkg/testing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type mockPassLister struct {
	recentPassesFunc func(ctx context.Context, limit int) ([]journal.PassSummary, error)
}

func (m *mockPassLister) RecentPasses(ctx context.Context, limit int) ([]journal.PassSummary, error) {
	return m.recentPassesFunc(ctx, limit)
}

func TestAdmin_WriteSettlements(t *testing.T) {
	t.Parallel()

	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &mockPassLister{recentPassesFunc: func(ctx context.Context, limit int) ([]journal.PassSummary, error) {
		require.Equal(t, 10, limit)
		return []journal.PassSummary{
			{ID: uuid.New(), PreviousBlock: 100, CurrentBlock: 105, Outcome: "settled", Recipients: 2, TotalAmount: "2.75", TxHash: "0xfeed", FinishedAt: finished},
			{ID: uuid.New(), PreviousBlock: 95, CurrentBlock: 100, Outcome: "distribution_failed", Recipients: 1, TotalAmount: "1", FinishedAt: finished.Add(-time.Minute)},
		}, nil
	}}

	var buf bytes.Buffer
	require.NoError(t, writeSettlements(t.Context(), lister, 10, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "FINISHED"))
	require.Contains(t, lines[1], "100-105")
	require.Contains(t, lines[1], "0xfeed")
	require.Contains(t, lines[2], "distribution_failed")
	require.True(t, strings.HasSuffix(lines[2], "-"))

	failing := &mockPassLister{recentPassesFunc: func(ctx context.Context, limit int) ([]journal.PassSummary, error) {
		return nil, errors.New("connection refused")
	}}
	require.Error(t, writeSettlements(t.Context(), failing, 10, &buf))
}

func TestAdmin_VaultConfig(t *testing.T) {
	t.Parallel()

	valid := VaultConfig{
		RPCURL:     "http://127.0.0.1:8545",
		Address:    "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		PrivateKey: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	}
	require.NoError(t, valid.Validate())

	for _, mutate := range []func(cfg *VaultConfig){
		func(cfg *VaultConfig) { cfg.RPCURL = "" },
		func(cfg *VaultConfig) { cfg.Address = "" },
		func(cfg *VaultConfig) { cfg.PrivateKey = "" },
	} {
		cfg := valid
		mutate(&cfg)
		require.Error(t, cfg.Validate())
	}

	log := rewardtesting.NewLogger()
	require.ErrorContains(t, Deposit(t.Context(), log, valid, "1.0000000000000000001"), "decimals")
	require.ErrorContains(t, Withdraw(t.Context(), log, valid, "-1"), "negative")

	bad := valid
	bad.Address = "0x1234"
	require.ErrorContains(t, Balance(t.Context(), log, bad), "invalid address")
}
