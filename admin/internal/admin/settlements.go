package admin

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/journal"
)

type passLister interface {
	RecentPasses(ctx context.Context, limit int) ([]journal.PassSummary, error)
}

// ListSettlements prints the most recent journaled settlement passes, newest first.
func ListSettlements(ctx context.Context, log *slog.Logger, cfg journal.PostgresConfig, limit int, w io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	j, err := journal.Open(ctx, journal.Config{Logger: log, ConnString: cfg.ConnString(), MaxConns: 1})
	if err != nil {
		return err
	}
	defer j.Close()
	return writeSettlements(ctx, j, limit, w)
}

func writeSettlements(ctx context.Context, passes passLister, limit int, w io.Writer) error {
	summaries, err := passes.RecentPasses(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tBLOCKS\tOUTCOME\tRECIPIENTS\tTOTAL\tTX")
	for _, p := range summaries {
		tx := p.TxHash
		if tx == "" {
			tx = "-"
		}
		fmt.Fprintf(tw, "%s\t%d-%d\t%s\t%d\t%s\t%s\n",
			p.FinishedAt.UTC().Format(time.RFC3339), p.PreviousBlock, p.CurrentBlock, p.Outcome, p.Recipients, p.TotalAmount, tx)
	}
	return tw.Flush()
}
