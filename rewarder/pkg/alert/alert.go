package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
)

// Multi fans a report out to every reporter and joins their errors.
type Multi []settlement.Reporter

func (m Multi) Report(ctx context.Context, rec settlement.Record) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func title(rec settlement.Record) string {
	switch rec.Outcome {
	case settlement.OutcomeDistributionFailed:
		return fmt.Sprintf("Reward distribution failed at block %d", rec.CurrentBlock)
	case settlement.OutcomeComputeFailed:
		return fmt.Sprintf("Reward computation failed at block %d", rec.CurrentBlock)
	default:
		return fmt.Sprintf("Settlement pass %s at block %d", rec.Outcome, rec.CurrentBlock)
	}
}

func errText(rec settlement.Record) string {
	if rec.Err == nil {
		return ""
	}
	return rec.Err.Error()
}

func totalText(rec settlement.Record) string {
	return ledger.FormatAmount(rec.Total())
}
