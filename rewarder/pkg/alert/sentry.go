package alert

import (
	"context"
	"errors"
	"strconv"

	"github.com/airvault/airdrop/rewarder/pkg/metrics"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	"github.com/getsentry/sentry-go"
)

// SentryReporter captures failed settlement passes as Sentry exceptions.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter reports through hub, or the current hub when nil. sentry.Init must have
// been called for events to be delivered.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

func (r *SentryReporter) Report(ctx context.Context, rec settlement.Record) error {
	err := rec.Err
	if err == nil {
		err = errors.New(title(rec))
	}

	var eventID *sentry.EventID
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("outcome", string(rec.Outcome))
		scope.SetTag("current_block", strconv.FormatUint(rec.CurrentBlock, 10))
		scope.SetContext("settlement", sentry.Context{
			"pass":           rec.ID.String(),
			"previous_block": rec.PreviousBlock,
			"current_block":  rec.CurrentBlock,
			"recipients":     len(rec.Addresses),
			"total":          totalText(rec),
			"tx_hash":        rec.TxHash,
		})
		eventID = r.hub.CaptureException(err)
	})

	if eventID == nil {
		metrics.AlertsTotal.WithLabelValues("sentry", "dropped").Inc()
		return nil
	}
	metrics.AlertsTotal.WithLabelValues("sentry", "success").Inc()
	return nil
}
