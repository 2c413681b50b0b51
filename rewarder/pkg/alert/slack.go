package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/metrics"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	"github.com/slack-go/slack"
)

type SlackConfig struct {
	Logger     *slog.Logger
	WebhookURL string

	// Channel and Username override the webhook's defaults when set.
	Channel  string
	Username string
}

func (cfg *SlackConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.WebhookURL == "" {
		return errors.New("webhook url is required")
	}
	if cfg.Username == "" {
		cfg.Username = "airvault-rewarder"
	}
	return nil
}

// SlackReporter posts failed settlement passes to a Slack incoming webhook.
type SlackReporter struct {
	log *slog.Logger
	cfg SlackConfig
}

func NewSlackReporter(cfg SlackConfig) (*SlackReporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackReporter{log: cfg.Logger, cfg: cfg}, nil
}

func (r *SlackReporter) Report(ctx context.Context, rec settlement.Record) error {
	fields := []slack.AttachmentField{
		{Title: "Pass", Value: rec.ID.String()},
		{Title: "Blocks", Value: fmt.Sprintf("%d-%d", rec.PreviousBlock, rec.CurrentBlock), Short: true},
		{Title: "Outcome", Value: string(rec.Outcome), Short: true},
		{Title: "Recipients", Value: strconv.Itoa(len(rec.Addresses)), Short: true},
		{Title: "Total", Value: totalText(rec), Short: true},
	}
	if rec.TxHash != "" {
		fields = append(fields, slack.AttachmentField{Title: "Transaction", Value: rec.TxHash})
	}
	if text := errText(rec); text != "" {
		fields = append(fields, slack.AttachmentField{Title: "Error", Value: "```" + text + "```"})
	}

	msg := &slack.WebhookMessage{
		Channel:  r.cfg.Channel,
		Username: r.cfg.Username,
		Text:     title(rec),
		Attachments: []slack.Attachment{{
			Color:  "danger",
			Fields: fields,
			Footer: rec.FinishedAt.UTC().Format(time.RFC3339),
		}},
	}

	if err := slack.PostWebhookContext(ctx, r.cfg.WebhookURL, msg); err != nil {
		metrics.AlertsTotal.WithLabelValues("slack", "error").Inc()
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues("slack", "success").Inc()
	r.log.Debug("alert: posted slack alert", "pass", rec.ID)
	return nil
}
