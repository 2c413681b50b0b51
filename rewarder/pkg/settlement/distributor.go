package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/metrics"
)

const defaultDistributionTimeout = 2 * time.Minute

// Confirmation is the on-chain receipt of a disbursement.
type Confirmation struct {
	TxHash  string
	Block   uint64
	GasUsed uint64
}

// Disburser submits one batched reward transfer and waits for it to be mined.
type Disburser interface {
	Disburse(ctx context.Context, addresses []string, amounts []*big.Int) (Confirmation, error)
}

type DistributorConfig struct {
	Logger    *slog.Logger
	Disburser Disburser

	// Timeout bounds submission and confirmation together.
	Timeout time.Duration
}

func (cfg *DistributorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Disburser == nil {
		return errors.New("disburser is required")
	}
	if cfg.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultDistributionTimeout
	}
	return nil
}

// DistributionResult is the outcome of a single disbursement attempt.
type DistributionResult struct {
	Confirmation Confirmation
	Err          error
}

func (r DistributionResult) OK() bool {
	return r.Err == nil
}

// Distributor makes exactly one disbursement attempt per call. Failures, including panics in
// the disburser, come back in the result and are never retried.
type Distributor struct {
	log *slog.Logger
	cfg DistributorConfig
}

func NewDistributor(cfg DistributorConfig) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{log: cfg.Logger, cfg: cfg}, nil
}

func (d *Distributor) Distribute(ctx context.Context, pass Pass) (res DistributionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = DistributionResult{Err: &DistributionError{PassID: pass.ID, Err: fmt.Errorf("disburser panicked: %v", r)}}
			metrics.DistributionsTotal.WithLabelValues("panic").Inc()
			d.log.Error("distributor: disbursement panicked", "pass", pass.ID, "panic", r)
		}
	}()

	if len(pass.Addresses) == 0 || len(pass.Addresses) != len(pass.Amounts) {
		metrics.DistributionsTotal.WithLabelValues("invalid").Inc()
		return DistributionResult{Err: &DistributionError{
			PassID: pass.ID,
			Err:    fmt.Errorf("invalid batch: %d addresses, %d amounts", len(pass.Addresses), len(pass.Amounts)),
		}}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	d.log.Info("distributor: submitting disbursement", "pass", pass.ID, "block", pass.CurrentBlock, "recipients", len(pass.Addresses), "total", pass.Total().String())
	conf, err := d.cfg.Disburser.Disburse(ctx, pass.Addresses, pass.Amounts)
	if err != nil {
		metrics.DistributionsTotal.WithLabelValues("error").Inc()
		d.log.Error("distributor: disbursement failed", "pass", pass.ID, "block", pass.CurrentBlock, "error", err)
		return DistributionResult{Err: &DistributionError{PassID: pass.ID, Err: err}}
	}

	metrics.DistributionsTotal.WithLabelValues("success").Inc()
	d.log.Info("distributor: disbursement confirmed", "pass", pass.ID, "tx", conf.TxHash, "minedBlock", conf.Block, "gasUsed", conf.GasUsed)
	return DistributionResult{Confirmation: conf}
}
