package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns = 5
	maxRecentPasses = 500
)

type Config struct {
	Logger     *slog.Logger
	ConnString string

	MaxConns int32

	// RunMigrations applies pending migrations on Open.
	RunMigrations bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ConnString == "" {
		return errors.New("connection string is required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = defaultMaxConns
	}
	return nil
}

// Journal is the PostgreSQL audit trail of settlement passes and their payouts.
type Journal struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.RunMigrations {
		if err := MigrateUp(ctx, cfg.Logger, cfg.ConnString); err != nil {
			return nil, err
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	cfg.Logger.Info("journal: connected to postgres")
	return &Journal{log: cfg.Logger, pool: pool}, nil
}

func (j *Journal) Close() {
	j.pool.Close()
}

// RecordPass writes the pass and its payouts in one transaction. Recording the same pass
// twice is a no-op.
func (j *Journal) RecordPass(ctx context.Context, rec settlement.Record) error {
	var errText, txHash *string
	if rec.Err != nil {
		s := rec.Err.Error()
		errText = &s
	}
	if rec.TxHash != "" {
		txHash = &rec.TxHash
	}

	return pgx.BeginFunc(ctx, j.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO settlement_passes
				(id, previous_block, current_block, outcome, recipients, total_amount, tx_hash, error, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, int64(rec.PreviousBlock), int64(rec.CurrentBlock), string(rec.Outcome), len(rec.Addresses),
			numeric(rec.Total()), txHash, errText, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert settlement pass: %w", err)
		}
		if tag.RowsAffected() == 0 || len(rec.Addresses) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, addr := range rec.Addresses {
			batch.Queue(`INSERT INTO settlement_payouts (pass_id, position, depositor, amount) VALUES ($1, $2, $3, $4)`,
				rec.ID, i, addr, numeric(rec.Amounts[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert settlement payouts: %w", err)
		}
		return nil
	})
}

// PassSummary is a journaled settlement pass as served to status readers.
type PassSummary struct {
	ID            uuid.UUID `json:"id"`
	PreviousBlock uint64    `json:"previousBlock"`
	CurrentBlock  uint64    `json:"currentBlock"`
	Outcome       string    `json:"outcome"`
	Recipients    int       `json:"recipients"`
	TotalAmount   string    `json:"totalAmount"`
	TxHash        string    `json:"txHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

// Payout is one recipient of a journaled pass.
type Payout struct {
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
}

// RecentPasses returns up to limit passes, newest first. Amounts are formatted as decimal
// token amounts.
func (j *Journal) RecentPasses(ctx context.Context, limit int) ([]PassSummary, error) {
	if limit <= 0 || limit > maxRecentPasses {
		limit = maxRecentPasses
	}

	rows, err := j.pool.Query(ctx, `
		SELECT id, previous_block, current_block, outcome, recipients, total_amount::text,
		       COALESCE(tx_hash, ''), COALESCE(error, ''), started_at, finished_at
		FROM settlement_passes
		ORDER BY finished_at DESC, current_block DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement passes: %w", err)
	}
	defer rows.Close()

	var out []PassSummary
	for rows.Next() {
		var p PassSummary
		var previous, current int64
		var total string
		if err := rows.Scan(&p.ID, &previous, &current, &p.Outcome, &p.Recipients, &total, &p.TxHash, &p.Error, &p.StartedAt, &p.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settlement pass: %w", err)
		}
		p.PreviousBlock = uint64(previous)
		p.CurrentBlock = uint64(current)
		p.TotalAmount = formatNumeric(total)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settlement passes: %w", err)
	}
	return out, nil
}

// Payouts returns the recipients of a pass in distribution order.
func (j *Journal) Payouts(ctx context.Context, passID uuid.UUID) ([]Payout, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT depositor, amount::text
		FROM settlement_payouts
		WHERE pass_id = $1
		ORDER BY position`, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlement payouts: %w", err)
	}
	defer rows.Close()

	var out []Payout
	for rows.Next() {
		var p Payout
		var amount string
		if err := rows.Scan(&p.Depositor, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan settlement payout: %w", err)
		}
		p.Amount = formatNumeric(amount)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settlement payouts: %w", err)
	}
	return out, nil
}

func numeric(v *big.Int) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Valid: true}
}

func formatNumeric(s string) string {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return s
	}
	return ledger.FormatAmount(amount)
}
