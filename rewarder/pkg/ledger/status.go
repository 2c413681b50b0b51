package ledger

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of vault amounts.
const Decimals = 18

// LotStatus is a lot as served to status readers.
type LotStatus struct {
	Amount string `json:"amount"`
	Block  uint64 `json:"block"`
}

// DepositorStatus is a depositor's outstanding lots as served to status readers.
type DepositorStatus struct {
	Depositor string      `json:"depositor"`
	Lots      []LotStatus `json:"lots"`
}

// Depositors returns every tracked depositor with its outstanding lots, amounts formatted as
// decimal strings.
func (s *Store) Depositors() []DepositorStatus {
	return s.Snapshot().Status()
}

// Status formats the snapshot for status readers.
func (snap Snapshot) Status() []DepositorStatus {
	out := make([]DepositorStatus, 0, len(snap))
	for _, h := range snap {
		lots := make([]LotStatus, 0, len(h.Lots))
		for _, lot := range h.Lots {
			lots = append(lots, LotStatus{Amount: FormatAmount(lot.Amount), Block: lot.Block})
		}
		out = append(out, DepositorStatus{Depositor: h.Depositor, Lots: lots})
	}
	return out
}

// FormatAmount renders an 18-decimal fixed-point integer as a decimal string ("2.5").
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -Decimals).String()
}

// ParseAmount parses a decimal string into an 18-decimal fixed-point integer. More than 18
// fractional digits is an error rather than a silent rounding.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", s, err)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	return scaled.BigInt(), nil
}
