package reward

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/airvault/airdrop/rewarder/pkg/ledger"
)

const (
	DefaultRateNumerator   = 5
	DefaultRateDenominator = 100
)

// Rate is the reward rate applied to a depositor's time-weighted amount.
type Rate struct {
	Numerator   int64
	Denominator int64
}

func DefaultRate() Rate {
	return Rate{Numerator: DefaultRateNumerator, Denominator: DefaultRateDenominator}
}

func (r Rate) Validate() error {
	if r.Denominator <= 0 {
		return errors.New("rate denominator must be greater than 0")
	}
	if r.Numerator < 0 {
		return errors.New("rate numerator must not be negative")
	}
	return nil
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
}

// Result holds index-aligned reward recipients and amounts.
type Result struct {
	Addresses []string
	Amounts   []*big.Int
}

func (r Result) Len() int {
	return len(r.Addresses)
}

// HasPositive reports whether any reward is greater than zero.
func (r Result) HasPositive() bool {
	for _, amount := range r.Amounts {
		if amount.Sign() > 0 {
			return true
		}
	}
	return false
}

// Total returns the sum of all rewards.
func (r Result) Total() *big.Int {
	sum := new(big.Int)
	for _, amount := range r.Amounts {
		sum.Add(sum, amount)
	}
	return sum
}

type Calculator struct {
	num *big.Int
	den *big.Int
}

func NewCalculator(rate Rate) (*Calculator, error) {
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		num: big.NewInt(rate.Numerator),
		den: big.NewInt(rate.Denominator),
	}, nil
}

// Calculate computes each depositor's reward at currentBlock. For every lot, elapsed is
// currentBlock minus the lot's block (zero for lots newer than currentBlock). The reward is
//
//	(sum(amount*elapsed) / sum(elapsed)) * num / den
//
// with truncating integer division at each step. Depositors whose elapsed sum is zero are left
// out. Output order follows the snapshot.
func (c *Calculator) Calculate(snap ledger.Snapshot, currentBlock uint64) Result {
	res := Result{
		Addresses: make([]string, 0, len(snap)),
		Amounts:   make([]*big.Int, 0, len(snap)),
	}

	weighted := new(big.Int)
	totalElapsed := new(big.Int)
	elapsed := new(big.Int)
	term := new(big.Int)
	for _, h := range snap {
		weighted.SetInt64(0)
		totalElapsed.SetInt64(0)
		for _, lot := range h.Lots {
			if lot.Block >= currentBlock {
				continue
			}
			elapsed.SetUint64(currentBlock - lot.Block)
			weighted.Add(weighted, term.Mul(lot.Amount, elapsed))
			totalElapsed.Add(totalElapsed, elapsed)
		}
		if totalElapsed.Sign() == 0 {
			continue
		}

		amount := new(big.Int).Quo(weighted, totalElapsed)
		amount.Mul(amount, c.num)
		amount.Quo(amount, c.den)

		res.Addresses = append(res.Addresses, h.Depositor)
		res.Amounts = append(res.Amounts, amount)
	}
	return res
}
