package ledger

import (
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"sync"
)

var (
	ErrNonPositiveAmount   = errors.New("amount must be positive")
	ErrNegativeAmount      = errors.New("amount must not be negative")
	ErrInsufficientBalance = errors.New("withdrawal exceeds recorded balance")
)

// Lot is the remaining tracked amount of one deposit and the block it was made in.
type Lot struct {
	Amount *big.Int
	Block  uint64
}

// Holding is a depositor's outstanding lots, oldest first.
type Holding struct {
	Depositor string
	Lots      []Lot
}

// Snapshot is a detached copy of the ledger ordered by each depositor's first deposit.
type Snapshot []Holding

// Total returns the sum of the holding's lots.
func (h Holding) Total() *big.Int {
	sum := new(big.Int)
	for _, lot := range h.Lots {
		sum.Add(sum, lot.Amount)
	}
	return sum
}

// Lots returns the number of lots across all holdings.
func (s Snapshot) Lots() int {
	n := 0
	for _, h := range s {
		n += len(h.Lots)
	}
	return n
}

type StoreConfig struct {
	Logger *slog.Logger

	// StrictWithdrawals rejects withdrawals larger than the recorded balance instead of
	// consuming everything and discarding the remainder.
	StrictWithdrawals bool
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

type entry struct {
	seq  uint64
	lots []*Lot
}

// Store tracks deposits per depositor as FIFO lots. All methods are safe for concurrent use;
// mutations and snapshots are serialized by a single mutex.
type Store struct {
	log *slog.Logger
	cfg StoreConfig

	mu      sync.Mutex
	entries map[string]*entry
	nextSeq uint64
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:     cfg.Logger,
		cfg:     cfg,
		entries: make(map[string]*entry),
	}, nil
}

// Append adds a lot at the tail of the depositor's sequence, creating it if absent.
func (s *Store) Append(depositor string, amount *big.Int, block uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositiveAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[depositor]
	if !ok {
		e = &entry{seq: s.nextSeq}
		s.nextSeq++
		s.entries[depositor] = e
	}
	e.lots = append(e.lots, &Lot{Amount: new(big.Int).Set(amount), Block: block})
	return nil
}

// Consume removes amount from the depositor's lots, oldest first. A lot that fits entirely in
// the remaining amount is removed; otherwise it is reduced in place and consumption stops.
// The depositor is removed once no lots remain.
//
// If amount exceeds the recorded balance, every lot is consumed and the excess is returned as
// the discarded remainder; this is not an error unless StrictWithdrawals is set, in which case
// ErrInsufficientBalance is returned and nothing is mutated.
func (s *Store) Consume(depositor string, amount *big.Int, block uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := new(big.Int).Set(amount)
	e, ok := s.entries[depositor]
	if !ok {
		if s.cfg.StrictWithdrawals && remaining.Sign() > 0 {
			return nil, ErrInsufficientBalance
		}
		return remaining, nil
	}

	if s.cfg.StrictWithdrawals {
		total := new(big.Int)
		for _, lot := range e.lots {
			total.Add(total, lot.Amount)
		}
		if remaining.Cmp(total) > 0 {
			return nil, ErrInsufficientBalance
		}
	}

	consumed := 0
	for consumed < len(e.lots) && remaining.Sign() > 0 {
		lot := e.lots[consumed]
		if lot.Amount.Cmp(remaining) <= 0 {
			remaining.Sub(remaining, lot.Amount)
			consumed++
			continue
		}
		lot.Amount.Sub(lot.Amount, remaining)
		remaining.SetInt64(0)
	}

	if consumed == len(e.lots) {
		delete(s.entries, depositor)
	} else if consumed > 0 {
		e.lots = append(e.lots[:0:0], e.lots[consumed:]...)
	}

	if remaining.Sign() > 0 {
		s.log.Debug("ledger: withdrawal exceeded recorded balance", "depositor", depositor, "block", block, "discarded", remaining.String())
	}
	return remaining, nil
}

// Snapshot returns a deep copy of the ledger that shares no memory with the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	type ordered struct {
		depositor string
		e         *entry
	}
	all := make([]ordered, 0, len(s.entries))
	for depositor, e := range s.entries {
		all = append(all, ordered{depositor: depositor, e: e})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].e.seq < all[j].e.seq })

	snap := make(Snapshot, 0, len(all))
	for _, o := range all {
		lots := make([]Lot, len(o.e.lots))
		for i, lot := range o.e.lots {
			lots[i] = Lot{Amount: new(big.Int).Set(lot.Amount), Block: lot.Block}
		}
		snap = append(snap, Holding{Depositor: o.depositor, Lots: lots})
	}
	return snap
}

// Balance returns the depositor's outstanding total and whether the depositor is tracked.
func (s *Store) Balance(depositor string) (*big.Int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[depositor]
	if !ok {
		return new(big.Int), false
	}
	sum := new(big.Int)
	for _, lot := range e.lots {
		sum.Add(sum, lot.Amount)
	}
	return sum, true
}

// Len returns the number of tracked depositors.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
