package ingest

import (
	"fmt"
	"math/big"
	"strings"
)

type Kind int

const (
	KindDeposit Kind = iota + 1
	KindWithdrawal
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// Notification is a single vault deposit or withdrawal observed on chain.
type Notification struct {
	Kind      Kind
	Depositor string
	Amount    *big.Int
	Block     uint64

	// TxHash and LogIndex identify the originating log. When set they are used to drop
	// notifications redelivered after a resubscription.
	TxHash   string
	LogIndex uint
}

func (n Notification) key() string {
	if n.TxHash == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", strings.ToLower(n.TxHash), n.LogIndex)
}

// IngestionError reports a notification that could not be turned into a ledger mutation.
type IngestionError struct {
	Reason string
	Err    error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingestion error: %s: %v", e.Reason, e.Err)
	}
	return "ingestion error: " + e.Reason
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Validate checks that the notification carries everything a ledger mutation needs.
func (n Notification) Validate() error {
	switch {
	case n.Kind != KindDeposit && n.Kind != KindWithdrawal:
		return &IngestionError{Reason: fmt.Sprintf("unknown notification kind %d", n.Kind)}
	case n.Depositor == "":
		return &IngestionError{Reason: "missing depositor"}
	case n.Amount == nil:
		return &IngestionError{Reason: "missing amount"}
	case n.Amount.Sign() < 0:
		return &IngestionError{Reason: "negative amount"}
	case n.Kind == KindDeposit && n.Amount.Sign() == 0:
		return &IngestionError{Reason: "zero deposit"}
	}
	return nil
}
