package rewarder

import (
	"time"

	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/airvault/airdrop/rewarder/pkg/settlement"
)

type Cursor struct {
	LastProcessed uint64      `json:"lastProcessed"`
	State         string      `json:"state"`
	IngestedBlock uint64      `json:"ingestedBlock"`
	LastPass      *PassStatus `json:"lastPass,omitempty"`
}

type PassStatus struct {
	ID            string    `json:"id"`
	PreviousBlock uint64    `json:"previousBlock"`
	CurrentBlock  uint64    `json:"currentBlock"`
	Outcome       string    `json:"outcome"`
	Recipients    int       `json:"recipients"`
	Total         string    `json:"total"`
	TxHash        string    `json:"txHash,omitempty"`
	Error         string    `json:"error,omitempty"`
	FinishedAt    time.Time `json:"finishedAt"`
}

func newPassStatus(rec settlement.Record) *PassStatus {
	s := &PassStatus{
		ID:            rec.ID.String(),
		PreviousBlock: rec.PreviousBlock,
		CurrentBlock:  rec.CurrentBlock,
		Outcome:       string(rec.Outcome),
		Recipients:    len(rec.Addresses),
		Total:         ledger.FormatAmount(rec.Total()),
		TxHash:        rec.TxHash,
		FinishedAt:    rec.FinishedAt.UTC(),
	}
	if rec.Err != nil {
		s.Error = rec.Err.Error()
	}
	return s
}
