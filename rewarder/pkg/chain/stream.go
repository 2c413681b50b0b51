package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/airvault/airdrop/rewarder/pkg/ingest"
	"github.com/airvault/airdrop/rewarder/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

const subscriptionBuffer = 256

// Stream delivers vault deposit and withdrawal notifications from fromBlock onwards. It
// subscribes to logs when the endpoint supports notifications, backfilling from fromBlock to
// the head first, and otherwise polls eth_getLogs. It returns when ctx is done or the
// subscription fails.
func (c *Client) Stream(ctx context.Context, fromBlock uint64, out chan<- ingest.Notification) error {
	logs := make(chan types.Log, subscriptionBuffer)
	sub, err := c.backend.SubscribeFilterLogs(ctx, c.filterQuery(fromBlock, nil), logs)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		c.log.Info("chain: endpoint does not support notifications, polling logs", "fromBlock", fromBlock, "interval", c.cfg.LogPollInterval)
		return c.poll(ctx, fromBlock, out)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to vault logs: %w", err)
	}
	defer sub.Unsubscribe()
	c.log.Info("chain: subscribed to vault logs", "fromBlock", fromBlock)

	// Subscriptions only carry new logs; catch up on anything between fromBlock and the head.
	// Logs seen both ways are dropped by the ingestor.
	if _, err := c.backfill(ctx, fromBlock, out); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return errors.New("vault log subscription closed")
			}
			return fmt.Errorf("vault log subscription failed: %w", err)
		case lg := <-logs:
			if err := c.forward(ctx, lg, out); err != nil {
				return err
			}
		}
	}
}

func (c *Client) poll(ctx context.Context, fromBlock uint64, out chan<- ingest.Notification) error {
	next, err := c.backfill(ctx, fromBlock, out)
	if err != nil {
		return err
	}

	ticker := c.cfg.Clock.NewTicker(c.cfg.LogPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			next, err = c.backfill(ctx, next, out)
			if err != nil {
				return err
			}
		}
	}
}

// backfill forwards vault logs from fromBlock to the current head in MaxBlockRange chunks and
// returns the next block to query.
func (c *Client) backfill(ctx context.Context, fromBlock uint64, out chan<- ingest.Notification) (uint64, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return fromBlock, err
	}
	for start := fromBlock; start <= head; {
		end := min(start+c.cfg.MaxBlockRange-1, head)
		logs, err := c.backend.FilterLogs(ctx, c.filterQuery(start, &end))
		if err != nil {
			return start, fmt.Errorf("failed to filter vault logs %d-%d: %w", start, end, err)
		}
		for _, lg := range logs {
			if err := c.forward(ctx, lg, out); err != nil {
				return start, err
			}
		}
		c.log.Debug("chain: fetched vault logs", "from", start, "to", end, "count", len(logs))
		start = end + 1
	}
	return max(fromBlock, head+1), nil
}

func (c *Client) filterQuery(fromBlock uint64, toBlock *uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.cfg.VaultAddress},
		Topics:    [][]common.Hash{{c.depositTopic, c.withdrawTopic}},
	}
	if toBlock != nil {
		q.ToBlock = new(big.Int).SetUint64(*toBlock)
	}
	return q
}

func (c *Client) forward(ctx context.Context, lg types.Log, out chan<- ingest.Notification) error {
	if lg.Removed {
		c.log.Warn("chain: skipping removed log", "tx", lg.TxHash.Hex(), "block", lg.BlockNumber, "index", lg.Index)
		return nil
	}
	n, err := c.decodeLog(lg)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("unknown", "invalid").Inc()
		c.log.Error("chain: dropping undecodable log", "error", err, "tx", lg.TxHash.Hex(), "block", lg.BlockNumber, "index", lg.Index)
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- n:
		return nil
	}
}

func (c *Client) decodeLog(lg types.Log) (ingest.Notification, error) {
	if len(lg.Topics) == 0 {
		return ingest.Notification{}, &ingest.IngestionError{Reason: "log has no topics"}
	}

	var kind ingest.Kind
	var event abi.Event
	switch lg.Topics[0] {
	case c.depositTopic:
		kind, event = ingest.KindDeposit, c.vaultABI.Events[eventDeposit]
	case c.withdrawTopic:
		kind, event = ingest.KindWithdrawal, c.vaultABI.Events[eventWithdraw]
	default:
		return ingest.Notification{}, &ingest.IngestionError{Reason: fmt.Sprintf("unexpected topic %s", lg.Topics[0].Hex())}
	}

	fields := make(map[string]any)
	if err := c.vaultABI.UnpackIntoMap(fields, event.Name, lg.Data); err != nil {
		return ingest.Notification{}, &ingest.IngestionError{Reason: "malformed " + event.Name + " data", Err: err}
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(lg.Topics)-1 != len(indexed) {
		return ingest.Notification{}, &ingest.IngestionError{Reason: fmt.Sprintf("%s has %d indexed topics, want %d", event.Name, len(lg.Topics)-1, len(indexed))}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return ingest.Notification{}, &ingest.IngestionError{Reason: "malformed " + event.Name + " topics", Err: err}
	}

	depositor, ok := fields["_address"].(common.Address)
	if !ok {
		return ingest.Notification{}, &ingest.IngestionError{Reason: event.Name + " missing _address"}
	}
	amount, ok := fields["_amount"].(*big.Int)
	if !ok {
		return ingest.Notification{}, &ingest.IngestionError{Reason: event.Name + " missing _amount"}
	}

	return ingest.Notification{
		Kind:      kind,
		Depositor: depositor.Hex(),
		Amount:    amount,
		Block:     lg.BlockNumber,
		TxHash:    lg.TxHash.Hex(),
		LogIndex:  lg.Index,
	}, nil
}
