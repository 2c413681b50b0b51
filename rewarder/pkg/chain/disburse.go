package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/airvault/airdrop/rewarder/pkg/settlement"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RevertError reports a mined transaction whose receipt status is failed.
type RevertError struct {
	TxHash common.Hash
	Block  uint64
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted in block %d", e.TxHash.Hex(), e.Block)
}

// Disburse sends one distributeWinTokens transaction for the batch and waits for it to be
// mined. It never retries.
func (c *Client) Disburse(ctx context.Context, addresses []string, amounts []*big.Int) (settlement.Confirmation, error) {
	if c.cfg.PrivateKey == nil {
		return settlement.Confirmation{}, errors.New("no distributor key configured")
	}
	recipients, err := packDistribution(addresses, amounts)
	if err != nil {
		return settlement.Confirmation{}, err
	}

	receipt, err := c.transact(ctx, c.vault, c.cfg.PrivateKey, methodDistribute, recipients, amounts)
	if err != nil {
		return settlement.Confirmation{}, err
	}
	return settlement.Confirmation{
		TxHash:  receipt.TxHash.Hex(),
		Block:   receipt.BlockNumber.Uint64(),
		GasUsed: receipt.GasUsed,
	}, nil
}

func packDistribution(addresses []string, amounts []*big.Int) ([]common.Address, error) {
	if len(addresses) == 0 {
		return nil, errors.New("empty distribution")
	}
	if len(addresses) != len(amounts) {
		return nil, fmt.Errorf("distribution has %d addresses and %d amounts", len(addresses), len(amounts))
	}
	out := make([]common.Address, len(addresses))
	for i, s := range addresses {
		addr, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		if amounts[i] == nil || amounts[i].Sign() < 0 {
			return nil, fmt.Errorf("invalid amount for %s", s)
		}
		out[i] = addr
	}
	return out, nil
}

// transact signs and sends a contract call, then waits for the receipt. A failed receipt is a
// *RevertError.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, key *ecdsa.PrivateKey, method string, params ...any) (*types.Receipt, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx

	tx, err := contract.Transact(opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	c.log.Info("chain: transaction sent", "method", method, "tx", tx.Hash().Hex(), "from", opts.From.Hex())

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &RevertError{TxHash: receipt.TxHash, Block: receipt.BlockNumber.Uint64()}
	}
	c.log.Info("chain: transaction mined", "method", method, "tx", receipt.TxHash.Hex(), "block", receipt.BlockNumber.Uint64(), "gasUsed", receipt.GasUsed)
	return receipt, nil
}
