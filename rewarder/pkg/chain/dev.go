package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Deposit approves the vault to pull amount of FUD from the key's account when the current
// allowance is short, then deposits amount. Used by the admin tool against dev chains.
func (c *Client) Deposit(ctx context.Context, key *ecdsa.PrivateKey, amount *big.Int) (common.Hash, error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)

	token, err := c.FUDToken(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	fud := bind.NewBoundContract(token, c.erc20ABI, c.backend, c.backend, c.backend)

	allowance, err := c.callUint(ctx, fud, methodAllowance, owner, c.cfg.VaultAddress)
	if err != nil {
		return common.Hash{}, err
	}
	if allowance.Cmp(amount) < 0 {
		if _, err := c.transact(ctx, fud, key, methodApprove, c.cfg.VaultAddress, amount); err != nil {
			return common.Hash{}, fmt.Errorf("failed to approve vault: %w", err)
		}
	}

	receipt, err := c.transact(ctx, c.vault, key, methodDeposit, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// Withdraw withdraws amount of FUD from the vault for the key's account.
func (c *Client) Withdraw(ctx context.Context, key *ecdsa.PrivateKey, amount *big.Int) (common.Hash, error) {
	receipt, err := c.transact(ctx, c.vault, key, methodWithdraw, amount)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// FUDToken returns the address of the token the vault accepts.
func (c *Client) FUDToken(ctx context.Context) (common.Address, error) {
	var out []any
	if err := c.vault.Call(&bind.CallOpts{Context: ctx}, &out, methodFUDToken); err != nil {
		return common.Address{}, fmt.Errorf("failed to call %s: %w", methodFUDToken, err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s result %T", methodFUDToken, out[0])
	}
	return addr, nil
}

// LockedBalance returns the vault's recorded balance for account.
func (c *Client) LockedBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.callUint(ctx, c.vault, methodLockedBalanceOf, account)
}

// TokenBalance returns account's FUD balance.
func (c *Client) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	token, err := c.FUDToken(ctx)
	if err != nil {
		return nil, err
	}
	fud := bind.NewBoundContract(token, c.erc20ABI, c.backend, c.backend, c.backend)
	return c.callUint(ctx, fud, methodBalanceOf, account)
}

func (c *Client) callUint(ctx context.Context, contract *bind.BoundContract, method string, params ...any) (*big.Int, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result %T", method, out[0])
	}
	return v, nil
}
