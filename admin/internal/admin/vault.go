package admin

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/airvault/airdrop/rewarder/pkg/chain"
	"github.com/airvault/airdrop/rewarder/pkg/ledger"
	"github.com/ethereum/go-ethereum/crypto"
)

// VaultConfig holds the connection settings for the dev vault helpers.
type VaultConfig struct {
	RPCURL     string
	Address    string
	PrivateKey string
}

func (cfg VaultConfig) Validate() error {
	if cfg.RPCURL == "" {
		return errors.New("RPC_URL is required")
	}
	if cfg.Address == "" {
		return errors.New("ADDRESS is required")
	}
	if cfg.PrivateKey == "" {
		return errors.New("--private-key is required")
	}
	return nil
}

// Deposit approves and deposits amount (decimal, 18 decimals) of FUD into the vault from the
// configured account.
func Deposit(ctx context.Context, log *slog.Logger, cfg VaultConfig, amount string) error {
	return withVault(ctx, log, cfg, amount, func(client *chain.Client, v vaultCall) error {
		if v.amount.Sign() == 0 {
			return errors.New("amount must be positive")
		}
		tx, err := client.Deposit(ctx, v.key, v.amount)
		if err != nil {
			return fmt.Errorf("failed to deposit: %w", err)
		}
		log.Info("deposited", "account", v.account, "amount", ledger.FormatAmount(v.amount), "tx", tx.Hex())
		return logLockedBalance(ctx, log, client, v)
	})
}

// Withdraw withdraws amount (decimal, 18 decimals) from the vault to the configured account.
func Withdraw(ctx context.Context, log *slog.Logger, cfg VaultConfig, amount string) error {
	return withVault(ctx, log, cfg, amount, func(client *chain.Client, v vaultCall) error {
		if v.amount.Sign() == 0 {
			return errors.New("amount must be positive")
		}
		tx, err := client.Withdraw(ctx, v.key, v.amount)
		if err != nil {
			return fmt.Errorf("failed to withdraw: %w", err)
		}
		log.Info("withdrew", "account", v.account, "amount", ledger.FormatAmount(v.amount), "tx", tx.Hex())
		return logLockedBalance(ctx, log, client, v)
	})
}

// Balance logs the configured account's locked vault balance and FUD balance.
func Balance(ctx context.Context, log *slog.Logger, cfg VaultConfig) error {
	return withVault(ctx, log, cfg, "0", func(client *chain.Client, v vaultCall) error {
		return logLockedBalance(ctx, log, client, v)
	})
}

type vaultCall struct {
	key     *ecdsa.PrivateKey
	account string
	amount  *big.Int
}

func withVault(ctx context.Context, log *slog.Logger, cfg VaultConfig, amount string, fn func(client *chain.Client, v vaultCall) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	value, err := ledger.ParseAmount(amount)
	if err != nil {
		return err
	}
	if value.Sign() < 0 {
		return errors.New("amount must not be negative")
	}
	key, err := chain.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	vault, err := chain.ParseAddress(cfg.Address)
	if err != nil {
		return err
	}

	backend, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	client, err := chain.NewClient(ctx, chain.Config{
		Logger:       log,
		Backend:      backend,
		VaultAddress: vault,
	})
	if err != nil {
		backend.Close()
		return err
	}
	defer client.Close()

	return fn(client, vaultCall{
		key:     key,
		account: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		amount:  value,
	})
}

func logLockedBalance(ctx context.Context, log *slog.Logger, client *chain.Client, v vaultCall) error {
	account := crypto.PubkeyToAddress(v.key.PublicKey)
	locked, err := client.LockedBalance(ctx, account)
	if err != nil {
		return err
	}
	fud, err := client.TokenBalance(ctx, account)
	if err != nil {
		return err
	}
	log.Info("vault balance", "account", v.account, "locked", ledger.FormatAmount(locked), "fud", ledger.FormatAmount(fud))
	return nil
}
