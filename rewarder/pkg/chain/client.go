package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
)

const (
	defaultLogPollInterval = 2 * time.Second
	defaultMaxBlockRange   = 2000
)

// Backend is the subset of an Ethereum JSON-RPC client the vault adapter needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// Dial connects to an Ethereum node over HTTP or websocket.
func Dial(ctx context.Context, rawURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	return client, nil
}

type Config struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	Backend      Backend
	VaultAddress common.Address

	// PrivateKey signs distributions. Read-only clients may leave it nil.
	PrivateKey *ecdsa.PrivateKey

	// ChainID is queried from the backend when nil.
	ChainID *big.Int

	// LogPollInterval and MaxBlockRange apply when the endpoint cannot push log notifications
	// and logs are polled with eth_getLogs instead.
	LogPollInterval time.Duration
	MaxBlockRange   uint64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.VaultAddress == (common.Address{}) {
		return errors.New("vault address is required")
	}
	if cfg.LogPollInterval <= 0 {
		cfg.LogPollInterval = defaultLogPollInterval
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = defaultMaxBlockRange
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Client is the rewarder's view of the AirVault contract: the head block, the deposit and
// withdrawal log stream, and reward distribution.
type Client struct {
	log *slog.Logger
	cfg Config

	backend  Backend
	vaultABI abi.ABI
	erc20ABI abi.ABI
	vault    *bind.BoundContract
	chainID  *big.Int

	depositTopic  common.Hash
	withdrawTopic common.Hash
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	vaultABI, err := parseABI("vault", airVaultABIJSON)
	if err != nil {
		return nil, err
	}
	erc20ABI, err := parseABI("erc20", erc20ABIJSON)
	if err != nil {
		return nil, err
	}

	chainID := cfg.ChainID
	if chainID == nil {
		chainID, err = cfg.Backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
	}

	c := &Client{
		log:           cfg.Logger,
		cfg:           cfg,
		backend:       cfg.Backend,
		vaultABI:      vaultABI,
		erc20ABI:      erc20ABI,
		vault:         bind.NewBoundContract(cfg.VaultAddress, vaultABI, cfg.Backend, cfg.Backend, cfg.Backend),
		chainID:       chainID,
		depositTopic:  vaultABI.Events[eventDeposit].ID,
		withdrawTopic: vaultABI.Events[eventWithdraw].ID,
	}
	return c, nil
}

func (c *Client) Close() {
	c.backend.Close()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return n, nil
}

// Distributor returns the address that signs distributions, if a key is configured.
func (c *Client) Distributor() (common.Address, bool) {
	if c.cfg.PrivateKey == nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(c.cfg.PrivateKey.PublicKey), true
}

// ParsePrivateKey parses a hex-encoded secp256k1 key, with or without a 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// ParseAddress parses a hex address and rejects malformed input.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
