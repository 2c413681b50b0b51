package chain

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	eventDeposit  = "AirVault__Deposit"
	eventWithdraw = "AirVault__Withdraw"

	methodDistribute      = "distributeWinTokens"
	methodDeposit         = "deposit"
	methodWithdraw        = "withdraw"
	methodFUDToken        = "fudToken"
	methodLockedBalanceOf = "lockedBalanceOf"

	methodAllowance = "allowance"
	methodApprove   = "approve"
	methodBalanceOf = "balanceOf"
)

var (
	//go:embed abi/AirVault.json
	airVaultABIJSON string

	//go:embed abi/ERC20.json
	erc20ABIJSON string
)

func parseABI(name, raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse %s abi: %w", name, err)
	}
	return parsed, nil
}
