package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/airvault/airdrop/admin/internal/admin"
	"github.com/airvault/airdrop/rewarder/pkg/journal"
	"github.com/airvault/airdrop/utils/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "dotenv file to load before reading the environment")

	// PostgreSQL commands; connection settings come from POSTGRES_* env vars
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run settlement journal migrations using goose")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last settlement journal migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show settlement journal migration status")
	settlementsFlag := flag.Int("settlements", 0, "Print the N most recent settlement passes from the journal")

	// Vault dev helpers
	rpcURLFlag := flag.String("rpc-url", "", "Ethereum JSON-RPC endpoint (or set RPC_URL env var)")
	addressFlag := flag.String("address", "", "AirVault contract address (or set ADDRESS env var)")
	privateKeyFlag := flag.String("private-key", "", "hex key of the depositing account")
	depositFlag := flag.Bool("deposit", false, "Approve and deposit --amount FUD into the vault")
	withdrawFlag := flag.Bool("withdraw", false, "Withdraw --amount FUD from the vault")
	balanceFlag := flag.Bool("balance", false, "Show the account's locked vault balance")
	amountFlag := flag.String("amount", "", "amount in whole FUD, up to 18 decimals (e.g. 10.5)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	if envRPCURL := os.Getenv("RPC_URL"); envRPCURL != "" && *rpcURLFlag == "" {
		*rpcURLFlag = envRPCURL
	}
	if envAddress := os.Getenv("ADDRESS"); envAddress != "" && *addressFlag == "" {
		*addressFlag = envAddress
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgCfg := journal.PostgresConfigFromEnv()

	if *pgMigrateFlag {
		return admin.PgMigrateUp(ctx, log, pgCfg)
	}
	if *pgMigrateDownFlag {
		return admin.PgMigrateDown(ctx, log, pgCfg)
	}
	if *pgMigrateStatusFlag {
		return admin.PgMigrateStatus(ctx, log, pgCfg)
	}
	if *settlementsFlag > 0 {
		return admin.ListSettlements(ctx, log, pgCfg, *settlementsFlag, os.Stdout)
	}

	vaultCfg := admin.VaultConfig{
		RPCURL:     *rpcURLFlag,
		Address:    *addressFlag,
		PrivateKey: *privateKeyFlag,
	}

	if *depositFlag {
		if *amountFlag == "" {
			return fmt.Errorf("--amount is required for --deposit")
		}
		return admin.Deposit(ctx, log, vaultCfg, *amountFlag)
	}
	if *withdrawFlag {
		if *amountFlag == "" {
			return fmt.Errorf("--amount is required for --withdraw")
		}
		return admin.Withdraw(ctx, log, vaultCfg, *amountFlag)
	}
	if *balanceFlag {
		return admin.Balance(ctx, log, vaultCfg)
	}

	flag.Usage()
	return nil
}
