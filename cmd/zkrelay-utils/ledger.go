package main

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/zkrelay/clients/ledger"
	"github.com/ethpandaops/zkrelay/payout"
	"github.com/ethpandaops/zkrelay/utils"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the payout token and operator account",
}

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Print token decimals and the balance of an address (default: operator)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLedgerBalance,
}

var ledgerTransferCmd = &cobra.Command{
	Use:   "transfer <recipient> <amount>",
	Short: "Transfer whole token units from the operator account",
	Args:  cobra.ExactArgs(2),
	RunE:  runLedgerTransfer,
}

func init() {
	ledgerCmd.AddCommand(ledgerBalanceCmd)
	ledgerCmd.AddCommand(ledgerTransferCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerBalance(cmd *cobra.Command, args []string) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	if err := utils.ValidateLedgerConfig(cfg, false); err != nil {
		return err
	}

	var address common.Address
	switch {
	case len(args) > 0:
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address: %v", args[0])
		}
		address = common.HexToAddress(args[0])
	case common.IsHexAddress(cfg.Ledger.OperatorAddress):
		address = common.HexToAddress(cfg.Ledger.OperatorAddress)
	default:
		return fmt.Errorf("no address given and no operator address configured")
	}

	ctx := cmd.Context()
	client, err := ledger.NewERC20Client(ctx, ledger.ConfigFromRelayConfig(cfg, false), logger.WithField("module", "ledger"))
	if err != nil {
		return err
	}
	defer client.Close()

	decimals, err := client.Decimals(ctx)
	if err != nil {
		return err
	}
	symbol, err := client.Symbol(ctx)
	if err != nil {
		logger.WithError(err).Debug("token has no symbol")
		symbol = cfg.Ledger.TokenSymbol
	}
	balance, err := client.BalanceOf(ctx, address)
	if err != nil {
		return err
	}

	fmt.Printf("token:    %v (chain %v)\n", cfg.Ledger.TokenContract, client.ChainID())
	fmt.Printf("decimals: %v\n", decimals)
	fmt.Printf("address:  %v\n", address.Hex())
	fmt.Printf("balance:  %v (%v native units)\n", utils.FormatTokenAmount(balance, decimals, symbol, int(decimals)), balance)
	return nil
}

func runLedgerTransfer(cmd *cobra.Command, args []string) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	if err := utils.ValidateLedgerConfig(cfg, true); err != nil {
		return err
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %v: %w", args[1], err)
	}

	ctx := cmd.Context()
	client, err := ledger.NewERC20Client(ctx, ledger.ConfigFromRelayConfig(cfg, true), logger.WithField("module", "ledger"))
	if err != nil {
		return err
	}
	defer client.Close()

	result := payout.NewExecutor(client, logger.WithField("module", "payout")).Pay(ctx, args[0], amount)
	if !result.Sent() {
		return fmt.Errorf("transfer failed: %v (%v)", result.Reason, result.Err)
	}

	fmt.Printf("sent %v native units to %v in %v (block %v)\n", result.AmountNative, args[0], result.TxHash.Hex(), result.Receipt.BlockNumber)
	return nil
}
