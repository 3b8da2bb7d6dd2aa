package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/zkrelay/artifacts"
	"github.com/ethpandaops/zkrelay/clients/relay"
	"github.com/ethpandaops/zkrelay/prover/groth16"
	"github.com/ethpandaops/zkrelay/types"
)

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Prove the configured program and submit the proof to a relay",
	RunE:  runProve,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the reward and balance of a relay",
	RunE:  runInfo,
}

func init() {
	proveCmd.Flags().String("relay", "", "Relay url (overrides client.relayUrl)")
	proveCmd.Flags().String("recipient", "", "Payout recipient address (overrides client.recipientAddress)")
	infoCmd.Flags().String("relay", "", "Relay url (overrides client.relayUrl)")

	rootCmd.AddCommand(proveCmd)
	rootCmd.AddCommand(infoCmd)
}

func newRelayClient(cmd *cobra.Command, cfg *types.Config, logger logrus.FieldLogger) (*relay.Client, error) {
	relayUrl, _ := cmd.Flags().GetString("relay")
	if relayUrl == "" {
		relayUrl = cfg.Client.RelayUrl
	}
	return relay.NewClient(relayUrl, cfg.Client.Timeout, logger.WithField("module", "client"))
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	client, err := newRelayClient(cmd, cfg, logger)
	if err != nil {
		return err
	}

	info, err := client.Info(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(info)
	return nil
}

func runProve(cmd *cobra.Command, args []string) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	recipient, _ := cmd.Flags().GetString("recipient")
	if recipient == "" {
		recipient = cfg.Client.RecipientAddress
	}
	if recipient == "" {
		return fmt.Errorf("missing recipient address")
	}

	client, err := newRelayClient(cmd, cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	info, err := client.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Println(info)

	program, err := loadProgram(cfg)
	if err != nil {
		return err
	}

	store, err := artifacts.NewStoreFromConfig(cfg)
	if err != nil {
		return err
	}
	params, err := store.LoadParameters(ctx)
	store.Close()
	if err != nil {
		return fmt.Errorf("could not load published parameters: %w", err)
	}

	logger.Infof("proving %v with trace bounds %v", program.Name, program.Bounds)
	result, err := client.ProveAndSubmit(ctx, groth16.NewBackend(), program, params, recipient)

	var rejected *relay.SubmissionRejectedError
	switch {
	case errors.As(err, &rejected):
		fmt.Printf("relay rejected the proof (status %v): %v\n", rejected.Status, rejected.Reason)
		return err
	case err != nil:
		return err
	}

	fmt.Printf("proof accepted, payout transaction %v\n", result.TxHash)
	return nil
}
