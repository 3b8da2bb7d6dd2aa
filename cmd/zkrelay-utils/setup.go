package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/zkrelay/artifacts"
	"github.com/ethpandaops/zkrelay/prover/groth16"
	"github.com/ethpandaops/zkrelay/utils"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate and publish public parameters",
	Long:  "Runs the setup for the configured program and trace bounds, proves one reference execution and saves the public parameters and public values to the artifact store",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, logWriter, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logWriter.Dispose()

	if err := utils.ValidateArtifactsConfig(cfg); err != nil {
		return err
	}

	program, err := loadProgram(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	backend := groth16.NewBackend()

	start := time.Now()
	params, err := backend.Setup(ctx, program)
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	logger.Infof("setup done in %v", time.Since(start).Round(time.Millisecond))

	proof, values, err := backend.Prove(ctx, program, params)
	if err != nil {
		return fmt.Errorf("reference prove failed: %w", err)
	}
	valid, err := backend.Verify(proof, values, params)
	if err != nil || !valid {
		return fmt.Errorf("reference proof does not verify (err: %v)", err)
	}

	store, err := artifacts.NewStoreFromConfig(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveParameters(ctx, params); err != nil {
		return fmt.Errorf("could not save public parameters: %w", err)
	}
	if err := store.SaveValues(ctx, values); err != nil {
		return fmt.Errorf("could not save public values: %w", err)
	}

	logger.WithField("program", program.Name).Infof("saved %v and %v (%v bytes of parameters)", cfg.Artifacts.ParametersName, cfg.Artifacts.ValuesName, len(params.Data))
	return nil
}
