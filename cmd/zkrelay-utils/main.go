package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/zkrelay/prover"
	"github.com/ethpandaops/zkrelay/prover/wasm"
	"github.com/ethpandaops/zkrelay/types"
	"github.com/ethpandaops/zkrelay/utils"
)

var rootCmd = &cobra.Command{
	Use:   "zkrelay-utils",
	Short: "zkrelay operator and prover utilities",
	Long:  "Utilities for the zkrelay payment relay including parameter setup, proving against a relay, ledger inspection and the payout journal",
}

func init() {
	rootCmd.Version = utils.GetBuildVersion()
	rootCmd.PersistentFlags().String("config", "", "Path to the config file, if empty string defaults will be used")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config referenced by the --config flag and sets up logging.
func loadConfig(cmd *cobra.Command) (*types.Config, *utils.LogWriter, *logrus.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg := &types.Config{}
	if err := utils.ReadConfig(cfg, configPath); err != nil {
		return nil, nil, nil, err
	}
	if debug {
		cfg.Logging.OutputLevel = "debug"
	}

	logWriter, logger := utils.InitLogger(cfg)
	return cfg, logWriter, logger, nil
}

func loadProgram(cfg *types.Config) (*prover.Program, error) {
	return wasm.LoadProgram(cfg.Program.Path, cfg.Program.Invoke, cfg.Program.Args, prover.TraceBounds{
		Start: cfg.Program.TraceStart,
		End:   cfg.Program.TraceEnd,
	})
}
