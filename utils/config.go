package utils

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/zkrelay/config"
	"github.com/ethpandaops/zkrelay/types"
)

// ReadConfig loads the embedded defaults, the optional config file at path
// and finally the environment on top of each other.
func ReadConfig(cfg *types.Config, path string) error {
	err := yaml.Unmarshal([]byte(config.DefaultConfigYml), cfg)
	if err != nil {
		return fmt.Errorf("error decoding default config: %v", err)
	}

	err = readConfigFile(cfg, path)
	if err != nil {
		return err
	}

	return readConfigEnv(cfg)
}

func readConfigFile(cfg *types.Config, path string) error {
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file %v: %v", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(cfg)
	if err != nil {
		return fmt.Errorf("error decoding config file %v: %v", path, err)
	}

	return nil
}

func readConfigEnv(cfg *types.Config) error {
	return envconfig.Process("", cfg)
}

// ValidateLedgerConfig checks the settings needed to talk to the token contract.
// withOperator additionally requires the operator credentials used for transfers.
func ValidateLedgerConfig(cfg *types.Config, withOperator bool) error {
	var result *multierror.Error

	if cfg.Ledger.RpcEndpoint == "" {
		result = multierror.Append(result, fmt.Errorf("missing ledger rpc endpoint"))
	}
	if !common.IsHexAddress(cfg.Ledger.TokenContract) {
		result = multierror.Append(result, fmt.Errorf("invalid token contract address: %q", cfg.Ledger.TokenContract))
	}

	if withOperator {
		if cfg.Ledger.OperatorPrivateKey == "" {
			result = multierror.Append(result, fmt.Errorf("missing operator private key"))
		}
		if cfg.Ledger.OperatorAddress != "" && !common.IsHexAddress(cfg.Ledger.OperatorAddress) {
			result = multierror.Append(result, fmt.Errorf("invalid operator address: %q", cfg.Ledger.OperatorAddress))
		}
		if cfg.Ledger.GasLimit == 0 {
			result = multierror.Append(result, fmt.Errorf("gas limit must not be zero"))
		}
		if cfg.Ledger.ConfirmationTimeout <= 0 {
			result = multierror.Append(result, fmt.Errorf("confirmation timeout must be positive"))
		}
	}

	return result.ErrorOrNil()
}

// ValidateRelayConfig checks everything the gateway needs before it may serve.
func ValidateRelayConfig(cfg *types.Config) error {
	var result *multierror.Error

	if err := ValidateLedgerConfig(cfg, true); err != nil {
		result = multierror.Append(result, err)
	}
	if cfg.Relay.SendAmount == 0 {
		result = multierror.Append(result, fmt.Errorf("send amount must not be zero"))
	}
	if err := validateArtifactsConfig(cfg); err != nil {
		result = multierror.Append(result, err)
	}

	switch cfg.Replay.Engine {
	case "none", "pebble", "sql":
	case "redis":
		if cfg.Replay.Redis.Addr == "" {
			result = multierror.Append(result, fmt.Errorf("missing redis address for replay journal"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown replay engine: %q", cfg.Replay.Engine))
	}

	return result.ErrorOrNil()
}

// ValidateArtifactsConfig checks the public parameter store settings.
func ValidateArtifactsConfig(cfg *types.Config) error {
	return validateArtifactsConfig(cfg).ErrorOrNil()
}

func validateArtifactsConfig(cfg *types.Config) *multierror.Error {
	var result *multierror.Error

	if cfg.Artifacts.ParametersName == "" || cfg.Artifacts.ValuesName == "" {
		result = multierror.Append(result, fmt.Errorf("missing artifact names"))
	} else if cfg.Artifacts.ParametersName == cfg.Artifacts.ValuesName {
		result = multierror.Append(result, fmt.Errorf("parameters and values must use different artifact names"))
	}

	switch cfg.Artifacts.Engine {
	case "file":
		if cfg.Artifacts.File.Directory == "" {
			result = multierror.Append(result, fmt.Errorf("missing artifacts directory"))
		}
	case "s3":
		if cfg.Artifacts.S3.Endpoint == "" || cfg.Artifacts.S3.Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("missing s3 endpoint or bucket for artifacts"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown artifacts engine: %q", cfg.Artifacts.Engine))
	}

	return result
}
