package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	dtypes "github.com/ethpandaops/zkrelay/types"
)

// ConfigFromRelayConfig maps the ledger section of the relay config.
// withOperator controls whether the signing key is handed over.
func ConfigFromRelayConfig(cfg *dtypes.Config, withOperator bool) ERC20Config {
	config := ERC20Config{
		Endpoint:            cfg.Ledger.RpcEndpoint,
		TokenContract:       common.HexToAddress(cfg.Ledger.TokenContract),
		GasLimit:            cfg.Ledger.GasLimit,
		Confirmations:       cfg.Ledger.Confirmations,
		ConfirmationTimeout: cfg.Ledger.ConfirmationTimeout,
		PollInterval:        cfg.Ledger.PollInterval,
		CallTimeout:         cfg.Ledger.CallTimeout,
	}
	if withOperator {
		config.OperatorPrivateKey = cfg.Ledger.OperatorPrivateKey
	}
	return config
}
