package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrUnreachable         = errors.New("ledger unreachable")
	ErrReceiptTimeout      = errors.New("timeout waiting for transaction receipt")
	ErrTransactionRejected = errors.New("transaction rejected by ledger")
	ErrNoOperator          = errors.New("no operator key configured")
)

// Ledger is the token ledger the relay pays out from.
type Ledger interface {
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, address common.Address) (*big.Int, error)

	// Transfer sends amount native token units to the recipient and waits for
	// the confirmation of the transfer. Failures are returned as *TransferError.
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*Receipt, error)
}

// Receipt is the confirmation record of a transfer transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

func (r *Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// TransferError describes a failed transfer. Broadcast is set when the signed
// transaction may have reached the ledger, so it may still be included.
type TransferError struct {
	TxHash    common.Hash
	Broadcast bool
	Err       error
}

func (e *TransferError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("transfer %v failed: %v", e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("transfer failed: %v", e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
