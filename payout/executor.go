package payout

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/clients/ledger"
	"github.com/ethpandaops/zkrelay/utils"
)

var ErrInvalidRecipient = errors.New("invalid recipient")

const (
	ReasonInvalidRecipient    = "invalid recipient"
	ReasonTransactionReverted = "transaction reverted"
	ReasonTransactionFailed   = "transaction failed"
	ReasonLedgerUnreachable   = "ledger unreachable"
	ReasonAmountOverflow      = "amount overflow"
)

type Status uint8

const (
	StatusSent Status = iota + 1
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of a single transfer attempt.
type Result struct {
	Status       Status
	Reason       string
	Receipt      *ledger.Receipt
	TxHash       common.Hash
	AmountNative *big.Int

	// Broadcast is set if a transaction may have reached the ledger.
	Broadcast bool
	Err       error
}

func (r *Result) Sent() bool {
	return r.Status == StatusSent
}

// Executor performs exactly one transfer per Pay call. It does not decide
// whether a payout is due and carries no idempotency key.
type Executor struct {
	ledger ledger.Ledger
	logger logrus.FieldLogger
}

func NewExecutor(l ledger.Ledger, logger logrus.FieldLogger) *Executor {
	return &Executor{
		ledger: l,
		logger: logger,
	}
}

func (e *Executor) Pay(ctx context.Context, recipient string, amountWhole uint64) *Result {
	if !common.IsHexAddress(recipient) {
		return &Result{
			Status: StatusFailed,
			Reason: ReasonInvalidRecipient,
			Err:    ErrInvalidRecipient,
		}
	}
	to := common.HexToAddress(recipient)

	decimals, err := e.ledger.Decimals(ctx)
	if err != nil {
		return &Result{
			Status: StatusFailed,
			Reason: ReasonLedgerUnreachable,
			Err:    err,
		}
	}

	amount, err := utils.ScaleTokenAmount(amountWhole, decimals)
	if err != nil {
		return &Result{
			Status: StatusFailed,
			Reason: ReasonAmountOverflow,
			Err:    err,
		}
	}

	logger := e.logger.WithFields(logrus.Fields{
		"recipient": to.Hex(),
		"amount":    amount.String(),
	})

	receipt, err := e.ledger.Transfer(ctx, to, amount)
	if err != nil {
		result := &Result{
			Status:       StatusFailed,
			Reason:       ReasonTransactionFailed,
			AmountNative: amount,
			Err:          err,
		}

		var transferErr *ledger.TransferError
		if errors.As(err, &transferErr) {
			result.TxHash = transferErr.TxHash
			result.Broadcast = transferErr.Broadcast
		} else {
			result.Broadcast = true
		}

		if errors.Is(err, ledger.ErrUnreachable) {
			result.Reason = ReasonLedgerUnreachable
		}

		logger.WithError(err).Warnf("payout failed: %v", result.Reason)
		return result
	}

	if !receipt.Succeeded() {
		logger.WithField("tx", receipt.TxHash.Hex()).Warn("payout transaction reverted")
		return &Result{
			Status:       StatusFailed,
			Reason:       ReasonTransactionReverted,
			Receipt:      receipt,
			TxHash:       receipt.TxHash,
			AmountNative: amount,
			Broadcast:    true,
		}
	}

	logger.WithField("tx", receipt.TxHash.Hex()).Info("payout sent")
	return &Result{
		Status:       StatusSent,
		Receipt:      receipt,
		TxHash:       receipt.TxHash,
		AmountNative: amount,
		Broadcast:    true,
	}
}
