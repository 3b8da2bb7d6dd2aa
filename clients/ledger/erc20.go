package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

const erc20Abi = `[{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

var tokenAbi abi.ABI

func init() {
	var err error
	tokenAbi, err = abi.JSON(strings.NewReader(erc20Abi))
	if err != nil {
		panic(err)
	}
}

// ethBackend is the part of ethclient.Client the ERC20Client relies on.
type ethBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type ERC20Config struct {
	Endpoint           string
	TokenContract      common.Address
	OperatorPrivateKey string

	GasLimit            uint64
	Confirmations       uint64
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration
	CallTimeout         time.Duration
}

// ERC20Client pays out an ERC-20 token from the operator account.
type ERC20Client struct {
	backend  ethBackend
	config   ERC20Config
	logger   logrus.FieldLogger
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	operator common.Address

	nonceMutex sync.Mutex
	nextNonce  *uint64
}

var _ Ledger = (*ERC20Client)(nil)

// NewERC20Client connects to the ledger rpc endpoint. Without operator key the
// client is read only.
func NewERC20Client(ctx context.Context, config ERC20Config, logger logrus.FieldLogger) (*ERC20Client, error) {
	rpcClient, err := rpc.DialContext(ctx, config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	client, err := newERC20Client(ctx, ethclient.NewClient(rpcClient), config, logger)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}

	return client, nil
}

func newERC20Client(ctx context.Context, backend ethBackend, config ERC20Config, logger logrus.FieldLogger) (*ERC20Client, error) {
	if config.GasLimit == 0 {
		config.GasLimit = 5_000_000
	}
	if config.Confirmations == 0 {
		config.Confirmations = 1
	}
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.ConfirmationTimeout == 0 {
		config.ConfirmationTimeout = 2 * time.Minute
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = 10 * time.Second
	}

	client := &ERC20Client{
		backend: backend,
		config:  config,
		logger:  logger,
	}

	if config.OperatorPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(config.OperatorPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid operator private key: %w", err)
		}
		client.key = key
		client.operator = crypto.PubkeyToAddress(key.PublicKey)
	}

	callCtx, cancel := context.WithTimeout(ctx, config.CallTimeout)
	defer cancel()

	chainID, err := backend.ChainID(callCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not get chain id: %v", ErrUnreachable, err)
	}
	client.chainID = chainID

	return client, nil
}

func (c *ERC20Client) Close() {
	c.backend.Close()
}

func (c *ERC20Client) ChainID() *big.Int {
	return c.chainID
}

// OperatorAddress returns the account derived from the operator key.
func (c *ERC20Client) OperatorAddress() common.Address {
	return c.operator
}

func (c *ERC20Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	callData, err := tokenAbi.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &c.config.TokenContract,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v call failed: %v", ErrUnreachable, method, err)
	}

	values, err := tokenAbi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("could not decode %v result: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("empty %v result", method)
	}

	return values, nil
}

func (c *ERC20Client) Decimals(ctx context.Context) (uint8, error) {
	values, err := c.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}

	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", values[0])
	}
	return decimals, nil
}

func (c *ERC20Client) Symbol(ctx context.Context) (string, error) {
	values, err := c.call(ctx, "symbol")
	if err != nil {
		return "", err
	}

	symbol, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected symbol type %T", values[0])
	}
	return symbol, nil
}

func (c *ERC20Client) BalanceOf(ctx context.Context, address common.Address) (*big.Int, error) {
	values, err := c.call(ctx, "balanceOf", address)
	if err != nil {
		return nil, err
	}

	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", values[0])
	}
	return balance, nil
}

func (c *ERC20Client) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*Receipt, error) {
	if c.key == nil {
		return nil, &TransferError{Err: ErrNoOperator}
	}

	tx, err := c.sendTransfer(ctx, to, amount)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"tx":     tx.Hash().Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
		"nonce":  tx.Nonce(),
	}).Info("sent transfer transaction")

	receipt, err := c.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		return nil, &TransferError{
			TxHash:    tx.Hash(),
			Broadcast: true,
			Err:       err,
		}
	}

	return receipt, nil
}

// sendTransfer builds, signs and submits the transfer. Nonce allocation and
// submission are serialized, the confirmation wait is not.
func (c *ERC20Client) sendTransfer(ctx context.Context, to common.Address, amount *big.Int) (*types.Transaction, error) {
	callData, err := tokenAbi.Pack("transfer", to, amount)
	if err != nil {
		return nil, &TransferError{Err: err}
	}

	c.nonceMutex.Lock()
	defer c.nonceMutex.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	var nonce uint64
	if c.nextNonce != nil {
		nonce = *c.nextNonce
	} else {
		nonce, err = c.backend.PendingNonceAt(callCtx, c.operator)
		if err != nil {
			return nil, &TransferError{Err: fmt.Errorf("%w: could not get nonce: %v", ErrUnreachable, err)}
		}
	}

	tipCap, err := c.backend.SuggestGasTipCap(callCtx)
	if err != nil {
		return nil, &TransferError{Err: fmt.Errorf("%w: could not get gas tip: %v", ErrUnreachable, err)}
	}

	head, err := c.backend.HeaderByNumber(callCtx, nil)
	if err != nil {
		return nil, &TransferError{Err: fmt.Errorf("%w: could not get latest header: %v", ErrUnreachable, err)}
	}

	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx, err := types.SignNewTx(c.key, types.LatestSignerForChainID(c.chainID), &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       c.config.GasLimit,
		To:        &c.config.TokenContract,
		Data:      callData,
	})
	if err != nil {
		return nil, &TransferError{Err: fmt.Errorf("could not sign transaction: %w", err)}
	}

	err = c.backend.SendTransaction(callCtx, tx)
	if err != nil {
		// the next transfer re-reads the nonce from the ledger
		c.nextNonce = nil

		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return nil, &TransferError{
				TxHash: tx.Hash(),
				Err:    fmt.Errorf("%w: %v", ErrTransactionRejected, err),
			}
		}

		return nil, &TransferError{
			TxHash:    tx.Hash(),
			Broadcast: true,
			Err:       fmt.Errorf("%w: %v", ErrUnreachable, err),
		}
	}

	nonce++
	c.nextNonce = &nonce

	return tx, nil
}

var errNotConfirmed = errors.New("transaction not confirmed yet")

func (c *ERC20Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	backoff := retry.WithMaxDuration(c.config.ConfirmationTimeout, retry.NewConstant(c.config.PollInterval))

	var receipt *types.Receipt
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		receipt, err = c.backend.TransactionReceipt(ctx, txHash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				c.logger.WithError(err).Debugf("could not get receipt for %v", txHash.Hex())
			}
			return retry.RetryableError(errNotConfirmed)
		}

		if c.config.Confirmations > 1 {
			head, err := c.backend.BlockNumber(ctx)
			if err != nil {
				return retry.RetryableError(err)
			}
			if receipt.BlockNumber == nil || head+1 < receipt.BlockNumber.Uint64()+c.config.Confirmations {
				return retry.RetryableError(errNotConfirmed)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReceiptTimeout, err)
	}

	result := &Receipt{
		TxHash:  txHash,
		Status:  receipt.Status,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result, nil
}
