package ledger

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jsonRPCError struct {
	code    int
	message string
}

func (e *jsonRPCError) Error() string  { return e.message }
func (e *jsonRPCError) ErrorCode() int { return e.code }

type fakeBackend struct {
	mutex sync.Mutex

	decimals uint8
	balances map[common.Address]*big.Int

	nonce          uint64
	nonceQueries   int
	sendErr        error
	receiptStatus  uint64
	withholdMining bool
	blockNumber    uint64

	sent []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		decimals:      6,
		balances:      map[common.Address]*big.Int{},
		receiptStatus: types.ReceiptStatusSuccessful,
		blockNumber:   100,
	}
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(11155111), nil
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.blockNumber, nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch {
	case bytes.HasPrefix(msg.Data, tokenAbi.Methods["decimals"].ID):
		return tokenAbi.Methods["decimals"].Outputs.Pack(b.decimals)
	case bytes.HasPrefix(msg.Data, tokenAbi.Methods["symbol"].ID):
		return tokenAbi.Methods["symbol"].Outputs.Pack("USDC")
	case bytes.HasPrefix(msg.Data, tokenAbi.Methods["balanceOf"].ID):
		args, err := tokenAbi.Methods["balanceOf"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		balance := b.balances[args[0].(common.Address)]
		if balance == nil {
			balance = new(big.Int)
		}
		return tokenAbi.Methods["balanceOf"].Outputs.Pack(balance)
	}

	return nil, errors.New("execution reverted")
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.nonceQueries++
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	b.nonce = tx.Nonce() + 1
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.withholdMining {
		return nil, ethereum.NotFound
	}
	for _, tx := range b.sent {
		if tx.Hash() == txHash {
			return &types.Receipt{
				TxHash:      txHash,
				Status:      b.receiptStatus,
				BlockNumber: big.NewInt(int64(b.blockNumber)),
				GasUsed:     51000,
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) Close() {}

var tokenAddress = common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")

func newTestClient(t *testing.T, backend *fakeBackend) *ERC20Client {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	client, err := newERC20Client(context.Background(), backend, ERC20Config{
		TokenContract:       tokenAddress,
		OperatorPrivateKey:  hexutil.Encode(crypto.FromECDSA(key)),
		ConfirmationTimeout: 200 * time.Millisecond,
		PollInterval:        10 * time.Millisecond,
	}, logger)
	require.NoError(t, err)

	return client
}

func TestERC20Client_Reads(t *testing.T) {
	backend := newFakeBackend()
	holder := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	backend.balances[holder] = big.NewInt(250_000_000)

	client := newTestClient(t, backend)
	ctx := context.Background()

	decimals, err := client.Decimals(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), decimals)

	symbol, err := client.Symbol(ctx)
	require.NoError(t, err)
	assert.Equal(t, "USDC", symbol)

	balance, err := client.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(250_000_000), balance)

	assert.Equal(t, big.NewInt(11155111), client.ChainID())
}

func TestERC20Client_Transfer(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	amount := big.NewInt(100_000_000)

	receipt, err := client.Transfer(context.Background(), recipient, amount)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(100), receipt.BlockNumber)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, receipt.TxHash, tx.Hash())
	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(5_000_000), tx.Gas())
	assert.Equal(t, tokenAddress, *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11155111)), tx)
	require.NoError(t, err)
	assert.Equal(t, client.OperatorAddress(), sender)

	args, err := tokenAbi.Methods["transfer"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, recipient, args[0])
	assert.Equal(t, amount, args[1])
}

func TestERC20Client_TransferNonces(t *testing.T) {
	backend := newFakeBackend()
	backend.nonce = 7
	client := newTestClient(t, backend)
	recipient := common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Transfer(context.Background(), recipient, big.NewInt(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, backend.sent, 3)
	nonces := map[uint64]bool{}
	for _, tx := range backend.sent {
		nonces[tx.Nonce()] = true
	}
	assert.Equal(t, map[uint64]bool{7: true, 8: true, 9: true}, nonces)
	assert.Equal(t, 1, backend.nonceQueries)
}

func TestERC20Client_TransferReverted(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptStatus = types.ReceiptStatusFailed
	client := newTestClient(t, backend)

	receipt, err := client.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	require.NoError(t, err)
	assert.False(t, receipt.Succeeded())
}

func TestERC20Client_TransferReceiptTimeout(t *testing.T) {
	backend := newFakeBackend()
	backend.withholdMining = true
	client := newTestClient(t, backend)

	_, err := client.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	assert.ErrorIs(t, err, ErrReceiptTimeout)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.True(t, transferErr.Broadcast)
	assert.NotEqual(t, common.Hash{}, transferErr.TxHash)
}

func TestERC20Client_TransferConfirmations(t *testing.T) {
	backend := newFakeBackend()
	client := newTestClient(t, backend)
	client.config.Confirmations = 3

	// the receipt is mined at the current head but never gets 3 blocks deep
	_, err := client.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	assert.ErrorIs(t, err, ErrReceiptTimeout)
}

func TestERC20Client_TransferSendErrors(t *testing.T) {
	t.Run("rejected by node", func(t *testing.T) {
		backend := newFakeBackend()
		backend.sendErr = &jsonRPCError{code: -32000, message: "insufficient funds for gas * price + value"}
		client := newTestClient(t, backend)

		_, err := client.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
		assert.ErrorIs(t, err, ErrTransactionRejected)

		var transferErr *TransferError
		require.ErrorAs(t, err, &transferErr)
		assert.False(t, transferErr.Broadcast)
	})

	t.Run("transport failure", func(t *testing.T) {
		backend := newFakeBackend()
		backend.sendErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
		client := newTestClient(t, backend)

		_, err := client.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
		assert.ErrorIs(t, err, ErrUnreachable)

		var transferErr *TransferError
		require.ErrorAs(t, err, &transferErr)
		assert.True(t, transferErr.Broadcast)
	})
}

func TestERC20Client_ReadOnly(t *testing.T) {
	logger, _ := test.NewNullLogger()
	client, err := newERC20Client(context.Background(), newFakeBackend(), ERC20Config{TokenContract: tokenAddress}, logger)
	require.NoError(t, err)

	_, err = client.Transfer(context.Background(), common.HexToAddress("0x01"), big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoOperator)
}
