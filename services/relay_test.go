package services

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/zkrelay/clients/ledger"
	"github.com/ethpandaops/zkrelay/codec"
	"github.com/ethpandaops/zkrelay/metrics"
	"github.com/ethpandaops/zkrelay/payout"
	"github.com/ethpandaops/zkrelay/prover"
	"github.com/ethpandaops/zkrelay/replay"
	"github.com/ethpandaops/zkrelay/replay/pebble"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

const testRecipient = "0x000000000000000000000000000000000000dEaD"

var validProofData = []byte("valid-proof")

// rawPrefix marks the alternate encoding of the stub's proofs, the way a
// real backend accepts both compressed and raw curve points.
var rawPrefix = []byte("raw:")

// stubVerifier accepts proofs carrying validProofData in either encoding.
type stubVerifier struct {
	calls    atomic.Int32
	err      error
	panicMsg string
}

func canonicalData(proof *prover.Proof) []byte {
	return bytes.TrimPrefix(proof.Data, rawPrefix)
}

func (v *stubVerifier) Fingerprint(proof *prover.Proof) (common.Hash, error) {
	data := canonicalData(proof)
	if len(data) == 0 {
		return common.Hash{}, prover.ErrMalformedProof
	}
	return prover.Fingerprint("stub", data), nil
}

func (v *stubVerifier) Verify(proof *prover.Proof, _ *prover.PublicValues, _ *prover.PublicParameters) (bool, error) {
	v.calls.Add(1)
	if v.panicMsg != "" {
		panic(v.panicMsg)
	}
	if v.err != nil {
		return false, v.err
	}
	return bytes.Equal(canonicalData(proof), validProofData), nil
}

type transferCall struct {
	to     common.Address
	amount *big.Int
}

// recordingLedger is a token ledger with 6 decimals that records transfers.
type recordingLedger struct {
	mutex       sync.Mutex
	transfers   []transferCall
	status      uint64
	transferErr error
	balanceErr  error
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{status: 1}
}

func (l *recordingLedger) Decimals(context.Context) (uint8, error) {
	return 6, nil
}

func (l *recordingLedger) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	if l.balanceErr != nil {
		return nil, l.balanceErr
	}
	return big.NewInt(1_234_500_000), nil
}

func (l *recordingLedger) Transfer(_ context.Context, to common.Address, amount *big.Int) (*ledger.Receipt, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.transfers = append(l.transfers, transferCall{to: to, amount: new(big.Int).Set(amount)})
	if l.transferErr != nil {
		return nil, l.transferErr
	}
	return &ledger.Receipt{
		TxHash: common.BigToHash(big.NewInt(int64(len(l.transfers)))),
		Status: l.status,
	}, nil
}

func (l *recordingLedger) transferCount() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.transfers)
}

type testRelay struct {
	service  *RelayService
	verifier *stubVerifier
	ledger   *recordingLedger
	journal  *replay.Journal
}

func newTestRelay(t *testing.T, withJournal bool) *testRelay {
	t.Helper()
	logger, _ := test.NewNullLogger()

	var journal *replay.Journal
	if withJournal {
		engine, err := pebble.NewPebbleEngine(dtypes.PebbleReplayConfig{Path: t.TempDir()})
		require.NoError(t, err)
		journal = replay.NewJournal(engine, logger)
		t.Cleanup(func() { journal.Close() })
	}

	verifier := &stubVerifier{}
	l := newRecordingLedger()
	service, err := NewRelayService(
		RelayServiceConfig{SendAmount: 100, TokenSymbol: "USDC", VerifyWorkers: 2},
		&prover.PublicParameters{Backend: "stub"},
		&prover.PublicValues{Backend: "stub"},
		verifier,
		payout.NewExecutor(l, logger),
		l,
		journal,
		logger,
	)
	require.NoError(t, err)
	t.Cleanup(service.Stop)

	return &testRelay{service: service, verifier: verifier, ledger: l, journal: journal}
}

func submission(data []byte, recipient string) *codec.Submission {
	return &codec.Submission{
		Proof:            &prover.Proof{Backend: "stub", Data: data},
		RecipientAddress: recipient,
	}
}

func TestRelayService_ValidProofPaysOnce(t *testing.T) {
	relay := newTestRelay(t, true)

	result := relay.service.Submit(context.Background(), submission(validProofData, testRecipient))
	require.Equal(t, OutcomePaid, result.Outcome)
	assert.True(t, result.Response().Success())
	assert.NotEmpty(t, result.RequestID)

	require.Len(t, relay.ledger.transfers, 1)
	assert.Equal(t, common.HexToAddress(testRecipient), relay.ledger.transfers[0].to)
	assert.Equal(t, big.NewInt(100_000_000), relay.ledger.transfers[0].amount)
}

func TestRelayService_KeepsAssignedRequestID(t *testing.T) {
	relay := newTestRelay(t, false)

	sub := submission(validProofData, testRecipient)
	sub.RequestID = "0b5c3a36-6f3e-4b8e-9a47-2d1f4f6a9e10"
	result := relay.service.Submit(context.Background(), sub)
	assert.Equal(t, sub.RequestID, result.RequestID)
}

func TestRelayService_InvalidProofNeverPays(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		err      error
		panicMsg string
		reason   string
	}{
		{name: "verification failed", data: []byte("forged"), reason: ReasonVerificationFailed},
		{name: "verifier error", data: validProofData, err: prover.ErrMalformedProof, reason: ReasonMalformedProof},
		{name: "verifier panic", data: validProofData, panicMsg: "index out of range", reason: ReasonMalformedProof},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			relay := newTestRelay(t, true)
			relay.verifier.err = test.err
			relay.verifier.panicMsg = test.panicMsg

			result := relay.service.Submit(context.Background(), submission(test.data, testRecipient))
			assert.Equal(t, OutcomeInvalid, result.Outcome)
			assert.Equal(t, test.reason, result.Reason)
			assert.Equal(t, test.reason, result.Response().Reason())
			assert.Equal(t, 0, relay.ledger.transferCount())
			assert.Equal(t, int32(1), relay.verifier.calls.Load())
		})
	}
}

func TestRelayService_PayoutFailures(t *testing.T) {
	tests := []struct {
		name          string
		recipient     string
		status        uint64
		transferErr   error
		reason        string
		expectBlocked bool
	}{
		{
			name:      "reverted transaction",
			recipient: testRecipient,
			status:    0,
			reason:    payout.ReasonTransactionReverted,
		},
		{
			name:      "invalid recipient",
			recipient: "not-an-address",
			status:    1,
			reason:    payout.ReasonInvalidRecipient,
		},
		{
			name:        "ledger unreachable before broadcast",
			recipient:   testRecipient,
			status:      1,
			transferErr: &ledger.TransferError{Err: ledger.ErrUnreachable},
			reason:      payout.ReasonLedgerUnreachable,
		},
		{
			name:          "receipt timeout after broadcast",
			recipient:     testRecipient,
			status:        1,
			transferErr:   &ledger.TransferError{TxHash: common.HexToHash("0x01"), Broadcast: true, Err: ledger.ErrReceiptTimeout},
			reason:        payout.ReasonTransactionFailed,
			expectBlocked: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			relay := newTestRelay(t, true)
			relay.ledger.status = test.status
			relay.ledger.transferErr = test.transferErr

			sub := submission(validProofData, test.recipient)
			result := relay.service.Submit(context.Background(), sub)
			assert.Equal(t, OutcomePayoutFailed, result.Outcome)
			assert.Equal(t, test.reason, result.Reason)
			assert.NotEqual(t, ReasonVerificationFailed, result.Response().Reason())

			fingerprint, err := relay.verifier.Fingerprint(sub.Proof)
			require.NoError(t, err)
			err = relay.journal.Check(context.Background(), fingerprint.Bytes())
			if test.expectBlocked {
				assert.ErrorIs(t, err, replay.ErrAlreadyPaid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRelayService_ReplayRejected(t *testing.T) {
	relay := newTestRelay(t, true)
	ctx := context.Background()

	first := relay.service.Submit(ctx, submission(validProofData, testRecipient))
	require.Equal(t, OutcomePaid, first.Outcome)

	second := relay.service.Submit(ctx, submission(validProofData, testRecipient))
	assert.Equal(t, OutcomeInvalid, second.Outcome)
	assert.Equal(t, ReasonAlreadyPaid, second.Reason)

	// the repeat is rejected before verification
	assert.Equal(t, int32(1), relay.verifier.calls.Load())
	assert.Equal(t, 1, relay.ledger.transferCount())
}

func TestRelayService_ReencodedProofRejected(t *testing.T) {
	relay := newTestRelay(t, true)
	ctx := context.Background()

	first := relay.service.Submit(ctx, submission(validProofData, testRecipient))
	require.Equal(t, OutcomePaid, first.Outcome)

	reencoded := append(append([]byte{}, rawPrefix...), validProofData...)
	second := relay.service.Submit(ctx, submission(reencoded, testRecipient))
	assert.Equal(t, OutcomeInvalid, second.Outcome)
	assert.Equal(t, ReasonAlreadyPaid, second.Reason)

	assert.Equal(t, int32(1), relay.verifier.calls.Load())
	assert.Equal(t, 1, relay.ledger.transferCount())
}

func TestRelayService_UndecodableProofSkipsVerification(t *testing.T) {
	relay := newTestRelay(t, true)

	result := relay.service.Submit(context.Background(), submission(nil, testRecipient))
	assert.Equal(t, OutcomeInvalid, result.Outcome)
	assert.Equal(t, ReasonMalformedProof, result.Reason)
	assert.Equal(t, int32(0), relay.verifier.calls.Load())
	assert.Equal(t, 0, relay.ledger.transferCount())
}

func TestRelayService_ConcurrentIdenticalProofs(t *testing.T) {
	tests := []struct {
		name            string
		withJournal     bool
		expectTransfers int
	}{
		{name: "without journal both are paid", withJournal: false, expectTransfers: 2},
		{name: "with journal only one is paid", withJournal: true, expectTransfers: 1},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			relay := newTestRelay(t, test.withJournal)

			results := make([]*SubmitResult, 2)
			var wg sync.WaitGroup
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = relay.service.Submit(context.Background(), submission(validProofData, testRecipient))
				}(i)
			}
			wg.Wait()

			paid := 0
			for _, result := range results {
				if result.Outcome == OutcomePaid {
					paid++
				} else {
					assert.Equal(t, ReasonAlreadyPaid, result.Reason)
				}
			}
			assert.Equal(t, test.expectTransfers, paid)
			assert.Equal(t, test.expectTransfers, relay.ledger.transferCount())
		})
	}
}

func TestRelayService_Info(t *testing.T) {
	relay := newTestRelay(t, false)

	assert.Equal(t,
		"The reward for sending a valid proof is 100 USDC.\nCurrent balance is 1,234.5 USDC",
		relay.service.Info(context.Background()),
	)

	relay.ledger.balanceErr = errors.New("connection refused")
	assert.Equal(t,
		"The reward for sending a valid proof is 100 USDC.\nCurrent balance is unavailable",
		relay.service.Info(context.Background()),
	)
}

func TestNewRelayService_Validation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	l := newRecordingLedger()

	_, err := NewRelayService(RelayServiceConfig{SendAmount: 1}, nil, &prover.PublicValues{}, &stubVerifier{}, payout.NewExecutor(l, logger), l, nil, logger)
	assert.Error(t, err)

	_, err = NewRelayService(RelayServiceConfig{SendAmount: 1}, &prover.PublicParameters{Backend: "a"}, &prover.PublicValues{Backend: "b"}, &stubVerifier{}, payout.NewExecutor(l, logger), l, nil, logger)
	assert.ErrorIs(t, err, prover.ErrBackendMismatch)

	_, err = NewRelayService(RelayServiceConfig{}, &prover.PublicParameters{}, &prover.PublicValues{}, &stubVerifier{}, payout.NewExecutor(l, logger), l, nil, logger)
	assert.Error(t, err)
}

func TestRelayService_StopUnregistersQueueGauge(t *testing.T) {
	relay := newTestRelay(t, false)
	relay.service.Stop()

	// a stopped relay no longer overwrites the gauge on scrape
	metrics.VerificationQueueSize.Set(42)
	rec := httptest.NewRecorder()
	metrics.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "zkrelay_verification_queue_size 42"))
}
