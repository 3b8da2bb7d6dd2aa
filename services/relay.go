package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/clients/ledger"
	"github.com/ethpandaops/zkrelay/codec"
	"github.com/ethpandaops/zkrelay/metrics"
	"github.com/ethpandaops/zkrelay/payout"
	"github.com/ethpandaops/zkrelay/prover"
	"github.com/ethpandaops/zkrelay/replay"
	"github.com/ethpandaops/zkrelay/utils"
)

const (
	ReasonMalformedProof     = "malformed proof"
	ReasonVerificationFailed = "verification failed"
	ReasonAlreadyPaid        = "already paid"
	ReasonJournalUnavailable = "payout journal unavailable"
	ReasonVerificationAbort  = "verification aborted"
)

// Outcome classifies a processed submission. The handler maps it to a status code.
type Outcome uint8

const (
	OutcomePaid Outcome = iota + 1
	OutcomeInvalid
	OutcomePayoutFailed
	OutcomeServerError
)

func (o Outcome) String() string {
	switch o {
	case OutcomePaid:
		return "paid"
	case OutcomeInvalid:
		return "invalid"
	case OutcomePayoutFailed:
		return "payout_failed"
	case OutcomeServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// ProofVerifier checks proofs against the loaded parameters and names them
// for the payout journal.
type ProofVerifier interface {
	Verify(proof *prover.Proof, values *prover.PublicValues, params *prover.PublicParameters) (bool, error)
	Fingerprint(proof *prover.Proof) (common.Hash, error)
}

// Payer performs a single payout.
type Payer interface {
	Pay(ctx context.Context, recipient string, amountWhole uint64) *payout.Result
}

// BalanceReader is the read side of the ledger used by the info text.
type BalanceReader interface {
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, address common.Address) (*big.Int, error)
}

var _ BalanceReader = (ledger.Ledger)(nil)

type RelayServiceConfig struct {
	SendAmount    uint64
	TokenSymbol   string
	PayoutAddress common.Address
	VerifyWorkers int
	InfoTimeout   time.Duration
}

// RelayService verifies submitted proofs and pays valid ones.
// Parameters and values are loaded once and shared read-only by all requests.
type RelayService struct {
	config   RelayServiceConfig
	params   *prover.PublicParameters
	values   *prover.PublicValues
	verifier ProofVerifier
	payer    Payer
	balances BalanceReader
	journal  *replay.Journal
	pool     *workerpool.WorkerPool
	logger   logrus.FieldLogger

	removeQueueGauge func()
}

// SubmitResult is the outcome of one submission.
type SubmitResult struct {
	RequestID string
	Outcome   Outcome
	Reason    string
	TxHash    common.Hash
	Payout    *payout.Result
}

func (r *SubmitResult) Response() *codec.VerifyResult {
	if r.Outcome == OutcomePaid {
		return codec.Success(r.TxHash.Hex())
	}
	return codec.Failure(r.Reason)
}

func NewRelayService(
	config RelayServiceConfig,
	params *prover.PublicParameters,
	values *prover.PublicValues,
	verifier ProofVerifier,
	payer Payer,
	balances BalanceReader,
	journal *replay.Journal,
	logger logrus.FieldLogger,
) (*RelayService, error) {
	if params == nil || values == nil {
		return nil, fmt.Errorf("public parameters and public values are required")
	}
	if params.Backend != values.Backend {
		return nil, fmt.Errorf("%w: parameters for %v, values for %v", prover.ErrBackendMismatch, params.Backend, values.Backend)
	}
	if config.SendAmount == 0 {
		return nil, fmt.Errorf("send amount must be positive")
	}
	if config.VerifyWorkers <= 0 {
		config.VerifyWorkers = runtime.NumCPU()
	}
	if config.InfoTimeout <= 0 {
		config.InfoTimeout = 10 * time.Second
	}

	rs := &RelayService{
		config:   config,
		params:   params,
		values:   values,
		verifier: verifier,
		payer:    payer,
		balances: balances,
		journal:  journal,
		pool:     workerpool.New(config.VerifyWorkers),
		logger:   logger,
	}

	rs.removeQueueGauge = metrics.AddPreCollectFn(func() {
		metrics.VerificationQueueSize.Set(float64(rs.pool.WaitingQueueSize()))
	})

	return rs, nil
}

// Stop waits for running verifications and stops the worker pool.
func (rs *RelayService) Stop() {
	rs.removeQueueGauge()
	rs.pool.StopWait()
}

// Submit runs one submission through replay check, verification and payout.
func (rs *RelayService) Submit(ctx context.Context, submission *codec.Submission) *SubmitResult {
	result := rs.submit(ctx, submission)
	metrics.SubmissionsTotal.WithLabelValues(result.Outcome.String()).Inc()
	return result
}

func (rs *RelayService) submit(ctx context.Context, submission *codec.Submission) *SubmitResult {
	requestID := submission.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := rs.logger.WithField("request", requestID)

	// decoding alone, the fingerprint is known before any pairing check runs
	res := rs.runOnPool(ctx, func() poolResult {
		fingerprint, err := rs.verifier.Fingerprint(submission.Proof)
		return poolResult{fingerprint: fingerprint, err: err}
	})
	if failed := rs.checkProof(res.err, requestID, logger); failed != nil {
		return failed
	}
	fingerprint := res.fingerprint
	logger = logger.WithField("fingerprint", fingerprint.Hex())

	if failed := rs.checkJournal(rs.journal.Check(ctx, fingerprint.Bytes()), requestID, logger); failed != nil {
		return failed
	}

	res = rs.runOnPool(ctx, func() poolResult {
		start := time.Now()
		valid, err := rs.verifier.Verify(submission.Proof, rs.values, rs.params)
		metrics.VerificationDuration.Observe(time.Since(start).Seconds())
		return poolResult{valid: valid, err: err}
	})
	if failed := rs.checkProof(res.err, requestID, logger); failed != nil {
		return failed
	}
	if !res.valid {
		logger.Info("proof did not verify")
		return &SubmitResult{RequestID: requestID, Outcome: OutcomeInvalid, Reason: ReasonVerificationFailed}
	}

	ticket, err := rs.journal.Claim(ctx, fingerprint.Bytes(), requestID, submission.RecipientAddress)
	if failed := rs.checkJournal(err, requestID, logger); failed != nil {
		return failed
	}

	// the transfer must not be abandoned halfway when the caller goes away
	payCtx := context.WithoutCancel(ctx)
	payment := rs.payer.Pay(payCtx, submission.RecipientAddress, rs.config.SendAmount)
	metrics.PayoutsTotal.WithLabelValues(payoutResultLabel(payment)).Inc()

	var txHash []byte
	if payment.TxHash != (common.Hash{}) {
		txHash = payment.TxHash.Bytes()
	}
	amount := ""
	if payment.AmountNative != nil {
		amount = payment.AmountNative.String()
	}
	if err := rs.journal.Resolve(payCtx, ticket, journalOutcome(payment), txHash, amount); err != nil {
		logger.WithError(err).Error("could not record payout outcome")
	}

	if !payment.Sent() {
		return &SubmitResult{
			RequestID: requestID,
			Outcome:   OutcomePayoutFailed,
			Reason:    payment.Reason,
			TxHash:    payment.TxHash,
			Payout:    payment,
		}
	}

	logger.WithField("tx", payment.TxHash.Hex()).Info("paid valid proof")
	return &SubmitResult{
		RequestID: requestID,
		Outcome:   OutcomePaid,
		TxHash:    payment.TxHash,
		Payout:    payment,
	}
}

func (rs *RelayService) checkJournal(err error, requestID string, logger logrus.FieldLogger) *SubmitResult {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, replay.ErrAlreadyPaid):
		metrics.ReplayRejectionsTotal.Inc()
		logger.Info("proof was already paid")
		return &SubmitResult{RequestID: requestID, Outcome: OutcomeInvalid, Reason: ReasonAlreadyPaid}
	default:
		logger.WithError(err).Error("payout journal failure")
		return &SubmitResult{RequestID: requestID, Outcome: OutcomeServerError, Reason: ReasonJournalUnavailable}
	}
}

// checkProof maps a failed fingerprint or verification run to its result.
func (rs *RelayService) checkProof(err error, requestID string, logger logrus.FieldLogger) *SubmitResult {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		logger.WithError(err).Info("verification aborted")
		return &SubmitResult{RequestID: requestID, Outcome: OutcomeServerError, Reason: ReasonVerificationAbort}
	default:
		logger.WithError(err).Info("malformed proof")
		return &SubmitResult{RequestID: requestID, Outcome: OutcomeInvalid, Reason: ReasonMalformedProof}
	}
}

type poolResult struct {
	valid       bool
	fingerprint common.Hash
	err         error
}

// runOnPool runs a proof engine task on the worker pool. Panics inside the
// proof engine are reported as malformed proofs.
func (rs *RelayService) runOnPool(ctx context.Context, task func() poolResult) poolResult {
	resultChan := make(chan poolResult, 1)

	rs.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				rs.logger.Errorf("proof engine panic: %v, stack: %v", r, string(debug.Stack()))
				resultChan <- poolResult{err: fmt.Errorf("%w: proof engine panic: %v", prover.ErrMalformedProof, r)}
			}
		}()

		if ctx.Err() != nil {
			resultChan <- poolResult{err: ctx.Err()}
			return
		}
		resultChan <- task()
	})

	select {
	case res := <-resultChan:
		return res
	case <-ctx.Done():
		return poolResult{err: ctx.Err()}
	}
}

func journalOutcome(payment *payout.Result) replay.Outcome {
	switch {
	case payment.Sent():
		return replay.OutcomePaid
	case !payment.Broadcast, payment.Reason == payout.ReasonTransactionReverted:
		return replay.OutcomeReleased
	default:
		return replay.OutcomeUnconfirmed
	}
}

func payoutResultLabel(payment *payout.Result) string {
	if payment.Sent() {
		return "sent"
	}
	return payment.Reason
}

// Info renders the informational text served on the index route. Ledger
// failures degrade the balance line.
func (rs *RelayService) Info(ctx context.Context) string {
	reward := fmt.Sprintf("The reward for sending a valid proof is %v %v.", utils.FormatAddCommas(rs.config.SendAmount), rs.config.TokenSymbol)

	balance, err := rs.balance(ctx)
	if err != nil {
		rs.logger.WithError(err).Warn("could not query payout balance")
		return reward + "\nCurrent balance is unavailable"
	}
	return reward + "\nCurrent balance is " + balance
}

func (rs *RelayService) balance(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, rs.config.InfoTimeout)
	defer cancel()

	decimals, err := rs.balances.Decimals(ctx)
	if err != nil {
		return "", err
	}
	balance, err := rs.balances.BalanceOf(ctx, rs.config.PayoutAddress)
	if err != nil {
		return "", err
	}
	return utils.FormatTokenAmount(balance, decimals, rs.config.TokenSymbol, int(decimals)), nil
}
