package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/db"
	"github.com/ethpandaops/zkrelay/replay/pebble"
	"github.com/ethpandaops/zkrelay/replay/redis"
	"github.com/ethpandaops/zkrelay/replay/sql"
	"github.com/ethpandaops/zkrelay/replay/types"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

var (
	// ErrAlreadyPaid is returned for fingerprints that are claimed, paid or unconfirmed.
	ErrAlreadyPaid = errors.New("already paid")
	// ErrUnavailable wraps engine faults. Callers must not pay when they see it.
	ErrUnavailable = errors.New("payout journal unavailable")
)

// Outcome is the final disposition of a claim.
type Outcome uint8

const (
	// OutcomePaid keeps the fingerprint blocked for good.
	OutcomePaid Outcome = iota + 1
	// OutcomeReleased removes the claim, the proof may be submitted again.
	OutcomeReleased
	// OutcomeUnconfirmed keeps the fingerprint blocked, the transfer may have happened.
	OutcomeUnconfirmed
)

// Journal enforces at most one payout per proof fingerprint.
// A Journal without engine is disabled and accepts everything.
type Journal struct {
	engine types.JournalEngine
	logger logrus.FieldLogger
	now    func() time.Time
}

// Ticket is a granted claim waiting for its outcome.
type Ticket struct {
	record *types.Record
}

func (t *Ticket) RequestID() string {
	if t == nil || t.record == nil {
		return ""
	}
	return t.record.RequestID
}

func NewJournal(engine types.JournalEngine, logger logrus.FieldLogger) *Journal {
	return &Journal{
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
}

// NewJournalFromConfig opens the configured journal engine.
func NewJournalFromConfig(ctx context.Context, config *dtypes.Config, logger logrus.FieldLogger) (*Journal, error) {
	var engine types.JournalEngine
	var err error

	switch config.Replay.Engine {
	case "", "none":
		logger.Warnf("payout journal disabled, identical proofs will be paid repeatedly")
	case "pebble":
		engine, err = pebble.NewPebbleEngine(config.Replay.Pebble)
	case "redis":
		engine, err = redis.NewRedisEngine(ctx, config.Replay.Redis)
	case "sql":
		if err = db.InitDB(&config.Database); err != nil {
			break
		}
		if err = db.ApplyEmbeddedDbSchema(db.SchemaLatest); err != nil {
			db.MustCloseDB()
			break
		}
		engine = sql.NewSqlEngine()
	default:
		err = fmt.Errorf("unknown replay engine: %v", config.Replay.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("could not open payout journal: %w", err)
	}

	if engine != nil {
		logger.Infof("payout journal engine: %v", config.Replay.Engine)
	}
	return NewJournal(engine, logger), nil
}

func (j *Journal) Enabled() bool {
	return j != nil && j.engine != nil
}

func (j *Journal) Close() error {
	if !j.Enabled() {
		return nil
	}
	return j.engine.Close()
}

// Check rejects fingerprints the journal already knows about.
func (j *Journal) Check(ctx context.Context, fingerprint []byte) error {
	if !j.Enabled() {
		return nil
	}

	record, err := j.engine.Get(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if record != nil {
		j.logger.Debugf("fingerprint %x is %v (request %v)", fingerprint, record.State, record.RequestID)
		return ErrAlreadyPaid
	}
	return nil
}

// Claim reserves a fingerprint for one payout attempt.
func (j *Journal) Claim(ctx context.Context, fingerprint []byte, requestID string, recipient string) (*Ticket, error) {
	if !j.Enabled() {
		return &Ticket{}, nil
	}

	now := j.now().Unix()
	record := &types.Record{
		Fingerprint: fingerprint,
		State:       types.StatePending,
		RequestID:   requestID,
		Recipient:   recipient,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	claimed, err := j.engine.Claim(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !claimed {
		return nil, ErrAlreadyPaid
	}
	return &Ticket{record: record}, nil
}

// Resolve records the outcome of a claimed payout.
func (j *Journal) Resolve(ctx context.Context, ticket *Ticket, outcome Outcome, txHash []byte, amount string) error {
	if !j.Enabled() || ticket == nil || ticket.record == nil {
		return nil
	}

	record := *ticket.record
	record.TxHash = txHash
	record.Amount = amount
	record.UpdatedAt = j.now().Unix()

	var err error
	switch outcome {
	case OutcomePaid:
		record.State = types.StatePaid
		err = j.engine.Update(ctx, &record)
	case OutcomeUnconfirmed:
		record.State = types.StateUnconfirmed
		err = j.engine.Update(ctx, &record)
	case OutcomeReleased:
		err = j.engine.Release(ctx, record.Fingerprint)
	default:
		err = fmt.Errorf("unknown outcome %v", outcome)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Lookup returns the journal record of a fingerprint, nil if unknown or disabled.
func (j *Journal) Lookup(ctx context.Context, fingerprint []byte) (*types.Record, error) {
	if !j.Enabled() {
		return nil, nil
	}
	return j.engine.Get(ctx, fingerprint)
}
