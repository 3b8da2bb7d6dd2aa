package sql

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ethpandaops/zkrelay/db"
	"github.com/ethpandaops/zkrelay/dbtypes"
	"github.com/ethpandaops/zkrelay/replay/types"
)

// SqlEngine keeps the journal in the payouts table of the relay database.
// The database must be initialized before the engine is used, closing the
// engine closes the database.
type SqlEngine struct{}

func NewSqlEngine() types.JournalEngine {
	return &SqlEngine{}
}

func (e *SqlEngine) Close() error {
	db.MustCloseDB()
	return nil
}

func (e *SqlEngine) Get(ctx context.Context, fingerprint []byte) (*types.Record, error) {
	payout, err := db.GetPayout(ctx, fingerprint)
	if err != nil || payout == nil {
		return nil, err
	}
	return &types.Record{
		Fingerprint: payout.Fingerprint,
		State:       types.State(payout.State),
		RequestID:   payout.RequestID,
		Recipient:   payout.Recipient,
		TxHash:      payout.TxHash,
		Amount:      payout.Amount,
		CreatedAt:   payout.CreatedAt,
		UpdatedAt:   payout.UpdatedAt,
	}, nil
}

func (e *SqlEngine) Claim(ctx context.Context, record *types.Record) (bool, error) {
	var claimed bool
	err := db.RunDBTransaction(func(tx *sqlx.Tx) (err error) {
		claimed, err = db.InsertPayoutClaim(ctx, tx, toPayout(record))
		return err
	})
	return claimed, err
}

func (e *SqlEngine) Update(ctx context.Context, record *types.Record) error {
	return db.RunDBTransaction(func(tx *sqlx.Tx) error {
		return db.UpdatePayout(ctx, tx, toPayout(record))
	})
}

func (e *SqlEngine) Release(ctx context.Context, fingerprint []byte) error {
	return db.RunDBTransaction(func(tx *sqlx.Tx) error {
		return db.DeletePayout(ctx, tx, fingerprint)
	})
}

func toPayout(record *types.Record) *dbtypes.Payout {
	return &dbtypes.Payout{
		Fingerprint: record.Fingerprint,
		State:       dbtypes.PayoutState(record.State),
		RequestID:   record.RequestID,
		Recipient:   record.Recipient,
		TxHash:      record.TxHash,
		Amount:      record.Amount,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}
