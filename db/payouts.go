package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ethpandaops/zkrelay/dbtypes"
)

// GetPayout returns the journal row for a proof fingerprint, or nil if there is none.
func GetPayout(ctx context.Context, fingerprint []byte) (*dbtypes.Payout, error) {
	payout := dbtypes.Payout{}
	err := ReaderDb.GetContext(ctx, &payout, `
		SELECT fingerprint, state, request_id, recipient, tx_hash, amount, created_at, updated_at
		FROM payouts
		WHERE fingerprint = $1`, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// InsertPayoutClaim inserts a new journal row unless the fingerprint is already present.
// It reports whether the row was inserted.
func InsertPayoutClaim(ctx context.Context, tx *sqlx.Tx, payout *dbtypes.Payout) (bool, error) {
	res, err := tx.ExecContext(ctx, EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEnginePgsql: `
			INSERT INTO payouts (fingerprint, state, request_id, recipient, tx_hash, amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (fingerprint) DO NOTHING`,
		dbtypes.DBEngineSqlite: `
			INSERT OR IGNORE INTO payouts (fingerprint, state, request_id, recipient, tx_hash, amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	}), payout.Fingerprint, payout.State, payout.RequestID, payout.Recipient, payout.TxHash, payout.Amount, payout.CreatedAt, payout.UpdatedAt)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func UpdatePayout(ctx context.Context, tx *sqlx.Tx, payout *dbtypes.Payout) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payouts
		SET state = $1, tx_hash = $2, amount = $3, updated_at = $4
		WHERE fingerprint = $5`,
		payout.State, payout.TxHash, payout.Amount, payout.UpdatedAt, payout.Fingerprint)
	return err
}

func DeletePayout(ctx context.Context, tx *sqlx.Tx, fingerprint []byte) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM payouts WHERE fingerprint = $1`, fingerprint)
	return err
}

// GetPayouts lists journal rows, newest first.
func GetPayouts(ctx context.Context, filter *dbtypes.PayoutFilter, offset uint64, limit uint32) ([]*dbtypes.Payout, error) {
	var sql strings.Builder
	args := []any{}

	fmt.Fprint(&sql, `
		SELECT fingerprint, state, request_id, recipient, tx_hash, amount, created_at, updated_at
		FROM payouts`)

	if filter != nil && filter.State != nil {
		args = append(args, *filter.State)
		fmt.Fprintf(&sql, " WHERE state = $%v", len(args))
	}

	args = append(args, limit)
	fmt.Fprintf(&sql, " ORDER BY updated_at DESC LIMIT $%v", len(args))
	args = append(args, offset)
	fmt.Fprintf(&sql, " OFFSET $%v", len(args))

	payouts := []*dbtypes.Payout{}
	err := ReaderDb.SelectContext(ctx, &payouts, sql.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error while fetching payouts: %w", err)
	}
	return payouts, nil
}
