package dbtypes

// PayoutState mirrors the payout journal states.
type PayoutState uint8

const (
	PayoutStatePending     PayoutState = 1
	PayoutStatePaid        PayoutState = 2
	PayoutStateUnconfirmed PayoutState = 3
)

type Payout struct {
	Fingerprint []byte      `db:"fingerprint"`
	State       PayoutState `db:"state"`
	RequestID   string      `db:"request_id"`
	Recipient   string      `db:"recipient"`
	TxHash      []byte      `db:"tx_hash"`
	Amount      string      `db:"amount"`
	CreatedAt   int64       `db:"created_at"`
	UpdatedAt   int64       `db:"updated_at"`
}

type PayoutFilter struct {
	State *PayoutState
}
