package types

import (
	"context"
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// State is the journal state of a proof fingerprint.
type State uint8

const (
	StatePending     State = 1
	StatePaid        State = 2
	StateUnconfirmed State = 3
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePaid:
		return "paid"
	case StateUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

var ErrCorruptRecord = errors.New("corrupt journal record")

// Record is a single journal entry keyed by proof fingerprint.
type Record struct {
	Fingerprint []byte `cbor:"1,keyasint"`
	State       State  `cbor:"2,keyasint"`
	RequestID   string `cbor:"3,keyasint"`
	Recipient   string `cbor:"4,keyasint"`
	TxHash      []byte `cbor:"5,keyasint,omitempty"`
	Amount      string `cbor:"6,keyasint,omitempty"`
	CreatedAt   int64  `cbor:"7,keyasint"`
	UpdatedAt   int64  `cbor:"8,keyasint"`
}

// JournalEngine stores journal records. Claim must be atomic: of several
// concurrent claims for the same fingerprint exactly one reports true.
type JournalEngine interface {
	Close() error
	Get(ctx context.Context, fingerprint []byte) (*Record, error)
	Claim(ctx context.Context, record *Record) (bool, error)
	Update(ctx context.Context, record *Record) error
	Release(ctx context.Context, fingerprint []byte) error
}

func EncodeRecord(record *Record) ([]byte, error) {
	return cbor.Marshal(record)
}

func DecodeRecord(data []byte) (*Record, error) {
	record := &Record{}
	if err := cbor.Unmarshal(data, record); err != nil {
		return nil, errors.Join(ErrCorruptRecord, err)
	}
	return record, nil
}
