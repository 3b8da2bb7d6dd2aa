package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethpandaops/zkrelay/prover"
)

var (
	ErrMalformedSubmission = errors.New("malformed submission")
	ErrMalformedResponse   = errors.New("malformed response")
)

// WireVersion is bumped on every incompatible change of the proof blob, so
// mismatched clients fail to decode instead of failing verification.
const WireVersion = 1

type ProofBlob struct {
	Version uint32        `json:"version"`
	Backend string        `json:"backend"`
	Data    hexutil.Bytes `json:"data"`
}

// Submission is a proof together with the account that should receive the payout.
type Submission struct {
	Proof            *prover.Proof
	RecipientAddress string

	// RequestID is assigned by the receiving relay and never sent on the wire.
	RequestID string
}

type submissionWire struct {
	Proof            *ProofBlob `json:"proof"`
	RecipientAddress *string    `json:"recipient_address"`
}

func EncodeSubmission(submission *Submission) ([]byte, error) {
	if submission.Proof == nil {
		return nil, fmt.Errorf("%w: missing proof", ErrMalformedSubmission)
	}

	return json.Marshal(&submissionWire{
		Proof: &ProofBlob{
			Version: WireVersion,
			Backend: submission.Proof.Backend,
			Data:    submission.Proof.Data,
		},
		RecipientAddress: &submission.RecipientAddress,
	})
}

// DecodeSubmission strictly decodes a request body. Unknown fields, trailing
// data, missing fields and unknown wire versions are rejected. The recipient
// is only checked for presence, its format is validated by the payout executor.
func DecodeSubmission(r io.Reader) (*Submission, error) {
	wire := submissionWire{}

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSubmission, err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after submission", ErrMalformedSubmission)
	}

	switch {
	case wire.Proof == nil:
		return nil, fmt.Errorf("%w: missing proof", ErrMalformedSubmission)
	case wire.RecipientAddress == nil:
		return nil, fmt.Errorf("%w: missing recipient_address", ErrMalformedSubmission)
	case wire.Proof.Version != WireVersion:
		return nil, fmt.Errorf("%w: unsupported proof version %v (expected %v)", ErrMalformedSubmission, wire.Proof.Version, WireVersion)
	case wire.Proof.Backend == "":
		return nil, fmt.Errorf("%w: missing proof backend", ErrMalformedSubmission)
	case len(wire.Proof.Data) == 0:
		return nil, fmt.Errorf("%w: empty proof data", ErrMalformedSubmission)
	}

	return &Submission{
		Proof: &prover.Proof{
			Backend: wire.Proof.Backend,
			Data:    wire.Proof.Data,
		},
		RecipientAddress: *wire.RecipientAddress,
	}, nil
}

// VerifyResult is the response to a submission. FailureReason is nil on success.
type VerifyResult struct {
	FailureReason *string `json:"failure_reason"`
	TxHash        string  `json:"tx_hash,omitempty"`
}

func Success(txHash string) *VerifyResult {
	return &VerifyResult{
		TxHash: txHash,
	}
}

func Failure(reason string) *VerifyResult {
	return &VerifyResult{
		FailureReason: &reason,
	}
}

func (r *VerifyResult) Success() bool {
	return r.FailureReason == nil
}

func (r *VerifyResult) Reason() string {
	if r.FailureReason == nil {
		return ""
	}
	return *r.FailureReason
}

func EncodeResponse(result *VerifyResult) ([]byte, error) {
	return json.Marshal(result)
}

func DecodeResponse(data []byte) (*VerifyResult, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	rawReason, ok := fields["failure_reason"]
	if !ok {
		return nil, fmt.Errorf("%w: missing failure_reason", ErrMalformedResponse)
	}

	result := &VerifyResult{}
	if !bytes.Equal(bytes.TrimSpace(rawReason), []byte("null")) {
		reason := ""
		if err := json.Unmarshal(rawReason, &reason); err != nil {
			return nil, fmt.Errorf("%w: failure_reason is not a string", ErrMalformedResponse)
		}
		result.FailureReason = &reason
	}

	if rawHash, ok := fields["tx_hash"]; ok {
		if err := json.Unmarshal(rawHash, &result.TxHash); err != nil {
			return nil, fmt.Errorf("%w: tx_hash is not a string", ErrMalformedResponse)
		}
	}

	return result, nil
}
