package prover

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrProofGenerationFailed = errors.New("proof generation failed")
	ErrTraceBoundExceeded    = errors.New("trace bound exceeded")
	ErrMalformedProof        = errors.New("malformed proof")
	ErrBackendMismatch       = errors.New("proof backend mismatch")
	ErrInvalidBounds         = errors.New("invalid trace bounds")
)

// Backend is the capability boundary of a proof system.
// Implementations must be safe for concurrent Verify calls on shared parameters.
type Backend interface {
	Name() string

	// Setup builds the public parameters for a program and its trace bounds.
	Setup(ctx context.Context, program *Program) (*PublicParameters, error)

	// Prove executes the program and proves the execution against params.
	// Proving is CPU bound and does not observe ctx once the prover started.
	Prove(ctx context.Context, program *Program, params *PublicParameters) (*Proof, *PublicValues, error)

	// Verify returns false if the proof does not verify and an error wrapping
	// ErrMalformedProof if the proof or values cannot be interpreted at all.
	Verify(proof *Proof, values *PublicValues, params *PublicParameters) (bool, error)

	// Fingerprint identifies a proof in the payout journal. Every accepted
	// encoding of the same proof must map to the same fingerprint.
	Fingerprint(proof *Proof) (common.Hash, error)
}

// TraceBounds selects the execution trace slice [Start, End) that is proven.
type TraceBounds struct {
	Start uint64 `yaml:"start"`
	End   uint64 `yaml:"end"`
}

func (b TraceBounds) Len() uint64 {
	if b.End <= b.Start {
		return 0
	}
	return b.End - b.Start
}

func (b TraceBounds) Validate() error {
	if b.End <= b.Start {
		return fmt.Errorf("%w: end %v must be greater than start %v", ErrInvalidBounds, b.End, b.Start)
	}
	return nil
}

func (b TraceBounds) String() string {
	return fmt.Sprintf("[%v, %v)", b.Start, b.End)
}

// Program references the binary to execute and how to invoke it.
type Program struct {
	Name   string
	Binary []byte
	Invoke string
	Args   []uint64
	Bounds TraceBounds
}

func (p *Program) Digest() []byte {
	return ProgramDigest(p.Binary)
}

// ProgramDigest hashes a program binary and reduces it into the scalar field,
// so the digest can be used as a public circuit input.
func ProgramDigest(binary []byte) []byte {
	hash := crypto.Keccak256(binary)
	digest := new(big.Int).SetBytes(hash)
	digest.Mod(digest, scalarFieldModulus)
	return common.LeftPadBytes(digest.Bytes(), 32)
}

// BN254 scalar field modulus, shared by the supported backends.
var scalarFieldModulus, _ = new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)

// PublicParameters is the immutable setup artifact for one program and trace bound.
type PublicParameters struct {
	Backend       string
	ProgramDigest []byte
	Bounds        TraceBounds
	Data          []byte

	decodeMutex sync.Mutex
	decoded     any
}

// Decoded returns the backend specific representation of the parameters,
// decoding it once on first use.
func (p *PublicParameters) Decoded(decode func(data []byte) (any, error)) (any, error) {
	p.decodeMutex.Lock()
	defer p.decodeMutex.Unlock()

	if p.decoded != nil {
		return p.decoded, nil
	}

	decoded, err := decode(p.Data)
	if err != nil {
		return nil, err
	}
	p.decoded = decoded
	return decoded, nil
}

// PublicValues are the public outputs a proof is bound to.
type PublicValues struct {
	Backend       string
	ProgramDigest []byte
	Data          []byte
}

// Proof is the opaque succinct proof artifact.
type Proof struct {
	Backend string
	Data    []byte
}

// Fingerprint hashes the canonical encoding of a proof of the given backend.
func Fingerprint(backend string, canonical []byte) common.Hash {
	return crypto.Keccak256Hash([]byte(backend), canonical)
}
