package groth16

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/prover"
	"github.com/ethpandaops/zkrelay/prover/wasm"
)

const BackendName = "groth16-bn254"

var logger = logrus.StandardLogger().WithField("module", "groth16")

type parametersPayload struct {
	Circuit      []byte `cbor:"1,keyasint"`
	ProvingKey   []byte `cbor:"2,keyasint"`
	VerifyingKey []byte `cbor:"3,keyasint"`
}

type keys struct {
	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey
}

// Backend implements prover.Backend with Groth16 over BN254.
type Backend struct{}

var _ prover.Backend = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string {
	return BackendName
}

func (b *Backend) Setup(ctx context.Context, program *prover.Program) (*prover.PublicParameters, error) {
	if err := program.Bounds.Validate(); err != nil {
		return nil, err
	}
	defer silenceGnark()()

	logger.Infof("compiling circuit for program %v, trace bounds %v", program.Name, program.Bounds)
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, newExecutionCircuit(program.Bounds.Len()))
	if err != nil {
		return nil, fmt.Errorf("could not compile circuit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Infof("running setup for %v constraints", cs.GetNbConstraints())
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	payload := parametersPayload{}
	if payload.Circuit, err = writeBytes(cs); err != nil {
		return nil, fmt.Errorf("could not serialize constraint system: %w", err)
	}
	if payload.ProvingKey, err = writeBytes(pk); err != nil {
		return nil, fmt.Errorf("could not serialize proving key: %w", err)
	}
	if payload.VerifyingKey, err = writeBytes(vk); err != nil {
		return nil, fmt.Errorf("could not serialize verifying key: %w", err)
	}

	data, err := cbor.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("could not encode parameters: %w", err)
	}

	return &prover.PublicParameters{
		Backend:       BackendName,
		ProgramDigest: program.Digest(),
		Bounds:        program.Bounds,
		Data:          data,
	}, nil
}

func (b *Backend) Prove(ctx context.Context, program *prover.Program, params *prover.PublicParameters) (*prover.Proof, *prover.PublicValues, error) {
	if params.Backend != BackendName {
		return nil, nil, fmt.Errorf("%w: %w: parameters for %v", prover.ErrProofGenerationFailed, prover.ErrBackendMismatch, params.Backend)
	}
	if !bytes.Equal(params.ProgramDigest, program.Digest()) {
		return nil, nil, fmt.Errorf("%w: parameters were built for a different program", prover.ErrProofGenerationFailed)
	}
	if params.Bounds != program.Bounds {
		return nil, nil, fmt.Errorf("%w: parameters were built for trace bounds %v, program uses %v", prover.ErrProofGenerationFailed, params.Bounds, program.Bounds)
	}

	k, err := decodeKeys(params)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", prover.ErrProofGenerationFailed, err)
	}

	execCtx, err := wasm.NewExecutionContext(program)
	if err != nil {
		return nil, nil, err
	}
	execution, err := execCtx.Run(ctx)
	if err != nil {
		return nil, nil, err
	}

	capacity := program.Bounds.Len()
	digest := new(big.Int).SetBytes(params.ProgramDigest)
	steps := make([]*big.Int, capacity)
	for i := range steps {
		if i < len(execution.Steps) {
			steps[i] = execution.Steps[i].Value()
		} else {
			steps[i] = new(big.Int)
		}
	}
	length := uint64(len(execution.Steps))

	assignment := newExecutionCircuit(capacity)
	assignment.ProgramDigest = digest
	assignment.Output = new(big.Int).SetUint64(execution.Output)
	assignment.Commitment = traceCommitment(digest, steps, length, execution.Output)
	assignment.Length = new(big.Int).SetUint64(length)
	for i, step := range steps {
		assignment.Steps[i] = step
	}

	defer silenceGnark()()

	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: could not build witness: %v", prover.ErrProofGenerationFailed, err)
	}
	publicWitness, err := fullWitness.Public()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: could not build public witness: %v", prover.ErrProofGenerationFailed, err)
	}

	logger.Debugf("proving %v steps of %v (output %v)", length, execution.TotalSteps, execution.Output)
	proof, err := groth16.Prove(k.cs, k.pk, fullWitness)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", prover.ErrProofGenerationFailed, err)
	}

	proofData, err := writeBytes(proof)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: could not serialize proof: %v", prover.ErrProofGenerationFailed, err)
	}
	valuesData, err := publicWitness.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: could not serialize public values: %v", prover.ErrProofGenerationFailed, err)
	}

	return &prover.Proof{
			Backend: BackendName,
			Data:    proofData,
		}, &prover.PublicValues{
			Backend:       BackendName,
			ProgramDigest: params.ProgramDigest,
			Data:          valuesData,
		}, nil
}

func (b *Backend) Verify(proof *prover.Proof, values *prover.PublicValues, params *prover.PublicParameters) (bool, error) {
	if values.Backend != BackendName || params.Backend != BackendName {
		return false, fmt.Errorf("%w: public values or parameters are not for %v", prover.ErrBackendMismatch, BackendName)
	}
	if !bytes.Equal(values.ProgramDigest, params.ProgramDigest) {
		return false, fmt.Errorf("%w: public values and parameters belong to different programs", prover.ErrBackendMismatch)
	}

	k, err := decodeKeys(params)
	if err != nil {
		return false, err
	}

	groth16Proof, err := decodeProof(proof)
	if err != nil {
		return false, err
	}

	publicWitness, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return false, err
	}
	if err := publicWitness.UnmarshalBinary(values.Data); err != nil {
		return false, fmt.Errorf("could not decode public values: %w", err)
	}

	if err := groth16.Verify(groth16Proof, k.vk, publicWitness); err != nil {
		logger.Debugf("proof rejected: %v", err)
		return false, nil
	}

	return true, nil
}

// Fingerprint hashes the compressed encoding of the decoded proof, so the raw
// point encoding of a paid proof is recognized as the same proof.
func (b *Backend) Fingerprint(proof *prover.Proof) (common.Hash, error) {
	groth16Proof, err := decodeProof(proof)
	if err != nil {
		return common.Hash{}, err
	}

	canonical, err := writeBytes(groth16Proof)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: could not re-encode proof: %v", prover.ErrMalformedProof, err)
	}
	return prover.Fingerprint(BackendName, canonical), nil
}

// decodeProof accepts the compressed and the raw encoding of a proof.
func decodeProof(proof *prover.Proof) (groth16.Proof, error) {
	if proof == nil || len(proof.Data) == 0 {
		return nil, fmt.Errorf("%w: empty proof", prover.ErrMalformedProof)
	}
	if proof.Backend != BackendName {
		return nil, fmt.Errorf("%w: %w: proof for %v", prover.ErrMalformedProof, prover.ErrBackendMismatch, proof.Backend)
	}

	groth16Proof := groth16.NewProof(ecc.BN254)
	n, err := groth16Proof.ReadFrom(bytes.NewReader(proof.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", prover.ErrMalformedProof, err)
	}
	if n != int64(len(proof.Data)) {
		return nil, fmt.Errorf("%w: unexpected trailing data", prover.ErrMalformedProof)
	}
	return groth16Proof, nil
}

func decodeKeys(params *prover.PublicParameters) (*keys, error) {
	decoded, err := params.Decoded(func(data []byte) (any, error) {
		payload := parametersPayload{}
		if err := cbor.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("could not decode parameters: %w", err)
		}

		k := &keys{
			cs: groth16.NewCS(ecc.BN254),
			pk: groth16.NewProvingKey(ecc.BN254),
			vk: groth16.NewVerifyingKey(ecc.BN254),
		}
		if err := readBytes(k.cs, payload.Circuit); err != nil {
			return nil, fmt.Errorf("could not decode constraint system: %w", err)
		}
		if err := readBytes(k.pk, payload.ProvingKey); err != nil {
			return nil, fmt.Errorf("could not decode proving key: %w", err)
		}
		if err := readBytes(k.vk, payload.VerifyingKey); err != nil {
			return nil, fmt.Errorf("could not decode verifying key: %w", err)
		}
		return k, nil
	})
	if err != nil {
		return nil, err
	}

	return decoded.(*keys), nil
}

func writeBytes(w io.WriterTo) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readBytes(r io.ReaderFrom, data []byte) error {
	_, err := r.ReadFrom(bytes.NewReader(data))
	return err
}

// silenceGnark mutes gnark's own logger and returns a function restoring it.
func silenceGnark() func() {
	previous := gnarklogger.Logger()
	gnarklogger.Set(zerolog.New(io.Discard).Level(zerolog.Disabled))
	return func() {
		gnarklogger.Set(previous)
	}
}
