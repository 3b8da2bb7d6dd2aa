package groth16

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	cryptomimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// executionCircuit binds a recorded trace slice to a public commitment.
// The trace itself stays secret, only the program digest, the program output
// and the commitment over all of them are public.
type executionCircuit struct {
	ProgramDigest frontend.Variable `gnark:",public"`
	Output        frontend.Variable `gnark:",public"`
	Commitment    frontend.Variable `gnark:",public"`

	Steps  []frontend.Variable
	Length frontend.Variable
}

func newExecutionCircuit(capacity uint64) *executionCircuit {
	return &executionCircuit{
		Steps: make([]frontend.Variable, capacity),
	}
}

func (c *executionCircuit) Define(api frontend.API) error {
	api.AssertIsLessOrEqual(c.Length, len(c.Steps))

	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	hasher.Write(c.ProgramDigest)
	hasher.Write(c.Steps...)
	hasher.Write(c.Length, c.Output)
	api.AssertIsEqual(hasher.Sum(), c.Commitment)

	return nil
}

// traceCommitment computes the circuit commitment outside of the circuit.
func traceCommitment(digest *big.Int, steps []*big.Int, length uint64, output uint64) *big.Int {
	hasher := cryptomimc.NewMiMC()

	write := func(value *big.Int) {
		var element fr.Element
		element.SetBigInt(value)
		block := element.Bytes()
		hasher.Write(block[:])
	}

	write(digest)
	for _, step := range steps {
		write(step)
	}
	write(new(big.Int).SetUint64(length))
	write(new(big.Int).SetUint64(output))

	return new(big.Int).SetBytes(hasher.Sum(nil))
}
