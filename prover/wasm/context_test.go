package wasm

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/zkrelay/prover"
)

// addModule exports `_start(a, b i64) i64` which calls an internal `add(a, b)`.
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (i64, i64) -> i64
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e,
	// function section: two functions of type 0
	0x03, 0x03, 0x02, 0x00, 0x00,
	// export section: "_start" -> func 1
	0x07, 0x0a, 0x01, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x01,
	// code section
	0x0a, 0x12, 0x02,
	0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b,
	0x08, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x0b,
}

// exitModule exports `_start(code i32)` which calls an internal `seven() i64`
// and then ends through wasi proc_exit(code).
var exitModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (i32) -> (), () -> i64
	0x01, 0x09, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x01, 0x7e,
	// import section: wasi_snapshot_preview1.proc_exit as func 0
	0x02, 0x24, 0x01,
	0x16, 0x77, 0x61, 0x73, 0x69, 0x5f, 0x73, 0x6e, 0x61, 0x70, 0x73, 0x68,
	0x6f, 0x74, 0x5f, 0x70, 0x72, 0x65, 0x76, 0x69, 0x65, 0x77, 0x31,
	0x09, 0x70, 0x72, 0x6f, 0x63, 0x5f, 0x65, 0x78, 0x69, 0x74,
	0x00, 0x00,
	// function section: seven of type 1, _start of type 0
	0x03, 0x03, 0x02, 0x01, 0x00,
	// export section: "_start" -> func 2
	0x07, 0x0a, 0x01, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x02,
	// code section
	0x0a, 0x10, 0x02,
	0x04, 0x00, 0x42, 0x07, 0x0b,
	0x09, 0x00, 0x10, 0x01, 0x1a, 0x20, 0x00, 0x10, 0x00, 0x0b,
}

func newAddProgram(bounds prover.TraceBounds) *prover.Program {
	return &prover.Program{
		Name:   "add",
		Binary: addModule,
		Invoke: DefaultEntryPoint,
		Args:   []uint64{2, 3},
		Bounds: bounds,
	}
}

func TestExecutionContext_Run(t *testing.T) {
	tests := []struct {
		name          string
		bounds        prover.TraceBounds
		expectedSteps []Step
	}{
		{
			name:   "records full trace",
			bounds: prover.TraceBounds{Start: 0, End: 8},
			expectedSteps: []Step{
				{Function: 0, Result: 5},
				{Function: 1, Result: 5},
			},
		},
		{
			name:   "records trace slice only",
			bounds: prover.TraceBounds{Start: 1, End: 8},
			expectedSteps: []Step{
				{Function: 1, Result: 5},
			},
		},
		{
			name:          "trace slice beyond execution is empty",
			bounds:        prover.TraceBounds{Start: 4, End: 8},
			expectedSteps: []Step{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			execCtx, err := NewExecutionContext(newAddProgram(test.bounds))
			require.NoError(t, err)

			execution, err := execCtx.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, uint64(5), execution.Output)
			assert.Equal(t, uint64(2), execution.TotalSteps)
			assert.Equal(t, test.expectedSteps, execution.Steps)
		})
	}
}

func TestExecutionContext_TraceBoundExceeded(t *testing.T) {
	execCtx, err := NewExecutionContext(newAddProgram(prover.TraceBounds{Start: 0, End: 1}))
	require.NoError(t, err)

	_, err = execCtx.Run(context.Background())
	assert.ErrorIs(t, err, prover.ErrProofGenerationFailed)
	assert.ErrorIs(t, err, prover.ErrTraceBoundExceeded)
}

func TestExecutionContext_ProcExit(t *testing.T) {
	newExitProgram := func(code uint64) *prover.Program {
		return &prover.Program{
			Name:   "exit",
			Binary: exitModule,
			Invoke: DefaultEntryPoint,
			Args:   []uint64{code},
			Bounds: prover.TraceBounds{Start: 0, End: 8},
		}
	}

	t.Run("exit code zero completes", func(t *testing.T) {
		execCtx, err := NewExecutionContext(newExitProgram(0))
		require.NoError(t, err)

		execution, err := execCtx.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(0), execution.Output)
		assert.Equal(t, []Step{{Function: 1, Result: 7}}, execution.Steps)
	})

	t.Run("non-zero exit code fails", func(t *testing.T) {
		execCtx, err := NewExecutionContext(newExitProgram(3))
		require.NoError(t, err)

		_, err = execCtx.Run(context.Background())
		assert.ErrorIs(t, err, prover.ErrProofGenerationFailed)
	})
}

func TestExecutionContext_Failures(t *testing.T) {
	t.Run("missing entry point", func(t *testing.T) {
		program := newAddProgram(prover.TraceBounds{Start: 0, End: 8})
		program.Invoke = "main"

		execCtx, err := NewExecutionContext(program)
		require.NoError(t, err)

		_, err = execCtx.Run(context.Background())
		assert.ErrorIs(t, err, prover.ErrProofGenerationFailed)
		assert.ErrorIs(t, err, ErrEntryPointNotFound)
	})

	t.Run("argument count mismatch", func(t *testing.T) {
		program := newAddProgram(prover.TraceBounds{Start: 0, End: 8})
		program.Args = []uint64{1}

		execCtx, err := NewExecutionContext(program)
		require.NoError(t, err)

		_, err = execCtx.Run(context.Background())
		assert.ErrorIs(t, err, prover.ErrProofGenerationFailed)
	})

	t.Run("malformed module", func(t *testing.T) {
		program := newAddProgram(prover.TraceBounds{Start: 0, End: 8})
		program.Binary = []byte("not a wasm module")

		execCtx, err := NewExecutionContext(program)
		require.NoError(t, err)

		_, err = execCtx.Run(context.Background())
		assert.ErrorIs(t, err, prover.ErrProofGenerationFailed)
	})

	t.Run("invalid bounds", func(t *testing.T) {
		_, err := NewExecutionContext(newAddProgram(prover.TraceBounds{Start: 4, End: 4}))
		assert.ErrorIs(t, err, prover.ErrProofGenerationFailed)
		assert.ErrorIs(t, err, prover.ErrInvalidBounds)
	})
}

func TestLoadProgram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "add.wasm")
	require.NoError(t, os.WriteFile(path, addModule, 0o644))

	program, err := LoadProgram(path, "", []uint64{2, 3}, prover.TraceBounds{Start: 0, End: 8})
	require.NoError(t, err)

	assert.Equal(t, "add.wasm", program.Name)
	assert.Equal(t, DefaultEntryPoint, program.Invoke)
	assert.Equal(t, addModule, program.Binary)

	_, err = LoadProgram(filepath.Join(t.TempDir(), "missing.wasm"), "", nil, prover.TraceBounds{End: 1})
	assert.Error(t, err)
}

func TestStep_Value(t *testing.T) {
	step := Step{Function: 1, Result: 5}
	expected := new(big.Int).Lsh(big.NewInt(1), 64)
	expected.Add(expected, big.NewInt(5))

	assert.Equal(t, 0, expected.Cmp(step.Value()))
}
