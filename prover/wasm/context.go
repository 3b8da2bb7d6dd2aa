package wasm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/ethpandaops/zkrelay/prover"
)

var ErrEntryPointNotFound = errors.New("entry point not found")

// DefaultEntryPoint is invoked when a program does not name an entry point.
const DefaultEntryPoint = "_start"

// Step is a single recorded trace step: the completion of a function call.
type Step struct {
	Function uint32
	Result   uint64
}

// Value encodes the step as a field element: function * 2^64 + result.
func (s Step) Value() *big.Int {
	value := new(big.Int).SetUint64(uint64(s.Function))
	value.Lsh(value, 64)
	return value.Or(value, new(big.Int).SetUint64(s.Result))
}

// Execution is the observable outcome of running a program.
type Execution struct {
	Output     uint64
	Steps      []Step
	TotalSteps uint64
}

// ExecutionContext runs a program with its invocation parameters.
type ExecutionContext struct {
	program *prover.Program
}

// LoadProgram reads a WASM binary from disk and binds the invocation parameters.
func LoadProgram(path string, invoke string, args []uint64, bounds prover.TraceBounds) (*prover.Program, error) {
	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read program %v: %w", path, err)
	}

	if invoke == "" {
		invoke = DefaultEntryPoint
	}

	return &prover.Program{
		Name:   filepath.Base(path),
		Binary: binary,
		Invoke: invoke,
		Args:   args,
		Bounds: bounds,
	}, nil
}

func NewExecutionContext(program *prover.Program) (*ExecutionContext, error) {
	if program == nil || len(program.Binary) == 0 {
		return nil, fmt.Errorf("%w: empty program", prover.ErrProofGenerationFailed)
	}
	if err := program.Bounds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", prover.ErrProofGenerationFailed, err)
	}

	return &ExecutionContext{
		program: program,
	}, nil
}

// Run executes the entry point and records the trace slice selected by the
// program bounds. Execution is aborted once the trace exceeds the upper bound.
func (c *ExecutionContext) Run(ctx context.Context) (*Execution, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recorder := &traceRecorder{
		bounds: c.program.Bounds,
		cancel: cancel,
		steps:  make([]Step, 0, c.program.Bounds.Len()),
	}
	ctx = experimental.WithFunctionListenerFactory(ctx, recorder)

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true))
	defer runtime.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("%w: could not instantiate wasi: %v", prover.ErrProofGenerationFailed, err)
	}

	compiled, err := runtime.CompileModule(ctx, c.program.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid module: %v", prover.ErrProofGenerationFailed, err)
	}

	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(c.program.Name).WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("%w: could not instantiate module: %v", prover.ErrProofGenerationFailed, err)
	}

	invoke := c.program.Invoke
	if invoke == "" {
		invoke = DefaultEntryPoint
	}

	entry := module.ExportedFunction(invoke)
	if entry == nil {
		return nil, fmt.Errorf("%w: %w: %v", prover.ErrProofGenerationFailed, ErrEntryPointNotFound, invoke)
	}
	if paramCount := len(entry.Definition().ParamTypes()); paramCount != len(c.program.Args) {
		return nil, fmt.Errorf("%w: entry point %v expects %v arguments, got %v", prover.ErrProofGenerationFailed, invoke, paramCount, len(c.program.Args))
	}

	results, err := entry.Call(ctx, c.program.Args...)
	if recorder.exceeded {
		return nil, fmt.Errorf("%w: %w: more than %v steps", prover.ErrProofGenerationFailed, prover.ErrTraceBoundExceeded, c.program.Bounds.End)
	}
	if err != nil && !exitedCleanly(err) {
		return nil, fmt.Errorf("%w: execution failed: %v", prover.ErrProofGenerationFailed, err)
	}

	execution := &Execution{
		Steps:      recorder.steps,
		TotalSteps: recorder.count,
	}
	if len(results) > 0 {
		execution.Output = results[0]
	}

	return execution, nil
}

// exitedCleanly reports whether the program ended through proc_exit(0).
func exitedCleanly(err error) bool {
	var exitErr *sys.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 0
}

// traceRecorder is installed as function listener for every function of the
// program. Execution is single threaded, so it needs no locking.
type traceRecorder struct {
	bounds   prover.TraceBounds
	cancel   context.CancelFunc
	count    uint64
	steps    []Step
	exceeded bool
}

func (r *traceRecorder) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return r
}

func (r *traceRecorder) Before(context.Context, api.Module, api.FunctionDefinition, []uint64, experimental.StackIterator) {
}

func (r *traceRecorder) After(_ context.Context, _ api.Module, def api.FunctionDefinition, results []uint64) {
	if r.exceeded {
		return
	}

	index := r.count
	r.count++

	if index >= r.bounds.End {
		r.exceeded = true
		r.cancel()
		return
	}
	if index < r.bounds.Start {
		return
	}

	step := Step{
		Function: def.Index(),
	}
	if len(results) > 0 {
		step.Result = results[0]
	}
	r.steps = append(r.steps, step)
}

func (r *traceRecorder) Abort(context.Context, api.Module, api.FunctionDefinition, error) {
}
