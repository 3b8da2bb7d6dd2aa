package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/zkrelay/artifacts/file"
	"github.com/ethpandaops/zkrelay/artifacts/s3"
	"github.com/ethpandaops/zkrelay/artifacts/types"
	"github.com/ethpandaops/zkrelay/prover"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

var (
	ErrNotFound        = types.ErrNotFound
	ErrIO              = types.ErrIO
	ErrCorruptArtifact = errors.New("corrupt artifact")
)

const (
	artifactMagic = "zkrelay-artifact"
	FormatVersion = 1
)

type Kind uint8

const (
	KindParameters Kind = 1
	KindValues     Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindParameters:
		return "parameters"
	case KindValues:
		return "values"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type envelopeBounds struct {
	Start uint64 `cbor:"1,keyasint"`
	End   uint64 `cbor:"2,keyasint"`
}

type envelope struct {
	Magic         string          `cbor:"1,keyasint"`
	Version       uint32          `cbor:"2,keyasint"`
	Kind          Kind            `cbor:"3,keyasint"`
	Backend       string          `cbor:"4,keyasint"`
	ProgramDigest []byte          `cbor:"5,keyasint"`
	Bounds        *envelopeBounds `cbor:"6,keyasint,omitempty"`
	Payload       []byte          `cbor:"7,keyasint"`
}

var envelopeDecMode, _ = cbor.DecOptions{
	ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
}.DecMode()

func encodeEnvelope(env *envelope) ([]byte, error) {
	env.Magic = artifactMagic
	env.Version = FormatVersion
	return cbor.Marshal(env)
}

func decodeEnvelope(data []byte, kind Kind) (*envelope, error) {
	env := &envelope{}
	if err := envelopeDecMode.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if env.Magic != artifactMagic {
		return nil, fmt.Errorf("%w: not a relay artifact", ErrCorruptArtifact)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %v (expected %v)", ErrCorruptArtifact, env.Version, FormatVersion)
	}
	if env.Kind != kind {
		return nil, fmt.Errorf("%w: artifact holds %v, expected %v", ErrCorruptArtifact, env.Kind, kind)
	}
	if env.Backend == "" {
		return nil, fmt.Errorf("%w: missing backend", ErrCorruptArtifact)
	}
	return env, nil
}

func EncodeParameters(params *prover.PublicParameters) ([]byte, error) {
	return encodeEnvelope(&envelope{
		Kind:          KindParameters,
		Backend:       params.Backend,
		ProgramDigest: params.ProgramDigest,
		Bounds: &envelopeBounds{
			Start: params.Bounds.Start,
			End:   params.Bounds.End,
		},
		Payload: params.Data,
	})
}

func DecodeParameters(data []byte) (*prover.PublicParameters, error) {
	env, err := decodeEnvelope(data, KindParameters)
	if err != nil {
		return nil, err
	}
	if env.Bounds == nil {
		return nil, fmt.Errorf("%w: missing trace bounds", ErrCorruptArtifact)
	}

	return &prover.PublicParameters{
		Backend:       env.Backend,
		ProgramDigest: env.ProgramDigest,
		Bounds: prover.TraceBounds{
			Start: env.Bounds.Start,
			End:   env.Bounds.End,
		},
		Data: env.Payload,
	}, nil
}

func EncodeValues(values *prover.PublicValues) ([]byte, error) {
	return encodeEnvelope(&envelope{
		Kind:          KindValues,
		Backend:       values.Backend,
		ProgramDigest: values.ProgramDigest,
		Payload:       values.Data,
	})
}

func DecodeValues(data []byte) (*prover.PublicValues, error) {
	env, err := decodeEnvelope(data, KindValues)
	if err != nil {
		return nil, err
	}

	return &prover.PublicValues{
		Backend:       env.Backend,
		ProgramDigest: env.ProgramDigest,
		Data:          env.Payload,
	}, nil
}

// Store keeps the public parameters and public values as two named artifacts.
type Store struct {
	engine         types.ArtifactEngine
	parametersName string
	valuesName     string
}

func NewStore(engine types.ArtifactEngine, parametersName string, valuesName string) *Store {
	return &Store{
		engine:         engine,
		parametersName: parametersName,
		valuesName:     valuesName,
	}
}

// NewStoreFromConfig opens the artifact engine selected in the config.
func NewStoreFromConfig(config *dtypes.Config) (*Store, error) {
	var engine types.ArtifactEngine
	var err error

	switch config.Artifacts.Engine {
	case "file":
		engine, err = file.NewFileEngine(config.Artifacts.File)
	case "s3":
		engine, err = s3.NewS3Engine(config.Artifacts.S3)
	default:
		err = fmt.Errorf("unknown artifacts engine: %v", config.Artifacts.Engine)
	}
	if err != nil {
		return nil, err
	}

	logrus.WithField("module", "artifacts").Debugf("using %v artifact engine", config.Artifacts.Engine)
	return NewStore(engine, config.Artifacts.ParametersName, config.Artifacts.ValuesName), nil
}

func (s *Store) Close() error {
	return s.engine.Close()
}

func (s *Store) SaveParameters(ctx context.Context, params *prover.PublicParameters) error {
	data, err := EncodeParameters(params)
	if err != nil {
		return fmt.Errorf("%w: could not encode parameters: %v", ErrIO, err)
	}
	return s.engine.Put(ctx, s.parametersName, data)
}

func (s *Store) LoadParameters(ctx context.Context) (*prover.PublicParameters, error) {
	data, err := s.engine.Get(ctx, s.parametersName)
	if err != nil {
		return nil, err
	}

	params, err := DecodeParameters(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", s.parametersName, err)
	}
	return params, nil
}

func (s *Store) SaveValues(ctx context.Context, values *prover.PublicValues) error {
	data, err := EncodeValues(values)
	if err != nil {
		return fmt.Errorf("%w: could not encode values: %v", ErrIO, err)
	}
	return s.engine.Put(ctx, s.valuesName, data)
}

func (s *Store) LoadValues(ctx context.Context) (*prover.PublicValues, error) {
	data, err := s.engine.Get(ctx, s.valuesName)
	if err != nil {
		return nil, err
	}

	values, err := DecodeValues(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", s.valuesName, err)
	}
	return values, nil
}

// LoadAll loads both artifacts and checks that they belong together.
func (s *Store) LoadAll(ctx context.Context) (*prover.PublicParameters, *prover.PublicValues, error) {
	// report both artifacts at once, a fresh deployment usually misses both
	var result *multierror.Error
	params, err := s.LoadParameters(ctx)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("parameters %v: %w", s.parametersName, err))
	}
	values, err := s.LoadValues(ctx)
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("values %v: %w", s.valuesName, err))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, nil, err
	}

	if params.Backend != values.Backend || string(params.ProgramDigest) != string(values.ProgramDigest) {
		return nil, nil, fmt.Errorf("%w: public values do not belong to the public parameters", ErrCorruptArtifact)
	}

	return params, values, nil
}
