package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethpandaops/zkrelay/artifacts/types"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

type FileEngine struct {
	directory string
}

func NewFileEngine(config dtypes.FileArtifactsConfig) (types.ArtifactEngine, error) {
	if config.Directory == "" {
		return nil, fmt.Errorf("missing artifacts directory")
	}

	return &FileEngine{
		directory: config.Directory,
	}, nil
}

func (e *FileEngine) Close() error {
	return nil
}

func (e *FileEngine) path(name string) string {
	return filepath.Join(e.directory, filepath.FromSlash(name))
}

func (e *FileEngine) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(e.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %v", types.ErrNotFound, e.path(name))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrIO, err)
	}

	return data, nil
}

// Put writes the artifact to a temporary file next to the target and renames
// it into place once it is synced, so readers never see a partial artifact.
func (e *FileEngine) Put(_ context.Context, name string, data []byte) error {
	target := e.path(name)
	directory := filepath.Dir(target)

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("%w: could not create directory: %v", types.ErrIO, err)
	}

	tmpFile, err := os.CreateTemp(directory, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: could not create temporary file: %v", types.ErrIO, err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("%w: could not write artifact: %v", types.ErrIO, err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("%w: could not sync artifact: %v", types.ErrIO, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: could not close artifact: %v", types.ErrIO, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("%w: could not set artifact permissions: %v", types.ErrIO, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("%w: could not move artifact into place: %v", types.ErrIO, err)
	}

	success = true
	return nil
}
