package types

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("artifact not found")
	ErrIO       = errors.New("artifact i/o error")
)

// ArtifactEngine persists named, opaque artifact blobs.
// Put must replace an existing artifact atomically, Get returns ErrNotFound
// for unknown names.
type ArtifactEngine interface {
	Close() error
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
}
