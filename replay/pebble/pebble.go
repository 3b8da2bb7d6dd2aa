package pebble

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/ethpandaops/zkrelay/replay/types"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

const (
	KeyNamespacePayout uint16 = 1
)

type PebbleEngine struct {
	db *pebble.DB

	// serializes claim read-modify-write cycles
	claimMutex sync.Mutex
}

func NewPebbleEngine(config dtypes.PebbleReplayConfig) (types.JournalEngine, error) {
	cacheSize := config.CacheSize
	if cacheSize == 0 {
		cacheSize = 8
	}
	cache := pebble.NewCache(int64(cacheSize * 1024 * 1024))
	defer cache.Unref()

	db, err := pebble.Open(config.Path, &pebble.Options{
		Cache: cache,
	})
	if err != nil {
		return nil, err
	}

	return &PebbleEngine{
		db: db,
	}, nil
}

func (e *PebbleEngine) Close() error {
	return e.db.Close()
}

func makeKey(fingerprint []byte) []byte {
	key := make([]byte, 2+len(fingerprint))
	binary.BigEndian.PutUint16(key[:2], KeyNamespacePayout)
	copy(key[2:], fingerprint)
	return key
}

func (e *PebbleEngine) Get(_ context.Context, fingerprint []byte) (*types.Record, error) {
	res, closer, err := e.db.Get(makeKey(fingerprint))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return types.DecodeRecord(res)
}

func (e *PebbleEngine) Claim(ctx context.Context, record *types.Record) (bool, error) {
	e.claimMutex.Lock()
	defer e.claimMutex.Unlock()

	existing, err := e.Get(ctx, record.Fingerprint)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	return true, e.put(record)
}

func (e *PebbleEngine) Update(_ context.Context, record *types.Record) error {
	e.claimMutex.Lock()
	defer e.claimMutex.Unlock()

	return e.put(record)
}

func (e *PebbleEngine) Release(_ context.Context, fingerprint []byte) error {
	e.claimMutex.Lock()
	defer e.claimMutex.Unlock()

	return e.db.Delete(makeKey(fingerprint), pebble.Sync)
}

func (e *PebbleEngine) put(record *types.Record) error {
	data, err := types.EncodeRecord(record)
	if err != nil {
		return err
	}
	return e.db.Set(makeKey(record.Fingerprint), data, pebble.Sync)
}
