package pebble

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/zkrelay/replay/types"
	dtypes "github.com/ethpandaops/zkrelay/types"
)

func newTestEngine(t *testing.T) types.JournalEngine {
	t.Helper()
	engine, err := NewPebbleEngine(dtypes.PebbleReplayConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestPebbleEngine_Lifecycle(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	fingerprint := []byte{0xde, 0xad}

	record, err := engine.Get(ctx, fingerprint)
	require.NoError(t, err)
	assert.Nil(t, record)

	claimed, err := engine.Claim(ctx, &types.Record{Fingerprint: fingerprint, State: types.StatePending, RequestID: "a"})
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = engine.Claim(ctx, &types.Record{Fingerprint: fingerprint, State: types.StatePending, RequestID: "b"})
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, engine.Update(ctx, &types.Record{Fingerprint: fingerprint, State: types.StatePaid, RequestID: "a", TxHash: []byte{0x01}}))

	record, err = engine.Get(ctx, fingerprint)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, types.StatePaid, record.State)
	assert.Equal(t, "a", record.RequestID)
	assert.Equal(t, []byte{0x01}, record.TxHash)

	require.NoError(t, engine.Release(ctx, fingerprint))
	record, err = engine.Get(ctx, fingerprint)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestPebbleEngine_ConcurrentClaims(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := engine.Claim(ctx, &types.Record{Fingerprint: []byte{0x42}, State: types.StatePending})
			assert.NoError(t, err)
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
