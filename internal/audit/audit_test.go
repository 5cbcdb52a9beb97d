package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lazypower/confidant/internal/store"
)

func testLog(t *testing.T) (*Log, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil), db
}

func TestRecordAndQuery(t *testing.T) {
	l, _ := testLog(t)
	ctx := context.Background()
	l.SetClock(func() time.Time { return time.UnixMilli(42) })

	l.Record(ctx, MemoryAppend, "+1", Fields{"tag": "general"})
	l.Record(ctx, SearchScoped, "+2", Fields{"scope": "self", "hits": 0})
	l.Record(ctx, AccessVerifyFailed, "+1", nil)

	recs, err := l.Query(ctx, "+1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, AccessVerifyFailed, recs[0].EventType)
	assert.Equal(t, MemoryAppend, recs[1].EventType)
	assert.Equal(t, int64(42), recs[1].TS)
	assert.Equal(t, "general", recs[1].Fields["tag"])

	broken, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.Zero(t, broken)
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	l, _ := testLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l.Record(ctx, SearchDenied, "+1", Fields{"scope": "tenant"})

	recs, err := l.Query(context.Background(), "+1", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecordSwallowsWriteFailure(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	l := New(db, zap.New(core))
	db.Close()

	assert.NotPanics(t, func() {
		l.Record(context.Background(), MemoryAppend, "+1", nil)
	})
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "audit write failed", entry.Message)
	assert.Equal(t, MemoryAppend, entry.ContextMap()["event"])
}
