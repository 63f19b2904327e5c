package executor

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

var writeRemote = oplog.WrappedFunctionType{Kind: oplog.WriteRemote}

func kinds(t *testing.T, w *Worker) []oplog.Kind {
	t.Helper()
	entries, err := w.Oplog().Read(context.Background(), oplog.Initial, 100)
	require.NoError(t, err)
	out := make([]oplog.Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Entry.Kind()
	}
	return out
}

func TestRemoteWriteIsNotBracketedWhenIdempotent(t *testing.T) {
	ctx := context.Background()
	exec, _ := newExecutor(t)

	w := createWorker(t, exec)
	_, err := Durable(ctx, w, "http.post", writeRemote, "body", double2)
	require.NoError(t, err)
	require.NoError(t, w.Oplog().Commit(ctx))

	assert.Equal(t, []oplog.Kind{oplog.KindCreate, oplog.KindImportedFunctionInvoked}, kinds(t, w))
}

func TestCompletedRemoteWriteIsReplayed(t *testing.T) {
	ctx := context.Background()
	exec, _ := newExecutor(t, WithAssumeIdempotence(false))

	calls := 0
	post := func(_ context.Context, body string) (int, error) {
		calls++
		return len(body), nil
	}

	w := createWorker(t, exec)
	_, err := Durable(ctx, w, "http.post", writeRemote, "body", post)
	require.NoError(t, err)
	require.NoError(t, w.Oplog().Commit(ctx))
	assert.Equal(t, []oplog.Kind{
		oplog.KindCreate,
		oplog.KindBeginRemoteWrite,
		oplog.KindImportedFunctionInvoked,
		oplog.KindEndRemoteWrite,
	}, kinds(t, w))

	w = reload(t, exec, w)
	got, err := Durable(ctx, w, "http.post", writeRemote, "body", post)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, 1, calls)
	assert.True(t, w.IsLive())
}

func TestIncompleteRemoteWriteFailsWithoutIdempotence(t *testing.T) {
	ctx := context.Background()
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	require.NoError(t, err)
	var published []string
	events.Subscribe(func(e telemetry.Event) { published = append(published, e.Type) }, nil)

	exec, _ := newExecutor(t, WithAssumeIdempotence(false), WithEvents(events))

	w := createWorker(t, exec)
	_, err = w.BeginFunction(ctx, writeRemote)
	require.NoError(t, err)
	// The worker stops before the write completes.

	w = reload(t, exec, w)
	calls := 0
	_, err = Durable(ctx, w, "http.post", writeRemote, "body", func(context.Context, string) (int, error) {
		calls++
		return 0, nil
	})
	require.Error(t, err)
	assert.Zero(t, calls)
	assert.True(t, IsPermanent(err))
	assert.True(t, w.IsLive())

	var execErr *ExecutorError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ErrCodeIncompleteWrite, execErr.Code)
	assert.Contains(t, published, telemetry.EventTypeIncompleteWrite)
}

func TestIncompleteBatchedWriteIsRetried(t *testing.T) {
	ctx := context.Background()
	exec, svc := newExecutor(t)

	attempts := 0
	put := func(_ context.Context, key string) (string, error) {
		attempts++
		return key + "@" + strconv.Itoa(attempts), nil
	}

	// First attempt: the batch is opened and one write is recorded, then
	// the worker stops before closing the batch.
	w := createWorker(t, exec)
	begin, err := w.BeginFunction(ctx, oplog.Batched(nil))
	require.NoError(t, err)
	assert.Equal(t, oplog.Index(2), begin)
	_, err = Durable(ctx, w, "db.put", oplog.Batched(&begin), "k", put)
	require.NoError(t, err)

	// Second attempt: the open batch cannot be replayed, so the write after
	// it is dropped and executed again.
	w = reload(t, exec, w)
	begin, err = w.BeginFunction(ctx, oplog.Batched(nil))
	require.NoError(t, err)
	assert.Equal(t, oplog.Index(2), begin)
	assert.True(t, w.IsLive())
	assert.Equal(t, "[<3..=4>]", w.Replay().DeletedRegions().String())

	got, err := Durable(ctx, w, "db.put", oplog.Batched(&begin), "k", put)
	require.NoError(t, err)
	assert.Equal(t, "k@2", got)
	require.NoError(t, w.EndFunction(ctx, oplog.Batched(nil), begin))

	// Third run replays the retried write.
	w = reload(t, exec, w)
	assert.Equal(t, "[<3..=4>]", w.Metadata().DeletedRegions.String())

	begin, err = w.BeginFunction(ctx, oplog.Batched(nil))
	require.NoError(t, err)
	assert.Equal(t, oplog.Index(2), begin)
	got, err = Durable(ctx, w, "db.put", oplog.Batched(&begin), "k", put)
	require.NoError(t, err)
	assert.Equal(t, "k@2", got)
	require.NoError(t, w.EndFunction(ctx, oplog.Batched(nil), begin))

	assert.Equal(t, 2, attempts)
	assert.True(t, w.IsLive())

	last, err := svc.GetLastIndex(ctx, w.ID())
	require.NoError(t, err)
	assert.Equal(t, oplog.Index(6), last)
}

func double2(_ context.Context, s string) (int, error) {
	return 2 * len(s), nil
}
