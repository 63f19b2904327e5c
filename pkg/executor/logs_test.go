package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/worker-executor/pkg/oplog"
	"github.com/openfroyo/worker-executor/pkg/telemetry"
)

type emitted struct {
	message string
	live    bool
}

func captureLogs(t *testing.T) (*telemetry.EventPublisher, *[]emitted) {
	t.Helper()
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	require.NoError(t, err)

	var logs []emitted
	events.Subscribe(func(e telemetry.Event) {
		logs = append(logs, emitted{message: e.Message, live: e.Data["live"].(bool)})
	}, func(e telemetry.Event) bool {
		return e.Type == telemetry.EventTypeWorkerLog
	})
	return events, &logs
}

func TestLogsSeenDuringReplayAreNotRecordedAgain(t *testing.T) {
	ctx := context.Background()
	events, logs := captureLogs(t)
	exec, _ := newExecutor(t, WithEvents(events))
	readLocal := oplog.WrappedFunctionType{Kind: oplog.ReadLocal}

	w := createWorker(t, exec)
	_, err := Durable(ctx, w, "double", readLocal, 1, double)
	require.NoError(t, err)
	require.NoError(t, w.EmitLog(ctx, oplog.LogLevelInfo, "main", "hello"))
	assert.Equal(t, oplog.Index(3), w.Oplog().CurrentIndex())

	w = reload(t, exec, w)
	_, err = Durable(ctx, w, "double", readLocal, 1, double)
	require.NoError(t, err)
	require.True(t, w.IsLive())

	// The guest writes the same line again after the replayed call.
	require.NoError(t, w.EmitLog(ctx, oplog.LogLevelInfo, "main", "hello"))
	assert.Equal(t, oplog.Index(3), w.Oplog().CurrentIndex())

	// Only the first re-emission is suppressed.
	require.NoError(t, w.EmitLog(ctx, oplog.LogLevelInfo, "main", "hello"))
	require.NoError(t, w.EmitLog(ctx, oplog.LogLevelInfo, "main", "bye"))
	assert.Equal(t, oplog.Index(5), w.Oplog().CurrentIndex())

	assert.Equal(t, []emitted{
		{message: "hello", live: true},
		{message: "hello", live: false},
		{message: "hello", live: true},
		{message: "bye", live: true},
	}, *logs)
}

func TestLogsWhileReplayingArePublishedAsReplayed(t *testing.T) {
	ctx := context.Background()
	events, logs := captureLogs(t)
	exec, _ := newExecutor(t, WithEvents(events))

	w := createWorker(t, exec)
	_, err := Durable(ctx, w, "double", oplog.WrappedFunctionType{Kind: oplog.ReadLocal}, 1, double)
	require.NoError(t, err)

	w = reload(t, exec, w)
	require.True(t, w.Replay().IsReplay())
	require.NoError(t, w.EmitLog(ctx, oplog.LogLevelWarn, "main", "starting"))

	assert.Equal(t, oplog.Index(2), w.Oplog().CurrentIndex())
	assert.Equal(t, []emitted{{message: "starting", live: false}}, *logs)
}

func TestDifferentLevelIsNotSuppressed(t *testing.T) {
	ctx := context.Background()
	exec, _ := newExecutor(t)
	readLocal := oplog.WrappedFunctionType{Kind: oplog.ReadLocal}

	w := createWorker(t, exec)
	_, err := Durable(ctx, w, "double", readLocal, 1, double)
	require.NoError(t, err)
	require.NoError(t, w.EmitLog(ctx, oplog.LogLevelInfo, "main", "hello"))

	w = reload(t, exec, w)
	_, err = Durable(ctx, w, "double", readLocal, 1, double)
	require.NoError(t, err)

	require.NoError(t, w.EmitLog(ctx, oplog.LogLevelError, "main", "hello"))
	assert.Equal(t, oplog.Index(4), w.Oplog().CurrentIndex())
}
