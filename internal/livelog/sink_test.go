package livelog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

func TestSink_LogAndSnapshot(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	sink := New("sess-1", 50, zap.New(core))

	sink.Log(schemas.LogInfo, "Session started")
	sink.Log(schemas.LogWarn, "Reached maximum turns limit")
	sink.Log(schemas.LogAction, "Click at (720, 450)")

	view := sink.Snapshot()
	assert.Equal(t, "sess-1", view.SessionID)
	assert.Equal(t, schemas.StatusIdle, view.Status)
	require.Len(t, view.Logs, 3)
	assert.Equal(t, schemas.LogWarn, view.Logs[1].Level)

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "sess-1", entries[0].ContextMap()["session_id"])
	assert.Equal(t, "action", entries[2].ContextMap()["kind"])
}

func TestSink_SnapshotKeepsLastLogs(t *testing.T) {
	sink := New("sess-1", 50, zap.NewNop())
	for i := 0; i < 75; i++ {
		sink.Log(schemas.LogInfo, fmt.Sprintf("line %d", i))
	}

	view := sink.Snapshot()
	require.Len(t, view.Logs, SnapshotLogLimit)
	assert.Equal(t, "line 25", view.Logs[0].Message)
	assert.Equal(t, "line 74", view.Logs[SnapshotLogLimit-1].Message)
	assert.Len(t, sink.Logs(), 75)
}

func TestSink_UpdateIsolatesSnapshots(t *testing.T) {
	sink := New("sess-1", 10, zap.NewNop())
	sink.Update(func(v *schemas.LiveView) {
		v.Status = schemas.StatusAwaitingConfirmation
		v.URL = "https://example.com/checkout"
		v.Progress = &schemas.TaskProgress{CompletedTasks: 1, TotalTasks: 3}
		v.Pending = &schemas.PendingConfirmation{
			Actions:     []schemas.Action{{ID: "a1", Type: schemas.ActionClick}},
			Explanation: "Places an order.",
			RequestedAt: time.Now(),
		}
	})

	view := sink.Snapshot()
	view.Progress.CompletedTasks = 99
	view.Pending.Actions[0].ID = "mutated"

	again := sink.Snapshot()
	assert.Equal(t, schemas.StatusAwaitingConfirmation, again.Status)
	assert.Equal(t, 1, again.Progress.CompletedTasks)
	assert.Equal(t, "a1", again.Pending.Actions[0].ID)
	assert.Equal(t, 10, again.MaxTurns)
}

func TestSink_Listeners(t *testing.T) {
	sink := New("sess-1", 10, zap.NewNop())

	var mu sync.Mutex
	var seen []schemas.LiveView
	sink.OnUpdate(func(v schemas.LiveView) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	sink.Update(func(v *schemas.LiveView) { v.Status = schemas.StatusRunning })
	sink.Log(schemas.LogSuccess, "done")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, schemas.StatusRunning, seen[0].Status)
	assert.Empty(t, seen[0].Logs)
	assert.Len(t, seen[1].Logs, 1)
}

func TestSink_ConcurrentAccess(t *testing.T) {
	sink := New("sess-1", 10, zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			sink.Log(schemas.LogInfo, fmt.Sprintf("writer %d", i))
			sink.Update(func(v *schemas.LiveView) { v.Turn = i })
		}(i)
		go func() {
			defer wg.Done()
			_ = sink.Snapshot()
		}()
	}
	wg.Wait()
	assert.Len(t, sink.Logs(), 8)
}
