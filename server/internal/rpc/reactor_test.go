package rpc

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rain-io/rain/server/internal/governors"
	"github.com/rain-io/rain/server/internal/graph"
	"github.com/rain-io/rain/server/internal/scheduler"
	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	assignments chan wire.Assignment
}

func (d *recordingDispatcher) SendAssignment(a wire.Assignment) error {
	d.assignments <- a
	return nil
}
func (d *recordingDispatcher) SendFrame(wire.NodeFrame) error { return nil }

func newTestReactor(t *testing.T) (*Reactor, func()) {
	t.Helper()
	g := graph.New()
	govs := governors.NewRegistry()
	r := NewReactor(zap.NewNop(), g, scheduler.GreedyPolicy{}, govs, nil)
	return r, func() {}
}

func TestSubmitSchedulesOntoJoinedGovernor(t *testing.T) {
	r, _ := newTestReactor(t)
	ctx := testContext(t)
	go r.Run(ctx)

	dispatcher := &recordingDispatcher{assignments: make(chan wire.Assignment, 4)}
	r.GovernorJoined("governor-a:9000", shared.Resources{CPUs: 4}, dispatcher)

	session := r.OpenSession("client-1")
	spec := shared.SessionSpec{
		Objects: []shared.ObjectSpec{{Ordinal: 0, DataType: shared.DataTypeBlob}},
		Tasks: []shared.TaskSpec{
			{Ordinal: 0, TaskType: "echo", Outputs: []shared.TaskOutput{{Object: shared.DataObjectID{Session: session, Ordinal: 0}}}},
		},
	}
	require.NoError(t, r.Submit(session, spec))

	select {
	case a := <-dispatcher.assignments:
		assert.Equal(t, shared.TaskID{Session: session, Ordinal: 0}, a.Task)
	case <-time.After(2 * time.Second):
		t.Fatal("expected task to be dispatched to the joined governor")
	}
}

func TestWaitUnblocksOnTaskFinish(t *testing.T) {
	r, _ := newTestReactor(t)
	ctx := testContext(t)
	go r.Run(ctx)

	dispatcher := &recordingDispatcher{assignments: make(chan wire.Assignment, 4)}
	r.GovernorJoined("governor-a:9000", shared.Resources{CPUs: 4}, dispatcher)

	session := r.OpenSession("client-1")
	taskID := shared.TaskID{Session: session, Ordinal: 0}
	spec := shared.SessionSpec{
		Tasks: []shared.TaskSpec{{Ordinal: 0, TaskType: "echo"}},
	}
	require.NoError(t, r.Submit(session, spec))

	waitDone := make(chan []wire.TaskOutcome, 1)
	go func() {
		waitDone <- r.Wait(session, []shared.TaskID{taskID}, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	r.ReportState(wire.StateReport{
		Governor: "governor-a:9000",
		Updates:  []wire.StateUpdate{{Kind: wire.UpdateTaskFinished, Task: &taskID}},
	})

	select {
	case outcomes := <-waitDone:
		require.Len(t, outcomes, 1)
		assert.Equal(t, taskID, outcomes[0].Task)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not unblock after task finished")
	}
}

func TestTaskFailureCascadesSession(t *testing.T) {
	r, _ := newTestReactor(t)
	ctx := testContext(t)
	go r.Run(ctx)

	dispatcher := &recordingDispatcher{assignments: make(chan wire.Assignment, 4)}
	r.GovernorJoined("governor-a:9000", shared.Resources{CPUs: 4}, dispatcher)

	session := r.OpenSession("client-1")
	failingTask := shared.TaskID{Session: session, Ordinal: 0}
	siblingTask := shared.TaskID{Session: session, Ordinal: 1}
	orphanObject := shared.DataObjectID{Session: session, Ordinal: 0}

	spec := shared.SessionSpec{
		Objects: []shared.ObjectSpec{{Ordinal: 0, DataType: shared.DataTypeBlob}},
		Tasks: []shared.TaskSpec{
			{Ordinal: 0, TaskType: "builtin/run", Outputs: []shared.TaskOutput{{Object: orphanObject}}},
			{Ordinal: 1, TaskType: "builtin/run"},
		},
	}
	require.NoError(t, r.Submit(session, spec))

	for i := 0; i < 2; i++ {
		select {
		case <-dispatcher.assignments:
		case <-time.After(2 * time.Second):
			t.Fatal("expected both tasks to be dispatched")
		}
	}

	r.ReportState(wire.StateReport{
		Governor: "governor-a:9000",
		Updates:  []wire.StateUpdate{{Kind: wire.UpdateTaskFailed, Task: &failingTask, Error: shared.Execution("", "boom")}},
	})

	require.Eventually(t, func() bool {
		sess, ok := r.Graph().Session(session)
		return ok && sess.Failed
	}, 2*time.Second, 10*time.Millisecond)

	sibling, ok := r.Graph().Task(siblingTask)
	require.True(t, ok)
	assert.Equal(t, graph.TaskFailed, sibling.State)

	obj, ok := r.Graph().Object(orphanObject)
	require.True(t, ok)
	assert.Equal(t, graph.ObjectRemoved, obj.State)
}

func TestUnkeepReclaimsFinishedObjectWithNoConsumers(t *testing.T) {
	r, _ := newTestReactor(t)
	ctx := testContext(t)
	go r.Run(ctx)

	session := r.OpenSession("client-1")
	objID := shared.DataObjectID{Session: session, Ordinal: 0}
	spec := shared.SessionSpec{
		Objects: []shared.ObjectSpec{{Ordinal: 0, DataType: shared.DataTypeBlob, Content: []byte("x"), Keep: true}},
	}
	require.NoError(t, r.Submit(session, spec))

	obj, ok := r.Graph().Object(objID)
	require.True(t, ok)
	require.Equal(t, graph.ObjectFinished, obj.State)

	werr := r.Unkeep(session, []shared.DataObjectID{objID})
	require.Nil(t, werr)

	obj, ok = r.Graph().Object(objID)
	require.True(t, ok)
	assert.Equal(t, graph.ObjectRemoved, obj.State)
}
