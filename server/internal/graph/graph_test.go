package graph

import (
	"testing"

	"github.com/rain-io/rain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAdmitsSimpleChain(t *testing.T) {
	g := New()
	session := g.OpenSession("client-1")

	spec := shared.SessionSpec{
		Objects: []shared.ObjectSpec{
			{Ordinal: 0, DataType: shared.DataTypeBlob, Content: []byte("hello")},
			{Ordinal: 1, DataType: shared.DataTypeBlob},
		},
		Tasks: []shared.TaskSpec{
			{
				Ordinal:  0,
				TaskType: "builtin/concat",
				Inputs:   []shared.TaskInput{{Object: shared.DataObjectID{Session: session, Ordinal: 0}}},
				Outputs:  []shared.TaskOutput{{Object: shared.DataObjectID{Session: session, Ordinal: 1}}},
			},
		},
	}

	require.NoError(t, g.Submit(session, spec))
	require.NoError(t, g.CheckConsistency())

	task, ok := g.Task(shared.TaskID{Session: session, Ordinal: 0})
	require.True(t, ok)
	assert.Equal(t, TaskReady, task.State, "input object is already finished so the task should be immediately ready")
}

func TestSubmitRejectsUnknownReference(t *testing.T) {
	g := New()
	session := g.OpenSession("client-1")

	spec := shared.SessionSpec{
		Tasks: []shared.TaskSpec{
			{
				Ordinal:  0,
				TaskType: "builtin/concat",
				Inputs:   []shared.TaskInput{{Object: shared.DataObjectID{Session: session, Ordinal: 99}}},
			},
		},
	}

	err := g.Submit(session, spec)
	require.Error(t, err)
	assert.Empty(t, g.Tasks(), "rejected submission must not add anything to the graph")
}

func TestSubmitRejectsCycle(t *testing.T) {
	g := New()
	session := g.OpenSession("client-1")

	spec := shared.SessionSpec{
		Objects: []shared.ObjectSpec{
			{Ordinal: 0, DataType: shared.DataTypeBlob},
			{Ordinal: 1, DataType: shared.DataTypeBlob},
		},
		Tasks: []shared.TaskSpec{
			{
				Ordinal:  0,
				TaskType: "builtin/concat",
				Inputs:   []shared.TaskInput{{Object: shared.DataObjectID{Session: session, Ordinal: 1}}},
				Outputs:  []shared.TaskOutput{{Object: shared.DataObjectID{Session: session, Ordinal: 0}}},
			},
			{
				Ordinal:  1,
				TaskType: "builtin/concat",
				Inputs:   []shared.TaskInput{{Object: shared.DataObjectID{Session: session, Ordinal: 0}}},
				Outputs:  []shared.TaskOutput{{Object: shared.DataObjectID{Session: session, Ordinal: 1}}},
			},
		},
	}

	err := g.Submit(session, spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Empty(t, g.Tasks())
}

func TestSubmitRejectsDuplicateOrdinal(t *testing.T) {
	g := New()
	session := g.OpenSession("client-1")

	spec := shared.SessionSpec{
		Tasks: []shared.TaskSpec{
			{Ordinal: 0, TaskType: "builtin/concat"},
			{Ordinal: 0, TaskType: "builtin/open"},
		},
	}

	err := g.Submit(session, spec)
	require.Error(t, err)
	assert.Empty(t, g.Tasks())
}

func TestRemoveGovernorFailsOwnedTasks(t *testing.T) {
	g := New()
	session := g.OpenSession("client-1")
	spec := shared.SessionSpec{
		Objects: []shared.ObjectSpec{{Ordinal: 0, DataType: shared.DataTypeBlob}},
		Tasks: []shared.TaskSpec{
			{Ordinal: 0, TaskType: "echo", Outputs: []shared.TaskOutput{{Object: shared.DataObjectID{Session: session, Ordinal: 0}}}},
		},
	}
	require.NoError(t, g.Submit(session, spec))

	taskID := shared.TaskID{Session: session, Ordinal: 0}
	task, _ := g.Task(taskID)
	task.State = TaskRunning
	task.Governor = shared.GovernorID("10.0.0.5:9000")
	g.RegisterGovernor(task.Governor, shared.Resources{CPUs: 4})

	failed := g.RemoveGovernor(task.Governor)
	require.Len(t, failed, 1)
	assert.Equal(t, taskID, failed[0])
	assert.Equal(t, TaskFailed, task.State)
	assert.NotNil(t, task.Err)
}
