package scheduler

import (
	"testing"

	"github.com/rain-io/rain/server/internal/graph"
	"github.com/rain-io/rain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGraph(t *testing.T) (*graph.Graph, shared.SessionID) {
	t.Helper()
	g := graph.New()
	session := g.OpenSession("client-1")
	spec := shared.SessionSpec{
		Objects: []shared.ObjectSpec{{Ordinal: 0, DataType: shared.DataTypeBlob}},
		Tasks: []shared.TaskSpec{
			{
				Ordinal:   0,
				TaskType:  "echo",
				Resources: shared.Resources{CPUs: 2},
				Outputs:   []shared.TaskOutput{{Object: shared.DataObjectID{Session: session, Ordinal: 0}}},
			},
		},
	}
	require.NoError(t, g.Submit(session, spec))
	return g, session
}

func TestGreedyPolicySchedulesReadyTask(t *testing.T) {
	g, session := setupGraph(t)
	g.RegisterGovernor("governor-a:9000", shared.Resources{CPUs: 4})
	g.RegisterGovernor("governor-b:9000", shared.Resources{CPUs: 4})

	taskID := shared.TaskID{Session: session, Ordinal: 0}
	task, _ := g.Task(taskID)
	task.State = graph.TaskReady

	decisions := Schedule(g, GreedyPolicy{})
	require.Len(t, decisions, 1)
	assert.Equal(t, taskID, decisions[0].Task)
}

func TestGreedyPolicySkipsInsufficientCPUs(t *testing.T) {
	g, session := setupGraph(t)
	g.RegisterGovernor("governor-a:9000", shared.Resources{CPUs: 1})

	taskID := shared.TaskID{Session: session, Ordinal: 0}
	task, _ := g.Task(taskID)
	task.State = graph.TaskReady

	decisions := Schedule(g, GreedyPolicy{})
	assert.Empty(t, decisions, "no governor satisfies the 2-cpu requirement")
}

func TestRandomPolicyIsDeterministic(t *testing.T) {
	g, session := setupGraph(t)
	g.RegisterGovernor("governor-a:9000", shared.Resources{CPUs: 4})
	g.RegisterGovernor("governor-b:9000", shared.Resources{CPUs: 4})

	taskID := shared.TaskID{Session: session, Ordinal: 0}
	task, _ := g.Task(taskID)
	task.State = graph.TaskReady

	first := Schedule(g, RandomPolicy{})
	second := Schedule(g, RandomPolicy{})
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Governor, second[0].Governor)
}
