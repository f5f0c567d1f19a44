// Package runtime implements the governor's single-threaded reactor:
// assignment handling, round-robin peer fetch for missing inputs, the
// AssignedReady transition, the ready-queue + free_cpus gate, and dispatch
// to either a builtin or an executor. Every mutation of free_cpus and the
// local object/task tables happens on one goroutine — free_cpus is
// read-modified only on the reactor thread — mirroring
// server/internal/rpc.Reactor's single-writer design.
package runtime

import (
	"context"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// localObject tracks one object's state on this governor: whether it is
// fully local yet, and, once it is, its storage.
type localObject struct {
	dataType shared.DataType
	finished bool
	storage  data.Storage
	peers    []shared.GovernorID // other governors known to have this object
}

// localTask tracks one task assigned to this governor.
type localTask struct {
	id       shared.TaskID
	spec     shared.TaskSpec
	waiting  map[shared.DataObjectID]struct{}
	state    taskState
	nextPeer int // round-robin cursor over a pending input's peer list

	// fetchAttempts counts alternate-location retries per pending input.
	// Once an input's count reaches fetch.MaxRetries the task fails rather
	// than cycling through peers forever.
	fetchAttempts map[shared.DataObjectID]int
}

type taskState int

const (
	taskAssigned taskState = iota
	taskAssignedReady
	taskRunning
	taskDone
)

func (s taskState) String() string {
	switch s {
	case taskAssigned:
		return "assigned"
	case taskAssignedReady:
		return "assigned_ready"
	case taskRunning:
		return "running"
	case taskDone:
		return "done"
	default:
		return "unknown"
	}
}

// Executors resolves a task_type to a live executor connection capable of
// running it, by matching the registered prefix before "/". A false return
// means no executor is available for that type; the runtime then fails the
// task without retrying.
type Executors interface {
	Acquire(taskType string) (Executor, bool)
}

// Executor is the subset of executorproto.Conn the runtime depends on,
// named here to keep runtime free of a direct import cycle back to the
// supervisor/executorproto wiring that constructs one.
type Executor interface {
	Invoke(ctx context.Context, task shared.TaskID, taskType string, inputs []wire.DataInstance, outputs []wire.OutputSlot, config map[string]any) (*wire.Result, error)
}

// Reporter sends state changes upstream to the server.
type Reporter interface {
	TaskFinished(task shared.TaskID, objects map[shared.DataObjectID]int64)
	TaskFailed(task shared.TaskID, err *shared.Error)
	ObjectFinished(object shared.DataObjectID, size int64)
}
