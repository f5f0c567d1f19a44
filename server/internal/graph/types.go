// Package graph owns the server's authoritative view of sessions, tasks,
// and data objects: the single in-memory structure the scheduler reads and
// the reactor mutates in response to client submissions and governor
// reports.
package graph

import (
	"time"

	"github.com/rain-io/rain/shared"
)

// ObjectState is the data-object lifecycle from unfinished through to
// removal. A task's output object starts Unfinished; it becomes Assigned
// once a governor is chosen to produce it, Finished once that governor
// reports it has the bytes, and Removed when the reactor reclaims it (Keep
// false and no consumers), when its session fails or closes, or when a
// governor reports it removed. A task stays in an object's consumer set
// after it finishes, so an object that any task reads is not reclaimed
// that way; no message tells the governors holding it to free it.
type ObjectState int

const (
	ObjectUnfinished ObjectState = iota
	ObjectAssigned
	ObjectFinished
	ObjectRemoved
)

func (s ObjectState) String() string {
	switch s {
	case ObjectUnfinished:
		return "unfinished"
	case ObjectAssigned:
		return "assigned"
	case ObjectFinished:
		return "finished"
	case ObjectRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// TaskState is the task lifecycle. AssignedReady is split out from Assigned
// because a governor must finish fetching every missing input before a
// task may enter the local ready queue.
type TaskState int

const (
	TaskNotAssigned TaskState = iota
	TaskReady
	TaskAssigned
	TaskAssignedReady
	TaskRunning
	TaskFinished
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskNotAssigned:
		return "not_assigned"
	case TaskReady:
		return "ready"
	case TaskAssigned:
		return "assigned"
	case TaskAssignedReady:
		return "assigned_ready"
	case TaskRunning:
		return "running"
	case TaskFinished:
		return "finished"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DataObject is one node of the bipartite task/object graph.
//
// Invariants (checked by CheckConsistency):
//   - Located is a subset of the set of governors the object is assigned to
//     produce/hold ("located ⊆ assigned").
//   - Finished implies Located is non-empty: a finished object always has
//     at least one governor that actually holds its bytes.
type DataObject struct {
	ID          shared.DataObjectID
	Label       string
	DataType    shared.DataType
	ContentType string
	UserInfo    map[string]any
	State       ObjectState
	Size        int64
	Producer    shared.TaskID // zero value if uploaded directly by the client
	Consumers   map[shared.TaskID]struct{}
	Assigned    map[shared.GovernorID]struct{}
	Located     map[shared.GovernorID]struct{}

	// Keep is a client-held assertion that this object must not be
	// garbage-collected. An object with Keep false and no consumers is
	// reclaimed (transitioned to Removed) when a governor reports it
	// Finished or when the client unkeeps it. An object uploaded with its
	// content is Finished at submission and is reclaimed only by an unkeep.
	Keep bool
}

func newDataObject(id shared.DataObjectID, label string, dt shared.DataType, producer shared.TaskID) *DataObject {
	return &DataObject{
		ID:        id,
		Label:     label,
		DataType:  dt,
		State:     ObjectUnfinished,
		Producer:  producer,
		Consumers: make(map[shared.TaskID]struct{}),
		Assigned:  make(map[shared.GovernorID]struct{}),
		Located:   make(map[shared.GovernorID]struct{}),
	}
}

// Task is the other half of the bipartite graph.
//
// WaitingFor tracks the set of this task's input objects that are not yet
// Finished; the task becomes eligible for Ready only once it is empty.
type Task struct {
	ID         shared.TaskID
	Spec       shared.TaskSpec
	State      TaskState
	Governor   shared.GovernorID // zero value until Assigned
	WaitingFor map[shared.DataObjectID]struct{}
	Inputs     []shared.DataObjectID
	Outputs    []shared.DataObjectID
	Err        *shared.Error
}

func newTask(id shared.TaskID, spec shared.TaskSpec) *Task {
	t := &Task{
		ID:         id,
		Spec:       spec,
		State:      TaskNotAssigned,
		WaitingFor: make(map[shared.DataObjectID]struct{}),
	}
	for _, in := range spec.Inputs {
		t.Inputs = append(t.Inputs, in.Object)
	}
	for _, out := range spec.Outputs {
		t.Outputs = append(t.Outputs, out.Object)
	}
	return t
}

// GovernorRecord is the server's view of one connected governor.
type GovernorRecord struct {
	ID         shared.GovernorID
	Resources  shared.Resources
	FreeCPUs   int
	Connected  bool
	LastSeen   time.Time
}

// Session groups the tasks and objects submitted together by one client.
// Per the session-fatal rule, the first task failure within a session
// marks it Failed and every not-yet-finished sibling task is cancelled
// rather than scheduled.
type Session struct {
	ID       shared.SessionID
	Client   shared.ClientID
	Tasks    map[shared.TaskID]struct{}
	Objects  map[shared.DataObjectID]struct{}
	Failed   bool
	Opened   time.Time
}
