package wire

import "github.com/rain-io/rain/shared"

// The messages below ride the same Conn/ExecutorFrame-style envelope, over
// TCP instead of a Unix socket, for the two channels: GovernorUpstream
// (governor connects to the server once and keeps the connection open for
// assignments and state updates) and the peer-to-peer
// fetch channel used for object transfer between governors.

// GovernorRegister is the first message a governor sends the server after
// connecting, analogous to Register on the executor protocol.
type GovernorRegister struct {
	GovernorID shared.GovernorID  `cbor:"governor_id"`
	Resources  shared.Resources   `cbor:"resources"`
}

// Assignment is pushed server->governor when the scheduler places a task on
// this governor. The governor is responsible for fetching any inputs it
// does not already have located locally before running the task.
type Assignment struct {
	Task       shared.TaskID       `cbor:"task"`
	Spec       shared.TaskSpec     `cbor:"spec"`
	InputLocs  []ObjectLocationHint `cbor:"input_locs"`
}

// ObjectLocationHint tells a governor which peers currently have an input
// object located, so it knows whom to fetch from without asking the server
// again.
type ObjectLocationHint struct {
	Object   shared.DataObjectID  `cbor:"object"`
	Size     int64                `cbor:"size"`
	Governors []shared.GovernorID `cbor:"governors"`
}

// StateUpdateKind discriminates the two update shapes a governor reports
// back to the server's scheduler loop.
type StateUpdateKind string

const (
	UpdateTaskFinished  StateUpdateKind = "task_finished"
	UpdateTaskFailed    StateUpdateKind = "task_failed"
	UpdateObjectFinished StateUpdateKind = "object_finished"
	UpdateObjectRemoved StateUpdateKind = "object_removed"
)

// StateUpdate reports one state transition. A governor may batch several
// into one StateReport frame.
type StateUpdate struct {
	Kind   StateUpdateKind      `cbor:"kind"`
	Task   *shared.TaskID       `cbor:"task,omitempty"`
	Object *shared.DataObjectID `cbor:"object,omitempty"`
	Size   int64                `cbor:"size,omitempty"`
	Error  *shared.Error        `cbor:"error,omitempty"`
}

// StateReport is sent governor->server whenever local state changes in a
// way the scheduler needs to know about.
type StateReport struct {
	Governor shared.GovernorID `cbor:"governor"`
	Updates  []StateUpdate     `cbor:"updates"`
}

// Heartbeat is sent governor->server on a fixed interval and carries the
// live resource snapshot used for scheduling and the debug surface.
type Heartbeat struct {
	Governor  shared.GovernorID `cbor:"governor"`
	FreeCPUs  int               `cbor:"free_cpus"`
	CPUPercent float64          `cbor:"cpu_percent"`
	MemPercent float64          `cbor:"mem_percent"`
}

// NodeFrameKind discriminates messages on the server<->governor channel.
type NodeFrameKind string

const (
	NodeFrameGovernorRegister NodeFrameKind = "governor_register"
	NodeFrameAssignment       NodeFrameKind = "assignment"
	NodeFrameStateReport      NodeFrameKind = "state_report"
	NodeFrameHeartbeat        NodeFrameKind = "heartbeat"
)

// NodeFrame envelopes one message on the server<->governor channel.
type NodeFrame struct {
	Kind             NodeFrameKind     `cbor:"kind"`
	GovernorRegister *GovernorRegister `cbor:"governor_register,omitempty"`
	Assignment       *Assignment       `cbor:"assignment,omitempty"`
	StateReport      *StateReport      `cbor:"state_report,omitempty"`
	Heartbeat        *Heartbeat        `cbor:"heartbeat,omitempty"`
}

// FetchStatus is the result of a peer Fetch request. NotHere is not an
// error: the requesting governor tries the next peer it already knows of
// for the object; it does not ask the server for a new location.
type FetchStatus string

const (
	FetchOk     FetchStatus = "ok"
	FetchNotHere FetchStatus = "not_here"
)

// FetchRequest asks a peer governor for a byte range of one object.
type FetchRequest struct {
	Object      shared.DataObjectID `cbor:"object"`
	Offset      int64               `cbor:"offset"`
	Size        int64               `cbor:"size"`
	IncludeInfo bool                `cbor:"include_info"`
}

// FetchResponse answers a FetchRequest. Chunk carries exactly the
// [Offset, Offset+len(Chunk)) range requested when Status is FetchOk. The
// governor's input fetch starts at offset 0 and, after a failure, starts
// again from offset 0 on the next peer; a partial transfer is not resumed.
type FetchResponse struct {
	Status   FetchStatus     `cbor:"status"`
	Chunk    []byte          `cbor:"chunk,omitempty"`
	DataType shared.DataType `cbor:"data_type,omitempty"`
	Size     int64           `cbor:"size,omitempty"`
}
