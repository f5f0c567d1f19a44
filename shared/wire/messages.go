package wire

import "github.com/rain-io/rain/shared"

// DataLocationKind discriminates the variants of DataLocation. CBOR has no
// native sum type, so each variant is a struct field that is populated only
// when Kind selects it — the same tagged-struct shape used for every sum
// type in this package.
type DataLocationKind string

const (
	// LocationMemory means the bytes are inline in this message.
	LocationMemory DataLocationKind = "memory"
	// LocationPath means the bytes are at an absolute path on the local
	// filesystem, readable (and mmap-able) by the receiving process.
	LocationPath DataLocationKind = "path"
	// LocationOtherObject means this object currently aliases another
	// object's storage (e.g. builtin/open producing a view over existing
	// bytes without a copy).
	LocationOtherObject DataLocationKind = "other_object"
	// LocationCached means the executor already holds this object from a
	// previous Call and the governor is only confirming it is still
	// valid; no bytes are transmitted.
	LocationCached DataLocationKind = "cached"
)

// DataLocation tells an executor where to find one input's bytes.
type DataLocation struct {
	Kind        DataLocationKind  `cbor:"kind"`
	Memory      []byte            `cbor:"memory,omitempty"`
	Path        string            `cbor:"path,omitempty"`
	Size        int64             `cbor:"size,omitempty"`
	OtherObject *shared.DataObjectID `cbor:"other_object,omitempty"`
	Cached      *shared.DataObjectID `cbor:"cached,omitempty"`
}

// DataInstance is one input slot of a Call: the object identity, its type,
// and where to find its bytes.
type DataInstance struct {
	Object   shared.DataObjectID `cbor:"object"`
	DataType shared.DataType     `cbor:"data_type"`
	Location DataLocation        `cbor:"location"`
}

// OutputSlot tells an executor which object it must produce and how to
// stage it: a path it should write to directly (avoiding a governor-side
// copy) or a sentinel meaning "send the bytes back inline".
type OutputSlot struct {
	Object     shared.DataObjectID `cbor:"object"`
	StagePath  string              `cbor:"stage_path,omitempty"`
	SizeLimit  int64               `cbor:"size_limit,omitempty"`
}

// OutputResult is one produced output reported back in a Result.
type OutputResult struct {
	Object   shared.DataObjectID `cbor:"object"`
	DataType shared.DataType     `cbor:"data_type"`
	Location DataLocation        `cbor:"location"`
}

// Register is the first message an executor sends after the handshake. It
// both confirms liveness and is fixed for the life of the connection — the
// governor does not expect a second Register.
type Register struct {
	ExecutorID shared.ExecutorID `cbor:"executor_id"`
	TaskTypes  []string          `cbor:"task_types"`
}

// Call is sent governor->executor. Exactly one Call may be outstanding per
// connection at a time: the governor does not send a second Call until it
// has received the Result for the first.
type Call struct {
	CallID   uint64         `cbor:"call_id"`
	Task     shared.TaskID  `cbor:"task"`
	TaskType string         `cbor:"task_type"`
	Inputs   []DataInstance `cbor:"inputs"`
	Outputs  []OutputSlot   `cbor:"outputs"`
	Config   map[string]any `cbor:"config,omitempty"`
}

// Result answers a Call by CallID. Exactly one of Outputs or Error is
// populated.
type Result struct {
	CallID  uint64          `cbor:"call_id"`
	Outputs []OutputResult  `cbor:"outputs,omitempty"`
	Error   *shared.Error   `cbor:"error,omitempty"`
}

// DropCached tells the other side to forget about an object it previously
// cached — sent by the governor after the object is removed from the
// graph, or by the executor when it evicts from its own local cache.
type DropCached struct {
	Object shared.DataObjectID `cbor:"object"`
}

// ExecutorFrameKind discriminates which of the above structs is carried by
// an ExecutorFrame envelope. Every frame written on the governor<->executor
// socket is one of these envelopes; the underlying bufio.Reader only ever
// sees ExecutorFrame values.
type ExecutorFrameKind string

const (
	FrameRegister   ExecutorFrameKind = "register"
	FrameCall       ExecutorFrameKind = "call"
	FrameResult     ExecutorFrameKind = "result"
	FrameDropCached ExecutorFrameKind = "drop_cached"
)

// ExecutorFrame envelopes one message on the governor<->executor socket.
type ExecutorFrame struct {
	Kind       ExecutorFrameKind `cbor:"kind"`
	Register   *Register         `cbor:"register,omitempty"`
	Call       *Call             `cbor:"call,omitempty"`
	Result     *Result           `cbor:"result,omitempty"`
	DropCached *DropCached       `cbor:"drop_cached,omitempty"`
}
