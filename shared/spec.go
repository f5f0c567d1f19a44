package shared

// DataType distinguishes a single opaque blob from a directory packed into a
// deterministic tar stream. Governors use it to decide whether a fetched
// TransportView should be exposed to executors as raw bytes or unpacked.
type DataType string

const (
	DataTypeBlob      DataType = "blob"
	DataTypeDirectory DataType = "directory"
)

// Resources describes what a task needs from the governor that runs it.
// Only CPU count is scheduled on for now; the field is kept as a struct
// (rather than a bare int) so additional dimensions can be added without
// changing every call site.
type Resources struct {
	CPUs int `cbor:"cpus"`
}

// ObjectSpec is the client-supplied description of one data object at
// submission time. Content is nil for objects that a task will produce;
// it is non-nil only for "uploaded" objects attached directly to the
// session (the client already has the bytes). Keep defaults to false: an
// object the client does not mark kept is eligible for reclamation as soon
// as it is Finished and has no consumers.
type ObjectSpec struct {
	Ordinal     uint64            `cbor:"ordinal"`
	Label       string            `cbor:"label,omitempty"`
	DataType    DataType          `cbor:"data_type"`
	ContentType string            `cbor:"content_type,omitempty"`
	UserInfo    map[string]any    `cbor:"user_info,omitempty"`
	Content     []byte            `cbor:"content,omitempty"`
	Keep        bool              `cbor:"keep,omitempty"`
}

// TaskInput names one data object an input of a task, in the order the task
// expects to receive it.
type TaskInput struct {
	Object DataObjectID `cbor:"object"`
}

// TaskOutput names one data object a task will produce.
type TaskOutput struct {
	Object DataObjectID `cbor:"object"`
}

// TaskSpec is the client-supplied description of one task at submission
// time. TaskType selects builtin vs. executor-backed dispatch: the four
// reserved prefixes "builtin/concat", "builtin/open", "builtin/export", and
// "builtin/run" are handled directly by the governor; any other value names
// an executor binary the governor will spawn (or reuse) to run the task.
type TaskSpec struct {
	Ordinal   uint64         `cbor:"ordinal"`
	TaskType  string         `cbor:"task_type"`
	Inputs    []TaskInput    `cbor:"inputs"`
	Outputs   []TaskOutput   `cbor:"outputs"`
	Resources Resources      `cbor:"resources"`
	Config    map[string]any `cbor:"config,omitempty"`
}

// SessionSpec bundles everything a client submits in a single batch. All
// tasks and objects in the batch share the same session and share fate:
// once any one task in the session fails, unfinished siblings are
// cancelled rather than scheduled.
type SessionSpec struct {
	Tasks   []TaskSpec   `cbor:"tasks"`
	Objects []ObjectSpec `cbor:"objects"`
}
