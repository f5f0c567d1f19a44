// Package tasks implements the four builtin task types that execute
// directly in governor code rather than being routed to an executor
// subprocess: concat, open, export, run.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/governor/internal/fsdir"
	"github.com/rain-io/rain/shared"
)

// Input is one already-local input to a builtin: its id, declared type, a
// read-only view over its bytes, and (when backed by a file inside the
// governor's data directory rather than memory) the path to that file, used
// by builtin/run to hard-link an input into a task's working directory
// without copying it. The runtime guarantees every input is local (Located
// includes this governor) before dispatching a builtin.
type Input struct {
	Object   shared.DataObjectID
	DataType shared.DataType
	View     *data.TransportView
	Path     string // empty when the input is memory-resident
}

// Output is one output slot a builtin must fill. The builtin produces a
// data.Storage, finalised to Layout.ObjectPath(Object), and writes it into
// Result before returning.
type Output struct {
	Object   shared.DataObjectID
	DataType shared.DataType
	Result   *data.Storage
}

// Call bundles everything a builtin needs: its task's opaque config tree,
// its resolved inputs/outputs in declaration order, and the governor's
// workdir layout for staging and finalising files.
type Call struct {
	Ctx     context.Context
	Task    shared.TaskID
	Config  map[string]any
	Inputs  []Input
	Outputs []Output
	Layout  *fsdir.Layout
}

// Builtin is the signature every builtin task type implements. A non-nil
// error fails the task, and with it the whole session.
type Builtin func(c *Call) error

// Registry maps a task_type to its Builtin implementation, keyed on the
// exact "builtin/xxx" string: a reserved "builtin/" prefix distinguishes
// builtins from executor types and never matches a registered executor
// type.
var Registry = map[string]Builtin{
	"builtin/concat": Concat,
	"builtin/open":   Open,
	"builtin/export": Export,
	"builtin/run":    Run,
}

// IsBuiltin reports whether taskType names one of the builtins above.
func IsBuiltin(taskType string) bool {
	_, ok := Registry[taskType]
	return ok
}

// builderWriter adapts a data.DataBuilder to io.Writer so builtins can
// io.Copy straight into it instead of chunking calls to Write by hand.
type builderWriter struct {
	builder *data.DataBuilder
	tmpDir  string
}

func (w builderWriter) Write(p []byte) (int, error) {
	return w.builder.Write(w.tmpDir, p)
}

// unmarshalConfig decodes a task's opaque config tree into a concrete Go
// struct by round-tripping through JSON, deserializing a dynamic config
// value into a strongly typed struct at the point of use.
func unmarshalConfig(cfg map[string]any, v any) error {
	if len(cfg) == 0 {
		return fmt.Errorf("task config is required")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("re-marshal task config: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse task config: %w", err)
	}
	return nil
}
