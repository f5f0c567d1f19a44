package shared

import "fmt"

// ErrorKind enumerates the taxonomy from the error-handling policy: every
// error that reaches a client or the event log carries one of these kinds,
// a human message, optional debug detail, and the task it is attached to
// (if any).
type ErrorKind string

const (
	// ErrKindProtocol covers malformed frames, bad handshakes, and any
	// violation of the wire contract between two processes. Always fatal
	// to the connection that produced it.
	ErrKindProtocol ErrorKind = "protocol"
	// ErrKindScheduling covers the scheduler being unable to place a task
	// (e.g. no governor satisfies its resource requirements).
	ErrKindScheduling ErrorKind = "scheduling"
	// ErrKindSubmission covers a rejected SessionSpec: a dangling input
	// reference, a cycle, or a duplicate ordinal.
	ErrKindSubmission ErrorKind = "submission"
	// ErrKindTransfer covers object-fetch failures between governors.
	// Retried up to 3 times before being treated as fatal to the task.
	ErrKindTransfer ErrorKind = "transfer"
	// ErrKindExecution covers a task that ran and failed: non-zero exit,
	// executor-reported failure, or executor crash mid-task.
	ErrKindExecution ErrorKind = "execution"
	// ErrKindEnvironment covers failures to even start a task: executor
	// spawn failure, missing binary, workdir creation failure.
	ErrKindEnvironment ErrorKind = "environment"
	// ErrKindSession covers session-level failures: governor loss that
	// force-fails every task assigned to it, or explicit client cancel.
	ErrKindSession ErrorKind = "session"
)

// Error is the concrete type behind every kind above. Message is safe to
// show a client; Debug is operator-facing detail (stack context, raw
// stderr, wire bytes) that may be verbose or implementation-specific.
type Error struct {
	Kind    ErrorKind
	Message string
	Debug   string
	Task    *TaskID
	cause   error
}

func (e *Error) Error() string {
	if e.Task != nil {
		return fmt.Sprintf("%s: %s (task %s)", e.Kind, e.Message, *e.Task)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithTask returns a copy of e attached to task. Used when a lower layer
// raises a kind-only error and the caller knows which task it belongs to.
func (e *Error) WithTask(task TaskID) *Error {
	cp := *e
	cp.Task = &task
	return &cp
}

func newErr(kind ErrorKind, cause error, debug string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Debug:   debug,
		cause:   cause,
	}
}

func Protocol(cause error, format string, args ...any) *Error {
	debug := ""
	if cause != nil {
		debug = cause.Error()
	}
	return newErr(ErrKindProtocol, cause, debug, format, args...)
}

func Scheduling(format string, args ...any) *Error {
	return newErr(ErrKindScheduling, nil, "", format, args...)
}

func Submission(format string, args ...any) *Error {
	return newErr(ErrKindSubmission, nil, "", format, args...)
}

func Transfer(cause error, format string, args ...any) *Error {
	debug := ""
	if cause != nil {
		debug = cause.Error()
	}
	return newErr(ErrKindTransfer, cause, debug, format, args...)
}

func Execution(debug string, format string, args ...any) *Error {
	return newErr(ErrKindExecution, nil, debug, format, args...)
}

func Environment(cause error, format string, args ...any) *Error {
	debug := ""
	if cause != nil {
		debug = cause.Error()
	}
	return newErr(ErrKindEnvironment, cause, debug, format, args...)
}

func Session(format string, args ...any) *Error {
	return newErr(ErrKindSession, nil, "", format, args...)
}

// IsFatal reports whether an error of this kind always terminates whatever
// owns it (a connection, a task, a session) rather than being retryable.
// Transfer is the one kind that is not fatal on its own — callers retry it
// up to 3 times (per the transfer retry policy) before escalating.
func IsFatal(kind ErrorKind) bool {
	return kind != ErrKindTransfer
}
