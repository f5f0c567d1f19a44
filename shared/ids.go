// Package shared holds the types, wire codec, and error taxonomy common to
// the server, governor, and task modules.
package shared

import "fmt"

// SessionID is assigned by the server when a client opens a session. It is
// monotonically increasing within a server lifetime and never reused.
type SessionID uint64

// GovernorID identifies a governor by its control-plane network endpoint
// (host:port), exactly as the server dials it.
type GovernorID string

// ClientID identifies the socket address a client connected from. It is
// informational only: the graph does not key anything long-lived by it
// beyond the lifetime of the connection.
type ClientID string

// ExecutorID identifies one executor subprocess owned by a single governor.
// The ordinal is assigned by that governor and is unique only within it.
type ExecutorID struct {
	Governor GovernorID
	Ordinal  uint32
}

func (e ExecutorID) String() string {
	return fmt.Sprintf("%s/executor-%d", e.Governor, e.Ordinal)
}

// TaskID and DataObjectID share the same two-part shape: a session and a
// per-session ordinal assigned by the client at submission time. Both are
// comparable and usable as map keys.
type TaskID struct {
	Session SessionID
	Ordinal uint64
}

func (t TaskID) String() string {
	return fmt.Sprintf("%d/task-%d", t.Session, t.Ordinal)
}

// IsZero reports whether t is the zero value, used as a "no task" sentinel
// in places where a pointer would otherwise be required.
func (t TaskID) IsZero() bool {
	return t == TaskID{}
}

type DataObjectID struct {
	Session SessionID
	Ordinal uint64
}

func (d DataObjectID) String() string {
	return fmt.Sprintf("%d/obj-%d", d.Session, d.Ordinal)
}

func (d DataObjectID) IsZero() bool {
	return d == DataObjectID{}
}
