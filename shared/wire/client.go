package wire

import "github.com/rain-io/rain/shared"

// The messages below implement the client service channel: a client opens
// one connection to the server, opens a session, submits one or more
// SessionSpecs into it, waits on tasks/objects, fetches finished object
// contents, releases the keep flag on objects it no longer needs, and
// closes the session when done. terminate is a standalone administrative
// operation, not scoped to any one session.

// OpenSessionRequest has no fields: the server assigns a SessionID purely
// from the connecting socket, mirroring how GovernorID/ClientID are network
// endpoints rather than client-chosen values.
type OpenSessionRequest struct{}

type OpenSessionResponse struct {
	Session shared.SessionID `cbor:"session"`
}

// SubmitRequest carries one SessionSpec into an already-open session.
type SubmitRequest struct {
	Session shared.SessionID  `cbor:"session"`
	Spec    shared.SessionSpec `cbor:"spec"`
}

type SubmitResponse struct {
	Error *shared.Error `cbor:"error,omitempty"`
}

// WaitRequest blocks (from the client's point of view) until every named
// task/object reaches a terminal state, or DeadlineMillis elapses (0 means
// no deadline). The server replies once all of them are Finished/Failed/
// Removed, or the deadline is hit.
type WaitRequest struct {
	Session        shared.SessionID       `cbor:"session"`
	Tasks          []shared.TaskID        `cbor:"tasks,omitempty"`
	Objects        []shared.DataObjectID  `cbor:"objects,omitempty"`
	DeadlineMillis int64                  `cbor:"deadline_millis,omitempty"`
}

type TaskOutcome struct {
	Task  shared.TaskID `cbor:"task"`
	Error *shared.Error `cbor:"error,omitempty"`
}

type WaitResponse struct {
	TimedOut bool          `cbor:"timed_out"`
	Outcomes []TaskOutcome `cbor:"outcomes"`
}

// CloseSessionRequest asks the server to cancel every unfinished task in
// the session and release its objects. The server marks them Failed and
// Removed in its own graph and sends nothing to the governors, so a task
// already running on a governor is not stopped.
type CloseSessionRequest struct {
	Session shared.SessionID `cbor:"session"`
}

type CloseSessionResponse struct{}

// ObjectFetchRequest asks the server for the full contents of an object in
// an open session. Named ObjectFetch rather than Fetch to keep it distinct
// from the unrelated governor-to-governor FetchRequest in internode.go.
type ObjectFetchRequest struct {
	Session shared.SessionID    `cbor:"session"`
	Object  shared.DataObjectID `cbor:"object"`
}

// ObjectFetchResponse answers an ObjectFetchRequest. Data and DataType are
// meaningful only when Error is nil.
type ObjectFetchResponse struct {
	Data     []byte          `cbor:"data,omitempty"`
	DataType shared.DataType `cbor:"data_type,omitempty"`
	Error    *shared.Error   `cbor:"error,omitempty"`
}

// UnkeepRequest releases the keep flag on the named objects. Once an
// unkept object has no consumers left, the server is free to reclaim it.
type UnkeepRequest struct {
	Session shared.SessionID      `cbor:"session"`
	Objects []shared.DataObjectID `cbor:"objects"`
}

type UnkeepResponse struct {
	Error *shared.Error `cbor:"error,omitempty"`
}

// TerminateRequest asks the server to begin an administrative shutdown.
// Any client connected to the server may send it.
type TerminateRequest struct{}

type TerminateResponse struct{}

// ClientFrameKind discriminates messages on the client<->server channel.
type ClientFrameKind string

const (
	ClientFrameOpenSession  ClientFrameKind = "open_session"
	ClientFrameSubmit       ClientFrameKind = "submit"
	ClientFrameWait         ClientFrameKind = "wait"
	ClientFrameCloseSession ClientFrameKind = "close_session"
	ClientFrameFetch        ClientFrameKind = "fetch"
	ClientFrameUnkeep       ClientFrameKind = "unkeep"
	ClientFrameTerminate    ClientFrameKind = "terminate"
)

// ClientFrame envelopes a request or response on the client<->server
// channel. Exactly one of the request/response pairs is populated,
// matching which ClientFrameKind and which direction the frame travels.
type ClientFrame struct {
	Kind ClientFrameKind `cbor:"kind"`

	OpenSessionReq *OpenSessionRequest  `cbor:"open_session_req,omitempty"`
	OpenSessionRes *OpenSessionResponse `cbor:"open_session_res,omitempty"`

	SubmitReq *SubmitRequest  `cbor:"submit_req,omitempty"`
	SubmitRes *SubmitResponse `cbor:"submit_res,omitempty"`

	WaitReq *WaitRequest  `cbor:"wait_req,omitempty"`
	WaitRes *WaitResponse `cbor:"wait_res,omitempty"`

	CloseSessionReq *CloseSessionRequest  `cbor:"close_session_req,omitempty"`
	CloseSessionRes *CloseSessionResponse `cbor:"close_session_res,omitempty"`

	FetchReq *ObjectFetchRequest  `cbor:"fetch_req,omitempty"`
	FetchRes *ObjectFetchResponse `cbor:"fetch_res,omitempty"`

	UnkeepReq *UnkeepRequest  `cbor:"unkeep_req,omitempty"`
	UnkeepRes *UnkeepResponse `cbor:"unkeep_res,omitempty"`

	TerminateReq *TerminateRequest  `cbor:"terminate_req,omitempty"`
	TerminateRes *TerminateResponse `cbor:"terminate_res,omitempty"`
}
