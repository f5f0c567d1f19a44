// Package rpc hosts the server's cooperative event loop and the two TCP
// listeners (client-facing and governor-facing) that feed it. One
// goroutine owns graph mutation, reached through a command channel; the
// exceptions are session allocation (OpenSession) and reads (Fetch, the
// debug HTTP surface), which rely on graph.Graph's own lock.
package rpc

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/rain-io/rain/server/internal/eventlog"
	"github.com/rain-io/rain/server/internal/governors"
	"github.com/rain-io/rain/server/internal/graph"
	"github.com/rain-io/rain/server/internal/scheduler"
	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
)

// command is the sum type of everything that can mutate the graph. Only
// the reactor goroutine (Run) ever reads from cmds, so every handler below
// may touch g.* fields that would otherwise need locking.
type command struct {
	kind     commandKind
	submit   *submitCmd
	govJoin  *govJoinCmd
	govGone  shared.GovernorID
	report   *wire.StateReport
	wait     *waitCmd
	closeSes shared.SessionID
	unkeep   *unkeepCmd
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdGovernorJoin
	cmdGovernorGone
	cmdStateReport
	cmdWait
	cmdCloseSession
	cmdUnkeep
	cmdTerminate
)

type unkeepCmd struct {
	session shared.SessionID
	objects []shared.DataObjectID
	reply   chan *shared.Error
}

type submitCmd struct {
	session shared.SessionID
	spec    shared.SessionSpec
	reply   chan error
}

type govJoinCmd struct {
	id        shared.GovernorID
	resources shared.Resources
	dispatch  governors.Dispatcher
}

type waitCmd struct {
	session  shared.SessionID
	tasks    []shared.TaskID
	objects  []shared.DataObjectID
	reply    chan []wire.TaskOutcome
}

// Reactor owns the graph, the governor registry, and the event log, and
// serializes every mutation through Run's select loop.
type Reactor struct {
	log     *zap.Logger
	graph   *graph.Graph
	policy  scheduler.Policy
	govs    *governors.Registry
	events  *eventlog.Store
	cmds    chan command

	debugConsistency bool
	waiters          []*pendingWait

	terminated  bool
	terminateCh chan struct{}
}

type pendingWait struct {
	session shared.SessionID
	tasks   map[shared.TaskID]struct{}
	objects map[shared.DataObjectID]struct{}
	reply   chan []wire.TaskOutcome
}

func NewReactor(log *zap.Logger, g *graph.Graph, policy scheduler.Policy, govs *governors.Registry, events *eventlog.Store) *Reactor {
	return &Reactor{
		log:              log.Named("reactor"),
		graph:            g,
		policy:           policy,
		govs:             govs,
		events:           events,
		cmds:             make(chan command, 256),
		debugConsistency: os.Getenv("RAIN_DEBUG_CONSISTENCY") == "1",
		terminateCh:      make(chan struct{}),
	}
}

// Run drives the reactor until ctx is cancelled. It is the only goroutine
// that calls Reactor's private handle* methods.
func (r *Reactor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.cmds:
			r.dispatch(c)
			if r.debugConsistency {
				if err := r.graph.CheckConsistency(); err != nil {
					r.log.Error("consistency check failed", zap.Error(err))
				}
			}
		}
	}
}

func (r *Reactor) dispatch(c command) {
	switch c.kind {
	case cmdSubmit:
		err := r.graph.Submit(c.submit.session, c.submit.spec)
		if err != nil {
			r.logEvent(eventlog.KindSubmitRejected, map[string]any{"session": c.submit.session, "error": err.Error()})
		} else {
			r.logEvent(eventlog.KindSubmitted, map[string]any{"session": c.submit.session})
			r.reschedule()
			r.checkWaiters()
		}
		c.submit.reply <- err
	case cmdGovernorJoin:
		r.graph.RegisterGovernor(c.govJoin.id, c.govJoin.resources)
		r.govs.Register(c.govJoin.id, c.govJoin.dispatch)
		r.logEvent(eventlog.KindGovernorJoined, map[string]any{"governor": c.govJoin.id})
		r.reschedule()
	case cmdGovernorGone:
		failed := r.graph.RemoveGovernor(c.govGone)
		r.govs.Deregister(c.govGone)
		r.logEvent(eventlog.KindGovernorRemoved, map[string]any{"governor": c.govGone, "failed_tasks": failed})
		r.reschedule()
		r.checkWaiters()
	case cmdStateReport:
		r.applyReport(c.report)
		r.reschedule()
		r.checkWaiters()
	case cmdWait:
		r.registerWait(c.wait)
	case cmdCloseSession:
		r.closeSession(c.closeSes)
		r.checkWaiters()
	case cmdUnkeep:
		err := r.unkeep(c.unkeep.session, c.unkeep.objects)
		c.unkeep.reply <- err
	case cmdTerminate:
		if !r.terminated {
			r.terminated = true
			close(r.terminateCh)
			r.log.Info("server termination requested by a client")
		}
	}
}

// unkeep releases the keep flag on every named object and reclaims each one
// immediately if it is already Finished and has no consumers.
func (r *Reactor) unkeep(session shared.SessionID, objects []shared.DataObjectID) *shared.Error {
	sess, ok := r.graph.Session(session)
	if !ok {
		return shared.Submission("unknown session %d", session)
	}
	for _, id := range objects {
		if _, ok := sess.Objects[id]; !ok {
			return shared.Submission("object %s is not part of session %d", id, session)
		}
	}
	for _, id := range objects {
		obj, ok := r.graph.Object(id)
		if !ok {
			continue
		}
		obj.Keep = false
		r.logEvent(eventlog.KindClientUnkeep, map[string]any{"object": id.String()})
		r.reclaim(obj)
	}
	return nil
}

// reclaim transitions obj to Removed once it is both unkept and free of
// consumers — the general garbage-collection rule, as opposed to the
// session-fatal cascade in graph.FailSession which removes regardless of
// keep.
func (r *Reactor) reclaim(obj *graph.DataObject) {
	if obj.State != graph.ObjectFinished {
		return
	}
	if obj.Keep || len(obj.Consumers) != 0 {
		return
	}
	obj.State = graph.ObjectRemoved
	r.logEvent(eventlog.KindObjectRemoved, map[string]any{"object": obj.ID.String()})
}

func (r *Reactor) applyReport(report *wire.StateReport) {
	for _, u := range report.Updates {
		switch u.Kind {
		case wire.UpdateTaskFinished:
			if t, ok := r.graph.Task(*u.Task); ok {
				t.State = graph.TaskFinished
				r.logEvent(eventlog.KindTaskFinished, map[string]any{"task": t.ID.String()})
			}
		case wire.UpdateTaskFailed:
			if t, ok := r.graph.Task(*u.Task); ok {
				t.State = graph.TaskFailed
				t.Err = u.Error
				r.logEvent(eventlog.KindTaskFailed, map[string]any{"task": t.ID.String()})

				// A task failure fails its whole session: every other
				// not-yet-finished sibling task is cancelled rather than
				// scheduled, and every non-Finished object in the session
				// is reclaimed.
				cancelled := r.graph.FailSession(t.ID.Session)
				if len(cancelled) > 0 {
					r.logEvent(eventlog.KindSessionClosed, map[string]any{
						"session":         t.ID.Session,
						"reason":          "error",
						"cancelled_tasks": cancelled,
					})
				}
			}
		case wire.UpdateObjectFinished:
			if o, ok := r.graph.Object(*u.Object); ok {
				o.State = graph.ObjectFinished
				o.Size = u.Size
				o.Located[report.Governor] = struct{}{}
				o.Assigned[report.Governor] = struct{}{}
				r.logEvent(eventlog.KindObjectFinished, map[string]any{"object": o.ID.String(), "size": u.Size})
				r.reclaim(o)
			}
		case wire.UpdateObjectRemoved:
			if o, ok := r.graph.Object(*u.Object); ok {
				o.State = graph.ObjectRemoved
				r.logEvent(eventlog.KindObjectRemoved, map[string]any{"object": o.ID.String()})
			}
		}
	}
}

func (r *Reactor) reschedule() {
	// Mark every unblocked task ready before asking the scheduler to place
	// them: Submit already does this for tasks with no inputs at all, but
	// a later ObjectFinished update can unblock tasks admitted earlier.
	for _, t := range r.graph.Tasks() {
		if t.State != graph.TaskNotAssigned {
			continue
		}
		blocked := false
		for in := range t.WaitingFor {
			obj, ok := r.graph.Object(in)
			if !ok || obj.State != graph.ObjectFinished {
				blocked = true
				continue
			}
			delete(t.WaitingFor, in)
		}
		if !blocked && len(t.WaitingFor) == 0 {
			t.State = graph.TaskReady
		}
	}

	decisions := scheduler.Schedule(r.graph, r.policy)
	for _, d := range decisions {
		task, ok := r.graph.Task(d.Task)
		if !ok {
			continue
		}
		task.State = graph.TaskAssigned
		task.Governor = d.Governor
		for _, out := range task.Outputs {
			if obj, ok := r.graph.Object(out); ok {
				obj.State = graph.ObjectAssigned
				obj.Assigned[d.Governor] = struct{}{}
			}
		}

		var hints []wire.ObjectLocationHint
		for _, in := range task.Inputs {
			obj, ok := r.graph.Object(in)
			if !ok {
				continue
			}
			governors := make([]shared.GovernorID, 0, len(obj.Located))
			for g := range obj.Located {
				governors = append(governors, g)
			}
			hints = append(hints, wire.ObjectLocationHint{Object: in, Size: obj.Size, Governors: governors})
		}

		if err := r.govs.Dispatch(d.Governor, wire.Assignment{Task: d.Task, Spec: task.Spec, InputLocs: hints}); err != nil {
			r.log.Warn("dispatch failed, task stays ready for the next schedule pass", zap.String("task", d.Task.String()), zap.Error(err))
			task.State = graph.TaskReady
			task.Governor = ""
			continue
		}
		r.logEvent(eventlog.KindTaskScheduled, map[string]any{"task": d.Task.String(), "governor": d.Governor})
	}
}

func (r *Reactor) closeSession(session shared.SessionID) {
	for _, t := range r.graph.Tasks() {
		if t.ID.Session != session {
			continue
		}
		if t.State != graph.TaskFinished && t.State != graph.TaskFailed {
			t.State = graph.TaskFailed
			t.Err = shared.Session("session %d closed", session).WithTask(t.ID)
		}
	}
	for _, o := range r.graph.Objects() {
		if o.ID.Session != session || o.State == graph.ObjectFinished {
			continue
		}
		o.State = graph.ObjectRemoved
	}
	r.logEvent(eventlog.KindSessionClosed, map[string]any{"session": session, "reason": "client_close"})
}

func (r *Reactor) registerWait(w *waitCmd) {
	pw := &pendingWait{
		session: w.session,
		tasks:   toTaskSet(w.tasks),
		objects: toObjectSet(w.objects),
		reply:   w.reply,
	}
	r.waiters = append(r.waiters, pw)
	r.checkWaiters()
}

func (r *Reactor) checkWaiters() {
	remaining := r.waiters[:0]
	for _, w := range r.waiters {
		done := true
		var outcomes []wire.TaskOutcome
		for taskID := range w.tasks {
			t, ok := r.graph.Task(taskID)
			if !ok {
				continue
			}
			if t.State != graph.TaskFinished && t.State != graph.TaskFailed {
				done = false
				continue
			}
			outcomes = append(outcomes, wire.TaskOutcome{Task: taskID, Error: t.Err})
		}
		for objID := range w.objects {
			o, ok := r.graph.Object(objID)
			if !ok {
				continue
			}
			if o.State != graph.ObjectFinished && o.State != graph.ObjectRemoved {
				done = false
			}
		}
		if done {
			w.reply <- outcomes
			close(w.reply)
		} else {
			remaining = append(remaining, w)
		}
	}
	r.waiters = remaining
}

func toTaskSet(ids []shared.TaskID) map[shared.TaskID]struct{} {
	m := make(map[shared.TaskID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func toObjectSet(ids []shared.DataObjectID) map[shared.DataObjectID]struct{} {
	m := make(map[shared.DataObjectID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func (r *Reactor) logEvent(kind eventlog.Kind, payload any) {
	if r.events == nil {
		return
	}
	if _, err := r.events.Append(kind, payload); err != nil {
		r.log.Warn("failed to append event", zap.Error(err))
	}
}

// Public entry points used by the client and governor listeners. Most build
// a command, send it to cmds, and block on whatever reply channel the
// caller needs. OpenSession and Fetch instead call the graph directly,
// under its own lock.

func (r *Reactor) Submit(session shared.SessionID, spec shared.SessionSpec) error {
	reply := make(chan error, 1)
	r.cmds <- command{kind: cmdSubmit, submit: &submitCmd{session: session, spec: spec, reply: reply}}
	return <-reply
}

func (r *Reactor) OpenSession(client shared.ClientID) shared.SessionID {
	return r.graph.OpenSession(client)
}

func (r *Reactor) GovernorJoined(id shared.GovernorID, res shared.Resources, dispatch governors.Dispatcher) {
	r.cmds <- command{kind: cmdGovernorJoin, govJoin: &govJoinCmd{id: id, resources: res, dispatch: dispatch}}
}

func (r *Reactor) GovernorGone(id shared.GovernorID) {
	r.cmds <- command{kind: cmdGovernorGone, govGone: id}
}

func (r *Reactor) ReportState(report wire.StateReport) {
	r.cmds <- command{kind: cmdStateReport, report: &report}
}

func (r *Reactor) Wait(session shared.SessionID, tasks []shared.TaskID, objects []shared.DataObjectID) []wire.TaskOutcome {
	reply := make(chan []wire.TaskOutcome, 1)
	r.cmds <- command{kind: cmdWait, wait: &waitCmd{session: session, tasks: tasks, objects: objects, reply: reply}}
	return <-reply
}

func (r *Reactor) CloseSession(session shared.SessionID) {
	r.cmds <- command{kind: cmdCloseSession, closeSes: session}
}

// Unkeep releases the keep flag on the named objects, reclaiming any that
// are already Finished and have no consumers.
func (r *Reactor) Unkeep(session shared.SessionID, objects []shared.DataObjectID) *shared.Error {
	reply := make(chan *shared.Error, 1)
	r.cmds <- command{kind: cmdUnkeep, unkeep: &unkeepCmd{session: session, objects: objects, reply: reply}}
	return <-reply
}

// Terminate requests an administrative shutdown. Terminated is closed once
// the request is processed; the caller (cmd/rain-server) watches it to
// begin winding down listeners.
func (r *Reactor) Terminate() {
	r.cmds <- command{kind: cmdTerminate}
}

func (r *Reactor) Terminated() <-chan struct{} { return r.terminateCh }

// Fetch resolves a session-scoped object for a client read: which governor
// holds its bytes, and how many, or the failure if the object cannot be
// read. It is a point-in-time read through graph's own locking rather than
// a reactor command, the same way the debug HTTP surface takes snapshots
// from outside the reactor goroutine — no actual network I/O happens here,
// so there is nothing to serialize against other graph mutations.
func (r *Reactor) Fetch(session shared.SessionID, object shared.DataObjectID) (shared.GovernorID, int64, shared.DataType, *shared.Error) {
	if object.Session != session {
		return "", 0, "", shared.Submission("object %s does not belong to session %d", object, session)
	}
	obj, ok := r.graph.Object(object)
	if !ok {
		return "", 0, "", shared.Submission("unknown object %s", object)
	}
	switch obj.State {
	case graph.ObjectRemoved:
		return "", 0, "", shared.Session("object %s has already been removed", object)
	case graph.ObjectFinished:
		for g := range obj.Located {
			return g, obj.Size, obj.DataType, nil
		}
		return "", 0, "", shared.Session("object %s is finished but not located at any governor", object)
	default:
		return "", 0, "", shared.Submission("object %s is not finished yet", object)
	}
}

func (r *Reactor) Graph() *graph.Graph { return r.graph }
