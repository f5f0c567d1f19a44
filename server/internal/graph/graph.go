package graph

import (
	"fmt"
	"sync"
	"time"

	"github.com/rain-io/rain/shared"
)

// Graph is the server's single authoritative copy of session/task/object
// state. It is not safe for concurrent use by itself: the reactor that owns
// it (server/internal/rpc) serializes every other mutation through one
// goroutine, the same single-threaded-cooperative-loop design the governor
// runtime uses on its own side. The mutex here lets OpenSession allocate a
// session from a listener goroutine, and lets the debug HTTP surface and
// the reactor's Fetch read from goroutines other than the reactor's.
type Graph struct {
	mu sync.RWMutex

	nextSession shared.SessionID
	sessions    map[shared.SessionID]*Session
	tasks       map[shared.TaskID]*Task
	objects     map[shared.DataObjectID]*DataObject
	governors   map[shared.GovernorID]*GovernorRecord
}

func New() *Graph {
	return &Graph{
		sessions:  make(map[shared.SessionID]*Session),
		tasks:     make(map[shared.TaskID]*Task),
		objects:   make(map[shared.DataObjectID]*DataObject),
		governors: make(map[shared.GovernorID]*GovernorRecord),
	}
}

// OpenSession allocates a new SessionID for a connecting client.
func (g *Graph) OpenSession(client shared.ClientID) shared.SessionID {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextSession++
	id := g.nextSession
	g.sessions[id] = &Session{
		ID:      id,
		Client:  client,
		Tasks:   make(map[shared.TaskID]struct{}),
		Objects: make(map[shared.DataObjectID]struct{}),
		Opened:  time.Now(),
	}
	return id
}

// Submit validates and, if valid, admits a SessionSpec atomically: either
// every task and object is added to the graph, or none are, and the graph
// is left bitwise identical on rejection. Rule order:
//  1. every ordinal within the batch is unique
//  2. every TaskInput/TaskOutput references an ordinal present in the batch
//     or an already-admitted object of the same session
//  3. the input/output relation contains no cycle
//  4. every ObjectSpec's DataType is blob or directory; Content itself is
//     not inspected
//
// Resource requests are not checked here: a task that no governor can fit
// is admitted and stays Ready until the scheduler finds room for it.
func (g *Graph) Submit(session shared.SessionID, spec shared.SessionSpec) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess, ok := g.sessions[session]
	if !ok {
		return shared.Submission("unknown session %d", session)
	}
	if sess.Failed {
		return shared.Submission("session %d already failed, rejecting further submissions", session)
	}

	if err := validateOrdinals(spec); err != nil {
		return err
	}
	if err := validateReferences(spec, func(ordinal uint64) bool {
		_, ok := g.objects[shared.DataObjectID{Session: session, Ordinal: ordinal}]
		return ok
	}); err != nil {
		return err
	}
	if err := validateAcyclic(spec); err != nil {
		return err
	}
	if err := validateContent(spec); err != nil {
		return err
	}

	// Stage new entities before touching the live maps so a late failure
	// (none expected past this point, but kept for defense-in-depth
	// symmetry with the validate pass) can never leave a partial commit.
	newTasks := make([]*Task, 0, len(spec.Tasks))
	newObjects := make([]*DataObject, 0, len(spec.Objects))

	for _, os := range spec.Objects {
		id := shared.DataObjectID{Session: session, Ordinal: os.Ordinal}
		if _, exists := g.objects[id]; exists {
			return shared.Submission("object %s already exists", id)
		}
		obj := newDataObject(id, os.Label, os.DataType, shared.TaskID{})
		obj.ContentType = os.ContentType
		obj.UserInfo = os.UserInfo
		obj.Keep = os.Keep
		if len(os.Content) > 0 {
			obj.State = ObjectFinished
			obj.Size = int64(len(os.Content))
		}
		newObjects = append(newObjects, obj)
	}

	for _, ts := range spec.Tasks {
		id := shared.TaskID{Session: session, Ordinal: ts.Ordinal}
		if _, exists := g.tasks[id]; exists {
			return shared.Submission("task %s already exists", id)
		}
		t := newTask(id, ts)
		newTasks = append(newTasks, t)
	}

	for _, obj := range newObjects {
		g.objects[obj.ID] = obj
		sess.Objects[obj.ID] = struct{}{}
	}
	for _, t := range newTasks {
		for _, in := range t.Inputs {
			if obj, ok := g.objects[in]; ok && obj.State != ObjectFinished {
				t.WaitingFor[in] = struct{}{}
			}
			if obj, ok := g.objects[in]; ok {
				obj.Consumers[t.ID] = struct{}{}
			}
		}
		for _, out := range t.Outputs {
			if obj, ok := g.objects[out]; ok {
				obj.Producer = t.ID
			}
		}
		if len(t.WaitingFor) == 0 {
			t.State = TaskReady
		}
		g.tasks[t.ID] = t
		sess.Tasks[t.ID] = struct{}{}
	}

	return nil
}

func validateOrdinals(spec shared.SessionSpec) error {
	seen := make(map[uint64]struct{})
	for _, t := range spec.Tasks {
		if _, dup := seen[t.Ordinal]; dup {
			return shared.Submission("duplicate task ordinal %d", t.Ordinal)
		}
		seen[t.Ordinal] = struct{}{}
	}
	seenObj := make(map[uint64]struct{})
	for _, o := range spec.Objects {
		if _, dup := seenObj[o.Ordinal]; dup {
			return shared.Submission("duplicate object ordinal %d", o.Ordinal)
		}
		seenObj[o.Ordinal] = struct{}{}
	}
	return nil
}

func validateReferences(spec shared.SessionSpec, admitted func(uint64) bool) error {
	known := make(map[uint64]struct{}, len(spec.Objects))
	for _, o := range spec.Objects {
		known[o.Ordinal] = struct{}{}
	}
	for _, t := range spec.Tasks {
		for _, in := range t.Inputs {
			if _, ok := known[in.Object.Ordinal]; !ok && !admitted(in.Object.Ordinal) {
				return shared.Submission("task %d references unknown object ordinal %d", t.Ordinal, in.Object.Ordinal)
			}
		}
		for _, out := range t.Outputs {
			if _, ok := known[out.Object.Ordinal]; !ok && !admitted(out.Object.Ordinal) {
				return shared.Submission("task %d references unknown object ordinal %d", t.Ordinal, out.Object.Ordinal)
			}
		}
	}
	return nil
}

func validateAcyclic(spec shared.SessionSpec) error {
	producerOf := make(map[uint64]uint64) // object ordinal -> task ordinal
	for _, t := range spec.Tasks {
		for _, out := range t.Outputs {
			producerOf[out.Object.Ordinal] = t.Ordinal
		}
	}
	consumerEdges := make(map[uint64][]uint64) // task ordinal -> task ordinals depending on it
	for _, t := range spec.Tasks {
		for _, in := range t.Inputs {
			if producer, ok := producerOf[in.Object.Ordinal]; ok {
				consumerEdges[producer] = append(consumerEdges[producer], t.Ordinal)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uint64]int)
	var visit func(uint64) error
	visit = func(n uint64) error {
		switch color[n] {
		case black:
			return nil
		case gray:
			return shared.Submission("cycle detected through task ordinal %d", n)
		}
		color[n] = gray
		for _, next := range consumerEdges[n] {
			if err := visit(next); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}
	for _, t := range spec.Tasks {
		if err := visit(t.Ordinal); err != nil {
			return err
		}
	}
	return nil
}

func validateContent(spec shared.SessionSpec) error {
	for _, o := range spec.Objects {
		if o.DataType != shared.DataTypeBlob && o.DataType != shared.DataTypeDirectory {
			return shared.Submission("object %d has unknown data_type %q", o.Ordinal, o.DataType)
		}
	}
	return nil
}

// CheckConsistency walks both directions of every task<->object relation
// and returns the first violation found. The reactor runs it after each
// command when RAIN_DEBUG_CONSISTENCY=1, and graph_test.go calls it
// directly.
func (g *Graph) CheckConsistency() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, obj := range g.objects {
		if id != obj.ID {
			return fmt.Errorf("object keyed under %s but has ID %s", id, obj.ID)
		}
		for governorID := range obj.Located {
			if _, assigned := obj.Assigned[governorID]; !assigned {
				return fmt.Errorf("object %s located at %s without being assigned there", id, governorID)
			}
		}
		if obj.State == ObjectFinished && len(obj.Located) == 0 {
			return fmt.Errorf("object %s is finished but located nowhere", id)
		}
		if !obj.Producer.IsZero() {
			producer, ok := g.tasks[obj.Producer]
			if !ok {
				return fmt.Errorf("object %s claims producer %s which does not exist", id, obj.Producer)
			}
			found := false
			for _, out := range producer.Outputs {
				if out == id {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("task %s does not list %s as an output but is its producer", obj.Producer, id)
			}
		}
		for consumer := range obj.Consumers {
			task, ok := g.tasks[consumer]
			if !ok {
				return fmt.Errorf("object %s lists consumer %s which does not exist", id, consumer)
			}
			found := false
			for _, in := range task.Inputs {
				if in == id {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("task %s does not list %s as an input but is a recorded consumer", consumer, id)
			}
		}
	}

	for id, task := range g.tasks {
		if id != task.ID {
			return fmt.Errorf("task keyed under %s but has ID %s", id, task.ID)
		}
		for _, in := range task.Inputs {
			obj, ok := g.objects[in]
			if !ok {
				return fmt.Errorf("task %s has input %s which does not exist", id, in)
			}
			if _, ok := obj.Consumers[id]; !ok {
				return fmt.Errorf("object %s does not list %s as a consumer but is its input", in, id)
			}
		}
		for _, out := range task.Outputs {
			obj, ok := g.objects[out]
			if !ok {
				return fmt.Errorf("task %s has output %s which does not exist", id, out)
			}
			if obj.Producer != id {
				return fmt.Errorf("object %s does not list %s as producer but is its output", out, id)
			}
		}
	}
	return nil
}

// Task returns a copy-free pointer to the live task record. Callers in the
// reactor goroutine may mutate it directly; callers elsewhere must not.
func (g *Graph) Task(id shared.TaskID) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	return t, ok
}

func (g *Graph) Object(id shared.DataObjectID) (*DataObject, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.objects[id]
	return o, ok
}

// Session returns the session record, for callers (the reactor's fetch and
// unkeep handling) that need to check membership or the Failed flag without
// walking the whole graph.
func (g *Graph) Session(id shared.SessionID) (*Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[id]
	return s, ok
}

// Tasks returns a snapshot slice of every task currently in the graph, for
// the scheduler and the debug surface.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	return out
}

func (g *Graph) Objects() []*DataObject {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*DataObject, 0, len(g.objects))
	for _, o := range g.objects {
		out = append(out, o)
	}
	return out
}

// RegisterGovernor adds or reactivates a governor record.
func (g *Graph) RegisterGovernor(id shared.GovernorID, res shared.Resources) *GovernorRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.governors[id]
	if !ok {
		rec = &GovernorRecord{ID: id}
		g.governors[id] = rec
	}
	rec.Resources = res
	rec.FreeCPUs = res.CPUs
	rec.Connected = true
	rec.LastSeen = time.Now()
	return rec
}

// RemoveGovernor marks a governor disconnected and force-fails every task
// currently assigned to it (the lost-governor cascade), then cascades that
// failure to the rest of each affected session via failSessionLocked. It
// returns every task that was force-failed, directly or by cascade, so the
// caller can emit a GovernorRemoved event carrying their IDs.
func (g *Graph) RemoveGovernor(id shared.GovernorID) []shared.TaskID {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.governors[id]
	if !ok {
		return nil
	}
	rec.Connected = false

	var failed []shared.TaskID
	sessionsToFail := make(map[shared.SessionID]struct{})
	for _, t := range g.tasks {
		if t.Governor != id {
			continue
		}
		if t.State == TaskFinished || t.State == TaskFailed {
			continue
		}
		t.State = TaskFailed
		t.Err = shared.Session("owning governor %s disconnected", id).WithTask(t.ID)
		failed = append(failed, t.ID)
		sessionsToFail[t.ID.Session] = struct{}{}
	}
	for s := range sessionsToFail {
		failed = append(failed, g.failSessionLocked(s)...)
	}
	for _, o := range g.objects {
		delete(o.Located, id)
		delete(o.Assigned, id)
	}
	return failed
}

// FailSession cascades a session-fatal failure: every non-terminal task in
// the session is marked Failed and every non-Finished object is marked
// Removed. Used when a reported task failure fails its whole session, and
// internally by RemoveGovernor for the sessions a lost governor touches.
func (g *Graph) FailSession(session shared.SessionID) []shared.TaskID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failSessionLocked(session)
}

// failSessionLocked assumes the caller already holds g.mu.
func (g *Graph) failSessionLocked(session shared.SessionID) []shared.TaskID {
	sess, ok := g.sessions[session]
	if !ok {
		return nil
	}
	sess.Failed = true

	var failed []shared.TaskID
	for taskID := range sess.Tasks {
		t, ok := g.tasks[taskID]
		if !ok || t.State == TaskFinished || t.State == TaskFailed {
			continue
		}
		t.State = TaskFailed
		t.Err = shared.Session("session %d failed, cancelling sibling task", session).WithTask(t.ID)
		failed = append(failed, t.ID)
	}
	for objID := range sess.Objects {
		obj, ok := g.objects[objID]
		if !ok || obj.State == ObjectFinished {
			continue
		}
		obj.State = ObjectRemoved
	}
	return failed
}

func (g *Graph) Governors() []*GovernorRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*GovernorRecord, 0, len(g.governors))
	for _, r := range g.governors {
		out = append(out, r)
	}
	return out
}
