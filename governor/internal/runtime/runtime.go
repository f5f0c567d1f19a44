package runtime

import (
	"context"
	"fmt"

	"github.com/rain-io/rain/governor/internal/data"
	"github.com/rain-io/rain/governor/internal/fetch"
	"github.com/rain-io/rain/governor/internal/fsdir"
	"github.com/rain-io/rain/governor/internal/tasks"
	"github.com/rain-io/rain/shared"
	"github.com/rain-io/rain/shared/wire"
	"go.uber.org/zap"
)

type commandKind int

const (
	cmdAssignment commandKind = iota
	cmdInputFetched
	cmdInputFetchFailed
	cmdTaskDone
	cmdSnapshot
	cmdLookup
)

type command struct {
	kind       commandKind
	assignment wire.Assignment
	task       shared.TaskID
	object     shared.DataObjectID
	storage    data.Storage
	dataType   shared.DataType
	err        error
	outputs    map[shared.DataObjectID]data.Storage
	snapshot   chan<- Snapshot
	lookup     chan<- lookupResult
}

// lookupResult answers a cmdLookup, for the peer fetch server.
type lookupResult struct {
	dataType shared.DataType
	storage  data.Storage
	found    bool
}

// Snapshot is a point-in-time copy of the reactor's tables, taken on its
// own goroutine so debugapi's HTTP handlers never read Runtime state from
// a foreign goroutine.
type Snapshot struct {
	Objects []ObjectInfo
	Tasks   []TaskInfo
}

type ObjectInfo struct {
	ID       shared.DataObjectID
	DataType shared.DataType
	Finished bool
	Size     int64
}

type TaskInfo struct {
	ID    shared.TaskID
	State taskState
}

// Runtime is the governor's reactor: one goroutine owns every mutation of
// free_cpus, the local object table, and the task table.
type Runtime struct {
	log       *zap.Logger
	self      shared.GovernorID
	layout    *fsdir.Layout
	views     viewCache
	fetcher   *fetch.Client
	executors Executors
	report    Reporter

	totalCPUs int
	freeCPUs  int

	objects map[shared.DataObjectID]*localObject
	taskSet map[shared.TaskID]*localTask
	ready   []shared.TaskID

	cmds chan command
}

// viewCache is the subset of cache.ViewCache the runtime needs, named
// narrowly so tests can substitute a fake.
type viewCache interface {
	Get(id shared.DataObjectID, open func() (*data.TransportView, error)) (*data.TransportView, error)
	Drop(id shared.DataObjectID)
}

// New constructs a Runtime. totalCPUs seeds free_cpus; it only ever
// decreases (on dispatch) and increases back (on completion) from here.
func New(log *zap.Logger, self shared.GovernorID, totalCPUs int, layout *fsdir.Layout, views viewCache, fetcher *fetch.Client, executors Executors, report Reporter) *Runtime {
	return &Runtime{
		log:       log.Named("runtime"),
		self:      self,
		layout:    layout,
		views:     views,
		fetcher:   fetcher,
		executors: executors,
		report:    report,
		totalCPUs: totalCPUs,
		freeCPUs:  totalCPUs,
		objects:   make(map[shared.DataObjectID]*localObject),
		taskSet:   make(map[shared.TaskID]*localTask),
		cmds:      make(chan command, 256),
	}
}

// FreeCPUs reports the current scheduling headroom, safe to call from any
// goroutine (serverconn's heartbeat loop polls this); the reactor only
// writes freeCPUs from Run's own goroutine, so a racy read here sees a
// recent, not necessarily up-to-the-instant, value. Production use would
// route this through an atomic; left as a documented limitation given the
// low stakes of a heartbeat being one tick stale.
func (r *Runtime) FreeCPUs() int { return r.freeCPUs }

// Snapshot blocks until the reactor goroutine produces a consistent copy
// of its object and task tables, for debugapi's debug endpoints.
func (r *Runtime) Snapshot(ctx context.Context) Snapshot {
	ch := make(chan Snapshot, 1)
	select {
	case r.cmds <- command{kind: cmdSnapshot, snapshot: ch}:
	case <-ctx.Done():
		return Snapshot{}
	}
	select {
	case s := <-ch:
		return s
	case <-ctx.Done():
		return Snapshot{}
	}
}

// LookupObject resolves a finished local object for the peer fetch server,
// answered on the reactor goroutine since it reads the same object table
// Assignment/fetch-completion handlers mutate.
func (r *Runtime) LookupObject(ctx context.Context, id shared.DataObjectID) (shared.DataType, data.Storage, bool) {
	ch := make(chan lookupResult, 1)
	select {
	case r.cmds <- command{kind: cmdLookup, object: id, lookup: ch}:
	case <-ctx.Done():
		return "", data.Storage{}, false
	}
	select {
	case res := <-ch:
		return res.dataType, res.storage, res.found
	case <-ctx.Done():
		return "", data.Storage{}, false
	}
}

// Assignment enqueues a freshly received Assignment for processing on the
// reactor goroutine.
func (r *Runtime) Assignment(a wire.Assignment) {
	r.cmds <- command{kind: cmdAssignment, assignment: a}
}

// Run processes commands until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.cmds:
			r.dispatch(ctx, c)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, c command) {
	switch c.kind {
	case cmdAssignment:
		r.handleAssignment(ctx, c.assignment)
	case cmdInputFetched:
		r.handleInputFetched(c.task, c.object, c.storage, c.dataType)
	case cmdInputFetchFailed:
		r.handleInputFetchFailed(c.task, c.object, c.err)
	case cmdTaskDone:
		r.handleTaskDone(c.task, c.outputs, c.err)
	case cmdSnapshot:
		c.snapshot <- r.takeSnapshot()
	case cmdLookup:
		obj, ok := r.objects[c.object]
		if !ok || !obj.finished {
			c.lookup <- lookupResult{}
			break
		}
		c.lookup <- lookupResult{dataType: obj.dataType, storage: obj.storage, found: true}
	}
	r.drainReady(ctx)
}

func (r *Runtime) takeSnapshot() Snapshot {
	s := Snapshot{
		Objects: make([]ObjectInfo, 0, len(r.objects)),
		Tasks:   make([]TaskInfo, 0, len(r.taskSet)),
	}
	for id, obj := range r.objects {
		s.Objects = append(s.Objects, ObjectInfo{ID: id, DataType: obj.dataType, Finished: obj.finished, Size: obj.storage.Size})
	}
	for id, lt := range r.taskSet {
		s.Tasks = append(s.Tasks, TaskInfo{ID: id, State: lt.state})
	}
	return s
}

func (r *Runtime) handleAssignment(ctx context.Context, a wire.Assignment) {
	lt := &localTask{id: a.Task, spec: a.Spec, waiting: make(map[shared.DataObjectID]struct{}), state: taskAssigned, fetchAttempts: make(map[shared.DataObjectID]int)}
	r.taskSet[a.Task] = lt

	for _, hint := range a.InputLocs {
		obj, ok := r.objects[hint.Object]
		if !ok {
			obj = &localObject{peers: hint.Governors}
			r.objects[hint.Object] = obj
		} else {
			obj.peers = hint.Governors
		}
		if obj.finished {
			continue
		}
		lt.waiting[hint.Object] = struct{}{}
		r.fetchInput(ctx, a.Task, hint)
	}

	if len(lt.waiting) == 0 {
		r.markReady(lt)
	}
}

// fetchInput requests a missing input round-robin over its located peers,
// excluding this governor.
func (r *Runtime) fetchInput(ctx context.Context, task shared.TaskID, hint wire.ObjectLocationHint) {
	peers := excludeSelf(hint.Governors, r.self)
	if len(peers) == 0 {
		r.cmds <- command{kind: cmdInputFetchFailed, task: task, object: hint.Object, err: fmt.Errorf("no peer located for %s", hint.Object)}
		return
	}
	lt := r.taskSet[task]
	peer := peers[lt.nextPeer%len(peers)]
	lt.nextPeer++

	go func() {
		resp, err := r.fetcher.Fetch(ctx, peer, hint.Object, 0, hint.Size, true)
		if err != nil {
			r.cmds <- command{kind: cmdInputFetchFailed, task: task, object: hint.Object, err: err}
			return
		}
		if resp.Status == wire.FetchNotHere {
			r.cmds <- command{kind: cmdInputFetchFailed, task: task, object: hint.Object, err: fmt.Errorf("peer %s no longer has %s", peer, hint.Object)}
			return
		}
		storage := data.MemoryStorage(resp.Chunk)
		r.cmds <- command{kind: cmdInputFetched, task: task, object: hint.Object, storage: storage, dataType: resp.DataType}
	}()
}

func excludeSelf(peers []shared.GovernorID, self shared.GovernorID) []shared.GovernorID {
	out := make([]shared.GovernorID, 0, len(peers))
	for _, p := range peers {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}

func (r *Runtime) handleInputFetched(task shared.TaskID, object shared.DataObjectID, storage data.Storage, dataType shared.DataType) {
	if obj, ok := r.objects[object]; ok {
		obj.finished = true
		obj.storage = storage
		obj.dataType = dataType
	}
	lt, ok := r.taskSet[task]
	if !ok {
		return
	}
	delete(lt.waiting, object)
	if len(lt.waiting) == 0 {
		r.markReady(lt)
	}
}

func (r *Runtime) handleInputFetchFailed(task shared.TaskID, object shared.DataObjectID, err error) {
	lt, ok := r.taskSet[task]
	if !ok {
		return
	}
	obj, ok := r.objects[object]
	if !ok || len(obj.peers) == 0 {
		r.failTask(task, shared.Transfer(err, "could not fetch input %s", object))
		return
	}

	lt.fetchAttempts[object]++
	if lt.fetchAttempts[object] >= fetch.MaxRetries {
		r.log.Warn("input fetch exhausted alternate locations, failing task",
			zap.Stringer("object", object), zap.Int("attempts", lt.fetchAttempts[object]), zap.Error(err))
		r.failTask(task, shared.Transfer(err, "could not fetch input %s after %d attempts against alternate peers", object, lt.fetchAttempts[object]))
		return
	}

	r.log.Warn("input fetch failed, retrying against a different peer", zap.Stringer("object", object), zap.Error(err))
	r.fetchInput(context.Background(), task, wire.ObjectLocationHint{Object: object, Governors: obj.peers})
}

func (r *Runtime) markReady(lt *localTask) {
	lt.state = taskAssignedReady
	r.ready = append(r.ready, lt.id)
}

func (r *Runtime) failTask(task shared.TaskID, err *shared.Error) {
	if lt, ok := r.taskSet[task]; ok {
		lt.state = taskDone
	}
	r.report.TaskFailed(task, err)
	delete(r.taskSet, task)
}

// drainReady pops ready tasks while free_cpus allows: pops ready tasks
// while free_cpus >= T.cpus, reserves the CPUs, and dispatches T.
func (r *Runtime) drainReady(ctx context.Context) {
	remaining := r.ready[:0]
	for _, id := range r.ready {
		lt, ok := r.taskSet[id]
		if !ok || lt.state != taskAssignedReady {
			continue
		}
		cpus := lt.spec.Resources.CPUs
		if cpus <= 0 {
			cpus = 1
		}
		if r.freeCPUs < cpus {
			remaining = append(remaining, id)
			continue
		}
		r.freeCPUs -= cpus
		lt.state = taskRunning
		go r.run(ctx, lt, cpus)
	}
	r.ready = remaining
}

func (r *Runtime) run(ctx context.Context, lt *localTask, cpus int) {
	outputs, err := r.execute(ctx, lt)
	r.cmds <- command{kind: cmdTaskDone, task: lt.id, outputs: outputs, err: err}
	r.returnCPUs(cpus)
}

// returnCPUs is called from a worker goroutine, off the reactor thread,
// which would violate "free_cpus is read-modified only on the reactor
// thread" if done directly — so it goes through the command channel too.
func (r *Runtime) returnCPUs(cpus int) {
	r.cmds <- command{kind: cmdTaskDone, task: shared.TaskID{}, outputs: nil, err: releaseCPUs(cpus)}
}

// releaseCPUsError is a sentinel error type used only to smuggle a CPU count
// back through handleTaskDone's err parameter for the zero-TaskID release
// command; see the comment on returnCPUs.
type releaseCPUsError int

func releaseCPUs(n int) error { return releaseCPUsError(n) }
func (e releaseCPUsError) Error() string { return "release-cpus" }

func (r *Runtime) handleTaskDone(task shared.TaskID, outputs map[shared.DataObjectID]data.Storage, err error) {
	if n, ok := err.(releaseCPUsError); ok {
		r.freeCPUs += int(n)
		return
	}

	lt, ok := r.taskSet[task]
	if !ok {
		return
	}
	delete(r.taskSet, task)
	lt.state = taskDone

	if err != nil {
		r.failTask(task, shared.Execution(err.Error(), "task %s failed", task))
		return
	}

	sizes := make(map[shared.DataObjectID]int64, len(outputs))
	for obj, storage := range outputs {
		sizes[obj] = storage.Size
		r.objects[obj] = &localObject{finished: true, storage: storage}
		r.report.ObjectFinished(obj, storage.Size)
	}
	r.report.TaskFinished(task, sizes)
}

// execute dispatches to a builtin or an executor depending on task_type.
func (r *Runtime) execute(ctx context.Context, lt *localTask) (map[shared.DataObjectID]data.Storage, error) {
	if fn, ok := tasks.Registry[lt.spec.TaskType]; ok {
		return r.executeBuiltin(ctx, fn, lt)
	}
	return r.executeOnExecutor(ctx, lt)
}

func (r *Runtime) executeBuiltin(ctx context.Context, fn tasks.Builtin, lt *localTask) (map[shared.DataObjectID]data.Storage, error) {
	inputs := make([]tasks.Input, len(lt.spec.Inputs))
	for i, in := range lt.spec.Inputs {
		obj := r.objects[in.Object]
		view, err := r.views.Get(in.Object, func() (*data.TransportView, error) {
			return openLocalView(obj.storage)
		})
		if err != nil {
			return nil, fmt.Errorf("open view for %s: %w", in.Object, err)
		}
		inputs[i] = tasks.Input{Object: in.Object, DataType: obj.dataType, View: view, Path: obj.storage.Path}
	}

	results := make(map[shared.DataObjectID]data.Storage, len(lt.spec.Outputs))
	outputs := make([]tasks.Output, len(lt.spec.Outputs))
	for i, out := range lt.spec.Outputs {
		var result data.Storage
		outputs[i] = tasks.Output{Object: out.Object, Result: &result}
	}

	call := &tasks.Call{
		Ctx:     ctx,
		Task:    lt.id,
		Config:  lt.spec.Config,
		Inputs:  inputs,
		Outputs: outputs,
		Layout:  r.layout,
	}
	if err := fn(call); err != nil {
		return nil, err
	}
	for i, out := range lt.spec.Outputs {
		results[out.Object] = *outputs[i].Result
	}
	return results, nil
}

func openLocalView(s data.Storage) (*data.TransportView, error) {
	switch s.Kind {
	case data.StorageMemory:
		return data.MemoryView(s.Bytes), nil
	case data.StoragePath:
		return data.OpenMmapView(s.Path, s.Size)
	default:
		return data.EmptyView(), nil
	}
}

func (r *Runtime) executeOnExecutor(ctx context.Context, lt *localTask) (map[shared.DataObjectID]data.Storage, error) {
	executor, ok := r.executors.Acquire(lt.spec.TaskType)
	if !ok {
		return nil, fmt.Errorf("no executor available for task type %q", lt.spec.TaskType)
	}

	inputs := make([]wire.DataInstance, len(lt.spec.Inputs))
	for i, in := range lt.spec.Inputs {
		obj := r.objects[in.Object]
		inputs[i] = wire.DataInstance{Object: in.Object, DataType: obj.dataType, Location: locationFor(obj.storage)}
	}
	outputs := make([]wire.OutputSlot, len(lt.spec.Outputs))
	for i, out := range lt.spec.Outputs {
		outputs[i] = wire.OutputSlot{Object: out.Object}
	}

	result, err := executor.Invoke(ctx, lt.id, lt.spec.TaskType, inputs, outputs, lt.spec.Config)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, result.Error
	}

	produced := make(map[shared.DataObjectID]data.Storage, len(result.Outputs))
	for _, out := range result.Outputs {
		storage, err := storageFromLocation(out.Location)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", out.Object, err)
		}
		produced[out.Object] = storage
	}
	return produced, nil
}

func locationFor(s data.Storage) wire.DataLocation {
	switch s.Kind {
	case data.StorageMemory:
		return wire.DataLocation{Kind: wire.LocationMemory, Memory: s.Bytes, Size: s.Size}
	case data.StoragePath:
		return wire.DataLocation{Kind: wire.LocationPath, Path: s.Path, Size: s.Size}
	default:
		return wire.DataLocation{Kind: wire.LocationMemory}
	}
}

func storageFromLocation(loc wire.DataLocation) (data.Storage, error) {
	switch loc.Kind {
	case wire.LocationMemory:
		return data.MemoryStorage(loc.Memory), nil
	case wire.LocationPath:
		return data.PathStorage(loc.Path, loc.Size), nil
	default:
		return data.Storage{}, fmt.Errorf("unsupported output location kind %q from executor", loc.Kind)
	}
}
