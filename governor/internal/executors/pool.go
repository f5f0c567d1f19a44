// Package executors implements runtime.Executors: it spawns executor
// subprocesses on demand via supervisor, completes their handshake via
// executorproto, and hands back a connection matched to the task_type
// prefix that asked for it. Registration is a map from task_type prefix
// (the portion before the first "/") to a Recipe describing how to spawn
// that executor: dynamic dispatch for task kinds.
package executors

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rain-io/rain/governor/internal/executorproto"
	"github.com/rain-io/rain/governor/internal/fsdir"
	"github.com/rain-io/rain/governor/internal/runtime"
	"github.com/rain-io/rain/governor/internal/supervisor"
	"github.com/rain-io/rain/shared"
	"go.uber.org/zap"
)

// Recipe describes how to spawn the executor subprocess that handles a
// task_type prefix.
type Recipe struct {
	Prefix string
	Path   string
	Args   []string
	Env    []string
}

// Pool lazily spawns one executor process per distinct task_type prefix
// and reuses it for subsequent tasks of the same prefix. A single executor
// processes Calls strictly sequentially: every caller gets the same
// *executorproto.Conn, whose Invoke already serializes concurrent callers
// behind a mutex.
type Pool struct {
	log       *zap.Logger
	self      shared.GovernorID
	layout    *fsdir.Layout
	logDir    string
	listener  *executorproto.Listener
	recipes   map[string]Recipe

	nextOrdinal uint32

	mu      sync.Mutex
	pending map[shared.ExecutorID]chan *executorproto.Conn
	live    map[string]*executorproto.Conn // prefix -> conn
}

// New binds the shared executor socket used by every spawned subprocess
// for this governor (the path is handed to each child via
// RAIN_EXECUTOR_SOCKET; children are told apart by the ExecutorID they
// announce at Register, not by socket path) and starts accepting on it.
// logDir is where each spawned executor's stdout/stderr are captured,
// per the governor's --log-dir flag.
func New(ctx context.Context, log *zap.Logger, self shared.GovernorID, layout *fsdir.Layout, logDir string, recipes []Recipe) (*Pool, error) {
	sockPath := filepath.Join(layout.ExecutorsWorkDir(), "executors.sock")
	ln, err := executorproto.Listen(log, sockPath)
	if err != nil {
		return nil, fmt.Errorf("listen executor socket: %w", err)
	}

	byPrefix := make(map[string]Recipe, len(recipes))
	for _, r := range recipes {
		byPrefix[r.Prefix] = r
	}

	p := &Pool{
		log:      log.Named("executors"),
		self:     self,
		layout:   layout,
		logDir:   logDir,
		listener: ln,
		recipes:  byPrefix,
		pending:  make(map[shared.ExecutorID]chan *executorproto.Conn),
		live:     make(map[string]*executorproto.Conn),
	}
	ln.OnReady = p.onReady
	go ln.Serve(ctx)
	return p, nil
}

func (p *Pool) onReady(conn *executorproto.Conn) {
	id := conn.ExecutorID()
	p.mu.Lock()
	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if !ok {
		p.log.Warn("executor registered without a matching spawn request, closing", zap.Stringer("executor_id", id))
		conn.Close()
		return
	}
	ch <- conn
}

// Acquire implements runtime.Executors: it looks up the recipe registered
// for taskType's prefix (the text before the first "/"), spawning the
// executor on first use.
func (p *Pool) Acquire(taskType string) (runtime.Executor, bool) {
	prefix := prefixOf(taskType)
	recipe, ok := p.recipes[prefix]
	if !ok {
		return nil, false
	}

	p.mu.Lock()
	if conn, ok := p.live[prefix]; ok {
		p.mu.Unlock()
		return conn, true
	}
	p.mu.Unlock()

	conn, err := p.spawn(recipe)
	if err != nil {
		p.log.Error("failed to spawn executor", zap.String("prefix", prefix), zap.Error(err))
		return nil, false
	}

	p.mu.Lock()
	p.live[prefix] = conn
	p.mu.Unlock()
	return conn, true
}

func prefixOf(taskType string) string {
	if i := strings.IndexByte(taskType, '/'); i >= 0 {
		return taskType[:i]
	}
	return taskType
}

// declaresPrefix reports whether taskTypes contains at least one entry
// whose prefix (the portion before "/", or the whole string) equals want.
func declaresPrefix(taskTypes []string, want string) bool {
	for _, t := range taskTypes {
		if prefixOf(t) == want {
			return true
		}
	}
	return false
}

func (p *Pool) spawn(recipe Recipe) (*executorproto.Conn, error) {
	ordinal := atomic.AddUint32(&p.nextOrdinal, 1)
	id := shared.ExecutorID{Governor: p.self, Ordinal: ordinal}

	workDir, err := p.layout.ExecutorWorkDir(id)
	if err != nil {
		return nil, fmt.Errorf("executor work dir: %w", err)
	}
	readyFile := filepath.Join(workDir, "ready")

	ch := make(chan *executorproto.Conn, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()

	env := append([]string{
		"RAIN_EXECUTOR_SOCKET=" + p.listener.Addr(),
		fmt.Sprintf("RAIN_EXECUTOR_ID=%s", id),
	}, recipe.Env...)

	proc, err := supervisor.Spawn(context.Background(), p.log, supervisor.Spec{
		ExecutorID: id,
		Path:       recipe.Path,
		Args:       recipe.Args,
		Env:        env,
		WorkDir:    workDir,
		LogDir:     p.logDir,
		ReadyFile:  readyFile,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return nil, err
	}

	select {
	case conn := <-ch:
		if conn.ExecutorID() != id {
			conn.Close()
			proc.Stop()
			return nil, fmt.Errorf("executor registered with id %s, expected %s: fatal spawn mismatch", conn.ExecutorID(), id)
		}
		if !declaresPrefix(conn.TaskTypes(), recipe.Prefix) {
			conn.Close()
			proc.Stop()
			return nil, fmt.Errorf("executor %s registered with task types %v, expected prefix %q: fatal spawn mismatch", id, conn.TaskTypes(), recipe.Prefix)
		}
		return conn, nil
	case <-time.After(supervisor.DefaultReadyTimeout):
		proc.Stop()
		return nil, fmt.Errorf("executor %s never registered on the executor socket", id)
	}
}

// Close tears down the shared listener only. The pool does not keep the
// spawned supervisor processes, so neither they nor their live connections
// are stopped here.
func (p *Pool) Close() error {
	return p.listener.Close()
}
