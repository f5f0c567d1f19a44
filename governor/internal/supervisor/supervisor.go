// Package supervisor spawns and tears down executor subprocesses: one
// process per (task_type, work_dir) pair, readiness detected by polling
// for a ready-file the child is expected to create, shutdown by SIGTERM
// then SIGKILL after a grace period: capture stdout/stderr, apply a
// timeout via the context, report a structured outcome, generalized here
// to a long-lived process instead of a one-shot hook.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rain-io/rain/shared"
	"go.uber.org/zap"
)

// ReadyPollInterval is how often the supervisor checks for a spawned
// process's ready-file.
const ReadyPollInterval = 50 * time.Millisecond

// DefaultReadyTimeout is how long the supervisor waits for a ready-file
// before declaring the spawn a fatal failure.
const DefaultReadyTimeout = 30 * time.Second

// TermGrace is how long a process is given to exit after SIGTERM before
// the supervisor escalates to SIGKILL.
const TermGrace = 5 * time.Second

// Spec describes one process to spawn.
type Spec struct {
	ExecutorID  shared.ExecutorID
	Path        string   // executable path
	Args        []string
	Env         []string // appended to os.Environ()
	WorkDir     string   // process cwd, also where the ready-file is looked for
	LogDir      string   // stdout/stderr redirected to <LogDir>/<Governor>-<Ordinal>.{out,err}
	ReadyFile   string   // absolute path; presence means the process is ready
	ReadyTimeout time.Duration
}

// Process is a spawned, running (or exited) child.
type Process struct {
	spec   Spec
	cmd    *exec.Cmd
	log    *zap.Logger
	exited chan struct{}
	waitErr error
}

// Spawn starts the process described by spec, redirecting its stdout and
// stderr to per-process log files under spec.LogDir, and blocks until
// either its ready-file appears or spec.ReadyTimeout (DefaultReadyTimeout
// if zero) elapses, in which case the process is killed and an error
// returned — a fatal spawn failure per the registration rule that a
// mismatched or absent executor is never retried silently.
func Spawn(ctx context.Context, log *zap.Logger, spec Spec) (*Process, error) {
	if spec.ReadyTimeout == 0 {
		spec.ReadyTimeout = DefaultReadyTimeout
	}
	if err := os.MkdirAll(spec.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	if err := os.MkdirAll(spec.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	_ = os.Remove(spec.ReadyFile) // stale ready-file from a previous run at this path

	logBase := fmt.Sprintf("%s-%d", spec.ExecutorID.Governor, spec.ExecutorID.Ordinal)
	outPath := filepath.Join(spec.LogDir, logBase+".out")
	errPath := filepath.Join(spec.LogDir, logBase+".err")
	outFile, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	errFile, err := os.Create(errPath)
	if err != nil {
		outFile.Close()
		return nil, fmt.Errorf("create stderr log: %w", err)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		outFile.Close()
		errFile.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	p := &Process{spec: spec, cmd: cmd, log: log.Named("supervisor").With(zap.String("executor_id", spec.ExecutorID.String())), exited: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		outFile.Close()
		errFile.Close()
		close(p.exited)
	}()

	if err := p.awaitReady(ctx); err != nil {
		p.Kill()
		return nil, err
	}
	p.log.Info("executor ready", zap.String("ready_file", spec.ReadyFile))
	return p, nil
}

// awaitReady polls for the ready-file, failing fast if the process exits
// first. A process is Ready iff it is still running AND its ready-file
// exists.
func (p *Process) awaitReady(ctx context.Context) error {
	deadline := time.After(p.spec.ReadyTimeout)
	ticker := time.NewTicker(ReadyPollInterval)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(p.spec.ReadyFile); err == nil {
			select {
			case <-p.exited:
				return fmt.Errorf("process exited before confirming readiness: %w", p.waitErr)
			default:
				return nil
			}
		}
		select {
		case <-p.exited:
			return fmt.Errorf("process exited before becoming ready: %w", p.waitErr)
		case <-deadline:
			return fmt.Errorf("process did not become ready within %s", p.spec.ReadyTimeout)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Exited reports whether the process has already terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit error, if any.
func (p *Process) Wait() error {
	<-p.exited
	return p.waitErr
}

// Stop sends SIGTERM and waits up to TermGrace for the process to exit,
// escalating to SIGKILL if it has not, per the close_session cancellation
// rule: "running external processes receive SIGTERM then SIGKILL after 5s."
func (p *Process) Stop() {
	if p.Exited() {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
		return
	case <-time.After(TermGrace):
	}
	p.Kill()
}

// Kill sends SIGKILL immediately and reaps the process.
func (p *Process) Kill() {
	if p.Exited() {
		return
	}
	_ = p.cmd.Process.Kill()
	<-p.exited
}
