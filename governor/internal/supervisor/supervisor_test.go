package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rain-io/rain/shared"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSpawnWaitsForReadyFile(t *testing.T) {
	dir := t.TempDir()
	readyFile := filepath.Join(dir, "ready")

	p, err := Spawn(context.Background(), zap.NewNop(), Spec{
		ExecutorID:   shared.ExecutorID{Governor: "exec", Ordinal: 1},
		Path:         "/bin/sh",
		Args:         []string{"-c", "touch " + readyFile + "; sleep 5"},
		WorkDir:      dir,
		LogDir:       dir,
		ReadyFile:    readyFile,
		ReadyTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer p.Kill()

	require.False(t, p.Exited())
}

func TestSpawnFailsIfProcessExitsBeforeReady(t *testing.T) {
	dir := t.TempDir()
	readyFile := filepath.Join(dir, "ready")

	_, err := Spawn(context.Background(), zap.NewNop(), Spec{
		ExecutorID:   shared.ExecutorID{Governor: "exec", Ordinal: 2},
		Path:         "/bin/sh",
		Args:         []string{"-c", "exit 1"},
		WorkDir:      dir,
		LogDir:       dir,
		ReadyFile:    readyFile,
		ReadyTimeout: 2 * time.Second,
	})
	require.Error(t, err)
}

func TestSpawnFailsOnReadyTimeout(t *testing.T) {
	dir := t.TempDir()
	readyFile := filepath.Join(dir, "ready")

	_, err := Spawn(context.Background(), zap.NewNop(), Spec{
		ExecutorID:   shared.ExecutorID{Governor: "exec", Ordinal: 3},
		Path:         "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		WorkDir:      dir,
		LogDir:       dir,
		ReadyFile:    readyFile,
		ReadyTimeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestStopSendsTermThenKills(t *testing.T) {
	dir := t.TempDir()
	readyFile := filepath.Join(dir, "ready")

	p, err := Spawn(context.Background(), zap.NewNop(), Spec{
		ExecutorID:   shared.ExecutorID{Governor: "exec", Ordinal: 4},
		Path:         "/bin/sh",
		Args:         []string{"-c", "touch " + readyFile + "; trap '' TERM; sleep 5"},
		WorkDir:      dir,
		LogDir:       dir,
		ReadyFile:    readyFile,
		ReadyTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(TermGrace + 3*time.Second):
		t.Fatal("Stop did not escalate to SIGKILL in time")
	}
	require.True(t, p.Exited())
}

func TestLogFilesCreated(t *testing.T) {
	dir := t.TempDir()
	readyFile := filepath.Join(dir, "ready")

	p, err := Spawn(context.Background(), zap.NewNop(), Spec{
		ExecutorID:   shared.ExecutorID{Governor: "exec", Ordinal: 5},
		Path:         "/bin/sh",
		Args:         []string{"-c", "echo out-line; echo err-line 1>&2; touch " + readyFile + "; sleep 5"},
		WorkDir:      dir,
		LogDir:       dir,
		ReadyFile:    readyFile,
		ReadyTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer p.Kill()

	require.FileExists(t, filepath.Join(dir, "exec-5.out"))
	require.FileExists(t, filepath.Join(dir, "exec-5.err"))
	_, err = os.Stat(filepath.Join(dir, "exec-5.out"))
	require.NoError(t, err)
}
