package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWithTask(t *testing.T) {
	base := Scheduling("no governor satisfies %d cpus", 4)
	task := TaskID{Session: 1, Ordinal: 2}
	attached := base.WithTask(task)

	require.NotNil(t, attached.Task)
	assert.Equal(t, task, *attached.Task)
	assert.Nil(t, base.Task, "WithTask must not mutate the receiver")
	assert.Contains(t, attached.Error(), "task 1/task-2")
}

func TestTransferWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transfer(cause, "fetch failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connection reset", err.Debug)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrKindProtocol))
	assert.True(t, IsFatal(ErrKindExecution))
	assert.False(t, IsFatal(ErrKindTransfer))
}
