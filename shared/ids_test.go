package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskIDIsZero(t *testing.T) {
	var zero TaskID
	assert.True(t, zero.IsZero())

	nonZero := TaskID{Session: 1, Ordinal: 0}
	assert.False(t, nonZero.IsZero())
}

func TestDataObjectIDString(t *testing.T) {
	id := DataObjectID{Session: 3, Ordinal: 7}
	assert.Equal(t, "3/obj-7", id.String())
}

func TestExecutorIDString(t *testing.T) {
	id := ExecutorID{Governor: GovernorID("10.0.0.1:9000"), Ordinal: 2}
	assert.Equal(t, "10.0.0.1:9000/executor-2", id.String())
}
