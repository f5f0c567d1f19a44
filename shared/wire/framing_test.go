package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/rain-io/rain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	buf := &bytes.Buffer{}
	conn := NewConn(buf)

	in := ExecutorFrame{
		Kind: FrameDropCached,
		DropCached: &DropCached{
			Object: shared.DataObjectID{Session: 1, Ordinal: 2},
		},
	}
	require.NoError(t, conn.WriteFrame(in))

	var out ExecutorFrame
	require.NoError(t, conn.ReadFrame(&out))
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, *in.DropCached, *out.DropCached)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := &bytes.Buffer{}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxFrameSize+1)
	buf.Write(hdr[:])

	conn := NewConn(buf)
	var out ExecutorFrame
	err := conn.ReadFrame(&out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max")
}

func TestMagicHandshake(t *testing.T) {
	buf := &bytes.Buffer{}
	writer := NewConn(buf)
	require.NoError(t, writer.WriteMagic())

	reader := NewConn(buf)
	require.NoError(t, reader.ExpectMagic())
}
