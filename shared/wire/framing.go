// Package wire implements the single length-prefixed CBOR frame transport
// used by every channel in the system: governor<->executor over a Unix
// domain socket, and server<->governor / governor<->governor over TCP. One
// codec, three transports.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Magic is sent once, unframed, by the side that opens the connection,
// immediately followed by the first framed message. The receiver must see
// exactly this string before reading any frame.
const Magic = "cbor-1"

// MaxFrameSize bounds a single frame's payload. The length prefix is
// validated against this BEFORE any buffer is allocated, so a peer cannot
// force an allocation proportional to a claimed size it never sends.
const MaxFrameSize = 128 << 20 // 128 MiB

var encMode = func() cbor.EncMode {
	m, err := cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Conn frames CBOR messages over an underlying stream. It is not safe for
// concurrent use from multiple goroutines on the same direction (reads must
// be serialized against reads, writes against writes); the executor
// protocol's "one Call in flight at a time" rule makes this a non-issue in
// practice.
type Conn struct {
	r *bufio.Reader
	w io.Writer
}

// NewConn wraps rw. Callers that initiate the connection must call
// WriteMagic before the first WriteFrame; callers that accept a connection
// must call ExpectMagic before the first ReadFrame.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: rw}
}

// WriteMagic sends the handshake string unframed.
func (c *Conn) WriteMagic() error {
	_, err := io.WriteString(c.w, Magic)
	return err
}

// ExpectMagic reads exactly len(Magic) bytes and verifies they match.
func (c *Conn) ExpectMagic() error {
	buf := make([]byte, len(Magic))
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(buf) != Magic {
		return fmt.Errorf("bad magic %q, want %q", buf, Magic)
	}
	return nil
}

// WriteFrame CBOR-encodes v and writes it as a length-prefixed frame.
func (c *Conn) WriteFrame(v any) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame too large: %d bytes exceeds %d", len(payload), MaxFrameSize)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := c.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and CBOR-decodes it into v.
// The length is validated against MaxFrameSize before the payload buffer
// is allocated.
func (c *Conn) ReadFrame(v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return fmt.Errorf("read frame header: %w", err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return fmt.Errorf("frame claims %d bytes, exceeds max %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := cbor.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
