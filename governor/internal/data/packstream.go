package data

import "fmt"

// PackStream is a byte-range cursor over a TransportView, used to answer
// Fetch requests that ask for an arbitrary [offset, offset+size) slice
// rather than the whole object. The governor's own input fetch asks for
// the whole object from offset 0, and after a failure starts again from
// offset 0 against another peer; it does not resume a partial range.
type PackStream struct {
	view *TransportView
}

func NewPackStream(v *TransportView) *PackStream {
	return &PackStream{view: v}
}

// Read returns the [offset, offset+size) slice of the underlying view. It
// is a slice of the view's own backing array, not a copy — callers must
// not hold it past the view's Close.
func (p *PackStream) Read(offset, size int64) ([]byte, error) {
	full := p.view.Bytes()
	if offset < 0 || size < 0 || offset+size > int64(len(full)) {
		return nil, fmt.Errorf("range [%d, %d) out of bounds for %d-byte object", offset, offset+size, len(full))
	}
	return full[offset : offset+size], nil
}
