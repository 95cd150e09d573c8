package conn

import (
	"encoding/binary"
	"fmt"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

// DefaultMaxFrameSize bounds a single response frame.
const DefaultMaxFrameSize = 4 << 20

// frameBuffer reassembles length-prefixed frames from arbitrary socket reads.
type frameBuffer struct {
	buf []byte
	max int
}

func newFrameBuffer(max int) *frameBuffer {
	return &frameBuffer{max: max}
}

func (f *frameBuffer) append(data []byte) {
	f.buf = append(f.buf, data...)
}

// next returns the body of the next complete frame, or nil if more bytes are
// needed. The returned slice is only valid until the next call to append.
func (f *frameBuffer) next() ([]byte, error) {
	if len(f.buf) < 4 {
		return nil, nil
	}
	size := int32(binary.BigEndian.Uint32(f.buf))
	if size < 0 || int(size) > f.max {
		return nil, fmt.Errorf("%w: declared length %d (max %d)", zookeeper.ErrMalformedFrame, size, f.max)
	}
	end := 4 + int(size)
	if len(f.buf) < end {
		return nil, nil
	}
	frame := f.buf[4:end]
	f.buf = f.buf[end:]
	if len(f.buf) == 0 {
		// Let the backing array go once everything has been consumed.
		f.buf = nil
	}
	return frame, nil
}

// buffered returns the number of bytes waiting for the rest of their frame.
func (f *frameBuffer) buffered() int {
	return len(f.buf)
}
