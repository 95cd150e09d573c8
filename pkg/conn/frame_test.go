package conn

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikekulinski/zkclient/pkg/zookeeper"
)

func framed(body string) []byte {
	out := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func TestFrameBuffer(t *testing.T) {
	tests := []struct {
		name     string
		chunks   [][]byte
		want     []string
		buffered int
	}{
		{
			name:   "one frame per chunk",
			chunks: [][]byte{framed("abc"), framed("de")},
			want:   []string{"abc", "de"},
		},
		{
			name:   "several frames in one chunk",
			chunks: [][]byte{append(append(framed("abc"), framed("")...), framed("xyz")...)},
			want:   []string{"abc", "", "xyz"},
		},
		{
			name: "frame split across chunks",
			chunks: func() [][]byte {
				f := framed("hello")
				return [][]byte{f[:2], f[2:6], f[6:]}
			}(),
			want: []string{"hello"},
		},
		{
			name: "trailing partial frame stays buffered",
			chunks: func() [][]byte {
				f := append(framed("one"), framed("two")...)
				return [][]byte{f[:len(f)-1]}
			}(),
			want:     []string{"one"},
			buffered: 6,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFrameBuffer(DefaultMaxFrameSize)
			var got []string
			for _, chunk := range test.chunks {
				f.append(chunk)
				for {
					frame, err := f.next()
					require.NoError(t, err)
					if frame == nil {
						break
					}
					got = append(got, string(frame))
				}
			}
			assert.Equal(t, test.want, got)
			assert.Equal(t, test.buffered, f.buffered())
		})
	}
}

func TestFrameBuffer_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
	}{
		{
			name:   "negative length",
			header: []byte{0x80, 0, 0, 0},
		},
		{
			name:   "larger than the limit",
			header: []byte{0, 0, 0x04, 0x01},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFrameBuffer(1024)
			f.append(test.header)
			_, err := f.next()
			assert.ErrorIs(t, err, zookeeper.ErrMalformedFrame)
		})
	}
}
