package jute

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	Scheme string
	ID     string
}

type everything struct {
	Int      int32
	Long     int64
	Data     []byte
	Name     string
	Optional *string
	Flag     bool
	Names    []string
	Inners   []inner
	Nested   inner
	Pointer  *inner
	skipped  int
	Ignored  int `jute:"-"`
}

type pathRecord struct {
	Path  string `jute:",path"`
	Watch bool
}

type watchLists struct {
	Zxid  int64
	Data  []string `jute:",paths"`
	Exist []string `jute:",paths"`
	Child []string `jute:",paths"`
}

func strPtr(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   *everything
	}{
		{
			name: "zero values",
			in:   &everything{},
		},
		{
			name: "populated",
			in: &everything{
				Int:      -42,
				Long:     1<<40 + 7,
				Data:     []byte("hello"),
				Name:     "héllo wörld",
				Optional: strPtr("present"),
				Flag:     true,
				Names:    []string{"a", "", "ccc"},
				Inners:   []inner{{Scheme: "world", ID: "anyone"}, {Scheme: "digest", ID: "u:p"}},
				Nested:   inner{Scheme: "auth"},
				Pointer:  &inner{Scheme: "ip", ID: "10.0.0.1"},
			},
		},
		{
			name: "empty but present",
			in: &everything{
				Data:     []byte{},
				Optional: strPtr(""),
				Names:    []string{},
				Inners:   []inner{},
				Pointer:  &inner{},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf, err := Marshal(test.in, "")
			require.NoError(t, err)

			size, err := ByteLength(test.in, "")
			require.NoError(t, err)
			assert.Len(t, buf, size)

			out := &everything{}
			n, err := Read(buf, 0, out, "")
			require.NoError(t, err)
			assert.Equal(t, size, n)

			want := *test.in
			if want.Pointer == nil {
				// A nil nested record is written as its zero value.
				want.Pointer = &inner{}
			}
			if diff := cmp.Diff(want, *out, cmp.AllowUnexported(everything{})); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAbsentVersusEmpty(t *testing.T) {
	absent, err := Marshal(&everything{}, "")
	require.NoError(t, err)
	empty, err := Marshal(&everything{Data: []byte{}, Optional: strPtr(""), Names: []string{}}, "")
	require.NoError(t, err)
	assert.Equal(t, len(absent), len(empty))

	// Data starts after the int and the long.
	assert.Equal(t, int32(-1), int32(binary.BigEndian.Uint32(absent[12:])))
	assert.Equal(t, int32(0), int32(binary.BigEndian.Uint32(empty[12:])))

	got := &everything{}
	require.NoError(t, Unmarshal(absent, got, ""))
	assert.Nil(t, got.Data)
	assert.Nil(t, got.Optional)
	assert.Nil(t, got.Names)

	got = &everything{}
	require.NoError(t, Unmarshal(empty, got, ""))
	assert.NotNil(t, got.Data)
	assert.Empty(t, got.Data)
	require.NotNil(t, got.Optional)
	assert.Equal(t, "", *got.Optional)
	assert.NotNil(t, got.Names)
}

func TestWireShape(t *testing.T) {
	type rec struct {
		A int32
		B bool
		C string
	}
	buf, err := Marshal(&rec{A: 1, B: true, C: "ab"}, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 1, 0, 0, 0, 2, 'a', 'b'}, buf)
}

func TestSchemaOf(t *testing.T) {
	s, err := SchemaOf(&everything{})
	require.NoError(t, err)

	var names []string
	var kinds []Kind
	for _, f := range s.Fields {
		names = append(names, f.Name)
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []string{"int", "long", "data", "name", "optional", "flag", "names", "inners", "nested", "pointer"}, names)
	assert.Equal(t, []Kind{Fixed32, Opaque64, Bytes, UTF8String, UTF8String, Bool, Sequence, Sequence, Nested, Nested}, kinds)

	again, err := SchemaOf(everything{})
	require.NoError(t, err)
	assert.Same(t, s, again)

	ps, err := SchemaOf(pathRecord{})
	require.NoError(t, err)
	assert.True(t, ps.Fields[0].Chroot)
	assert.False(t, ps.Fields[1].Chroot)
}

func TestSchemaOf_Unsupported(t *testing.T) {
	type bad struct {
		F float64
	}
	_, err := SchemaOf(bad{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	type badPath struct {
		P int32 `jute:",path"`
	}
	_, err = SchemaOf(badPath{})
	assert.Error(t, err)

	_, err = SchemaOf(42)
	assert.ErrorIs(t, err, ErrNotRecord)
}

func TestChroot(t *testing.T) {
	tests := []struct {
		name   string
		chroot string
		path   string
		wire   string
	}{
		{
			name: "no chroot",
			path: "/x",
			wire: "/x",
		},
		{
			name:   "child path",
			chroot: "/a",
			path:   "/x/y",
			wire:   "/a/x/y",
		},
		{
			name:   "root maps to chroot",
			chroot: "/a",
			path:   "/",
			wire:   "/a",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf, err := Marshal(&pathRecord{Path: test.path}, test.chroot)
			require.NoError(t, err)

			// The length prefix is computed after the chroot is applied.
			assert.Equal(t, int32(len(test.wire)), int32(binary.BigEndian.Uint32(buf)))
			assert.Equal(t, test.wire, string(buf[4:4+len(test.wire)]))

			got := &pathRecord{}
			require.NoError(t, Unmarshal(buf, got, test.chroot))
			assert.Equal(t, test.path, got.Path)
		})
	}
}

func TestChroot_WatchLists(t *testing.T) {
	in := &watchLists{
		Zxid:  9,
		Data:  []string{"/d1", "/"},
		Exist: []string{"/e"},
		Child: nil,
	}
	buf, err := Marshal(in, "/app")
	require.NoError(t, err)

	raw := &watchLists{}
	require.NoError(t, Unmarshal(buf, raw, ""))
	assert.Equal(t, []string{"/app/d1", "/app"}, raw.Data)
	assert.Equal(t, []string{"/app/e"}, raw.Exist)
	assert.Nil(t, raw.Child)

	got := &watchLists{}
	require.NoError(t, Unmarshal(buf, got, "/app"))
	assert.Equal(t, in, got)
}

func TestStripChroot_NoDoubleStrip(t *testing.T) {
	// A server that already stripped the prefix must not lose another level.
	assert.Equal(t, "/app/x", StripChroot("/app", "/app/app/x"))
	assert.Equal(t, "/x", StripChroot("/app", "/x"))
	assert.Equal(t, "/apple", StripChroot("/app", "/apple"))
	assert.Equal(t, "/", StripChroot("/app", "/app"))
	assert.Equal(t, "/x", StripChroot("", "/x"))
}

func TestWrite_Undersized(t *testing.T) {
	rec := &pathRecord{Path: "/abc"}
	size, err := ByteLength(rec, "/root")
	require.NoError(t, err)

	buf := make([]byte, size-1)
	_, err = Write(buf, 0, rec, "/root")
	assert.ErrorIs(t, err, ErrBufferTooSmall)
	assert.Equal(t, make([]byte, size-1), buf, "nothing is written on failure")

	buf = make([]byte, size+3)
	_, err = Write(buf, 4, rec, "/root")
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	n, err := Write(buf, 3, rec, "/root")
	require.NoError(t, err)
	assert.Equal(t, size, n)

	_, err = Write(buf, -1, rec, "")
	assert.ErrorIs(t, err, ErrOffsetOutOfRange)
}

func TestRead_Truncated(t *testing.T) {
	buf, err := Marshal(&everything{Name: "abcdef", Names: []string{"x"}}, "")
	require.NoError(t, err)

	for cut := 0; cut < len(buf); cut++ {
		_, err := Read(buf[:cut], 0, &everything{}, "")
		assert.True(t, errors.Is(err, ErrShortBuffer), "cut at %d: %v", cut, err)
	}
}

func TestRead_NegativeLength(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xfe}
	_, err := Read(buf, 0, &struct{ Data []byte }{}, "")
	assert.ErrorIs(t, err, ErrNegativeLength)
}

func TestRead_Offset(t *testing.T) {
	rec := &inner{Scheme: "world", ID: "anyone"}
	body, err := Marshal(rec, "")
	require.NoError(t, err)

	buf := append([]byte{9, 9, 9}, body...)
	got := &inner{}
	n, err := Read(buf, 3, got, "")
	require.NoError(t, err)
	assert.Equal(t, len(body), n)
	assert.Equal(t, rec, got)

	_, err = Read(buf, 0, inner{}, "")
	assert.ErrorIs(t, err, ErrNotRecord)
}
