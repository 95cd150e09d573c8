// Package jute implements the binary record format of the ZooKeeper wire
// protocol.
//
// A record is a Go struct whose exported fields, in declaration order, form
// the record's field list. The field's Go type selects its wire type (see
// Kind). The `jute:",path"` and `jute:",paths"` tag options mark fields that
// carry node paths: those are rewritten against the chroot on the way out and
// stripped on the way in, so callers above this package never see the
// chroot.
package jute

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
)

// Marshaler is implemented by records whose wire shape cannot be expressed
// as a flat field list, such as the multi-op request.
type Marshaler interface {
	JuteLength(chroot string) (int, error)
	WriteJute(buf []byte, offset int, chroot string) (int, error)
}

// Unmarshaler is the decoding counterpart of Marshaler.
type Unmarshaler interface {
	ReadJute(buf []byte, offset int, chroot string) (int, error)
}

// ByteLength returns the exact number of bytes rec occupies on the wire once
// chroot has been applied to its path fields.
func ByteLength(rec any, chroot string) (int, error) {
	if m, ok := rec.(Marshaler); ok {
		return m.JuteLength(chroot)
	}
	v, s, err := recordValue(rec)
	if err != nil {
		return 0, err
	}
	return recordLength(v, s, chroot), nil
}

// Write serializes rec into buf starting at offset and returns the number of
// bytes written. It fails rather than truncates when buf is too small.
func Write(buf []byte, offset int, rec any, chroot string) (int, error) {
	if offset < 0 || offset > len(buf) {
		return 0, fmt.Errorf("%w: %d", ErrOffsetOutOfRange, offset)
	}
	if m, ok := rec.(Marshaler); ok {
		return m.WriteJute(buf, offset, chroot)
	}
	v, s, err := recordValue(rec)
	if err != nil {
		return 0, err
	}
	size := recordLength(v, s, chroot)
	if offset+size > len(buf) {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBufferTooSmall, size, offset, len(buf))
	}
	w := &writer{buf: buf, off: offset, chroot: chroot}
	w.record(v, s)
	return size, nil
}

// Read decodes rec from buf starting at offset and returns the number of
// bytes consumed. rec must be a non-nil pointer to a record.
func Read(buf []byte, offset int, rec any, chroot string) (int, error) {
	if offset < 0 || offset > len(buf) {
		return 0, fmt.Errorf("%w: %d", ErrOffsetOutOfRange, offset)
	}
	if u, ok := rec.(Unmarshaler); ok {
		return u.ReadJute(buf, offset, chroot)
	}
	rv := reflect.ValueOf(rec)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return 0, fmt.Errorf("%w: Read needs a non-nil pointer, got %T", ErrNotRecord, rec)
	}
	v := rv.Elem()
	s, err := schemaFor(v.Type())
	if err != nil {
		return 0, err
	}
	r := &reader{buf: buf, off: offset, chroot: chroot}
	if err := r.record(v, s); err != nil {
		return 0, err
	}
	return r.off - offset, nil
}

// Marshal returns the serialized form of rec.
func Marshal(rec any, chroot string) ([]byte, error) {
	size, err := ByteLength(rec, chroot)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := Write(buf, 0, rec, chroot); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes rec from the whole of buf.
func Unmarshal(buf []byte, rec any, chroot string) error {
	_, err := Read(buf, 0, rec, chroot)
	return err
}

// PrependChroot maps a client path to the server-side path.
func PrependChroot(chroot, path string) string {
	if chroot == "" {
		return path
	}
	if path == "/" {
		return chroot
	}
	return chroot + path
}

// StripChroot maps a server-side path back to the client path. The prefix is
// removed at most once; a path outside the chroot is returned untouched.
func StripChroot(chroot, path string) string {
	if chroot == "" {
		return path
	}
	if path == chroot {
		return "/"
	}
	if strings.HasPrefix(path, chroot+"/") {
		return path[len(chroot):]
	}
	return path
}

func recordValue(rec any) (reflect.Value, *Schema, error) {
	v := reflect.ValueOf(rec)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, nil, fmt.Errorf("%w: nil %T", ErrNotRecord, rec)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, nil, ErrNotRecord
	}
	s, err := schemaFor(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, s, nil
}

func recordLength(v reflect.Value, s *Schema, chroot string) int {
	size := 0
	for i := range s.Fields {
		f := &s.Fields[i]
		size += valueLength(v.Field(f.index), f.layout, f.mode, chroot)
	}
	return size
}

func valueLength(v reflect.Value, l *layout, mode chrootMode, chroot string) int {
	switch l.kind {
	case Fixed32:
		return 4
	case Opaque64:
		return 8
	case Bool:
		return 1
	case Bytes:
		return 4 + v.Len()
	case UTF8String:
		if l.optional {
			if v.IsNil() {
				return 4
			}
			v = v.Elem()
		}
		s := v.String()
		if mode == chrootPath {
			s = PrependChroot(chroot, s)
		}
		return 4 + len(s)
	case Sequence:
		size := 4
		elemMode := chrootNone
		if mode == chrootPaths {
			elemMode = chrootPath
		}
		for i := 0; i < v.Len(); i++ {
			size += valueLength(v.Index(i), l.elem, elemMode, chroot)
		}
		return size
	case Nested:
		if l.optional {
			if v.IsNil() {
				return recordLength(reflect.New(l.schema.Type).Elem(), l.schema, chroot)
			}
			v = v.Elem()
		}
		return recordLength(v, l.schema, chroot)
	}
	panic(fmt.Sprintf("jute: unhandled kind %s", l.kind))
}

type writer struct {
	buf    []byte
	off    int
	chroot string
}

func (w *writer) int32(n int32) {
	binary.BigEndian.PutUint32(w.buf[w.off:], uint32(n))
	w.off += 4
}

func (w *writer) record(v reflect.Value, s *Schema) {
	for i := range s.Fields {
		f := &s.Fields[i]
		w.value(v.Field(f.index), f.layout, f.mode)
	}
}

func (w *writer) value(v reflect.Value, l *layout, mode chrootMode) {
	switch l.kind {
	case Fixed32:
		w.int32(int32(v.Int()))
	case Opaque64:
		binary.BigEndian.PutUint64(w.buf[w.off:], uint64(v.Int()))
		w.off += 8
	case Bool:
		if v.Bool() {
			w.buf[w.off] = 1
		} else {
			w.buf[w.off] = 0
		}
		w.off++
	case Bytes:
		if v.IsNil() {
			w.int32(-1)
			return
		}
		w.int32(int32(v.Len()))
		w.off += copy(w.buf[w.off:], v.Bytes())
	case UTF8String:
		if l.optional {
			if v.IsNil() {
				w.int32(-1)
				return
			}
			v = v.Elem()
		}
		s := v.String()
		if mode == chrootPath {
			s = PrependChroot(w.chroot, s)
		}
		w.int32(int32(len(s)))
		w.off += copy(w.buf[w.off:], s)
	case Sequence:
		if v.IsNil() {
			w.int32(-1)
			return
		}
		w.int32(int32(v.Len()))
		elemMode := chrootNone
		if mode == chrootPaths {
			elemMode = chrootPath
		}
		for i := 0; i < v.Len(); i++ {
			w.value(v.Index(i), l.elem, elemMode)
		}
	case Nested:
		if l.optional {
			if v.IsNil() {
				w.record(reflect.New(l.schema.Type).Elem(), l.schema)
				return
			}
			v = v.Elem()
		}
		w.record(v, l.schema)
	}
}

type reader struct {
	buf    []byte
	off    int
	chroot string
}

func (r *reader) need(n int) error {
	if n < 0 || len(r.buf)-r.off < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)-r.off)
	}
	return nil
}

func (r *reader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	n := int32(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return n, nil
}

// length reads a length prefix. It returns -1 for an absent value.
func (r *reader) length() (int, error) {
	n, err := r.int32()
	if err != nil {
		return 0, err
	}
	if n < -1 {
		return 0, fmt.Errorf("%w: %d at offset %d", ErrNegativeLength, n, r.off-4)
	}
	return int(n), nil
}

func (r *reader) record(v reflect.Value, s *Schema) error {
	for i := range s.Fields {
		f := &s.Fields[i]
		if err := r.value(v.Field(f.index), f.layout, f.mode); err != nil {
			return fmt.Errorf("%s.%s: %w", s.Type.Name(), f.Name, err)
		}
	}
	return nil
}

func (r *reader) value(v reflect.Value, l *layout, mode chrootMode) error {
	switch l.kind {
	case Fixed32:
		n, err := r.int32()
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case Opaque64:
		if err := r.need(8); err != nil {
			return err
		}
		v.SetInt(int64(binary.BigEndian.Uint64(r.buf[r.off:])))
		r.off += 8
	case Bool:
		if err := r.need(1); err != nil {
			return err
		}
		v.SetBool(r.buf[r.off] != 0)
		r.off++
	case Bytes:
		n, err := r.length()
		if err != nil {
			return err
		}
		if n == -1 {
			v.SetBytes(nil)
			return nil
		}
		if err := r.need(n); err != nil {
			return err
		}
		b := make([]byte, n)
		copy(b, r.buf[r.off:])
		r.off += n
		v.SetBytes(b)
	case UTF8String:
		n, err := r.length()
		if err != nil {
			return err
		}
		if n == -1 {
			v.Set(reflect.Zero(v.Type()))
			return nil
		}
		if err := r.need(n); err != nil {
			return err
		}
		s := string(r.buf[r.off : r.off+n])
		r.off += n
		if mode == chrootPath {
			s = StripChroot(r.chroot, s)
		}
		if l.optional {
			v.Set(reflect.ValueOf(&s))
			return nil
		}
		v.SetString(s)
	case Sequence:
		n, err := r.length()
		if err != nil {
			return err
		}
		if n == -1 {
			v.Set(reflect.Zero(v.Type()))
			return nil
		}
		// Every element takes at least one byte, which bounds the allocation.
		if err := r.need(n); err != nil {
			return err
		}
		elemMode := chrootNone
		if mode == chrootPaths {
			elemMode = chrootPath
		}
		out := reflect.MakeSlice(v.Type(), n, n)
		for i := 0; i < n; i++ {
			if err := r.value(out.Index(i), l.elem, elemMode); err != nil {
				return err
			}
		}
		v.Set(out)
	case Nested:
		if l.optional {
			p := reflect.New(l.schema.Type)
			if err := r.record(p.Elem(), l.schema); err != nil {
				return err
			}
			v.Set(p)
			return nil
		}
		return r.record(v, l.schema)
	}
	return nil
}
