package jute

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Kind is the wire type tag of a record field.
type Kind int

const (
	// Fixed32 is a 4-byte big-endian signed integer.
	Fixed32 Kind = iota + 1
	// Opaque64 is 8 big-endian bytes, used for session ids and zxids.
	Opaque64
	// Bytes is a 4-byte length (-1 when absent) followed by raw bytes.
	Bytes
	// UTF8String is a 4-byte byte-length (-1 when absent) followed by UTF-8 bytes.
	UTF8String
	// Bool is a single 0 or 1 byte.
	Bool
	// Sequence is a 4-byte count (-1 when absent) followed by that many elements.
	Sequence
	// Nested is a recursively encoded sub-record.
	Nested
)

func (k Kind) String() string {
	switch k {
	case Fixed32:
		return "fixed32"
	case Opaque64:
		return "opaque64"
	case Bytes:
		return "bytes"
	case UTF8String:
		return "utf8string"
	case Bool:
		return "bool"
	case Sequence:
		return "sequence"
	case Nested:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type chrootMode int

const (
	chrootNone chrootMode = iota
	// chrootPath rewrites a single path string.
	chrootPath
	// chrootPaths rewrites every element of a path list.
	chrootPaths
)

// Field is one entry of a record's declared field list.
type Field struct {
	Name string
	Kind Kind
	// Chroot reports whether the field carries node paths that are rewritten
	// against the client chroot.
	Chroot bool

	index  int
	mode   chrootMode
	layout *layout
}

// Schema is the declared field list of one record type, in wire order.
type Schema struct {
	Type   reflect.Type
	Fields []Field
}

// layout describes how a single Go type is laid out on the wire.
type layout struct {
	kind Kind
	// optional is set for *string and *struct, where nil is a valid value.
	optional bool
	elem     *layout
	schema   *Schema
}

var schemas sync.Map // reflect.Type -> *Schema

// SchemaOf returns the schema descriptor for the record type of rec. rec may
// be a struct value or a pointer to one. Descriptors are built once per type.
func SchemaOf(rec any) (*Schema, error) {
	t := reflect.TypeOf(rec)
	if t == nil {
		return nil, ErrNotRecord
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return schemaFor(t)
}

func schemaFor(t reflect.Type) (*Schema, error) {
	if cached, ok := schemas.Load(t); ok {
		return cached.(*Schema), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s", ErrNotRecord, t)
	}

	s := &Schema{Type: t}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, opts := parseTag(sf)
		if name == "-" {
			continue
		}
		l, err := layoutFor(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t.Name(), sf.Name, err)
		}
		f := Field{
			Name:   name,
			Kind:   l.kind,
			index:  i,
			layout: l,
		}
		switch opts {
		case "path":
			if l.kind != UTF8String {
				return nil, fmt.Errorf("field %s.%s: path option on %s", t.Name(), sf.Name, l.kind)
			}
			f.mode = chrootPath
		case "paths":
			if l.kind != Sequence || l.elem.kind != UTF8String {
				return nil, fmt.Errorf("field %s.%s: paths option on %s", t.Name(), sf.Name, l.kind)
			}
			f.mode = chrootPaths
		case "":
		default:
			return nil, fmt.Errorf("field %s.%s: unknown option %q", t.Name(), sf.Name, opts)
		}
		f.Chroot = f.mode != chrootNone
		s.Fields = append(s.Fields, f)
	}

	actual, _ := schemas.LoadOrStore(t, s)
	return actual.(*Schema), nil
}

func parseTag(sf reflect.StructField) (string, string) {
	tag, ok := sf.Tag.Lookup("jute")
	if !ok {
		return lowerFirst(sf.Name), ""
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = lowerFirst(sf.Name)
	}
	return name, opts
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func layoutFor(t reflect.Type) (*layout, error) {
	switch t.Kind() {
	case reflect.Int32:
		return &layout{kind: Fixed32}, nil
	case reflect.Int64:
		return &layout{kind: Opaque64}, nil
	case reflect.Bool:
		return &layout{kind: Bool}, nil
	case reflect.String:
		return &layout{kind: UTF8String}, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return &layout{kind: Bytes}, nil
		}
		elem, err := layoutFor(t.Elem())
		if err != nil {
			return nil, err
		}
		return &layout{kind: Sequence, elem: elem}, nil
	case reflect.Struct:
		s, err := schemaFor(t)
		if err != nil {
			return nil, err
		}
		return &layout{kind: Nested, schema: s}, nil
	case reflect.Pointer:
		switch t.Elem().Kind() {
		case reflect.String:
			return &layout{kind: UTF8String, optional: true}, nil
		case reflect.Struct:
			s, err := schemaFor(t.Elem())
			if err != nil {
				return nil, err
			}
			return &layout{kind: Nested, optional: true, schema: s}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}
