package jute

import "errors"

var (
	ErrNotRecord        = errors.New("jute: not a record")
	ErrUnsupportedType  = errors.New("jute: unsupported field type")
	ErrBufferTooSmall   = errors.New("jute: destination buffer too small")
	ErrOffsetOutOfRange = errors.New("jute: offset out of buffer range")
	ErrShortBuffer      = errors.New("jute: truncated record")
	ErrNegativeLength   = errors.New("jute: invalid negative length")
)
