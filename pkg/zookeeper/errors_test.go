package zookeeper

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "sentinel matches any path",
			err:    ErrorFromCode(CodeNoNode, "/a"),
			target: ErrNoNode,
			want:   true,
		},
		{
			name:   "different code",
			err:    ErrorFromCode(CodeNoNode, "/a"),
			target: ErrNodeExists,
			want:   false,
		},
		{
			name:   "path must match when the target has one",
			err:    ErrorFromCode(CodeNoNode, "/a"),
			target: &Error{Code: CodeNoNode, Path: "/b"},
			want:   false,
		},
		{
			name:   "wrapped",
			err:    fmt.Errorf("deleting: %w", ErrorFromCode(CodeNotEmpty, "/a")),
			target: ErrNotEmpty,
			want:   true,
		},
		{
			name:   "local fault is not a server error",
			err:    ErrXidMismatch,
			target: ErrConnectionLoss,
			want:   false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, errors.Is(test.err, test.target))
		})
	}
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "zookeeper: NO_NODE[-101]@/a/b", ErrorFromCode(CodeNoNode, "/a/b").Error())
	assert.Equal(t, "zookeeper: CONNECTION_LOSS[-4]", ErrConnectionLoss.Error())
	assert.Equal(t, "UNKNOWN", Code(-999).String())
	assert.NoError(t, ErrorFromCode(CodeOK, "/a"))
}

func TestCodeOf(t *testing.T) {
	c, ok := CodeOf(fmt.Errorf("wrapped: %w", ErrBadVersion))
	assert.True(t, ok)
	assert.Equal(t, CodeBadVersion, c)

	c, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, CodeOK, c)
}

func TestError_GRPCStatus(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeNoNode, codes.NotFound},
		{CodeNodeExists, codes.AlreadyExists},
		{CodeBadVersion, codes.FailedPrecondition},
		{CodeNoAuth, codes.PermissionDenied},
		{CodeConnectionLoss, codes.Unavailable},
		{CodeSessionExpired, codes.Aborted},
		{CodeSystemError, codes.Unknown},
	}
	for _, test := range tests {
		t.Run(test.code.String(), func(t *testing.T) {
			err := ErrorFromCode(test.code, "/p")
			st, ok := status.FromError(err)
			assert.True(t, ok)
			assert.Equal(t, test.want, st.Code())
			assert.Equal(t, err.Error(), st.Message())
		})
	}
}
