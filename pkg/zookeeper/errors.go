package zookeeper

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is an error code reported by the server in a reply header or a
// multi-op result.
type Code int32

const (
	CodeOK                     Code = 0
	CodeSystemError            Code = -1
	CodeRuntimeInconsistency   Code = -2
	CodeDataInconsistency      Code = -3
	CodeConnectionLoss         Code = -4
	CodeMarshallingError       Code = -5
	CodeUnimplemented          Code = -6
	CodeOperationTimeout       Code = -7
	CodeBadArguments           Code = -8
	CodeAPIError               Code = -100
	CodeNoNode                 Code = -101
	CodeNoAuth                 Code = -102
	CodeBadVersion             Code = -103
	CodeNoChildrenForEphemeral Code = -108
	CodeNodeExists             Code = -110
	CodeNotEmpty               Code = -111
	CodeSessionExpired         Code = -112
	CodeInvalidCallback        Code = -113
	CodeInvalidACL             Code = -114
	CodeAuthFailed             Code = -115
)

var codeNames = map[Code]string{
	CodeOK:                     "OK",
	CodeSystemError:            "SYSTEM_ERROR",
	CodeRuntimeInconsistency:   "RUNTIME_INCONSISTENCY",
	CodeDataInconsistency:      "DATA_INCONSISTENCY",
	CodeConnectionLoss:         "CONNECTION_LOSS",
	CodeMarshallingError:       "MARSHALLING_ERROR",
	CodeUnimplemented:          "UNIMPLEMENTED",
	CodeOperationTimeout:       "OPERATION_TIMEOUT",
	CodeBadArguments:           "BAD_ARGUMENTS",
	CodeAPIError:               "API_ERROR",
	CodeNoNode:                 "NO_NODE",
	CodeNoAuth:                 "NO_AUTH",
	CodeBadVersion:             "BAD_VERSION",
	CodeNoChildrenForEphemeral: "NO_CHILDREN_FOR_EPHEMERALS",
	CodeNodeExists:             "NODE_EXISTS",
	CodeNotEmpty:               "NOT_EMPTY",
	CodeSessionExpired:         "SESSION_EXPIRED",
	CodeInvalidCallback:        "INVALID_CALLBACK",
	CodeInvalidACL:             "INVALID_ACL",
	CodeAuthFailed:             "AUTH_FAILED",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Error is a typed error built from a server error code. Path is set when the
// failing request carried one.
type Error struct {
	Code Code
	Path string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("zookeeper: %s[%d]", e.Code, int32(e.Code))
	if e.Path != "" {
		msg += "@" + e.Path
	}
	return msg
}

// Is matches any *Error with the same code, so the sentinels below can be
// used with errors.Is regardless of the path.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Path == "" || t.Path == e.Path)
}

// GRPCStatus maps the error onto a gRPC status so the error can be returned
// unchanged from a gRPC handler.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(grpcCode(e.Code), e.Error())
}

func grpcCode(c Code) codes.Code {
	switch c {
	case CodeNoNode:
		return codes.NotFound
	case CodeNodeExists:
		return codes.AlreadyExists
	case CodeBadVersion, CodeNotEmpty, CodeNoChildrenForEphemeral:
		return codes.FailedPrecondition
	case CodeNoAuth, CodeInvalidACL:
		return codes.PermissionDenied
	case CodeAuthFailed:
		return codes.Unauthenticated
	case CodeConnectionLoss:
		return codes.Unavailable
	case CodeOperationTimeout:
		return codes.DeadlineExceeded
	case CodeSessionExpired:
		return codes.Aborted
	case CodeUnimplemented:
		return codes.Unimplemented
	case CodeBadArguments, CodeInvalidCallback:
		return codes.InvalidArgument
	case CodeOK:
		return codes.OK
	default:
		return codes.Unknown
	}
}

// ErrorFromCode returns nil for CodeOK and an *Error otherwise.
func ErrorFromCode(c Code, path string) error {
	if c == CodeOK {
		return nil
	}
	return &Error{Code: c, Path: path}
}

// CodeOf returns the server code carried by err, or CodeOK and false if err
// is not a server error.
func CodeOf(err error) (Code, bool) {
	var zkErr *Error
	if errors.As(err, &zkErr) {
		return zkErr.Code, true
	}
	return CodeOK, false
}

var (
	ErrSystemError            = &Error{Code: CodeSystemError}
	ErrRuntimeInconsistency   = &Error{Code: CodeRuntimeInconsistency}
	ErrDataInconsistency      = &Error{Code: CodeDataInconsistency}
	ErrConnectionLoss         = &Error{Code: CodeConnectionLoss}
	ErrMarshallingError       = &Error{Code: CodeMarshallingError}
	ErrUnimplemented          = &Error{Code: CodeUnimplemented}
	ErrOperationTimeout       = &Error{Code: CodeOperationTimeout}
	ErrBadArguments           = &Error{Code: CodeBadArguments}
	ErrAPIError               = &Error{Code: CodeAPIError}
	ErrNoNode                 = &Error{Code: CodeNoNode}
	ErrNoAuth                 = &Error{Code: CodeNoAuth}
	ErrBadVersion             = &Error{Code: CodeBadVersion}
	ErrNoChildrenForEphemeral = &Error{Code: CodeNoChildrenForEphemeral}
	ErrNodeExists             = &Error{Code: CodeNodeExists}
	ErrNotEmpty               = &Error{Code: CodeNotEmpty}
	ErrSessionExpired         = &Error{Code: CodeSessionExpired}
	ErrInvalidCallback        = &Error{Code: CodeInvalidCallback}
	ErrInvalidACL             = &Error{Code: CodeInvalidACL}
	ErrAuthFailed             = &Error{Code: CodeAuthFailed}
)

// Local protocol faults. These never reach a caller's callback directly; they
// tear down the socket and pending requests fail with ErrConnectionLoss.
var (
	ErrMalformedFrame     = errors.New("zookeeper: malformed frame")
	ErrXidMismatch        = errors.New("zookeeper: response xid out of order")
	ErrUnexpectedResponse = errors.New("zookeeper: response with no pending request")
	ErrUnknownOpCode      = errors.New("zookeeper: unknown op code")
)
