package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a backend failure so callers can branch on it.
type Kind int

const (
	// KindUnknown is reported for errors that did not come from a backend.
	KindUnknown Kind = iota
	// KindConfig means the declared configuration does not match reality.
	// Not retryable without operator intervention.
	KindConfig
	// KindBackend means an underlying command or filesystem call failed.
	KindBackend
	// KindCapacity means there is not enough free space for the request.
	KindCapacity
	// KindNotSupported means the backend lacks the requested capability.
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindBackend:
		return "backend error"
	case KindCapacity:
		return "capacity error"
	case KindNotSupported:
		return "not supported"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrConfig       = &Error{Kind: KindConfig}
	ErrBackend      = &Error{Kind: KindBackend}
	ErrCapacity     = &Error{Kind: KindCapacity}
	ErrNotSupported = &Error{Kind: KindNotSupported}
)

// Error is the error type returned by backend operations.
type Error struct {
	Kind    Kind
	Op      string // Operation, e.g. "create_volume"
	Backend string // Backend kind, e.g. "lvm"
	Volume  string // Volume name, when known

	// Set for KindCapacity, in bytes.
	Requested uint64
	Available uint64

	Msg string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Backend != "" {
		b.WriteString(e.Backend)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	switch {
	case e.Kind == KindCapacity:
		fmt.Fprintf(&b, "not enough space for volume %s: %d requested, %d available",
			e.Volume, e.Requested, e.Available)
	case e.Msg != "":
		b.WriteString(e.Msg)
	default:
		b.WriteString(e.Kind.String())
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ConfigError reports a configuration mismatch, optionally wrapping the cause.
func ConfigError(backend, op string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindConfig,
		Backend: backend,
		Op:      op,
		Msg:     fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// BackendError reports a failed underlying operation.
func BackendError(backend, op string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    KindBackend,
		Backend: backend,
		Op:      op,
		Msg:     fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// CapacityError reports that op needs requested bytes but only available
// bytes are free.
func CapacityError(backend, op, name string, requested, available uint64) *Error {
	return &Error{
		Kind:      KindCapacity,
		Backend:   backend,
		Op:        op,
		Volume:    name,
		Requested: requested,
		Available: available,
	}
}

// NotSupported reports that backend cannot perform op.
func NotSupported(backend, op string) *Error {
	return &Error{
		Kind:    KindNotSupported,
		Backend: backend,
		Op:      op,
		Msg:     "not implemented for this backend",
	}
}

// Operation names used in errors and logs.
const (
	OpInit         = "init"
	OpCreate       = "create_volume"
	OpDelete       = "delete_volume"
	OpGrow         = "grow_volume"
	OpClone        = "clone_volume"
	OpShallowClone = "shallow_clone_volume"
	OpOpen         = "open_volume"
	OpHostAttach   = "host_attach"
	OpHostDetach   = "host_detach"
	OpUsage        = "usage"
)
