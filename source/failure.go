package source

import (
	"fmt"
)

// FailureKind classifies why an add-flow call failed. The kind doubles
// as the stage label on the setup-error metric.
type FailureKind int

const (
	// PoolExhausted means capacity was reached; nothing was touched.
	PoolExhausted FailureKind = iota
	// AllocationFailure means a data block could not be allocated; the
	// pool slot was released and no socket existed yet.
	AllocationFailure
	// ResolutionFailure means forward name resolution failed before
	// any socket existed.
	ResolutionFailure
	// ConnectionFailure means every candidate address failed to yield
	// a usable socket.
	ConnectionFailure
	// OptionApplicationFailure means the TCP option applier rejected
	// the socket.
	OptionApplicationFailure
	// IntrospectionFailure means the congestion-algorithm query failed
	// on an otherwise valid socket.
	IntrospectionFailure
	// CaptureAttachmentFailure means the capture hook could not attach
	// to the flow.
	CaptureAttachmentFailure
)

// String returns the kind's stage name.
func (k FailureKind) String() string {
	switch k {
	case PoolExhausted:
		return "pool-exhausted"
	case AllocationFailure:
		return "allocation"
	case ResolutionFailure:
		return "resolution"
	case ConnectionFailure:
		return "connection"
	case OptionApplicationFailure:
		return "option-application"
	case IntrospectionFailure:
		return "introspection"
	case CaptureAttachmentFailure:
		return "capture-attachment"
	default:
		return "unknown"
	}
}

// Failure is the structured error of a failed add-flow call. Callers
// match it with errors.As and switch on Kind; the text is ready to be
// copied into the controller-facing response.
type Failure struct {
	Kind FailureKind
	msg  string
	err  error
}

func newFailure(kind FailureKind, err error, format string, v ...interface{}) *Failure {
	return &Failure{Kind: kind, msg: fmt.Sprintf(format, v...), err: err}
}

// Error returns the diagnostic, including the underlying error when one
// exists.
func (f *Failure) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%s: %v", f.msg, f.err)
	}
	return f.msg
}

// Unwrap returns the underlying OS or resolver error, if any.
func (f *Failure) Unwrap() error {
	return f.err
}
