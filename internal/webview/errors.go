package webview

import (
	"errors"
	"fmt"
)

// Kind classifies user-facing failures.
type Kind int

// Failure kinds. The zero value means the error is not a classified failure.
const (
	KindUnknown Kind = iota
	KindValidation
	KindConnectivity
	KindProxyRejected
	KindRenderFailed
	KindAssemblyFailed
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failure"
	case KindConnectivity:
		return "connectivity_failure"
	case KindProxyRejected:
		return "proxy_rejected"
	case KindRenderFailed:
		return "render_failed"
	case KindAssemblyFailed:
		return "assembly_failed"
	case KindPrecondition:
		return "precondition_failed"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	MsgInvalidURL          = "Please enter a valid URL and try again."
	MsgProxyUnreachable    = "Trouble fetching the URL, please make sure the server is running."
	MsgProxyRejected       = "The server rejected the URL, check server log."
	MsgProxyFailed         = "Trouble fetching the URL, check server log."
	MsgDownloadUnreachable = "Trouble downloading, please make sure the server is running."
	MsgRenderFailed        = "Trouble downloading, check server log."
	MsgAssemblyFailed      = "Trouble downloading, please refresh and start again."
	MsgViewerNotReady      = "The document viewer is not ready yet."
)

// ErrReadOnly is returned by viewers asked to change annotations while the
// view-only tool group is active.
var ErrReadOnly = errors.New("viewer is in view-only mode")

// Error is a classified failure carrying the message shown to the user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError builds a classified error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage returns the message to show for err. Unclassified errors get a
// generic message so internal details never reach the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return MsgAssemblyFailed
}
