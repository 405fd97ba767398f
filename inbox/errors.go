package inbox

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means one source collection failed to load. The
	// feed degrades to the remaining sources.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrCapabilityMismatch means an operation was invoked on a type that
	// does not support it.
	ErrCapabilityMismatch = errors.New("capability mismatch")
	// ErrSendFailed means the backend rejected a mutation. It is retryable.
	ErrSendFailed = errors.New("send failed")
	// ErrAttachmentUploadFailed blocks a send unless the user sends text only.
	ErrAttachmentUploadFailed = errors.New("attachment upload failed")
	// ErrCaptureDenied means microphone permission was refused.
	ErrCaptureDenied = errors.New("capture denied")
	// ErrNotFound means no envelope or thread exists for a ref.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means a state machine transition was not allowed.
	ErrInvalidState = errors.New("invalid state")
)

// A SourceError records the failure of a single source collection.
type SourceError struct {
	Type MessageType
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Type, e.Err)
}

func (e *SourceError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// A CapabilityError names the operation a type does not support.
type CapabilityError struct {
	Type MessageType
	Op   string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Type, e.Op)
}

func (e *CapabilityError) Unwrap() error { return ErrCapabilityMismatch }

// A SendError wraps a backend failure of a mutating operation.
type SendError struct {
	Op  string
	Ref ConversationRef
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrSendFailed, e.Err} }

// Retryable reports that the user may retry the operation.
func (e *SendError) Retryable() bool { return true }

// IsRetryable reports whether err came from a retryable mutation.
func IsRetryable(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Retryable()
}
