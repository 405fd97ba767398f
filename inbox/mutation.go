package inbox

import (
	"context"
	"errors"
)

// A Field is a locally mutable envelope field.
type Field uint8

const (
	FieldUnread Field = 1 << iota
	FieldDismissed
	FieldAck
)

// A Mutation is an optimistic change to one envelope: Apply is the local
// delta, Run the command sent to the source. Fields names what Apply
// touches so rollback and push merges can work field by field.
type Mutation struct {
	Op     string
	Ref    ConversationRef
	Fields Field
	Apply  func(m *UnifiedMessage)
	Run    func(ctx context.Context, m UnifiedMessage) error
}

// SetUnread returns a mutation delta setting IsUnread.
func SetUnread(v bool) func(*UnifiedMessage) {
	return func(m *UnifiedMessage) { m.IsUnread = v }
}

// SetDismissed returns a mutation delta setting IsDismissed.
func SetDismissed(v bool) func(*UnifiedMessage) {
	return func(m *UnifiedMessage) { m.IsDismissed = v }
}

// SetAcknowledged returns a mutation delta clearing both the pending
// acknowledgment and the unread state.
func SetAcknowledged() func(*UnifiedMessage) {
	return func(m *UnifiedMessage) {
		m.IsUnread = false
		m.NeedsAck = false
	}
}

type pendingMutation struct {
	seq      uint64
	fields   Field
	snapshot UnifiedMessage
}

// restore copies the fields touched by a mutation from snap into m.
func restore(m *UnifiedMessage, snap UnifiedMessage, fields Field) {
	if fields&FieldUnread != 0 {
		m.IsUnread = snap.IsUnread
	}
	if fields&FieldDismissed != 0 {
		m.IsDismissed = snap.IsDismissed
	}
	if fields&FieldAck != 0 {
		m.NeedsAck = snap.NeedsAck
	}
}

// keep copies pending fields from local into incoming so an upsert does
// not clobber an unconfirmed change.
func keep(incoming *UnifiedMessage, local UnifiedMessage, fields Field) {
	restore(incoming, local, fields)
}

// asSendError wraps failures that are not already part of the taxonomy.
func asSendError(op string, ref ConversationRef, err error) error {
	if errors.Is(err, ErrSendFailed) ||
		errors.Is(err, ErrCapabilityMismatch) ||
		errors.Is(err, ErrAttachmentUploadFailed) ||
		errors.Is(err, ErrCaptureDenied) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	return &SendError{Op: op, Ref: ref, Err: err}
}
