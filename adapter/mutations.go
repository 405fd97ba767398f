package adapter

import (
	"context"

	"github.com/GetStream/unified-inbox/inbox"
)

// MarkReadMutation is the optimistic form of MarkRead for a feed item.
func (r *Registry) MarkReadMutation(ref inbox.ConversationRef, userID string) inbox.Mutation {
	return inbox.Mutation{
		Op:     "mark read",
		Ref:    ref,
		Fields: inbox.FieldUnread,
		Apply:  inbox.SetUnread(false),
		Run: func(ctx context.Context, m inbox.UnifiedMessage) error {
			return r.MarkRead(ctx, m.Raw, userID)
		},
	}
}

// MarkUnreadMutation is the optimistic form of MarkUnread.
func (r *Registry) MarkUnreadMutation(ref inbox.ConversationRef, userID string) inbox.Mutation {
	return inbox.Mutation{
		Op:     "mark unread",
		Ref:    ref,
		Fields: inbox.FieldUnread,
		Apply:  inbox.SetUnread(true),
		Run: func(ctx context.Context, m inbox.UnifiedMessage) error {
			return r.MarkUnread(ctx, m.Raw, userID)
		},
	}
}

// ToggleReadMutation flips the read state of m as currently displayed.
func (r *Registry) ToggleReadMutation(m inbox.UnifiedMessage, userID string) inbox.Mutation {
	if m.IsUnread {
		return r.MarkReadMutation(m.Ref(), userID)
	}
	return r.MarkUnreadMutation(m.Ref(), userID)
}

// AcknowledgeMutation is the optimistic form of Acknowledge.
func (r *Registry) AcknowledgeMutation(ref inbox.ConversationRef, userID string) inbox.Mutation {
	return inbox.Mutation{
		Op:     "acknowledge",
		Ref:    ref,
		Fields: inbox.FieldUnread | inbox.FieldAck,
		Apply:  inbox.SetAcknowledged(),
		Run: func(ctx context.Context, m inbox.UnifiedMessage) error {
			return r.Acknowledge(ctx, m.Raw, userID)
		},
	}
}

// ArchiveMutation is the optimistic form of Archive.
func (r *Registry) ArchiveMutation(ref inbox.ConversationRef, userID string) inbox.Mutation {
	return inbox.Mutation{
		Op:     "archive",
		Ref:    ref,
		Fields: inbox.FieldDismissed,
		Apply:  inbox.SetDismissed(true),
		Run: func(ctx context.Context, m inbox.UnifiedMessage) error {
			return r.Archive(ctx, m.Raw, userID)
		},
	}
}

// RestoreMutation is the optimistic form of Restore.
func (r *Registry) RestoreMutation(ref inbox.ConversationRef, userID string) inbox.Mutation {
	return inbox.Mutation{
		Op:     "restore",
		Ref:    ref,
		Fields: inbox.FieldDismissed,
		Apply:  inbox.SetDismissed(false),
		Run: func(ctx context.Context, m inbox.UnifiedMessage) error {
			return r.Restore(ctx, m.Raw, userID)
		},
	}
}
