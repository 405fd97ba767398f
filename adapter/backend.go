package adapter

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/GetStream/unified-inbox/inbox"
)

// A Backend performs source operations for every message type. Its
// implementations own the wire format and the persistence schema.
type Backend interface {
	// ListMessages returns the messages of a thread, skipping excludeIDs.
	ListMessages(ctx context.Context, ref inbox.ConversationRef, limit int, excludeIDs ...string) ([]inbox.Message, error)
	// GetMessages returns the messages of a thread with the given ids.
	// Unknown ids are skipped.
	GetMessages(ctx context.Context, ref inbox.ConversationRef, ids []string) ([]inbox.Message, error)
	InsertMessage(ctx context.Context, ref inbox.ConversationRef, msg NewMessage) (inbox.Message, error)
	ResolveUsers(ctx context.Context, ids []string) (map[string]string, error)
	SetRead(ctx context.Context, ref inbox.ConversationRef, userID string, read bool) error
	Acknowledge(ctx context.Context, ref inbox.ConversationRef, userID string) error
	SetDismissed(ctx context.Context, ref inbox.ConversationRef, userID string, dismissed bool) error
}

// A NewMessage is an outgoing reply as handed to the backend.
type NewMessage struct {
	ClientID   string
	SenderID   string
	Body       string
	Attachment *inbox.Attachment
	Transcript string
	ReplyToID  string
}

// A MessageCache holds the most recent messages of busy threads.
type MessageCache interface {
	ListMessages(ctx context.Context, ref inbox.ConversationRef) ([]inbox.Message, error)
	InsertMessage(ctx context.Context, msg inbox.Message) error
}

// CachedBackend serves thread reads from the cache first and loads the
// remainder from the backend. Writes go to the backend, then the cache.
type CachedBackend struct {
	Backend
	Cache  MessageCache
	Logger *slog.Logger
}

// ListMessages merges cached messages with the remaining backend messages.
// A cache failure falls back to the backend alone.
func (c *CachedBackend) ListMessages(ctx context.Context, ref inbox.ConversationRef, limit int, excludeIDs ...string) ([]inbox.Message, error) {
	cached, err := c.Cache.ListMessages(ctx, ref)
	if err != nil {
		c.Logger.Error("Could not list cached messages", "ref", ref.String(), "error", err.Error())
		cached = nil
	}
	c.Logger.Info("Got messages from cache", "ref", ref.String(), "count", len(cached))

	exclude := slices.Clone(excludeIDs)
	for _, m := range cached {
		exclude = append(exclude, m.ID)
	}

	dbMsgs, err := c.Backend.ListMessages(ctx, ref, limit, exclude...)
	if err != nil {
		return nil, err
	}
	c.Logger.Info("Got remaining messages from DB", "ref", ref.String(), "count", len(dbMsgs))

	skip := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		skip[id] = true
	}
	out := make([]inbox.Message, 0, len(cached)+len(dbMsgs))
	for _, m := range cached {
		if !skip[m.ID] {
			out = append(out, m)
		}
	}
	out = append(out, dbMsgs...)
	sortMessages(out)
	return out, nil
}

// InsertMessage inserts into the backend and caches the stored message.
func (c *CachedBackend) InsertMessage(ctx context.Context, ref inbox.ConversationRef, msg NewMessage) (inbox.Message, error) {
	stored, err := c.Backend.InsertMessage(ctx, ref, msg)
	if err != nil {
		return inbox.Message{}, err
	}
	if err := c.Cache.InsertMessage(ctx, stored); err != nil {
		c.Logger.Error("Could not cache message", "error", err.Error())
	}
	return stored, nil
}

func sortMessages(msgs []inbox.Message) {
	slices.SortStableFunc(msgs, func(a, b inbox.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
