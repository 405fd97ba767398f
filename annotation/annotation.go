// Package annotation implements reactions and pinned messages. Both are
// keyed by the thread's ConversationRef and live independently of the feed.
package annotation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/GetStream/unified-inbox/inbox"
)

// ErrUnscoped is returned for an annotation without a user or a thread.
var ErrUnscoped = errors.New("annotation requires a user and a thread")

// A Reaction is the summary of one emoji on one message.
type Reaction struct {
	Emoji      string `json:"emoji"`
	Count      int    `json:"count"`
	HasReacted bool   `json:"has_reacted"`
}

// A ReactionRow is one user's reaction as stored.
type ReactionRow struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

// A PinnedMessage is a pin in a thread.
type PinnedMessage struct {
	ID          string            `json:"id"`
	MessageID   string            `json:"message_id"`
	MessageType inbox.MessageType `json:"message_type"`
	PinnedBy    string            `json:"pinned_by"`
	PinnedAt    time.Time         `json:"pinned_at"`
}

// Store persists reactions and pins. Toggles are delete-else-insert so
// repeating one returns to the original state.
type Store interface {
	ToggleReaction(ctx context.Context, ref inbox.ConversationRef, messageID, userID, emoji string) (added bool, err error)
	ListReactions(ctx context.Context, ref inbox.ConversationRef, messageIDs ...string) ([]ReactionRow, error)
	TogglePin(ctx context.Context, ref inbox.ConversationRef, messageID string, messageType inbox.MessageType, userID string) (pinned bool, err error)
	ListPins(ctx context.Context, ref inbox.ConversationRef) ([]PinnedMessage, error)
}

// Service validates annotation requests and summarizes stored rows.
type Service struct {
	Store  Store
	Logger *slog.Logger
}

// ToggleReaction adds or removes userID's emoji on a message and returns
// the message's refreshed reactions as seen by userID.
func (s *Service) ToggleReaction(ctx context.Context, ref inbox.ConversationRef, messageID, userID, emoji string) ([]Reaction, error) {
	if err := scope(ref, userID); err != nil {
		return nil, err
	}
	emoji = strings.TrimSpace(emoji)
	if messageID == "" || emoji == "" {
		return nil, fmt.Errorf("reaction needs a message and an emoji: %w", ErrUnscoped)
	}

	added, err := s.Store.ToggleReaction(ctx, ref, messageID, userID, emoji)
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	s.Logger.Info("Toggled reaction", "ref", ref.String(), "message_id", messageID, "emoji", emoji, "added", added)

	rows, err := s.Store.ListReactions(ctx, ref, messageID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return Summarize(rows, userID)[messageID], nil
}

// ListReactions returns the reactions of every message in the thread (or of
// messageIDs only), keyed by message id.
func (s *Service) ListReactions(ctx context.Context, ref inbox.ConversationRef, userID string, messageIDs ...string) (map[string][]Reaction, error) {
	if err := scope(ref, userID); err != nil {
		return nil, err
	}
	rows, err := s.Store.ListReactions(ctx, ref, messageIDs...)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	return Summarize(rows, userID), nil
}

// TogglePin pins or unpins a message and returns the thread's pin bar.
func (s *Service) TogglePin(ctx context.Context, ref inbox.ConversationRef, messageID string, messageType inbox.MessageType, userID string) (PinBar, error) {
	if err := scope(ref, userID); err != nil {
		return PinBar{}, err
	}
	if messageID == "" {
		return PinBar{}, fmt.Errorf("pin needs a message: %w", ErrUnscoped)
	}
	if messageType != ref.Type {
		return PinBar{}, &inbox.CapabilityError{Type: ref.Type, Op: "pinning a " + string(messageType) + " message"}
	}

	pinned, err := s.Store.TogglePin(ctx, ref, messageID, messageType, userID)
	if err != nil {
		return PinBar{}, fmt.Errorf("toggle pin: %w", err)
	}
	s.Logger.Info("Toggled pin", "ref", ref.String(), "message_id", messageID, "pinned", pinned)
	return s.ListPins(ctx, ref, userID)
}

// ListPins returns the pin bar of a thread.
func (s *Service) ListPins(ctx context.Context, ref inbox.ConversationRef, userID string) (PinBar, error) {
	if err := scope(ref, userID); err != nil {
		return PinBar{}, err
	}
	pins, err := s.Store.ListPins(ctx, ref)
	if err != nil {
		return PinBar{}, fmt.Errorf("list pins: %w", err)
	}
	return NewPinBar(pins), nil
}

func scope(ref inbox.ConversationRef, userID string) error {
	if strings.TrimSpace(userID) == "" || ref.IsZero() {
		return ErrUnscoped
	}
	return nil
}

// Summarize groups reaction rows per message and emoji. HasReacted only
// reflects userID's own rows. Reactions are sorted by emoji.
func Summarize(rows []ReactionRow, userID string) map[string][]Reaction {
	type key struct{ msg, emoji string }
	byKey := make(map[key]*Reaction)
	seen := make(map[ReactionRow]bool)
	out := make(map[string][]Reaction)
	for _, r := range rows {
		dedup := ReactionRow{MessageID: r.MessageID, UserID: r.UserID, Emoji: r.Emoji}
		if seen[dedup] {
			continue
		}
		seen[dedup] = true

		k := key{r.MessageID, r.Emoji}
		agg, ok := byKey[k]
		if !ok {
			agg = &Reaction{Emoji: r.Emoji}
			byKey[k] = agg
		}
		agg.Count++
		if userID != "" && r.UserID == userID {
			agg.HasReacted = true
		}
	}
	for k, r := range byKey {
		out[k.msg] = append(out[k.msg], *r)
	}
	for _, rs := range out {
		slices.SortFunc(rs, func(a, b Reaction) int { return cmp.Compare(a.Emoji, b.Emoji) })
	}
	return out
}

// A PinBar is the pinned-messages bar of a thread, most recent first.
type PinBar struct {
	pins []PinnedMessage
}

// NewPinBar orders pins most recent first.
func NewPinBar(pins []PinnedMessage) PinBar {
	sorted := slices.Clone(pins)
	slices.SortStableFunc(sorted, func(a, b PinnedMessage) int {
		if c := b.PinnedAt.Compare(a.PinnedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return PinBar{pins: sorted}
}

// Collapsed returns the most recent pin, or nil when nothing is pinned.
func (b PinBar) Collapsed() *PinnedMessage {
	if len(b.pins) == 0 {
		return nil
	}
	p := b.pins[0]
	return &p
}

// Expanded returns every pin, most recent first.
func (b PinBar) Expanded() []PinnedMessage {
	return slices.Clone(b.pins)
}

// Len returns the number of pins.
func (b PinBar) Len() int { return len(b.pins) }
