// Package adapter dispatches reply, acknowledge, read and archive
// operations to the source a feed item was projected from.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/GetStream/unified-inbox/inbox"
)

// ErrEmptyReply is returned for a reply with neither body nor attachment.
var ErrEmptyReply = errors.New("reply has no body or attachment")

// defaultThreadLimit bounds how many messages a thread load returns.
const defaultThreadLimit = 200

// Capabilities is the static set of operations a message type supports.
type Capabilities struct {
	Reply       bool
	Attach      bool
	Quote       bool
	Acknowledge bool
}

// CapabilitiesOf returns the capability table entry for t.
func CapabilitiesOf(t inbox.MessageType) Capabilities {
	switch t {
	case inbox.TypeSMS:
		return Capabilities{Reply: true, Attach: true}
	case inbox.TypeTeamChat, inbox.TypeTicketChat:
		return Capabilities{Reply: true, Attach: true, Quote: true}
	case inbox.TypeAnnouncement, inbox.TypeNotification:
		return Capabilities{Acknowledge: true}
	default:
		panic(fmt.Sprintf("adapter: unhandled message type %q", t))
	}
}

// A Reply is an outgoing message from the composer.
type Reply struct {
	ClientID   string
	SenderID   string
	Body       string
	Attachment *inbox.Attachment
	Transcript string
	Target     *inbox.ReplyTarget
}

// An Adapter implements the operations of one message type. Callers go
// through Registry, which checks capabilities before dispatch.
type Adapter interface {
	LoadThread(ctx context.Context, rec inbox.Record) ([]inbox.Message, error)
	SendReply(ctx context.Context, rec inbox.Record, r Reply) (inbox.Message, error)
	MarkRead(ctx context.Context, rec inbox.Record, userID string) error
	MarkUnread(ctx context.Context, rec inbox.Record, userID string) error
	Acknowledge(ctx context.Context, rec inbox.Record, userID string) error
	SetArchived(ctx context.Context, rec inbox.Record, userID string, archived bool) error
}

// Registry holds one adapter per message type.
type Registry struct {
	adapters    map[inbox.MessageType]Adapter
	threadLimit int
}

// An Option configures a Registry.
type Option func(*Registry)

// WithThreadLimit caps the messages returned per thread load. Values below
// one keep the default.
func WithThreadLimit(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.threadLimit = n
		}
	}
}

// NewRegistry builds the adapters of every type over one backend.
func NewRegistry(b Backend, opts ...Option) *Registry {
	r := &Registry{
		adapters:    make(map[inbox.MessageType]Adapter, len(inbox.AllTypes)),
		threadLimit: defaultThreadLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, t := range inbox.AllTypes {
		r.adapters[t] = newAdapter(t, b, r.threadLimit)
	}
	return r
}

func newAdapter(t inbox.MessageType, b Backend, limit int) Adapter {
	switch t {
	case inbox.TypeSMS, inbox.TypeTeamChat, inbox.TypeTicketChat:
		return &conversation{backend: b, limit: limit}
	case inbox.TypeAnnouncement:
		return &broadcast{backend: b, ackIsRead: false}
	case inbox.TypeNotification:
		return &broadcast{backend: b, ackIsRead: true}
	default:
		panic(fmt.Sprintf("adapter: unhandled message type %q", t))
	}
}

func (r *Registry) adapter(rec inbox.Record) (Adapter, error) {
	if rec == nil {
		return nil, inbox.ErrNotFound
	}
	a, ok := r.adapters[rec.MessageType()]
	if !ok {
		return nil, &inbox.CapabilityError{Type: rec.MessageType(), Op: "dispatch"}
	}
	return a, nil
}

// LoadThread returns the thread of rec in ascending creation order.
func (r *Registry) LoadThread(ctx context.Context, rec inbox.Record) ([]inbox.Message, error) {
	a, err := r.adapter(rec)
	if err != nil {
		return nil, err
	}
	msgs, err := a.LoadThread(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", inbox.RefOf(rec), err)
	}
	return msgs, nil
}

// CheckReply validates a reply against the capabilities of t without
// performing it.
func CheckReply(t inbox.MessageType, rep Reply) error {
	caps := CapabilitiesOf(t)
	if !caps.Reply {
		return &inbox.CapabilityError{Type: t, Op: "reply"}
	}
	if rep.Attachment != nil && !caps.Attach {
		return &inbox.CapabilityError{Type: t, Op: "attachment"}
	}
	if rep.Target != nil {
		if !caps.Quote {
			return &inbox.CapabilityError{Type: t, Op: "quoted reply"}
		}
		if rep.Target.MessageType != t {
			return &inbox.CapabilityError{Type: t, Op: "quoting a " + string(rep.Target.MessageType) + " message"}
		}
	}
	if strings.TrimSpace(rep.Body) == "" && rep.Attachment == nil {
		return ErrEmptyReply
	}
	return nil
}

// SendReply sends rep into the thread of rec.
func (r *Registry) SendReply(ctx context.Context, rec inbox.Record, rep Reply) (inbox.Message, error) {
	a, err := r.adapter(rec)
	if err != nil {
		return inbox.Message{}, err
	}
	if err := CheckReply(rec.MessageType(), rep); err != nil {
		return inbox.Message{}, err
	}
	msg, err := a.SendReply(ctx, rec, rep)
	if err != nil {
		return inbox.Message{}, &inbox.SendError{Op: "reply", Ref: inbox.RefOf(rec), Err: err}
	}
	return msg, nil
}

// MarkRead clears the unread state of rec for userID. It is idempotent.
func (r *Registry) MarkRead(ctx context.Context, rec inbox.Record, userID string) error {
	return r.mutate(ctx, rec, "mark read", func(a Adapter) error {
		return a.MarkRead(ctx, rec, userID)
	})
}

// MarkUnread restores the unread state of rec for userID. A team chat only
// reads as unread when someone else posted last, so marking one unread after
// the viewer's own message is refused.
func (r *Registry) MarkUnread(ctx context.Context, rec inbox.Record, userID string) error {
	if c, ok := rec.(inbox.TeamChatConversation); ok && (c.LastMessageAt == nil || c.LastSenderID == c.ViewerID) {
		return fmt.Errorf("mark unread %s: no message from another participant: %w", inbox.RefOf(rec), inbox.ErrInvalidState)
	}
	return r.mutate(ctx, rec, "mark unread", func(a Adapter) error {
		return a.MarkUnread(ctx, rec, userID)
	})
}

// Acknowledge records a receipt for an announcement or notification.
func (r *Registry) Acknowledge(ctx context.Context, rec inbox.Record, userID string) error {
	if rec != nil && !CapabilitiesOf(rec.MessageType()).Acknowledge {
		return &inbox.CapabilityError{Type: rec.MessageType(), Op: "acknowledge"}
	}
	return r.mutate(ctx, rec, "acknowledge", func(a Adapter) error {
		return a.Acknowledge(ctx, rec, userID)
	})
}

// Archive dismisses rec from the default views. Nothing is deleted.
func (r *Registry) Archive(ctx context.Context, rec inbox.Record, userID string) error {
	return r.mutate(ctx, rec, "archive", func(a Adapter) error {
		return a.SetArchived(ctx, rec, userID, true)
	})
}

// Restore reverses Archive.
func (r *Registry) Restore(ctx context.Context, rec inbox.Record, userID string) error {
	return r.mutate(ctx, rec, "restore", func(a Adapter) error {
		return a.SetArchived(ctx, rec, userID, false)
	})
}

func (r *Registry) mutate(ctx context.Context, rec inbox.Record, op string, fn func(Adapter) error) error {
	a, err := r.adapter(rec)
	if err != nil {
		return err
	}
	if err := fn(a); err != nil {
		return &inbox.SendError{Op: op, Ref: inbox.RefOf(rec), Err: err}
	}
	return nil
}

// conversation serves the message-based sources: SMS, team chat and
// ticket threads.
type conversation struct {
	backend Backend
	limit   int
}

func (c *conversation) LoadThread(ctx context.Context, rec inbox.Record) ([]inbox.Message, error) {
	ref := inbox.RefOf(rec)
	msgs, err := c.backend.ListMessages(ctx, ref, c.limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	sortMessages(msgs)

	targets, err := c.replyTargets(ctx, ref, msgs)
	if err != nil {
		return nil, err
	}
	names, err := c.resolve(ctx, append(slices.Clip(msgs), targets...))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]inbox.Message, len(msgs)+len(targets))
	for i := range msgs {
		m := &msgs[i]
		m.ThreadRef = ref
		if m.SenderName == "" {
			m.SenderName = senderName(rec, m.SenderID, names)
		}
		byID[m.ID] = *m
	}
	for _, m := range targets {
		if m.SenderName == "" {
			m.SenderName = senderName(rec, m.SenderID, names)
		}
		byID[m.ID] = m
	}
	for i := range msgs {
		m := &msgs[i]
		if m.ReplyToID == "" {
			continue
		}
		if q, ok := byID[m.ReplyToID]; ok {
			m.ReplyToSenderName = q.SenderName
			m.ReplyToContent = q.Content
		}
	}
	return msgs, nil
}

// replyTargets fetches the quoted messages that fall outside the loaded page.
func (c *conversation) replyTargets(ctx context.Context, ref inbox.ConversationRef, msgs []inbox.Message) ([]inbox.Message, error) {
	loaded := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		loaded[m.ID] = true
	}
	var missing []string
	for _, m := range msgs {
		if m.ReplyToID != "" && !loaded[m.ReplyToID] {
			loaded[m.ReplyToID] = true
			missing = append(missing, m.ReplyToID)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	targets, err := c.backend.GetMessages(ctx, ref, missing)
	if err != nil {
		return nil, fmt.Errorf("get reply targets: %w", err)
	}
	return targets, nil
}

// resolve looks up every sender name missing from msgs in one call.
func (c *conversation) resolve(ctx context.Context, msgs []inbox.Message) (map[string]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range msgs {
		if m.SenderName == "" && m.SenderID != "" && !seen[m.SenderID] {
			seen[m.SenderID] = true
			ids = append(ids, m.SenderID)
		}
	}
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	names, err := c.backend.ResolveUsers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	return names, nil
}

// senderName picks a display name. SMS messages without a sender came in
// from the contact.
func senderName(rec inbox.Record, senderID string, names map[string]string) string {
	if n := names[senderID]; n != "" {
		return n
	}
	if sms, ok := rec.(inbox.SMSConversation); ok && senderID == "" {
		if sms.ContactName != "" {
			return sms.ContactName
		}
		if sms.ContactPhone != "" {
			return sms.ContactPhone
		}
		return inbox.PlaceholderContact
	}
	if senderID == "" {
		return "Unknown"
	}
	return senderID
}

func (c *conversation) SendReply(ctx context.Context, rec inbox.Record, r Reply) (inbox.Message, error) {
	nm := NewMessage{
		ClientID:   r.ClientID,
		SenderID:   r.SenderID,
		Body:       r.Body,
		Attachment: r.Attachment,
		Transcript: r.Transcript,
	}
	if r.Target != nil {
		nm.ReplyToID = r.Target.ID
	}
	msg, err := c.backend.InsertMessage(ctx, inbox.RefOf(rec), nm)
	if err != nil {
		return inbox.Message{}, err
	}
	msg.ThreadRef = inbox.RefOf(rec)
	msg.ClientID = r.ClientID
	if msg.SenderName == "" {
		names, err := c.backend.ResolveUsers(ctx, []string{r.SenderID})
		if err != nil {
			names = nil
		}
		msg.SenderName = senderName(rec, r.SenderID, names)
	}
	if r.Target != nil {
		msg.ReplyToID = r.Target.ID
		msg.ReplyToSenderName = r.Target.SenderName
		msg.ReplyToContent = r.Target.Content
	}
	return msg, nil
}

func (c *conversation) MarkRead(ctx context.Context, rec inbox.Record, userID string) error {
	return c.backend.SetRead(ctx, inbox.RefOf(rec), userID, true)
}

func (c *conversation) MarkUnread(ctx context.Context, rec inbox.Record, userID string) error {
	return c.backend.SetRead(ctx, inbox.RefOf(rec), userID, false)
}

func (c *conversation) Acknowledge(context.Context, inbox.Record, string) error {
	return inbox.ErrCapabilityMismatch
}

func (c *conversation) SetArchived(ctx context.Context, rec inbox.Record, userID string, archived bool) error {
	return c.backend.SetDismissed(ctx, inbox.RefOf(rec), userID, archived)
}

// broadcast serves one-way sources: announcements and notifications. Their
// thread is the record itself.
type broadcast struct {
	backend Backend
	// ackIsRead marks sources whose acknowledgment is only a read receipt.
	ackIsRead bool
}

func (b *broadcast) LoadThread(_ context.Context, rec inbox.Record) ([]inbox.Message, error) {
	ref := inbox.RefOf(rec)
	switch r := rec.(type) {
	case inbox.Announcement:
		return []inbox.Message{{
			ID:         r.ID,
			ThreadRef:  ref,
			SenderID:   r.AuthorID,
			SenderName: r.AuthorName,
			Content:    joinNonEmpty(r.Title, r.Body),
			CreatedAt:  r.PublishedAt,
		}}, nil
	case inbox.SystemNotification:
		return []inbox.Message{{
			ID:         r.ID,
			ThreadRef:  ref,
			SenderName: "System",
			Content:    joinNonEmpty(r.Title, r.Body),
			CreatedAt:  r.CreatedAt,
		}}, nil
	default:
		return nil, &inbox.CapabilityError{Type: rec.MessageType(), Op: "broadcast thread"}
	}
}

func (b *broadcast) SendReply(_ context.Context, rec inbox.Record, _ Reply) (inbox.Message, error) {
	return inbox.Message{}, &inbox.CapabilityError{Type: rec.MessageType(), Op: "reply"}
}

func (b *broadcast) MarkRead(ctx context.Context, rec inbox.Record, userID string) error {
	return b.backend.SetRead(ctx, inbox.RefOf(rec), userID, true)
}

func (b *broadcast) MarkUnread(ctx context.Context, rec inbox.Record, userID string) error {
	return b.backend.SetRead(ctx, inbox.RefOf(rec), userID, false)
}

func (b *broadcast) Acknowledge(ctx context.Context, rec inbox.Record, userID string) error {
	ref := inbox.RefOf(rec)
	if b.ackIsRead {
		return b.backend.SetRead(ctx, ref, userID, true)
	}
	if err := b.backend.Acknowledge(ctx, ref, userID); err != nil {
		return err
	}
	return b.backend.SetRead(ctx, ref, userID, true)
}

func (b *broadcast) SetArchived(ctx context.Context, rec inbox.Record, userID string, archived bool) error {
	return b.backend.SetDismissed(ctx, inbox.RefOf(rec), userID, archived)
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
