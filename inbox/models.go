package inbox

import (
	"fmt"
	"strings"
	"time"
)

// A MessageType identifies which source an envelope was projected from.
// The set is closed: every switch over it must handle all of AllTypes.
type MessageType string

const (
	TypeSMS          MessageType = "sms"
	TypeTeamChat     MessageType = "team_chat"
	TypeTicketChat   MessageType = "ticket_chat"
	TypeAnnouncement MessageType = "team_announcement"
	TypeNotification MessageType = "system_notification"
)

// AllTypes lists every message type. Its order is the tie-break rank used
// when two envelopes share a timestamp.
var AllTypes = []MessageType{
	TypeSMS,
	TypeTeamChat,
	TypeTicketChat,
	TypeAnnouncement,
	TypeNotification,
}

// ParseMessageType validates s against the closed set of types.
func ParseMessageType(s string) (MessageType, error) {
	for _, t := range AllTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

func (t MessageType) rank() int {
	for i, at := range AllTypes {
		if at == t {
			return i
		}
	}
	return len(AllTypes)
}

// SupportsQuoting reports whether replies in threads of this type may
// quote an earlier message.
func (t MessageType) SupportsQuoting() bool {
	switch t {
	case TypeTeamChat, TypeTicketChat:
		return true
	case TypeSMS, TypeAnnouncement, TypeNotification:
		return false
	default:
		panic(fmt.Sprintf("inbox: unhandled message type %q", t))
	}
}

// A ConversationRef scopes per-thread state (pins, reactions, open thread)
// independently of any aggregation pass.
type ConversationRef struct {
	Type     MessageType `json:"type"`
	SourceID string      `json:"source_id"`
}

// String returns the collision-free "type:sourceId" key.
func (r ConversationRef) String() string {
	return string(r.Type) + ":" + r.SourceID
}

// IsZero reports whether the ref is unscoped.
func (r ConversationRef) IsZero() bool {
	return r.Type == "" || r.SourceID == ""
}

// ParseConversationRef parses a "type:sourceId" key.
func ParseConversationRef(s string) (ConversationRef, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ConversationRef{}, fmt.Errorf("malformed conversation ref %q", s)
	}
	t, err := ParseMessageType(typ)
	if err != nil {
		return ConversationRef{}, err
	}
	return ConversationRef{Type: t, SourceID: id}, nil
}

// A UnifiedMessage is the normalized envelope the aggregator sorts,
// filters and counts. Envelopes are recomputed on every pass.
type UnifiedMessage struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	Title       string      `json:"title"`
	Preview     string      `json:"preview"`
	Timestamp   time.Time   `json:"timestamp"`
	IsUnread    bool        `json:"is_unread"`
	IsDismissed bool        `json:"is_dismissed"`
	NeedsAck    bool        `json:"needs_ack,omitempty"`
	ActionID    *string     `json:"action_id"`
	ActionType  string      `json:"action_type"`
	Raw         Record      `json:"-"`
}

// Ref returns the conversation the envelope was projected from.
func (m UnifiedMessage) Ref() ConversationRef {
	return ConversationRef{Type: m.Type, SourceID: m.ID}
}

// Key returns the aggregator-wide unique key.
func (m UnifiedMessage) Key() string {
	return m.Ref().String()
}

// An Attachment is the stored result of an upload.
type Attachment struct {
	URL             string  `json:"url"`
	Name            string  `json:"name"`
	Size            int64   `json:"size"`
	MimeType        string  `json:"mime_type"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// A ReplyTarget is the message a quoted reply points at.
type ReplyTarget struct {
	ID          string      `json:"id"`
	SenderName  string      `json:"sender_name"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
}

// A Message is one entry in a loaded thread, ordered by CreatedAt.
type Message struct {
	ID                string          `json:"id"`
	ClientID          string          `json:"client_id,omitempty"`
	ThreadRef         ConversationRef `json:"thread"`
	SenderID          string          `json:"sender_id"`
	SenderName        string          `json:"sender_name"`
	Content           string          `json:"content"`
	Attachment        *Attachment     `json:"attachment,omitempty"`
	Transcript        string          `json:"transcript,omitempty"`
	ReplyToID         string          `json:"reply_to_id,omitempty"`
	ReplyToSenderName string          `json:"reply_to_sender_name,omitempty"`
	ReplyToContent    string          `json:"reply_to_content,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	Pending           bool            `json:"pending,omitempty"`
}

// Matches reports whether the message content or its voice transcript
// contains q, ignoring case.
func (m Message) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(m.Content), q) ||
		strings.Contains(strings.ToLower(m.Transcript), q)
}
