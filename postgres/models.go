package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/GetStream/unified-inbox/annotation"
	"github.com/GetStream/unified-inbox/inbox"
)

// A user is a staff member that can send messages.
type user struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID   string `bun:",pk"`
	Name string `bun:",notnull"`
}

type smsConversation struct {
	bun.BaseModel `bun:"table:sms_conversations,alias:c"`

	ID             string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	OwnerID        string    `bun:",notnull"`
	ContactName    string    `bun:",nullzero"`
	ContactPhone   string    `bun:",nullzero"`
	LastMessage    string    `bun:",nullzero"`
	LastActivityAt time.Time `bun:",nullzero,notnull,default:now()"`

	UnreadCount int  `bun:",scanonly"`
	Archived    bool `bun:",scanonly"`
}

type teamConversation struct {
	bun.BaseModel `bun:"table:team_conversations,alias:c"`

	ID            string     `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Name          string     `bun:",nullzero"`
	IsGroup       bool       `bun:",notnull,default:false"`
	LastMessage   string     `bun:",nullzero"`
	LastSenderID  string     `bun:",nullzero"`
	LastMessageAt *time.Time `bun:",nullzero"`
	CreatedAt     time.Time  `bun:",nullzero,notnull,default:now()"`

	Participants   []string   `bun:",array,scanonly"`
	LastSenderName string     `bun:",scanonly"`
	LastReadAt     *time.Time `bun:",scanonly"`
	Archived       bool       `bun:",scanonly"`
}

type teamMember struct {
	bun.BaseModel `bun:"table:team_members,alias:tm"`

	ConversationID string `bun:",pk,type:uuid"`
	UserID         string `bun:",pk"`
}

type ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:c"`

	ID             string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Number         string    `bun:",notnull,unique"`
	Subject        string    `bun:",notnull"`
	AssigneeID     string    `bun:",nullzero"`
	LastComment    string    `bun:",nullzero"`
	LastCommenter  string    `bun:",nullzero"`
	LastActivityAt time.Time `bun:",nullzero,notnull,default:now()"`

	UnreadComments int  `bun:",scanonly"`
	Archived       bool `bun:",scanonly"`
}

type announcement struct {
	bun.BaseModel `bun:"table:announcements,alias:c"`

	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	Title       string    `bun:",notnull"`
	Body        string    `bun:",nullzero"`
	AuthorID    string    `bun:",notnull"`
	Priority    string    `bun:",notnull,default:'normal'"`
	RequiresAck bool      `bun:",notnull,default:false"`
	PublishedAt time.Time `bun:",nullzero,notnull,default:now()"`

	AuthorName     string     `bun:",scanonly"`
	ReadAt         *time.Time `bun:",scanonly"`
	AcknowledgedAt *time.Time `bun:",scanonly"`
	Archived       bool       `bun:",scanonly"`
}

type notification struct {
	bun.BaseModel `bun:"table:notifications,alias:c"`

	ID         string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	UserID     string    `bun:",notnull"`
	Title      string    `bun:",notnull"`
	Body       string    `bun:",nullzero"`
	Kind       string    `bun:",notnull"`
	ActionURL  *string   `bun:",nullzero"`
	ActionID   *string   `bun:",nullzero"`
	ActionType string    `bun:",nullzero"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:now()"`

	ReadAt   *time.Time `bun:",scanonly"`
	Archived bool       `bun:",scanonly"`
}

// A message is one entry of an SMS, team chat or ticket thread. Inbound SMS
// messages have no sender.
type message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID                 string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ClientID           string    `bun:",nullzero,unique"`
	ThreadType         string    `bun:",notnull"`
	ThreadID           string    `bun:",notnull"`
	SenderID           string    `bun:",nullzero"`
	Body               string    `bun:",nullzero"`
	AttachmentURL      string    `bun:",nullzero"`
	AttachmentName     string    `bun:",nullzero"`
	AttachmentSize     int64     `bun:",nullzero"`
	AttachmentMimeType string    `bun:",nullzero"`
	AttachmentDuration float64   `bun:",nullzero"`
	Transcript         string    `bun:",nullzero"`
	ReplyToID          string    `bun:",nullzero,type:uuid"`
	CreatedAt          time.Time `bun:",nullzero,notnull,default:now()"`

	SenderName string `bun:",scanonly"`
}

// A readState is one user's read and acknowledgment receipt for a thread.
// Receipts are upserted so concurrent sessions converge.
type readState struct {
	bun.BaseModel `bun:"table:read_states,alias:rs"`

	UserID         string     `bun:",pk"`
	ThreadType     string     `bun:",pk"`
	ThreadID       string     `bun:",pk"`
	ReadAt         *time.Time `bun:",nullzero"`
	AcknowledgedAt *time.Time `bun:",nullzero"`
}

// A dismissal hides a thread from one user's default views.
type dismissal struct {
	bun.BaseModel `bun:"table:dismissals,alias:d"`

	UserID      string    `bun:",pk"`
	ThreadType  string    `bun:",pk"`
	ThreadID    string    `bun:",pk"`
	DismissedAt time.Time `bun:",nullzero,notnull,default:now()"`
}

type reaction struct {
	bun.BaseModel `bun:"table:reactions,alias:r"`

	ID         string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ThreadType string    `bun:",notnull,unique:reactions_once"`
	ThreadID   string    `bun:",notnull,unique:reactions_once"`
	MessageID  string    `bun:",notnull,unique:reactions_once"`
	UserID     string    `bun:",notnull,unique:reactions_once"`
	Emoji      string    `bun:",notnull,unique:reactions_once"`
	CreatedAt  time.Time `bun:",nullzero,notnull,default:now()"`
}

type pin struct {
	bun.BaseModel `bun:"table:pins,alias:p"`

	ID          string    `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ThreadType  string    `bun:",notnull,unique:pins_once"`
	ThreadID    string    `bun:",notnull,unique:pins_once"`
	MessageID   string    `bun:",notnull,unique:pins_once"`
	MessageType string    `bun:",notnull"`
	PinnedBy    string    `bun:",notnull"`
	PinnedAt    time.Time `bun:",nullzero,notnull,default:now()"`
}

// models lists every table in creation order.
var models = []any{
	(*user)(nil),
	(*smsConversation)(nil),
	(*teamConversation)(nil),
	(*teamMember)(nil),
	(*ticket)(nil),
	(*announcement)(nil),
	(*notification)(nil),
	(*message)(nil),
	(*readState)(nil),
	(*dismissal)(nil),
	(*reaction)(nil),
	(*pin)(nil),
}

func (c smsConversation) Record() inbox.SMSConversation {
	return inbox.SMSConversation{
		ID:             c.ID,
		ContactName:    c.ContactName,
		ContactPhone:   c.ContactPhone,
		LastMessage:    c.LastMessage,
		LastActivityAt: c.LastActivityAt,
		UnreadCount:    c.UnreadCount,
		Archived:       c.Archived,
	}
}

func (c teamConversation) Record(viewerID string) inbox.TeamChatConversation {
	return inbox.TeamChatConversation{
		ID:             c.ID,
		Name:           c.Name,
		IsGroup:        c.IsGroup,
		Participants:   c.Participants,
		ViewerID:       viewerID,
		LastMessage:    c.LastMessage,
		LastSenderID:   c.LastSenderID,
		LastSenderName: c.LastSenderName,
		LastMessageAt:  c.LastMessageAt,
		CreatedAt:      c.CreatedAt,
		LastReadAt:     c.LastReadAt,
		Archived:       c.Archived,
	}
}

func (c ticket) Record() inbox.TicketThread {
	return inbox.TicketThread{
		TicketID:       c.ID,
		TicketNumber:   c.Number,
		Subject:        c.Subject,
		LastComment:    c.LastComment,
		LastCommenter:  c.LastCommenter,
		LastActivityAt: c.LastActivityAt,
		UnreadComments: c.UnreadComments,
		Archived:       c.Archived,
	}
}

func (c announcement) Record() inbox.Announcement {
	return inbox.Announcement{
		ID:             c.ID,
		Title:          c.Title,
		Body:           c.Body,
		AuthorID:       c.AuthorID,
		AuthorName:     c.AuthorName,
		Priority:       c.Priority,
		RequiresAck:    c.RequiresAck,
		PublishedAt:    c.PublishedAt,
		ReadAt:         c.ReadAt,
		AcknowledgedAt: c.AcknowledgedAt,
		Archived:       c.Archived,
	}
}

func (c notification) Record() inbox.SystemNotification {
	return inbox.SystemNotification{
		ID:         c.ID,
		Title:      c.Title,
		Body:       c.Body,
		Kind:       c.Kind,
		CreatedAt:  c.CreatedAt,
		ReadAt:     c.ReadAt,
		ActionURL:  c.ActionURL,
		ActionID:   c.ActionID,
		ActionType: c.ActionType,
		Dismissed:  c.Archived,
	}
}

func (m message) InboxMessage(ref inbox.ConversationRef) inbox.Message {
	out := inbox.Message{
		ID:         m.ID,
		ClientID:   m.ClientID,
		ThreadRef:  ref,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Body,
		Transcript: m.Transcript,
		ReplyToID:  m.ReplyToID,
		CreatedAt:  m.CreatedAt,
	}
	if m.AttachmentURL != "" {
		out.Attachment = &inbox.Attachment{
			URL:             m.AttachmentURL,
			Name:            m.AttachmentName,
			Size:            m.AttachmentSize,
			MimeType:        m.AttachmentMimeType,
			DurationSeconds: m.AttachmentDuration,
		}
	}
	return out
}

func (r reaction) Row() annotation.ReactionRow {
	return annotation.ReactionRow{
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
}

func (p pin) Pinned() annotation.PinnedMessage {
	return annotation.PinnedMessage{
		ID:          p.ID,
		MessageID:   p.MessageID,
		MessageType: inbox.MessageType(p.MessageType),
		PinnedBy:    p.PinnedBy,
		PinnedAt:    p.PinnedAt,
	}
}
