package inbox

import "time"

// A Record is one of the five source record families. The interface is
// sealed so the projector and adapters can switch over it exhaustively.
type Record interface {
	MessageType() MessageType
	SourceID() string
	record()
}

// An SMSConversation is a direct text conversation with a customer.
type SMSConversation struct {
	ID             string    `json:"id"`
	ContactName    string    `json:"contact_name"`
	ContactPhone   string    `json:"contact_phone"`
	LastMessage    string    `json:"last_message"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadCount    int       `json:"unread_count"`
	Archived       bool      `json:"archived"`
}

// A TeamChatConversation is an internal 1:1 or group chat.
type TeamChatConversation struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	IsGroup        bool       `json:"is_group"`
	Participants   []string   `json:"participants"`
	ViewerID       string     `json:"viewer_id"`
	LastMessage    string     `json:"last_message"`
	LastSenderID   string     `json:"last_sender_id"`
	LastSenderName string     `json:"last_sender_name"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	CreatedAt      time.Time  `json:"created_at"`
	LastReadAt     *time.Time `json:"last_read_at"`
	Archived       bool       `json:"archived"`
}

// A TicketThread is the comment thread attached to a service ticket.
type TicketThread struct {
	TicketID       string    `json:"ticket_id"`
	TicketNumber   string    `json:"ticket_number"`
	Subject        string    `json:"subject"`
	LastComment    string    `json:"last_comment"`
	LastCommenter  string    `json:"last_commenter"`
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadComments int       `json:"unread_comments"`
	Archived       bool      `json:"archived"`
}

// An Announcement is a one-way, company-wide post.
type Announcement struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	AuthorID       string     `json:"author_id"`
	AuthorName     string     `json:"author_name"`
	Priority       string     `json:"priority"`
	RequiresAck    bool       `json:"requires_ack"`
	PublishedAt    time.Time  `json:"published_at"`
	ReadAt         *time.Time `json:"read_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	Archived       bool       `json:"archived"`
}

// A SystemNotification is generated by the platform (quote accepted,
// job scheduled, payment received, ...).
type SystemNotification struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Kind       string     `json:"kind"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at"`
	ActionURL  *string    `json:"action_url"`
	ActionID   *string    `json:"action_id"`
	ActionType string     `json:"action_type"`
	Dismissed  bool       `json:"dismissed"`
}

func (SMSConversation) MessageType() MessageType      { return TypeSMS }
func (TeamChatConversation) MessageType() MessageType { return TypeTeamChat }
func (TicketThread) MessageType() MessageType         { return TypeTicketChat }
func (Announcement) MessageType() MessageType         { return TypeAnnouncement }
func (SystemNotification) MessageType() MessageType   { return TypeNotification }

func (r SMSConversation) SourceID() string      { return r.ID }
func (r TeamChatConversation) SourceID() string { return r.ID }
func (r TicketThread) SourceID() string         { return r.TicketID }
func (r Announcement) SourceID() string         { return r.ID }
func (r SystemNotification) SourceID() string   { return r.ID }

func (SMSConversation) record()      {}
func (TeamChatConversation) record() {}
func (TicketThread) record()         {}
func (Announcement) record()         {}
func (SystemNotification) record()   {}

// RefOf returns the conversation ref of a record.
func RefOf(r Record) ConversationRef {
	return ConversationRef{Type: r.MessageType(), SourceID: r.SourceID()}
}
