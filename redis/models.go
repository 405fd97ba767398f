package redis

import (
	"time"

	"github.com/GetStream/unified-inbox/inbox"
)

// A message is a cached thread message, stored as a hash.
type message struct {
	ID                 string  `redis:"id"`
	ClientID           string  `redis:"client_id"`
	ThreadRef          string  `redis:"thread_ref"`
	SenderID           string  `redis:"sender_id"`
	SenderName         string  `redis:"sender_name"`
	Content            string  `redis:"content"`
	Transcript         string  `redis:"transcript"`
	ReplyToID          string  `redis:"reply_to_id"`
	AttachmentURL      string  `redis:"attachment_url"`
	AttachmentName     string  `redis:"attachment_name"`
	AttachmentSize     int64   `redis:"attachment_size"`
	AttachmentMimeType string  `redis:"attachment_mime_type"`
	AttachmentDuration float64 `redis:"attachment_duration"`
	CreatedAt          int64   `redis:"created_at"`
}

func newMessage(m inbox.Message) *message {
	out := &message{
		ID:         m.ID,
		ClientID:   m.ClientID,
		ThreadRef:  m.ThreadRef.String(),
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Transcript: m.Transcript,
		ReplyToID:  m.ReplyToID,
		CreatedAt:  m.CreatedAt.UnixNano(),
	}
	if a := m.Attachment; a != nil {
		out.AttachmentURL = a.URL
		out.AttachmentName = a.Name
		out.AttachmentSize = a.Size
		out.AttachmentMimeType = a.MimeType
		out.AttachmentDuration = a.DurationSeconds
	}
	return out
}

func (m message) InboxMessage(ref inbox.ConversationRef) inbox.Message {
	out := inbox.Message{
		ID:         m.ID,
		ClientID:   m.ClientID,
		ThreadRef:  ref,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Transcript: m.Transcript,
		ReplyToID:  m.ReplyToID,
		CreatedAt:  time.Unix(0, m.CreatedAt).UTC(),
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
