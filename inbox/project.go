package inbox

import (
	"fmt"
	"strings"
)

// Placeholders used when a source record has nothing to display.
const (
	PlaceholderContact  = "Unknown contact"
	PlaceholderTeamChat = "Team chat"
	PlaceholderPreview  = "No messages yet"
)

// Project maps a source record to its envelope. It performs no I/O and
// returns the same envelope for the same record.
func Project(r Record) UnifiedMessage {
	switch rec := r.(type) {
	case SMSConversation:
		return projectSMS(rec)
	case TeamChatConversation:
		return projectTeamChat(rec)
	case TicketThread:
		return projectTicket(rec)
	case Announcement:
		return projectAnnouncement(rec)
	case SystemNotification:
		return projectNotification(rec)
	default:
		panic(fmt.Sprintf("inbox: unhandled record %T", r))
	}
}

func projectSMS(r SMSConversation) UnifiedMessage {
	return UnifiedMessage{
		ID:          r.ID,
		Type:        TypeSMS,
		Title:       firstNonEmpty(r.ContactName, r.ContactPhone, PlaceholderContact),
		Preview:     firstNonEmpty(r.LastMessage, PlaceholderPreview),
		Timestamp:   r.LastActivityAt,
		IsUnread:    r.UnreadCount > 0,
		IsDismissed: r.Archived,
		ActionID:    ptr(r.ID),
		ActionType:  "sms_conversation",
		Raw:         r,
	}
}

func projectTeamChat(r TeamChatConversation) UnifiedMessage {
	ts := r.CreatedAt
	if r.LastMessageAt != nil {
		ts = *r.LastMessageAt
	}

	unread := false
	if r.LastMessageAt != nil && r.LastSenderID != r.ViewerID {
		unread = r.LastReadAt == nil || r.LastMessageAt.After(*r.LastReadAt)
	}

	title := r.Name
	if title == "" {
		others := make([]string, 0, len(r.Participants))
		for _, p := range r.Participants {
			if p != "" && p != r.ViewerID {
				others = append(others, p)
			}
		}
		title = strings.Join(others, ", ")
	}

	preview := r.LastMessage
	if preview != "" && r.IsGroup && r.LastSenderName != "" {
		preview = r.LastSenderName + ": " + preview
	}

	return UnifiedMessage{
		ID:          r.ID,
		Type:        TypeTeamChat,
		Title:       firstNonEmpty(title, PlaceholderTeamChat),
		Preview:     firstNonEmpty(preview, PlaceholderPreview),
		Timestamp:   ts,
		IsUnread:    unread,
		IsDismissed: r.Archived,
		ActionID:    ptr(r.ID),
		ActionType:  "team_conversation",
		Raw:         r,
	}
}

func projectTicket(r TicketThread) UnifiedMessage {
	title := strings.TrimSpace(r.Subject)
	if r.TicketNumber != "" {
		title = strings.TrimSpace("#" + r.TicketNumber + " " + title)
	}
	preview := r.LastComment
	if preview != "" && r.LastCommenter != "" {
		preview = r.LastCommenter + ": " + preview
	}
	return UnifiedMessage{
		ID:          r.TicketID,
		Type:        TypeTicketChat,
		Title:       firstNonEmpty(title, "Ticket"),
		Preview:     firstNonEmpty(preview, PlaceholderPreview),
		Timestamp:   r.LastActivityAt,
		IsUnread:    r.UnreadComments > 0,
		IsDismissed: r.Archived,
		ActionID:    ptr(r.TicketID),
		ActionType:  "ticket",
		Raw:         r,
	}
}

func projectAnnouncement(r Announcement) UnifiedMessage {
	return UnifiedMessage{
		ID:          r.ID,
		Type:        TypeAnnouncement,
		Title:       firstNonEmpty(r.Title, "Announcement"),
		Preview:     firstNonEmpty(truncate(r.Body, 140), PlaceholderPreview),
		Timestamp:   r.PublishedAt,
		IsUnread:    r.ReadAt == nil,
		IsDismissed: r.Archived,
		NeedsAck:    r.RequiresAck && r.AcknowledgedAt == nil,
		ActionID:    ptr(r.ID),
		ActionType:  "announcement",
		Raw:         r,
	}
}

func projectNotification(r SystemNotification) UnifiedMessage {
	var action *string
	switch {
	case r.ActionID != nil && *r.ActionID != "":
		action = ptr(*r.ActionID)
	case r.ActionURL != nil && *r.ActionURL != "":
		action = ptr(*r.ActionURL)
	}
	return UnifiedMessage{
		ID:          r.ID,
		Type:        TypeNotification,
		Title:       firstNonEmpty(r.Title, "Notification"),
		Preview:     firstNonEmpty(truncate(r.Body, 140), PlaceholderPreview),
		Timestamp:   r.CreatedAt,
		IsUnread:    r.ReadAt == nil,
		IsDismissed: r.Dismissed,
		ActionID:    action,
		ActionType:  r.ActionType,
		Raw:         r,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func ptr[T any](v T) *T { return &v }
