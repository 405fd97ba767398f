package inbox

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func TestProject(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want UnifiedMessage
	}{
		{
			name: "SMS",
			rec:  SMSConversation{ID: "s1", ContactName: "Dana", ContactPhone: "+1555", LastMessage: "Is 3pm ok?", LastActivityAt: at(10), UnreadCount: 2},
			want: UnifiedMessage{ID: "s1", Type: TypeSMS, Title: "Dana", Preview: "Is 3pm ok?", Timestamp: at(10), IsUnread: true, ActionID: ptr("s1"), ActionType: "sms_conversation"},
		},
		{
			name: "SMSWithoutContactOrMessages",
			rec:  SMSConversation{ID: "s2", LastActivityAt: at(1)},
			want: UnifiedMessage{ID: "s2", Type: TypeSMS, Title: PlaceholderContact, Preview: PlaceholderPreview, Timestamp: at(1), ActionID: ptr("s2"), ActionType: "sms_conversation"},
		},
		{
			name: "SMSPhoneOnly",
			rec:  SMSConversation{ID: "s3", ContactPhone: "+1555", LastActivityAt: at(1), Archived: true},
			want: UnifiedMessage{ID: "s3", Type: TypeSMS, Title: "+1555", Preview: PlaceholderPreview, Timestamp: at(1), IsDismissed: true, ActionID: ptr("s3"), ActionType: "sms_conversation"},
		},
		{
			name: "TeamChatUnread",
			rec: TeamChatConversation{
				ID: "c1", IsGroup: true, Name: "Crew", ViewerID: "me",
				LastMessage: "Truck is here", LastSenderID: "u2", LastSenderName: "Lee",
				LastMessageAt: ptr(at(20)), CreatedAt: at(0), LastReadAt: ptr(at(5)),
			},
			want: UnifiedMessage{ID: "c1", Type: TypeTeamChat, Title: "Crew", Preview: "Lee: Truck is here", Timestamp: at(20), IsUnread: true, ActionID: ptr("c1"), ActionType: "team_conversation"},
		},
		{
			name: "TeamChatOwnMessageIsRead",
			rec: TeamChatConversation{
				ID: "c2", Participants: []string{"me", "Lee"}, ViewerID: "me",
				LastMessage: "On it", LastSenderID: "me", LastMessageAt: ptr(at(20)), CreatedAt: at(0),
			},
			want: UnifiedMessage{ID: "c2", Type: TypeTeamChat, Title: "Lee", Preview: "On it", Timestamp: at(20), ActionID: ptr("c2"), ActionType: "team_conversation"},
		},
		{
			name: "TeamChatNoMessages",
			rec:  TeamChatConversation{ID: "c3", ViewerID: "me", Participants: []string{"me"}, CreatedAt: at(3)},
			want: UnifiedMessage{ID: "c3", Type: TypeTeamChat, Title: PlaceholderTeamChat, Preview: PlaceholderPreview, Timestamp: at(3), ActionID: ptr("c3"), ActionType: "team_conversation"},
		},
		{
			name: "Ticket",
			rec:  TicketThread{TicketID: "t1", TicketNumber: "1042", Subject: "Leaking faucet", LastComment: "Parts ordered", LastCommenter: "Sam", LastActivityAt: at(15), UnreadComments: 1},
			want: UnifiedMessage{ID: "t1", Type: TypeTicketChat, Title: "#1042 Leaking faucet", Preview: "Sam: Parts ordered", Timestamp: at(15), IsUnread: true, ActionID: ptr("t1"), ActionType: "ticket"},
		},
		{
			name: "AnnouncementAwaitingAck",
			rec:  Announcement{ID: "a1", Title: "Safety day", Body: "Bring boots", RequiresAck: true, PublishedAt: at(30), ReadAt: ptr(at(31))},
			want: UnifiedMessage{ID: "a1", Type: TypeAnnouncement, Title: "Safety day", Preview: "Bring boots", Timestamp: at(30), NeedsAck: true, ActionID: ptr("a1"), ActionType: "announcement"},
		},
		{
			name: "AnnouncementUnreadAwaitingAck",
			rec:  Announcement{ID: "a3", Title: "Safety day", RequiresAck: true, PublishedAt: at(30)},
			want: UnifiedMessage{ID: "a3", Type: TypeAnnouncement, Title: "Safety day", Preview: PlaceholderPreview, Timestamp: at(30), IsUnread: true, NeedsAck: true, ActionID: ptr("a3"), ActionType: "announcement"},
		},
		{
			name: "AnnouncementAcknowledged",
			rec:  Announcement{ID: "a2", Title: "Safety day", RequiresAck: true, PublishedAt: at(30), ReadAt: ptr(at(31)), AcknowledgedAt: ptr(at(32))},
			want: UnifiedMessage{ID: "a2", Type: TypeAnnouncement, Title: "Safety day", Preview: PlaceholderPreview, Timestamp: at(30), ActionID: ptr("a2"), ActionType: "announcement"},
		},
		{
			name: "NotificationWithoutAction",
			rec:  SystemNotification{ID: "n1", Title: "Payment received", Body: "$120", Kind: "payment", CreatedAt: at(40)},
			want: UnifiedMessage{ID: "n1", Type: TypeNotification, Title: "Payment received", Preview: "$120", Timestamp: at(40), IsUnread: true},
		},
		{
			name: "NotificationActionURLFallback",
			rec:  SystemNotification{ID: "n2", Title: "Quote accepted", CreatedAt: at(40), ReadAt: ptr(at(41)), ActionURL: ptr("/quotes/9"), ActionType: "quote", Dismissed: true},
			want: UnifiedMessage{ID: "n2", Type: TypeNotification, Title: "Quote accepted", Preview: PlaceholderPreview, Timestamp: at(40), IsDismissed: true, ActionID: ptr("/quotes/9"), ActionType: "quote"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project(tt.rec)
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreFields(UnifiedMessage{}, "Raw")); diff != "" {
				t.Errorf("Project mismatch (-want +got):\n%s", diff)
			}
			if got.Raw == nil || RefOf(got.Raw) != got.Ref() {
				t.Errorf("Raw record does not match envelope ref %s", got.Ref())
			}
			if diff := cmp.Diff(got, Project(tt.rec)); diff != "" {
				t.Errorf("Project is not deterministic:\n%s", diff)
			}
		})
	}
}

func TestProject_TruncatesLongBodies(t *testing.T) {
	body := strings.Repeat("é", 300)
	got := Project(Announcement{ID: "a1", Title: "Long", Body: body, PublishedAt: t0})
	if n := len([]rune(got.Preview)); n != 140 {
		t.Errorf("Got preview of %d runes, want 140", n)
	}
	if !strings.HasSuffix(got.Preview, "…") {
		t.Errorf("Truncated preview has no ellipsis: %q", got.Preview)
	}
}
