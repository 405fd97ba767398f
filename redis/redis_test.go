package redis

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
	"github.com/redis/go-redis/v9"

	"github.com/GetStream/unified-inbox/inbox"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T, logger *slog.Logger) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return New(cli, logger), s
}

func TestRedis_InsertAndList(t *testing.T) {
	r, _ := newTestRedis(t, slogt.New(t))
	ctx := context.Background()
	ref := inbox.ConversationRef{Type: inbox.TypeTeamChat, SourceID: "c1"}
	other := inbox.ConversationRef{Type: inbox.TypeSMS, SourceID: "c1"}

	msgs := []inbox.Message{
		{ID: "m2", ClientID: "cid2", ThreadRef: ref, SenderID: "u1", SenderName: "Lee", Content: "Second", ReplyToID: "m1", CreatedAt: t0.Add(time.Minute)},
		{ID: "m1", ClientID: "cid1", ThreadRef: ref, SenderID: "u2", SenderName: "Kim", Content: "First", CreatedAt: t0},
		{
			ID: "m3", ThreadRef: ref, Content: "Late\n🎤 Voice message", Transcript: "Late", CreatedAt: t0.Add(2 * time.Minute),
			Attachment: &inbox.Attachment{URL: "https://files/v.webm", Name: "v.webm", Size: 10, MimeType: "audio/webm", DurationSeconds: 2.5},
		},
		{ID: "s1", ThreadRef: other, Content: "Elsewhere", CreatedAt: t0},
	}
	for _, m := range msgs {
		if err := r.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage(%s): %v", m.ID, err)
		}
	}

	got, err := r.ListMessages(ctx, ref)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	want := []inbox.Message{msgs[1], msgs[0], msgs[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListMessages mismatch (-want +got):\n%s", diff)
	}
}

func TestRedis_ListEmpty(t *testing.T) {
	r, _ := newTestRedis(t, slogt.New(t))
	got, err := r.ListMessages(context.Background(), inbox.ConversationRef{Type: inbox.TypeSMS, SourceID: "none"})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListMessages = %v, want empty", got)
	}
}

func TestRedis_EvictsOldest(t *testing.T) {
	r, s := newTestRedis(t, slogt.New(t))
	ctx := context.Background()
	ref := inbox.ConversationRef{Type: inbox.TypeTicketChat, SourceID: "t1"}

	for i := range maxSize + 3 {
		m := inbox.Message{ID: fmt.Sprintf("m%02d", i), ThreadRef: ref, Content: "x", CreatedAt: t0.Add(time.Duration(i) * time.Second)}
		if err := r.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	got, err := r.ListMessages(ctx, ref)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != maxSize {
		t.Fatalf("len(ListMessages) = %d, want %d", len(got), maxSize)
	}
	if got[0].ID != "m03" {
		t.Errorf("oldest cached = %s, want m03", got[0].ID)
	}
	if s.Exists("messages:ticket_chat:t1:m00") {
		t.Error("evicted hash still exists")
	}
}

func TestRedis_PublishSubscribe(t *testing.T) {
	var buf bytes.Buffer
	r, s := newTestRedis(t, slog.New(slog.NewTextHandler(&buf, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []inbox.Event
	)
	done := make(chan error, 1)
	go func() {
		done <- r.Subscribe(ctx, "me", func(e inbox.Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
	}()

	waitFor(t, func() bool { return s.PubSubNumSub("events:me")["events:me"] == 1 })

	// Malformed payloads are skipped.
	if err := r.cli.Publish(ctx, "events:me", "not json").Err(); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := inbox.Event{
		Kind:     inbox.EventUpsert,
		Type:     inbox.TypeSMS,
		SourceID: "s1",
		Record:   inbox.SMSConversation{ID: "s1", ContactName: "Dana", LastMessage: "Ok", LastActivityAt: t0, UnreadCount: 1},
		At:       t0,
	}
	if err := r.Publish(ctx, "someone-else", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := r.Publish(ctx, "me", want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Subscribe() = %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]inbox.Event{want}, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(buf.String(), "Could not decode event") {
		t.Errorf("log = %q, want decode error", buf.String())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
