package composer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/neilotoole/slogt"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/inbox"
)

var teamChat = inbox.TeamChatConversation{ID: "c1", Name: "Ops", ViewerID: "u1"}

func TestThread_Send(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var th *Thread
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			got := th.Messages()
			if len(got) != 1 || !got[0].Pending || got[0].ClientID != r.ClientID {
				t.Errorf("Optimistic copy missing while sending: %+v", got)
			}
			if r.SenderID != "u1" {
				t.Errorf("Got sender %q, want u1", r.SenderID)
			}
			return inbox.Message{ID: "m1", SenderID: "u1", Content: r.Body, CreatedAt: at}, nil
		},
	}
	th = NewThread(teamChat, threads, "u1", slogt.New(t))

	msg, err := th.Send(context.Background(), adapter.Reply{ClientID: "cid-1", Body: "Hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	want := []inbox.Message{{ID: "m1", ClientID: "cid-1", SenderID: "u1", Content: "Hello", CreatedAt: at}}
	if diff := cmp.Diff(want, th.Messages()); diff != "" {
		t.Errorf("Messages mismatch (-want +got):\n%s", diff)
	}
	if msg.Pending {
		t.Error("Confirmed message is still pending")
	}
}

func TestThread_SendPushedFirst(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	server := inbox.Message{ID: "m1", ClientID: "cid-1", Content: "Hello", CreatedAt: at}
	var th *Thread
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			// The push for the new message lands before the send returns.
			th.Merge(server)
			return inbox.Message{ID: "m1", Content: "Hello", CreatedAt: at}, nil
		},
	}
	th = NewThread(teamChat, threads, "u1", slogt.New(t))

	if _, err := th.Send(context.Background(), adapter.Reply{ClientID: "cid-1", Body: "Hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := th.Messages()
	if len(got) != 1 {
		t.Fatalf("Got %d messages, want exactly one: %+v", len(got), got)
	}
	if got[0].ID != "m1" || got[0].Pending {
		t.Errorf("Got %+v, want the confirmed m1", got[0])
	}
}

func TestThread_SendFailure(t *testing.T) {
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			return inbox.Message{}, &inbox.SendError{Op: "reply", Ref: inbox.RefOf(teamChat), Err: errors.New("boom")}
		},
	}
	th := NewThread(teamChat, threads, "u1", slogt.New(t))

	_, err := th.Send(context.Background(), adapter.Reply{Body: "Hello"})
	if !errors.Is(err, inbox.ErrSendFailed) {
		t.Fatalf("Got error %v, want ErrSendFailed", err)
	}
	if got := th.Messages(); len(got) != 0 {
		t.Errorf("Optimistic copy was not removed: %+v", got)
	}
}

func TestThread_LoadKeepsPending(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	threads := &testthreads{
		T: t,
		loadThread: func(t *testing.T, _ context.Context, _ inbox.Record) ([]inbox.Message, error) {
			return []inbox.Message{{ID: "m0", Content: "Earlier", CreatedAt: at}}, nil
		},
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			<-release
			return inbox.Message{ID: "m1", Content: r.Body, CreatedAt: at.Add(time.Minute)}, nil
		},
	}
	th := NewThread(teamChat, threads, "u1", slogt.New(t))

	sent := make(chan error)
	go func() {
		_, err := th.Send(context.Background(), adapter.Reply{ClientID: "cid-1", Body: "Hello"})
		sent <- err
	}()
	waitFor(t, func() bool { return len(th.Messages()) == 1 })

	if err := th.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := th.Messages()
	if len(got) != 2 || got[0].ID != "m0" || got[1].ClientID != "cid-1" {
		t.Errorf("Got %+v, want the loaded message followed by the pending one", got)
	}

	close(release)
	if err := <-sent; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := th.Messages(); len(got) != 2 {
		t.Errorf("Got %d messages after confirm, want 2", len(got))
	}
}

func TestThread_LoadKeepsConfirmedSend(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	loading := make(chan struct{})
	release := make(chan struct{})
	threads := &testthreads{
		T: t,
		loadThread: func(t *testing.T, _ context.Context, _ inbox.Record) ([]inbox.Message, error) {
			close(loading)
			<-release
			return []inbox.Message{{ID: "m0", Content: "Earlier", CreatedAt: at}}, nil
		},
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			return inbox.Message{ID: "m1", Content: r.Body, CreatedAt: at.Add(time.Minute)}, nil
		},
	}
	th := NewThread(teamChat, threads, "u1", slogt.New(t))

	loaded := make(chan error)
	go func() { loaded <- th.Load(context.Background()) }()
	<-loading

	if _, err := th.Send(context.Background(), adapter.Reply{ClientID: "cid-1", Body: "Hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	close(release)
	if err := <-loaded; err != nil {
		t.Fatalf("Load: %v", err)
	}

	var copies int
	for _, m := range th.Messages() {
		if m.ID == "m1" {
			copies++
		}
	}
	if copies != 1 {
		t.Errorf("Got %d copies of the sent message, want 1", copies)
	}
	if got := th.Messages(); len(got) != 2 || got[0].ID != "m0" {
		t.Errorf("Got %+v, want the loaded message followed by the sent one", got)
	}
}

func TestThread_CloseCancelsLoadNotSend(t *testing.T) {
	started := make(chan struct{})
	threads := &testthreads{
		T: t,
		loadThread: func(t *testing.T, ctx context.Context, _ inbox.Record) ([]inbox.Message, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		sendReply: func(t *testing.T, ctx context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			if err := ctx.Err(); err != nil {
				t.Errorf("Send context is done: %v", err)
			}
			return inbox.Message{ID: "m1", Content: r.Body}, nil
		},
	}
	th := NewThread(teamChat, threads, "u1", slogt.New(t))

	loaded := make(chan error)
	go func() { loaded <- th.Load(context.Background()) }()
	<-started
	th.Close()
	if err := <-loaded; !errors.Is(err, context.Canceled) {
		t.Errorf("Got load error %v, want context.Canceled", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := th.Send(ctx, adapter.Reply{Body: "Still delivered"}); err != nil {
		t.Errorf("Send after close: %v", err)
	}
}

func TestThread_Search(t *testing.T) {
	threads := &testthreads{
		T: t,
		loadThread: func(t *testing.T, _ context.Context, _ inbox.Record) ([]inbox.Message, error) {
			return []inbox.Message{
				{ID: "1", Content: "Deploy is done"},
				{ID: "2", Content: VoiceMarker, Transcript: "Rollback the deploy please"},
				{ID: "3", Content: "Lunch?"},
			}, nil
		},
	}
	th := NewThread(teamChat, threads, "u1", slogt.New(t))
	if err := th.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := th.Search("DEPLOY")
	ids := make([]string, 0, len(got))
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"1", "2"}, ids, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("Search mismatch (-want +got):\n%s", diff)
	}
}

type testthreads struct {
	T          *testing.T
	loadThread func(t *testing.T, ctx context.Context, rec inbox.Record) ([]inbox.Message, error)
	sendReply  func(t *testing.T, ctx context.Context, rec inbox.Record, r adapter.Reply) (inbox.Message, error)
}

func (s *testthreads) LoadThread(ctx context.Context, rec inbox.Record) ([]inbox.Message, error) {
	if s.loadThread == nil {
		return nil, nil
	}
	return s.loadThread(s.T, ctx, rec)
}

func (s *testthreads) SendReply(ctx context.Context, rec inbox.Record, r adapter.Reply) (inbox.Message, error) {
	return s.sendReply(s.T, ctx, rec, r)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
