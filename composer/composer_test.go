package composer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/inbox"
)

func TestComposer_SetReplyTarget(t *testing.T) {
	tests := []struct {
		name    string
		rec     inbox.Record
		target  inbox.ReplyTarget
		wantErr error
	}{
		{
			name:   "TeamChat",
			rec:    teamChat,
			target: inbox.ReplyTarget{ID: "m1", SenderName: "Ana", Content: "Hi", MessageType: inbox.TypeTeamChat},
		},
		{
			name:   "Ticket",
			rec:    inbox.TicketThread{TicketID: "t1"},
			target: inbox.ReplyTarget{ID: "m1", MessageType: inbox.TypeTicketChat},
		},
		{
			name:    "SMS",
			rec:     inbox.SMSConversation{ID: "s1"},
			target:  inbox.ReplyTarget{ID: "m1", MessageType: inbox.TypeSMS},
			wantErr: inbox.ErrCapabilityMismatch,
		},
		{
			name:    "CrossType",
			rec:     teamChat,
			target:  inbox.ReplyTarget{ID: "m1", MessageType: inbox.TypeTicketChat},
			wantErr: inbox.ErrCapabilityMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(NewThread(tt.rec, &testthreads{T: t}, "u1", slogt.New(t)), nil)
			err := c.SetReplyTarget(tt.target)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Got error %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if c.ReplyTarget() != nil {
					t.Error("Rejected target was kept")
				}
				return
			}
			if diff := cmp.Diff(&tt.target, c.ReplyTarget()); diff != "" {
				t.Errorf("Target mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComposer_Send(t *testing.T) {
	var got adapter.Reply
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			got = r
			return inbox.Message{ID: "m2", Content: r.Body, ReplyToID: r.Target.ID}, nil
		},
	}
	c := New(NewThread(teamChat, threads, "u1", slogt.New(t)), nil)
	target := inbox.ReplyTarget{ID: "m1", SenderName: "Ana", Content: "Ship it?", MessageType: inbox.TypeTeamChat}

	if err := c.SetText("Shipped"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetReplyTarget(target); err != nil {
		t.Fatal(err)
	}
	if st := c.State(); st != StateComposing {
		t.Errorf("Got state %s, want composing", st)
	}
	if _, err := c.Send(context.Background()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.Body != "Shipped" || got.Target == nil || got.Target.ID != "m1" || got.ClientID == "" {
		t.Errorf("Got reply %+v", got)
	}
	if st := c.State(); st != StateSent {
		t.Errorf("Got state %s, want sent", st)
	}
	if c.Text() != "" || c.ReplyTarget() != nil {
		t.Error("Draft was not cleared after send")
	}
	c.Reset()
	if st := c.State(); st != StateIdle {
		t.Errorf("Got state %s after reset, want idle", st)
	}
}

func TestComposer_SendEmpty(t *testing.T) {
	c := New(NewThread(teamChat, &testthreads{T: t}, "u1", slogt.New(t)), nil)
	if _, err := c.Send(context.Background()); !errors.Is(err, adapter.ErrEmptyReply) {
		t.Errorf("Got error %v, want ErrEmptyReply", err)
	}
}

func TestComposer_SendToAnnouncement(t *testing.T) {
	c := New(NewThread(inbox.Announcement{ID: "a1"}, &testthreads{T: t}, "u1", slogt.New(t)), nil)
	_ = c.SetText("Noted")
	if _, err := c.Send(context.Background()); !errors.Is(err, inbox.ErrCapabilityMismatch) {
		t.Errorf("Got error %v, want ErrCapabilityMismatch", err)
	}
	if err := c.SelectAttachment(); !errors.Is(err, inbox.ErrCapabilityMismatch) {
		t.Errorf("Got error %v, want ErrCapabilityMismatch", err)
	}
}

func TestComposer_RetryAfterFailure(t *testing.T) {
	var calls int
	var clientIDs []string
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			calls++
			clientIDs = append(clientIDs, r.ClientID)
			if calls == 1 {
				return inbox.Message{}, errors.New("connection reset")
			}
			return inbox.Message{ID: "m1", Content: r.Body}, nil
		},
	}
	th := NewThread(teamChat, threads, "u1", slogt.New(t))
	c := New(th, nil)
	_ = c.SetText("Hello")

	_, err := c.Send(context.Background())
	if !errors.Is(err, inbox.ErrSendFailed) || !inbox.IsRetryable(err) {
		t.Fatalf("Got error %v, want a retryable ErrSendFailed", err)
	}
	if st := c.State(); st != StateFailed {
		t.Fatalf("Got state %s, want failed", st)
	}
	if _, err := c.Send(context.Background()); !errors.Is(err, inbox.ErrInvalidState) {
		t.Errorf("Send while failed: got %v, want ErrInvalidState", err)
	}

	if _, err := c.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if st := c.State(); st != StateSent {
		t.Errorf("Got state %s, want sent", st)
	}
	if len(clientIDs) != 2 || clientIDs[0] != clientIDs[1] {
		t.Errorf("Retry did not reuse the client id: %v", clientIDs)
	}
	if got := th.Messages(); len(got) != 1 {
		t.Errorf("Got %d messages, want 1", len(got))
	}
}

func TestComposer_DiscardAfterFailure(t *testing.T) {
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			return inbox.Message{}, errors.New("boom")
		},
	}
	c := New(NewThread(teamChat, threads, "u1", slogt.New(t)), nil)
	_ = c.SetText("Hello")
	if _, err := c.Send(context.Background()); err == nil {
		t.Fatal("Expected send to fail")
	}

	if err := c.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if st := c.State(); st != StateIdle || c.Text() != "" || c.Err() != nil {
		t.Errorf("Got state %s text %q err %v, want a clean idle composer", st, c.Text(), c.Err())
	}
	if _, err := c.Retry(context.Background()); !errors.Is(err, inbox.ErrInvalidState) {
		t.Errorf("Retry after discard: got %v, want ErrInvalidState", err)
	}
}

func TestComposer_AttachmentWaitsForUpload(t *testing.T) {
	release := make(chan struct{})
	up := &testuploader{
		T: t,
		upload: func(t *testing.T, ctx context.Context, f File) (inbox.Attachment, error) {
			<-release
			return inbox.Attachment{URL: "https://files/" + f.Name, Name: f.Name, Size: f.Size, MimeType: f.MimeType}, nil
		},
	}
	var got adapter.Reply
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			got = r
			return inbox.Message{ID: "m1", Content: r.Body, Attachment: r.Attachment}, nil
		},
	}
	c := New(NewThread(inbox.SMSConversation{ID: "s1"}, threads, "u1", slogt.New(t)), up)

	if err := c.SelectAttachment(); err != nil {
		t.Fatal(err)
	}
	if err := c.Attach(context.Background(), File{Name: "a.png", MimeType: "image/png", Size: 3, Body: strings.NewReader("png")}); err != nil {
		t.Fatal(err)
	}
	if st := c.AttachmentState(); st != AttachmentUploading {
		t.Errorf("Got attachment state %s, want uploading", st)
	}
	// The user keeps typing while the upload runs.
	if err := c.SetText("See attached"); err != nil {
		t.Fatal(err)
	}

	sent := make(chan error)
	go func() {
		_, err := c.Send(context.Background())
		sent <- err
	}()
	close(release)
	if err := <-sent; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Attachment == nil || got.Attachment.URL != "https://files/a.png" || got.Body != "See attached" {
		t.Errorf("Got reply %+v", got)
	}
	if st := c.AttachmentState(); st != AttachmentNone {
		t.Errorf("Got attachment state %s after send, want none", st)
	}
}

func TestComposer_UploadFailureBlocksSend(t *testing.T) {
	var attempts int
	up := &testuploader{
		T: t,
		upload: func(t *testing.T, ctx context.Context, f File) (inbox.Attachment, error) {
			attempts++
			return inbox.Attachment{}, errors.New("bucket unavailable")
		},
	}
	var sends int
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			sends++
			if r.Attachment != nil {
				t.Error("Text-only send carried an attachment")
			}
			return inbox.Message{ID: "m1", Content: r.Body}, nil
		},
	}
	c := New(NewThread(teamChat, threads, "u1", slogt.New(t)), up)
	_ = c.SetText("Report")
	_ = c.SelectAttachment()
	_ = c.Attach(context.Background(), File{Name: "r.pdf", Body: strings.NewReader("%PDF")})

	if _, err := c.Send(context.Background()); !errors.Is(err, inbox.ErrAttachmentUploadFailed) {
		t.Fatalf("Got error %v, want ErrAttachmentUploadFailed", err)
	}
	if sends != 0 {
		t.Errorf("Reply was sent despite the failed upload")
	}
	if st := c.AttachmentState(); st != AttachmentUploadFailed {
		t.Errorf("Got attachment state %s, want upload_failed", st)
	}

	if err := c.RetryUpload(context.Background()); err != nil {
		t.Fatalf("RetryUpload: %v", err)
	}
	if _, err := c.Send(context.Background()); !errors.Is(err, inbox.ErrAttachmentUploadFailed) {
		t.Fatalf("Got error %v, want ErrAttachmentUploadFailed", err)
	}
	if attempts != 2 {
		t.Errorf("Got %d upload attempts, want 2", attempts)
	}

	if _, err := c.SendTextOnly(context.Background()); err != nil {
		t.Fatalf("SendTextOnly: %v", err)
	}
	if sends != 1 {
		t.Errorf("Got %d sends, want 1", sends)
	}
}

func TestComposer_SendVoice(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		wantBody   string
	}{
		{name: "Transcript", transcript: "Running late", wantBody: "Running late\n" + VoiceMarker},
		{name: "NoTranscript", wantBody: VoiceMarker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got adapter.Reply
			threads := &testthreads{
				T: t,
				sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
					got = r
					return inbox.Message{ID: "m1", Content: r.Body, Transcript: r.Transcript}, nil
				},
			}
			c := New(NewThread(inbox.SMSConversation{ID: "s1"}, threads, "u1", slogt.New(t)), nil)
			clip := VoiceClip{AudioURL: "https://files/v.webm", Name: "v.webm", MimeType: "audio/webm", DurationSeconds: 4, Transcript: tt.transcript}

			if _, err := c.SendVoice(context.Background(), clip); err != nil {
				t.Fatalf("SendVoice: %v", err)
			}
			if got.Body != tt.wantBody {
				t.Errorf("Got body %q, want %q", got.Body, tt.wantBody)
			}
			if got.Attachment == nil || got.Attachment.DurationSeconds != 4 {
				t.Errorf("Got attachment %+v, want the clip", got.Attachment)
			}
		})
	}
}

func TestComposer_SendVoiceKeepsDraft(t *testing.T) {
	var got adapter.Reply
	threads := &testthreads{
		T: t,
		sendReply: func(t *testing.T, _ context.Context, _ inbox.Record, r adapter.Reply) (inbox.Message, error) {
			got = r
			return inbox.Message{ID: "m2", Content: r.Body}, nil
		},
	}
	c := New(NewThread(teamChat, threads, "u1", slogt.New(t)), nil)
	if err := c.SetText("Typed before recording"); err != nil {
		t.Fatal(err)
	}
	target := inbox.ReplyTarget{ID: "m1", SenderName: "Ana", Content: "Hi", MessageType: inbox.TypeTeamChat}
	if err := c.SetReplyTarget(target); err != nil {
		t.Fatal(err)
	}

	clip := VoiceClip{AudioURL: "https://files/v.webm", Name: "v.webm", MimeType: "audio/webm", DurationSeconds: 2}
	if _, err := c.SendVoice(context.Background(), clip); err != nil {
		t.Fatalf("SendVoice: %v", err)
	}
	if got.Target == nil || got.Target.ID != "m1" {
		t.Errorf("Got target %+v, want the quoted message", got.Target)
	}
	if got.Body != VoiceMarker {
		t.Errorf("Got body %q, want the voice marker only", got.Body)
	}
	if txt := c.Text(); txt != "Typed before recording" {
		t.Errorf("Got draft %q after voice send, want it kept", txt)
	}
	if c.ReplyTarget() != nil {
		t.Error("Reply target was kept after the voice send used it")
	}
	if st := c.State(); st != StateSent {
		t.Errorf("Got state %s, want sent", st)
	}
	c.Reset()
	if st := c.State(); st != StateComposing {
		t.Errorf("Got state %s after reset, want composing", st)
	}
}

func TestVoice_AutoStop(t *testing.T) {
	capture := &testcapture{audio: Audio{Data: []byte("ogg"), MimeType: "audio/ogg", Duration: 6 * time.Minute}}
	var fire func()
	var armed time.Duration
	v := NewVoice(capture, nil, withTimer(func(d time.Duration, f func()) func() bool {
		armed, fire = d, f
		return func() bool { return true }
	}))

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if armed != DefaultMaxVoiceDuration {
		t.Errorf("Got ceiling %v, want %v", armed, DefaultMaxVoiceDuration)
	}
	fire()
	if st := v.State(); st != VoiceRecorded {
		t.Fatalf("Got state %s, want recorded", st)
	}
	if err := v.Stop(); !errors.Is(err, inbox.ErrInvalidState) {
		t.Errorf("Stop after auto-stop: got %v, want ErrInvalidState", err)
	}
}

func TestVoice_StaleTimerIgnored(t *testing.T) {
	capture := &testcapture{audio: Audio{Data: []byte("ogg")}}
	var fires []func()
	v := NewVoice(capture, nil, withTimer(func(d time.Duration, f func()) func() bool {
		fires = append(fires, f)
		return func() bool { return true }
	}))

	_ = v.Start(context.Background())
	v.Discard()
	_ = v.Start(context.Background())
	fires[0]()
	if st := v.State(); st != VoiceRecording {
		t.Errorf("Got state %s, want recording", st)
	}
}

func TestVoice_CaptureDenied(t *testing.T) {
	capture := &testcapture{startErr: inbox.ErrCaptureDenied}
	v := NewVoice(capture, nil)

	if err := v.Start(context.Background()); !errors.Is(err, inbox.ErrCaptureDenied) {
		t.Fatalf("Got error %v, want ErrCaptureDenied", err)
	}
	if st := v.State(); st != VoiceIdle {
		t.Errorf("Got state %s, want idle", st)
	}
	if capture.released != 1 {
		t.Errorf("Microphone released %d times, want 1", capture.released)
	}
}

func TestVoice_Finish(t *testing.T) {
	tests := []struct {
		name           string
		transcribe     func(t *testing.T, a Audio) (string, error)
		wantTranscript string
	}{
		{
			name:           "Transcribed",
			transcribe:     func(t *testing.T, a Audio) (string, error) { return " On my way ", nil },
			wantTranscript: "On my way",
		},
		{
			name:       "TranscriptUnavailable",
			transcribe: func(t *testing.T, a Audio) (string, error) { return "", ErrTranscriptUnavailable },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capture := &testcapture{audio: Audio{Data: []byte("webm!"), MimeType: "audio/webm", Duration: 3 * time.Second}}
			up := &testuploader{
				T: t,
				upload: func(t *testing.T, ctx context.Context, f File) (inbox.Attachment, error) {
					if !strings.HasPrefix(f.Name, "voice-") || !strings.HasSuffix(f.Name, ".webm") {
						t.Errorf("Got file name %q", f.Name)
					}
					return inbox.Attachment{URL: "https://files/" + f.Name, Name: f.Name, Size: f.Size, MimeType: f.MimeType}, nil
				},
			}
			v := NewVoice(capture, up, WithTranscriber(&testtranscriber{T: t, transcribe: tt.transcribe}))

			if err := v.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			if err := v.Stop(); err != nil {
				t.Fatal(err)
			}
			clip, err := v.Finish(context.Background())
			if err != nil {
				t.Fatalf("Finish: %v", err)
			}
			if clip.Transcript != tt.wantTranscript {
				t.Errorf("Got transcript %q, want %q", clip.Transcript, tt.wantTranscript)
			}
			if clip.DurationSeconds != 3 || clip.Size != 5 {
				t.Errorf("Got clip %+v", clip)
			}
			if st := v.State(); st != VoiceIdle {
				t.Errorf("Got state %s, want idle", st)
			}
			if capture.released != 1 {
				t.Errorf("Microphone released %d times, want 1", capture.released)
			}
		})
	}
}

func TestVoice_FinishUploadFailure(t *testing.T) {
	capture := &testcapture{audio: Audio{Data: []byte("x")}}
	up := &testuploader{
		T: t,
		upload: func(t *testing.T, ctx context.Context, f File) (inbox.Attachment, error) {
			return inbox.Attachment{}, errors.New("timeout")
		},
	}
	v := NewVoice(capture, up)
	_ = v.Start(context.Background())
	_ = v.Stop()

	if _, err := v.Finish(context.Background()); !errors.Is(err, inbox.ErrAttachmentUploadFailed) {
		t.Fatalf("Got error %v, want ErrAttachmentUploadFailed", err)
	}
	if st := v.State(); st != VoiceRecorded {
		t.Errorf("Got state %s, want recorded", st)
	}
}

type testuploader struct {
	T      *testing.T
	upload func(t *testing.T, ctx context.Context, f File) (inbox.Attachment, error)
}

func (u *testuploader) Upload(ctx context.Context, f File) (inbox.Attachment, error) {
	return u.upload(u.T, ctx, f)
}

type testtranscriber struct {
	T          *testing.T
	transcribe func(t *testing.T, a Audio) (string, error)
}

func (tr *testtranscriber) Transcribe(_ context.Context, a Audio) (string, error) {
	return tr.transcribe(tr.T, a)
}

type testcapture struct {
	mu       sync.Mutex
	startErr error
	audio    Audio
	released int
}

func (c *testcapture) Start(context.Context) error { return c.startErr }

func (c *testcapture) Stop() (Audio, error) { return c.audio, nil }

func (c *testcapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released++
}
