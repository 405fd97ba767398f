// Package composer holds the open-thread view and the state machine behind
// its message composer: plain text, attachments, voice clips and quoted
// replies.
package composer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/inbox"
)

// Threads loads and sends thread messages. *adapter.Registry implements it.
type Threads interface {
	LoadThread(ctx context.Context, rec inbox.Record) ([]inbox.Message, error)
	SendReply(ctx context.Context, rec inbox.Record, r adapter.Reply) (inbox.Message, error)
}

// A Thread is the message list of one open conversation. Closing it cancels
// an in-flight load; sends always run to completion.
type Thread struct {
	rec    inbox.Record
	svc    Threads
	userID string
	logger *slog.Logger

	mu     sync.Mutex
	msgs   []inbox.Message
	cancel context.CancelFunc
	closed bool
}

// NewThread returns an unloaded thread for rec.
func NewThread(rec inbox.Record, svc Threads, userID string, logger *slog.Logger) *Thread {
	if logger == nil {
		logger = slog.Default()
	}
	return &Thread{rec: rec, svc: svc, userID: userID, logger: logger}
}

// Ref returns the conversation of the thread.
func (t *Thread) Ref() inbox.ConversationRef { return inbox.RefOf(t.rec) }

// Type returns the thread's message type.
func (t *Thread) Type() inbox.MessageType { return t.rec.MessageType() }

// Load fetches the thread. A load started while another is in flight
// cancels the earlier one.
func (t *Thread) Load(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return context.Canceled
	}
	if t.cancel != nil {
		t.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	msgs, err := t.svc.LoadThread(loadCtx, t.rec)
	if err != nil {
		return err
	}
	if err := loadCtx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return context.Canceled
	}
	// Locally sent messages survive a load that predates them: the fetch may
	// have been answered before the send was confirmed.
	loaded := make(map[string]bool, 2*len(msgs))
	for _, m := range msgs {
		loaded[m.ID] = true
		if m.ClientID != "" {
			loaded[m.ClientID] = true
		}
	}
	var local []inbox.Message
	for _, m := range t.msgs {
		if m.ClientID == "" || loaded[m.ClientID] || loaded[m.ID] {
			continue
		}
		local = append(local, m)
	}
	t.msgs = msgs
	for _, m := range local {
		t.upsertLocked(m)
	}
	return nil
}

// Close cancels any in-flight load. Sends already started are unaffected.
func (t *Thread) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Messages returns a copy of the thread in ascending order.
func (t *Thread) Messages() []inbox.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]inbox.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Search returns the messages whose content or voice transcript contains q.
func (t *Thread) Search(q string) []inbox.Message {
	var out []inbox.Message
	for _, m := range t.Messages() {
		if m.Matches(q) {
			out = append(out, m)
		}
	}
	return out
}

// Send inserts an optimistic copy of r, sends it and replaces the copy with
// the confirmed message. On failure the optimistic copy is removed.
func (t *Thread) Send(ctx context.Context, r adapter.Reply) (inbox.Message, error) {
	if r.ClientID == "" {
		r.ClientID = uuid.NewString()
	}
	r.SenderID = t.userID

	optimistic := inbox.Message{
		ID:         r.ClientID,
		ClientID:   r.ClientID,
		ThreadRef:  t.Ref(),
		SenderID:   t.userID,
		Content:    r.Body,
		Attachment: r.Attachment,
		Transcript: r.Transcript,
		CreatedAt:  time.Now(),
		Pending:    true,
	}
	if r.Target != nil {
		optimistic.ReplyToID = r.Target.ID
		optimistic.ReplyToSenderName = r.Target.SenderName
		optimistic.ReplyToContent = r.Target.Content
	}
	t.mu.Lock()
	t.upsertLocked(optimistic)
	t.mu.Unlock()

	// Delivery is not scoped to the thread being open.
	msg, err := t.svc.SendReply(context.WithoutCancel(ctx), t.rec, r)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.removeLocked(r.ClientID)
		t.logger.Error("Could not send reply", "ref", t.Ref().String(), "error", err.Error())
		return inbox.Message{}, err
	}
	msg.ClientID = r.ClientID
	msg.Pending = false
	t.upsertLocked(msg)
	return msg, nil
}

// Merge folds messages delivered out of band (push, reload) into the
// thread. A message carrying the ClientID of an optimistic copy replaces it.
func (t *Thread) Merge(msgs ...inbox.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.upsertLocked(m)
	}
}

// upsertLocked keeps at most one copy per server ID and per ClientID.
func (t *Thread) upsertLocked(m inbox.Message) {
	out := t.msgs[:0]
	for _, cur := range t.msgs {
		if cur.ID == m.ID || (m.ClientID != "" && cur.ClientID == m.ClientID) {
			if m.ClientID == "" {
				m.ClientID = cur.ClientID
			}
			continue
		}
		out = append(out, cur)
	}
	out = append(out, m)
	sortThread(out)
	t.msgs = out
}

func (t *Thread) removeLocked(clientID string) {
	out := t.msgs[:0]
	for _, cur := range t.msgs {
		if cur.ClientID == clientID && cur.Pending {
			continue
		}
		out = append(out, cur)
	}
	t.msgs = out
}

func sortThread(msgs []inbox.Message) {
	// Insertion sort: the slice is sorted except for the appended element.
	for i := len(msgs) - 1; i > 0; i-- {
		a, b := msgs[i-1], msgs[i]
		if a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID > b.ID) {
			msgs[i-1], msgs[i] = b, a
			continue
		}
		break
	}
}
