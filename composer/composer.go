package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/inbox"
)

// State is the composer lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateComposing State = "composing"
	StateSending   State = "sending"
	StateSent      State = "sent"
	StateFailed    State = "failed"
)

// A Composer drafts and sends replies into one thread.
type Composer struct {
	thread   *Thread
	uploader Uploader
	att      *attachmentSlot

	mu      sync.Mutex
	state   State
	text    string
	target  *inbox.ReplyTarget
	last      *adapter.Reply // reply kept for Retry
	lastVoice bool
	lastErr   error
}

// New returns an idle composer for thread. uploader may be nil when the
// thread's type cannot carry attachments.
func New(thread *Thread, uploader Uploader) *Composer {
	return &Composer{
		thread:   thread,
		uploader: uploader,
		att:      newAttachmentSlot(),
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Text returns the current draft.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Err returns the error of the last failed send.
func (c *Composer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ReplyTarget returns the quoted message, if any.
func (c *Composer) ReplyTarget() *inbox.ReplyTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return nil
	}
	t := *c.target
	return &t
}

// AttachmentState returns the state of the attachment sub-machine.
func (c *Composer) AttachmentState() AttachmentState { return c.att.State() }

// SetText updates the draft.
func (c *Composer) SetText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateSending:
		return fmt.Errorf("edit while sending: %w", inbox.ErrInvalidState)
	case StateFailed:
		// Editing a failed draft abandons the retry.
		c.last = nil
		c.lastErr = nil
	}
	c.text = s
	c.state = StateComposing
	if strings.TrimSpace(s) == "" && c.target == nil && c.att.State() == AttachmentNone {
		c.state = StateIdle
	}
	return nil
}

// SetReplyTarget quotes target in the next reply. The target must come from
// a thread of the same type, and that type must support quoting.
func (c *Composer) SetReplyTarget(target inbox.ReplyTarget) error {
	tt := c.thread.Type()
	if !tt.SupportsQuoting() {
		return &inbox.CapabilityError{Type: tt, Op: "quoted reply"}
	}
	if target.MessageType != tt {
		return &inbox.CapabilityError{Type: tt, Op: "quoting a " + string(target.MessageType) + " message"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSending {
		return fmt.Errorf("set reply target while sending: %w", inbox.ErrInvalidState)
	}
	c.target = &target
	if c.state == StateIdle || c.state == StateSent {
		c.state = StateComposing
	}
	return nil
}

// ClearReplyTarget drops the quoted message.
func (c *Composer) ClearReplyTarget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = nil
}

// SelectAttachment opens the file picker.
func (c *Composer) SelectAttachment() error {
	if !adapter.CapabilitiesOf(c.thread.Type()).Attach || c.uploader == nil {
		return &inbox.CapabilityError{Type: c.thread.Type(), Op: "attachment"}
	}
	return c.att.beginSelect()
}

// Attach records the chosen file and starts uploading it in the
// background. Composition continues while the upload runs.
func (c *Composer) Attach(ctx context.Context, f File) error {
	if err := c.att.choose(f); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateSent {
		c.state = StateComposing
	}
	c.mu.Unlock()
	return c.att.upload(ctx, c.uploader)
}

// RetryUpload restarts a failed upload.
func (c *Composer) RetryUpload(ctx context.Context) error {
	return c.att.upload(ctx, c.uploader)
}

// RemoveAttachment drops the attachment, canceling an upload in flight.
func (c *Composer) RemoveAttachment() {
	c.att.clear()
}

// Send waits for a pending upload, then sends the draft. A failed upload
// blocks the send with ErrAttachmentUploadFailed; use SendTextOnly to send
// without it.
func (c *Composer) Send(ctx context.Context) (inbox.Message, error) {
	att, err := c.att.wait(ctx)
	if err != nil {
		return inbox.Message{}, err
	}
	return c.send(ctx, att, "", false)
}

// SendTextOnly drops any attachment and sends the text.
func (c *Composer) SendTextOnly(ctx context.Context) (inbox.Message, error) {
	c.att.clear()
	return c.send(ctx, nil, "", false)
}

// SendVoice sends a recorded clip through the generic reply path. The
// transcript, when present, leads the body so the message is searchable.
func (c *Composer) SendVoice(ctx context.Context, clip VoiceClip) (inbox.Message, error) {
	att := clip.Attachment()
	return c.send(ctx, &att, clip.Transcript, true)
}

// Retry resends the reply that failed.
func (c *Composer) Retry(ctx context.Context) (inbox.Message, error) {
	c.mu.Lock()
	if c.state != StateFailed || c.last == nil {
		st := c.state
		c.mu.Unlock()
		return inbox.Message{}, fmt.Errorf("retry while %s: %w", st, inbox.ErrInvalidState)
	}
	rep, voice := *c.last, c.lastVoice
	c.state = StateSending
	c.mu.Unlock()

	return c.deliver(ctx, rep, voice)
}

// Discard abandons the draft and any failed send.
func (c *Composer) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSending {
		return fmt.Errorf("discard while sending: %w", inbox.ErrInvalidState)
	}
	c.resetLocked()
	return nil
}

// Reset returns a sent composer to idle, or to composing when a draft
// outlived a voice send.
func (c *Composer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSent {
		return
	}
	c.state = StateIdle
	if strings.TrimSpace(c.text) != "" || c.att.State() != AttachmentNone {
		c.state = StateComposing
	}
}

func (c *Composer) send(ctx context.Context, att *inbox.Attachment, transcript string, voice bool) (inbox.Message, error) {
	c.mu.Lock()
	switch c.state {
	case StateSending:
		c.mu.Unlock()
		return inbox.Message{}, fmt.Errorf("send while sending: %w", inbox.ErrInvalidState)
	case StateFailed:
		c.mu.Unlock()
		return inbox.Message{}, fmt.Errorf("send while a failed reply awaits retry or discard: %w", inbox.ErrInvalidState)
	}

	body := c.text
	if voice {
		body = VoiceBody(transcript)
	}
	rep := adapter.Reply{
		ClientID:   uuid.NewString(),
		Body:       body,
		Attachment: att,
		Transcript: transcript,
		Target:     c.target,
	}
	if err := adapter.CheckReply(c.thread.Type(), rep); err != nil {
		c.mu.Unlock()
		return inbox.Message{}, err
	}
	c.state = StateSending
	c.mu.Unlock()

	return c.deliver(ctx, rep, voice)
}

// deliver sends rep. A voice reply consumes only the quoted target; the
// text draft and attachment stay for a later send.
func (c *Composer) deliver(ctx context.Context, rep adapter.Reply, voice bool) (inbox.Message, error) {
	msg, err := c.thread.Send(ctx, rep)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateFailed
		c.last = &rep
		c.lastVoice = voice
		c.lastErr = err
		if !errors.Is(err, inbox.ErrSendFailed) && !errors.Is(err, inbox.ErrCapabilityMismatch) {
			err = &inbox.SendError{Op: "reply", Ref: c.thread.Ref(), Err: err}
			c.lastErr = err
		}
		return inbox.Message{}, err
	}
	if voice {
		c.target = nil
		c.last, c.lastVoice, c.lastErr = nil, false, nil
	} else {
		c.resetLocked()
	}
	c.state = StateSent
	return msg, nil
}

func (c *Composer) resetLocked() {
	c.state = StateIdle
	c.text = ""
	c.target = nil
	c.last = nil
	c.lastVoice = false
	c.lastErr = nil
	c.att.clear()
}
