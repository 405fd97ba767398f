package composer

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/GetStream/unified-inbox/inbox"
)

// A File is a local file chosen for upload.
type File struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// An Uploader stores a file and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, f File) (inbox.Attachment, error)
}

// AttachmentState is the state of the attachment sub-machine.
type AttachmentState string

const (
	AttachmentNone         AttachmentState = "none"
	AttachmentSelecting    AttachmentState = "selecting"
	AttachmentSelected     AttachmentState = "selected"
	AttachmentUploading    AttachmentState = "uploading"
	AttachmentAttached     AttachmentState = "attached"
	AttachmentUploadFailed AttachmentState = "upload_failed"
)

// attachmentSlot uploads at most one file in the background while the
// user keeps composing.
type attachmentSlot struct {
	mu     sync.Mutex
	state  AttachmentState
	file   File
	result *inbox.Attachment
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

func newAttachmentSlot() *attachmentSlot {
	return &attachmentSlot{state: AttachmentNone}
}

func (s *attachmentSlot) State() AttachmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *attachmentSlot) beginSelect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case AttachmentNone, AttachmentSelected, AttachmentUploadFailed:
		s.state = AttachmentSelecting
		return nil
	default:
		return fmt.Errorf("select attachment while %s: %w", s.state, inbox.ErrInvalidState)
	}
}

func (s *attachmentSlot) choose(f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AttachmentSelecting {
		return fmt.Errorf("choose file while %s: %w", s.state, inbox.ErrInvalidState)
	}
	s.file = f
	s.state = AttachmentSelected
	return nil
}

// upload starts the upload in the background. ctx bounds the upload, not
// the call.
func (s *attachmentSlot) upload(ctx context.Context, up Uploader) error {
	s.mu.Lock()
	if s.state != AttachmentSelected && s.state != AttachmentUploadFailed {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("upload while %s: %w", st, inbox.ErrInvalidState)
	}
	upCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.state = AttachmentUploading
	s.done = done
	s.cancel = cancel
	s.result = nil
	s.err = nil
	f := s.file
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		att, err := up.Upload(upCtx, f)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.done != done {
			return // discarded while uploading
		}
		if err != nil {
			s.state = AttachmentUploadFailed
			s.err = err
			return
		}
		s.state = AttachmentAttached
		s.result = &att
	}()
	return nil
}

// wait blocks until the upload settles and returns the attachment, or nil
// when nothing was selected.
func (s *attachmentSlot) wait(ctx context.Context) (*inbox.Attachment, error) {
	s.mu.Lock()
	state, done := s.state, s.done
	s.mu.Unlock()

	switch state {
	case AttachmentNone:
		return nil, nil
	case AttachmentSelecting, AttachmentSelected:
		return nil, fmt.Errorf("attachment not uploaded: %w", inbox.ErrInvalidState)
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == AttachmentUploadFailed {
		return nil, fmt.Errorf("%w: %v", inbox.ErrAttachmentUploadFailed, s.err)
	}
	if s.state != AttachmentAttached || s.result == nil {
		return nil, nil
	}
	att := *s.result
	return &att, nil
}

func (s *attachmentSlot) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.state = AttachmentNone
	s.file = File{}
	s.result = nil
	s.err = nil
	s.done = nil
	s.cancel = nil
}
