package composer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GetStream/unified-inbox/inbox"
)

// VoiceMarker is the body of a voice message without a transcript.
const VoiceMarker = "🎤 Voice message"

// DefaultMaxVoiceDuration is the recording ceiling.
const DefaultMaxVoiceDuration = 5 * time.Minute

// ErrTranscriptUnavailable is returned by a Transcriber that cannot
// transcribe a clip. The clip is still sent.
var ErrTranscriptUnavailable = errors.New("transcript unavailable")

// Audio is an encoded recording.
type Audio struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Capture is the device microphone. Start returns an error wrapping
// inbox.ErrCaptureDenied when permission is refused.
type Capture interface {
	Start(ctx context.Context) error
	Stop() (Audio, error)
	Release()
}

// A Transcriber turns a clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, a Audio) (string, error)
}

// A VoiceClip is an uploaded recording ready for the reply path.
type VoiceClip struct {
	AudioURL        string
	Name            string
	Size            int64
	MimeType        string
	DurationSeconds float64
	Transcript      string
}

// Attachment returns the clip as a reply attachment.
func (v VoiceClip) Attachment() inbox.Attachment {
	return inbox.Attachment{
		URL:             v.AudioURL,
		Name:            v.Name,
		Size:            v.Size,
		MimeType:        v.MimeType,
		DurationSeconds: v.DurationSeconds,
	}
}

// VoiceBody is the message body of a voice reply.
func VoiceBody(transcript string) string {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return VoiceMarker
	}
	return transcript + "\n" + VoiceMarker
}

// VoiceState is the state of the voice capture sub-machine.
type VoiceState string

const (
	VoiceIdle      VoiceState = "idle"
	VoiceRecording VoiceState = "recording"
	VoiceRecorded  VoiceState = "recorded"
	VoiceUploading VoiceState = "uploading"
)

// A Voice records one clip at a time.
type Voice struct {
	capture     Capture
	uploader    Uploader
	transcriber Transcriber
	max         time.Duration
	afterFunc   func(time.Duration, func()) func() bool

	mu       sync.Mutex
	state    VoiceState
	gen      int
	stop     func() bool
	audio    Audio
	captured bool
}

// VoiceOption configures a Voice.
type VoiceOption func(*Voice)

// WithMaxDuration sets the recording ceiling.
func WithMaxDuration(d time.Duration) VoiceOption {
	return func(v *Voice) {
		if d > 0 {
			v.max = d
		}
	}
}

// WithTranscriber enables transcription.
func WithTranscriber(t Transcriber) VoiceOption {
	return func(v *Voice) { v.transcriber = t }
}

// withTimer replaces time.AfterFunc.
func withTimer(f func(time.Duration, func()) func() bool) VoiceOption {
	return func(v *Voice) { v.afterFunc = f }
}

// NewVoice returns an idle recorder.
func NewVoice(capture Capture, uploader Uploader, opts ...VoiceOption) *Voice {
	v := &Voice{
		capture:  capture,
		uploader: uploader,
		max:      DefaultMaxVoiceDuration,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		state: VoiceIdle,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// State returns the current state.
func (v *Voice) State() VoiceState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Start begins recording. Recording stops on its own at the ceiling.
func (v *Voice) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VoiceIdle {
		return fmt.Errorf("start recording while %s: %w", v.state, inbox.ErrInvalidState)
	}
	if err := v.capture.Start(ctx); err != nil {
		v.capture.Release()
		if errors.Is(err, inbox.ErrCaptureDenied) {
			return err
		}
		return fmt.Errorf("start capture: %w", err)
	}
	v.captured = true
	v.gen++
	gen := v.gen
	v.state = VoiceRecording
	v.stop = v.afterFunc(v.max, func() { v.autoStop(gen) })
	return nil
}

func (v *Voice) autoStop(gen int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen || v.state != VoiceRecording {
		return
	}
	_ = v.stopLocked()
}

// Stop ends the recording.
func (v *Voice) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VoiceRecording {
		return fmt.Errorf("stop recording while %s: %w", v.state, inbox.ErrInvalidState)
	}
	return v.stopLocked()
}

func (v *Voice) stopLocked() error {
	if v.stop != nil {
		v.stop()
		v.stop = nil
	}
	audio, err := v.capture.Stop()
	if err != nil {
		v.resetLocked()
		return fmt.Errorf("stop capture: %w", err)
	}
	if audio.Duration > v.max {
		audio.Duration = v.max
	}
	v.audio = audio
	v.state = VoiceRecorded
	return nil
}

// Discard drops the recording from any state and releases the microphone.
func (v *Voice) Discard() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.gen++
	v.resetLocked()
}

func (v *Voice) resetLocked() {
	if v.stop != nil {
		v.stop()
		v.stop = nil
	}
	if v.captured {
		v.capture.Release()
		v.captured = false
	}
	v.audio = Audio{}
	v.state = VoiceIdle
}

// Finish uploads the recorded clip and transcribes it. A missing or failing
// transcriber leaves the transcript empty. On upload failure the clip stays
// recorded so the user can retry or discard.
func (v *Voice) Finish(ctx context.Context) (VoiceClip, error) {
	v.mu.Lock()
	if v.state != VoiceRecorded {
		st := v.state
		v.mu.Unlock()
		return VoiceClip{}, fmt.Errorf("finish recording while %s: %w", st, inbox.ErrInvalidState)
	}
	v.state = VoiceUploading
	gen := v.gen
	audio := v.audio
	v.mu.Unlock()

	mime := audio.MimeType
	if mime == "" {
		mime = "audio/webm"
	}
	att, err := v.uploader.Upload(ctx, File{
		Name:     "voice-" + uuid.NewString() + extensionFor(mime),
		MimeType: mime,
		Size:     int64(len(audio.Data)),
		Body:     bytes.NewReader(audio.Data),
	})
	if err != nil {
		v.mu.Lock()
		if v.gen == gen && v.state == VoiceUploading {
			v.state = VoiceRecorded
		}
		v.mu.Unlock()
		return VoiceClip{}, fmt.Errorf("%w: %v", inbox.ErrAttachmentUploadFailed, err)
	}

	var transcript string
	if v.transcriber != nil {
		if text, terr := v.transcriber.Transcribe(ctx, audio); terr == nil {
			transcript = strings.TrimSpace(text)
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.gen != gen {
		return VoiceClip{}, fmt.Errorf("recording discarded: %w", context.Canceled)
	}
	v.resetLocked()

	return VoiceClip{
		AudioURL:        att.URL,
		Name:            att.Name,
		Size:            att.Size,
		MimeType:        att.MimeType,
		DurationSeconds: audio.Duration.Seconds(),
		Transcript:      transcript,
	}, nil
}

func extensionFor(mime string) string {
	switch {
	case strings.Contains(mime, "webm"):
		return ".webm"
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return ".m4a"
	case strings.Contains(mime, "wav"):
		return ".wav"
	default:
		return ".bin"
	}
}
