package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/annotation"
	"github.com/GetStream/unified-inbox/composer"
	"github.com/GetStream/unified-inbox/inbox"
)

// maxUploadSize caps multipart uploads.
const maxUploadSize = 25 << 20

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Messages []inbox.Message `json:"messages"`
	}

	ref, ok := a.pathRef(w, r)
	if !ok {
		return
	}
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	th, err := s.thread(ref, a.Registry, a.Logger)
	if err != nil {
		a.respondFailure(w, err, "Conversation not found")
		return
	}
	if err := th.Load(r.Context()); err != nil {
		a.respondFailure(w, err, "Could not load thread")
		return
	}

	var msgs []inbox.Message
	if q := r.URL.Query().Get("q"); q != "" {
		msgs = th.Search(q)
	} else {
		msgs = th.Messages()
	}
	if msgs == nil {
		msgs = []inbox.Message{}
	}
	a.Logger.Info("Got thread messages", "ref", ref.String(), "count", len(msgs))
	a.respond(w, http.StatusOK, response{Messages: msgs})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		ClientID   string             `json:"client_id" validate:"omitempty,uuid"`
		Text       string             `json:"text" validate:"max=4000"`
		Attachment *attachmentRequest `json:"attachment"`
		Voice      bool               `json:"voice"`
		Transcript string             `json:"transcript"`
		ReplyTo    string             `json:"reply_to"`
	}

	ref, ok := a.pathRef(w, r)
	if !ok {
		return
	}
	s, ok := a.session(w, r)
	if !ok {
		return
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	th, err := s.thread(ref, a.Registry, a.Logger)
	if err != nil {
		a.respondFailure(w, err, "Conversation not found")
		return
	}

	rep := adapter.Reply{
		ClientID:   body.ClientID,
		Body:       body.Text,
		Attachment: body.Attachment.Attachment(),
	}
	if body.Voice {
		if rep.Attachment == nil {
			a.respondError(w, http.StatusBadRequest, errors.New("voice reply without clip"), "Voice replies need an attachment")
			return
		}
		rep.Body = composer.VoiceBody(body.Transcript)
		rep.Transcript = strings.TrimSpace(body.Transcript)
	}
	if body.ReplyTo != "" {
		target, err := a.replyTarget(r, th, body.ReplyTo)
		if err != nil {
			a.respondFailure(w, err, "Unknown reply_to message")
			return
		}
		rep.Target = target
	}

	msg, err := th.Send(r.Context(), rep)
	if err != nil {
		a.respondFailure(w, err, "Could not send message")
		return
	}

	// The thread's preview and timestamp changed.
	if err := s.feed.RefreshType(r.Context(), ref.Type); err != nil {
		a.Logger.Error("Could not refresh feed", "user_id", s.userID, "error", err.Error())
	}
	if a.Events != nil {
		if item, ok := s.feed.Item(ref); ok {
			if err := a.Events.Publish(r.Context(), s.userID, inbox.UpsertEvent(item.Raw)); err != nil {
				a.Logger.Error("Could not publish event", "user_id", s.userID, "error", err.Error())
			}
		}
	}

	a.respond(w, http.StatusCreated, msg)
}

// replyTarget resolves a quoted message from the loaded thread, loading it
// first when the message is not there yet.
func (a *API) replyTarget(r *http.Request, th *composer.Thread, id string) (*inbox.ReplyTarget, error) {
	find := func() *inbox.ReplyTarget {
		for _, m := range th.Messages() {
			if m.ID == id && !m.Pending {
				return &inbox.ReplyTarget{
					ID:          m.ID,
					SenderName:  m.SenderName,
					Content:     m.Content,
					MessageType: th.Type(),
				}
			}
		}
		return nil
	}
	if t := find(); t != nil {
		return t, nil
	}
	if err := th.Load(r.Context()); err != nil {
		return nil, err
	}
	if t := find(); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("reply target %s: %w", id, inbox.ErrNotFound)
}

func (a *API) listReactions(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Reactions map[string][]annotation.Reaction `json:"reactions"`
	}

	ref, ok := a.pathRef(w, r)
	if !ok {
		return
	}
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if _, ok := s.feed.Item(ref); !ok {
		a.respondError(w, http.StatusNotFound, inbox.ErrNotFound, "Conversation not found")
		return
	}

	var ids []string
	if q := r.URL.Query().Get("message_ids"); q != "" {
		ids = strings.Split(q, ",")
	}
	reactions, err := a.Annotations.ListReactions(r.Context(), ref, s.userID, ids...)
	if err != nil {
		a.respondFailure(w, err, "Could not list reactions")
		return
	}
	if reactions == nil {
		reactions = map[string][]annotation.Reaction{}
	}
	a.respond(w, http.StatusOK, response{Reactions: reactions})
}

func (a *API) toggleReaction(w http.ResponseWriter, r *http.Request) {
	type (
		request struct {
			Emoji string `json:"emoji" validate:"required,max=32"`
		}
		response struct {
			MessageID string                `json:"message_id"`
			Reactions []annotation.Reaction `json:"reactions"`
		}
	)

	ref, ok := a.pathRef(w, r)
	if !ok {
		return
	}
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if _, ok := s.feed.Item(ref); !ok {
		a.respondError(w, http.StatusNotFound, inbox.ErrNotFound, "Conversation not found")
		return
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	messageID := r.PathValue("messageID")
	reactions, err := a.Annotations.ToggleReaction(r.Context(), ref, messageID, s.userID, body.Emoji)
	if err != nil {
		a.respondFailure(w, err, fmt.Sprintf("Could not toggle reaction for message with id %s", messageID))
		return
	}
	if reactions == nil {
		reactions = []annotation.Reaction{}
	}
	a.respond(w, http.StatusOK, response{MessageID: messageID, Reactions: reactions})
}

func (a *API) listPins(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.pathRef(w, r)
	if !ok {
		return
	}
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if _, ok := s.feed.Item(ref); !ok {
		a.respondError(w, http.StatusNotFound, inbox.ErrNotFound, "Conversation not found")
		return
	}

	bar, err := a.Annotations.ListPins(r.Context(), ref, s.userID)
	if err != nil {
		a.respondFailure(w, err, "Could not list pins")
		return
	}
	a.respond(w, http.StatusOK, newPinsResponse(bar))
}

func (a *API) togglePin(w http.ResponseWriter, r *http.Request) {
	type request struct {
		MessageType string `json:"message_type" validate:"omitempty,message_type"`
	}

	ref, ok := a.pathRef(w, r)
	if !ok {
		return
	}
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	if _, ok := s.feed.Item(ref); !ok {
		a.respondError(w, http.StatusNotFound, inbox.ErrNotFound, "Conversation not found")
		return
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}
	mt := ref.Type
	if body.MessageType != "" {
		mt = inbox.MessageType(body.MessageType)
	}

	bar, err := a.Annotations.TogglePin(r.Context(), ref, r.PathValue("messageID"), mt, s.userID)
	if err != nil {
		a.respondFailure(w, err, "Could not toggle pin")
		return
	}
	a.respond(w, http.StatusOK, newPinsResponse(bar))
}

// upload stores a multipart "file" field and returns the attachment to
// reference in a reply.
func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	if userID(r) == "" {
		a.respondError(w, http.StatusUnauthorized, errors.New("missing user header"), "Missing X-User-ID header")
		return
	}
	if a.Uploader == nil {
		a.respondError(w, http.StatusNotImplemented, errors.New("no uploader configured"), "Uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not read file")
		return
	}
	defer f.Close()

	att, err := a.Uploader.Upload(r.Context(), composer.File{
		Name:     hdr.Filename,
		MimeType: hdr.Header.Get("Content-Type"),
		Size:     hdr.Size,
		Body:     f,
	})
	if err != nil {
		a.respondFailure(w, fmt.Errorf("%w: %v", inbox.ErrAttachmentUploadFailed, err), "Could not upload file")
		return
	}
	a.Logger.Info("Uploaded file", "name", att.Name, "size", att.Size)
	a.respond(w, http.StatusCreated, att)
}
