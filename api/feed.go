package api

import (
	"errors"
	"net/http"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/gesture"
	"github.com/GetStream/unified-inbox/inbox"
	"github.com/GetStream/unified-inbox/widget"
)

func (a *API) getFeed(w http.ResponseWriter, r *http.Request) {
	filter, err := inbox.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Unknown filter")
		return
	}

	s, ok := a.session(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("refresh") == "true" {
		if err := s.feed.Refresh(r.Context()); err != nil {
			a.respondFailure(w, err, "Could not refresh feed")
			return
		}
	}

	res := s.feed.View(filter)
	a.Logger.Info("Built feed", "user_id", s.userID, "filter", filter, "count", len(res.Items), "failed_sources", len(res.Errors))
	a.respond(w, http.StatusOK, newFeedResponse(res))
}

// feedAction applies a swipe or menu action to a feed item. The item
// changes immediately and is rolled back if the source rejects the action.
func (a *API) feedAction(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.pathRef(w, r)
	if !ok {
		return
	}
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.applyAction(w, r, s, ref, r.PathValue("action"))
}

// swipe replays a drag sequence on a feed item and fires the action it
// resolves to, if any.
func (a *API) swipe(w http.ResponseWriter, r *http.Request) {
	type (
		move struct {
			DX float64 `json:"dx"`
			DY float64 `json:"dy"`
		}
		request struct {
			Moves []move `json:"moves" validate:"required,min=1"`
		}
		response struct {
			Action string                `json:"action"`
			Item   *inbox.UnifiedMessage `json:"item,omitempty"`
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
	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	c := gesture.New()
	c.Begin()
	for _, m := range body.Moves {
		c.Move(m.DX, m.DY)
	}
	action := c.Release()
	if action == gesture.ActionNone {
		a.respond(w, http.StatusOK, response{Action: action.String()})
		return
	}
	a.applyAction(w, r, s, ref, action.String())
}

func (a *API) applyAction(w http.ResponseWriter, r *http.Request, s *session, ref inbox.ConversationRef, action string) {
	item, ok := s.feed.Item(ref)
	if !ok {
		a.respondError(w, http.StatusNotFound, inbox.ErrNotFound, "Conversation not found")
		return
	}

	var m inbox.Mutation
	switch action {
	case "read":
		m = a.Registry.MarkReadMutation(ref, s.userID)
	case "unread":
		m = a.Registry.MarkUnreadMutation(ref, s.userID)
	case "toggle-read":
		m = a.Registry.ToggleReadMutation(item, s.userID)
	case "acknowledge":
		if !adapter.CapabilitiesOf(ref.Type).Acknowledge {
			a.respondFailure(w, &inbox.CapabilityError{Type: ref.Type, Op: "acknowledge"}, "")
			return
		}
		m = a.Registry.AcknowledgeMutation(ref, s.userID)
	case "archive":
		m = a.Registry.ArchiveMutation(ref, s.userID)
	case "restore":
		m = a.Registry.RestoreMutation(ref, s.userID)
	default:
		a.respondError(w, http.StatusNotFound, inbox.ErrNotFound, "Unknown action")
		return
	}

	if err := s.feed.Mutate(r.Context(), m); err != nil {
		a.respondFailure(w, err, "Could not "+action+" conversation")
		return
	}
	a.Logger.Info("Applied feed action", "user_id", s.userID, "ref", ref.String(), "action", action)

	item, ok = s.feed.Item(ref)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.respond(w, http.StatusOK, item)
}

func (a *API) getWidget(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.respond(w, http.StatusOK, s.widget.Snapshot())
}

func (a *API) putWidget(w http.ResponseWriter, r *http.Request) {
	type (
		selected struct {
			Type     string `json:"type" validate:"required,message_type"`
			SourceID string `json:"source_id" validate:"required"`
		}
		request struct {
			Open      bool      `json:"open"`
			Minimized bool      `json:"minimized"`
			Selected  *selected `json:"selected"`
		}
	)

	s, ok := a.session(w, r)
	if !ok {
		return
	}

	var body request
	if !a.decodeBody(w, r, &body) {
		return
	}

	snap := widget.Snapshot{Open: body.Open, Minimized: body.Minimized}
	if body.Selected != nil {
		snap.Selected = &inbox.ConversationRef{
			Type:     inbox.MessageType(body.Selected.Type),
			SourceID: body.Selected.SourceID,
		}
	}
	s.widget.Apply(snap)
	a.respond(w, http.StatusOK, s.widget.Snapshot())
}

// deleteSession signs the user out: push and polling stop, open threads
// close and the widget resets.
func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		a.respondError(w, http.StatusUnauthorized, errors.New("missing user header"), "Missing X-User-ID header")
		return
	}
	a.closeSession(uid)
	w.WriteHeader(http.StatusNoContent)
}
