package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GetStream/unified-inbox/adapter"
	"github.com/GetStream/unified-inbox/annotation"
	"github.com/GetStream/unified-inbox/api/validator"
	"github.com/GetStream/unified-inbox/composer"
	"github.com/GetStream/unified-inbox/inbox"
	"github.com/GetStream/unified-inbox/metrics"
)

// Events carries incremental feed events between instances.
type Events interface {
	Publish(ctx context.Context, userID string, e inbox.Event) error
	Subscribe(ctx context.Context, userID string, fn func(inbox.Event)) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger      *slog.Logger
	Sources     inbox.Sources
	Registry    *adapter.Registry
	Annotations *annotation.Service
	Val         *validator.Validator

	// Optional collaborators.
	Uploader composer.Uploader
	Events   Events
	Metrics  *metrics.Metrics

	// PollInterval is how often open sessions refetch every source. Zero
	// disables polling.
	PollInterval time.Duration
	// SessionTTL closes sessions idle for longer. Zero keeps them until
	// sign-out.
	SessionTTL time.Duration

	once sync.Once
	mux  *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

// userHeader carries the acting user. Authentication happens upstream.
const userHeader = "X-User-ID"

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.health)

	mux.HandleFunc("GET /feed", a.getFeed)
	mux.HandleFunc("POST /feed/{type}/{id}/{action}", a.feedAction)
	mux.HandleFunc("POST /feed/{type}/{id}/swipe", a.swipe)

	mux.HandleFunc("GET /threads/{type}/{id}/messages", a.listMessages)
	mux.HandleFunc("POST /threads/{type}/{id}/messages", a.createMessage)
	mux.HandleFunc("GET /threads/{type}/{id}/reactions", a.listReactions)
	mux.HandleFunc("POST /threads/{type}/{id}/messages/{messageID}/reactions", a.toggleReaction)
	mux.HandleFunc("GET /threads/{type}/{id}/pins", a.listPins)
	mux.HandleFunc("POST /threads/{type}/{id}/messages/{messageID}/pin", a.togglePin)

	mux.HandleFunc("POST /uploads", a.upload)

	mux.HandleFunc("GET /widget", a.getWidget)
	mux.HandleFunc("PUT /widget", a.putWidget)
	mux.HandleFunc("DELETE /session", a.deleteSession)

	if a.Metrics != nil {
		mux.Handle("GET /metrics", a.Metrics.Handler())
	}

	if a.now == nil {
		a.now = time.Now
	}
	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	a.mux.ServeHTTP(rec, r)

	if a.Metrics != nil {
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		a.Metrics.ObserveRequest(route, rec.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error())
	a.respond(w, status, response{Error: msg})
}

// respondFailure maps the inbox error taxonomy to a status code. Capability
// errors are reported verbatim since they name the unsupported operation.
func (a *API) respondFailure(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	var capErr *inbox.CapabilityError
	switch {
	case errors.As(err, &capErr):
		status, msg = http.StatusBadRequest, capErr.Error()
	case errors.Is(err, inbox.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, adapter.ErrEmptyReply),
		errors.Is(err, annotation.ErrUnscoped):
		status = http.StatusBadRequest
	case errors.Is(err, inbox.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, inbox.ErrSendFailed),
		errors.Is(err, inbox.ErrAttachmentUploadFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	a.respondError(w, status, err, msg)
}

func (a *API) validateBody(w http.ResponseWriter, s any) bool {
	errs := a.Val.ValidateStruct(s)
	type response struct {
		Errors []validator.ValidationError `json:"errors"`
	}

	if len(errs) > 0 {
		a.respond(w, http.StatusBadRequest, &response{
			Errors: errs,
		})
		return false
	}
	return true
}

// decodeBody decodes and validates a JSON request body.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	// An empty body decodes as the zero request.
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return false
	}
	if err := r.Body.Close(); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not close request body")
		return false
	}
	return a.validateBody(w, dst)
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userHeader))
}

// session returns the acting user's session, opening it on first use.
func (a *API) session(w http.ResponseWriter, r *http.Request) (*session, bool) {
	uid := userID(r)
	if uid == "" {
		a.respondError(w, http.StatusUnauthorized, errors.New("missing user header"), "Missing X-User-ID header")
		return nil, false
	}
	s, err := a.openSession(r.Context(), uid)
	if err != nil {
		a.respondFailure(w, err, "Could not load inbox")
		return nil, false
	}
	return s, true
}

// pathRef parses the {type}/{id} path segments.
func (a *API) pathRef(w http.ResponseWriter, r *http.Request) (inbox.ConversationRef, bool) {
	t, err := inbox.ParseMessageType(r.PathValue("type"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Unknown message type")
		return inbox.ConversationRef{}, false
	}
	return inbox.ConversationRef{Type: t, SourceID: r.PathValue("id")}, true
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
