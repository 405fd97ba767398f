package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GetStream/unified-inbox/composer"
	"github.com/GetStream/unified-inbox/inbox"
	"github.com/GetStream/unified-inbox/widget"
)

// A session is one signed-in user's live inbox: the feed, the widget
// state and the threads opened so far. Push events and polling keep the
// feed current until the session is closed.
type session struct {
	userID string
	feed   *inbox.Feed
	widget *widget.State

	cancel context.CancelFunc
	group  *errgroup.Group

	loadMu sync.Mutex
	loaded bool

	mu       sync.Mutex
	threads  map[string]*composer.Thread
	lastSeen time.Time
}

func (a *API) newSession(userID string) *session {
	var obs inbox.Observer
	if a.Metrics != nil {
		obs = a.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	s := &session{
		userID:  userID,
		feed:    inbox.NewFeed(a.Sources, userID, a.Logger, obs),
		widget:  widget.New(),
		cancel:  cancel,
		group:   g,
		threads: make(map[string]*composer.Thread),
	}

	if a.Events != nil {
		g.Go(func() error {
			err := a.Events.Subscribe(ctx, userID, s.feed.ApplyEvent)
			if err != nil && ctx.Err() == nil {
				a.Logger.Error("Could not subscribe to events", "user_id", userID, "error", err.Error())
			}
			return nil
		})
	}
	if a.PollInterval > 0 {
		g.Go(func() error {
			a.poll(ctx, s)
			return nil
		})
	}
	return s
}

func (a *API) poll(ctx context.Context, s *session) {
	ticker := time.NewTicker(a.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.feed.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("Could not refresh feed", "user_id", s.userID, "error", err.Error())
			}
		}
	}
}

// openSession returns userID's session, creating and loading it on first
// use. Sessions idle for longer than SessionTTL are closed on the way.
func (a *API) openSession(ctx context.Context, userID string) (*session, error) {
	now := a.now()

	a.mu.Lock()
	if a.sessions == nil {
		a.sessions = make(map[string]*session)
	}
	var expired []*session
	if a.SessionTTL > 0 {
		for id, s := range a.sessions {
			if id != userID && now.Sub(s.seen()) > a.SessionTTL {
				expired = append(expired, s)
				delete(a.sessions, id)
			}
		}
	}
	s, ok := a.sessions[userID]
	if !ok {
		s = a.newSession(userID)
		a.sessions[userID] = s
		a.Logger.Info("Opened session", "user_id", userID)
	}
	s.touch(now)
	a.mu.Unlock()

	for _, e := range expired {
		e.close()
		a.Logger.Info("Session expired", "user_id", e.userID)
	}

	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// closeSession ends userID's session. It reports whether one was open.
func (a *API) closeSession(userID string) bool {
	a.mu.Lock()
	s, ok := a.sessions[userID]
	delete(a.sessions, userID)
	a.mu.Unlock()

	if ok {
		s.close()
		a.Logger.Info("Closed session", "user_id", userID)
	}
	return ok
}

// Close ends every open session.
func (a *API) Close() {
	a.mu.Lock()
	all := a.sessions
	a.sessions = nil
	a.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *session) seen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// load runs the first full refresh. A failed load is retried on the next
// request.
func (s *session) load(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded {
		return nil
	}
	if err := s.feed.Refresh(ctx); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// thread returns the open thread of ref, creating it from the feed item.
func (s *session) thread(ref inbox.ConversationRef, svc composer.Threads, logger *slog.Logger) (*composer.Thread, error) {
	item, ok := s.feed.Item(ref)
	if !ok {
		return nil, inbox.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.threads == nil {
		// Closed concurrently.
		return nil, context.Canceled
	}
	th, ok := s.threads[ref.String()]
	if !ok {
		th = composer.NewThread(item.Raw, svc, s.userID, logger)
		s.threads[ref.String()] = th
	}
	return th, nil
}

func (s *session) close() {
	s.cancel()
	_ = s.group.Wait()

	s.mu.Lock()
	for _, th := range s.threads {
		th.Close()
	}
	s.threads = nil
	s.mu.Unlock()

	s.widget.Reset()
}
