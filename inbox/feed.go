package inbox

import (
	"context"
	"log/slog"
	"maps"
	"sync"
)

// An Observer is notified about aggregation passes and rollbacks.
type Observer interface {
	ObservePass(typ MessageType, records int, err error)
	ObserveMutation(op string, err error, rolledBack bool)
}

type nopObserver struct{}

func (nopObserver) ObservePass(MessageType, int, error) {}
func (nopObserver) ObserveMutation(string, error, bool) {}

// A Feed is one user's live inbox: the last pass of every source plus the
// optimistic mutations that have not been confirmed yet. A Feed is safe for
// concurrent use.
type Feed struct {
	sources  Sources
	userID   string
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	items   map[string]UnifiedMessage
	errs    map[MessageType]error
	pending map[string][]pendingMutation
	seq     uint64
}

// NewFeed creates an empty feed. Call Refresh to load it.
func NewFeed(src Sources, userID string, logger *slog.Logger, obs Observer) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Feed{
		sources:  src,
		userID:   userID,
		logger:   logger,
		observer: obs,
		items:    make(map[string]UnifiedMessage),
		errs:     make(map[MessageType]error),
		pending:  make(map[string][]pendingMutation),
	}
}

// UserID returns the feed owner.
func (f *Feed) UserID() string { return f.userID }

// Refresh refetches every source and re-runs the merge. Sources that fail
// are left empty and reported through View's Errors.
func (f *Feed) Refresh(ctx context.Context) error {
	c, err := Fetch(ctx, f.sources, f.userID, nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range AllTypes {
		f.replaceSourceLocked(t, c.Records[t], c.Errors[t])
	}
	return nil
}

// RefreshType refetches a single source, leaving the others untouched.
func (f *Feed) RefreshType(ctx context.Context, t MessageType) error {
	recs, err := fetchOne(ctx, f.sources, t, f.userID, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var srcErr error
	if err != nil {
		srcErr = &SourceError{Type: t, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceSourceLocked(t, recs, srcErr)
	return nil
}

func (f *Feed) replaceSourceLocked(t MessageType, recs []Record, err error) {
	f.observer.ObservePass(t, len(recs), err)
	for key, m := range f.items {
		if m.Type == t {
			delete(f.items, key)
		}
	}
	if err != nil {
		f.errs[t] = err
		f.logger.Error("Source unavailable", "type", t, "user_id", f.userID, "error", err.Error())
		return
	}
	delete(f.errs, t)
	for _, r := range recs {
		f.upsertLocked(Project(r), false)
	}
}

// upsertLocked stores m. Push events only replace an envelope when they are
// at least as recent; fields of pending mutations always keep their
// optimistic value.
func (f *Feed) upsertLocked(m UnifiedMessage, push bool) {
	key := m.Key()
	prev, ok := f.items[key]
	if ok && push && m.Timestamp.Before(prev.Timestamp) {
		return
	}
	if pend := f.pending[key]; ok && len(pend) > 0 {
		var fields Field
		for _, p := range pend {
			fields |= p.fields
		}
		keep(&m, prev, fields)
	}
	f.items[key] = m
}

// ApplyEvent merges an incremental push event and re-sorts on the next
// View, without refetching any source.
func (f *Feed) ApplyEvent(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch e.Kind {
	case EventDelete:
		key := ConversationRef{Type: e.Type, SourceID: e.SourceID}.String()
		delete(f.items, key)
	case EventUpsert:
		if e.Record == nil {
			return
		}
		f.upsertLocked(Project(e.Record), true)
	default:
		f.logger.Error("Unknown push event", "kind", e.Kind, "type", e.Type)
	}
}

// View returns the sorted, filtered list and counts over the current state.
func (f *Feed) View(filter Filter) Result {
	f.mu.Lock()
	merged := make([]UnifiedMessage, 0, len(f.items))
	for _, m := range f.items {
		merged = append(merged, m)
	}
	errs := maps.Clone(f.errs)
	f.mu.Unlock()

	return build(merged, filter, errs)
}

// Item returns the current envelope for ref.
func (f *Feed) Item(ref ConversationRef) (UnifiedMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.items[ref.String()]
	return m, ok
}

// Mutate applies m optimistically, runs its command and either confirms it
// (refetching the affected source) or rolls the touched fields back to
// their pre-mutation value. A failed command returns a retryable error.
func (f *Feed) Mutate(ctx context.Context, m Mutation) error {
	key := m.Ref.String()

	f.mu.Lock()
	item, ok := f.items[key]
	if !ok {
		f.mu.Unlock()
		return ErrNotFound
	}
	f.seq++
	seq := f.seq
	before := item
	if m.Apply != nil {
		m.Apply(&item)
	}
	f.items[key] = item
	f.pending[key] = append(f.pending[key], pendingMutation{seq: seq, fields: m.Fields, snapshot: before})
	f.mu.Unlock()

	err := m.Run(ctx, before)

	f.mu.Lock()
	rollback := f.settleLocked(key, seq, err)
	f.mu.Unlock()
	f.observer.ObserveMutation(m.Op, err, rollback)

	if err != nil {
		f.logger.Error("Mutation failed, rolled back", "op", m.Op, "ref", key, "error", err.Error())
		return asSendError(m.Op, m.Ref, err)
	}

	// Delivery is confirmed; a failed refetch only delays reconciliation.
	if rerr := f.RefreshType(ctx, m.Ref.Type); rerr != nil {
		f.logger.Error("Could not refresh after mutation", "op", m.Op, "ref", key, "error", rerr.Error())
	}
	return nil
}

// settleLocked removes the pending entry seq and, when err is set, restores
// the fields it touched that no later pending mutation also touches.
func (f *Feed) settleLocked(key string, seq uint64, err error) bool {
	pend := f.pending[key]
	idx := -1
	for i, p := range pend {
		if p.seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	done := pend[idx]
	pend = append(pend[:idx:idx], pend[idx+1:]...)
	if len(pend) == 0 {
		delete(f.pending, key)
	} else {
		f.pending[key] = pend
	}
	if err == nil {
		return false
	}

	fields := done.fields
	for _, p := range pend {
		if p.seq > seq {
			fields &^= p.fields
		}
	}
	cur, ok := f.items[key]
	if !ok {
		return false
	}
	restore(&cur, done.snapshot, fields)
	f.items[key] = cur
	return true
}

// Pending reports whether ref has unconfirmed mutations.
func (f *Feed) Pending(ref ConversationRef) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[ref.String()]) > 0
}
