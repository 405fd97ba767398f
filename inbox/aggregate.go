package inbox

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sources fetches the five source collections for a user. since, when not
// nil, limits results to records active after the cursor.
type Sources interface {
	ListSMSConversations(ctx context.Context, userID string, since *time.Time) ([]SMSConversation, error)
	ListTeamConversations(ctx context.Context, userID string, since *time.Time) ([]TeamChatConversation, error)
	ListTicketThreads(ctx context.Context, userID string, since *time.Time) ([]TicketThread, error)
	ListAnnouncements(ctx context.Context, userID string, since *time.Time) ([]Announcement, error)
	ListNotifications(ctx context.Context, userID string, since *time.Time) ([]SystemNotification, error)
}

// Collections is the raw input of an aggregation pass. A type present in
// Errors contributes no records.
type Collections struct {
	Records map[MessageType][]Record
	Errors  map[MessageType]error
}

// Result is the output of an aggregation pass.
type Result struct {
	Items  []UnifiedMessage
	Counts FilterCounts
	Errors map[MessageType]error
}

// Fetch loads every source concurrently. A failing source never aborts the
// others: its error is recorded as a *SourceError and its collection left
// empty. Fetch only returns early when ctx is canceled.
func Fetch(ctx context.Context, src Sources, userID string, since *time.Time) (Collections, error) {
	out := Collections{
		Records: make(map[MessageType][]Record, len(AllTypes)),
		Errors:  make(map[MessageType]error),
	}
	var mu sync.Mutex
	set := func(t MessageType, recs []Record, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out.Errors[t] = &SourceError{Type: t, Err: err}
			out.Records[t] = nil
			return
		}
		out.Records[t] = recs
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, t := range AllTypes {
		eg.Go(func() error {
			recs, err := fetchOne(egCtx, src, t, userID, since)
			set(t, recs, err)
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return Collections{}, err
	}
	return out, nil
}

func fetchOne(ctx context.Context, src Sources, t MessageType, userID string, since *time.Time) ([]Record, error) {
	switch t {
	case TypeSMS:
		return toRecords(src.ListSMSConversations(ctx, userID, since))
	case TypeTeamChat:
		return toRecords(src.ListTeamConversations(ctx, userID, since))
	case TypeTicketChat:
		return toRecords(src.ListTicketThreads(ctx, userID, since))
	case TypeAnnouncement:
		return toRecords(src.ListAnnouncements(ctx, userID, since))
	case TypeNotification:
		return toRecords(src.ListNotifications(ctx, userID, since))
	default:
		panic("inbox: unhandled message type " + string(t))
	}
}

func toRecords[R Record](recs []R, err error) ([]Record, error) {
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out, nil
}

// Aggregate projects, merges, sorts, filters and counts.
func Aggregate(c Collections, filter Filter) Result {
	var merged []UnifiedMessage
	for _, t := range AllTypes {
		for _, r := range c.Records[t] {
			merged = append(merged, Project(r))
		}
	}
	return build(merged, filter, c.Errors)
}

func build(merged []UnifiedMessage, filter Filter, errs map[MessageType]error) Result {
	Sort(merged)

	items := make([]UnifiedMessage, 0, len(merged))
	for _, m := range merged {
		if filter.Matches(m) {
			items = append(items, m)
		}
	}

	if errs == nil {
		errs = map[MessageType]error{}
	}
	return Result{
		Items:  items,
		Counts: Count(merged),
		Errors: errs,
	}
}

// Sort orders envelopes newest first. Equal timestamps are ordered by type
// rank and then by ID so repeated passes render identically.
func Sort(items []UnifiedMessage) {
	slices.SortStableFunc(items, compare)
}

func compare(a, b UnifiedMessage) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Type.rank(), b.Type.rank()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Count computes unread counts for every category over the unfiltered
// sequence, using the same membership test as the filtered list.
func Count(items []UnifiedMessage) FilterCounts {
	counts := make(FilterCounts, len(AllFilters))
	for _, f := range AllFilters {
		counts[f] = 0
	}
	for _, m := range items {
		if !CountsUnread(m) {
			continue
		}
		for _, f := range AllFilters {
			if f.Matches(m) {
				counts[f]++
			}
		}
	}
	return counts
}
