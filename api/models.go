package api

import (
	"github.com/GetStream/unified-inbox/annotation"
	"github.com/GetStream/unified-inbox/inbox"
)

// A feedResponse is one page of the unified feed. Errors names the sources
// that could not be loaded; their items are missing from the page.
type feedResponse struct {
	Items  []inbox.UnifiedMessage       `json:"items"`
	Counts inbox.FilterCounts           `json:"counts"`
	Errors map[inbox.MessageType]string `json:"errors"`
}

func newFeedResponse(res inbox.Result) feedResponse {
	out := feedResponse{
		Items:  res.Items,
		Counts: res.Counts,
		Errors: make(map[inbox.MessageType]string, len(res.Errors)),
	}
	if out.Items == nil {
		out.Items = []inbox.UnifiedMessage{}
	}
	for t, err := range res.Errors {
		out.Errors[t] = err.Error()
	}
	return out
}

// An attachmentRequest is an attachment already stored through /uploads.
type attachmentRequest struct {
	URL             string  `json:"url" validate:"required,url"`
	Name            string  `json:"name" validate:"required"`
	Size            int64   `json:"size" validate:"gte=0"`
	MimeType        string  `json:"mime_type" validate:"required"`
	DurationSeconds float64 `json:"duration_seconds" validate:"gte=0"`
}

func (r *attachmentRequest) Attachment() *inbox.Attachment {
	if r == nil {
		return nil
	}
	return &inbox.Attachment{
		URL:             r.URL,
		Name:            r.Name,
		Size:            r.Size,
		MimeType:        r.MimeType,
		DurationSeconds: r.DurationSeconds,
	}
}

// A pinsResponse is the pin bar of a thread: the collapsed entry and the
// expanded list, most recent first.
type pinsResponse struct {
	Pinned *annotation.PinnedMessage  `json:"pinned"`
	Pins   []annotation.PinnedMessage `json:"pins"`
	Count  int                        `json:"count"`
}

func newPinsResponse(bar annotation.PinBar) pinsResponse {
	pins := bar.Expanded()
	if pins == nil {
		pins = []annotation.PinnedMessage{}
	}
	return pinsResponse{
		Pinned: bar.Collapsed(),
		Pins:   pins,
		Count:  bar.Len(),
	}
}
