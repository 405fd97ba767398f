// Package widget holds the messaging widget state shared by every view of
// a signed-in session: whether the side pane is open or minimized and which
// conversation it shows.
package widget

import (
	"sync"

	"github.com/GetStream/unified-inbox/inbox"
)

// Snapshot is a copy of the widget state.
type Snapshot struct {
	Open      bool                   `json:"open"`
	Minimized bool                   `json:"minimized"`
	Selected  *inbox.ConversationRef `json:"selected"`
}

// State is created when a session starts and reset on sign-out. It is safe
// for concurrent use.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

// New returns a closed widget.
func New() *State {
	return &State{}
}

// Select opens the widget on ref.
func (s *State) Select(ref inbox.ConversationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Selected = &ref
	s.snap.Open = true
	s.snap.Minimized = false
}

// Minimize collapses an open widget.
func (s *State) Minimize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Open {
		s.snap.Minimized = true
	}
}

// Restore expands a minimized widget.
func (s *State) Restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Minimized = false
}

// Close hides the widget and clears the selection.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
}

// Apply replaces the state wholesale.
func (s *State) Apply(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !snap.Open {
		snap = Snapshot{}
	}
	if snap.Selected != nil {
		ref := *snap.Selected
		snap.Selected = &ref
	}
	s.snap = snap
}

// Reset is called on sign-out.
func (s *State) Reset() { s.Close() }

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	if out.Selected != nil {
		ref := *out.Selected
		out.Selected = &ref
	}
	return out
}
