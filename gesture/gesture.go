// Package gesture maps horizontal swipes on a feed item to inbox actions.
package gesture

import "math"

// An Action is what a completed swipe asks the feed to do.
type Action int

const (
	ActionNone Action = iota
	ActionArchive
	ActionToggleRead
)

func (a Action) String() string {
	switch a {
	case ActionArchive:
		return "archive"
	case ActionToggleRead:
		return "toggle-read"
	default:
		return "none"
	}
}

// Default thresholds, in points.
const (
	CommitThreshold = 10
	ActionThreshold = 80
	MaxOffset       = 120
)

type mode int

const (
	modeIdle mode = iota
	modeTracking
	modeHorizontal
	modeScroll
)

// A Controller tracks one touch sequence at a time. It is not safe for
// concurrent use; input events arrive on a single goroutine.
type Controller struct {
	Commit    float64
	Threshold float64
	Max       float64

	mode   mode
	dx     float64
	offset float64
}

// New returns a controller with the default thresholds.
func New() *Controller {
	return &Controller{Commit: CommitThreshold, Threshold: ActionThreshold, Max: MaxOffset}
}

// Begin starts a touch sequence.
func (c *Controller) Begin() {
	c.reset()
	c.mode = modeTracking
}

// Move feeds the cumulative drag deltas since Begin. It reports whether the
// default scroll should be suppressed.
func (c *Controller) Move(dx, dy float64) bool {
	switch c.mode {
	case modeIdle:
		c.mode = modeTracking
	case modeScroll:
		return false
	}

	if c.mode == modeTracking {
		if math.Abs(dy) > math.Abs(dx) {
			c.mode = modeScroll
			return false
		}
		if math.Abs(dx) <= c.Commit {
			return false
		}
		c.mode = modeHorizontal
	}

	c.dx = dx
	c.offset = clamp(dx, -c.Max, c.Max)
	return true
}

// Offset is the clamped display position of the item.
func (c *Controller) Offset() float64 { return c.offset }

// Horizontal reports whether the sequence locked to horizontal mode.
func (c *Controller) Horizontal() bool { return c.mode == modeHorizontal }

// Release ends the sequence and returns the action to fire, if any. The
// controller is reset either way.
func (c *Controller) Release() Action {
	defer c.reset()
	if c.mode != modeHorizontal {
		return ActionNone
	}
	switch {
	case c.dx >= c.Threshold:
		return ActionArchive
	case c.dx <= -c.Threshold:
		return ActionToggleRead
	default:
		return ActionNone
	}
}

func (c *Controller) reset() {
	c.mode = modeIdle
	c.dx = 0
	c.offset = 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
