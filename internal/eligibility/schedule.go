// Package eligibility decides when an abandoned cart is due for another contact.
//
// A cart's state is computed only from its abandonment time, its recovery time
// and the count and latest sent_at of its outreach records. No attempt counter
// is stored anywhere; the outreach log is the only source of truth.
package eligibility

import (
	"errors"
	"time"
)

// State of a cart at a given instant. Every cart is in exactly one state.
type State int

const (
	NotYetDue State = iota
	Due
	Exhausted
)

func (s State) String() string {
	switch s {
	case NotYetDue:
		return "not_yet_due"
	case Due:
		return "due"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// CartState is the input of an eligibility decision.
type CartState struct {
	AbandonedAt   time.Time
	RecoveredAt   *time.Time
	OutreachCount int
	LastSentAt    *time.Time
}

// Schedule is an escalating backoff: Gaps[n] is the quiet period required after
// the latest contact before contact number n+1 may be made. len(Gaps) is the
// lifetime contact cap.
type Schedule struct {
	Window time.Duration
	Gaps   []time.Duration
}

const (
	DefaultWindow = 7 * 24 * time.Hour
	DefaultLimit  = 50
)

// DefaultSchedule contacts immediately, then after 24 hours, then after 3 days.
func DefaultSchedule() Schedule {
	return Schedule{
		Window: DefaultWindow,
		Gaps:   []time.Duration{0, 24 * time.Hour, 72 * time.Hour},
	}
}

var (
	ErrInvalidWindow = errors.New("eligibility window must be positive")
	ErrNoGaps        = errors.New("eligibility schedule needs at least one step")
	ErrNotMonotone   = errors.New("eligibility gaps must strictly increase")
)

// Validate checks that the schedule is a monotone backoff.
func (s Schedule) Validate() error {
	if s.Window <= 0 {
		return ErrInvalidWindow
	}
	if len(s.Gaps) == 0 {
		return ErrNoGaps
	}
	for i := 1; i < len(s.Gaps); i++ {
		if s.Gaps[i] <= s.Gaps[i-1] {
			return ErrNotMonotone
		}
	}
	return nil
}

// MaxContacts is the lifetime contact cap of a cart.
func (s Schedule) MaxContacts() int { return len(s.Gaps) }

// WindowStart is the oldest abandoned_at (exclusive) still in scope at now.
func (s Schedule) WindowStart(now time.Time) time.Time {
	return now.Add(-s.Window)
}

// Cutoffs returns, per prior contact count, the instant the latest contact must
// precede for the cart to be due at now.
func (s Schedule) Cutoffs(now time.Time) []time.Time {
	out := make([]time.Time, len(s.Gaps))
	for i, gap := range s.Gaps {
		out[i] = now.Add(-gap)
	}
	return out
}

// Evaluate places a cart in exactly one State at now.
func (s Schedule) Evaluate(now time.Time, c CartState) State {
	if c.RecoveredAt != nil {
		return Exhausted
	}
	if !c.AbandonedAt.After(s.WindowStart(now)) {
		return Exhausted
	}
	if c.OutreachCount >= s.MaxContacts() {
		return Exhausted
	}
	if c.OutreachCount == 0 || c.LastSentAt == nil {
		return Due
	}
	if c.LastSentAt.Before(now.Add(-s.Gaps[c.OutreachCount])) {
		return Due
	}
	return NotYetDue
}

// NextDueAt returns when a cart that is not yet due becomes due. ok is false
// for exhausted carts and for carts whose next step falls outside the window.
func (s Schedule) NextDueAt(now time.Time, c CartState) (at time.Time, ok bool) {
	switch s.Evaluate(now, c) {
	case Exhausted:
		return time.Time{}, false
	case Due:
		return now, true
	}
	// strictly older than the gap
	at = c.LastSentAt.Add(s.Gaps[c.OutreachCount]).Add(time.Nanosecond)
	if !c.AbandonedAt.After(at.Add(-s.Window)) {
		return time.Time{}, false
	}
	return at, true
}
