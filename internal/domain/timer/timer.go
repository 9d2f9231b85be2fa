package timer

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// MaxDuration is the longest countdown a timer accepts.
const MaxDuration = 100 * 365 * 24 * time.Hour

// State is the lifecycle state of a timer.
type State string

const (
	// StateIdle is the initial state of a freshly created timer.
	StateIdle State = "idle"
	// StateRunning means the countdown is in progress and FireAt is set.
	StateRunning State = "running"
	// StatePaused means the countdown is frozen with Remaining left.
	StatePaused State = "paused"
	// StateCompleted is terminal: the countdown reached zero or was stopped.
	StateCompleted State = "completed"
	// StateCancelled is terminal: the user or a remote surface cancelled the timer.
	StateCancelled State = "cancelled"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateRunning, StatePaused, StateCompleted, StateCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Armed reports whether a timer in state s may own an authority registration.
func (s State) Armed() bool {
	return s == StateRunning || s == StatePaused
}

// Timer is a single countdown owned by the orchestrator.
type Timer struct {
	// ID is assigned at creation and doubles as the alarm identifier.
	ID string `json:"id"`
	// CreatedAt is the immutable creation timestamp.
	CreatedAt time.Time `json:"created_at"`
	// Duration is the configured countdown length.
	Duration time.Duration `json:"duration"`
	// Remaining is the time left; authoritative unless the timer is running.
	Remaining time.Duration `json:"remaining"`
	// FireAt is the wall-clock completion time, set iff State is running.
	FireAt *time.Time `json:"fire_at,omitempty"`
	// State is the current lifecycle state.
	State State `json:"state"`
	// AlarmHandle is set optimistically once a schedule command has been issued.
	// It reflects intent, not confirmation from the authority.
	AlarmHandle string `json:"alarm_handle,omitempty"`
	// UpdatedAt is when the record was last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an idle timer of the given duration, which must lie in
// (0, MaxDuration]. Sub-second remainders are rounded up to a whole second.
func New(duration time.Duration, now time.Time) (*Timer, error) {
	if duration <= 0 || duration > MaxDuration {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}

	duration = CeilSecond(duration)

	return &Timer{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Duration:  duration,
		Remaining: duration,
		State:     StateIdle,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy of the timer.
func (t *Timer) Clone() *Timer {
	if t == nil {
		return nil
	}

	cloned := *t

	if t.FireAt != nil {
		fireAt := *t.FireAt
		cloned.FireAt = &fireAt
	}

	return &cloned
}

// Validate checks the record invariants.
func (t *Timer) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTimer)
	}

	if !t.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTimer, t.State)
	}

	if t.Duration <= 0 {
		return fmt.Errorf("%w: non-positive duration %s", ErrInvalidTimer, t.Duration)
	}

	if t.Remaining < 0 {
		return fmt.Errorf("%w: negative remaining time %s", ErrInvalidTimer, t.Remaining)
	}

	if (t.FireAt != nil) != (t.State == StateRunning) {
		return fmt.Errorf("%w: fire date present=%t in state %s", ErrInvalidTimer, t.FireAt != nil, t.State)
	}

	return nil
}

// Left returns the raw time left until FireAt, which may be negative.
// For a timer that is not running it returns Remaining.
func (t *Timer) Left(now time.Time) time.Duration {
	if t.State != StateRunning || t.FireAt == nil {
		return t.Remaining
	}

	return t.FireAt.Sub(now)
}

// RemainingAt returns the display value of the time left at now:
// clamped at zero and rounded up to a whole second.
func (t *Timer) RemainingAt(now time.Time) time.Duration {
	left := t.Left(now)
	if left <= 0 {
		return 0
	}

	return CeilSecond(left)
}

// CanStart reports whether start is a valid event in the current state.
func (t *Timer) CanStart() bool {
	return t.State == StateIdle || t.State == StatePaused
}

// Start moves an idle or paused timer into running.
// It returns false and leaves the timer untouched when the guard does not hold.
func (t *Timer) Start(now time.Time) bool {
	if !t.CanStart() {
		return false
	}

	fireAt := now.Add(t.Remaining)

	t.FireAt = &fireAt
	t.State = StateRunning
	t.AlarmHandle = t.ID
	t.UpdatedAt = now

	return true
}

// Pause freezes a running timer.
func (t *Timer) Pause(now time.Time) bool {
	if t.State != StateRunning {
		return false
	}

	t.Remaining = t.RemainingAt(now)
	t.FireAt = nil
	t.State = StatePaused
	t.UpdatedAt = now

	return true
}

// Cancel moves an idle, running or paused timer into cancelled.
func (t *Timer) Cancel(now time.Time) bool {
	if t.State.Terminal() {
		return false
	}

	t.Remaining = t.RemainingAt(now)
	t.FireAt = nil
	t.State = StateCancelled
	t.UpdatedAt = now

	return true
}

// Complete finishes a running or paused timer.
func (t *Timer) Complete(now time.Time) bool {
	if !t.State.Armed() {
		return false
	}

	t.Remaining = 0
	t.FireAt = nil
	t.State = StateCompleted
	t.UpdatedAt = now

	return true
}

// Refresh updates Remaining of a running timer from its FireAt.
// FireAt and any registration are left untouched.
func (t *Timer) Refresh(now time.Time) bool {
	if t.State != StateRunning {
		return false
	}

	remaining := t.RemainingAt(now)
	if remaining == t.Remaining {
		return false
	}

	t.Remaining = remaining
	t.UpdatedAt = now

	return true
}

// CeilSecond rounds d up to a whole number of seconds. Values too close to
// the largest Duration to round up saturate at the last whole second.
func CeilSecond(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}

	truncated := d.Truncate(time.Second)
	if truncated == d || truncated > math.MaxInt64-time.Second {
		return truncated
	}

	return truncated + time.Second
}
