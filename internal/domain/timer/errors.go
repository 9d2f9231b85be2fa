package timer

import "errors"

var (
	// ErrNotFound is returned when a command references an unknown timer.
	ErrNotFound = errors.New("timer not found")
	// ErrInvalidDuration is returned when a timer is created with a duration outside (0, MaxDuration].
	ErrInvalidDuration = errors.New("invalid timer duration")
	// ErrInvalidTimer is returned when a record violates its invariants.
	ErrInvalidTimer = errors.New("invalid timer record")
	// ErrAuthorizationDenied means the authority refuses to arm any alarm.
	// Timers stay creatable but their countdowns are local only.
	ErrAuthorizationDenied = errors.New("alarm authorization denied")
	// ErrRegistrationFailed wraps a failed schedule, cancel, pause or resume call.
	ErrRegistrationFailed = errors.New("alarm registration failed")
	// ErrPersistenceFailed wraps a failed store commit.
	ErrPersistenceFailed = errors.New("timer persistence failed")
)
