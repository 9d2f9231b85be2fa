package timer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testNow is a fixed reference instant for deterministic transitions.
var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// TestNew_ValidatesDuration rejects non-positive durations and rounds sub-second ones up.
func TestNew_ValidatesDuration(t *testing.T) {
	t.Parallel()

	_, err := New(0, testNow)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = New(-time.Second, testNow)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = New(MaxDuration+time.Second, testNow)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = New(math.MaxInt64, testNow)
	require.ErrorIs(t, err, ErrInvalidDuration)

	longest, err := New(MaxDuration, testNow)
	require.NoError(t, err)
	require.Equal(t, MaxDuration, longest.Remaining)
	require.NoError(t, longest.Validate())

	tm, err := New(1500*time.Millisecond, testNow)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, tm.Duration)
	require.Equal(t, 2*time.Second, tm.Remaining)
	require.Equal(t, StateIdle, tm.State)
	require.Nil(t, tm.FireAt)
	require.NotEmpty(t, tm.ID)
	require.NoError(t, tm.Validate())
}

// TestTimerClone verifies Clone copies FireAt instead of sharing it.
func TestTimerClone(t *testing.T) {
	t.Parallel()

	require.Nil(t, (*Timer)(nil).Clone())

	tm, err := New(time.Minute, testNow)
	require.NoError(t, err)
	require.True(t, tm.Start(testNow))

	c := tm.Clone()
	require.Equal(t, tm, c)
	require.NotSame(t, tm, c)
	require.NotSame(t, tm.FireAt, c.FireAt)
}

// TestTimer_Transitions walks the state machine and checks invariants after every step.
func TestTimer_Transitions(t *testing.T) {
	t.Parallel()

	tm, err := New(time.Minute, testNow)
	require.NoError(t, err)

	// Pause and complete do not apply to an idle timer.
	require.False(t, tm.Pause(testNow))
	require.False(t, tm.Complete(testNow))

	require.True(t, tm.Start(testNow))
	require.NoError(t, tm.Validate())
	require.Equal(t, testNow.Add(time.Minute), *tm.FireAt)
	require.Equal(t, tm.ID, tm.AlarmHandle)

	// Start on a running timer is a no-op.
	require.False(t, tm.Start(testNow.Add(time.Second)))
	require.Equal(t, testNow.Add(time.Minute), *tm.FireAt)

	require.True(t, tm.Pause(testNow.Add(20*time.Second)))
	require.NoError(t, tm.Validate())
	require.Equal(t, StatePaused, tm.State)
	require.Equal(t, 40*time.Second, tm.Remaining)

	// Pause on a paused timer is a no-op.
	require.False(t, tm.Pause(testNow.Add(30*time.Second)))
	require.Equal(t, 40*time.Second, tm.Remaining)

	require.True(t, tm.Start(testNow.Add(time.Hour)))
	require.Equal(t, testNow.Add(time.Hour+40*time.Second), *tm.FireAt)

	require.True(t, tm.Cancel(testNow.Add(time.Hour+10*time.Second)))
	require.NoError(t, tm.Validate())
	require.Equal(t, StateCancelled, tm.State)
	require.Equal(t, 30*time.Second, tm.Remaining)

	// Terminal states accept nothing.
	require.False(t, tm.Start(testNow))
	require.False(t, tm.Cancel(testNow))
	require.False(t, tm.Complete(testNow))
}

// TestTimer_PauseClampsAtZero ensures an overdue running timer pauses with zero left.
func TestTimer_PauseClampsAtZero(t *testing.T) {
	t.Parallel()

	tm, err := New(5*time.Second, testNow)
	require.NoError(t, err)
	require.True(t, tm.Start(testNow))

	require.Equal(t, -5*time.Second, tm.Left(testNow.Add(10*time.Second)))
	require.True(t, tm.Pause(testNow.Add(10*time.Second)))
	require.Equal(t, time.Duration(0), tm.Remaining)
	require.NoError(t, tm.Validate())
}

// TestTimer_Refresh only reports a change when the displayed value moves.
func TestTimer_Refresh(t *testing.T) {
	t.Parallel()

	tm, err := New(time.Minute, testNow)
	require.NoError(t, err)
	require.False(t, tm.Refresh(testNow))

	require.True(t, tm.Start(testNow))
	require.False(t, tm.Refresh(testNow))
	require.True(t, tm.Refresh(testNow.Add(15*time.Second)))
	require.Equal(t, 45*time.Second, tm.Remaining)
	require.NotNil(t, tm.FireAt)
}

// TestTimer_Validate catches broken fire date pairing and negative remaining time.
func TestTimer_Validate(t *testing.T) {
	t.Parallel()

	fireAt := testNow

	cases := map[string]*Timer{
		"no id":                {Duration: time.Second, State: StateIdle},
		"unknown state":        {ID: "a", Duration: time.Second, State: "ringing"},
		"negative remaining":   {ID: "a", Duration: time.Second, Remaining: -time.Second, State: StateIdle},
		"running without date": {ID: "a", Duration: time.Second, State: StateRunning},
		"paused with date":     {ID: "a", Duration: time.Second, State: StatePaused, FireAt: &fireAt},
	}

	for name, tm := range cases {
		require.ErrorIs(t, tm.Validate(), ErrInvalidTimer, name)
	}
}

// TestCeilSecond checks rounding to whole seconds.
func TestCeilSecond(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, CeilSecond(time.Millisecond))
	require.Equal(t, 3*time.Second, CeilSecond(3*time.Second))
	require.Equal(t, 4*time.Second, CeilSecond(3*time.Second+time.Nanosecond))
	require.Equal(t, time.Duration(0), CeilSecond(0))

	largest := time.Duration(math.MaxInt64)
	require.Equal(t, largest.Truncate(time.Second), CeilSecond(largest))
	require.Positive(t, CeilSecond(largest))
}

// TestParseRequestKind maps known kinds and rejects the rest.
func TestParseRequestKind(t *testing.T) {
	t.Parallel()

	kind, err := ParseRequestKind("stop")
	require.NoError(t, err)
	require.Equal(t, RequestStop, kind)

	kind, err = ParseRequestKind("cancel")
	require.NoError(t, err)
	require.Equal(t, RequestCancel, kind)

	_, err = ParseRequestKind("snooze")
	require.Error(t, err)
}
