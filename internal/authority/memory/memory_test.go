package memory

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/countdown/internal/authority"
	domain "github.com/oshokin/countdown/internal/domain/timer"
)

var errTestBackend = errors.New("backend unavailable")

// TestAuthority_ScheduleIsIdempotent verifies a second Schedule keeps one registration.
func TestAuthority_ScheduleIsIdempotent(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		a := New()

		require.NoError(t, a.Schedule(ctx, "a", 10*time.Second))
		time.Sleep(2 * time.Second)
		require.NoError(t, a.Schedule(ctx, "a", 10*time.Second))

		left, ok := a.Remaining("a")
		require.True(t, ok)
		require.Equal(t, 8*time.Second, left)
		require.Equal(t, 2, a.ScheduleCalls())

		snapshot, err := a.ArmedIDs(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, snapshot.IDs())

		require.NoError(t, a.Cancel(ctx, "a"))
	})
}

// TestAuthority_FiresAndPublishes checks expiry removes the id and notifies subscribers.
func TestAuthority_FiresAndPublishes(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fired := make(chan string, 1)
		a := New(WithOnFire(func(id string) { fired <- id }))

		snapshots := a.Snapshots(ctx)
		require.Empty(t, (<-snapshots).Armed)

		require.NoError(t, a.Schedule(ctx, "a", 5*time.Second))
		require.True(t, (<-snapshots).Contains("a"))

		time.Sleep(5 * time.Second)
		synctest.Wait()

		require.Equal(t, "a", <-fired)
		require.False(t, (<-snapshots).Contains("a"))
	})
}

// TestAuthority_PauseResume freezes the countdown and continues it later.
func TestAuthority_PauseResume(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		a := New()

		require.ErrorIs(t, a.Pause(ctx, "missing"), authority.ErrUnknownAlarm)
		require.ErrorIs(t, a.Resume(ctx, "missing"), authority.ErrUnknownAlarm)

		require.NoError(t, a.Schedule(ctx, "a", 10*time.Second))
		time.Sleep(4 * time.Second)
		require.NoError(t, a.Pause(ctx, "a"))
		require.True(t, a.Paused("a"))

		// A paused registration neither fires nor leaves the snapshot.
		time.Sleep(time.Minute)

		left, ok := a.Remaining("a")
		require.True(t, ok)
		require.Equal(t, 6*time.Second, left)

		require.NoError(t, a.Resume(ctx, "a"))
		require.False(t, a.Paused("a"))

		time.Sleep(6 * time.Second)
		synctest.Wait()

		_, ok = a.Remaining("a")
		require.False(t, ok)
	})
}

// TestAuthority_FailuresAndDenial covers injected failures, Drop and denied authorization.
func TestAuthority_FailuresAndDenial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	require.ErrorIs(t, New(WithDeniedAuthorization()).RequestAuthorization(ctx), domain.ErrAuthorizationDenied)

	a := New()
	require.NoError(t, a.RequestAuthorization(ctx))

	a.FailNext(OpSchedule, errTestBackend)
	require.ErrorIs(t, a.Schedule(ctx, "a", time.Minute), errTestBackend)

	_, ok := a.Remaining("a")
	require.False(t, ok)

	// The failure is one-shot.
	require.NoError(t, a.Schedule(ctx, "a", time.Minute))

	a.Drop("a")

	snapshot, err := a.ArmedIDs(ctx)
	require.NoError(t, err)
	require.False(t, snapshot.Contains("a"))
}
