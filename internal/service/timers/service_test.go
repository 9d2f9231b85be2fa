package timers

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/countdown/internal/authority"
	"github.com/oshokin/countdown/internal/authority/memory"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/guard"
	repo "github.com/oshokin/countdown/internal/repository/timer"
)

var errTestSave = errors.New("test save error")

// memoryRepository is a minimal in-memory Repository implementation for tests.
type memoryRepository struct {
	mu sync.Mutex
	// timers holds the committed records.
	timers map[string]*domain.Timer
	// saveErr is returned by the next Save and then cleared.
	saveErr error
	// batches records the size of every successful Save.
	batches []int
}

func newMemoryRepository(seed ...*domain.Timer) *memoryRepository {
	m := &memoryRepository{timers: make(map[string]*domain.Timer)}

	for _, t := range seed {
		m.timers[t.ID] = t.Clone()
	}

	return m
}

func (m *memoryRepository) Get(_ context.Context, id string) (*domain.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[id]
	if !ok {
		return nil, repo.ErrNotFound
	}

	return t.Clone(), nil
}

func (m *memoryRepository) List(context.Context) ([]*domain.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	timers := make([]*domain.Timer, 0, len(m.timers))
	for _, t := range m.timers {
		timers = append(timers, t.Clone())
	}

	return timers, nil
}

func (m *memoryRepository) Save(_ context.Context, timers ...*domain.Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.saveErr; err != nil {
		m.saveErr = nil
		return err
	}

	for _, t := range timers {
		m.timers[t.ID] = t.Clone()
	}

	m.batches = append(m.batches, len(timers))

	return nil
}

func (m *memoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.timers, id)

	return nil
}

func (m *memoryRepository) Close() error { return nil }

func (m *memoryRepository) failNextSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveErr = err
}

func (m *memoryRepository) stored(t *testing.T, id string) *domain.Timer {
	t.Helper()

	got, err := m.Get(context.Background(), id)
	require.NoError(t, err)

	return got
}

// fixture wires a service to a memory authority and repository.
type fixture struct {
	repo      *memoryRepository
	authority *memory.Authority
	guard     *guard.Guard
	service   *Service
}

func newFixture(t *testing.T, repository *memoryRepository, opts ...memory.Option) *fixture {
	t.Helper()

	a := memory.New(opts...)
	g := guard.New(a)

	f := &fixture{
		repo:      repository,
		authority: a,
		guard:     g,
		service:   New(repository, g),
	}

	require.NoError(t, f.service.Load(context.Background()))

	return f
}

// requireInvariants checks the record invariants that hold after every transition.
func requireInvariants(t *testing.T, timer *domain.Timer) {
	t.Helper()

	require.Equal(t, timer.State == domain.StateRunning, timer.FireAt != nil, "fire date iff running")
	require.GreaterOrEqual(t, timer.Remaining, time.Duration(0))
	require.NoError(t, timer.Validate())
}

// runningTimer builds a running record that was started at started.
func runningTimer(t *testing.T, d time.Duration, started time.Time) *domain.Timer {
	t.Helper()

	timer, err := domain.New(d, started)
	require.NoError(t, err)
	require.True(t, timer.Start(started))

	return timer
}

func TestService_CreateRejectsInvalidDuration(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemoryRepository())

	_, err := f.service.CreateTimer(context.Background(), 0)
	require.ErrorIs(t, err, domain.ErrInvalidDuration)

	_, err = f.service.CreateTimer(context.Background(), -time.Second)
	require.ErrorIs(t, err, domain.ErrInvalidDuration)

	_, err = f.service.CreateTimer(context.Background(), math.MaxInt64)
	require.ErrorIs(t, err, domain.ErrInvalidDuration)

	require.Empty(t, f.service.List())
	require.Empty(t, f.repo.batches)
}

func TestService_UnknownTimer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, newMemoryRepository())

	_, err := f.service.StartTimer(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.PauseTimer(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.CancelTimer(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.ErrorIs(t, f.service.DeleteTimer(ctx, "missing"), domain.ErrNotFound)
}

// TestService_LifecycleKeepsInvariants walks every transition and checks
// the fire date, remaining time and idempotency after each step.
func TestService_LifecycleKeepsInvariants(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		created, err := f.service.CreateTimer(ctx, 1500*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, domain.StateIdle, created.State)
		require.Equal(t, 2*time.Second, created.Duration)
		requireInvariants(t, created)

		id := created.ID

		started, err := f.service.StartTimer(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.StateRunning, started.State)
		require.Equal(t, id, started.AlarmHandle)
		requireInvariants(t, started)

		// A second start is a no-op.
		again, err := f.service.StartTimer(ctx, id)
		require.NoError(t, err)
		require.Equal(t, started.FireAt, again.FireAt)

		f.service.Wait()
		require.Equal(t, 1, f.authority.ScheduleCalls())
		require.True(t, f.guard.IsRegistered(id))

		time.Sleep(time.Second)

		paused, err := f.service.PauseTimer(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.StatePaused, paused.State)
		require.Equal(t, time.Second, paused.Remaining)
		requireInvariants(t, paused)

		// A second pause is a no-op.
		again, err = f.service.PauseTimer(ctx, id)
		require.NoError(t, err)
		require.Equal(t, paused.UpdatedAt, again.UpdatedAt)

		f.service.Wait()
		require.True(t, f.authority.Paused(id))

		// Resume of a non-paused timer is a no-op; start of a paused one resumes.
		resumed, err := f.service.StartTimer(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.StateRunning, resumed.State)
		requireInvariants(t, resumed)

		again, err = f.service.ResumeTimer(ctx, id)
		require.NoError(t, err)
		require.Equal(t, resumed.FireAt, again.FireAt)

		f.service.Wait()
		require.False(t, f.authority.Paused(id))
		require.Equal(t, 1, f.authority.ScheduleCalls())

		cancelled, err := f.service.CancelTimer(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.StateCancelled, cancelled.State)
		requireInvariants(t, cancelled)

		f.service.Wait()

		_, armed := f.authority.Remaining(id)
		require.False(t, armed)
		require.False(t, f.guard.IsRegistered(id))

		// Terminal states ignore every further event.
		for _, op := range []func(context.Context, string) (*domain.Timer, error){
			f.service.StartTimer,
			f.service.PauseTimer,
			f.service.ResumeTimer,
			f.service.CancelTimer,
			f.service.StopTimer,
		} {
			got, err := op(ctx, id)
			require.NoError(t, err)
			require.Equal(t, domain.StateCancelled, got.State)
		}

		require.Equal(t, domain.StateCancelled, f.repo.stored(t, id).State)
	})
}

// TestService_ResumeIgnoresIdle keeps an idle timer idle on resume.
func TestService_ResumeIgnoresIdle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, newMemoryRepository())

	created, err := f.service.CreateTimer(ctx, time.Minute)
	require.NoError(t, err)

	got, err := f.service.ResumeTimer(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateIdle, got.State)
	require.Nil(t, got.FireAt)
}

// TestService_RestoreCompletesExpired completes a timer whose fire date passed
// while the process was down and only refreshes the survivors.
func TestService_RestoreCompletesExpired(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var (
			ctx     = context.Background()
			now     = time.Now()
			expired = runningTimer(t, 5*time.Second, now.Add(-15*time.Second))
			alive   = runningTimer(t, time.Minute, now.Add(-20*time.Second))
			paused  = runningTimer(t, time.Minute, now.Add(-time.Hour))
		)

		require.True(t, paused.Pause(now.Add(-time.Hour+10*time.Second)))

		repository := newMemoryRepository(expired, alive, paused)
		a := memory.New()
		s := New(repository, guard.New(a))

		require.NoError(t, s.Restore(ctx))

		got, err := s.Get(expired.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateCompleted, got.State)
		require.Zero(t, got.Remaining)
		require.Nil(t, got.FireAt)

		got, err = s.Get(alive.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateRunning, got.State)
		require.Equal(t, 40*time.Second, got.Remaining)
		require.True(t, alive.FireAt.Equal(*got.FireAt))

		got, err = s.Get(paused.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatePaused, got.State)
		require.Equal(t, 50*time.Second, got.Remaining)

		// Both updates landed in one commit and nothing was registered.
		require.Equal(t, []int{2}, repository.batches)
		require.Zero(t, a.ScheduleCalls())
		require.Equal(t, domain.StateCompleted, repository.stored(t, expired.ID).State)
	})
}

// TestService_ReconcileDropPauses pauses a running timer whose alarm vanished.
func TestService_ReconcileDropPauses(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var (
			ctx     = context.Background()
			now     = time.Now()
			dropped = runningTimer(t, time.Minute, now.Add(-30*time.Second))
			armed   = runningTimer(t, time.Minute, now.Add(-10*time.Second))
		)

		f := newFixture(t, newMemoryRepository(dropped, armed))

		f.service.Reconcile(ctx, authority.NewSnapshot(now, armed.ID))

		got, err := f.service.Get(dropped.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatePaused, got.State)
		require.Nil(t, got.FireAt)
		require.Equal(t, 30*time.Second, got.Remaining)
		requireInvariants(t, got)

		got, err = f.service.Get(armed.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateRunning, got.State)
		require.Equal(t, 50*time.Second, got.Remaining)

		require.Equal(t, []int{2}, f.repo.batches)
		require.Equal(t, domain.StatePaused, f.repo.stored(t, dropped.ID).State)
	})
}

// TestService_ReconcileSkipsInFlightCommands ignores a snapshot that predates a registration.
func TestService_ReconcileSkipsInFlightCommands(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())
		stale := authority.NewSnapshot(time.Now())

		created, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		_, err = f.service.StartTimer(ctx, created.ID)
		require.NoError(t, err)

		f.service.Wait()
		f.service.Reconcile(ctx, stale)

		got, err := f.service.Get(created.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateRunning, got.State)
	})
}

// TestService_ConcurrentCompletion lets two timers fire close together.
func TestService_ConcurrentCompletion(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		f := newFixture(t, newMemoryRepository())
		require.NoError(t, f.service.Restore(ctx))

		done := make(chan struct{})

		go func() {
			f.service.Run(ctx, nil)
			close(done)
		}()

		first, err := f.service.CreateTimer(ctx, 2*time.Second)
		require.NoError(t, err)

		second, err := f.service.CreateTimer(ctx, 3*time.Second)
		require.NoError(t, err)

		_, err = f.service.StartTimer(ctx, first.ID)
		require.NoError(t, err)

		_, err = f.service.StartTimer(ctx, second.ID)
		require.NoError(t, err)

		time.Sleep(4 * time.Second)
		synctest.Wait()

		for _, id := range []string{first.ID, second.ID} {
			got, err := f.service.Get(id)
			require.NoError(t, err)
			require.Equal(t, domain.StateCompleted, got.State)
			require.Zero(t, got.Remaining)
			require.Nil(t, got.FireAt)
			require.Equal(t, domain.StateCompleted, f.repo.stored(t, id).State)
		}

		cancel()
		<-done
		f.service.Wait()
	})
}

// TestService_RapidToggle ends running with one registration after start, pause, resume.
func TestService_RapidToggle(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		created, err := f.service.CreateTimer(ctx, 10*time.Minute)
		require.NoError(t, err)

		id := created.ID

		_, err = f.service.StartTimer(ctx, id)
		require.NoError(t, err)

		_, err = f.service.PauseTimer(ctx, id)
		require.NoError(t, err)

		got, err := f.service.ResumeTimer(ctx, id)
		require.NoError(t, err)

		f.service.Wait()

		require.Equal(t, domain.StateRunning, got.State)
		require.Equal(t, 10*time.Minute, got.Remaining)
		require.Equal(t, 1, f.authority.ScheduleCalls())
		require.False(t, f.authority.Paused(id))

		left, ok := f.authority.Remaining(id)
		require.True(t, ok)
		require.Equal(t, 10*time.Minute, left)
	})
}

// TestService_ResumeAfterLostAlarm registers again when the authority forgot a paused alarm.
func TestService_ResumeAfterLostAlarm(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		created, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		id := created.ID

		_, err = f.service.StartTimer(ctx, id)
		require.NoError(t, err)

		_, err = f.service.PauseTimer(ctx, id)
		require.NoError(t, err)
		f.service.Wait()

		f.authority.Drop(id)

		_, err = f.service.ResumeTimer(ctx, id)
		require.NoError(t, err)
		f.service.Wait()

		require.Equal(t, 2, f.authority.ScheduleCalls())
		require.True(t, f.guard.IsRegistered(id))

		left, ok := f.authority.Remaining(id)
		require.True(t, ok)
		require.Equal(t, time.Minute, left)
	})
}

// TestService_ResumeAfterStaleSnapshot resumes the paused alarm even when an
// older snapshot made the guard forget the registration.
func TestService_ResumeAfterStaleSnapshot(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		created, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		id := created.ID

		_, err = f.service.StartTimer(ctx, id)
		require.NoError(t, err)
		f.service.Wait()

		_, err = f.service.PauseTimer(ctx, id)
		require.NoError(t, err)
		f.service.Wait()

		f.guard.Apply(authority.NewSnapshot(time.Now()))
		require.False(t, f.guard.IsRegistered(id))

		got, err := f.service.ResumeTimer(ctx, id)
		require.NoError(t, err)
		f.service.Wait()

		require.Equal(t, domain.StateRunning, got.State)
		require.False(t, f.authority.Paused(id))
		require.Equal(t, 1, f.authority.ScheduleCalls())
		require.True(t, f.guard.IsRegistered(id))

		left, ok := f.authority.Remaining(id)
		require.True(t, ok)
		require.Equal(t, time.Minute, left)
	})
}

// TestService_RegistrationFailureKeepsRunning leaves the record running when scheduling fails.
func TestService_RegistrationFailureKeepsRunning(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())
		f.authority.FailNext(memory.OpSchedule, errTestSave)

		created, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		got, err := f.service.StartTimer(ctx, created.ID)
		require.NoError(t, err)
		f.service.Wait()

		require.Equal(t, domain.StateRunning, got.State)
		require.False(t, f.guard.IsRegistered(created.ID))

		// The next snapshot shows the alarm missing and the timer pauses.
		time.Sleep(time.Second)
		f.service.Reconcile(ctx, authority.NewSnapshot(time.Now()))

		got, err = f.service.Get(created.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatePaused, got.State)
		require.Equal(t, 59*time.Second, got.Remaining)
	})
}

// TestService_AuthorizationDeniedRunsLocally counts down without the authority.
func TestService_AuthorizationDeniedRunsLocally(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository(), memory.WithDeniedAuthorization())

		created, err := f.service.CreateTimer(ctx, 5*time.Second)
		require.NoError(t, err)

		_, err = f.service.StartTimer(ctx, created.ID)
		require.NoError(t, err)
		f.service.Wait()

		require.True(t, f.guard.Denied())

		time.Sleep(time.Second)
		f.service.Reconcile(ctx, authority.NewSnapshot(time.Now()))

		got, err := f.service.Get(created.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateRunning, got.State)
		require.Equal(t, 4*time.Second, got.Remaining)

		time.Sleep(4 * time.Second)
		f.service.Sweep(ctx)

		got, err = f.service.Get(created.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateCompleted, got.State)
	})
}

// TestService_PersistenceFailureIsRetried keeps the in-memory state and re-saves it later.
func TestService_PersistenceFailureIsRetried(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		created, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		f.repo.failNextSave(errTestSave)

		started, err := f.service.StartTimer(ctx, created.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateRunning, started.State)
		require.Equal(t, domain.StateIdle, f.repo.stored(t, created.ID).State)

		// The next commit carries the dirty record along.
		other, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		require.Equal(t, domain.StateRunning, f.repo.stored(t, created.ID).State)
		require.Equal(t, domain.StateIdle, f.repo.stored(t, other.ID).State)
		require.Equal(t, []int{1, 2}, f.repo.batches)

		f.service.Wait()
	})
}

// TestService_DeleteRevokesAlarm removes the record and its registration.
func TestService_DeleteRevokesAlarm(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		created, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		_, err = f.service.StartTimer(ctx, created.ID)
		require.NoError(t, err)

		require.NoError(t, f.service.DeleteTimer(ctx, created.ID))
		f.service.Wait()

		_, err = f.service.Get(created.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = f.repo.Get(ctx, created.ID)
		require.ErrorIs(t, err, repo.ErrNotFound)

		_, armed := f.authority.Remaining(created.ID)
		require.False(t, armed)
	})
}

// TestService_FinishedTimersReleaseQueueState keeps no settle times for
// timers that can issue no further alarm commands.
func TestService_FinishedTimersReleaseQueueState(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		ids := make([]string, 0, 4)

		for _, d := range []time.Duration{time.Minute, time.Minute, time.Minute, time.Second} {
			created, err := f.service.CreateTimer(ctx, d)
			require.NoError(t, err)

			_, err = f.service.StartTimer(ctx, created.ID)
			require.NoError(t, err)

			ids = append(ids, created.ID)
		}

		f.service.Wait()
		require.Equal(t, 4, f.service.queue.Tracked())

		_, err := f.service.CancelTimer(ctx, ids[0])
		require.NoError(t, err)

		_, err = f.service.StopTimer(ctx, ids[1])
		require.NoError(t, err)

		require.NoError(t, f.service.DeleteTimer(ctx, ids[2]))

		time.Sleep(2 * time.Second)
		f.service.Sweep(ctx)

		expired, err := f.service.Get(ids[3])
		require.NoError(t, err)
		require.Equal(t, domain.StateCompleted, expired.State)

		f.service.Wait()
		require.Zero(t, f.service.queue.Tracked())
	})
}

// TestService_RemoteRequests applies stop and cancel requests.
func TestService_RemoteRequests(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		f := newFixture(t, newMemoryRepository())

		stopped, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		cancelled, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		for _, id := range []string{stopped.ID, cancelled.ID} {
			_, err = f.service.StartTimer(ctx, id)
			require.NoError(t, err)
		}

		f.service.Wait()

		requests := make(chan domain.Request)
		done := make(chan struct{})

		go func() {
			f.service.Run(ctx, requests)
			close(done)
		}()

		requests <- domain.Request{Kind: domain.RequestStop, TimerID: stopped.ID}
		requests <- domain.Request{Kind: domain.RequestCancel, TimerID: cancelled.ID}
		requests <- domain.Request{Kind: domain.RequestStop, TimerID: "missing"}
		close(requests)

		synctest.Wait()
		f.service.Wait()

		got, err := f.service.Get(stopped.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateCompleted, got.State)
		require.Zero(t, got.Remaining)

		got, err = f.service.Get(cancelled.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StateCancelled, got.State)
		require.Equal(t, time.Minute, got.Remaining)

		snapshot, err := f.authority.ArmedIDs(ctx)
		require.NoError(t, err)
		require.Empty(t, snapshot.Armed)

		cancel()
		<-done
	})
}

// TestService_ReconcileRevokesOrphans cancels alarms no live timer owns.
func TestService_ReconcileRevokesOrphans(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		f := newFixture(t, newMemoryRepository())

		require.NoError(t, f.authority.Schedule(ctx, "ghost", time.Minute))

		f.service.Reconcile(ctx, authority.NewSnapshot(time.Now(), "ghost"))
		f.service.Wait()

		_, armed := f.authority.Remaining("ghost")
		require.False(t, armed)
	})
}

// TestService_Subscribe delivers committed changes and deletions.
func TestService_Subscribe(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		f := newFixture(t, newMemoryRepository())

		changes := f.service.Subscribe(ctx, 8)

		created, err := f.service.CreateTimer(ctx, time.Minute)
		require.NoError(t, err)

		_, err = f.service.StartTimer(ctx, created.ID)
		require.NoError(t, err)

		require.NoError(t, f.service.DeleteTimer(ctx, created.ID))
		f.service.Wait()

		change := <-changes
		require.Equal(t, domain.StateIdle, change.Timer.State)

		change = <-changes
		require.Equal(t, domain.StateRunning, change.Timer.State)

		change = <-changes
		require.True(t, change.Deleted)
		require.Equal(t, created.ID, change.Timer.ID)

		cancel()
		synctest.Wait()

		_, open := <-changes
		require.False(t, open)
	})
}
