package timers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/countdown/internal/authority"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/guard"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/metrics"
	repo "github.com/oshokin/countdown/internal/repository/timer"
)

// DefaultSweepInterval is how often running timers are checked for expiry.
const DefaultSweepInterval = time.Second

// Change is delivered to subscribers after a record was committed or removed.
type Change struct {
	// Timer is a copy of the committed record.
	Timer *domain.Timer
	// Deleted is true when the record was removed; Timer holds its last state.
	Deleted bool
}

// Option configures the Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSweepInterval sets the period of the expiry sweep in Run.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// Service orchestrates timer transitions, persistence and alarm commands.
type Service struct {
	// repo persists records.
	repo repo.Repository
	// guard fronts the alarm authority.
	guard *guard.Guard
	// now is the clock.
	now func() time.Time
	// sweepInterval is the expiry sweep period.
	sweepInterval time.Duration

	// locks serializes transitions per id.
	locks *keyedMutex
	// queue runs alarm commands per id in FIFO order.
	queue *commandQueue
	// reconcileMu serializes batch passes over all running timers.
	reconcileMu sync.Mutex

	// mu protects timers and loaded.
	mu     sync.RWMutex
	timers map[string]*domain.Timer
	loaded bool

	// persistMu serializes store commits and protects dirty and deleted.
	persistMu sync.Mutex
	// dirty holds ids whose last commit failed.
	dirty map[string]struct{}
	// deleted holds ids whose removal from the store failed.
	deleted map[string]struct{}

	// subMu protects subscribers.
	subMu       sync.Mutex
	subscribers map[chan Change]struct{}
}

// New creates an orchestrator on top of a store and a guard.
func New(repository repo.Repository, g *guard.Guard, opts ...Option) *Service {
	s := &Service{
		repo:          repository,
		guard:         g,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		locks:         newKeyedMutex(),
		timers:        make(map[string]*domain.Timer),
		dirty:         make(map[string]struct{}),
		deleted:       make(map[string]struct{}),
		subscribers:   make(map[chan Change]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.queue = newCommandQueue(s.now)

	return s
}

// Load reads all records from the store into memory. It runs once;
// later calls are no-ops so unsaved in-memory state is never overwritten.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	timers, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load timers: %w", err)
	}

	for _, t := range timers {
		if err = t.Validate(); err != nil {
			logger.WarnKV(ctx, "Skipping invalid timer record", "timer_id", t.ID, "error", err)
			continue
		}

		s.timers[t.ID] = t
	}

	s.loaded = true

	logger.InfoKV(ctx, "Timers loaded", "count", len(s.timers))

	return nil
}

// Wait blocks until every queued alarm command has finished.
func (s *Service) Wait() {
	s.queue.Wait()
}

// Get returns a copy of one record.
func (s *Service) Get(id string) (*domain.Timer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.timers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	return t.Clone(), nil
}

// List returns copies of all records ordered by creation time.
func (s *Service) List() []*domain.Timer {
	s.mu.RLock()

	timers := make([]*domain.Timer, 0, len(s.timers))
	for _, t := range s.timers {
		timers = append(timers, t.Clone())
	}

	s.mu.RUnlock()

	sortByCreation(timers)

	return timers
}

// Subscribe returns a stream of committed changes. The channel is closed
// when ctx is done. A subscriber that falls behind by more than buffer
// changes misses the overflow.
func (s *Service) Subscribe(ctx context.Context, buffer int) <-chan Change {
	ch := make(chan Change, max(buffer, 1))

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()

		s.subMu.Lock()
		delete(s.subscribers, ch)
		close(ch)
		s.subMu.Unlock()
	}()

	return ch
}

// CreateTimer creates and persists an idle timer.
func (s *Service) CreateTimer(ctx context.Context, d time.Duration) (*domain.Timer, error) {
	t, err := domain.New(d, s.now())
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(t.ID)
	defer unlock()

	s.commit(ctx, "create", t)

	logger.InfoKV(ctx, "Timer created", "timer_id", t.ID, "duration", t.Duration)

	return t.Clone(), nil
}

// StartTimer starts an idle timer or resumes a paused one.
func (s *Service) StartTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return s.start(ctx, id, true)
}

// ResumeTimer continues a paused timer. Any other state is a no-op.
func (s *Service) ResumeTimer(ctx context.Context, id string) (*domain.Timer, error) {
	return s.start(ctx, id, false)
}

func (s *Service) start(ctx context.Context, id string, fromIdle bool) (*domain.Timer, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	previous := t.State
	if (previous == domain.StateIdle && !fromIdle) || !t.Start(s.now()) {
		logger.DebugKV(ctx, "Start ignored", "timer_id", id, "state", t.State)
		return t, nil
	}

	s.commit(ctx, "start", t)

	fireAt := *t.FireAt

	if previous == domain.StatePaused {
		s.queue.Enqueue(ctx, id, "resume", func(ctx context.Context) error {
			return s.resumeAlarm(ctx, id, fireAt)
		})
	} else {
		s.queue.Enqueue(ctx, id, "register", func(ctx context.Context) error {
			return s.registerAlarm(ctx, id, fireAt)
		})
	}

	logger.InfoKV(ctx, "Timer started", "timer_id", id, "fire_at", fireAt, "from", previous)

	return t.Clone(), nil
}

// PauseTimer freezes a running timer.
func (s *Service) PauseTimer(ctx context.Context, id string) (*domain.Timer, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if !t.Pause(s.now()) {
		logger.DebugKV(ctx, "Pause ignored", "timer_id", id, "state", t.State)
		return t, nil
	}

	s.commit(ctx, "pause", t)

	s.queue.Enqueue(ctx, id, "pause", func(ctx context.Context) error {
		return s.guard.Pause(ctx, id)
	})

	logger.InfoKV(ctx, "Timer paused", "timer_id", id, "remaining", t.Remaining)

	return t.Clone(), nil
}

// CancelTimer cancels an idle, running or paused timer.
func (s *Service) CancelTimer(ctx context.Context, id string) (*domain.Timer, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	armed := t.State.Armed()
	if !t.Cancel(s.now()) {
		logger.DebugKV(ctx, "Cancel ignored", "timer_id", id, "state", t.State)
		return t, nil
	}

	s.commit(ctx, "cancel", t)

	if armed {
		s.enqueueUnregister(ctx, id)
	}

	logger.InfoKV(ctx, "Timer cancelled", "timer_id", id, "remaining", t.Remaining)

	return t.Clone(), nil
}

// StopTimer completes a running or paused timer on request,
// for example after its alert was dismissed elsewhere.
func (s *Service) StopTimer(ctx context.Context, id string) (*domain.Timer, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if !t.Complete(s.now()) {
		logger.DebugKV(ctx, "Stop ignored", "timer_id", id, "state", t.State)
		return t, nil
	}

	s.commit(ctx, "stop", t)
	s.enqueueUnregister(ctx, id)

	logger.InfoKV(ctx, "Timer stopped", "timer_id", id)

	return t.Clone(), nil
}

// DeleteTimer removes a timer and revokes its registration if it had one.
func (s *Service) DeleteTimer(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	s.remove(ctx, id)
	metrics.IncTransition("delete")

	if t.State.Armed() {
		s.enqueueUnregister(ctx, id)
	} else {
		s.queue.Forget(id)
	}

	s.publish(Change{Timer: t, Deleted: true})

	logger.InfoKV(ctx, "Timer deleted", "timer_id", id, "state", t.State)

	return nil
}

// HandleRequest applies a remote control request.
func (s *Service) HandleRequest(ctx context.Context, req domain.Request) {
	ctx = logger.WithKV(ctx, "request", string(req.Kind))

	var err error

	switch req.Kind {
	case domain.RequestStop:
		_, err = s.StopTimer(ctx, req.TimerID)
	case domain.RequestCancel:
		_, err = s.CancelTimer(ctx, req.TimerID)
	default:
		err = fmt.Errorf("unsupported request kind %q", req.Kind)
	}

	if err != nil {
		logger.WarnKV(ctx, "Remote request rejected", "timer_id", req.TimerID, "error", err)
	}
}

// registerAlarm arms id for the time left until fireAt.
func (s *Service) registerAlarm(ctx context.Context, id string, fireAt time.Time) error {
	left := fireAt.Sub(s.now())
	if left <= 0 {
		logger.DebugKV(ctx, "Registration skipped, timer already due", "timer_id", id)
		return nil
	}

	return s.guard.Register(ctx, id, domain.CeilSecond(left))
}

// resumeAlarm resumes the registration of id, or registers it again when
// the authority no longer holds it. The authority is asked first: the guard's
// known set may come from a snapshot older than the registration.
func (s *Service) resumeAlarm(ctx context.Context, id string, fireAt time.Time) error {
	err := s.guard.Resume(ctx, id)
	if err == nil {
		return nil
	}

	if errors.Is(err, authority.ErrUnknownAlarm) {
		logger.InfoKV(ctx, "Alarm lost while paused, registering again", "timer_id", id)

		return s.registerAlarm(ctx, id, fireAt)
	}

	return err
}

// enqueueUnregister revokes the alarm of a finished, deleted or orphaned id.
// No later command follows, so the id's settle time is dropped afterwards.
func (s *Service) enqueueUnregister(ctx context.Context, id string) {
	s.queue.Enqueue(ctx, id, "unregister", func(ctx context.Context) error {
		return s.guard.Unregister(ctx, id)
	})

	s.queue.Forget(id)
}

// commit stores the given records in memory, persists them together with any
// previously failed ones and notifies subscribers.
func (s *Service) commit(ctx context.Context, event string, timers ...*domain.Timer) {
	if len(timers) == 0 {
		return
	}

	s.mu.Lock()
	for _, t := range timers {
		s.timers[t.ID] = t.Clone()
	}
	s.mu.Unlock()

	s.persist(ctx, timers)

	for _, t := range timers {
		metrics.IncTransition(event)
		s.publish(Change{Timer: t.Clone()})
	}
}

// persist saves timers plus every dirty record in one commit. A failure is
// logged and remembered; the in-memory state stands.
func (s *Service) persist(ctx context.Context, timers []*domain.Timer) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.retryDeletesLocked(ctx)

	batch := make([]*domain.Timer, 0, len(timers)+len(s.dirty))
	included := make(map[string]struct{}, cap(batch))

	for _, t := range timers {
		batch = append(batch, t)
		included[t.ID] = struct{}{}
	}

	if len(s.dirty) > 0 {
		s.mu.RLock()

		for id := range s.dirty {
			if _, ok := included[id]; ok {
				continue
			}

			if t, ok := s.timers[id]; ok {
				batch = append(batch, t.Clone())
				included[id] = struct{}{}
			}
		}

		s.mu.RUnlock()
	}

	if err := s.repo.Save(ctx, batch...); err != nil {
		for id := range included {
			s.dirty[id] = struct{}{}
		}

		metrics.IncPersistenceFailure()
		logger.ErrorKV(ctx, "Failed to persist timers", "count", len(batch), "error",
			fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err))

		return
	}

	for id := range included {
		delete(s.dirty, id)
	}
}

// remove deletes id from the store; a failure is retried on the next commit.
func (s *Service) remove(ctx context.Context, id string) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	delete(s.dirty, id)

	if err := s.repo.Delete(ctx, id); err != nil {
		s.deleted[id] = struct{}{}

		metrics.IncPersistenceFailure()
		logger.ErrorKV(ctx, "Failed to delete timer", "timer_id", id, "error",
			fmt.Errorf("%w: %w", domain.ErrPersistenceFailed, err))

		return
	}

	delete(s.deleted, id)
}

func (s *Service) retryDeletesLocked(ctx context.Context) {
	for id := range s.deleted {
		if err := s.repo.Delete(ctx, id); err != nil {
			logger.WarnKV(ctx, "Retrying timer deletion failed", "timer_id", id, "error", err)
			continue
		}

		delete(s.deleted, id)
	}
}

// publish delivers change to every subscriber without blocking.
func (s *Service) publish(change Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}
