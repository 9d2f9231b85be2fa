package timers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oshokin/countdown/internal/authority"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/metrics"
)

// Reconciliation sources used in logs and metrics.
const (
	sourceRestore  = "restore"
	sourceSnapshot = "snapshot"
	sourceSweep    = "sweep"
)

// Restore brings running timers up to date after a launch or a return to
// the foreground: it loads the store once, pulls the armed set from the
// authority without registering anything and then completes every running
// timer whose fire date has passed. Survivors only get Remaining refreshed.
func (s *Service) Restore(ctx context.Context) error {
	ctx = logger.WithName(ctx, sourceRestore)

	if err := s.Load(ctx); err != nil {
		return err
	}

	if err := s.guard.Sync(ctx); err != nil {
		logger.WarnKV(ctx, "Armed alarms unavailable, restoring from local records only", "error", err)
	}

	s.pass(ctx, sourceRestore, func(t *domain.Timer) string {
		now := s.now()

		if t.Left(now) <= 0 {
			t.Complete(now)
			return "expire"
		}

		if t.Refresh(now) {
			return "refresh"
		}

		return ""
	})

	return nil
}

// Reconcile aligns running timers with a complete authority snapshot.
// A running timer missing from the snapshot lost its alarm: it completes when
// it is due and is paused otherwise. A running timer that is still armed only
// gets Remaining refreshed. Timers with alarm commands in flight are left to
// the snapshot that follows those commands.
func (s *Service) Reconcile(ctx context.Context, snapshot authority.Snapshot) {
	ctx = logger.WithName(ctx, sourceSnapshot)

	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()

	if !loaded {
		logger.DebugKV(ctx, "Snapshot ignored before restoration", "armed", len(snapshot.Armed))
		return
	}

	// Without authorization nothing is armed and the snapshot says nothing
	// about local countdowns.
	trustAbsence := !s.guard.Denied()

	s.pass(ctx, sourceSnapshot, func(t *domain.Timer) string {
		if s.inFlight(t.ID, snapshot) {
			return ""
		}

		now := s.now()

		switch {
		case t.Left(now) <= 0:
			t.Complete(now)
			return "expire"
		case !snapshot.Contains(t.ID) && trustAbsence:
			t.Pause(now)
			return "drop"
		case t.Refresh(now):
			return "refresh"
		default:
			return ""
		}
	})

	s.cancelOrphans(ctx, snapshot)
}

// Sweep completes running timers whose fire date has passed.
func (s *Service) Sweep(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()

	if !loaded {
		return
	}

	s.pass(ctx, sourceSweep, func(t *domain.Timer) string {
		now := s.now()

		if t.Left(now) <= 0 {
			t.Complete(now)
			return "expire"
		}

		return ""
	})
}

// Run consumes reconciliations, remote requests and the expiry ticker until
// ctx is done. It also drives the guard's snapshot stream.
func (s *Service) Run(ctx context.Context, requests <-chan domain.Request) {
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		s.guard.Run(ctx)
	}()

	defer wg.Wait()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.guard.Events():
			s.Reconcile(ctx, event.Snapshot)
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}

			s.HandleRequest(ctx, req)
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// pass applies update to every running timer under its lock and commits all
// changed records in one batch. update mutates the record and returns the
// event name, or "" when nothing changed.
func (s *Service) pass(ctx context.Context, source string, update func(t *domain.Timer) string) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	metrics.IncReconciliation(source)

	ids := s.runningIDs()

	unlock := s.locks.LockAll(ids)
	defer unlock()

	var (
		changed = make([]*domain.Timer, 0)
		events  = make(map[string]int)
	)

	for _, id := range ids {
		t, err := s.Get(id)
		if err != nil || t.State != domain.StateRunning {
			continue
		}

		event := update(t)
		if event == "" {
			continue
		}

		logger.InfoKV(ctx, "Timer reconciled", "timer_id", id, "event", event, "state", t.State, "remaining", t.Remaining)

		if t.State.Terminal() {
			s.queue.Forget(id)
		}

		changed = append(changed, t)
		events[event]++
	}

	if len(changed) == 0 {
		return
	}

	s.commitBatch(ctx, changed, events)
}

// commitBatch persists reconciled records in one commit.
func (s *Service) commitBatch(ctx context.Context, timers []*domain.Timer, events map[string]int) {
	s.mu.Lock()
	for _, t := range timers {
		s.timers[t.ID] = t.Clone()
	}
	s.mu.Unlock()

	s.persist(ctx, timers)

	for event, n := range events {
		for range n {
			metrics.IncTransition(event)
		}
	}

	for _, t := range timers {
		s.publish(Change{Timer: t.Clone()})
	}
}

// inFlight reports whether the snapshot may predate an alarm command for id.
func (s *Service) inFlight(id string, snapshot authority.Snapshot) bool {
	if s.queue.Pending(id) {
		return true
	}

	settled, ok := s.queue.SettledAt(id)

	return ok && !snapshot.At.After(settled)
}

// cancelOrphans revokes armed alarms that no live timer owns,
// e.g. after an unregister call failed.
func (s *Service) cancelOrphans(ctx context.Context, snapshot authority.Snapshot) {
	for _, id := range snapshot.IDs() {
		s.cancelOrphan(ctx, id)
	}
}

func (s *Service) cancelOrphan(ctx context.Context, id string) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if s.queue.Pending(id) {
		return
	}

	t, err := s.Get(id)
	if err == nil && t.State.Armed() {
		return
	}

	logger.InfoKV(ctx, "Revoking orphaned alarm", "timer_id", id)
	s.enqueueUnregister(ctx, id)
}

// runningIDs returns the ids of running timers.
func (s *Service) runningIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)

	for id, t := range s.timers {
		if t.State == domain.StateRunning {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}

// sortByCreation orders records by creation time, then id.
func sortByCreation(timers []*domain.Timer) {
	sort.Slice(timers, func(i, j int) bool {
		if !timers[i].CreatedAt.Equal(timers[j].CreatedAt) {
			return timers[i].CreatedAt.Before(timers[j].CreatedAt)
		}

		return timers[i].ID < timers[j].ID
	})
}
