// Package memory implements an in-process alarm authority.
//
// Registrations count down with time.AfterFunc and disappear from the next
// snapshot when they fire. It backs the "memory" authority driver and gives
// tests a controllable authority that can deny authorization, fail single
// commands or drop alarms behind the application's back.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/countdown/internal/authority"
	domain "github.com/oshokin/countdown/internal/domain/timer"
)

// Operation names an authority command for failure injection.
type Operation string

const (
	// OpSchedule is the Schedule command.
	OpSchedule Operation = "schedule"
	// OpCancel is the Cancel command.
	OpCancel Operation = "cancel"
	// OpPause is the Pause command.
	OpPause Operation = "pause"
	// OpResume is the Resume command.
	OpResume Operation = "resume"
)

// subscriberBuffer is the channel capacity of a snapshot subscription.
const subscriberBuffer = 8

// registration is a single armed alarm.
type registration struct {
	// deadline is when a running registration fires.
	deadline time.Time
	// remaining is the frozen time left of a paused registration.
	remaining time.Duration
	// paused is true while the countdown is frozen.
	paused bool
	// timer fires the registration; nil while paused.
	timer *time.Timer
	// generation invalidates expiry callbacks of earlier countdown runs.
	generation uint64
}

// Option configures the authority.
type Option func(*Authority)

// WithDeniedAuthorization makes RequestAuthorization fail.
func WithDeniedAuthorization() Option {
	return func(a *Authority) {
		a.denied = true
	}
}

// WithOnFire registers a callback invoked with the id of every fired alarm.
func WithOnFire(fn func(id string)) Option {
	return func(a *Authority) {
		a.onFire = fn
	}
}

// Authority is an in-memory authority.authority.Authority.
type Authority struct {
	mu            sync.Mutex
	registrations map[string]*registration
	subscribers   map[chan authority.Snapshot]struct{}
	failures      map[Operation]error
	denied        bool
	onFire        func(id string)
	scheduleCalls int
}

// New creates an empty authority.
func New(opts ...Option) *Authority {
	a := &Authority{
		registrations: make(map[string]*registration),
		subscribers:   make(map[chan authority.Snapshot]struct{}),
		failures:      make(map[Operation]error),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// FailNext makes the next call of op return err.
func (a *Authority) FailNext(op Operation, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failures[op] = err
}

// Drop removes the registration of id as if the operating system disarmed it.
func (a *Authority) Drop(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.removeLocked(id) {
		a.publishLocked()
	}
}

// ScheduleCalls returns how many Schedule calls reached the authority,
// including idempotent ones.
func (a *Authority) ScheduleCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.scheduleCalls
}

// Remaining returns the time left of a registration and whether it exists.
func (a *Authority) Remaining(id string) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reg, ok := a.registrations[id]
	if !ok {
		return 0, false
	}

	if reg.paused {
		return reg.remaining, true
	}

	return time.Until(reg.deadline), true
}

// Paused reports whether id is registered and frozen.
func (a *Authority) Paused(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	reg, ok := a.registrations[id]

	return ok && reg.paused
}

// RequestAuthorization succeeds unless the authority was built to deny it.
func (a *Authority) RequestAuthorization(context.Context) error {
	if a.denied {
		return fmt.Errorf("memory authority: %w", domain.ErrAuthorizationDenied)
	}

	return nil
}

// Schedule arms id for d. An existing registration is left untouched.
func (a *Authority) Schedule(_ context.Context, id string, d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.scheduleCalls++

	if err := a.takeFailureLocked(OpSchedule); err != nil {
		return err
	}

	if _, ok := a.registrations[id]; ok {
		return nil
	}

	reg := &registration{
		deadline: time.Now().Add(d),
	}
	reg.timer = a.fireAfterLocked(id, reg, d)
	a.registrations[id] = reg
	a.publishLocked()

	return nil
}

// Cancel disarms id.
func (a *Authority) Cancel(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFailureLocked(OpCancel); err != nil {
		return err
	}

	if a.removeLocked(id) {
		a.publishLocked()
	}

	return nil
}

// Pause freezes id.
func (a *Authority) Pause(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFailureLocked(OpPause); err != nil {
		return err
	}

	reg, ok := a.registrations[id]
	if !ok {
		return fmt.Errorf("pause %s: %w", id, authority.ErrUnknownAlarm)
	}

	if reg.paused {
		return nil
	}

	reg.timer.Stop()
	reg.timer = nil
	reg.remaining = max(time.Until(reg.deadline), 0)
	reg.paused = true

	return nil
}

// Resume continues a paused id.
func (a *Authority) Resume(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFailureLocked(OpResume); err != nil {
		return err
	}

	reg, ok := a.registrations[id]
	if !ok {
		return fmt.Errorf("resume %s: %w", id, authority.ErrUnknownAlarm)
	}

	if !reg.paused {
		return nil
	}

	reg.deadline = time.Now().Add(reg.remaining)
	reg.paused = false
	reg.generation++
	reg.timer = a.fireAfterLocked(id, reg, reg.remaining)

	return nil
}

// ArmedIDs returns the current snapshot.
func (a *Authority) ArmedIDs(context.Context) (authority.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.snapshotLocked(), nil
}

// Snapshots subscribes to snapshot changes. The current snapshot is delivered first.
func (a *Authority) Snapshots(ctx context.Context) <-chan authority.Snapshot {
	ch := make(chan authority.Snapshot, subscriberBuffer)

	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	ch <- a.snapshotLocked()
	a.mu.Unlock()

	go func() {
		<-ctx.Done()

		a.mu.Lock()
		delete(a.subscribers, ch)
		close(ch)
		a.mu.Unlock()
	}()

	return ch
}

// fireAfterLocked arms the expiry of reg.
func (a *Authority) fireAfterLocked(id string, reg *registration, d time.Duration) *time.Timer {
	generation := reg.generation

	return time.AfterFunc(d, func() {
		a.mu.Lock()

		current, ok := a.registrations[id]
		if !ok || current != reg || reg.paused || reg.generation != generation {
			a.mu.Unlock()
			return
		}

		delete(a.registrations, id)
		a.publishLocked()
		onFire := a.onFire
		a.mu.Unlock()

		if onFire != nil {
			onFire(id)
		}
	})
}

func (a *Authority) removeLocked(id string) bool {
	reg, ok := a.registrations[id]
	if !ok {
		return false
	}

	if reg.timer != nil {
		reg.timer.Stop()
	}

	delete(a.registrations, id)

	return true
}

func (a *Authority) takeFailureLocked(op Operation) error {
	err, ok := a.failures[op]
	if !ok {
		return nil
	}

	delete(a.failures, op)

	return err
}

func (a *Authority) snapshotLocked() authority.Snapshot {
	ids := make([]string, 0, len(a.registrations))
	for id := range a.registrations {
		ids = append(ids, id)
	}

	return authority.NewSnapshot(time.Now(), ids...)
}

// publishLocked hands the current snapshot to every subscriber.
// A full subscriber loses its oldest pending snapshot: only the latest matters.
func (a *Authority) publishLocked() {
	snapshot := a.snapshotLocked()

	for ch := range a.subscribers {
		select {
		case ch <- snapshot:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}

		select {
		case ch <- snapshot:
		default:
		}
	}
}
