// Package guard implements the alarm registration guard.
//
// The guard sits between the orchestrator and the authority. It remembers which
// ids it believes are armed so that a repeated registration never reaches the
// authority twice, and it replaces that knowledge wholesale with every
// snapshot the authority emits. Each applied snapshot is republished as a
// Reconciliation for the orchestrator.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/countdown/internal/authority"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/logger"
	"github.com/oshokin/countdown/internal/metrics"
)

// authorization is the outcome of the authorization request.
type authorization int

const (
	authorizationUnknown authorization = iota
	authorizationGranted
	authorizationDenied
)

// Reconciliation announces a new authoritative set of armed ids.
type Reconciliation struct {
	// Snapshot is the authority snapshot that replaced the known set.
	Snapshot authority.Snapshot
}

// Guard prevents duplicate registrations and tracks the armed ids.
type Guard struct {
	// authority is the external alarm subsystem.
	authority authority.Authority
	// events carries reconciliations to the orchestrator; only the latest is kept.
	events chan Reconciliation

	// mu protects known and auth.
	mu    sync.RWMutex
	known map[string]struct{}
	auth  authorization
}

// New creates a guard in front of the given authority.
func New(a authority.Authority) *Guard {
	return &Guard{
		authority: a,
		events:    make(chan Reconciliation, 1),
		known:     make(map[string]struct{}),
	}
}

// Events returns the reconciliation stream.
func (g *Guard) Events() <-chan Reconciliation {
	return g.events
}

// Authorize asks the authority for permission once. A denial is logged once,
// remembered, and makes every later Register fail fast.
func (g *Guard) Authorize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.auth {
	case authorizationGranted:
		return nil
	case authorizationDenied:
		return domain.ErrAuthorizationDenied
	case authorizationUnknown:
	}

	if err := g.authority.RequestAuthorization(ctx); err != nil {
		g.auth = authorizationDenied

		logger.WarnKV(ctx, "Alarm authorization denied, countdowns stay local only", "error", err)

		if errors.Is(err, domain.ErrAuthorizationDenied) {
			return err
		}

		return fmt.Errorf("%w: %w", domain.ErrAuthorizationDenied, err)
	}

	g.auth = authorizationGranted

	return nil
}

// Authorized reports whether scheduling was permitted.
func (g *Guard) Authorized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.auth == authorizationGranted
}

// Denied reports whether the authority refused authorization.
// While denied, the authority tracks nothing and its snapshots carry no
// information about local timers.
func (g *Guard) Denied() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.auth == authorizationDenied
}

// IsRegistered reports whether id is believed to be armed.
func (g *Guard) IsRegistered(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.known[id]

	return ok
}

// Known returns the ids believed to be armed.
func (g *Guard) Known() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.known))
	for id := range g.known {
		ids = append(ids, id)
	}

	return ids
}

// Register arms id unless it is already known to be armed.
func (g *Guard) Register(ctx context.Context, id string, d time.Duration) error {
	if err := g.Authorize(ctx); err != nil {
		return err
	}

	if g.IsRegistered(id) {
		logger.DebugKV(ctx, "Alarm already registered, skipping schedule", "timer_id", id)
		return nil
	}

	err := g.call(ctx, "schedule", func() error {
		return g.authority.Schedule(ctx, id, d)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}

	g.mu.Lock()
	g.known[id] = struct{}{}
	metrics.SetKnownArmed(len(g.known))
	g.mu.Unlock()

	return nil
}

// Unregister disarms id. The id is forgotten even if the call fails:
// the next snapshot corrects any discrepancy.
func (g *Guard) Unregister(ctx context.Context, id string) error {
	err := g.call(ctx, "cancel", func() error {
		return g.authority.Cancel(ctx, id)
	})

	g.forget(id)

	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}

	return nil
}

// Pause freezes the registration of id.
func (g *Guard) Pause(ctx context.Context, id string) error {
	err := g.call(ctx, "pause", func() error {
		return g.authority.Pause(ctx, id)
	})
	if err != nil {
		if errors.Is(err, authority.ErrUnknownAlarm) {
			g.forget(id)
		}

		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}

	return nil
}

// Resume continues the registration of id. When the authority no longer
// knows id, the id is forgotten and the returned error wraps
// authority.ErrUnknownAlarm so the caller can register it again.
func (g *Guard) Resume(ctx context.Context, id string) error {
	err := g.call(ctx, "resume", func() error {
		return g.authority.Resume(ctx, id)
	})
	if err != nil {
		if errors.Is(err, authority.ErrUnknownAlarm) {
			g.forget(id)
		}

		return fmt.Errorf("%w: %w", domain.ErrRegistrationFailed, err)
	}

	g.mu.Lock()
	g.known[id] = struct{}{}
	metrics.SetKnownArmed(len(g.known))
	g.mu.Unlock()

	return nil
}

// Sync pulls a snapshot on demand and applies it like a streamed one.
func (g *Guard) Sync(ctx context.Context) error {
	snapshot, err := g.authority.ArmedIDs(ctx)
	if err != nil {
		return fmt.Errorf("read armed alarms: %w", err)
	}

	g.Apply(snapshot)

	return nil
}

// Run consumes the authority's snapshot stream until ctx is done.
func (g *Guard) Run(ctx context.Context) {
	snapshots := g.authority.Snapshots(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}

			logger.DebugKV(ctx, "Authority snapshot received", "armed", len(snapshot.Armed))
			g.Apply(snapshot)
		}
	}
}

// Apply replaces the known set with snapshot and publishes a reconciliation.
func (g *Guard) Apply(snapshot authority.Snapshot) {
	known := make(map[string]struct{}, len(snapshot.Armed))
	for id := range snapshot.Armed {
		known[id] = struct{}{}
	}

	g.mu.Lock()
	g.known = known
	metrics.SetKnownArmed(len(known))
	g.mu.Unlock()

	g.publish(Reconciliation{Snapshot: snapshot})
}

// publish delivers event, replacing an unconsumed older one.
func (g *Guard) publish(event Reconciliation) {
	for {
		select {
		case g.events <- event:
			return
		default:
		}

		select {
		case <-g.events:
		default:
		}
	}
}

func (g *Guard) forget(id string) {
	g.mu.Lock()
	delete(g.known, id)
	metrics.SetKnownArmed(len(g.known))
	g.mu.Unlock()
}

// call runs an authority command and records its outcome.
func (g *Guard) call(ctx context.Context, operation string, fn func() error) error {
	started := time.Now()
	err := fn()

	metrics.ObserveAuthorityCommand(operation, err, time.Since(started))

	if err != nil {
		logger.WarnKV(ctx, "Authority command failed", "operation", operation, "error", err)
	}

	return err
}
