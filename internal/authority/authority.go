// Package authority defines the contract of the external alarm subsystem.
//
// The authority is the durable owner of "will this alarm fire": it keeps
// registrations independently of this process, fires them on its own and
// reports the complete set of armed ids as snapshots. Implementations live in
// the memory and redis subpackages.
package authority

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrUnknownAlarm is returned by Pause and Resume when the authority holds no
// registration for the id.
var ErrUnknownAlarm = errors.New("alarm is not registered")

// Authority wraps the external alarm subsystem.
// Identifiers are the timer ids.
type Authority interface {
	// RequestAuthorization must succeed before any Schedule call.
	RequestAuthorization(ctx context.Context) error
	// Schedule arms a countdown of d for id. Scheduling an armed id is a no-op.
	Schedule(ctx context.Context, id string, d time.Duration) error
	// Cancel disarms id. Cancelling an unknown id is not an error.
	Cancel(ctx context.Context, id string) error
	// Pause freezes the countdown of id while keeping it registered.
	Pause(ctx context.Context, id string) error
	// Resume continues a paused countdown of id.
	Resume(ctx context.Context, id string) error
	// ArmedIDs returns the current snapshot.
	ArmedIDs(ctx context.Context) (Snapshot, error)
	// Snapshots streams complete snapshots until ctx is done, then closes the channel.
	Snapshots(ctx context.Context) <-chan Snapshot
}

// Snapshot is the complete set of ids the authority currently holds,
// running or paused. Every snapshot replaces all prior knowledge.
type Snapshot struct {
	// Armed holds the registered ids.
	Armed map[string]struct{}
	// At is when the snapshot was taken.
	At time.Time
}

// NewSnapshot builds a snapshot from a list of ids.
func NewSnapshot(at time.Time, ids ...string) Snapshot {
	armed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		armed[id] = struct{}{}
	}

	return Snapshot{
		Armed: armed,
		At:    at,
	}
}

// Contains reports whether id is part of the snapshot.
func (s Snapshot) Contains(id string) bool {
	_, ok := s.Armed[id]

	return ok
}

// IDs returns the snapshot ids in sorted order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Armed))
	for id := range s.Armed {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Equal reports whether both snapshots hold the same ids.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Armed) != len(other.Armed) {
		return false
	}

	for id := range s.Armed {
		if !other.Contains(id) {
			return false
		}
	}

	return true
}
