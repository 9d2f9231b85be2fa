package timer

import (
	"context"
	"fmt"
	"sort"

	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = domain.ErrNotFound

// Repository defines persistence operations for timer records.
type Repository interface {
	// Get loads one record.
	Get(ctx context.Context, id string) (*domain.Timer, error)
	// List loads every record ordered by creation time.
	List(ctx context.Context) ([]*domain.Timer, error)
	// Save inserts or updates the given records in a single commit.
	Save(ctx context.Context, timers ...*domain.Timer) error
	// Delete removes a record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases the underlying resources.
	Close() error
}

// Open creates the store selected by the settings.
//
//nolint:ireturn // The driver is chosen at runtime.
func Open(ctx context.Context, settings config.StoreConfig) (Repository, error) {
	switch settings.Driver {
	case config.StoreDriverBolt:
		return NewBoltRepository(settings.Path)
	case config.StoreDriverFile:
		return NewFileRepository(settings.Path), nil
	case config.StoreDriverPostgres:
		return OpenPostgresRepository(ctx, settings.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", settings.Driver)
	}
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
