package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
)

const (
	bucketName  = "timers"
	openTimeout = time.Second
)

// BoltRepository stores one JSON value per timer in a BoltDB bucket.
// Every call is a single bolt transaction.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (or creates) the database file and its bucket.
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bolt.Open(filepath.Clean(path), config.DefaultFilePermissions, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

// Close releases the database file lock.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

// Get loads one record.
func (r *BoltRepository) Get(_ context.Context, id string) (*domain.Timer, error) {
	var t domain.Timer

	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}

		return json.Unmarshal(v, &t)
	})
	if err != nil {
		return nil, fmt.Errorf("get timer %s: %w", id, err)
	}

	return &t, nil
}

// List loads every record.
func (r *BoltRepository) List(_ context.Context) ([]*domain.Timer, error) {
	timers := make([]*domain.Timer, 0)

	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var t domain.Timer
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("decode timer %s: %w", k, err)
			}

			timers = append(timers, &t)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}

	sortByCreation(timers)

	return timers, nil
}

// Save writes all records in one transaction; either all land or none.
func (r *BoltRepository) Save(_ context.Context, timers ...*domain.Timer) error {
	if len(timers) == 0 {
		return nil
	}

	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		for _, t := range timers {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode timer %s: %w", t.ID, err)
			}

			if err = b.Put([]byte(t.ID), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("save timers: %w", err)
	}

	return nil
}

// Delete removes a record; bolt treats a missing key as a no-op.
func (r *BoltRepository) Delete(_ context.Context, id string) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete timer %s: %w", id, err)
	}

	return nil
}
