package timer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/countdown/internal/config"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/domain/timer/codec"
)

// FileRepository keeps all records in one JSON document on disk.
// JSON is produced and consumed via protobuf JSON (protojson) so the file
// holds exactly what the gRPC API returns for ListTimers.
type FileRepository struct {
	// path is the filesystem location of the JSON document.
	path string
	// mu serializes read-modify-write cycles of the document.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Close is a no-op; the file is not held open between calls.
func (r *FileRepository) Close() error {
	return nil
}

// Get loads one record.
func (r *FileRepository) Get(_ context.Context, id string) (*domain.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timers, err := r.load()
	if err != nil {
		return nil, err
	}

	for _, t := range timers {
		if t.ID == id {
			return t, nil
		}
	}

	return nil, fmt.Errorf("get timer %s: %w", id, ErrNotFound)
}

// List loads every record.
func (r *FileRepository) List(_ context.Context) ([]*domain.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timers, err := r.load()
	if err != nil {
		return nil, err
	}

	sortByCreation(timers)

	return timers, nil
}

// Save merges the records into the document and rewrites it.
func (r *FileRepository) Save(_ context.Context, timers ...*domain.Timer) error {
	if len(timers) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.load()
	if err != nil {
		return err
	}

	index := make(map[string]int, len(stored))
	for i, t := range stored {
		index[t.ID] = i
	}

	for _, t := range timers {
		if i, ok := index[t.ID]; ok {
			stored[i] = t.Clone()
			continue
		}

		index[t.ID] = len(stored)
		stored = append(stored, t.Clone())
	}

	return r.store(stored)
}

// Delete removes a record if present.
func (r *FileRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.load()
	if err != nil {
		return err
	}

	kept := stored[:0]

	for _, t := range stored {
		if t.ID != id {
			kept = append(kept, t)
		}
	}

	if len(kept) == len(stored) {
		return nil
	}

	return r.store(kept)
}

// load reads the document; a missing file is an empty store.
func (r *FileRepository) load() ([]*domain.Timer, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make([]*domain.Timer, 0), nil
		}

		return nil, fmt.Errorf("read timers file: %w", err)
	}

	var list structpb.ListValue
	if err = protojson.Unmarshal(contents, &list); err != nil {
		return nil, fmt.Errorf("decode timers file: %w", err)
	}

	timers, err := codec.FromListValue(&list)
	if err != nil {
		return nil, fmt.Errorf("decode timers file: %w", err)
	}

	return timers, nil
}

// store writes the document through a temporary file and a rename,
// so a crash never leaves a truncated document behind.
func (r *FileRepository) store(timers []*domain.Timer) error {
	list, err := codec.ToListValue(timers)
	if err != nil {
		return err
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
	}

	data, err := marshalOptions.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode timers: %w", err)
	}

	tmp := r.path + ".tmp"

	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write timers file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace timers file: %w", err)
	}

	return nil
}
