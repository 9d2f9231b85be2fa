package timer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"

	domain "github.com/oshokin/countdown/internal/domain/timer"
)

const (
	schemaQuery = `CREATE TABLE IF NOT EXISTS timers (
	id           TEXT PRIMARY KEY,
	created_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL,
	remaining_ms BIGINT NOT NULL,
	fire_at      TIMESTAMPTZ,
	state        TEXT NOT NULL,
	alarm_handle TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL
)`

	selectColumns = `SELECT id, created_at, duration_ms, remaining_ms, fire_at, state, alarm_handle, updated_at FROM timers`

	getQuery = selectColumns + ` WHERE id = $1`

	listQuery = selectColumns + ` ORDER BY created_at, id`

	upsertQuery = `INSERT INTO timers (id, created_at, duration_ms, remaining_ms, fire_at, state, alarm_handle, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	remaining_ms = EXCLUDED.remaining_ms,
	fire_at      = EXCLUDED.fire_at,
	state        = EXCLUDED.state,
	alarm_handle = EXCLUDED.alarm_handle,
	updated_at   = EXCLUDED.updated_at`

	deleteQuery = `DELETE FROM timers WHERE id = $1`
)

// PostgresRepository stores timers in the timers table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgresRepository connects to dsn, checks the connection and creates the table.
func OpenPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := NewPostgresRepository(db)

	if err = r.EnsureSchema(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	return r, nil
}

// EnsureSchema creates the timers table when it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaQuery); err != nil {
		return fmt.Errorf("create timers table: %w", err)
	}

	return nil
}

// Close closes the database handle.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Get loads one record.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Timer, error) {
	t, err := scanTimer(r.db.QueryRowContext(ctx, getQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get timer %s: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("get timer %s: %w", id, err)
	}

	return t, nil
}

// List loads every record ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Timer, error) {
	rows, err := r.db.QueryContext(ctx, listQuery)
	if err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}
	defer rows.Close()

	timers := make([]*domain.Timer, 0)

	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}

		timers = append(timers, t)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list timers: %w", err)
	}

	return timers, nil
}

// Save upserts all records in one transaction.
func (r *PostgresRepository) Save(ctx context.Context, timers ...*domain.Timer) error {
	if len(timers) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for _, t := range timers {
		var fireAt sql.NullTime
		if t.FireAt != nil {
			fireAt = sql.NullTime{Time: *t.FireAt, Valid: true}
		}

		_, err = tx.ExecContext(ctx, upsertQuery,
			t.ID,
			t.CreatedAt,
			t.Duration.Milliseconds(),
			t.Remaining.Milliseconds(),
			fireAt,
			string(t.State),
			t.AlarmHandle,
			t.UpdatedAt,
		)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("upsert timer %s: %w", t.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit timers: %w", err)
	}

	return nil
}

// Delete removes a record if present.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, deleteQuery, id); err != nil {
		return fmt.Errorf("delete timer %s: %w", id, err)
	}

	return nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(row rowScanner) (*domain.Timer, error) {
	var (
		t           domain.Timer
		durationMS  int64
		remainingMS int64
		fireAt      sql.NullTime
		state       string
	)

	err := row.Scan(&t.ID, &t.CreatedAt, &durationMS, &remainingMS, &fireAt, &state, &t.AlarmHandle, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Duration = time.Duration(durationMS) * time.Millisecond
	t.Remaining = time.Duration(remainingMS) * time.Millisecond
	t.State = domain.State(state)

	if fireAt.Valid {
		at := fireAt.Time
		t.FireAt = &at
	}

	return &t, nil
}
