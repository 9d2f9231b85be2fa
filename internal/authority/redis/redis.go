// Package redis implements the alarm authority on top of Redis.
//
// An armed alarm is a key with a millisecond TTL: Redis keeps counting down
// whether or not this process is alive and the key vanishes when the alarm
// fires. A paused alarm is a key without TTL that holds the frozen remaining
// time. State changes run as Lua scripts so that each command is atomic.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/oshokin/countdown/internal/authority"
	domain "github.com/oshokin/countdown/internal/domain/timer"
	"github.com/oshokin/countdown/internal/logger"
)

const (
	// DefaultKeyPrefix namespaces all keys written by the authority.
	DefaultKeyPrefix = "countdown:"
	// DefaultPollInterval is how often Snapshots re-reads the key space.
	DefaultPollInterval = time.Second

	armedSegment  = "armed:"
	pausedSegment = "paused:"
	scanBatch     = 256
)

// scheduleScript arms KEYS[1] unless the id is already armed or paused.
//
//nolint:gochecknoglobals // Scripts are immutable and shared by all instances.
var scheduleScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[1])
return 1
`)

// pauseScript moves the remaining TTL of KEYS[1] into KEYS[2].
//
//nolint:gochecknoglobals // Scripts are immutable and shared by all instances.
var pauseScript = goredis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
if ttl == -2 then
	if redis.call('EXISTS', KEYS[2]) == 1 then
		return 0
	end
	return -1
end
if ttl < 0 then
	ttl = 0
end
redis.call('SET', KEYS[2], ttl)
redis.call('DEL', KEYS[1])
return 1
`)

// resumeScript re-arms KEYS[1] with the remaining time frozen in KEYS[2].
//
//nolint:gochecknoglobals // Scripts are immutable and shared by all instances.
var resumeScript = goredis.NewScript(`
local left = redis.call('GET', KEYS[2])
if not left then
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	return -1
end
left = tonumber(left)
if left < 1 then
	left = 1
end
redis.call('SET', KEYS[1], left, 'PX', left)
redis.call('DEL', KEYS[2])
return 1
`)

// Options configures the Redis authority.
type Options struct {
	// KeyPrefix namespaces the keys.
	KeyPrefix string
	// PollInterval is the period between snapshot reads.
	PollInterval time.Duration
	// Now reads the clock that stamps snapshots. Defaults to time.Now.
	Now func() time.Time
}

// Authority is a Redis-backed authority.Authority.
type Authority struct {
	// client is the Redis connection.
	client *goredis.Client
	// prefix namespaces all keys.
	prefix string
	// pollInterval is how often Snapshots re-reads the key space.
	pollInterval time.Duration
	// now stamps snapshots.
	now func() time.Time
}

// NewClient creates a Redis client for the given address.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// New wraps a Redis client.
func New(client *goredis.Client, opts Options) *Authority {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Authority{
		client:       client,
		prefix:       opts.KeyPrefix,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
	}
}

// Close releases the Redis connection.
func (a *Authority) Close() error {
	return a.client.Close()
}

// RequestAuthorization succeeds when Redis answers PING.
func (a *Authority) RequestAuthorization(ctx context.Context) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping redis: %w", domain.ErrAuthorizationDenied, err)
	}

	return nil
}

// Schedule arms id for d.
func (a *Authority) Schedule(ctx context.Context, id string, d time.Duration) error {
	millis := max(d.Milliseconds(), 1)

	err := scheduleScript.Run(ctx, a.client, []string{a.armedKey(id), a.pausedKey(id)}, millis).Err()
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}

	return nil
}

// Cancel disarms id whether it is running or paused.
func (a *Authority) Cancel(ctx context.Context, id string) error {
	if err := a.client.Del(ctx, a.armedKey(id), a.pausedKey(id)).Err(); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}

	return nil
}

// Pause freezes id.
func (a *Authority) Pause(ctx context.Context, id string) error {
	return a.runTransition(ctx, pauseScript, "pause", id)
}

// Resume continues a paused id.
func (a *Authority) Resume(ctx context.Context, id string) error {
	return a.runTransition(ctx, resumeScript, "resume", id)
}

// ArmedIDs scans the armed and paused keys. The snapshot is stamped with the
// time the scan began: a command settled during the scan may be missing from it.
func (a *Authority) ArmedIDs(ctx context.Context) (authority.Snapshot, error) {
	at := a.now()

	armed, err := a.scanIDs(ctx, a.prefix+armedSegment)
	if err != nil {
		return authority.Snapshot{}, err
	}

	paused, err := a.scanIDs(ctx, a.prefix+pausedSegment)
	if err != nil {
		return authority.Snapshot{}, err
	}

	return authority.NewSnapshot(at, append(armed, paused...)...), nil
}

// Snapshots polls the key space and emits a snapshot on start and on every change.
func (a *Authority) Snapshots(ctx context.Context) <-chan authority.Snapshot {
	ch := make(chan authority.Snapshot, 1)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(a.pollInterval)
		defer ticker.Stop()

		var (
			last    authority.Snapshot
			emitted bool
		)

		for {
			snapshot, err := a.ArmedIDs(ctx)

			switch {
			case err != nil:
				if ctx.Err() == nil {
					logger.WarnKV(ctx, "Redis snapshot failed", "error", err)
				}
			case !emitted || !snapshot.Equal(last):
				select {
				case ch <- snapshot:
					last, emitted = snapshot, true
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch
}

// runTransition executes a pause or resume script and maps its result.
func (a *Authority) runTransition(ctx context.Context, script *goredis.Script, op, id string) error {
	result, err := script.Run(ctx, a.client, []string{a.armedKey(id), a.pausedKey(id)}).Int()
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}

	if result < 0 {
		return fmt.Errorf("%s %s: %w", op, id, authority.ErrUnknownAlarm)
	}

	return nil
}

// scanIDs returns the ids of all keys under prefix.
func (a *Authority) scanIDs(ctx context.Context, prefix string) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)

	for {
		keys, next, err := a.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return ids, nil
			}

			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}

		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}

		if next == 0 {
			return ids, nil
		}

		cursor = next
	}
}

func (a *Authority) armedKey(id string) string {
	return a.prefix + armedSegment + id
}

func (a *Authority) pausedKey(id string) string {
	return a.prefix + pausedSegment + id
}
