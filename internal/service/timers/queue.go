package timers

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/countdown/internal/logger"
)

// command is one authority call for a timer.
type command struct {
	// name is the operation label used in logs.
	name string
	// run performs the call.
	run func(ctx context.Context) error
	// ctx carries the logger of the request that issued the command.
	ctx context.Context //nolint:containedctx // Detached request context replayed on the queue.
}

// commandQueue runs commands for each id in FIFO order, one at a time.
type commandQueue struct {
	now func() time.Time

	mu      sync.Mutex
	idle    *sync.Cond
	pending map[string][]command
	settled map[string]time.Time
	// forgotten holds ids whose settle time is dropped once their queue drains.
	forgotten map[string]struct{}
	active    int
}

func newCommandQueue(now func() time.Time) *commandQueue {
	q := &commandQueue{
		now:     now,
		pending:   make(map[string][]command),
		settled:   make(map[string]time.Time),
		forgotten: make(map[string]struct{}),
	}

	q.idle = sync.NewCond(&q.mu)

	return q
}

// Enqueue appends a command for id and starts a drainer if none is running.
func (q *commandQueue) Enqueue(ctx context.Context, id, name string, run func(ctx context.Context) error) {
	cmd := command{
		name: name,
		run:  run,
		ctx:  context.WithoutCancel(ctx),
	}

	q.mu.Lock()

	q.pending[id] = append(q.pending[id], cmd)

	start := len(q.pending[id]) == 1
	if start {
		q.active++
	}

	q.mu.Unlock()

	if start {
		go q.drain(id)
	}
}

// Pending reports whether id has a queued or executing command.
func (q *commandQueue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending[id]) > 0
}

// SettledAt returns when the last command for id finished.
func (q *commandQueue) SettledAt(id string) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	at, ok := q.settled[id]

	return at, ok
}

// Forget drops the bookkeeping of a finished or deleted id, right away when
// it has no commands left, otherwise after the last one.
func (q *commandQueue) Forget(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending[id]) == 0 {
		delete(q.settled, id)
		return
	}

	q.forgotten[id] = struct{}{}
}

// Tracked returns the number of ids with settle bookkeeping.
func (q *commandQueue) Tracked() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.settled)
}

// Wait blocks until no command is queued or executing.
func (q *commandQueue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.active > 0 {
		q.idle.Wait()
	}
}

func (q *commandQueue) drain(id string) {
	for {
		q.mu.Lock()
		cmd := q.pending[id][0]
		q.mu.Unlock()

		if err := cmd.run(cmd.ctx); err != nil {
			logger.WarnKV(cmd.ctx, "Alarm command failed", "timer_id", id, "command", cmd.name, "error", err)
		} else {
			logger.DebugKV(cmd.ctx, "Alarm command done", "timer_id", id, "command", cmd.name)
		}

		q.mu.Lock()

		q.pending[id] = q.pending[id][1:]
		q.settled[id] = q.now()

		if len(q.pending[id]) == 0 {
			delete(q.pending, id)

			if _, ok := q.forgotten[id]; ok {
				delete(q.forgotten, id)
				delete(q.settled, id)
			}

			q.active--
			if q.active == 0 {
				q.idle.Broadcast()
			}

			q.mu.Unlock()

			return
		}

		q.mu.Unlock()
	}
}
