package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voc/tsmon/stream"
)

var ErrQueueClosed = errors.New("queue closed")

// dropLogInterval limits how often overflow is logged
const dropLogInterval = time.Second

// Policy decides what a full queue does with new buffers
type Policy uint8

const (
	// PolicyBlock makes producers wait for free space
	PolicyBlock Policy = iota
	// PolicyDrop discards new buffers while the queue is full
	PolicyDrop
)

func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name as used in the config
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "block":
		return PolicyBlock, nil
	case "drop":
		return PolicyDrop, nil
	}
	return PolicyBlock, fmt.Errorf("invalid queue policy %q", s)
}

// Queue is the bounded hand-off between capture sources and the
// processing loop. Any number of producers may push, one consumer reads C().
type Queue struct {
	ch     chan *stream.Buffer
	policy Policy
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger

	drops    atomic.Uint64
	lastWarn atomic.Int64
	logged   atomic.Uint64
}

// NewQueue creates a queue holding up to capacity buffers
func NewQueue(capacity uint, policy Policy) *Queue {
	if capacity == 0 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan *stream.Buffer, capacity),
		policy: policy,
		done:   make(chan struct{}),
		log:    slog.With("component", "queue"),
	}
}

// Push enqueues buf according to the queue policy.
// It returns ErrQueueClosed after Close and the context error when ctx
// ends while blocked.
func (q *Queue) Push(ctx context.Context, buf *stream.Buffer) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	if q.policy == PolicyDrop {
		select {
		case q.ch <- buf:
		default:
			q.dropped()
		}
		return nil
	}

	select {
	case q.ch <- buf:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) dropped() {
	total := q.drops.Add(1)
	now := time.Now().UnixNano()
	last := q.lastWarn.Load()
	if now-last < int64(dropLogInterval) || !q.lastWarn.CompareAndSwap(last, now) {
		return
	}
	since := total - q.logged.Swap(total)
	q.log.Warn("queue full, dropping buffers", "dropped", since, "total", total, "capacity", cap(q.ch))
}

// C returns the receive side of the queue
func (q *Queue) C() <-chan *stream.Buffer {
	return q.ch
}

// Done is closed by Close
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close stops accepting buffers. Buffers already queued stay readable.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}

// Len returns the number of queued buffers
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Drops returns the number of buffers discarded by PolicyDrop
func (q *Queue) Drops() uint64 {
	return q.drops.Load()
}

// Policy returns the overflow policy
func (q *Queue) Policy() Policy {
	return q.policy
}
