// Package delivery serializes chunk hand-off to the persistence boundary.
// Each session owns one Queue: a bounded channel drained by a single
// consumer goroutine, so chunks reach the sink strictly in enqueue order no
// matter how the encoder callbacks interleave. A failed delivery is logged
// and counted; it never breaks the chain for later chunks.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meetcap/meetcap/internal/metrics"
)

var ErrQueueClosed = errors.New("delivery queue closed")

// Chunk is one bounded unit of media crossing the persistence boundary.
type Chunk struct {
	SessionID string
	Seq       uint64
	Samples   []int16 // audio payload
	Bytes     []byte  // video payload
}

// DeliverFunc hands a single chunk to the persistence boundary.
type DeliverFunc func(ctx context.Context, c Chunk) error

type Queue struct {
	name    string
	deliver DeliverFunc
	log     zerolog.Logger
	met     *metrics.Metrics

	ch   chan Chunk
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewQueue starts the consumer goroutine. depth bounds the backlog;
// Enqueue blocks when it is full, which is the backpressure signal.
func NewQueue(name string, depth int, deliver DeliverFunc, log zerolog.Logger, met *metrics.Metrics) *Queue {
	if depth <= 0 {
		depth = 64
	}
	q := &Queue{
		name:    name,
		deliver: deliver,
		log:     log,
		met:     met,
		ch:      make(chan Chunk, depth),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for c := range q.ch {
		start := time.Now()
		// Delivery gets its own context: a stopping session must still
		// flush the backlog.
		if err := q.deliver(context.Background(), c); err != nil {
			q.met.IncDeliveryFailures()
			q.log.Error().Err(err).Str("queue", q.name).Uint64("seq", c.Seq).Msg("chunk delivery failed")
			continue
		}
		q.met.IncDelivered()
		q.met.ObserveDelivery(time.Since(start).Seconds())
	}
}

// Enqueue appends a chunk to the chain. It returns ErrQueueClosed once
// Drain has begun.
func (q *Queue) Enqueue(c Chunk) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	// Send under the lock so Drain cannot close the channel mid-send.
	q.ch <- c
	q.mu.Unlock()
	return nil
}

// Drain closes intake and waits for every already-enqueued chunk to settle.
// Safe to call more than once. It returns early if ctx expires, leaving the
// consumer to finish in the background.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
