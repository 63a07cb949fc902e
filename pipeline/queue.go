package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrUnderrun is returned by Pop when the show is playing but no chunk
	// arrived in time
	ErrUnderrun = errors.New("buffer underrun")
	// ErrEndOfStream is returned by Pop once the show has stopped and every
	// queued chunk has been delivered
	ErrEndOfStream = errors.New("end of stream")
	// ErrStopped is returned by Push when the show stopped while waiting
	ErrStopped = errors.New("show stopped")
)

// DefaultCapacity is the queue size used by the station
const DefaultCapacity = 10

// Chunk is one unit of rendered PCM: interleaved s16le in the output layout
type Chunk struct {
	Seq      uint64
	Data     []byte
	Duration time.Duration
}

// Liveness tells the queue whether the show is still running
type Liveness interface {
	IsPlaying() bool
	Stopped() <-chan struct{}
}

// Queue is the bounded FIFO between the mixer and the distributor. Push
// blocks while it is full and never drops a chunk.
type Queue struct {
	chunks    chan Chunk
	live      Liveness
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most capacity chunks
func NewQueue(capacity int, live Liveness) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		chunks: make(chan Chunk, capacity),
		live:   live,
	}
}

// Push enqueues c, waiting for space. It gives up when ctx ends or the show
// stops; a chunk that was not enqueued is never delivered.
func (q *Queue) Push(ctx context.Context, c Chunk) error {
	select {
	case <-q.live.Stopped():
		return ErrStopped
	default:
	}

	select {
	case q.chunks <- c:
		return nil
	case <-q.live.Stopped():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop returns the oldest chunk, waiting up to timeout. Once the producer has
// closed the queue and it is drained, or the wait times out after the show
// stopped, it returns ErrEndOfStream. A timeout while the show still plays
// returns ErrUnderrun.
func (q *Queue) Pop(timeout time.Duration) (Chunk, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c, ok := <-q.chunks:
		if !ok {
			return Chunk{}, ErrEndOfStream
		}
		return c, nil
	case <-timer.C:
		select {
		case c, ok := <-q.chunks:
			if ok {
				return c, nil
			}
			return Chunk{}, ErrEndOfStream
		default:
		}
		if !q.live.IsPlaying() {
			return Chunk{}, ErrEndOfStream
		}
		return Chunk{}, ErrUnderrun
	}
}

// Close is called by the producer when it will push no more chunks. Queued
// chunks remain available to Pop.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.chunks) })
}

// Len returns the number of queued chunks
func (q *Queue) Len() int {
	return len(q.chunks)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.chunks)
}
