package media

import "context"

// Queue is a fixed-capacity blocking FIFO of envelopes. The producer
// blocks when the queue is full and the consumer blocks when it is
// empty; nothing is ever dropped. This is the pipeline's sole
// backpressure mechanism: a slow encoder throttles capture instead of
// growing memory without bound.
type Queue[T any] struct {
	ch chan Envelope[T]
}

func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{ch: make(chan Envelope[T], capacity)}
}

// Push blocks until there is room or ctx is cancelled.
func (q *Queue[T]) Push(ctx context.Context, e Envelope[T]) error {
	select {
	case q.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until an envelope is available or ctx is cancelled.
func (q *Queue[T]) Pop(ctx context.Context) (Envelope[T], error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		var zero Envelope[T]
		return zero, ctx.Err()
	}
}

func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) Cap() int { return cap(q.ch) }
