package corral

import (
	"context"
	"io"
	"sync"
)

// Stream is a lazy, single-consumption sequence of query results backed by
// one driver cursor. Iterate with Next/Item/Err in the cursor idiom, or drain
// with All. Combinators derive new streams over the same cursor; deriving is
// free, but the first handle to actually consume claims the cursor for
// itself, and every other handle (the base included) fails with
// ErrStreamConsumed from then on. The cursor closes itself on exhaustion and
// on error; Close releases it early.
type Stream[T any] struct {
	src  *streamSource
	pull func(context.Context) (T, error)

	item T
	err  error
	done bool
}

// streamSource is the claim and close state shared by a stream and every
// stream derived from it.
type streamSource struct {
	mu      sync.Mutex
	owner   any
	closed  bool
	release func(context.Context) error
}

func (s *streamSource) claim(by any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.owner != nil && s.owner != by) {
		return ErrStreamConsumed{}
	}
	s.owner = by
	return nil
}

func (s *streamSource) taken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.owner != nil
}

func (s *streamSource) shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	fn := s.release
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// NewStream wraps a producer into a stream. next returns io.EOF when the
// sequence is exhausted; closeFn releases the underlying cursor and may be
// nil. Backend adapters construct streams; applications receive them from
// Find.
func NewStream[T any](next func(context.Context) (T, error), closeFn func(context.Context) error) *Stream[T] {
	return &Stream[T]{
		src:  &streamSource{release: closeFn},
		pull: next,
	}
}

// StreamOf builds a stream over a fixed slice, for tests and for adapters
// that materialize results eagerly.
func StreamOf[T any](items ...T) *Stream[T] {
	i := 0
	return NewStream(func(context.Context) (T, error) {
		if i >= len(items) {
			var zero T
			return zero, io.EOF
		}
		v := items[i]
		i++
		return v, nil
	}, nil)
}

// Next advances the stream. It returns false on exhaustion, on a producer
// error, and on a violated consumption contract; Err tells the cases apart.
func (s *Stream[T]) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if err := s.src.claim(s); err != nil {
		s.err = err
		s.done = true
		return false
	}
	v, err := s.pull(ctx)
	if err != nil {
		if err != io.EOF {
			s.err = err
		}
		s.done = true
		_ = s.src.shutdown(ctx)
		return false
	}
	s.item = v
	return true
}

// Item returns the element produced by the last successful Next.
func (s *Stream[T]) Item() T { return s.item }

// Err reports the terminal error. It is nil after a clean exhaustion; items
// delivered before a producer error remain valid.
func (s *Stream[T]) Err() error { return s.err }

// All drains the stream into a slice. Reusing an exhausted, failed, or closed
// stream returns ErrStreamConsumed.
func (s *Stream[T]) All(ctx context.Context) ([]T, error) {
	if s.done {
		return nil, ErrStreamConsumed{}
	}
	var out []T
	for s.Next(ctx) {
		out = append(out, s.Item())
	}
	return out, s.err
}

// Close releases the underlying cursor. Safe at any point and idempotent; the
// stream and everything sharing its cursor are unusable afterwards.
func (s *Stream[T]) Close(ctx context.Context) error {
	s.done = true
	return s.src.shutdown(ctx)
}

// Take derives a stream yielding at most n items. A non-positive n yields
// nothing.
func (s *Stream[T]) Take(n int) *Stream[T] {
	remaining := n
	return derive(s, func(ctx context.Context) (T, error) {
		if remaining <= 0 {
			var zero T
			return zero, io.EOF
		}
		remaining--
		return s.pull(ctx)
	})
}

// Skip derives a stream dropping the first n items. A non-positive n drops
// nothing.
func (s *Stream[T]) Skip(n int) *Stream[T] {
	remaining := n
	return derive(s, func(ctx context.Context) (T, error) {
		for remaining > 0 {
			remaining--
			if _, err := s.pull(ctx); err != nil {
				var zero T
				return zero, err
			}
		}
		return s.pull(ctx)
	})
}

// Paged derives a stream of slices of up to n items, the last possibly
// shorter. A non-positive n yields no pages. A producer error surfaces after
// the partial page collected before it.
func (s *Stream[T]) Paged(n int) *Stream[[]T] {
	var pending error
	return derive(s, func(ctx context.Context) ([]T, error) {
		if pending != nil {
			err := pending
			pending = nil
			return nil, err
		}
		if n <= 0 {
			return nil, io.EOF
		}
		page := make([]T, 0, n)
		for len(page) < n {
			v, err := s.pull(ctx)
			if err == io.EOF {
				if len(page) > 0 {
					return page, nil
				}
				return nil, io.EOF
			}
			if err != nil {
				if len(page) > 0 {
					pending = err
					return page, nil
				}
				return nil, err
			}
			page = append(page, v)
		}
		return page, nil
	})
}

// derive builds a child stream over the parent's cursor. Chaining onto a
// stream that was already consumed (or whose cursor was claimed through a
// sibling) yields a stream that fails immediately.
func derive[T, R any](parent *Stream[T], pull func(context.Context) (R, error)) *Stream[R] {
	d := &Stream[R]{src: parent.src}
	if parent.done || parent.src.taken() {
		d.err = ErrStreamConsumed{}
		d.done = true
		return d
	}
	d.pull = pull
	return d
}
