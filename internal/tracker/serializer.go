package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SeanDreamHsu/shorts-counter/internal/store"
)

const lockTimeout = 5 * time.Second

// ErrSerializerClosed is returned for work submitted after Close.
var ErrSerializerClosed = errors.New("serializer closed")

// Op is one unit of state-mutating work.
type Op func(ctx context.Context) error

type task struct {
	name   string
	op     Op
	result chan error
}

// Serializer runs operations one at a time in the order they were enqueued.
// A failing or panicking operation is logged and the next one still runs.
// Accepted work is never cancelled.
//
// With WithLock every operation also holds the store lock while it runs, which
// extends the one-at-a-time guarantee to other processes writing the same store.
type Serializer struct {
	mu     sync.Mutex
	queue  []task
	closed bool
	wake   chan struct{}
	done   chan struct{}
	logger *zap.Logger
	lock   store.Locker
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithLock makes every operation run under l.
func WithLock(l store.Locker) SerializerOption {
	return func(s *Serializer) { s.lock = l }
}

// NewSerializer starts the single worker goroutine.
func NewSerializer(logger *zap.Logger, opts ...SerializerOption) *Serializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Serializer{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Enqueue appends op to the queue. The returned channel receives the op's error once it ran.
func (s *Serializer) Enqueue(name string, op Op) <-chan error {
	result := make(chan error, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		result <- ErrSerializerClosed
		return result
	}
	s.queue = append(s.queue, task{name: name, op: op, result: result})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return result
}

// Do enqueues op and waits for it. If ctx ends first the op still runs; only the wait is abandoned.
func (s *Serializer) Do(ctx context.Context, name string, op Op) error {
	select {
	case err := <-s.Enqueue(name, op):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued operations not yet started.
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting work and returns after everything already queued has run.
func (s *Serializer) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Serializer) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		t := s.queue[0]
		s.queue[0] = task{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		t.result <- s.exec(t)
	}
}

func (s *Serializer) exec(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", t.name, r)
		}
		if err != nil {
			s.logger.Error("operation failed", zap.String("op", t.name), zap.Error(err))
		}
	}()
	if s.lock != nil {
		lockCtx, cancel := context.WithTimeout(context.Background(), lockTimeout)
		unlock, lerr := s.lock.Lock(lockCtx)
		cancel()
		if lerr != nil {
			return fmt.Errorf("operation %s: %w", t.name, lerr)
		}
		defer unlock()
	}
	return t.op(context.Background())
}
