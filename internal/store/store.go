// Package store is the persistent key-value state store with a per-key change stream.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown store driver")

// Change describes one key update. A nil value means the key was absent.
type Change struct {
	Key      string `json:"key"`
	OldValue []byte `json:"oldValue"`
	NewValue []byte `json:"newValue"`
}

// Store is an asynchronous mapping store with get, partial set and a change stream.
// Values are opaque encoded bytes; setting a nil value removes the key.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	// Watch streams changes made after the call until ctx is done.
	Watch(ctx context.Context) (<-chan Change, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string // memory, file, redis
	FilePath    string
	RedisClient *goredis.Client
	RedisPrefix string
	Logger      *zap.Logger
}

// Open creates the store for opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "memory":
		return NewMemory(), nil
	case "file":
		return NewFile(opts.FilePath, opts.Logger)
	case "redis":
		if opts.RedisClient == nil {
			return nil, fmt.Errorf("redis store: client required")
		}
		return NewRedis(ctx, opts.RedisClient, opts.RedisPrefix, opts.Logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

const subscriberBuffer = 64

// broadcaster fans changes out to Watch subscribers. Slow subscribers drop events;
// readers re-derive state from the store so a missed change only delays a refresh.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	next   int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Change)}
}

func (b *broadcaster) subscribe(ctx context.Context) (<-chan Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("store closed")
	}
	id := b.next
	b.next++
	ch := make(chan Change, subscriberBuffer)
	b.subs[id] = ch
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}()
	return ch, nil
}

func (b *broadcaster) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		for _, c := range changes {
			select {
			case ch <- c:
			default:
			}
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
