package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockTTL      = 10 * time.Second
	lockInterval = 25 * time.Millisecond
	maxTxRetries = 5
)

var releaseLock = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis keeps the state in one hash and publishes every change on a channel.
// Server instances sharing a prefix coordinate their read-modify-write cycles
// through Lock; each Set is additionally an optimistic WATCH transaction.
type Redis struct {
	client  *goredis.Client
	hashKey string
	channel string
	lockKey string
	bcast   *broadcaster
	pubsub  *goredis.PubSub
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewRedis creates a Redis-backed store under prefix and subscribes to its change channel.
func NewRedis(ctx context.Context, client *goredis.Client, prefix string, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "shorts"
	}
	r := &Redis{
		client:  client,
		hashKey: prefix + ":state",
		channel: prefix + ":changes",
		lockKey: prefix + ":lock",
		bcast:   newBroadcaster(),
		logger:  logger,
	}
	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := client.Subscribe(subCtx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.pubsub = pubsub
	r.cancel = cancel
	go r.forward(subCtx, pubsub.Channel())
	return r, nil
}

func (r *Redis) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := r.client.HMGet(ctx, r.hashKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
			return r.write(ctx, tx, keys, values)
		}, r.hashKey)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("write state: %w", goredis.TxFailedErr)
}

// write diffs values against the watched hash and applies the difference in one MULTI.
func (r *Redis) write(ctx context.Context, tx *goredis.Tx, keys []string, values map[string][]byte) error {
	vals, err := tx.HMGet(ctx, r.hashKey, keys...).Result()
	if err != nil {
		return fmt.Errorf("hmget: %w", err)
	}
	var changes []Change
	for i, k := range keys {
		var ov []byte
		s, had := vals[i].(string)
		if had {
			ov = []byte(s)
		}
		nv := values[k]
		if nv == nil && !had {
			continue
		}
		if nv != nil && had && bytes.Equal(ov, nv) {
			continue
		}
		changes = append(changes, Change{Key: k, OldValue: ov, NewValue: nv})
	}
	if len(changes) == 0 {
		return nil
	}

	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, c := range changes {
			if c.NewValue == nil {
				pipe.HDel(ctx, r.hashKey, c.Key)
			} else {
				pipe.HSet(ctx, r.hashKey, c.Key, c.NewValue)
			}
		}
		for _, c := range changes {
			body, err := sonic.Marshal(c)
			if err != nil {
				return fmt.Errorf("encode change: %w", err)
			}
			pipe.Publish(ctx, r.channel, body)
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.TxFailedErr) {
		return fmt.Errorf("write state: %w", err)
	}
	return err
}

// Lock takes the shared state lock, polling until it is free or ctx ends.
// The lock expires after lockTTL so a crashed holder cannot wedge other instances.
func (r *Redis) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(lockInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, r.lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", r.lockKey, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", r.lockKey, ctx.Err())
		case <-ticker.C:
		}
	}
	return func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseLock.Run(relCtx, r.client, []string{r.lockKey}, token).Err(); err != nil {
			r.logger.Warn("release state lock", zap.String("key", r.lockKey), zap.Error(err))
		}
	}, nil
}

func (r *Redis) Watch(ctx context.Context) (<-chan Change, error) {
	return r.bcast.subscribe(ctx)
}

func (r *Redis) Close() error {
	r.cancel()
	err := r.pubsub.Close()
	r.bcast.close()
	return err
}

func (r *Redis) forward(ctx context.Context, ch <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var c Change
			if err := sonic.Unmarshal([]byte(msg.Payload), &c); err != nil {
				r.logger.Warn("invalid change payload", zap.Error(err))
				continue
			}
			r.bcast.publish([]Change{c})
		}
	}
}
