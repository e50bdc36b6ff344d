package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"AlertGate/pkg/logger"
)

// RedisQueue is a state-partitioned delay queue.
// Each state is a ZSET of ids scored by unix milliseconds, payloads live in one hash,
// and a second hash maps id to its current state.
type RedisQueue struct {
	logger    *logger.Logger
	client    redis.UniversalClient
	keyPrefix string
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

func WithLogger(l *logger.Logger) RedisQueueOption {
	return func(r *RedisQueue) { r.logger = l }
}

// NewRedisQueue creates a new Redis queue.
func NewRedisQueue(client redis.UniversalClient, opts ...RedisQueueOption) *RedisQueue {
	rq := &RedisQueue{
		logger:    logger.Nop(),
		client:    client,
		keyPrefix: "alertgate:queue",
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// putScript replaces an item's payload and moves it into the target state's ZSET.
var putScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], ARGV[1])
if old then redis.call('ZREM', ARGV[5] .. old, ARGV[1]) end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
redis.call('ZADD', ARGV[5] .. ARGV[2], ARGV[3], ARGV[1])
return 1
`)

// moveScript moves up to ARGV[2] ids scored <= ARGV[1] from one state to another, lowest score first.
var moveScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  local score = redis.call('ZSCORE', KEYS[2], id)
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[3], score, id)
  redis.call('HSET', KEYS[1], id, ARGV[3])
end
return ids
`)

// Ping checks connectivity.
func (r *RedisQueue) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Put stores the item and places it under its state.
func (r *RedisQueue) Put(ctx context.Context, it Item) error {
	err := putScript.Run(ctx, r.client,
		[]string{r.getStatesKey(), r.getPayloadKey()},
		it.ID, it.State, it.Score.UnixMilli(), it.Payload, r.getStatePrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("put %s: %w", it.ID, err)
	}
	return nil
}

// Move transfers up to limit items scored at or before maxScore from one state to another.
// A zero maxScore matches every score.
func (r *RedisQueue) Move(ctx context.Context, from, to string, maxScore time.Time, limit int) ([]Item, error) {
	max := "+inf"
	if !maxScore.IsZero() {
		max = strconv.FormatInt(maxScore.UnixMilli(), 10)
	}
	ids, err := moveScript.Run(ctx, r.client,
		[]string{r.getStatesKey(), r.getStateKey(from), r.getStateKey(to)},
		max, limit, to,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("move %s->%s: %w", from, to, err)
	}
	return r.load(ctx, ids, to)
}

// Get returns one item with its current state.
func (r *RedisQueue) Get(ctx context.Context, id string) (Item, error) {
	pipe := r.client.Pipeline()
	stateCmd := pipe.HGet(ctx, r.getStatesKey(), id)
	payloadCmd := pipe.HGet(ctx, r.getPayloadKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return Item{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		return Item{}, fmt.Errorf("get %s: %w", id, err)
	}
	state := stateCmd.Val()
	score, err := r.client.ZScore(ctx, r.getStateKey(state), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Item{}, fmt.Errorf("score %s: %w", id, err)
	}
	return Item{ID: id, State: state, Score: time.UnixMilli(int64(score)).UTC(), Payload: []byte(payloadCmd.Val())}, nil
}

// Count returns the number of items in state.
func (r *RedisQueue) Count(ctx context.Context, state string) (int, error) {
	n, err := r.client.ZCard(ctx, r.getStateKey(state)).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", state, err)
	}
	return int(n), nil
}

// Newest lists up to limit items of state, highest score first.
func (r *RedisQueue) Newest(ctx context.Context, state string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := r.client.ZRevRange(ctx, r.getStateKey(state), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", state, err)
	}
	return r.load(ctx, ids, state)
}

func (r *RedisQueue) load(ctx context.Context, ids []string, state string) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := r.client.HMGet(ctx, r.getPayloadKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget payloads: %w", err)
	}
	out := make([]Item, 0, len(ids))
	for i, id := range ids {
		s, ok := vals[i].(string)
		if !ok {
			r.logger.Warn("queue payload missing", logger.String("id", id), logger.String("state", state))
			continue
		}
		out = append(out, Item{ID: id, State: state, Payload: []byte(s)})
	}
	return out, nil
}

func (r *RedisQueue) Close() error { return r.client.Close() }

func (r *RedisQueue) getStatesKey() string {
	return fmt.Sprintf("%s:states", r.keyPrefix)
}

func (r *RedisQueue) getPayloadKey() string {
	return fmt.Sprintf("%s:payloads", r.keyPrefix)
}

func (r *RedisQueue) getStatePrefix() string {
	return fmt.Sprintf("%s:state:", r.keyPrefix)
}

func (r *RedisQueue) getStateKey(state string) string {
	return r.getStatePrefix() + state
}
