package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
)

const (
	keyReady     = "jobs:ready"
	keyDelayed   = "jobs:delayed"
	keyDead      = "jobs:dead"
	keyConsumers = "jobs:consumers"
)

// A dequeued envelope sits on its consumer's processing list until it is
// acked, retried or dead-lettered. A consumer whose heartbeat lapses is
// presumed dead and its processing list goes back to the ready list.
func processingKey(consumer string) string { return "jobs:processing:" + consumer }
func heartbeatKey(consumer string) string  { return "jobs:consumer:" + consumer }

// promoteScript moves due delayed envelopes onto the ready list.
const promoteScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, raw in ipairs(due) do
  redis.call("ZREM", KEYS[1], raw)
  redis.call("LPUSH", KEYS[2], raw)
end
return #due
`

// requeueScript returns a dead consumer's in-flight envelopes to the ready
// list. It does nothing while the heartbeat key still exists.
const requeueScript = `
if redis.call("EXISTS", KEYS[4]) == 1 then
  return -1
end
local n = 0
while redis.call("RPOPLPUSH", KEYS[1], KEYS[2]) do
  n = n + 1
end
redis.call("SREM", KEYS[3], ARGV[1])
return n
`

// Enqueuer is the narrow view producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

type Queue struct {
	client  redis.UniversalClient
	clock   clock.Clock
	promote *redis.Script
	requeue *redis.Script
}

func NewQueue(client redis.UniversalClient, clk clock.Clock) *Queue {
	return &Queue{
		client:  client,
		clock:   clk,
		promote: redis.NewScript(promoteScript),
		requeue: redis.NewScript(requeueScript),
	}
}

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	env, err := q.envelope(job)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, keyReady, raw).Err()
}

func (q *Queue) envelope(job Job) (Envelope, error) {
	if job == nil {
		return Envelope{}, errors.New("job is nil")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       job.Kind(),
		Payload:    payload,
		EnqueuedAt: q.clock.Now(),
	}, nil
}

// Dequeue blocks up to wait for the next envelope and parks it on the
// consumer's processing list. It returns nil, nil on timeout. The caller
// must finish the envelope with Ack, RetryAt or DeadLetter.
func (q *Queue) Dequeue(ctx context.Context, consumer string, wait time.Duration) (*Envelope, error) {
	if err := q.client.SAdd(ctx, keyConsumers, consumer).Err(); err != nil {
		return nil, err
	}
	raw, err := q.client.BLMove(ctx, keyReady, processingKey(consumer), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Unreadable entries would be redelivered forever.
		_ = q.client.LRem(ctx, processingKey(consumer), 1, raw).Err()
		return nil, err
	}
	env.raw = raw
	return &env, nil
}

// Ack drops a finished envelope from the consumer's processing list.
func (q *Queue) Ack(ctx context.Context, consumer string, env Envelope) error {
	if env.raw == "" {
		return nil
	}
	return q.client.LRem(ctx, processingKey(consumer), 1, env.raw).Err()
}

// RetryAt schedules env to run again no earlier than at.
func (q *Queue) RetryAt(ctx context.Context, consumer string, env Envelope, at time.Time) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, keyDelayed, redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: raw,
		})
		if env.raw != "" {
			pipe.LRem(ctx, processingKey(consumer), 1, env.raw)
		}
		return nil
	})
	return err
}

func (q *Queue) DeadLetter(ctx context.Context, consumer string, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyDead, raw)
		if env.raw != "" {
			pipe.LRem(ctx, processingKey(consumer), 1, env.raw)
		}
		return nil
	})
	return err
}

// Heartbeat marks consumer alive for ttl.
func (q *Queue) Heartbeat(ctx context.Context, consumer string, ttl time.Duration) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, keyConsumers, consumer)
		pipe.Set(ctx, heartbeatKey(consumer), q.clock.Now().UnixMilli(), ttl)
		return nil
	})
	return err
}

// RequeueOrphans moves the in-flight envelopes of every consumer without a
// live heartbeat back onto the ready list and reports how many moved.
func (q *Queue) RequeueOrphans(ctx context.Context) (int, error) {
	consumers, err := q.client.SMembers(ctx, keyConsumers).Result()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, consumer := range consumers {
		n, err := q.requeueConsumer(ctx, consumer)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Retire ends a consumer's membership on clean shutdown. Anything it still
// holds is requeued at once instead of waiting for the heartbeat to lapse.
func (q *Queue) Retire(ctx context.Context, consumer string) (int, error) {
	if err := q.client.Del(ctx, heartbeatKey(consumer)).Err(); err != nil {
		return 0, err
	}
	return q.requeueConsumer(ctx, consumer)
}

func (q *Queue) requeueConsumer(ctx context.Context, consumer string) (int, error) {
	keys := []string{processingKey(consumer), keyReady, keyConsumers, heartbeatKey(consumer)}
	n, err := q.requeue.Run(ctx, q.client, keys, consumer).Int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// PromoteDue moves up to limit delayed envelopes whose time has come.
func (q *Queue) PromoteDue(ctx context.Context, limit int) (int, error) {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	n, err := q.promote.Run(ctx, q.client, []string{keyDelayed, keyReady}, now, limit).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Stats reports queue depths for the operator CLI.
type Stats struct {
	Ready      int64 `json:"ready"`
	Delayed    int64 `json:"delayed"`
	Processing int64 `json:"processing"`
	Dead       int64 `json:"dead"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	consumers, err := q.client.SMembers(ctx, keyConsumers).Result()
	if err != nil {
		return Stats{}, err
	}

	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, keyReady)
	delayed := pipe.ZCard(ctx, keyDelayed)
	dead := pipe.LLen(ctx, keyDead)
	processing := make([]*redis.IntCmd, 0, len(consumers))
	for _, consumer := range consumers {
		processing = append(processing, pipe.LLen(ctx, processingKey(consumer)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}

	stats := Stats{Ready: ready.Val(), Delayed: delayed.Val(), Dead: dead.Val()}
	for _, cmd := range processing {
		stats.Processing += cmd.Val()
	}
	return stats, nil
}
