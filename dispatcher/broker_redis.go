package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/corenexus/agentflow/agentflowerr"
)

// redisQueueKey is the list used as a FIFO queue, RPUSH/BLPOP style.
const redisQueueKey = "agentflow:dispatch:queue"

// RedisBroker is a real, durable queue built on a Redis list: Enqueue does
// RPUSH, Dequeue does a blocking BLPOP, giving FIFO delivery across
// process restarts without a dedicated message broker dependency.
type RedisBroker struct {
	client *redis.Client
	key    string
}

// NewRedisBroker returns a broker using client, queueing under the default
// key unless overridden by callers that need per-environment isolation.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, key: redisQueueKey}
}

func (b *RedisBroker) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return agentflowerr.Internal("dispatcher: marshal task", err)
	}
	if err := b.client.RPush(ctx, b.key, data).Err(); err != nil {
		return agentflowerr.Transient("dispatcher: redis RPUSH failed", err)
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context) (Task, error) {
	result, err := b.client.BLPop(ctx, 0, b.key).Result()
	if err != nil {
		return Task{}, agentflowerr.Transient("dispatcher: redis BLPOP failed", err)
	}
	// BLPop returns [key, value]; the queue payload is the second element.
	if len(result) != 2 {
		return Task{}, agentflowerr.Internal("dispatcher: unexpected BLPOP reply shape", nil)
	}
	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return Task{}, agentflowerr.Internal("dispatcher: unmarshal task", err)
	}
	return task, nil
}
