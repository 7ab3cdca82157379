package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/baikov/metalsync/internal/config"
	"github.com/baikov/metalsync/internal/domain/task"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// StreamCategoryRetry carries categories whose reconciliation failed and
// should be attempted again.
const StreamCategoryRetry = "metalsync:stream:CategoryRetryTask"

// Queue is a redis-streams task queue with consumer groups.
type Queue interface {
	AddTask(ctx context.Context, task task.Task) (string, error)
	GetTask(ctx context.Context, group, consumer, stream string) (*redis.XMessage, error)
	AckTask(ctx context.Context, stream, group, msgID string) error
	AutoClaim(ctx context.Context, group, consumer, stream string, minIdleTime time.Duration) ([]redis.XMessage, error)
}

type RedisQueue struct {
	redisClient  *redis.Client
	streamPrefix string
	groupName    string
}

func NewRedisQueue(redisClient *redis.Client, cfg config.RedisConfig) (Queue, error) {
	q := &RedisQueue{
		redisClient:  redisClient,
		streamPrefix: "metalsync:stream:",
		groupName:    cfg.ConsumerGroup,
	}

	// Streams and consumer groups must exist before workers start reading.
	if err := q.createGroup(context.Background(), StreamCategoryRetry, cfg.ConsumerGroup); err != nil {
		return nil, fmt.Errorf("failed to ensure retry stream exists: %w", err)
	}

	return q, nil
}

func (q *RedisQueue) createGroup(ctx context.Context, stream, group string) error {
	err := q.redisClient.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists" {
		log.Infof("Group %s already exists for stream %s", group, stream)
		return nil
	}
	return err
}

func (q *RedisQueue) AddTask(ctx context.Context, t task.Task) (string, error) {
	streamName := q.streamPrefix + t.TaskType()

	taskValue, err := t.TaskValue()
	if err != nil {
		return "", fmt.Errorf("failed to serialize task: %w", err)
	}

	msgID, err := q.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{
			"task_type": t.TaskType(),
			"task_data": string(taskValue),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add task to stream %s: %w", streamName, err)
	}

	log.Debugf("Added %s to stream %s as %s", t.TaskType(), streamName, msgID)
	return msgID, nil
}

// GetTask blocks for a short interval waiting for the next message in the
// group. A nil message with nil error means the wait timed out.
func (q *RedisQueue) GetTask(ctx context.Context, group, consumer, stream string) (*redis.XMessage, error) {
	streams, err := q.redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    5 * time.Second,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	for _, s := range streams {
		for _, msg := range s.Messages {
			return &msg, nil
		}
	}
	return nil, nil
}

func (q *RedisQueue) AckTask(ctx context.Context, stream, group, msgID string) error {
	if err := q.redisClient.XAck(ctx, stream, group, msgID).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msgID, err)
	}
	return nil
}

// AutoClaim takes over messages another consumer read but never acked.
func (q *RedisQueue) AutoClaim(ctx context.Context, group, consumer, stream string, minIdleTime time.Duration) ([]redis.XMessage, error) {
	msgs, _, err := q.redisClient.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdleTime,
		Start:    "0",
		Count:    10,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to auto-claim from stream %s: %w", stream, err)
	}
	return msgs, nil
}
