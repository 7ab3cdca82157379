package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateManager serializes reconciliation per category and records when the
// last full run finished. The staleness sweep inside the reconciler assumes
// it sees the complete current product set, so two workers must never
// reconcile the same category at once.
type StateManager interface {
	AcquireCategoryLock(ctx context.Context, categoryID int64, ttl time.Duration) (bool, error)
	ReleaseCategoryLock(ctx context.Context, categoryID int64) error
	SetLastRunFinished(ctx context.Context, at time.Time) error
	GetLastRunFinished(ctx context.Context) (time.Time, error)
}

type redisStateManager struct {
	redisClient *redis.Client
	lockPrefix  string
	runKey      string
}

func NewRedisStateManager(redisClient *redis.Client) StateManager {
	return &redisStateManager{
		redisClient: redisClient,
		lockPrefix:  "metalsync:lock:category:",
		runKey:      "metalsync:run:finished_at",
	}
}

// AcquireCategoryLock returns false when another worker holds the lock. The
// TTL guards against a worker dying mid-category; it should exceed the
// longest plausible single-category reconciliation.
func (s *redisStateManager) AcquireCategoryLock(ctx context.Context, categoryID int64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s%d", s.lockPrefix, categoryID)
	ok, err := s.redisClient.SetNX(ctx, key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock for category %d: %w", categoryID, err)
	}
	return ok, nil
}

func (s *redisStateManager) ReleaseCategoryLock(ctx context.Context, categoryID int64) error {
	key := fmt.Sprintf("%s%d", s.lockPrefix, categoryID)
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release lock for category %d: %w", categoryID, err)
	}
	return nil
}

func (s *redisStateManager) SetLastRunFinished(ctx context.Context, at time.Time) error {
	if err := s.redisClient.Set(ctx, s.runKey, at.Unix(), 0).Err(); err != nil {
		return fmt.Errorf("failed to store last run timestamp: %w", err)
	}
	return nil
}

func (s *redisStateManager) GetLastRunFinished(ctx context.Context) (time.Time, error) {
	val, err := s.redisClient.Get(ctx, s.runKey).Int64()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to read last run timestamp: %w", err)
	}
	return time.Unix(val, 0), nil
}
