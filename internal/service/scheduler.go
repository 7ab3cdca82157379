package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/baikov/metalsync/internal/domain"
	"github.com/baikov/metalsync/internal/domain/task"
	"github.com/baikov/metalsync/internal/queue"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ReconcileAll processes the given categories sequentially, spaced by the
// configured inter-category delay. The delay is a deliberate throttle
// against the site's anti-bot defenses, not a performance limit.
//
// The run carries a soft time budget: when it expires the remaining
// categories are abandoned and reported, never left half-applied (the
// per-category transaction guarantees that). Failed categories go to the
// retry stream.
func (s *Service) ReconcileAll(ctx context.Context, categoryIDs []int64) ([]domain.ReconcileSummary, error) {
	if len(categoryIDs) == 0 {
		var err error
		categoryIDs, err = s.tree.ListLeafIDs(ctx)
		if err != nil {
			return nil, err
		}
	}

	staleAfter := time.Duration(s.parserCfg.StaleAfterHours) * time.Hour
	eligible, err := s.catalog.ListEligibleCategoryIDs(ctx, categoryIDs, staleAfter)
	if err != nil {
		return nil, err
	}
	log.Infof("Starting run: %d of %d categories eligible", len(eligible), len(categoryIDs))

	runCtx, cancel := context.WithTimeout(ctx, s.site.RunBudget())
	defer cancel()

	summaries := make([]domain.ReconcileSummary, 0, len(eligible))
	for i, id := range eligible {
		if runCtx.Err() != nil {
			log.Warnf("Run budget exhausted: %d of %d categories left unprocessed", len(eligible)-i, len(eligible))
			break
		}

		summary, err := s.ReconcileCategory(runCtx, id)
		if err != nil {
			s.handleFailure(ctx, id, 0, err)
		} else {
			summaries = append(summaries, summary)
		}

		if i < len(eligible)-1 {
			select {
			case <-runCtx.Done():
			case <-time.After(s.site.CategoryDelay()):
			}
		}
	}

	if err := s.state.SetLastRunFinished(context.WithoutCancel(ctx), time.Now()); err != nil {
		log.Errorf("Failed to record run completion: %v", err)
	}

	log.Infof("Run finished: %d categories reconciled", len(summaries))
	return summaries, nil
}

// handleFailure routes a failed category to the retry stream when the error
// is retryable and attempts remain.
func (s *Service) handleFailure(ctx context.Context, categoryID int64, retryCount int, cause error) {
	if !domain.IsRetryable(cause) {
		log.Errorf("Category %d failed permanently: %v", categoryID, cause)
		return
	}
	if retryCount >= s.site.MaxRetries {
		log.Errorf("Category %d failed after %d retries, giving up until next run: %v", categoryID, retryCount, cause)
		return
	}

	retryTask := &task.CategoryRetryTask{
		CategoryID: categoryID,
		RetryCount: retryCount,
		AntiBot:    errors.Is(cause, domain.ErrAntiBotBlocked),
		Error:      cause.Error(),
	}
	if _, err := s.queue.AddTask(context.WithoutCancel(ctx), retryTask); err != nil {
		log.Errorf("Failed to enqueue retry for category %d: %v", categoryID, err)
		return
	}
	log.Warnf("Category %d queued for retry (attempt %d): %v", categoryID, retryCount+1, cause)
}

// RunRetryWorker consumes the category retry stream until ctx is canceled.
// Each attempt waits out a jittered backoff first; anti-bot blocks use a
// materially longer base than transport failures.
func (s *Service) RunRetryWorker(ctx context.Context, minIdleTime time.Duration) error {
	var wg sync.WaitGroup

	// Reclaim messages a dead worker read but never acked.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(minIdleTime)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				consumer := fmt.Sprintf("autoclaimer-%d", time.Now().UnixNano())
				claimed, err := s.queue.AutoClaim(ctx, s.groupName, consumer, queue.StreamCategoryRetry, minIdleTime)
				if err != nil {
					log.Errorf("Failed to auto-claim retry messages: %v", err)
					continue
				}
				for i := range claimed {
					if err := s.processRetryMessage(ctx, &claimed[i]); err != nil {
						log.Errorf("Failed to process auto-claimed message %s: %v", claimed[i].ID, err)
					}
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				log.Info("Retry worker stopping")
				return
			default:
				msg, err := s.queue.GetTask(ctx, s.groupName, "retry-worker", queue.StreamCategoryRetry)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Errorf("Failed to read retry task: %v", err)
					continue
				}
				if msg == nil {
					continue
				}
				if err := s.processRetryMessage(ctx, msg); err != nil {
					log.Errorf("Failed to process message %s: %v", msg.ID, err)
				}
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func (s *Service) processRetryMessage(ctx context.Context, msg *redis.XMessage) error {
	taskData, ok := msg.Values["task_data"].(string)
	if !ok {
		return fmt.Errorf("invalid task data in message %s", msg.ID)
	}

	retryTask, err := task.UnmarshalTask[*task.CategoryRetryTask]([]byte(taskData))
	if err != nil {
		return fmt.Errorf("failed to unmarshal retry task: %w", err)
	}

	delay := s.retryDelay(retryTask)
	log.Infof("Retrying category %d in %s (attempt %d)", retryTask.CategoryID, delay.Round(time.Second), retryTask.RetryCount+1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	if _, err := s.ReconcileCategory(ctx, retryTask.CategoryID); err != nil {
		s.handleFailure(ctx, retryTask.CategoryID, retryTask.RetryCount+1, err)
	} else {
		log.Infof("Category %d recovered after %d retries", retryTask.CategoryID, retryTask.RetryCount+1)
	}

	return s.queue.AckTask(ctx, queue.StreamCategoryRetry, s.groupName, msg.ID)
}

// retryDelay grows linearly with the attempt number and adds up to one base
// of random jitter so blocked categories do not retry in lockstep.
func (s *Service) retryDelay(t *task.CategoryRetryTask) time.Duration {
	base := time.Duration(s.site.RetryBackoffSeconds) * time.Second
	if t.AntiBot {
		base = time.Duration(s.site.AntiBotBackoffSeconds) * time.Second
	}
	if base <= 0 {
		return 0
	}
	delay := base * time.Duration(t.RetryCount+1)
	jitter := time.Duration(rand.Int63n(int64(base)))
	return delay + jitter
}
