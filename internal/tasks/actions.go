package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// Create starts a crawl and adds the resulting task to the store.
//
// If the new task cannot be fetched, a pending placeholder is added so the live channel can fill it in.
func (s *Syncer) Create(ctx context.Context, crawlerType string, params models.RunCrawlerRequest) (*models.Task, error) {
	if crawlerType == "" {
		return nil, fmt.Errorf("%w: crawler type", shared.ErrMissingArgument)
	}
	resp, err := s.api.RunCrawler(ctx, crawlerType, params)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s crawl: %w", crawlerType, err)
	}
	if resp.TaskID == "" {
		return nil, fmt.Errorf("%w: run response carried no task id", shared.ErrAPIRequest)
	}

	task, err := s.api.Task(ctx, resp.TaskID)
	if err != nil {
		s.logger.Warn("failed to fetch new task, using placeholder", "task", resp.TaskID, "error", err)
		task = &models.Task{
			ID:          resp.TaskID,
			CrawlerType: crawlerType,
			Status:      models.StatusPending,
			Params:      params,
			CreatedAt:   models.NewTimestamp(time.Now().UTC()),
		}
	}

	s.merge(*task)
	created, ok := s.store.Get(task.ID)
	if !ok {
		created = *task
	}
	sendProgress(s.opts.Progress, createdUpdate(created))
	s.logger.Info("crawl started", "task", created.ID, "crawler", crawlerType)
	return &created, nil
}

// Cancel asks the platform to cancel a task and merges the returned snapshot.
func (s *Syncer) Cancel(ctx context.Context, taskID string) (*models.Task, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}
	status := models.StatusCancelled
	task, err := s.api.UpdateTask(ctx, taskID, models.TaskPatch{Status: &status})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	if s.store.Has(taskID) {
		s.merge(*task)
	}
	s.saveSnapshots(*task)
	sendProgress(s.opts.Progress, cancelledUpdate(taskID))
	return task, nil
}

// Delete removes a task on the platform, drops it from the store and closes its live channel.
func (s *Syncer) Delete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}
	if err := s.api.DeleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}
	s.store.Remove(taskID)
	if s.channels != nil {
		s.channels.Close(taskID)
	}
	if s.opts.Snapshots != nil {
		if err := s.opts.Snapshots.Delete(taskID); err != nil && !errors.Is(err, shared.ErrTaskNotFound) {
			s.logger.Warn("failed to drop cached snapshot", "task", taskID, "error", err)
		}
	}
	sendProgress(s.opts.Progress, deletedUpdate(taskID))
	return nil
}

// Poll refreshes the store on a jittered ticker until ctx is done.
//
// It is the fallback for channels that gave up reconnecting. Refresh errors are logged and polling continues.
func (s *Syncer) Poll(ctx context.Context, interval, jitter time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", shared.ErrInvalidArgument)
	}
	if jitter <= 0 {
		jitter = interval / 10
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: jitter})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("poll refresh failed", "error", err)
			}
		}
	}
}

// CompletedIDs returns the ids of completed tasks in the store, newest first.
func (s *Syncer) CompletedIDs() []string {
	var ids []string
	for _, t := range s.store.Tasks() {
		if t.Status == models.StatusCompleted {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
