package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/crawlctl/internal/live"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
	"github.com/desertthunder/crawlctl/internal/store"
)

// API is the subset of the platform REST client the syncer needs.
// It is satisfied by [services.Client].
type API interface {
	Tasks(ctx context.Context, q models.TaskQuery) (*models.TaskListResponse, error)
	Task(ctx context.Context, taskID string) (*models.Task, error)
	RunCrawler(ctx context.Context, crawlerType string, params models.RunCrawlerRequest) (*models.RunCrawlerResponse, error)
	UpdateTask(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

// Channels opens and closes live channels. It is satisfied by [live.Manager].
type Channels interface {
	Open(taskID string, h live.Handlers) error
	Close(taskID string)
}

// SnapshotCache persists task snapshots locally. It is satisfied by [repositories.TaskSnapshotRepository].
type SnapshotCache interface {
	SaveAll(tasks []models.Task) error
	Delete(id string) error
}

// Options configures a [Syncer].
type Options struct {
	// Query selects the tasks loaded by [Syncer.Refresh].
	Query     models.TaskQuery
	Snapshots SnapshotCache
	Progress  chan<- ProgressUpdate
	Logger    *log.Logger
}

// Syncer reconciles a [store.TaskStore] with REST snapshots and live status updates.
type Syncer struct {
	api      API
	store    *store.TaskStore
	channels Channels
	opts     Options
	logger   *log.Logger

	mu          sync.Mutex
	ctx         context.Context
	watching    map[string]bool
	unsubscribe func()

	// syncMu serializes channel diffs so an open and a close for the same id cannot interleave.
	syncMu sync.Mutex
}

// NewSyncer creates a syncer. channels may be nil when live updates are not wanted.
func NewSyncer(api API, st *store.TaskStore, channels Channels, opts Options) *Syncer {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Syncer{
		api:      api,
		store:    st,
		channels: channels,
		opts:     opts,
		logger:   logger.With("component", "sync"),
		ctx:      context.Background(),
		watching: make(map[string]bool),
	}
}

// Store returns the store being reconciled.
func (s *Syncer) Store() *store.TaskStore { return s.store }

// Refresh replaces the store contents with the task list from the platform.
func (s *Syncer) Refresh(ctx context.Context) error {
	if s.api == nil {
		return fmt.Errorf("%w: api client not initialized", shared.ErrServiceUnavailable)
	}
	resp, err := s.api.Tasks(ctx, s.opts.Query)
	if err != nil {
		return fmt.Errorf("failed to refresh tasks: %w", err)
	}
	s.store.SetAll(resp.Tasks)
	s.saveSnapshots(resp.Tasks...)
	s.logger.Debug("refreshed tasks", "count", len(resp.Tasks), "total", resp.Total)
	sendProgress(s.opts.Progress, refreshedUpdate(len(resp.Tasks)))
	return nil
}

// Apply merges a live status update into the store.
//
// An update for a task the store does not hold triggers [Syncer.Refresh] instead.
// An update that would move a finished task back to pending or running is dropped.
func (s *Syncer) Apply(ctx context.Context, u models.StatusUpdate) error {
	current, ok := s.store.Get(u.TaskID)
	if !ok {
		s.logger.Info("update for unknown task, refreshing", "task", u.TaskID, "status", u.Status)
		return s.Refresh(ctx)
	}
	if u.Status != "" && current.Status.Regresses(u.Status) {
		s.logger.Warn("dropping status regression", "task", u.TaskID, "from", current.Status, "to", u.Status)
		return nil
	}

	if !s.store.Update(u.TaskID, u.Fields()) {
		// Removed between Get and Update.
		return nil
	}
	updated, ok := s.store.Get(u.TaskID)
	if !ok {
		return nil
	}
	if updated.Status.IsTerminal() {
		s.saveSnapshots(updated)
	}
	sendProgress(s.opts.Progress, statusUpdate(updated, u.Message))
	return nil
}

// FetchTask loads a single task from the platform and merges it into the store, adding it when absent.
func (s *Syncer) FetchTask(ctx context.Context, taskID string) error {
	task, err := s.api.Task(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to fetch task %s: %w", taskID, err)
	}
	s.merge(*task)
	return nil
}

// merge writes a REST snapshot into the store, subject to the same regression guard as live updates.
func (s *Syncer) merge(task models.Task) {
	if s.store.Add(task) {
		sendProgress(s.opts.Progress, statusUpdate(task, ""))
		return
	}
	current, ok := s.store.Get(task.ID)
	if ok && current.Status.Regresses(task.Status) {
		s.logger.Warn("dropping stale snapshot", "task", task.ID, "from", current.Status, "to", task.Status)
		return
	}
	if s.store.Update(task.ID, models.SnapshotFields(task)) {
		if updated, ok := s.store.Get(task.ID); ok {
			sendProgress(s.opts.Progress, statusUpdate(updated, ""))
		}
	}
}

// Handlers returns the live channel callbacks that feed this syncer.
func (s *Syncer) Handlers() live.Handlers {
	return live.Handlers{
		OnOpen: func(ctx context.Context, taskID string) {
			sendProgress(s.opts.Progress, channelUpdate(taskID, live.StateOpen.String()))
			if err := s.FetchTask(ctx, taskID); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("post-open fetch failed", "task", taskID, "error", err)
			}
		},
		OnMessage: func(u models.StatusUpdate) {
			if err := s.Apply(s.context(), u); err != nil {
				s.logger.Error("failed to apply update", "task", u.TaskID, "error", err)
			}
		},
		OnClose: func(taskID string) {
			s.logger.Debug("live channel closed", "task", taskID)
			sendProgress(s.opts.Progress, channelUpdate(taskID, "closed"))
		},
		OnError: func(taskID string, err error) {
			s.logger.Warn("live channel error", "task", taskID, "error", err)
		},
	}
}

func (s *Syncer) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Syncer) saveSnapshots(tasks ...models.Task) {
	if s.opts.Snapshots == nil || len(tasks) == 0 {
		return
	}
	if err := s.opts.Snapshots.SaveAll(tasks); err != nil {
		s.logger.Warn("failed to cache task snapshots", "count", len(tasks), "error", err)
	}
}
