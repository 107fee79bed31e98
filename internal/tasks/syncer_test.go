package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/crawlctl/internal/live"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
	"github.com/desertthunder/crawlctl/internal/store"
)

type fakeAPI struct {
	mu        sync.Mutex
	tasks     map[string]models.Task
	order     []string
	listCalls int
	fetched   []string
	deleted   []string
	taskErr   error
	nextID    int
}

func newFakeAPI(tasks ...models.Task) *fakeAPI {
	api := &fakeAPI{tasks: make(map[string]models.Task)}
	for _, t := range tasks {
		api.put(t)
	}
	return api
}

func (a *fakeAPI) put(t models.Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tasks[t.ID]; !ok {
		a.order = append(a.order, t.ID)
	}
	a.tasks[t.ID] = t
}

func (a *fakeAPI) Tasks(ctx context.Context, q models.TaskQuery) (*models.TaskListResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listCalls++
	resp := &models.TaskListResponse{Page: 1, PageSize: 20}
	for _, id := range a.order {
		resp.Tasks = append(resp.Tasks, a.tasks[id])
	}
	resp.Total = len(resp.Tasks)
	return resp, nil
}

func (a *fakeAPI) Task(ctx context.Context, taskID string) (*models.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetched = append(a.fetched, taskID)
	if a.taskErr != nil {
		return nil, a.taskErr
	}
	t, ok := a.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, taskID)
	}
	return &t, nil
}

func (a *fakeAPI) RunCrawler(ctx context.Context, crawlerType string, params models.RunCrawlerRequest) (*models.RunCrawlerResponse, error) {
	a.mu.Lock()
	a.nextID++
	id := fmt.Sprintf("N%d", a.nextID)
	a.mu.Unlock()
	a.put(models.Task{ID: id, CrawlerType: crawlerType, Status: models.StatusPending, Params: params})
	return &models.RunCrawlerResponse{TaskID: id, Status: "success"}, nil
}

func (a *fakeAPI) UpdateTask(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, taskID)
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	a.tasks[taskID] = t
	return &t, nil
}

func (a *fakeAPI) DeleteTask(ctx context.Context, taskID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tasks[taskID]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrTaskNotFound, taskID)
	}
	delete(a.tasks, taskID)
	a.order = slices.DeleteFunc(a.order, func(id string) bool { return id == taskID })
	a.deleted = append(a.deleted, taskID)
	return nil
}

func (a *fakeAPI) ListCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listCalls
}

type fakeChannels struct {
	mu       sync.Mutex
	open     map[string]live.Handlers
	opened   []string
	closed   []string
	openErr  error
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{open: make(map[string]live.Handlers)}
}

func (c *fakeChannels) Open(taskID string, h live.Handlers) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return c.openErr
	}
	if _, ok := c.open[taskID]; ok {
		return nil
	}
	c.open[taskID] = h
	c.opened = append(c.opened, taskID)
	return nil
}

func (c *fakeChannels) Close(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[taskID]; !ok {
		return
	}
	delete(c.open, taskID)
	c.closed = append(c.closed, taskID)
}

func (c *fakeChannels) IsOpen(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.open[taskID]
	return ok
}

func (c *fakeChannels) Closed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.closed)
}

type fakeSnapshots struct {
	mu      sync.Mutex
	saved   map[string]models.Task
	deleted []string
}

func (f *fakeSnapshots) SaveAll(tasks []models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]models.Task)
	}
	for _, t := range tasks {
		f.saved[t.ID] = t
	}
	return nil
}

func (f *fakeSnapshots) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func intPtr(v int) *int { return &v }

func newTestSyncer(api API, channels Channels, opts Options) *Syncer {
	opts.Logger = quietLogger()
	return NewSyncer(api, store.New(), channels, opts)
}

func TestSyncerLifecycle(t *testing.T) {
	t.Run("pending to running to completed", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", CrawlerType: "news", Status: models.StatusPending})
		channels := newFakeChannels()
		snaps := &fakeSnapshots{}
		s := newTestSyncer(api, channels, Options{Snapshots: snaps})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := s.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		s.Start(ctx)
		defer s.Stop()

		if !channels.IsOpen("T1") {
			t.Fatal("expected channel for pending task T1")
		}

		if err := s.Apply(ctx, models.StatusUpdate{TaskID: "T1", Status: models.StatusRunning, Progress: intPtr(40)}); err != nil {
			t.Fatalf("Apply(running) error = %v", err)
		}
		got, _ := s.Store().Get("T1")
		if got.Status != models.StatusRunning || got.Progress != 40 {
			t.Errorf("after running update got %s %d%%, want running 40%%", got.Status, got.Progress)
		}
		if !channels.IsOpen("T1") {
			t.Error("channel should stay open while running")
		}

		result := map[string]any{"items": float64(12)}
		if err := s.Apply(ctx, models.StatusUpdate{TaskID: "T1", Status: models.StatusCompleted, Progress: intPtr(100), Result: result}); err != nil {
			t.Fatalf("Apply(completed) error = %v", err)
		}
		got, _ = s.Store().Get("T1")
		if got.Status != models.StatusCompleted || got.Progress != 100 {
			t.Errorf("after completed update got %s %d%%, want completed 100%%", got.Status, got.Progress)
		}
		if r, ok := got.Result.(map[string]any); !ok || r["items"] != float64(12) {
			t.Errorf("Result = %#v, want %#v", got.Result, result)
		}
		if channels.IsOpen("T1") {
			t.Error("channel should be closed once the task completed")
		}
		if len(s.Watching()) != 0 {
			t.Errorf("Watching() = %v, want empty", s.Watching())
		}
		if _, ok := snaps.saved["T1"]; !ok {
			t.Error("completed task should be cached")
		}
	})

	t.Run("unknown task triggers refresh without partial insert", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", CrawlerType: "news", Status: models.StatusRunning, Progress: 10})
		s := newTestSyncer(api, nil, Options{})
		ctx := context.Background()

		if err := s.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		api.put(models.Task{ID: "T9", CrawlerType: "shop", Status: models.StatusRunning, Progress: 5})

		if err := s.Apply(ctx, models.StatusUpdate{TaskID: "T9", Status: models.StatusRunning, Progress: intPtr(70)}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if api.ListCalls() != 2 {
			t.Errorf("list calls = %d, want 2", api.ListCalls())
		}
		got, ok := s.Store().Get("T9")
		if !ok {
			t.Fatal("T9 should be loaded by the refresh")
		}
		if got.Progress != 5 || got.CrawlerType != "shop" {
			t.Errorf("T9 = %+v, want the REST snapshot (shop, 5%%)", got)
		}
	})

	t.Run("unknown task absent from the platform is not inserted", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", Status: models.StatusRunning})
		s := newTestSyncer(api, nil, Options{})
		ctx := context.Background()

		if err := s.Apply(ctx, models.StatusUpdate{TaskID: "T9", Status: models.StatusRunning}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if s.Store().Has("T9") {
			t.Error("T9 should not be inserted from a bare update")
		}
		if !s.Store().Has("T1") {
			t.Error("refresh should have loaded T1")
		}
	})

	t.Run("delete removes the task and closes its channel", func(t *testing.T) {
		api := newFakeAPI(
			models.Task{ID: "T1", Status: models.StatusRunning},
			models.Task{ID: "T2", Status: models.StatusPending},
		)
		channels := newFakeChannels()
		snaps := &fakeSnapshots{}
		s := newTestSyncer(api, channels, Options{Snapshots: snaps})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := s.Refresh(ctx); err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		s.Start(ctx)
		defer s.Stop()

		if err := s.Delete(ctx, "T1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if s.Store().Has("T1") {
			t.Error("T1 should be removed from the store")
		}
		if channels.IsOpen("T1") {
			t.Error("T1 channel should be closed")
		}
		if !channels.IsOpen("T2") {
			t.Error("T2 channel should stay open")
		}
		if !slices.Equal(s.Watching(), []string{"T2"}) {
			t.Errorf("Watching() = %v, want [T2]", s.Watching())
		}
		if !slices.Contains(snaps.deleted, "T1") {
			t.Error("cached snapshot should be dropped")
		}
	})

	t.Run("delete failure leaves the store alone", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", Status: models.StatusRunning})
		s := newTestSyncer(api, nil, Options{})
		s.Store().Add(models.Task{ID: "T2", Status: models.StatusRunning})

		err := s.Delete(context.Background(), "T2")
		if !errors.Is(err, shared.ErrTaskNotFound) {
			t.Fatalf("Delete() error = %v, want ErrTaskNotFound", err)
		}
		if !s.Store().Has("T2") {
			t.Error("T2 should remain after a failed delete")
		}
	})
}

func TestSyncerApply(t *testing.T) {
	tests := []struct {
		name       string
		from       models.TaskStatus
		update     models.StatusUpdate
		wantStatus models.TaskStatus
		wantProg   int
	}{
		{
			name:       "progress only keeps status",
			from:       models.StatusRunning,
			update:     models.StatusUpdate{TaskID: "T1", Progress: intPtr(55)},
			wantStatus: models.StatusRunning,
			wantProg:   55,
		},
		{
			name:       "terminal to running is dropped",
			from:       models.StatusCompleted,
			update:     models.StatusUpdate{TaskID: "T1", Status: models.StatusRunning, Progress: intPtr(10)},
			wantStatus: models.StatusCompleted,
			wantProg:   20,
		},
		{
			name:       "terminal to terminal is applied",
			from:       models.StatusCompleted,
			update:     models.StatusUpdate{TaskID: "T1", Status: models.StatusFailed, Error: "boom"},
			wantStatus: models.StatusFailed,
			wantProg:   20,
		},
		{
			name:       "progress is clamped",
			from:       models.StatusRunning,
			update:     models.StatusUpdate{TaskID: "T1", Status: models.StatusRunning, Progress: intPtr(140)},
			wantStatus: models.StatusRunning,
			wantProg:   100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSyncer(newFakeAPI(), nil, Options{})
			s.Store().Add(models.Task{ID: "T1", Status: tt.from, Progress: 20})

			if err := s.Apply(context.Background(), tt.update); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			got, _ := s.Store().Get("T1")
			if got.Status != tt.wantStatus || got.Progress != tt.wantProg {
				t.Errorf("got %s %d, want %s %d", got.Status, got.Progress, tt.wantStatus, tt.wantProg)
			}
		})
	}

	t.Run("publishes status events", func(t *testing.T) {
		progress := make(chan ProgressUpdate, 4)
		s := newTestSyncer(newFakeAPI(), nil, Options{Progress: progress})
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusPending})

		if err := s.Apply(context.Background(), models.StatusUpdate{TaskID: "T1", Status: models.StatusRunning, Progress: intPtr(40), Message: "crawling"}); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		select {
		case u := <-progress:
			if u.Phase != PhaseStatus || u.TaskID != "T1" || u.Step != 40 {
				t.Errorf("update = %+v", u)
			}
			if u.Message != "T1 running 40%: crawling" {
				t.Errorf("Message = %q", u.Message)
			}
		default:
			t.Fatal("expected a progress update")
		}
	})

	t.Run("full progress channel never blocks", func(t *testing.T) {
		progress := make(chan ProgressUpdate)
		s := newTestSyncer(newFakeAPI(), nil, Options{Progress: progress})
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusPending})

		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = s.Apply(context.Background(), models.StatusUpdate{TaskID: "T1", Status: models.StatusRunning})
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Apply blocked on the progress channel")
		}
	})
}

func TestSyncerHandlers(t *testing.T) {
	t.Run("open fetch adds a missing task", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T2", CrawlerType: "news", Status: models.StatusRunning, Progress: 30})
		s := newTestSyncer(api, nil, Options{})

		s.Handlers().OnOpen(context.Background(), "T2")

		got, ok := s.Store().Get("T2")
		if !ok || got.Progress != 30 {
			t.Errorf("T2 = %+v, %v; want running 30%%", got, ok)
		}
	})

	t.Run("open fetch merges into an existing task", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", CrawlerType: "news", Status: models.StatusRunning, Progress: 50})
		s := newTestSyncer(api, nil, Options{})
		s.Store().Add(models.Task{ID: "T1", CrawlerType: "news", Status: models.StatusPending, Params: map[string]any{"q": "go"}})

		s.Handlers().OnOpen(context.Background(), "T1")

		got, _ := s.Store().Get("T1")
		if got.Status != models.StatusRunning || got.Progress != 50 {
			t.Errorf("T1 = %s %d, want running 50", got.Status, got.Progress)
		}
		if got.Params["q"] != "go" {
			t.Errorf("params should be preserved, got %v", got.Params)
		}
	})

	t.Run("open fetch does not regress a finished task", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", Status: models.StatusRunning, Progress: 50})
		s := newTestSyncer(api, nil, Options{})
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusCompleted, Progress: 100})

		s.Handlers().OnOpen(context.Background(), "T1")

		got, _ := s.Store().Get("T1")
		if got.Status != models.StatusCompleted {
			t.Errorf("status = %s, want completed", got.Status)
		}
	})

	t.Run("message handler applies updates", func(t *testing.T) {
		s := newTestSyncer(newFakeAPI(), nil, Options{})
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusPending})

		s.Handlers().OnMessage(models.StatusUpdate{TaskID: "T1", Status: models.StatusRunning, Progress: intPtr(5)})

		got, _ := s.Store().Get("T1")
		if got.Status != models.StatusRunning || got.Progress != 5 {
			t.Errorf("T1 = %s %d, want running 5", got.Status, got.Progress)
		}
	})
}

func TestSyncerWatcher(t *testing.T) {
	t.Run("opens channels for tasks added later", func(t *testing.T) {
		channels := newFakeChannels()
		s := newTestSyncer(newFakeAPI(), channels, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s.Start(ctx)
		defer s.Stop()

		s.Store().Add(models.Task{ID: "T1", Status: models.StatusRunning})
		s.Store().Add(models.Task{ID: "T2", Status: models.StatusCompleted})

		if !channels.IsOpen("T1") {
			t.Error("expected channel for T1")
		}
		if channels.IsOpen("T2") {
			t.Error("completed tasks should not get a channel")
		}
	})

	t.Run("reset closes channels for vanished tasks", func(t *testing.T) {
		channels := newFakeChannels()
		s := newTestSyncer(newFakeAPI(), channels, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusRunning})
		s.Start(ctx)
		defer s.Stop()

		s.Store().SetAll([]models.Task{{ID: "T3", Status: models.StatusPending}})

		if channels.IsOpen("T1") || !channels.IsOpen("T3") {
			t.Errorf("open channels wrong: T1=%v T3=%v", channels.IsOpen("T1"), channels.IsOpen("T3"))
		}
	})

	t.Run("stop closes everything and ignores later changes", func(t *testing.T) {
		channels := newFakeChannels()
		s := newTestSyncer(newFakeAPI(), channels, Options{})
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusRunning})
		s.Start(context.Background())

		s.Stop()
		s.Store().Add(models.Task{ID: "T2", Status: models.StatusRunning})

		if channels.IsOpen("T1") || channels.IsOpen("T2") {
			t.Error("no channels should be open after Stop")
		}
	})

	t.Run("context cancellation stops the watcher", func(t *testing.T) {
		channels := newFakeChannels()
		s := newTestSyncer(newFakeAPI(), channels, Options{})
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusRunning})
		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx)
		cancel()

		deadline := time.Now().Add(2 * time.Second)
		for channels.IsOpen("T1") && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if channels.IsOpen("T1") {
			t.Error("channel should close when the context ends")
		}
	})

	t.Run("failed open is retried on the next change", func(t *testing.T) {
		channels := newFakeChannels()
		channels.openErr = errors.New("bad origin")
		s := newTestSyncer(newFakeAPI(), channels, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s.Store().Add(models.Task{ID: "T1", Status: models.StatusRunning})
		s.Start(ctx)
		defer s.Stop()

		if len(s.Watching()) != 0 {
			t.Fatalf("Watching() = %v, want empty after failed open", s.Watching())
		}

		channels.mu.Lock()
		channels.openErr = nil
		channels.mu.Unlock()
		s.Store().Add(models.Task{ID: "T2", Status: models.StatusPending})

		if !channels.IsOpen("T1") || !channels.IsOpen("T2") {
			t.Error("both channels should be open")
		}
	})
}

func TestSyncerActions(t *testing.T) {
	t.Run("create adds the fetched task", func(t *testing.T) {
		api := newFakeAPI()
		progress := make(chan ProgressUpdate, 4)
		s := newTestSyncer(api, nil, Options{Progress: progress})

		task, err := s.Create(context.Background(), "news", models.RunCrawlerRequest{"query": "go"})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if task.ID != "N1" || task.CrawlerType != "news" {
			t.Errorf("task = %+v", task)
		}
		if !s.Store().Has("N1") {
			t.Error("new task should be in the store")
		}
		if s.Store().Tasks()[0].ID != "N1" {
			t.Error("new task should be first")
		}
	})

	t.Run("create falls back to a pending placeholder", func(t *testing.T) {
		api := newFakeAPI()
		api.taskErr = errors.New("flaky")
		s := newTestSyncer(api, nil, Options{})

		task, err := s.Create(context.Background(), "shop", models.RunCrawlerRequest{"url": "https://example.com"})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if task.Status != models.StatusPending || task.CrawlerType != "shop" || task.Params["url"] != "https://example.com" {
			t.Errorf("placeholder = %+v", task)
		}
	})

	t.Run("create requires a crawler type", func(t *testing.T) {
		s := newTestSyncer(newFakeAPI(), nil, Options{})
		if _, err := s.Create(context.Background(), "", nil); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("Create() error = %v, want ErrMissingArgument", err)
		}
	})

	t.Run("cancel merges the cancelled snapshot", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", Status: models.StatusRunning, Progress: 60})
		channels := newFakeChannels()
		s := newTestSyncer(api, channels, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		s.Start(ctx)
		defer s.Stop()

		task, err := s.Cancel(ctx, "T1")
		if err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}
		if task.Status != models.StatusCancelled {
			t.Errorf("returned status = %s", task.Status)
		}
		got, _ := s.Store().Get("T1")
		if got.Status != models.StatusCancelled {
			t.Errorf("store status = %s, want cancelled", got.Status)
		}
		if channels.IsOpen("T1") {
			t.Error("cancelled task channel should close")
		}
	})

	t.Run("poll refreshes until cancelled", func(t *testing.T) {
		api := newFakeAPI(models.Task{ID: "T1", Status: models.StatusRunning})
		s := newTestSyncer(api, nil, Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		if err := s.Poll(ctx, 20*time.Millisecond, time.Millisecond); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if api.ListCalls() < 2 {
			t.Errorf("list calls = %d, want at least 2", api.ListCalls())
		}
		if !s.Store().Has("T1") {
			t.Error("poll should load tasks")
		}
	})

	t.Run("poll rejects a non-positive interval", func(t *testing.T) {
		s := newTestSyncer(newFakeAPI(), nil, Options{})
		if err := s.Poll(context.Background(), 0, 0); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("Poll() error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("completed ids", func(t *testing.T) {
		s := newTestSyncer(newFakeAPI(), nil, Options{})
		s.Store().SetAll([]models.Task{
			{ID: "T3", Status: models.StatusCompleted},
			{ID: "T2", Status: models.StatusFailed},
			{ID: "T1", Status: models.StatusCompleted},
		})
		if got := s.CompletedIDs(); !slices.Equal(got, []string{"T3", "T1"}) {
			t.Errorf("CompletedIDs() = %v", got)
		}
	})
}
