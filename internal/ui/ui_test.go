package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/crawlctl/internal/live"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
	"github.com/desertthunder/crawlctl/internal/store"
	"github.com/desertthunder/crawlctl/internal/tasks"
	tu "github.com/desertthunder/crawlctl/internal/testing"
)

type fakeAPI struct {
	mu     sync.Mutex
	tasks  map[string]models.Task
	order  []string
	nextID int
	runs   []models.RunCrawlerRequest
}

func newFakeAPI(ts ...models.Task) *fakeAPI {
	a := &fakeAPI{tasks: make(map[string]models.Task)}
	for _, t := range ts {
		a.tasks[t.ID] = t
		a.order = append(a.order, t.ID)
	}
	return a
}

func (a *fakeAPI) Tasks(ctx context.Context, q models.TaskQuery) (*models.TaskListResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Task, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.tasks[id])
	}
	return &models.TaskListResponse{Total: len(out), Tasks: out}, nil
}

func (a *fakeAPI) Task(ctx context.Context, taskID string) (*models.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, taskID)
	}
	return &t, nil
}

func (a *fakeAPI) RunCrawler(ctx context.Context, crawlerType string, params models.RunCrawlerRequest) (*models.RunCrawlerResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := fmt.Sprintf("N%d", a.nextID)
	a.tasks[id] = models.Task{ID: id, CrawlerType: crawlerType, Status: models.StatusPending, Params: params}
	a.order = append([]string{id}, a.order...)
	a.runs = append(a.runs, params)
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
	for i, id := range a.order {
		if id == taskID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return nil
}

type fakeCrawlers struct {
	crawlers []models.CrawlerInfo
	err      error
}

func (f fakeCrawlers) Crawlers(ctx context.Context) ([]models.CrawlerInfo, error) {
	return f.crawlers, f.err
}

type fakeStates map[string]live.State

func (f fakeStates) Snapshot() map[string]live.State { return f }

var testCrawlers = []models.CrawlerInfo{
	{Name: "yahoo", DisplayName: "Yahoo Finance", Parameters: []string{"symbol"}, OptionalParameters: []string{"limit"}},
	{Name: "movies", DisplayName: "Movies"},
	{Name: "legacy", Status: "disabled"},
}

func newTestModel(t *testing.T, api *fakeAPI, opts Options) *Model {
	t.Helper()
	opts.Syncer = tasks.NewSyncer(api, store.New(), nil, tasks.Options{Logger: log.New(io.Discard)})
	if opts.Crawlers == nil {
		opts.Crawlers = fakeCrawlers{crawlers: testCrawlers}
	}
	m := NewModel(context.Background(), opts)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	enterKey = tea.KeyMsg{Type: tea.KeyEnter}
	escKey   = tea.KeyMsg{Type: tea.KeyEsc}
)

// exec runs cmd and feeds its message back into the model.
func exec(t *testing.T, m *Model, cmd tea.Cmd) tea.Msg {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	msg := cmd()
	m.Update(msg)
	return msg
}

func refresh(t *testing.T, m *Model) {
	t.Helper()
	exec(t, m, m.refresh())
}

func TestModel(t *testing.T) {
	running := models.Task{ID: "T1", CrawlerType: "movies", Status: models.StatusRunning, Progress: 40}
	done := models.Task{ID: "T2", CrawlerType: "jobs", Status: models.StatusCompleted, Progress: 100, Result: map[string]any{"count": 2}}

	t.Run("Messages", func(t *testing.T) {
		t.Run("refresh fills the task list", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(running, done), Options{})
			refresh(t, m)

			if got := len(m.taskList.Items()); got != 2 {
				t.Fatalf("expected 2 items, got %d", got)
			}
			if m.err != nil {
				t.Errorf("unexpected error: %v", m.err)
			}
		})

		t.Run("refresh error is shown in the status line", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(), Options{})
			m.Update(tasksRefreshedMsg(errors.New("boom")))

			if !strings.Contains(m.View(), "boom") {
				t.Errorf("expected error in view, got %q", m.View())
			}
		})

		t.Run("store changes resync the list", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(), Options{})
			m.opts.Syncer.Store().Add(running)
			m.Update(StoreChanged(store.Change{Kind: store.ChangeAdd, TaskID: "T1"}))

			if got := len(m.taskList.Items()); got != 1 {
				t.Fatalf("expected 1 item, got %d", got)
			}
		})

		t.Run("crawlers skip inactive entries", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(), Options{})
			exec(t, m, m.fetchCrawlers())

			if got := len(m.crawlerList.Items()); got != 2 {
				t.Errorf("expected 2 crawlers, got %d", got)
			}
		})

		t.Run("progress updates become the status", func(t *testing.T) {
			progress := make(chan tasks.ProgressUpdate, 1)
			m := newTestModel(t, newFakeAPI(), Options{Progress: progress})
			progress <- tasks.ProgressUpdate{Phase: tasks.PhaseStatus, TaskID: "T1", Message: "T1 running 40%"}

			cmd := m.waitForProgress()
			_, next := m.Update(cmd())
			if m.status != "T1 running 40%" {
				t.Errorf("expected status from progress update, got %q", m.status)
			}
			if next == nil {
				t.Error("expected model to keep listening for progress")
			}
		})

		t.Run("tick counts channel states", func(t *testing.T) {
			states := fakeStates{"T1": live.StateOpen, "T2": live.StateOpen, "T3": live.StateBackoff}
			m := newTestModel(t, newFakeAPI(), Options{Channels: states})
			m.Update(tickMsg())

			line := m.statusLine()
			if !strings.Contains(line, "2 open") || !strings.Contains(line, "1 backoff") {
				t.Errorf("unexpected status line %q", line)
			}
		})

		t.Run("no channels", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(), Options{})
			if !strings.Contains(m.statusLine(), "live: none") {
				t.Errorf("unexpected status line %q", m.statusLine())
			}
		})
	})

	t.Run("Navigation", func(t *testing.T) {
		t.Run("enter opens the detail view", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(running), Options{})
			refresh(t, m)

			m.Update(enterKey)
			if m.State() != TaskDetailView {
				t.Fatalf("expected detail view, got %v", m.State())
			}
			if !strings.Contains(m.View(), "T1") {
				t.Errorf("expected task id in detail view")
			}

			m.Update(escKey)
			if m.State() != TaskListView {
				t.Errorf("expected list view after esc, got %v", m.State())
			}
		})

		t.Run("detail view survives a removed task", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(running), Options{})
			refresh(t, m)
			m.Update(enterKey)
			m.opts.Syncer.Store().Remove("T1")

			if !strings.Contains(m.View(), "no longer exists") {
				t.Errorf("expected missing task notice, got %q", m.View())
			}
		})

		t.Run("quit", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(), Options{})
			_, cmd := m.Update(runes("q"))
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected tea.QuitMsg")
			}
		})
	})

	t.Run("Actions", func(t *testing.T) {
		t.Run("new crawl with parameters", func(t *testing.T) {
			api := newFakeAPI()
			m := newTestModel(t, api, Options{})
			exec(t, m, m.fetchCrawlers())

			m.Update(runes("n"))
			if m.State() != CrawlerPickView {
				t.Fatalf("expected crawler pick view, got %v", m.State())
			}

			m.Update(enterKey)
			if m.State() != ParamsView {
				t.Fatalf("expected params view, got %v", m.State())
			}
			if got := m.params.Value(); got != "symbol=" {
				t.Errorf("expected prefilled params, got %q", got)
			}

			m.params.SetValue("symbol=AAPL limit=5")
			_, cmd := m.Update(enterKey)
			exec(t, m, cmd)

			if m.State() != TaskListView {
				t.Errorf("expected list view after create, got %v", m.State())
			}
			if !m.opts.Syncer.Store().Has("N1") {
				t.Fatal("expected created task in store")
			}
			if len(api.runs) != 1 || api.runs[0]["symbol"] != "AAPL" || api.runs[0]["limit"] != 5 {
				t.Errorf("unexpected run params %v", api.runs)
			}
			if !strings.Contains(m.status, "N1") {
				t.Errorf("expected created task in status, got %q", m.status)
			}
		})

		t.Run("crawler without parameters starts immediately", func(t *testing.T) {
			api := newFakeAPI()
			m := newTestModel(t, api, Options{})
			exec(t, m, m.fetchCrawlers())

			m.Update(runes("n"))
			m.Update(tea.KeyMsg{Type: tea.KeyDown})
			_, cmd := m.Update(enterKey)
			exec(t, m, cmd)

			task, ok := m.opts.Syncer.Store().Get("N1")
			if !ok || task.CrawlerType != "movies" {
				t.Errorf("expected movies task, got %+v", task)
			}
		})

		t.Run("invalid parameters stay on the form", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(), Options{})
			exec(t, m, m.fetchCrawlers())
			m.Update(runes("n"))
			m.Update(enterKey)

			m.params.SetValue("symbol")
			_, cmd := m.Update(enterKey)
			if cmd != nil {
				t.Error("expected no command for invalid params")
			}
			if m.State() != ParamsView || m.err == nil {
				t.Errorf("expected params view with error, got %v %v", m.State(), m.err)
			}
		})

		t.Run("cancel", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(running), Options{})
			refresh(t, m)

			_, cmd := m.Update(runes("c"))
			exec(t, m, cmd)

			task, _ := m.opts.Syncer.Store().Get("T1")
			if task.Status != models.StatusCancelled {
				t.Errorf("expected cancelled, got %s", task.Status)
			}
		})

		t.Run("cancel a finished task", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(done), Options{})
			refresh(t, m)

			_, cmd := m.Update(runes("c"))
			if cmd != nil {
				t.Error("expected no command")
			}
			if !strings.Contains(m.status, "already completed") {
				t.Errorf("unexpected status %q", m.status)
			}
		})

		t.Run("delete asks for confirmation", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(running, done), Options{})
			refresh(t, m)

			m.Update(runes("d"))
			if m.State() != ConfirmDeleteView {
				t.Fatalf("expected confirm view, got %v", m.State())
			}
			m.Update(runes("n"))
			if m.State() != TaskListView || !m.opts.Syncer.Store().Has("T1") {
				t.Fatal("expected declined delete to keep the task")
			}

			m.Update(runes("d"))
			_, cmd := m.Update(runes("y"))
			exec(t, m, cmd)

			if m.opts.Syncer.Store().Has("T1") {
				t.Error("expected task removed")
			}
			if got := len(m.taskList.Items()); got != 1 {
				t.Errorf("expected 1 remaining item, got %d", got)
			}
		})

		t.Run("delete from the detail view returns to the list", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(running), Options{})
			refresh(t, m)
			m.Update(enterKey)

			m.Update(runes("d"))
			_, cmd := m.Update(runes("y"))
			exec(t, m, cmd)

			if m.State() != TaskListView {
				t.Errorf("expected list view, got %v", m.State())
			}
		})

		t.Run("export a completed result", func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "results")
			m := newTestModel(t, newFakeAPI(done), Options{ExportDir: dir})
			refresh(t, m)

			_, cmd := m.Update(runes("e"))
			exec(t, m, cmd)

			tu.AssertFileExists(t, filepath.Join(dir, "T2.json"))
			if !strings.Contains(m.status, "T2.json") {
				t.Errorf("unexpected status %q", m.status)
			}
		})

		t.Run("export needs a result", func(t *testing.T) {
			m := newTestModel(t, newFakeAPI(running), Options{ExportDir: t.TempDir()})
			refresh(t, m)

			_, cmd := m.Update(runes("e"))
			if cmd != nil {
				t.Error("expected no command")
			}
			if !strings.Contains(m.status, "no result") {
				t.Errorf("unexpected status %q", m.status)
			}
		})
	})
}
