package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/live"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/store"
	"github.com/desertthunder/crawlctl/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	TaskListView ViewState = iota
	TaskDetailView
	CrawlerPickView
	ParamsView
	ConfirmDeleteView
)

// CrawlerSource lists the crawlers a new task can run.
type CrawlerSource interface {
	Crawlers(ctx context.Context) ([]models.CrawlerInfo, error)
}

// ChannelStates reports the state of every live channel.
type ChannelStates interface {
	Snapshot() map[string]live.State
}

// Options are the dashboard's dependencies.
type Options struct {
	Syncer   *tasks.Syncer
	Crawlers CrawlerSource
	Channels ChannelStates // optional
	Progress <-chan tasks.ProgressUpdate

	ExportDir    string
	ExportFormat formatter.Format
	// Poll enables the periodic refresh fallback when positive.
	Poll time.Duration
	// Tick is how often the channel status line is refreshed.
	Tick time.Duration
}

// Model represents the TUI application state.
type Model struct {
	ctx  context.Context
	opts Options
	view ViewState
	prev ViewState

	width  int
	height int

	taskList    list.Model
	crawlerList list.Model
	params      textinput.Model
	bar         progress.Model

	selectedID string
	crawler    *models.CrawlerInfo
	channels   map[string]live.State

	status string
	err    error
	help   help.Model
	keys   keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	if opts.ExportFormat == "" {
		opts.ExportFormat = formatter.FormatJSON
	}

	taskList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	taskList.Title = "Crawl Tasks"
	taskList.SetShowHelp(false)

	crawlerList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	crawlerList.Title = "Run a Crawler"
	crawlerList.SetShowHelp(false)

	params := textinput.New()
	params.Placeholder = "key=value key=value"
	params.Prompt = "params> "

	return &Model{
		ctx:         ctx,
		opts:        opts,
		view:        TaskListView,
		taskList:    taskList,
		crawlerList: crawlerList,
		params:      params,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// State returns the current view.
func (m *Model) State() ViewState { return m.view }

// Init loads tasks and crawlers and starts listening for progress events.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.fetchCrawlers(), m.waitForProgress(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.taskList.SetSize(msg.Width-4, msg.Height-8)
		m.crawlerList.SetSize(msg.Width-4, msg.Height-8)
		m.bar.Width = min(60, max(10, msg.Width-10))
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case TaskListView:
			return m.handleTaskListKeys(msg)
		case TaskDetailView:
			return m.handleDetailKeys(msg)
		case CrawlerPickView:
			return m.handleCrawlerKeys(msg)
		case ParamsView:
			return m.handleParamsKeys(msg)
		case ConfirmDeleteView:
			return m.handleConfirmKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgStoreChanged:
		return m, m.syncItems()

	case MsgTasksRefreshed:
		if err, _ := msg.data.(error); err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		return m, m.syncItems()

	case MsgCrawlersFetched:
		res := msg.data.(result[[]models.CrawlerInfo])
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		return m, m.crawlerList.SetItems(crawlerItems(res.value))

	case MsgTaskCreated:
		res := msg.data.(result[*models.Task])
		m.view = TaskListView
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("Started %s (task %s)", res.value.CrawlerType, res.value.ID)
		return m, m.syncItems()

	case MsgTaskCancelled:
		res := msg.data.(result[*models.Task])
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.status = fmt.Sprintf("Cancelled task %s", res.value.ID)
		return m, nil

	case MsgTaskDeleted:
		res := msg.data.(result[string])
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.status = fmt.Sprintf("Deleted task %s", res.value)
		if m.selectedID == res.value {
			m.selectedID = ""
			m.view = TaskListView
		}
		return m, m.syncItems()

	case MsgResultExported:
		res := msg.data.(result[string])
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.status = fmt.Sprintf("Saved result to %s", res.value)
		return m, nil

	case MsgProgressUpdate:
		update := msg.data.(tasks.ProgressUpdate)
		m.status = update.Message
		return m, m.waitForProgress()

	case MsgTick:
		if m.opts.Channels != nil {
			m.channels = m.opts.Channels.Snapshot()
		}
		return m, m.tick()
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	var body string
	switch m.view {
	case TaskListView:
		body = m.renderTaskList()
	case TaskDetailView:
		body = m.renderDetail()
	case CrawlerPickView:
		body = m.renderCrawlerPick()
	case ParamsView:
		body = m.renderParams()
	case ConfirmDeleteView:
		body = m.renderConfirm()
	}
	return fmt.Sprintf("%s\n%s", body, m.statusLine())
}

func (m *Model) handleTaskListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.taskList.FilterState() == list.Filtering {
		return m.updateLists(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.enter):
		if t, ok := m.selectedTask(); ok {
			m.selectedID = t.ID
			m.view = TaskDetailView
		}
		return m, nil
	case key.Matches(msg, m.keys.run):
		m.view = CrawlerPickView
		return m, nil
	case key.Matches(msg, m.keys.refresh):
		m.status = "Refreshing..."
		return m, m.refresh()
	}
	if cmd, ok := m.handleTaskAction(msg); ok {
		return m, cmd
	}
	return m.updateLists(msg)
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = TaskListView
		return m, nil
	}
	cmd, _ := m.handleTaskAction(msg)
	return m, cmd
}

// handleTaskAction runs the cancel, delete and export keys shared by the list and detail views.
func (m *Model) handleTaskAction(msg tea.KeyMsg) (tea.Cmd, bool) {
	t, ok := m.selectedTask()
	if !ok {
		return nil, false
	}
	switch {
	case key.Matches(msg, m.keys.cancel):
		if !t.Active() {
			m.status = fmt.Sprintf("Task %s is already %s", t.ID, t.Status)
			return nil, true
		}
		return m.cancelTask(t.ID), true
	case key.Matches(msg, m.keys.del):
		m.selectedID = t.ID
		m.prev = m.view
		m.view = ConfirmDeleteView
		return nil, true
	case key.Matches(msg, m.keys.export):
		if t.Status != models.StatusCompleted {
			m.status = fmt.Sprintf("Task %s has no result yet", t.ID)
			return nil, true
		}
		return m.exportResult(t), true
	}
	return nil, false
}

func (m *Model) handleCrawlerKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.crawlerList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.crawlerList, cmd = m.crawlerList.Update(msg)
		return m, cmd
	}

	switch {
	case msg.String() == "ctrl+c":
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = TaskListView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		item, ok := m.crawlerList.SelectedItem().(crawlerItem)
		if !ok {
			return m, nil
		}
		c := item.crawler
		m.crawler = &c
		if len(c.Parameters) == 0 && len(c.OptionalParameters) == 0 {
			return m, m.createTask(c.Name, nil)
		}
		var prefill []string
		for _, p := range c.Parameters {
			prefill = append(prefill, p+"=")
		}
		m.params.SetValue(strings.Join(prefill, " "))
		m.params.CursorEnd()
		m.view = ParamsView
		return m, m.params.Focus()
	}

	var cmd tea.Cmd
	m.crawlerList, cmd = m.crawlerList.Update(msg)
	return m, cmd
}

func (m *Model) handleParamsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.params.Blur()
		m.view = CrawlerPickView
		return m, nil
	case "enter":
		params, err := models.ParseRunParams(strings.Fields(m.params.Value()))
		if err != nil {
			m.err = err
			return m, nil
		}
		m.err = nil
		m.params.Blur()
		return m, m.createTask(m.crawler.Name, params)
	}

	var cmd tea.Cmd
	m.params, cmd = m.params.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = m.prev
		return m, m.deleteTask(m.selectedID)
	case key.Matches(msg, m.keys.no), msg.String() == "q":
		m.view = m.prev
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case TaskListView:
		m.taskList, cmd = m.taskList.Update(msg)
	case CrawlerPickView:
		m.crawlerList, cmd = m.crawlerList.Update(msg)
	}
	return m, cmd
}

// selectedTask returns the task under the cursor, or the task open in the detail view.
func (m *Model) selectedTask() (models.Task, bool) {
	if m.view == TaskDetailView || m.view == ConfirmDeleteView {
		return m.opts.Syncer.Store().Get(m.selectedID)
	}
	item, ok := m.taskList.SelectedItem().(taskItem)
	if !ok {
		return models.Task{}, false
	}
	return m.opts.Syncer.Store().Get(item.task.ID)
}

func (m *Model) syncItems() tea.Cmd {
	return m.taskList.SetItems(taskItems(m.opts.Syncer.Store().Tasks()))
}

func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		return tasksRefreshedMsg(m.opts.Syncer.Refresh(m.ctx))
	}
}

func (m *Model) fetchCrawlers() tea.Cmd {
	if m.opts.Crawlers == nil {
		return nil
	}
	return func() tea.Msg {
		crawlers, err := m.opts.Crawlers.Crawlers(m.ctx)
		return crawlersFetchedMsg(crawlers, err)
	}
}

func (m *Model) createTask(crawlerType string, params models.RunCrawlerRequest) tea.Cmd {
	m.status = fmt.Sprintf("Starting %s...", crawlerType)
	return func() tea.Msg {
		task, err := m.opts.Syncer.Create(m.ctx, crawlerType, params)
		return taskCreatedMsg(task, err)
	}
}

func (m *Model) cancelTask(id string) tea.Cmd {
	return func() tea.Msg {
		task, err := m.opts.Syncer.Cancel(m.ctx, id)
		return taskCancelledMsg(task, err)
	}
}

func (m *Model) deleteTask(id string) tea.Cmd {
	return func() tea.Msg {
		return taskDeletedMsg(id, m.opts.Syncer.Delete(m.ctx, id))
	}
}

func (m *Model) exportResult(t models.Task) tea.Cmd {
	dir, f := m.opts.ExportDir, m.opts.ExportFormat
	return func() tea.Msg {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return resultExportedMsg("", fmt.Errorf("failed to create export directory: %w", err))
		}
		path, err := formatter.WriteResultExport(t, dir, f)
		return resultExportedMsg(path, err)
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	if m.opts.Progress == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-m.opts.Progress
		if !ok {
			return nil
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Tick, func(time.Time) tea.Msg { return tickMsg() })
}

func (m *Model) renderTaskList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.run, m.keys.cancel, m.keys.del, m.keys.refresh, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.taskList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderDetail() string {
	t, ok := m.opts.Syncer.Store().Get(m.selectedID)
	if !ok {
		return styles.warn.Render("Task no longer exists\n\nPress esc to go back")
	}
	title := styles.title.Render(fmt.Sprintf("Task %s", t.ID))
	status := styles.ForStatus(t.Status).Render(string(t.Status))
	bar := m.bar.ViewAs(float64(t.Progress) / 100)
	details := strings.TrimRight(string(formatter.TaskToText(t)), "\n")

	helpKeys := []key.Binding{m.keys.back, m.keys.cancel, m.keys.del, m.keys.export, m.keys.quit}
	return fmt.Sprintf("%s\n%s  %s\n\n%s\n\n%s", title, status, bar, details, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderCrawlerPick() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.back}
	return fmt.Sprintf("%s\n\n%s", m.crawlerList.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderParams() string {
	name := ""
	if m.crawler != nil {
		name = m.crawler.Name
	}
	title := styles.title.Render(fmt.Sprintf("Run %s", name))
	var hint string
	if m.crawler != nil && len(m.crawler.OptionalParameters) > 0 {
		hint = styles.help.Render("optional: " + strings.Join(m.crawler.OptionalParameters, ", "))
	}
	helpKeys := []key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "start")),
		m.keys.back,
	}
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, m.params.View(), hint, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Delete task %s?", m.selectedID))
	info := "The task and its result are removed from the platform."
	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	return fmt.Sprintf("%s\n%s\n\n%s", title, info, m.help.ShortHelpView(helpKeys))
}

// statusLine summarizes live channels and the latest event or error.
func (m *Model) statusLine() string {
	counts := map[live.State]int{}
	for _, st := range m.channels {
		counts[st]++
	}
	states := []live.State{live.StateOpen, live.StateConnecting, live.StateBackoff, live.StateIdle}
	var parts []string
	for _, st := range states {
		if counts[st] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[st], st))
		}
	}
	channels := "live: none"
	if len(parts) > 0 {
		channels = "live: " + strings.Join(parts, ", ")
	}

	msg := m.status
	if m.err != nil {
		msg = styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	}
	return styles.status.Render(fmt.Sprintf("%s │ %s", channels, msg))
}

// Run starts the dashboard and blocks until the user quits or ctx is done.
//
// The syncer's channel watcher runs for the lifetime of the dashboard, and store changes are forwarded
// to the model.
func Run(ctx context.Context, opts Options) error {
	if opts.Syncer == nil {
		return errors.New("dashboard requires a task syncer")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewModel(ctx, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := opts.Syncer.Store().Subscribe(func(c store.Change) { p.Send(StoreChanged(c)) })
	defer unsubscribe()

	opts.Syncer.Start(ctx)
	defer opts.Syncer.Stop()

	if opts.Poll > 0 {
		go func() { _ = opts.Syncer.Poll(ctx, opts.Poll, 0) }()
	}

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
