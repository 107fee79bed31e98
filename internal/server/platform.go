package server

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// DefaultCrawlers are the crawler types the development platform offers.
var DefaultCrawlers = []models.CrawlerInfo{
	{
		Name:        "yahoo",
		DisplayName: "Yahoo Finance",
		Description: "Stock quotes (price, market cap) for a ticker symbol",
		Parameters:  []string{"symbol"},
		Status:      "active",
	},
	{
		Name:               "movies",
		DisplayName:        "Douban Movies Top 250",
		Description:        "Top rated movies with score and year",
		OptionalParameters: []string{"max_pages"},
		Status:             "active",
	},
	{
		Name:               "jobs",
		DisplayName:        "Remotive Jobs",
		Description:        "Remote job postings with company and salary",
		OptionalParameters: []string{"category", "search"},
		Status:             "active",
	},
	{
		Name:        "weibo",
		DisplayName: "Weibo Trending",
		Description: "Real-time trending topics",
		Status:      "active",
	},
	{
		Name:        "rednote",
		DisplayName: "RedNote Discover",
		Description: "Recommended posts from the discover page",
		Status:      "active",
	},
	{
		Name:        "prosettings",
		DisplayName: "CS2 Pro Settings",
		Description: "Mouse settings of professional CS2 players",
		Status:      "active",
	},
}

type account struct {
	user models.User
	hash []byte
}

// Platform is the in-memory state of the development platform: accounts, crawlers and tasks.
type Platform struct {
	mu       sync.RWMutex
	accounts map[string]*account // by user id
	names    map[string]string   // username -> user id
	crawlers []models.CrawlerInfo
	tasks    map[string]*models.Task
	order    []string // task ids, oldest first

	hub     *Hub
	started time.Time
	now     func() time.Time
}

// NewPlatform creates an empty platform offering crawlers, or [DefaultCrawlers] when none are given.
func NewPlatform(hub *Hub, crawlers ...models.CrawlerInfo) *Platform {
	if len(crawlers) == 0 {
		crawlers = DefaultCrawlers
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Platform{
		accounts: make(map[string]*account),
		names:    make(map[string]string),
		crawlers: slices.Clone(crawlers),
		tasks:    make(map[string]*models.Task),
		hub:      hub,
		started:  time.Now(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Hub returns the event hub tasks publish to.
func (p *Platform) Hub() *Hub { return p.hub }

// Register creates an account. The first account and any created with admin set are administrators.
func (p *Platform) Register(req models.RegisterRequest, admin bool) (models.User, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return models.User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.names[strings.ToLower(req.Username)]; ok {
		return models.User{}, fmt.Errorf("%w: username already registered", shared.ErrInvalidInput)
	}

	now := models.NewTimestamp(p.now())
	user := models.User{
		ID:        shared.GenerateID(),
		Username:  req.Username,
		Email:     req.Email,
		IsActive:  true,
		IsAdmin:   admin || len(p.accounts) == 0,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	p.accounts[user.ID] = &account{user: user, hash: hash}
	p.names[strings.ToLower(req.Username)] = user.ID
	return user, nil
}

// Authenticate checks a username and password and records the login.
func (p *Platform) Authenticate(username, password string) (models.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.names[strings.ToLower(username)]
	if !ok {
		return models.User{}, fmt.Errorf("%w: incorrect username or password", shared.ErrAuthFailed)
	}
	acct := p.accounts[id]
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return models.User{}, fmt.Errorf("%w: incorrect username or password", shared.ErrAuthFailed)
	}
	if !acct.user.IsActive {
		return models.User{}, fmt.Errorf("%w: inactive user", shared.ErrForbidden)
	}
	now := models.NewTimestamp(p.now())
	acct.user.LastLogin = &now
	return acct.user, nil
}

// User returns the account with the given id.
func (p *Platform) User(id string) (models.User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acct, ok := p.accounts[id]
	if !ok {
		return models.User{}, fmt.Errorf("%w: user %s", shared.ErrNotFound, id)
	}
	return acct.user, nil
}

// Users lists accounts by creation time.
func (p *Platform) Users(skip, limit int) []models.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]models.User, 0, len(p.accounts))
	for _, acct := range p.accounts {
		users = append(users, acct.user)
	}
	slices.SortFunc(users, func(a, b models.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return page(users, skip, limit)
}

// DeleteUser removes an account. Administrators cannot delete themselves.
func (p *Platform) DeleteUser(actorID, id string) error {
	if actorID == id {
		return fmt.Errorf("%w: cannot delete yourself", shared.ErrInvalidInput)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	acct, ok := p.accounts[id]
	if !ok {
		return fmt.Errorf("%w: user not found", shared.ErrNotFound)
	}
	delete(p.accounts, id)
	delete(p.names, strings.ToLower(acct.user.Username))
	return nil
}

// Crawlers lists the offered crawlers.
func (p *Platform) Crawlers() []models.CrawlerInfo {
	return slices.Clone(p.crawlers)
}

// Crawler looks up a crawler by name.
func (p *Platform) Crawler(name string) (models.CrawlerInfo, error) {
	for _, c := range p.crawlers {
		if c.Name == name {
			return c, nil
		}
	}
	return models.CrawlerInfo{}, fmt.Errorf("%w: crawler '%s' not found", shared.ErrCrawlerNotFound, name)
}

// RunCrawler creates a pending task for userID. Required crawler parameters must be present.
func (p *Platform) RunCrawler(userID, crawlerType string, params models.RunCrawlerRequest) (models.Task, error) {
	info, err := p.Crawler(crawlerType)
	if err != nil {
		return models.Task{}, err
	}
	for _, name := range info.Parameters {
		if v, ok := params[name]; !ok || v == nil || v == "" {
			return models.Task{}, fmt.Errorf("%w: missing required parameter '%s'", shared.ErrInvalidInput, name)
		}
	}

	task := models.Task{
		ID:          shared.GenerateID(),
		CrawlerType: crawlerType,
		Status:      models.StatusPending,
		Params:      map[string]any(params),
		CreatedAt:   models.NewTimestamp(p.now()),
		UserID:      userID,
	}
	if task.Params == nil {
		task.Params = map[string]any{}
	}

	p.mu.Lock()
	p.tasks[task.ID] = &task
	p.order = append(p.order, task.ID)
	p.mu.Unlock()
	return task.Clone(), nil
}

// Task returns a task. A non-empty userID restricts the lookup to that user's tasks.
func (p *Platform) Task(userID, id string) (models.Task, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, err := p.lookup(userID, id)
	if err != nil {
		return models.Task{}, err
	}
	return t.Clone(), nil
}

// Tasks lists tasks newest first. A non-empty userID restricts the list to that user's tasks.
func (p *Platform) Tasks(userID string, q models.TaskQuery) models.TaskListResponse {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}

	p.mu.RLock()
	var matched []models.Task
	for i := len(p.order) - 1; i >= 0; i-- {
		t := p.tasks[p.order[i]]
		if userID != "" && t.UserID != userID {
			continue
		}
		if q.Status != "" && string(t.Status) != q.Status {
			continue
		}
		if q.CrawlerType != "" && t.CrawlerType != q.CrawlerType {
			continue
		}
		matched = append(matched, t.Clone())
	}
	p.mu.RUnlock()

	return models.TaskListResponse{
		Total:    len(matched),
		Tasks:    page(matched, (q.Page-1)*q.PageSize, q.PageSize),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
}

// UpdateTask applies a patch and publishes the change. Finished tasks only accept moves between finished states.
func (p *Platform) UpdateTask(userID, id string, patch models.TaskPatch) (models.Task, error) {
	p.mu.Lock()
	t, err := p.lookup(userID, id)
	if err != nil {
		p.mu.Unlock()
		return models.Task{}, err
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			p.mu.Unlock()
			return models.Task{}, fmt.Errorf("%w: invalid status '%s'", shared.ErrInvalidInput, *patch.Status)
		}
		if t.Status.Regresses(*patch.Status) {
			p.mu.Unlock()
			return models.Task{}, fmt.Errorf("%w: task is already %s", shared.ErrInvalidInput, t.Status)
		}
	}
	fields := models.TaskFields{Status: patch.Status, Progress: patch.Progress}
	if patch.Status != nil && patch.Status.IsTerminal() && t.CompletedAt == nil {
		now := models.NewTimestamp(p.now())
		fields.CompletedAt = &now
	}
	*t = fields.Apply(*t)
	out := t.Clone()
	p.mu.Unlock()

	msg := "Task updated"
	if out.Status == models.StatusCancelled {
		msg = "Task cancelled"
	}
	p.publish(out, msg)
	return out, nil
}

// DeleteTask removes a task. A non-empty userID restricts deletion to that user's tasks.
func (p *Platform) DeleteTask(userID, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.lookup(userID, id); err != nil {
		return err
	}
	delete(p.tasks, id)
	p.order = slices.DeleteFunc(p.order, func(v string) bool { return v == id })
	return nil
}

// Stats counts tasks across all users.
func (p *Platform) Stats() models.StatsResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var c models.TaskCounts
	for _, t := range p.tasks {
		c.Total++
		switch t.Status {
		case models.StatusCompleted:
			c.Completed++
		case models.StatusFailed:
			c.Failed++
		case models.StatusRunning:
			c.Running++
		}
	}
	if c.Total > 0 {
		c.SuccessRate = float64(c.Completed) / float64(c.Total)
	}
	return models.StatsResponse{Tasks: c, Uptime: time.Since(p.started).Round(time.Second).String()}
}

// Health reports the platform as healthy; the in-memory store has no dependencies to probe.
func (p *Platform) Health() models.HealthResponse {
	p.mu.RLock()
	n := len(p.tasks)
	p.mu.RUnlock()
	return models.HealthResponse{
		Status:    "healthy",
		Timestamp: p.now().Format(time.RFC3339),
		Checks: map[string]models.HealthCheck{
			"database": {Status: "healthy", Message: fmt.Sprintf("in-memory, %d tasks", n)},
			"queue":    {Status: "not_configured", Message: "crawls run in-process"},
		},
	}
}

// lookup finds a task; callers hold p.mu.
func (p *Platform) lookup(userID, id string) (*models.Task, error) {
	t, ok := p.tasks[id]
	if !ok || (userID != "" && t.UserID != userID) {
		return nil, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	}
	return t, nil
}

func (p *Platform) publish(t models.Task, message string) {
	progress := t.Progress
	p.hub.Publish(t.ID, models.StatusUpdate{
		TaskID:   t.ID,
		Status:   t.Status,
		Progress: &progress,
		Message:  message,
		Result:   t.Result,
		Error:    t.Error,
		Type:     "status_update",
	})
}

func page[T any](items []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
