package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// Login exchanges credentials for a session token and stores it.
//
// Calls POST /auth/login.
func (c *Client) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}

	var resp models.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response carried no token", shared.ErrAuthFailed)
	}
	if err := c.creds.SetToken(resp.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	return &resp, nil
}

// Register creates an account. It does not log in.
//
// Calls POST /auth/register.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, err
	}

	var user models.User
	if err := c.do(ctx, http.MethodPost, "/auth/register", nil, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Me returns the authenticated user.
//
// Calls GET /auth/me.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout ends the session. The local credential is cleared even when the server call fails.
//
// Calls POST /auth/logout.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
	if clearErr := c.creds.ClearToken(); clearErr != nil {
		return fmt.Errorf("failed to clear credential: %w", clearErr)
	}
	return err
}

// Crawlers lists the crawlers the platform can run.
//
// Calls GET /crawlers.
func (c *Client) Crawlers(ctx context.Context) ([]models.CrawlerInfo, error) {
	var crawlers []models.CrawlerInfo
	if err := c.do(ctx, http.MethodGet, "/crawlers", nil, nil, &crawlers); err != nil {
		return nil, err
	}
	return crawlers, nil
}

// Crawler describes one crawler.
//
// Calls GET /crawlers/{type}.
func (c *Client) Crawler(ctx context.Context, crawlerType string) (*models.CrawlerInfo, error) {
	var info models.CrawlerInfo
	if err := c.do(ctx, http.MethodGet, "/crawlers/"+url.PathEscape(crawlerType), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RunCrawler starts a crawl and returns the id of the created task.
//
// Calls POST /crawlers/{type}/run.
func (c *Client) RunCrawler(ctx context.Context, crawlerType string, params models.RunCrawlerRequest) (*models.RunCrawlerResponse, error) {
	if params == nil {
		params = models.RunCrawlerRequest{}
	}

	var resp models.RunCrawlerResponse
	if err := c.do(ctx, http.MethodPost, "/crawlers/"+url.PathEscape(crawlerType)+"/run", nil, params, &resp); err != nil {
		return nil, err
	}
	if resp.TaskID == "" {
		return nil, fmt.Errorf("%w: run response carried no task id", shared.ErrAPIRequest)
	}
	return &resp, nil
}

// Tasks lists one page of the caller's tasks.
//
// Calls GET /tasks.
func (c *Client) Tasks(ctx context.Context, q models.TaskQuery) (*models.TaskListResponse, error) {
	if err := shared.ValidateStruct(q); err != nil {
		return nil, err
	}

	var resp models.TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/tasks", taskQueryValues(q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task fetches one task.
//
// Calls GET /tasks/{id}.
func (c *Client) Task(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask patches a task's status or progress.
//
// Calls PATCH /tasks/{id}.
func (c *Client) UpdateTask(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(taskID), nil, patch, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask deletes one of the caller's tasks.
//
// Calls DELETE /tasks/{id}.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, nil, nil)
}

// Stats returns aggregate task statistics.
//
// Calls GET /monitoring/stats.
func (c *Client) Stats(ctx context.Context) (*models.StatsResponse, error) {
	var stats models.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/monitoring/stats", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health returns the detailed health report.
//
// Calls GET /monitoring/health/detailed.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var health models.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/monitoring/health/detailed", nil, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// AdminUsers lists accounts. A zero limit uses the server default of 100.
//
// Calls GET /admin/users.
func (c *Client) AdminUsers(ctx context.Context, skip, limit int) ([]models.User, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var users []models.User
	if err := c.do(ctx, http.MethodGet, "/admin/users", q, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// AdminDeleteUser deletes an account.
//
// Calls DELETE /admin/users/{id}.
func (c *Client) AdminDeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil, nil, nil)
}

// AdminTasks lists tasks of every user.
//
// Calls GET /admin/tasks.
func (c *Client) AdminTasks(ctx context.Context, page, pageSize int) (*models.TaskListResponse, error) {
	var resp models.TaskListResponse
	if err := c.do(ctx, http.MethodGet, "/admin/tasks", taskQueryValues(models.TaskQuery{Page: page, PageSize: pageSize}), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AdminDeleteTask deletes any user's task.
//
// Calls DELETE /admin/tasks/{id}.
func (c *Client) AdminDeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/admin/tasks/"+url.PathEscape(taskID), nil, nil, nil)
}

func taskQueryValues(q models.TaskQuery) url.Values {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.CrawlerType != "" {
		v.Set("crawler_type", q.CrawlerType)
	}
	return v
}
