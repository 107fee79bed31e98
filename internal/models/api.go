package models

import (
	"fmt"
	"strconv"
	"strings"
)

// User is a platform account.
type User struct {
	ID        string     `json:"id" yaml:"id"`
	Username  string     `json:"username" yaml:"username"`
	Email     string     `json:"email,omitempty" yaml:"email,omitempty"`
	IsActive  bool       `json:"is_active" yaml:"is_active"`
	IsAdmin   bool       `json:"is_admin" yaml:"is_admin"`
	CreatedAt *Timestamp `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt *Timestamp `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	LastLogin *Timestamp `json:"last_login,omitempty" yaml:"last_login,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the session credential.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// CrawlerInfo describes a crawler the platform can run.
type CrawlerInfo struct {
	Name               string   `json:"name" yaml:"name"`
	DisplayName        string   `json:"display_name" yaml:"display_name"`
	Description        string   `json:"description" yaml:"description"`
	Parameters         []string `json:"parameters" yaml:"parameters"`
	OptionalParameters []string `json:"optional_parameters" yaml:"optional_parameters"`
	Status             string   `json:"status" yaml:"status"`
}

// Active reports whether the crawler accepts new runs.
func (c CrawlerInfo) Active() bool {
	return c.Status == "" || c.Status == "active"
}

// RunCrawlerRequest is the body of POST /crawlers/{type}/run: crawler parameters keyed by name.
type RunCrawlerRequest map[string]any

// ParseRunParams builds crawler parameters from key=value pairs.
// Integers and true/false become numbers and booleans; everything else stays a string.
func ParseRunParams(pairs []string) (RunCrawlerRequest, error) {
	params := RunCrawlerRequest{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q must be key=value", pair)
		}
		v = strings.TrimSpace(v)
		if n, err := strconv.Atoi(v); err == nil {
			params[k] = n
		} else if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
			params[k] = b
		} else {
			params[k] = v
		}
	}
	return params, nil
}

// RunCrawlerResponse identifies the task created for a crawl run.
type RunCrawlerResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TaskListResponse is one page of GET /tasks.
type TaskListResponse struct {
	Total    int    `json:"total"`
	Tasks    []Task `json:"tasks"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// TaskQuery filters GET /tasks. Zero values are omitted from the query string.
type TaskQuery struct {
	Page        int    `validate:"omitempty,min=1"`
	PageSize    int    `validate:"omitempty,min=1,max=100"`
	Status      string `validate:"omitempty,oneof=pending running completed failed cancelled"`
	CrawlerType string `validate:"omitempty,max=64"`
}

// TaskPatch is the body of PATCH /tasks/{id}.
type TaskPatch struct {
	Status   *TaskStatus `json:"status,omitempty"`
	Progress *int        `json:"progress,omitempty"`
}

// TaskCounts aggregates tasks by outcome.
type TaskCounts struct {
	Total       int     `json:"total" yaml:"total"`
	Completed   int     `json:"completed" yaml:"completed"`
	Failed      int     `json:"failed" yaml:"failed"`
	Running     int     `json:"running" yaml:"running"`
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`
}

// StatsResponse is the body of GET /monitoring/stats.
type StatsResponse struct {
	Tasks  TaskCounts `json:"tasks" yaml:"tasks"`
	Uptime string     `json:"uptime" yaml:"uptime"`
}

// HealthCheck is the state of one platform dependency.
type HealthCheck struct {
	Status  string `json:"status" yaml:"status"`
	Message string `json:"message" yaml:"message"`
}

// HealthResponse is the body of GET /monitoring/health/detailed.
type HealthResponse struct {
	Status    string                 `json:"status" yaml:"status"`
	Timestamp string                 `json:"timestamp" yaml:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message"`
}
