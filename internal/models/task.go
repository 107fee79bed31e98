package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a [Task].
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Statuses lists every valid [TaskStatus] in lifecycle order.
var Statuses = []TaskStatus{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are expected from s.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Regresses reports whether moving from s to next would leave a terminal state.
func (s TaskStatus) Regresses(next TaskStatus) bool {
	return s.IsTerminal() && !next.IsTerminal()
}

func (s TaskStatus) String() string { return string(s) }

// ParseTaskStatus parses a status name, case-insensitively.
func ParseTaskStatus(v string) (TaskStatus, error) {
	s := TaskStatus(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown task status %q", v)
	}
	return s, nil
}

// Task is one tracked crawl job.
type Task struct {
	ID          string         `json:"id" yaml:"id"`
	CrawlerType string         `json:"crawler_type" yaml:"crawler_type"`
	Status      TaskStatus     `json:"status" yaml:"status"`
	Progress    int            `json:"progress" yaml:"progress"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Result      any            `json:"result,omitempty" yaml:"result,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   Timestamp      `json:"created_at" yaml:"created_at"`
	StartedAt   *Timestamp     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *Timestamp     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Duration    *float64       `json:"duration,omitempty" yaml:"duration,omitempty"`
	UserID      string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
}

// Clone returns a copy of t whose params map is not shared with t.
//
// Result payloads are decoded JSON and treated as read-only, so they are shared.
func (t Task) Clone() Task {
	c := t
	if t.Params != nil {
		c.Params = maps.Clone(t.Params)
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.Duration != nil {
		v := *t.Duration
		c.Duration = &v
	}
	return c
}

// Active reports whether the task is still expected to change.
func (t Task) Active() bool {
	return !t.Status.IsTerminal()
}

// TaskFields is a partial update for a [Task]. Nil fields are left unchanged.
type TaskFields struct {
	Status      *TaskStatus
	Progress    *int
	Result      any
	Error       *string
	Duration    *float64
	StartedAt   *Timestamp
	CompletedAt *Timestamp
}

// Empty reports whether applying f would change nothing.
func (f TaskFields) Empty() bool {
	return f.Status == nil && f.Progress == nil && f.Result == nil && f.Error == nil &&
		f.Duration == nil && f.StartedAt == nil && f.CompletedAt == nil
}

// Apply merges f into a copy of t and returns it.
func (f TaskFields) Apply(t Task) Task {
	out := t.Clone()
	if f.Status != nil {
		out.Status = *f.Status
	}
	if f.Progress != nil {
		out.Progress = clampProgress(*f.Progress)
	}
	if f.Result != nil {
		out.Result = f.Result
	}
	if f.Error != nil {
		out.Error = *f.Error
	}
	if f.Duration != nil {
		v := *f.Duration
		out.Duration = &v
	}
	if f.StartedAt != nil {
		v := *f.StartedAt
		out.StartedAt = &v
	}
	if f.CompletedAt != nil {
		v := *f.CompletedAt
		out.CompletedAt = &v
	}
	return out
}

// SnapshotFields returns the mutable fields of a freshly fetched task, used to overwrite a cached copy.
func SnapshotFields(t Task) TaskFields {
	status := t.Status
	progress := t.Progress
	errMsg := t.Error
	return TaskFields{
		Status:      &status,
		Progress:    &progress,
		Result:      t.Result,
		Error:       &errMsg,
		Duration:    t.Duration,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// Timestamp is a [time.Time] that also accepts the zone-less ISO timestamps the platform emits.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// ParseTimestamp parses any of the timestamp layouts used by the platform. Zone-less values are UTC.
func ParseTimestamp(v string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", v)
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if v == "" {
		return nil
	}
	parsed, err := ParseTimestamp(v)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// MarshalYAML renders the timestamp as an RFC 3339 string.
func (ts Timestamp) MarshalYAML() (any, error) {
	if ts.IsZero() {
		return nil, nil
	}
	return ts.UTC().Format(time.RFC3339), nil
}
