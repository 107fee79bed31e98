package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// TaskSnapshotRepository caches the last fetched copy of each task.
type TaskSnapshotRepository struct {
	db *sql.DB
}

// NewTaskSnapshotRepository creates a new [TaskSnapshotRepository] with the given database connection
func NewTaskSnapshotRepository(db *sql.DB) *TaskSnapshotRepository {
	return &TaskSnapshotRepository{db: db}
}

const upsertSnapshot = `
	INSERT INTO task_snapshots (id, crawler_type, status, progress, payload, created_at, synced_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		crawler_type = excluded.crawler_type,
		status = excluded.status,
		progress = excluded.progress,
		payload = excluded.payload,
		created_at = excluded.created_at,
		synced_at = excluded.synced_at
`

// Save upserts one task.
func (r *TaskSnapshotRepository) Save(task models.Task) error {
	return r.SaveAll([]models.Task{task})
}

// SaveAll upserts tasks in a single transaction.
func (r *TaskSnapshotRepository) SaveAll(tasks []models.Task) error {
	now := time.Now().UTC()
	return inTx(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(upsertSnapshot)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot upsert: %w", err)
		}
		defer stmt.Close()

		for _, t := range tasks {
			payload, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
			}
			var createdAt any
			if !t.CreatedAt.IsZero() {
				createdAt = t.CreatedAt.UTC()
			}
			if _, err := stmt.Exec(t.ID, t.CrawlerType, string(t.Status), t.Progress, string(payload), createdAt, now); err != nil {
				return fmt.Errorf("failed to store task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// Get returns the cached copy of a task.
func (r *TaskSnapshotRepository) Get(id string) (*models.Task, error) {
	var payload string
	err := r.db.QueryRow("SELECT payload FROM task_snapshots WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task snapshot: %w", err)
	}

	var task models.Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("failed to decode task snapshot %s: %w", id, err)
	}
	return &task, nil
}

// List returns cached tasks, newest first. An empty status matches every status; limit <= 0 means no limit.
func (r *TaskSnapshotRepository) List(status string, limit int) ([]models.Task, error) {
	query := "SELECT payload FROM task_snapshots"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task snapshots: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan task snapshot: %w", err)
		}
		var task models.Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			return nil, fmt.Errorf("failed to decode task snapshot: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Delete removes a cached task. Deleting a missing task is not an error.
func (r *TaskSnapshotRepository) Delete(id string) error {
	if _, err := r.db.Exec("DELETE FROM task_snapshots WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task snapshot: %w", err)
	}
	return nil
}

// Count returns the number of cached tasks.
func (r *TaskSnapshotRepository) Count() (int, error) {
	var n int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM task_snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count task snapshots: %w", err)
	}
	return n, nil
}
