package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// BulkExportOpts contains configuration for bulk result exports.
type BulkExportOpts struct {
	Format     formatter.Format // Export format: json or yaml
	OutputDir  string           // Base output directory (default: crawl_export_{epoch})
	NumWorkers int              // Concurrent workers (default: 5)
	RateLimit  float64          // Task fetches per second (default: 5)
}

// TaskExportResult is the outcome of exporting one task.
type TaskExportResult struct {
	TaskID      string `json:"task_id"`
	CrawlerType string `json:"crawler_type,omitempty"`
	Success     bool   `json:"success"`
	File        string `json:"file,omitempty"`
	Error       error  `json:"-"`
	ErrorText   string `json:"error,omitempty"`
}

// BulkExportResult summarizes a bulk export and is written as its manifest.
type BulkExportResult struct {
	TotalTasks        int                `json:"total_tasks"`
	SuccessfulExports int                `json:"successful_exports"`
	FailedExports     int                `json:"failed_exports"`
	OutputDirectory   string             `json:"output_directory"`
	ManifestPath      string             `json:"-"`
	ExportedAt        models.Timestamp   `json:"exported_at"`
	Results           []TaskExportResult `json:"results"`
}

// BulkExport fetches the given tasks and writes the result of each completed one to its own file.
//
// Fetches are rate limited; writes run on a worker pool. Failures are recorded per task and do not stop
// the export. A manifest summarizing the run is written to the output directory.
func (s *Syncer) BulkExport(ctx context.Context, prog chan<- ProgressUpdate, ids []string, opts BulkExportOpts) (*BulkExportResult, error) {
	if s.api == nil {
		return nil, fmt.Errorf("%w: api client not initialized", shared.ErrServiceUnavailable)
	}

	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}
	if opts.Format != formatter.FormatJSON && opts.Format != formatter.FormatYAML {
		return nil, fmt.Errorf("%w: export format must be json or yaml, got %s", shared.ErrInvalidFlag, opts.Format)
	}
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("crawl_export_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 5
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &BulkExportResult{
		TotalTasks:      len(ids),
		OutputDirectory: opts.OutputDir,
		Results:         make([]TaskExportResult, 0, len(ids)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan models.Task, len(ids))
	results := make(chan TaskExportResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go s.exportWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, id := range ids {
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			task, err := s.api.Task(ctx, id)
			if err != nil {
				results <- TaskExportResult{TaskID: id, Error: fmt.Errorf("failed to fetch task: %w", err)}
				continue
			}
			if task.Status != models.StatusCompleted {
				results <- TaskExportResult{
					TaskID:      id,
					CrawlerType: task.CrawlerType,
					Error:       fmt.Errorf("task is %s, not completed", task.Status),
				}
				continue
			}

			jobs <- *task
			sendProgress(prog, exportingUpdate(i+1, len(ids), id))
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		if res.Error != nil {
			res.ErrorText = res.Error.Error()
		}
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			sendProgress(prog, exportCompletedUpdate(completed, len(ids), res))
		} else {
			result.FailedExports++
			sendProgress(prog, exportFailedUpdate(completed, len(ids), res))
		}
	}
	result.ExportedAt = models.NewTimestamp(time.Now().UTC())

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("export interrupted: %w", err)
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteManifest(result, manifestPath); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	return result, nil
}

// exportWorker writes task results from the jobs channel.
func (s *Syncer) exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan models.Task,
	results chan<- TaskExportResult,
	opts BulkExportOpts,
) {
	defer wg.Done()

	for task := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res := TaskExportResult{TaskID: task.ID, CrawlerType: task.CrawlerType}
		path, err := formatter.WriteResultExport(task, opts.OutputDir, opts.Format)
		if err != nil {
			res.Error = err
		} else {
			res.File = path
			res.Success = true
		}
		results <- res
	}
}
