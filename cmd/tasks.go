package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
	"github.com/desertthunder/crawlctl/internal/store"
	"github.com/desertthunder/crawlctl/internal/tasks"
)

// TasksList lists tasks from the platform, or from the local snapshot cache with --cached.
func (r *Runner) TasksList(ctx context.Context, cmd *cli.Command) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	q := models.TaskQuery{
		Page:        int(cmd.Int("page")),
		PageSize:    int(cmd.Int("page-size")),
		Status:      cmd.String("status"),
		CrawlerType: cmd.String("crawler-type"),
	}
	if err := shared.ValidateStruct(q); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}

	if cmd.Bool("cached") {
		if _, err := r.database(); err != nil {
			return err
		}
		cached, err := r.snapshots.List(q.Status, q.PageSize)
		if err != nil {
			return err
		}
		return formatter.WriteTasks(r.output, cached, f)
	}

	client, err := r.api()
	if err != nil {
		return err
	}
	resp, err := client.Tasks(ctx, q)
	if err != nil {
		return apiError(err, "Failed to list tasks")
	}
	if cache := r.snapshotCache(); cache != nil {
		if err := cache.SaveAll(resp.Tasks); err != nil {
			r.logger.Warn("failed to cache task snapshots", "error", err)
		}
	}

	if err := formatter.WriteTasks(r.output, resp.Tasks, f); err != nil {
		return err
	}
	if f == formatter.FormatTable {
		return r.writePlain("Page %d · %d of %d tasks\n", resp.Page, len(resp.Tasks), resp.Total)
	}
	return nil
}

// TaskGet shows one task.
func (r *Runner) TaskGet(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if cmd.Bool("cached") {
		if _, err := r.database(); err != nil {
			return err
		}
		cached, err := r.snapshots.Get(id)
		if err != nil {
			return err
		}
		return formatter.WriteTask(r.output, *cached, f)
	}

	client, err := r.api()
	if err != nil {
		return err
	}

	task, err := client.Task(ctx, id)
	if err != nil {
		return apiError(err, "Task not found")
	}
	if cache := r.snapshotCache(); cache != nil {
		if err := cache.SaveAll([]models.Task{*task}); err != nil {
			r.logger.Warn("failed to cache task snapshot", "task", id, "error", err)
		}
	}
	return formatter.WriteTask(r.output, *task, f)
}

// TaskCancel cancels a pending or running task.
func (r *Runner) TaskCancel(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	syncer, err := r.newSyncer(models.TaskQuery{}, nil, nil)
	if err != nil {
		return err
	}

	task, err := syncer.Cancel(ctx, id)
	if err != nil {
		return apiError(err, "Failed to cancel task")
	}
	return r.writePlain("✓ Task %s is %s\n", task.ID, task.Status)
}

// TaskDelete deletes a task and drops its cached snapshot.
func (r *Runner) TaskDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	syncer, err := r.newSyncer(models.TaskQuery{}, nil, nil)
	if err != nil {
		return err
	}

	if err := syncer.Delete(ctx, id); err != nil {
		return apiError(err, "Failed to delete task")
	}
	return r.writePlain("✓ Deleted task %s\n", id)
}

// TasksWatch follows tasks over live channels until every watched task has finished.
//
// Without ids, every active task in the first page of the list is watched.
func (r *Runner) TasksWatch(ctx context.Context, cmd *cli.Command) error {
	ids := cmd.Args().Slice()

	progress := make(chan tasks.ProgressUpdate, 64)
	manager := r.channelManager()
	defer manager.CloseAll()

	syncer, err := r.newSyncer(models.TaskQuery{PageSize: 100}, manager, progress)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		if err := syncer.Refresh(ctx); err != nil {
			return apiError(err, "Failed to list tasks")
		}
	}
	for _, id := range ids {
		if err := syncer.FetchTask(ctx, id); err != nil {
			return apiError(err, "Task not found")
		}
	}

	if len(syncer.Store().ActiveIDs()) == 0 {
		r.writePlain("Nothing to watch: no active tasks\n")
		return formatter.WriteTasks(r.output, watched(syncer.Store(), ids), formatter.FormatTable)
	}
	return r.watch(ctx, syncer, ids, progress, cmd.Bool("poll"))
}

// watch starts the channel watcher and prints events until the watched tasks finish or ctx is done.
func (r *Runner) watch(ctx context.Context, syncer *tasks.Syncer, ids []string, progress <-chan tasks.ProgressUpdate, poll bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncer.Start(ctx)
	defer syncer.Stop()

	if poll {
		go func() {
			if err := syncer.Poll(ctx, r.config.Poll.Interval, r.config.Poll.Jitter); err != nil {
				r.logger.Warn("polling stopped", "error", err)
			}
		}()
	}

	check := time.NewTicker(time.Second)
	defer check.Stop()

	for !finished(syncer.Store(), ids) {
		select {
		case <-ctx.Done():
			return nil
		case u := <-progress:
			r.printUpdate(u)
		case <-check.C:
		}
	}

	for drained := false; !drained; {
		select {
		case u := <-progress:
			r.printUpdate(u)
		default:
			drained = true
		}
	}

	r.writePlain("\n")
	return formatter.WriteTasks(r.output, watched(syncer.Store(), ids), formatter.FormatTable)
}

func (r *Runner) printUpdate(u tasks.ProgressUpdate) {
	if u.Message == "" {
		return
	}
	r.writePlain("%s  %-8s %s\n", time.Now().Format("15:04:05"), u.Phase, u.Message)
}

// finished reports whether every watched task has reached a terminal state or disappeared.
// With no ids, every task in the store is watched.
func finished(st *store.TaskStore, ids []string) bool {
	if len(ids) == 0 {
		return len(st.ActiveIDs()) == 0
	}
	for _, id := range ids {
		if t, ok := st.Get(id); ok && t.Active() {
			return false
		}
	}
	return true
}

func watched(st *store.TaskStore, ids []string) []models.Task {
	if len(ids) == 0 {
		return st.Tasks()
	}
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := st.Get(id); ok {
			out = append(out, t)
		}
	}
	return out
}

// TasksExport writes the results of completed tasks to individual files plus a manifest.
//
// Without ids, every completed task in the first page of the list is exported.
func (r *Runner) TasksExport(ctx context.Context, cmd *cli.Command) error {
	format := cmd.String("format")
	if format == "" {
		format = r.config.Export.Format
	}
	f, err := formatter.ParseFormat(format)
	if err != nil {
		return err
	}
	dir := cmd.String("dir")
	if dir == "" {
		dir = filepath.Join(r.config.Export.Dir, fmt.Sprintf("crawl_export_%d", time.Now().Unix()))
	}
	rateLimit := cmd.Float("rate")
	if rateLimit <= 0 {
		rateLimit = r.config.Export.Rate
	}

	syncer, err := r.newSyncer(models.TaskQuery{PageSize: 100, Status: string(models.StatusCompleted)}, nil, nil)
	if err != nil {
		return err
	}

	ids := cmd.Args().Slice()
	if len(ids) == 0 {
		if err := syncer.Refresh(ctx); err != nil {
			return apiError(err, "Failed to list tasks")
		}
		ids = syncer.CompletedIDs()
	}
	if len(ids) == 0 {
		return r.writePlain("No completed tasks to export\n")
	}

	prog := make(chan tasks.ProgressUpdate, len(ids)*2)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for u := range prog {
			r.printUpdate(u)
		}
	}()

	result, err := syncer.BulkExport(ctx, prog, ids, tasks.BulkExportOpts{
		Format:     f,
		OutputDir:  dir,
		NumWorkers: int(cmd.Int("workers")),
		RateLimit:  rateLimit,
	})
	close(prog)
	<-printed
	if err != nil {
		return err
	}

	r.writePlainHeader("Export complete")
	r.writePlain("Exported: %d of %d\n", result.SuccessfulExports, result.TotalTasks)
	if result.FailedExports > 0 {
		r.writePlain("Failed:   %d\n", result.FailedExports)
	}
	r.writePlain("Directory: %s\n", result.OutputDirectory)
	return r.writePlain("Manifest:  %s\n", result.ManifestPath)
}
