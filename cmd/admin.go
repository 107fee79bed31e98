package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// MonitorStats shows task counts by outcome.
func (r *Runner) MonitorStats(ctx context.Context, cmd *cli.Command) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	stats, err := client.Stats(ctx)
	if err != nil {
		return apiError(err, "Failed to load statistics")
	}

	if f == formatter.FormatJSON || f == formatter.FormatYAML {
		return formatter.WriteValue(r.output, stats, f)
	}
	r.writePlainHeader("Task statistics")
	r.writePlain("Total:     %d\n", stats.Tasks.Total)
	r.writePlain("Running:   %d\n", stats.Tasks.Running)
	r.writePlain("Completed: %d\n", stats.Tasks.Completed)
	r.writePlain("Failed:    %d\n", stats.Tasks.Failed)
	r.writePlain("Success:   %.1f%%\n", stats.Tasks.SuccessRate)
	return r.writePlain("Uptime:    %s\n", stats.Uptime)
}

// MonitorHealth shows the platform's dependency checks.
func (r *Runner) MonitorHealth(ctx context.Context, cmd *cli.Command) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s", shared.ErrServiceUnavailable, err)
	}

	if f == formatter.FormatJSON || f == formatter.FormatYAML {
		return formatter.WriteValue(r.output, health, f)
	}
	r.writePlain("Status: %s (%s)\n", health.Status, health.Timestamp)
	names := make([]string, 0, len(health.Checks))
	for name := range health.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := health.Checks[name]
		r.writePlain("  %-10s %-8s %s\n", name, check.Status, check.Message)
	}
	return nil
}

// AdminUsers lists accounts.
func (r *Runner) AdminUsers(ctx context.Context, cmd *cli.Command) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	users, err := client.AdminUsers(ctx, int(cmd.Int("skip")), int(cmd.Int("limit")))
	if err != nil {
		return apiError(err, "Failed to list users")
	}

	switch f {
	case formatter.FormatJSON, formatter.FormatYAML:
		return formatter.WriteValue(r.output, users, f)
	default:
		rows := make([][]string, len(users))
		for i, u := range users {
			created := ""
			if u.CreatedAt != nil {
				created = formatter.FormatTime(*u.CreatedAt)
			}
			rows[i] = []string{u.ID, u.Username, u.Email, fmt.Sprint(u.IsAdmin), created}
		}
		return formatter.WriteTable(r.output, []string{"ID", "Username", "Email", "Admin", "Created"}, rows)
	}
}

// AdminDeleteUser deletes an account.
func (r *Runner) AdminDeleteUser(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: user id", shared.ErrMissingArgument)
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	if err := client.AdminDeleteUser(ctx, id); err != nil {
		return apiError(err, "Failed to delete user")
	}
	return r.writePlain("✓ Deleted user %s\n", id)
}

// AdminTasks lists every account's tasks.
func (r *Runner) AdminTasks(ctx context.Context, cmd *cli.Command) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	resp, err := client.AdminTasks(ctx, int(cmd.Int("page")), int(cmd.Int("page-size")))
	if err != nil {
		return apiError(err, "Failed to list tasks")
	}
	if err := formatter.WriteTasks(r.output, resp.Tasks, f); err != nil {
		return err
	}
	if f == formatter.FormatTable {
		return r.writePlain("Page %d · %d of %d tasks\n", resp.Page, len(resp.Tasks), resp.Total)
	}
	return nil
}

// AdminDeleteTask deletes any account's task.
func (r *Runner) AdminDeleteTask(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	if err := client.AdminDeleteTask(ctx, id); err != nil {
		return apiError(err, "Failed to delete task")
	}
	return r.writePlain("✓ Deleted task %s\n", id)
}
