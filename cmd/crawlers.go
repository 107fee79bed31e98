package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
	"github.com/desertthunder/crawlctl/internal/tasks"
)

// CrawlersList lists the crawlers the platform can run.
func (r *Runner) CrawlersList(ctx context.Context, cmd *cli.Command) error {
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	crawlers, err := client.Crawlers(ctx)
	if err != nil {
		return apiError(err, "Failed to list crawlers")
	}

	switch f {
	case formatter.FormatJSON, formatter.FormatYAML:
		return formatter.WriteValue(r.output, crawlers, f)
	default:
		rows := make([][]string, len(crawlers))
		for i, c := range crawlers {
			rows[i] = []string{c.Name, c.DisplayName, c.Status, strings.Join(c.Parameters, ", ")}
		}
		return formatter.WriteTable(r.output, []string{"Type", "Name", "Status", "Required"}, rows)
	}
}

// CrawlerInfo shows one crawler's description and parameters.
func (r *Runner) CrawlerInfo(ctx context.Context, cmd *cli.Command) error {
	crawlerType := cmd.StringArg("type")
	if crawlerType == "" {
		return fmt.Errorf("%w: crawler type", shared.ErrMissingArgument)
	}
	f, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	info, err := client.Crawler(ctx, crawlerType)
	if err != nil {
		return apiError(err, "Crawler not found")
	}

	if f == formatter.FormatJSON || f == formatter.FormatYAML {
		return formatter.WriteValue(r.output, info, f)
	}
	r.writePlainHeader(fmt.Sprintf("%s (%s)", info.DisplayName, info.Name))
	r.writePlain("%s\n", info.Description)
	r.writePlain("Status:   %s\n", info.Status)
	r.writePlain("Required: %s\n", joinOrNone(info.Parameters))
	return r.writePlain("Optional: %s\n", joinOrNone(info.OptionalParameters))
}

// CrawlerRun starts a crawl and optionally follows it until it finishes.
func (r *Runner) CrawlerRun(ctx context.Context, cmd *cli.Command) error {
	crawlerType := cmd.StringArg("type")
	if crawlerType == "" {
		return fmt.Errorf("%w: crawler type", shared.ErrMissingArgument)
	}
	params, err := models.ParseRunParams(cmd.StringSlice("param"))
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}

	if !cmd.Bool("watch") {
		client, err := r.api()
		if err != nil {
			return err
		}
		resp, err := client.RunCrawler(ctx, crawlerType, params)
		if err != nil {
			return apiError(err, "Failed to start crawl")
		}
		return r.writePlain("✓ Started %s crawl: task %s\n", crawlerType, resp.TaskID)
	}

	progress := make(chan tasks.ProgressUpdate, 64)
	manager := r.channelManager()
	defer manager.CloseAll()

	syncer, err := r.newSyncer(models.TaskQuery{}, manager, progress)
	if err != nil {
		return err
	}
	task, err := syncer.Create(ctx, crawlerType, params)
	if err != nil {
		return apiError(err, "Failed to start crawl")
	}
	r.writePlain("✓ Started %s crawl: task %s\n", crawlerType, task.ID)

	return r.watch(ctx, syncer, []string{task.ID}, progress, false)
}

func joinOrNone(v []string) string {
	if len(v) == 0 {
		return "none"
	}
	return strings.Join(v, ", ")
}
