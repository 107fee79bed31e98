package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/formatter"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
	"github.com/desertthunder/crawlctl/internal/tasks"
	"github.com/desertthunder/crawlctl/internal/ui"
)

// Dashboard launches the interactive live task dashboard.
func (r *Runner) Dashboard(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(r.config.Log.TUIPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, shared.ParseLogLevel(r.config.Log.Level))
	r.SetLogger(fileLogger)

	exportFormat, err := formatter.ParseFormat(r.config.Export.Format)
	if err != nil {
		return err
	}

	client, err := r.api()
	if err != nil {
		return err
	}
	info, err := client.TokenInfo()
	if err != nil {
		return fmt.Errorf("%w: run `crawlctl auth login` first", shared.ErrNotAuthenticated)
	}
	if info.Expired(time.Now()) {
		return fmt.Errorf("%w: run `crawlctl auth login` again", shared.ErrTokenExpired)
	}

	progress := make(chan tasks.ProgressUpdate, 100)
	manager := r.channelManager()
	defer manager.CloseAll()

	syncer, err := r.newSyncer(models.TaskQuery{PageSize: 100}, manager, progress)
	if err != nil {
		return err
	}

	var poll = r.config.Poll.Interval
	if !cmd.Bool("poll") {
		poll = 0
	}

	if err := ui.Run(ctx, ui.Options{
		Syncer:       syncer,
		Crawlers:     client,
		Channels:     manager,
		Progress:     progress,
		ExportDir:    r.config.Export.Dir,
		ExportFormat: exportFormat,
		Poll:         poll,
	}); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
