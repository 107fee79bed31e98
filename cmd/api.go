package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/services"
	"github.com/desertthunder/crawlctl/internal/shared"
)

func (r *Runner) writeResponse(resp *services.Response, pretty bool) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}
	if resp.IsJSON {
		return r.writeJSON(resp.JSONData, pretty)
	}
	r.output.Write(resp.Body)
	r.output.Write([]byte("\n"))
	return nil
}

// APIGet makes a direct GET request to the platform
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	client, err := r.api()
	if err != nil {
		return err
	}

	r.logger.Info("GET request", "path", path)

	resp, err := client.Get(ctx, path)
	if err != nil {
		return err
	}
	return r.writeResponse(resp, cmd.Bool("pretty"))
}

// APIPost makes a direct POST request to the platform
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	data := cmd.String("data")

	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	if data == "" {
		return fmt.Errorf("%w: --data flag is required", shared.ErrMissingArgument)
	}

	var jsonTest any
	if err := json.Unmarshal([]byte(data), &jsonTest); err != nil {
		return fmt.Errorf("%w: data is not valid JSON: %v", shared.ErrInvalidInput, err)
	}

	client, err := r.api()
	if err != nil {
		return err
	}

	r.logger.Info("POST request", "path", path)

	resp, err := client.Post(ctx, path, []byte(data))
	if err != nil {
		return err
	}
	return r.writeResponse(resp, true)
}

// APIDump fetches and displays the platform state visible to the current account.
func (r *Runner) APIDump(ctx context.Context, cmd *cli.Command) error {
	client, err := r.api()
	if err != nil {
		return err
	}

	type DumpData struct {
		Health   *models.HealthResponse   `json:"health,omitempty"`
		Stats    *models.StatsResponse    `json:"stats,omitempty"`
		Crawlers []models.CrawlerInfo     `json:"crawlers,omitempty"`
		Tasks    *models.TaskListResponse `json:"tasks,omitempty"`
		Errors   []map[string]string      `json:"errors,omitempty"`
	}

	var dump DumpData
	record := func(endpoint string, err error) {
		dump.Errors = append(dump.Errors, map[string]string{"endpoint": endpoint, "error": err.Error()})
		r.logger.Warn("dump request failed", "endpoint", endpoint, "error", err)
	}

	r.logger.Info("dumping API state")

	if dump.Health, err = client.Health(ctx); err != nil {
		record("/monitoring/health/detailed", err)
	}
	if dump.Stats, err = client.Stats(ctx); err != nil {
		record("/monitoring/stats", err)
	}
	if dump.Crawlers, err = client.Crawlers(ctx); err != nil {
		record("/crawlers", err)
	}
	if dump.Tasks, err = client.Tasks(ctx, models.TaskQuery{PageSize: 100}); err != nil {
		record("/tasks", err)
	}

	if cmd.Bool("save") {
		saveFile := "api_dump.json"
		data, err := shared.MarshalJSON(dump, true)
		if err != nil {
			return fmt.Errorf("failed to marshal dump: %w", err)
		}
		if err := os.WriteFile(saveFile, data, 0644); err != nil {
			r.logger.Warn("failed to save dump", "error", err)
		} else {
			r.logger.Info("dump saved", "file", saveFile)
		}
	}

	return r.writeJSON(dump, true)
}
