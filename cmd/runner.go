package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/live"
	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/repositories"
	"github.com/desertthunder/crawlctl/internal/services"
	"github.com/desertthunder/crawlctl/internal/shared"
	"github.com/desertthunder/crawlctl/internal/store"
	"github.com/desertthunder/crawlctl/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database and API client are opened lazily so commands that need neither (setup, dev-server) start fast.
type Runner struct {
	config       *shared.Config
	configPath   string
	configLoaded bool
	lookup       func(string) (string, bool)
	httpClient   *http.Client
	logger       *log.Logger
	output       io.Writer

	db        *sql.DB
	client    *services.Client
	snapshots *repositories.TaskSnapshotRepository
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	// Config, when set, is used as-is and the --config file is not read.
	Config     *shared.Config
	ConfigPath string
	// Lookup resolves CRAWLCTL_* overrides. Defaults to [os.LookupEnv].
	Lookup     func(string) (string, bool)
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	// DB and Client replace the lazily opened database and REST client.
	DB     *sql.DB
	Client *services.Client
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	configLoaded := opts.Config != nil
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	r := &Runner{
		config:       opts.Config,
		configPath:   opts.ConfigPath,
		configLoaded: configLoaded,
		lookup:       opts.Lookup,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		output:       opts.Output,
		db:           opts.DB,
		client:       opts.Client,
	}
	if r.db != nil {
		r.snapshots = repositories.NewTaskSnapshotRepository(r.db)
	}
	return r
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, crawlersCommand, tasksCommand, monitorCommand, adminCommand,
		apiCommand, dashboardCommand, devServerCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads the configuration once per invocation. A missing config file is not an error.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if p := cmd.String("config"); p != "" {
		r.configPath = p
	}
	if !r.configLoaded {
		if r.configPath != "" {
			if _, err := os.Stat(r.configPath); err == nil {
				config, err := shared.LoadConfig(r.configPath)
				if err != nil {
					return ctx, err
				}
				r.config = config
			}
		}
		r.configLoaded = true
	}

	if err := r.config.ApplyEnv(r.lookup); err != nil {
		return ctx, err
	}
	if v := cmd.String("api-url"); v != "" {
		r.config.API.BaseURL = v
	}
	if v := cmd.String("log-level"); v != "" {
		r.config.Log.Level = v
	}
	if err := r.config.Validate(); err != nil {
		return ctx, err
	}

	shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))
	return ctx, nil
}

// Close releases the database connection, if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// database opens the configured database and runs pending migrations.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database (run `crawlctl setup database`): %w", err)
	}
	r.db = db
	r.snapshots = repositories.NewTaskSnapshotRepository(db)
	return db, nil
}

// api returns the REST client, backed by the access_token slot in the database.
func (r *Runner) api() (*services.Client, error) {
	if r.client != nil {
		return r.client, nil
	}

	db, err := r.database()
	if err != nil {
		return nil, err
	}
	override, _ := r.lookup(shared.EnvPrefix + "ACCESS_TOKEN")
	creds := repositories.NewTokenStore(repositories.NewSettingsRepository(db), override)

	r.client = services.NewClient(services.Options{
		Origin:      r.config.API.BaseURL,
		Timeout:     r.config.API.Timeout,
		HTTPClient:  r.httpClient,
		Credentials: creds,
		Logger:      r.logger,
		Hooks: services.Hooks{
			OnUnauthorized: func(path string) {
				r.logger.Warn("session is no longer valid, run `crawlctl auth login`", "path", path)
			},
			OnForbidden: func(path string) {
				r.logger.Error("administrator privileges required", "path", path)
			},
		},
	})
	return r.client, nil
}

// snapshotCache returns the local task cache, or nil when no database is available.
func (r *Runner) snapshotCache() tasks.SnapshotCache {
	if r.snapshots == nil {
		if _, err := r.database(); err != nil {
			r.logger.Debug("task snapshots disabled", "error", err)
			return nil
		}
	}
	return r.snapshots
}

// channelManager builds a live channel manager for the configured platform.
func (r *Runner) channelManager() *live.Manager {
	return live.NewManager(live.Options{
		Origin:        r.config.API.BaseURL,
		MaxReconnects: r.config.Live.MaxReconnects,
		Backoff:       r.config.Live.ReconnectBackoff,
		PingInterval:  r.config.Live.PingInterval,
		Logger:        shared.WithLogger(r.logger, "component", "live"),
	})
}

// newSyncer wires a task store to the REST client. Live channels are attached when manager is non-nil.
func (r *Runner) newSyncer(q models.TaskQuery, manager *live.Manager, progress chan<- tasks.ProgressUpdate) (*tasks.Syncer, error) {
	client, err := r.api()
	if err != nil {
		return nil, err
	}

	var channels tasks.Channels
	if manager != nil {
		channels = manager
	}
	opts := tasks.Options{
		Query:     q,
		Snapshots: r.snapshotCache(),
		Progress:  progress,
		Logger:    shared.WithLogger(r.logger, "component", "sync"),
	}
	return tasks.NewSyncer(client, store.New(), channels, opts), nil
}

// apiError converts a client error into the user-facing message, keeping the sentinel for callers.
func apiError(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var apiErr *services.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", apiErr.Unwrap(), services.Detail(err, fallback))
	}
	return err
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
