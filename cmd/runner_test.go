package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/crawlctl/internal/services"
	"github.com/desertthunder/crawlctl/internal/shared"
	tu "github.com/desertthunder/crawlctl/internal/testing"
)

func noEnv(string) (string, bool) { return "", false }

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			client := services.NewClient(services.Options{})

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Client:     client,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if !runner.configLoaded {
				t.Error("expected a provided config to count as loaded")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.client != client {
				t.Error("expected client to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.configLoaded {
				t.Error("expected default config to be replaced by the config file")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{HTTPClient: nil})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})

		t.Run("with configPath sets field", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: "/test/path/config.toml"})

			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})
	})

	t.Run("before", func(t *testing.T) {
		run := func(r *Runner, args ...string) error {
			app := newApp(r)
			app.Commands = nil
			app.Action = func(context.Context, *cli.Command) error { return nil }
			return app.Run(context.Background(), append([]string{"crawlctl"}, args...))
		}

		t.Run("loads the config file", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			data := "[api]\nbase_url = \"http://platform.test:9000\"\n"
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			runner := NewRunner(RunnerOpts{Lookup: noEnv, Output: &bytes.Buffer{}})

			if err := run(runner, "--config", path); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if runner.config.API.BaseURL != "http://platform.test:9000" {
				t.Errorf("expected base url from file, got %s", runner.config.API.BaseURL)
			}
			if runner.config.Live.MaxReconnects != 5 {
				t.Errorf("expected default reconnects to survive, got %d", runner.config.Live.MaxReconnects)
			}
		})

		t.Run("missing config file keeps defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Lookup: noEnv})

			if err := run(runner, "--config", filepath.Join(t.TempDir(), "missing.toml")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if runner.config.API.BaseURL != "http://localhost:8000" {
				t.Errorf("expected default base url, got %s", runner.config.API.BaseURL)
			}
		})

		t.Run("environment and flags override the file", func(t *testing.T) {
			env := map[string]string{"CRAWLCTL_API_URL": "http://env.test", "CRAWLCTL_MAX_RECONNECTS": "2"}
			runner := NewRunner(RunnerOpts{
				Config: shared.DefaultConfig(),
				Lookup: func(k string) (string, bool) { v, ok := env[k]; return v, ok },
			})

			if err := run(runner, "--log-level", "debug"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if runner.config.API.BaseURL != "http://env.test" || runner.config.Live.MaxReconnects != 2 {
				t.Errorf("expected env overrides, got %+v", runner.config.API)
			}
			if runner.config.Log.Level != "debug" {
				t.Errorf("expected log level flag, got %s", runner.config.Log.Level)
			}

			if err := run(runner, "--api-url", "http://flag.test"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if runner.config.API.BaseURL != "http://flag.test" {
				t.Errorf("expected flag override, got %s", runner.config.API.BaseURL)
			}
		})

		t.Run("invalid config is rejected", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Export.Format = "xml"
			runner := NewRunner(RunnerOpts{Config: config, Lookup: noEnv})

			err := run(runner)
			if !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			data := map[string]string{"key": "value"}
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("hello %s", "world")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("writes plain text without formatting", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("simple text")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "simple text" {
				t.Errorf("expected 'simple text', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		if len(commands) == 0 {
			t.Error("expected at least one command to be registered")
		}

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Errorf("command at index %d is nil", i)
				continue
			}
			names[cmd.Name] = true
		}
		for _, name := range []string{"setup", "auth", "crawlers", "tasks", "monitor", "admin", "api", "dashboard", "dev-server"} {
			if !names[name] {
				t.Errorf("expected %s command to be registered", name)
			}
		}
	})
}
