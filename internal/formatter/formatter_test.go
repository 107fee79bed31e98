package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
	tu "github.com/desertthunder/crawlctl/internal/testing"
)

func sampleTasks() []models.Task {
	duration := 12.5
	created := models.NewTimestamp(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return []models.Task{
		{
			ID: "T1", CrawlerType: "bilibili", Status: models.StatusCompleted, Progress: 100,
			Params: map[string]any{"keyword": "golang", "max_pages": 2}, Result: map[string]any{"items": 3},
			CreatedAt: created, Duration: &duration,
		},
		{ID: "T2", CrawlerType: "douban", Status: models.StatusFailed, Progress: 30, Error: "blocked, retry later", CreatedAt: created},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatTable},
		{"JSON", FormatJSON},
		{"yml", FormatYAML},
		{"md", FormatMarkdown},
		{"txt", FormatText},
		{"csv", FormatCSV},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	if _, err := ParseFormat("xml"); !errors.Is(err, shared.ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag, got %v", err)
	}
}

func TestWriteTasks(t *testing.T) {
	tasks := sampleTasks()

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteTasks(&buf, tasks, FormatTable); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := buf.String()
		for _, want := range []string{"ID", "Crawler", "T1", "bilibili", "100%", "12.5s"} {
			if !strings.Contains(out, want) {
				t.Errorf("table missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteTasks(&buf, tasks, FormatJSON); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var decoded []models.Task
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if len(decoded) != 2 || decoded[1].Error != "blocked, retry later" {
			t.Errorf("unexpected decode %+v", decoded)
		}
	})

	t.Run("json empty list", func(t *testing.T) {
		var buf bytes.Buffer
		WriteTasks(&buf, nil, FormatJSON)
		if strings.TrimSpace(buf.String()) != "[]" {
			t.Errorf("expected [], got %s", buf.String())
		}
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteTasks(&buf, tasks, FormatYAML); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var decoded []map[string]any
		if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not YAML: %v", err)
		}
		if decoded[0]["crawler_type"] != "bilibili" || decoded[0]["created_at"] == nil {
			t.Errorf("unexpected decode %+v", decoded[0])
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteTasks(&buf, tasks, FormatCSV); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header + 2 rows, got %d", len(lines))
		}
		if lines[1] != "T1,bilibili,completed,100,2025-03-01T12:00:00Z,12.5," {
			t.Errorf("unexpected row %q", lines[1])
		}
		if !strings.HasSuffix(lines[2], `"blocked, retry later"`) {
			t.Errorf("error column should be quoted: %q", lines[2])
		}
	})

	t.Run("markdown", func(t *testing.T) {
		var buf bytes.Buffer
		WriteTasks(&buf, tasks, FormatMarkdown)
		out := buf.String()
		if !strings.HasPrefix(out, "| ID | Crawler |") || strings.Count(out, "\n") != 4 {
			t.Errorf("unexpected markdown:\n%s", out)
		}
	})

	t.Run("failing writer", func(t *testing.T) {
		if err := WriteTasks(&tu.FWriter{}, tasks, FormatText); err == nil {
			t.Error("expected write error")
		}
	})
}

func TestWriteTask(t *testing.T) {
	task := sampleTasks()[0]

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		WriteTask(&buf, task, FormatText)
		out := buf.String()
		for _, want := range []string{"ID:        T1", "[####################] 100%", "Param:     keyword=golang", `"items": 3`} {
			if !strings.Contains(out, want) {
				t.Errorf("text missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("markdown", func(t *testing.T) {
		out := string(TaskToMarkdown(sampleTasks()[1]))
		if !strings.Contains(out, "# Task T2") || !strings.Contains(out, "## Error") {
			t.Errorf("unexpected markdown:\n%s", out)
		}
	})
}

func TestWriteResultExport(t *testing.T) {
	dir := t.TempDir()
	task := sampleTasks()[0]

	path, err := WriteResultExport(task, dir, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(dir, "T1.json") {
		t.Errorf("unexpected path %s", path)
	}
	content := tu.MustReadFile(t, path)
	if !strings.Contains(content, `"crawler_type": "bilibili"`) {
		t.Errorf("unexpected content %s", content)
	}

	path, err = WriteResultExport(task, dir, FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tu.AssertFileExists(t, path)
	if filepath.Ext(path) != ".yaml" {
		t.Errorf("expected .yaml, got %s", path)
	}

	if _, err := WriteResultExport(task, filepath.Join(dir, "missing"), FormatJSON); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestWriteManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := WriteManifest(map[string]int{"exported": 2}, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"exported": 2`) {
		t.Errorf("unexpected manifest %s", data)
	}
}

func TestHelpers(t *testing.T) {
	if got := ProgressBar(40, 10); got != "[####------]" {
		t.Errorf("unexpected bar %s", got)
	}
	if got := ProgressBar(250, 4); got != "[####]" {
		t.Errorf("progress should clamp, got %s", got)
	}
	if FormatSeconds(nil) != "-" || FormatTime(models.Timestamp{}) != "-" {
		t.Error("unset values should render as -")
	}
	d := 61.0
	if got := FormatSeconds(&d); got != "1m1s" {
		t.Errorf("unexpected duration %s", got)
	}
}
