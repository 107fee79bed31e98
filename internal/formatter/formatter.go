// package formatter renders tasks and API payloads as table, JSON, YAML, CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/shared"
)

// Format is an output encoding.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// Formats lists every supported [Format].
var Formats = []Format{FormatTable, FormatJSON, FormatYAML, FormatCSV, FormatMarkdown, FormatText}

// ParseFormat parses a format name. "md", "yml" and "txt" are accepted as aliases; empty means table.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidFlag, name)
	}
}

// Extension returns the file extension used for exported files in format f.
func (f Format) Extension() string {
	switch f {
	case FormatYAML:
		return ".yaml"
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	case FormatText, FormatTable:
		return ".txt"
	default:
		return ".json"
	}
}

var taskHeaders = []string{"ID", "Crawler", "Status", "Progress", "Created", "Duration"}

func taskRow(t models.Task) []string {
	return []string{
		t.ID,
		t.CrawlerType,
		string(t.Status),
		strconv.Itoa(t.Progress) + "%",
		FormatTime(t.CreatedAt),
		FormatSeconds(t.Duration),
	}
}

// WriteTasks writes a task list in format f.
func WriteTasks(w io.Writer, tasks []models.Task, f Format) error {
	switch f {
	case FormatJSON, FormatYAML:
		if tasks == nil {
			tasks = []models.Task{}
		}
		return WriteValue(w, tasks, f)
	case FormatCSV:
		data, err := TasksToCSV(tasks)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case FormatMarkdown:
		_, err := w.Write(TasksToMarkdown(tasks))
		return err
	case FormatText:
		for _, t := range tasks {
			if _, err := fmt.Fprintf(w, "%s  %-10s %-9s %3d%%  %s\n", t.ID, t.CrawlerType, t.Status, t.Progress, FormatTime(t.CreatedAt)); err != nil {
				return err
			}
		}
		return nil
	default:
		rows := make([][]string, len(tasks))
		for i, t := range tasks {
			rows[i] = taskRow(t)
		}
		return WriteTable(w, taskHeaders, rows)
	}
}

// WriteTask writes a single task with its params, result and error.
func WriteTask(w io.Writer, task models.Task, f Format) error {
	switch f {
	case FormatJSON, FormatYAML:
		return WriteValue(w, task, f)
	case FormatCSV:
		return WriteTasks(w, []models.Task{task}, f)
	case FormatMarkdown:
		_, err := w.Write(TaskToMarkdown(task))
		return err
	default:
		_, err := w.Write(TaskToText(task))
		return err
	}
}

// WriteValue encodes v as JSON or YAML. Other formats fall back to indented JSON.
func WriteValue(w io.Writer, v any, f Format) error {
	var (
		data []byte
		err  error
	)
	if f == FormatYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = shared.MarshalJSON(v, true)
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// WriteTable renders headers and rows as a bordered table.
func WriteTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return style.Bold(true)
			}
			return style
		})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// TasksToCSV converts tasks to CSV with columns: ID, Crawler, Status, Progress, Created, Duration, Error
func TasksToCSV(tasks []models.Task) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"ID", "Crawler", "Status", "Progress", "Created", "Duration", "Error"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, t := range tasks {
		var duration string
		if t.Duration != nil {
			duration = strconv.FormatFloat(*t.Duration, 'f', -1, 64)
		}
		var created string
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.UTC().Format(time.RFC3339)
		}
		record := []string{t.ID, t.CrawlerType, string(t.Status), strconv.Itoa(t.Progress), created, duration, t.Error}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// TasksToMarkdown converts tasks to a Markdown table.
func TasksToMarkdown(tasks []models.Task) []byte {
	var buf bytes.Buffer
	buf.WriteString("| " + strings.Join(taskHeaders, " | ") + " |\n")
	buf.WriteString("|" + strings.Repeat(" --- |", len(taskHeaders)) + "\n")
	for _, t := range tasks {
		cells := taskRow(t)
		for i, c := range cells {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		buf.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return buf.Bytes()
}

// TaskToMarkdown renders one task as a Markdown document.
func TaskToMarkdown(t models.Task) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Task %s\n\n", t.ID)
	fmt.Fprintf(&buf, "**Crawler**: %s\n", t.CrawlerType)
	fmt.Fprintf(&buf, "**Status**: %s (%d%%)\n", t.Status, t.Progress)
	fmt.Fprintf(&buf, "**Created**: %s\n", FormatTime(t.CreatedAt))
	if t.Duration != nil {
		fmt.Fprintf(&buf, "**Duration**: %s\n", FormatSeconds(t.Duration))
	}
	if len(t.Params) > 0 {
		buf.WriteString("\n## Parameters\n\n")
		for _, k := range sortedKeys(t.Params) {
			fmt.Fprintf(&buf, "- `%s`: %v\n", k, t.Params[k])
		}
	}
	if t.Error != "" {
		fmt.Fprintf(&buf, "\n## Error\n\n%s\n", t.Error)
	}
	if t.Result != nil {
		data, err := shared.MarshalJSON(t.Result, true)
		if err == nil {
			fmt.Fprintf(&buf, "\n## Result\n\n```json\n%s\n```\n", data)
		}
	}
	return buf.Bytes()
}

// TaskToText renders one task as aligned key/value lines.
func TaskToText(t models.Task) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "ID:        %s\n", t.ID)
	fmt.Fprintf(&buf, "Crawler:   %s\n", t.CrawlerType)
	fmt.Fprintf(&buf, "Status:    %s\n", t.Status)
	fmt.Fprintf(&buf, "Progress:  %s %d%%\n", ProgressBar(t.Progress, 20), t.Progress)
	fmt.Fprintf(&buf, "Created:   %s\n", FormatTime(t.CreatedAt))
	if t.Duration != nil {
		fmt.Fprintf(&buf, "Duration:  %s\n", FormatSeconds(t.Duration))
	}
	for _, k := range sortedKeys(t.Params) {
		fmt.Fprintf(&buf, "Param:     %s=%v\n", k, t.Params[k])
	}
	if t.Error != "" {
		fmt.Fprintf(&buf, "Error:     %s\n", t.Error)
	}
	if t.Result != nil {
		if data, err := shared.MarshalJSON(t.Result, true); err == nil {
			fmt.Fprintf(&buf, "Result:\n%s\n", data)
		}
	}
	return buf.Bytes()
}

// WriteResultExport writes a completed task's result to dir as {id}{ext} and returns the file path.
// Only JSON and YAML are meaningful for structured results; other formats write JSON.
func WriteResultExport(task models.Task, dir string, f Format) (string, error) {
	if f != FormatYAML {
		f = FormatJSON
	}
	var buf bytes.Buffer
	payload := map[string]any{
		"task_id":      task.ID,
		"crawler_type": task.CrawlerType,
		"params":       task.Params,
		"result":       task.Result,
	}
	if err := WriteValue(&buf, payload, f); err != nil {
		return "", err
	}

	path := filepath.Join(dir, task.ID+f.Extension())
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	return path, nil
}

// WriteManifest writes v as indented JSON to path.
func WriteManifest(v any, path string) error {
	data, err := shared.MarshalJSON(v, true)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ProgressBar renders p (0-100) as a bar of the given width.
func ProgressBar(p, width int) string {
	if width <= 0 {
		return ""
	}
	p = max(0, min(100, p))
	filled := p * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// FormatTime renders a timestamp in local time, or "-" when unset.
func FormatTime(ts models.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

// FormatSeconds renders a duration in seconds, or "-" when unset.
func FormatSeconds(s *float64) string {
	if s == nil {
		return "-"
	}
	return (time.Duration(*s * float64(time.Second))).Round(100 * time.Millisecond).String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
