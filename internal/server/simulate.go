package server

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/crawlctl/internal/models"
)

const (
	// ProgressStep is how far a running crawl advances per tick.
	ProgressStep = 20
	// FailParam makes a simulated crawl fail halfway when set to true.
	FailParam = "simulate_failure"
)

type event struct {
	task    models.Task
	message string
}

// Step advances every unfinished task by one tick and publishes the changes.
//
// Pending tasks start running; running tasks gain [ProgressStep] until they complete with a generated result.
// It returns the number of tasks that changed.
func (p *Platform) Step() int {
	now := models.NewTimestamp(p.now())
	var events []event

	p.mu.Lock()
	for _, id := range p.order {
		t := p.tasks[id]
		switch t.Status {
		case models.StatusPending:
			t.Status = models.StatusRunning
			t.Progress = 0
			started := now
			t.StartedAt = &started
			events = append(events, event{t.Clone(), "Task started"})
		case models.StatusRunning:
			t.Progress += ProgressStep
			switch {
			case shouldFail(t.Params) && t.Progress >= 50:
				t.Status = models.StatusFailed
				t.Error = "simulated crawler failure"
				finish(t, now)
				events = append(events, event{t.Clone(), "Task failed: " + t.Error})
			case t.Progress >= 100:
				t.Status = models.StatusCompleted
				t.Progress = 100
				t.Result = simulatedResult(*t)
				finish(t, now)
				events = append(events, event{t.Clone(), "Task completed successfully"})
			default:
				events = append(events, event{t.Clone(), fmt.Sprintf("Crawling... %d%%", t.Progress)})
			}
		}
	}
	p.mu.Unlock()

	for _, e := range events {
		p.publish(e.task, e.message)
	}
	return len(events)
}

// Run calls [Platform.Step] every tick until ctx is done.
func (p *Platform) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Step()
		}
	}
}

func finish(t *models.Task, now models.Timestamp) {
	done := now
	t.CompletedAt = &done
	if t.StartedAt != nil {
		d := now.Sub(t.StartedAt.Time).Seconds()
		t.Duration = &d
	}
}

func shouldFail(params map[string]any) bool {
	switch v := params[FailParam].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

func simulatedResult(t models.Task) map[string]any {
	items := make([]any, 0, 3)
	for i := 1; i <= 3; i++ {
		items = append(items, map[string]any{
			"rank":  i,
			"title": fmt.Sprintf("%s item %d", t.CrawlerType, i),
		})
	}
	return map[string]any{
		"crawler": t.CrawlerType,
		"count":   len(items),
		"items":   items,
	}
}
