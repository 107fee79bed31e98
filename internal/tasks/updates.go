package tasks

import (
	"fmt"

	"github.com/desertthunder/crawlctl/internal/models"
)

// ProgressUpdate represents a reconciliation or export event.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	TaskID  string // Task the event concerns, if any
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	PhaseRefresh Phase = iota
	PhaseStatus
	PhaseCreate
	PhaseCancel
	PhaseDelete
	PhaseChannel
	PhaseExport
)

func (p Phase) String() string {
	switch p {
	case PhaseRefresh:
		return "refresh"
	case PhaseStatus:
		return "status"
	case PhaseCreate:
		return "create"
	case PhaseCancel:
		return "cancel"
	case PhaseDelete:
		return "delete"
	case PhaseChannel:
		return "channel"
	case PhaseExport:
		return "export"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func refreshedUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseRefresh,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Loaded %d tasks", count),
	}
}

func statusUpdate(task models.Task, message string) ProgressUpdate {
	msg := fmt.Sprintf("%s %s %d%%", task.ID, task.Status, task.Progress)
	if message != "" {
		msg += ": " + message
	}
	return ProgressUpdate{
		Phase:   PhaseStatus,
		TaskID:  task.ID,
		Step:    task.Progress,
		Total:   100,
		Message: msg,
		Data:    task,
	}
}

func createdUpdate(task models.Task) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseCreate,
		TaskID:  task.ID,
		Message: fmt.Sprintf("Started %s crawl (task %s)", task.CrawlerType, task.ID),
		Data:    task,
	}
}

func cancelledUpdate(taskID string) ProgressUpdate {
	return ProgressUpdate{Phase: PhaseCancel, TaskID: taskID, Message: fmt.Sprintf("Cancelled task %s", taskID)}
}

func deletedUpdate(taskID string) ProgressUpdate {
	return ProgressUpdate{Phase: PhaseDelete, TaskID: taskID, Message: fmt.Sprintf("Deleted task %s", taskID)}
}

func channelUpdate(taskID, state string) ProgressUpdate {
	return ProgressUpdate{Phase: PhaseChannel, TaskID: taskID, Message: fmt.Sprintf("Live channel %s: %s", taskID, state), Data: state}
}

func exportingUpdate(step, total int, taskID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseExport,
		TaskID:  taskID,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Exporting: %s...", step, total, taskID),
	}
}

func exportCompletedUpdate(step, total int, res TaskExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseExport,
		TaskID:  res.TaskID,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%s)", step, total, res.TaskID, res.File),
		Data:    res,
	}
}

func exportFailedUpdate(step, total int, res TaskExportResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseExport,
		TaskID:  res.TaskID,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, res.TaskID, res.Error),
		Data:    res,
	}
}
