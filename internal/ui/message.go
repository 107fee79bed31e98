package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/crawlctl/internal/models"
	"github.com/desertthunder/crawlctl/internal/store"
	"github.com/desertthunder/crawlctl/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgStoreChanged MsgKind = iota
	MsgTasksRefreshed
	MsgCrawlersFetched
	MsgTaskCreated
	MsgTaskCancelled
	MsgTaskDeleted
	MsgResultExported
	MsgProgressUpdate
	MsgTick
)

// StoreChanged is the constructor for [MsgStoreChanged]. It is sent from store subscriptions.
func StoreChanged(c store.Change) Msg {
	return Msg{kind: MsgStoreChanged, data: c}
}

type result[T any] struct {
	value T
	err   error
}

// tasksRefreshedMsg is the constructor for [MsgTasksRefreshed]
func tasksRefreshedMsg(err error) Msg {
	return Msg{kind: MsgTasksRefreshed, data: err}
}

// crawlersFetchedMsg is the constructor for [MsgCrawlersFetched]
func crawlersFetchedMsg(crawlers []models.CrawlerInfo, err error) Msg {
	return Msg{kind: MsgCrawlersFetched, data: result[[]models.CrawlerInfo]{crawlers, err}}
}

// taskCreatedMsg is the constructor for [MsgTaskCreated]
func taskCreatedMsg(task *models.Task, err error) Msg {
	return Msg{kind: MsgTaskCreated, data: result[*models.Task]{task, err}}
}

// taskCancelledMsg is the constructor for [MsgTaskCancelled]
func taskCancelledMsg(task *models.Task, err error) Msg {
	return Msg{kind: MsgTaskCancelled, data: result[*models.Task]{task, err}}
}

// taskDeletedMsg is the constructor for [MsgTaskDeleted]
func taskDeletedMsg(taskID string, err error) Msg {
	return Msg{kind: MsgTaskDeleted, data: result[string]{taskID, err}}
}

// resultExportedMsg is the constructor for [MsgResultExported]
func resultExportedMsg(path string, err error) Msg {
	return Msg{kind: MsgResultExported, data: result[string]{path, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

func tickMsg() Msg {
	return Msg{kind: MsgTick}
}
