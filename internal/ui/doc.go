// Package ui implements an interactive task dashboard using bubbletea's Elm architecture.
//
// Views:
//  1. [TaskListView] : Browse tasks with live status and progress
//  2. [TaskDetailView] : Inspect one task, its progress bar and result
//  3. [CrawlerPickView] : Choose a crawler to run
//  4. [ParamsView] : Enter key=value crawler parameters
//  5. [ConfirmDeleteView] : Confirm deleting a task
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Store changes arrive as [StoreChanged] messages sent from a store subscription; reconciliation events flow through
// the syncer's progress channel. The status line shows how many live channels are open, connecting or backing off.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
