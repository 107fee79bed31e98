// Package tasks keeps the client task store in step with the platform.
//
// # Reconciliation
//
// [Syncer] merges two sources into a [store.TaskStore]: REST snapshots (a full list via [Syncer.Refresh],
// or a single task fetched right after its live channel opens) and status updates pushed over live channels
// ([Syncer.Apply]). Rules:
//   - an update for a known task merges status, progress, result and error into it
//   - an update for an unknown task triggers a full refresh; it never inserts a partial record
//   - an update that would move a finished task back to pending or running is dropped
//   - an update between two finished states is applied (last write wins)
//
// # Channel Watcher
//
// [Syncer.Start] subscribes to the store and keeps exactly one live channel open per unfinished task,
// opening channels for new ids and closing them when a task finishes or leaves the store.
//
// # Progress Reporting
//
// Operations publish [ProgressUpdate] values on an optional channel. Sends never block; a full channel
// drops the update.
//
// # Bulk Export
//
// [Syncer.BulkExport] writes the results of completed tasks to files with a rate-limited worker pool and
// records the outcome in a manifest.
package tasks
