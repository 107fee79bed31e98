// Package repositories implements SQLite persistence for the client's local state.
//
// Key Implementations:
//   - [SettingsRepository] : key-value slots, including the session credential
//   - [TokenStore] : adapts the credential slot to the REST client's credential store
//   - [TaskSnapshotRepository] : last known copy of each task for offline listing
//
// Schemas live in the shared package's embedded migrations.
package repositories
