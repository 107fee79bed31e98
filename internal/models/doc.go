// Package models defines the data types exchanged with the crawler platform.
//
// The package contains three groups of types:
//
// 1. Tasks: the unit of work tracked end-to-end
//   - [Task] : one crawl job and its lifecycle state
//   - [TaskStatus] : finite, forward-only status (pending → running → completed|failed|cancelled)
//   - [TaskFields] : a partial update merged into a [Task] by the task store
//
// 2. Live messages: frames received over a task's live channel
//   - [ControlMessage] : connection greeting and keepalive replies, ignored by reconciliation
//   - [StatusUpdate] : a status change for one task
//
// 3. REST boundary types: request and response bodies of the /api endpoints
//   - [User], [LoginRequest], [LoginResponse], [RegisterRequest]
//   - [CrawlerInfo], [RunCrawlerRequest], [RunCrawlerResponse]
//   - [TaskListResponse], [TaskQuery], [TaskPatch]
//   - [StatsResponse], [HealthResponse]
//
// Status updates and control messages are told apart by the presence of a status field, not by their
// type tag, since the platform does not send a type on every frame.
package models
