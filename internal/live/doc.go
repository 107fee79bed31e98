// Package live maintains one streaming connection per tracked task.
//
// A [Manager] owns the connections; the task data they carry belongs to the caller, who receives status
// updates through [Handlers]. Each channel moves through an explicit state machine:
//
//	idle ──Open──▶ connecting ──dial ok──▶ open ──remote close──▶ backoff ──timer──▶ connecting
//	                   │                                           ▲
//	                   └──────────────dial failed──────────────────┘
//
// Reconnects stop after [Options.MaxReconnects] consecutive failures and the channel returns to idle.
// [Manager.Close] moves a channel to closing, after which none of its callbacks fire.
package live
