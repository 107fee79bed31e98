// Package services implements [Client], the typed accessor for the crawler platform's REST API.
//
// # Requests
//
// Every endpoint method issues exactly one HTTP request under {origin}/api with a bounded timeout
// (30 seconds by default). The bearer credential is read from a [CredentialStore] on every call, so a
// login or logout in one command is seen by the next request without rebuilding the client.
// Each request carries a fresh X-Request-ID.
//
// # Error Handling
//
// Non-2xx responses become [*APIError]. The message comes from the body's "detail" (string or FastAPI
// validation list) or "error.message", falling back to the HTTP status text. APIError unwraps to the
// sentinel errors in the shared package:
//   - [shared.ErrNotAuthenticated] : 401
//   - [shared.ErrForbidden] : 403
//   - [shared.ErrNotFound] : 404
//   - [shared.ErrAPIRequest] : anything else
//
// Transport timeouts wrap [shared.ErrTimeout].
//
// # Auth Hooks
//
// A 401 on any path other than login or register clears the stored credential and calls
// [Hooks.OnUnauthorized]. A 403 under /admin calls [Hooks.OnForbidden].
package services
