// Package server is an in-memory stand-in for the crawler platform, used for local development and tests.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns with path wildcards.
//
// # Platform
//
// [Platform] holds accounts, crawlers and tasks in memory. Passwords are bcrypt hashed; access tokens
// are HS256 JWTs issued by [TokenIssuer] with the username as subject and a user_id claim.
//
// Crawls are simulated: [Platform.Step] moves pending tasks to running and advances running tasks
// until they complete with a generated result. Every change is published on the [Hub].
//
// # Live Channels
//
// [ChannelHandler] serves /ws/tasks/{id}. A connection gets a greeting frame, then every status update
// published for the task, and answers ping commands with a pong.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
