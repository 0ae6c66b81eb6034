// Package middleware provides composable middleware around item
// processing.
//
// A [Middleware] wraps the per-item handler. Middleware compose with
// [Chain] and apply right-to-left: the first middleware in the slice is
// the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs item start, duration, and outcome
//   - [Recover] — catches panics in the handler and converts them to errors
//   - [Timeout] — cancels the item context after a configured duration
//   - [Tracing] — wraps processing in an OpenTelemetry span
//   - [Metrics] — records per-item duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
