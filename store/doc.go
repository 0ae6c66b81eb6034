// Package store groups the batch.Store implementations.
//
// Two backends ship with the module:
//
//   - memory: mutex-guarded maps, for unit tests and development.
//   - postgres: pgx/v5 with embedded SQL migrations, for production.
//
// Both enforce the same transactional contract: FinalizeItem persists the
// item's terminal state, bumps the batch counters, performs the batch
// terminal transition, and claims the webhook in one atomic step, and is a
// no-op for items that are already terminal.
package store
