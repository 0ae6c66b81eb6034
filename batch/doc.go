// Package batch defines the batch and item entities, their state machines,
// and the store contract that every backend must satisfy.
//
// # Batch Entity
//
// A [Batch] is a submitted group of items tracked as a single unit:
//
//	pending → processing → completed
//	pending → processing → failed
//
// Transitions are monotonic; a terminal batch never moves again. The
// aggregate counters CompletedCount and FailedCount only ever grow, and only
// through [Store.FinalizeItem] — no other component may write them.
//
// # Item Entity
//
// An [Item] is one unit of work within a batch, referencing one or more
// source URLs:
//
//	pending → running → succeeded
//	pending → running → failed
//
// # Completion detection
//
// FinalizeItem is the single atomic operation that persists an item's
// terminal state, increments the owning batch's counters, performs the
// batch-level terminal transition when completed+failed reaches the item
// count, and claims the completion webhook. Because the boundary check and
// the increment are the same atomic unit, exactly one caller ever observes
// the crossing — even when redelivered work tokens race on the last item.
package batch
