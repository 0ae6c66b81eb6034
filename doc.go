// Package imgproc provides a durable batch image-processing engine for Go.
// It ingests batches of items, each referencing one or more externally hosted
// images, and for every item fetches the sources, recompresses them, and
// persists the results while tracking per-item and aggregate progress.
//
// The engine is designed as a library. Configure a store and a work queue,
// wire a fetcher, transformer, and blob store, and submit batches through the
// intake service. Completion of a batch is detected atomically inside the
// store so the completion webhook is claimed by exactly one worker, no matter
// how many redelivered work tokens race on the last item.
//
// # Architecture
//
// Each subsystem (batch, queue, fetch, transform, blob, webhook) defines its
// own contract; backends implement them under store/ and queue/. All entity
// IDs use TypeID — type-prefixed, K-sortable, compile-time safe identifiers.
package imgproc
