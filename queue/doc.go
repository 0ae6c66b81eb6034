// Package queue defines the work-token transport between intake and the
// worker pool.
//
// A [Token] names exactly one item of one batch. Tokens travel through a
// [Queue] with at-least-once delivery: a dequeued token that is neither
// acked nor nacked before its visibility timeout elapses is redelivered
// with an incremented attempt counter. Consumers must therefore be
// idempotent; the store's conditional item transitions make redelivered
// tokens harmless.
//
// Two implementations ship with the module:
//
//   - memqueue: process-local, for tests and single-binary deployments.
//   - redisq: Redis-backed, for running intake and workers in separate
//     processes.
//
// Tokens are encoded with MessagePack ([Encode]/[Decode]) so the redis
// payloads stay compact and schema-tolerant.
package queue
