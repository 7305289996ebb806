// Package dlq provides the dead letter queue for messages that have
// exhausted their retry budget. It supports inspection, requeue, and
// purging.
//
// When a message fails and Attempts has reached MaxAttempts, the queue
// store moves the full record into the dead letter table in the same
// transaction that deletes it from the main table. The serialized
// message, final error, and attempt counts are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - MessageID / Kind: original message identity
//   - Message: the full serialized record at time of failure
//   - Reason / FinalError: why it ended up here
//   - Attempts / MaxAttempts: the exhausted retry budget
//   - FailedAt: when the terminal failure occurred
//
// # Service
//
// [Service] wraps the store with high-level operations:
//
//	svc := dlq.NewService(store, logger)
//	entries, _ := svc.List(ctx, dlq.ListOpts{Limit: 50})
//	restored, _ := svc.Requeue(ctx, entryID)
//	removed, _ := svc.Purge(ctx, time.Now().Add(-30*24*time.Hour))
//
// # Requeue
//
// Requeueing restores the original message — same ID — as a fresh
// pending row with attempts reset to zero, and deletes the entry in the
// same transaction. A message row therefore exists in exactly one of
// the two tables at any time.
package dlq
