// Package worker contains the message execution engine: an Executor
// that runs a single message through middleware and its registered
// handler, and a Processor that polls the store and processes due
// messages in concurrent batches.
//
// # Outcomes
//
// Every execution is classified into one of four outcomes, and every
// outcome is written back to the store — including during shutdown:
//
//   - SUCCESS: the message is marked completed.
//   - RETRY: the failure is recorded with a backoff delay from the
//     configured strategy; the message returns to pending until its
//     attempt budget runs out.
//   - FAILURE: a non-retryable failure; an attempt is still consumed
//     so repeated permanent failures dead-letter quickly.
//   - SKIP: the message is released unchanged (no handler registered,
//     or execution was cancelled by shutdown).
//
// # Batching
//
// The processor dequeues up to its batch size each poll and fans the
// batch out across goroutines. A weighted semaphore bounds how many
// batches run at once; when all slots are busy a poll is skipped and
// messages stay queued. The batch size adapts at runtime: it grows
// while recent executions are fast and reliable and shrinks when they
// are slow or flaky, within [MinBatchSize, MaxBatchSize].
//
// # Usage
//
//	registry := msg.NewRegistry()
//	msg.RegisterDefinition(registry, msg.NewDefinition("send-email", sendEmail))
//
//	executor := worker.NewExecutor(registry, hooks, logger,
//		middleware.Recover(logger),
//		middleware.Logging(logger),
//	)
//	processor := worker.NewProcessor(store, executor, hooks, retry.NewPolicy(), logger,
//		worker.WithBatchSize(10),
//		worker.WithInterval(time.Second),
//	)
//
//	_ = processor.Start(ctx)
//	defer processor.Stop(ctx)
package worker
