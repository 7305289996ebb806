// Package msg defines the message entity, state machine, typed
// definitions, and store interface.
//
// # Message Entity
//
// A [Message] represents a unit of work in the durable queue. It carries
// a JSON payload, a priority tier, a retry budget, and progresses through
// a state machine:
//
//	pending → processing → completed
//	pending → processing → pending (retry, rescheduled)
//	pending → processing → dead_letter (retry budget exhausted)
//
// Fields of note:
//   - Priority: higher values are dequeued first; ties break FIFO
//   - MaxAttempts / Attempts: controls the retry budget
//   - ScheduledAt: earliest time the message may be dequeued
//   - NextRetry: set alongside ScheduledAt when a failure reschedules
//
// # Defining a Message Kind
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var SendReminder = msg.NewDefinition("send_reminder",
//	    func(ctx context.Context, input ReminderInput) error {
//	        return notifier.Send(input.UserID, input.Text)
//	    },
//	)
//
// # Registry
//
// [Registry] maps message kinds to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	msg.RegisterDefinition(registry, SendReminder)
//	msg.RegisterDefinition(registry, GenerateDigest)
//
// The engine package provides higher-level engine.RegisterKind and
// engine.Enqueue wrappers.
package msg
