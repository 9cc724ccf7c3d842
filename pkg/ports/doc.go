/*
Package ports defines the driven ports (interfaces) for the stepwise engine.

These interfaces decouple the dispatch engine and the advancement protocol from the
concrete collaborators, so the core can be tested without a network or a database.

# Key Interfaces

  - ProgressStore: Durable conversation progress with a compare-and-swap advance primitive.
  - Channel: Outbound messaging (plain text and interactive prompts).
  - StepSource: Read-only step definitions per conversation type.
  - Directory: Ticket and document lookups.
  - TurnRecorder: Best-effort telemetry sink for completed turns.
*/
package ports
