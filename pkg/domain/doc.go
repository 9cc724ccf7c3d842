/*
Package domain contains the core domain models for the stepwise conversation engine.

It defines the durable conversation record, the inbound events the engine reacts to, and
the contracts used to advance a conversation exactly once per logical answer. This package
is kept pure and free of I/O, following Hexagonal Architecture principles.

# Key Entities

  - Identity: The stable partition key of a conversation (a normalized phone number).
  - ConversationRecord: The durable progress of one conversation instance.
  - Event: A single inbound message or button click delivered by the channel.
  - Advance: The conditional (compare-and-swap) commit of one answered step.
  - Transition: A conditional move between states that does not consume a step.
*/
package domain
