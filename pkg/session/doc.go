/*
Package session implements the conversation lifecycle around the engine.

Starting a conversation creates a fresh instance in the progress store,
populates the cache eagerly so the first reply is served without a store
read, and sends the first prompt. Administrative calls (abandon, inspect,
list, delete) also live here.

Lifecycle calls for the same identity are serialized in-process. Answer
processing never goes through the Manager: the store's conditional commit
is the only serialization point for step advancement.
*/
package session
