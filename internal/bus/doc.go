// Package bus is the Message Bus: durable topic/queue transport with a
// per-topic dead-letter queue, backed by a single bbolt database file.
//
// Each topic gets four buckets: a primary FIFO queue keyed by a monotonic
// sequence number, an in-flight bucket for received but unacknowledged
// messages, a ready-at bucket holding each requeued message's backoff
// deadline, and a dead-letter bucket holding messages that exhausted their
// retry budget. Consumers pull with manual acknowledgment (Receive
// followed by Ack/Nack) so a crash between pull and ack leaves the message
// redeliverable, preserving an at-least-once delivery contract.
package bus
