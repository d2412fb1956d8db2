package bus

import "time"

// Message is the envelope every topic carries: messageId, correlationId,
// an optional parentJobId/scanJobId, createdAt, attempt, and stage-specific
// fields.
type Message struct {
	MessageID     string         `json:"messageId"`
	CorrelationID string         `json:"correlationId"`
	ParentJobID   string         `json:"parentJobId,omitempty"`
	ScanJobID     string         `json:"scanJobId,omitempty"`
	JobID         string         `json:"jobId"`
	CreatedAt     time.Time      `json:"createdAt"`
	Attempt       int            `json:"attempt"`
	Payload       map[string]any `json:"payload"`
}

// Delivery is a received Message paired with the handle a consumer uses to
// acknowledge or reject it.
type Delivery struct {
	Message Message

	topic string
	seq   uint64
}
