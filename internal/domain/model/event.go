package model

import (
	"encoding/json"
	"time"
)

// StreamEvent is the closed set of pipeline events fanned out to the
// subscribers of a conversation. Each variant carries exactly the payload
// its wire `data` field exposes; conversation id and timestamp are stamped
// by the broadcaster, never by the producer.
type StreamEvent interface {
	EventType() string
}

type ProcessingEvent struct {
	JobID string `json:"jobId"`
}

func (ProcessingEvent) EventType() string { return "processing" }

type ProgressEvent struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Position int    `json:"position,omitempty"`
}

func (ProgressEvent) EventType() string { return "progress" }

type MessageEvent struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Sequence int64  `json:"sequence"`
	Tokens   int    `json:"tokens,omitempty"`
}

func (MessageEvent) EventType() string { return "message" }

type CompleteEvent struct {
	JobID     string `json:"jobId"`
	Tokens    int    `json:"tokens"`
	CostMicro int64  `json:"cost"`
	LatencyMS int64  `json:"latency"`
}

func (CompleteEvent) EventType() string { return "complete" }

type ErrorEvent struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`
}

func (ErrorEvent) EventType() string { return "error" }

// EventEnvelope is the wire frame delivered to each connection: the variant
// payload plus the broadcaster-stamped conversation id and emission time.
type EventEnvelope struct {
	Type           string      `json:"type"`
	Data           StreamEvent `json:"data"`
	ConversationID string      `json:"conversationId"`
	Timestamp      time.Time   `json:"timestamp"`
}

func (e EventEnvelope) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type           string      `json:"type"`
		Data           StreamEvent `json:"data"`
		ConversationID string      `json:"conversationId"`
		Timestamp      string      `json:"timestamp"`
	}
	return json.Marshal(wire{
		Type:           e.Type,
		Data:           e.Data,
		ConversationID: e.ConversationID,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}
