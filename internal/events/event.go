// Package events publishes capture lifecycle events to analytics sinks.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a capture event.
type Outcome string

const (
	OutcomeRetry     Outcome = "retry"
	OutcomeSuccess   Outcome = "success"
	OutcomeCancelled Outcome = "cancelled"
)

// CaptureEvent is one analytics record emitted during a capture session.
type CaptureEvent struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	CaptureType string    `json:"captureType"`
	Attempt     int       `json:"attempt"`
	Confidence  float64   `json:"confidence,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Message     string    `json:"message,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NewCaptureEvent stamps an event with a random id and the current time.
func NewCaptureEvent(sessionID, captureType string, attempt int, outcome Outcome) CaptureEvent {
	return CaptureEvent{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		CaptureType: captureType,
		Attempt:     attempt,
		Outcome:     outcome,
		OccurredAt:  time.Now().UTC(),
	}
}

func (e CaptureEvent) encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers capture events to a sink.
type Publisher interface {
	Publish(ctx context.Context, evt CaptureEvent) error
	Close() error
}
