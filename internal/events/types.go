package events

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Event types published over a session's life.
const (
	TypeStarted   = "automation.started"
	TypeStep      = "automation.step"
	TypeCompleted = "automation.completed"
	TypeFailed    = "automation.failed"
)

// Source identifies this service in event envelopes.
const Source = "ticketbot"

// CanonicalEvent is the envelope every event is published in.
type CanonicalEvent struct {
	EventID   string       `json:"event_id"`
	Source    string       `json:"source"`
	Type      string       `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Context   EventContext `json:"context"`
	Payload   EventPayload `json:"payload"`
}

type EventContext struct {
	SessionID string `json:"session_id,omitempty"`
}

type EventPayload struct {
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewEventID generates a compact unique event id with a date prefix.
func NewEventID(prefix string, t time.Time) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return prefix + t.UTC().Format("20060102") + "_" + hex.EncodeToString(b)
}

// New builds an event for a session with a fresh id and timestamp.
func New(eventType, sessionID, text string, metadata map[string]any) CanonicalEvent {
	now := time.Now().UTC()
	return CanonicalEvent{
		EventID:   NewEventID("evt_", now),
		Source:    Source,
		Type:      eventType,
		Timestamp: now,
		Context:   EventContext{SessionID: sessionID},
		Payload:   EventPayload{Text: text, Metadata: metadata},
	}
}

// MinimalValidate checks required fields.
func (e *CanonicalEvent) MinimalValidate() bool {
	return e.EventID != "" && e.Source != "" && e.Type != "" && !e.Timestamp.IsZero()
}
