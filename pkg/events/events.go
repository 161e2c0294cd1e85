// Package events streams tool lifecycle events to the conversation
// transport. Ordering: tool_start always precedes tool_end for a call; for
// gated calls, confirmation precedes tool_start, and tool_start only fires
// after an approve.
package events

import (
	"time"
)

// Type identifies a lifecycle event
type Type string

const (
	TypeToolStart    Type = "tool_start"
	TypeToolEnd      Type = "tool_end"
	TypeConfirmation Type = "confirmation"
)

// Event is one lifecycle event as delivered to the transport
type Event struct {
	Type           Type      `json:"type"`
	Seq            int64     `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	CallID         string    `json:"call_id"`
	ConversationID string    `json:"conversation_id,omitempty"`

	// tool_start / tool_end
	ToolName   string `json:"tool_name,omitempty"`
	Status     string `json:"status,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`

	// confirmation
	RiskLevel string    `json:"risk_level,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Emitter delivers lifecycle events to whatever transport is wired
type Emitter interface {
	Emit(event Event)
}

// NopEmitter discards everything; useful default for tests
type NopEmitter struct{}

// Emit implements Emitter
func (NopEmitter) Emit(Event) {}
