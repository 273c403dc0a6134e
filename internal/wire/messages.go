// Package wire defines the WebSocket protocol for the live concierge wizard.
//
// The server owns an animated wizard per connection. Actions that move
// between steps answer with "phase" frames as the exit and enter animations
// play out, then a "view" frame once the wizard is idle again.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/protestdesk/internal/validate"
	"github.com/matthewbaird/protestdesk/internal/wizard"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "next", "prev", "search", "create_new", "complete", "view", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// NextData is the payload for "next" messages.
type NextData struct {
	Step  string          `json:"step"`
	Input json.RawMessage `json:"input"`
}

// SearchData is the payload for "search" messages.
type SearchData struct {
	Email string `json:"email"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "view", "phase", "search", "complete", "error", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// PhaseData reports an animation phase change.
type PhaseData struct {
	Phase wizard.Phase `json:"phase"`
	Step  string       `json:"step"`
	Index int          `json:"index"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Fields  validate.Errors `json:"fields,omitempty"`
	Missing []string        `json:"missing,omitempty"`
}
