package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Conversation is one continuous exchange between a customer session and an
// agent. State machine: Open (initial) -> Open on every append -> Resolved
// (terminal). Once resolved, a new message under the same session id starts a
// fresh conversation.
type Conversation struct {
	ID             uuid.UUID `json:"id"`
	AgentID        uuid.UUID `json:"agent_id"`
	SessionID      string    `json:"session_id"`
	Resolved       bool      `json:"resolved"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Messages is populated by Get; list operations leave it nil.
	Messages []Message `json:"messages,omitempty"`
}

// Message is a single utterance within a conversation. Ordinals are a strict
// 0-based sequence with no gaps.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Ordinal        int       `json:"ordinal"`
	CreatedAt      time.Time `json:"created_at"`
}
