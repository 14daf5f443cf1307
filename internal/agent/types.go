package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/engine"
)

// Tone is the reply voice of an agent. A closed enumeration; free-form
// strings are rejected at the boundary via ParseTone.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneTechnical    Tone = "technical"
	ToneCasual       Tone = "casual"
)

// ParseTone validates a tone string against the enumeration.
func ParseTone(s string) (Tone, error) {
	switch Tone(s) {
	case ToneProfessional, ToneFriendly, ToneTechnical, ToneCasual:
		return Tone(s), nil
	default:
		return "", fmt.Errorf("%w: unknown tone %q (must be one of: professional, friendly, technical, casual)",
			engine.ErrInvalidInput, s)
	}
}

// Agent is a configured support persona belonging to one tenant. Identity
// (id, tenant) is immutable; configuration fields are mutable by the owning
// tenant.
type Agent struct {
	ID           uuid.UUID `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	BusinessName string    `json:"business_name"`
	Description  string    `json:"description,omitempty"`
	Tone         Tone      `json:"tone"`
	CreatedAt    time.Time `json:"created_at"`
}

// Spec holds the fields for creating an agent.
type Spec struct {
	Name         string
	BusinessName string
	Description  string
	Tone         string
}

// Patch is a partial update of an agent's mutable fields. Nil fields are left
// unchanged.
type Patch struct {
	Name         *string
	BusinessName *string
	Description  *string
	Tone         *string
}
