// Package dispatch orchestrates the inbound customer message flow: validate
// the agent, persist the customer message, retrieve grounding fragments,
// compose a reply, persist it, and apply the resolution policy.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/agent"
	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/knowledge"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// AgentDirectory resolves agents for the inbound flow.
type AgentDirectory interface {
	Get(ctx context.Context, id uuid.UUID, principal tenant.Principal) (*agent.Agent, error)
}

// KnowledgeIndex retrieves grounding fragments by relevance.
type KnowledgeIndex interface {
	QueryRelevant(ctx context.Context, agentID uuid.UUID, principal tenant.Principal, queryText string, maxResults int) ([]knowledge.Result, error)
}

// ConversationLog is the conversation persistence surface the dispatcher
// drives.
type ConversationLog interface {
	AppendCustomerMessage(ctx context.Context, agentID uuid.UUID, sessionID, content string, principal tenant.Principal) (*conversation.Conversation, *conversation.Message, error)
	AppendAgentMessage(ctx context.Context, conversationID uuid.UUID, content string, principal tenant.Principal) (*conversation.Message, error)
	MarkResolved(ctx context.Context, conversationID uuid.UUID, principal tenant.Principal) (*conversation.Conversation, error)
	Get(ctx context.Context, conversationID uuid.UUID, principal tenant.Principal) (*conversation.Conversation, error)
}

// Config tunes retrieval breadth and the resolution policy.
type Config struct {
	// TopK bounds how many fragments are retrieved per inbound message.
	TopK int
	// MinRelevance drops fragments below this cosine similarity before
	// composition. A reply grounded on noise is worse than an honest
	// "I don't know".
	MinRelevance float32
	// ResolveConfidence is the top-hit similarity at or above which a
	// grounded reply is treated as a complete answer and the conversation
	// auto-resolves.
	ResolveConfidence float32
}

// Dispatcher wires the agent registry, knowledge index, and conversation
// store into the inbound flow. Safe for concurrent use.
type Dispatcher struct {
	agents        AgentDirectory
	index         KnowledgeIndex
	conversations ConversationLog
	cfg           Config
	logger        *slog.Logger
}

// New creates a Dispatcher.
func New(agents AgentDirectory, index KnowledgeIndex, conversations ConversationLog, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		agents:        agents,
		index:         index,
		conversations: conversations,
		cfg:           cfg,
		logger:        logger,
	}
}

// Result is the outcome of one inbound customer message.
type Result struct {
	Conversation *conversation.Conversation `json:"conversation"`
	Reply        string                     `json:"reply"`
}

// HandleInbound runs the full inbound flow for one customer message.
//
// Agent validation and the customer append abort cleanly with nothing
// persisted. Once the customer message is committed the flow runs to
// completion even if the caller's request context is cancelled; a late
// failure loses only the reply and leaves the conversation open with the
// customer's message intact.
func (d *Dispatcher) HandleInbound(ctx context.Context, agentID uuid.UUID, sessionID, customerText string, principal tenant.Principal) (*Result, error) {
	ag, err := d.agents.Get(ctx, agentID, principal)
	if err != nil {
		return nil, err
	}

	conv, _, err := d.conversations.AppendCustomerMessage(ctx, agentID, sessionID, customerText, principal)
	if err != nil {
		return nil, err
	}

	// The customer message is durable now; detach from request cancellation.
	ctx = context.WithoutCancel(ctx)

	hits, err := d.index.QueryRelevant(ctx, agentID, principal, customerText, d.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge index: %w", err)
	}
	grounded := relevant(hits, d.cfg.MinRelevance)

	reply := composeReply(ag, grounded)

	if _, err := d.conversations.AppendAgentMessage(ctx, conv.ID, reply, principal); err != nil {
		return nil, fmt.Errorf("failed to persist reply: %w", err)
	}

	if d.shouldResolve(grounded) {
		if _, err := d.conversations.MarkResolved(ctx, conv.ID, principal); err != nil {
			// The exchange is complete; losing auto-resolution only leaves
			// the conversation open for the idle sweep.
			d.logger.Warn("auto-resolve failed", "conversation_id", conv.ID, "error", err)
		}
	}

	updated, err := d.conversations.Get(ctx, conv.ID, principal)
	if err != nil {
		return nil, err
	}

	d.logger.Info("handled inbound message",
		"agent_id", agentID,
		"conversation_id", conv.ID,
		"grounding_hits", len(grounded),
		"resolved", updated.Resolved)

	return &Result{Conversation: updated, Reply: reply}, nil
}

// shouldResolve reports whether the grounded reply counts as a complete
// answer. Requires at least one fragment at or above the confidence bar; a
// fallback reply never resolves.
func (d *Dispatcher) shouldResolve(grounded []knowledge.Result) bool {
	return len(grounded) > 0 && grounded[0].Similarity >= d.cfg.ResolveConfidence
}

// relevant keeps hits at or above the similarity floor. Hits arrive ranked,
// so the filtered slice stays ranked.
func relevant(hits []knowledge.Result, floor float32) []knowledge.Result {
	kept := make([]knowledge.Result, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= floor {
			kept = append(kept, h)
		}
	}
	return kept
}
