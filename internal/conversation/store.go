// Package conversation owns the conversation session lifecycle and ordered
// message append.
//
// The contended path is find-or-create + append for one (agent, session)
// pair. Two layers serialize it: an in-process keyed lock bounds contention,
// and inside the transaction a SELECT ... FOR UPDATE on the conversation row
// is the authoritative serializer, so ordinals stay gapless even across
// processes. The lock is held only across that step, never across knowledge
// queries or reply composition.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/relaydesk/internal/engine"
	"github.com/relaydesk/relaydesk/internal/postgres"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// MaxContentBytes bounds a single message.
const MaxContentBytes = 64 * 1024

// Querier defines the database operations the store needs. Satisfied by
// *postgres.Queries.
type Querier interface {
	GetAgent(ctx context.Context, id pgtype.UUID) (postgres.Agent, error)
	ActiveConversationForUpdate(ctx context.Context, arg postgres.ActiveConversationParams) (postgres.Conversation, error)
	CreateConversation(ctx context.Context, arg postgres.ActiveConversationParams) (postgres.Conversation, error)
	ConversationForUpdate(ctx context.Context, id pgtype.UUID) (postgres.Conversation, error)
	GetConversation(ctx context.Context, id pgtype.UUID) (postgres.Conversation, error)
	GetConversationOwner(ctx context.Context, id pgtype.UUID) (postgres.ConversationOwnerRow, error)
	MaxOrdinal(ctx context.Context, conversationID pgtype.UUID) (int32, error)
	InsertMessage(ctx context.Context, arg postgres.InsertMessageParams) (postgres.Message, error)
	TouchConversation(ctx context.Context, id pgtype.UUID) error
	ResolveConversation(ctx context.Context, id pgtype.UUID) error
	ListConversations(ctx context.Context, agentID pgtype.UUID) ([]postgres.Conversation, error)
	ListMessages(ctx context.Context, conversationID pgtype.UUID) ([]postgres.Message, error)
	ListIdleConversations(ctx context.Context, cutoff pgtype.Timestamptz) ([]postgres.IdleConversationRow, error)
}

// Store is the Conversation Store. Safe for concurrent use.
type Store struct {
	queries Querier
	pool    *pgxpool.Pool // nil in unit tests; appends then run non-transactionally
	locks   *keyedLock
	logger  *slog.Logger
}

// New creates a Store. pool may be nil for tests with mock queriers.
func New(querier Querier, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries: querier,
		pool:    pool,
		locks:   newKeyedLock(),
		logger:  logger,
	}
}

// AppendCustomerMessage appends a customer message to the active conversation
// for (agentID, sessionID), creating the conversation first if none is open.
// Atomic with respect to concurrent calls bearing the same pair.
func (s *Store) AppendCustomerMessage(ctx context.Context, agentID uuid.UUID, sessionID, content string, principal tenant.Principal) (*Conversation, *Message, error) {
	if sessionID == "" {
		return nil, nil, fmt.Errorf("%w: session id must not be empty", engine.ErrInvalidInput)
	}
	if err := validateContent(content); err != nil {
		return nil, nil, err
	}

	if err := s.checkAgent(ctx, agentID, principal); err != nil {
		return nil, nil, err
	}

	key := lockKey(agentID, sessionID)
	s.locks.acquire(key)
	defer s.locks.release(key)

	var conv Conversation
	var msg Message
	err := s.withTx(ctx, func(q Querier) error {
		row, err := q.ActiveConversationForUpdate(ctx, postgres.ActiveConversationParams{
			AgentID:   uuidToPg(agentID),
			SessionID: sessionID,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			row, err = q.CreateConversation(ctx, postgres.ActiveConversationParams{
				AgentID:   uuidToPg(agentID),
				SessionID: sessionID,
			})
		}
		if err != nil {
			return fmt.Errorf("failed to open conversation: %w", err)
		}

		inserted, err := s.appendLocked(ctx, q, row.ID, RoleCustomer, content)
		if err != nil {
			return err
		}

		conv = rowToConversation(row)
		conv.LastActivityAt = inserted.CreatedAt
		msg = inserted
		return nil
	})
	if err != nil {
		return nil, nil, engine.Unavailable(err)
	}

	s.logger.Debug("appended customer message",
		"conversation_id", conv.ID, "session_id", sessionID, "ordinal", msg.Ordinal)
	return &conv, &msg, nil
}

// AppendAgentMessage appends an agent reply to an existing conversation.
// Fails with Conflict if the conversation is already resolved: no further
// agent replies are permitted on a closed conversation.
func (s *Store) AppendAgentMessage(ctx context.Context, conversationID uuid.UUID, content string, principal tenant.Principal) (*Message, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}

	owner, err := s.owner(ctx, conversationID, principal)
	if err != nil {
		return nil, err
	}

	key := lockKey(pgToUUID(owner.AgentID), owner.SessionID)
	s.locks.acquire(key)
	defer s.locks.release(key)

	var msg Message
	txErr := s.withTx(ctx, func(q Querier) error {
		row, err := q.ConversationForUpdate(ctx, owner.ID)
		if err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}
		if row.Resolved {
			return fmt.Errorf("%w: conversation %s is resolved", engine.ErrConflict, conversationID)
		}

		inserted, err := s.appendLocked(ctx, q, row.ID, RoleAgent, content)
		if err != nil {
			return err
		}
		msg = inserted
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, engine.ErrConflict) {
			return nil, txErr
		}
		return nil, engine.Unavailable(txErr)
	}

	s.logger.Debug("appended agent message",
		"conversation_id", conversationID, "ordinal", msg.Ordinal)
	return &msg, nil
}

// MarkResolved transitions a conversation to resolved. Resolving an already
// resolved conversation is a no-op success: resolution is a state, not an
// existence fact.
func (s *Store) MarkResolved(ctx context.Context, conversationID uuid.UUID, principal tenant.Principal) (*Conversation, error) {
	owner, err := s.owner(ctx, conversationID, principal)
	if err != nil {
		return nil, err
	}

	key := lockKey(pgToUUID(owner.AgentID), owner.SessionID)
	s.locks.acquire(key)
	defer s.locks.release(key)

	var conv Conversation
	txErr := s.withTx(ctx, func(q Querier) error {
		row, err := q.ConversationForUpdate(ctx, owner.ID)
		if err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}

		if !row.Resolved {
			if err := q.ResolveConversation(ctx, row.ID); err != nil {
				return fmt.Errorf("failed to resolve conversation: %w", err)
			}
		}

		conv = rowToConversation(row)
		conv.Resolved = true
		return nil
	})
	if txErr != nil {
		return nil, engine.Unavailable(txErr)
	}

	s.logger.Info("conversation resolved", "conversation_id", conversationID)
	return &conv, nil
}

// List returns the agent's conversations, most recent activity first.
func (s *Store) List(ctx context.Context, agentID uuid.UUID, principal tenant.Principal) ([]Conversation, error) {
	if err := s.checkAgent(ctx, agentID, principal); err != nil {
		return nil, err
	}

	rows, err := s.queries.ListConversations(ctx, uuidToPg(agentID))
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("failed to list conversations: %w", err))
	}

	convs := make([]Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, rowToConversation(row))
	}
	return convs, nil
}

// Get fetches a conversation with its messages in ordinal order.
func (s *Store) Get(ctx context.Context, conversationID uuid.UUID, principal tenant.Principal) (*Conversation, error) {
	if _, err := s.owner(ctx, conversationID, principal); err != nil {
		return nil, err
	}

	row, err := s.queries.GetConversation(ctx, uuidToPg(conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: conversation %s", engine.ErrNotFound, conversationID)
		}
		return nil, engine.Unavailable(fmt.Errorf("failed to get conversation: %w", err))
	}

	msgRows, err := s.queries.ListMessages(ctx, uuidToPg(conversationID))
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("failed to list messages: %w", err))
	}

	conv := rowToConversation(row)
	conv.Messages = make([]Message, 0, len(msgRows))
	for _, m := range msgRows {
		conv.Messages = append(conv.Messages, rowToMessage(m))
	}
	return &conv, nil
}

// appendLocked inserts a message at the next ordinal and bumps last activity.
// The caller must hold the conversation row lock.
func (s *Store) appendLocked(ctx context.Context, q Querier, conversationID pgtype.UUID, role Role, content string) (Message, error) {
	maxOrd, err := q.MaxOrdinal(ctx, conversationID)
	if err != nil {
		return Message{}, fmt.Errorf("failed to read max ordinal: %w", err)
	}

	row, err := q.InsertMessage(ctx, postgres.InsertMessageParams{
		ConversationID: conversationID,
		Role:           string(role),
		Content:        content,
		Ordinal:        maxOrd + 1,
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := q.TouchConversation(ctx, conversationID); err != nil {
		return Message{}, fmt.Errorf("failed to touch conversation: %w", err)
	}

	return rowToMessage(row), nil
}

// withTx runs fn inside a transaction, or directly against the base querier
// when no pool is configured (unit tests with mocks).
func (s *Store) withTx(ctx context.Context, fn func(q Querier) error) error {
	if s.pool == nil {
		return fn(s.queries)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("transaction rollback failed", "error", err)
		}
	}()

	if err := fn(postgres.New(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// owner resolves a conversation's ownership chain, masking cross-tenant
// existence as NotFound.
func (s *Store) owner(ctx context.Context, conversationID uuid.UUID, principal tenant.Principal) (postgres.ConversationOwnerRow, error) {
	row, err := s.queries.GetConversationOwner(ctx, uuidToPg(conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return row, fmt.Errorf("%w: conversation %s", engine.ErrNotFound, conversationID)
		}
		return row, engine.Unavailable(fmt.Errorf("failed to look up conversation: %w", err))
	}
	if !principal.CanAccess(row.TenantID) {
		return row, fmt.Errorf("%w: conversation %s", engine.ErrNotFound, conversationID)
	}
	return row, nil
}

// checkAgent verifies the agent exists and is visible to the principal.
func (s *Store) checkAgent(ctx context.Context, agentID uuid.UUID, principal tenant.Principal) error {
	ag, err := s.queries.GetAgent(ctx, uuidToPg(agentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: agent %s", engine.ErrNotFound, agentID)
		}
		return engine.Unavailable(fmt.Errorf("failed to look up agent: %w", err))
	}
	if !principal.CanAccess(ag.TenantID) {
		return fmt.Errorf("%w: agent %s", engine.ErrNotFound, agentID)
	}
	return nil
}

func validateContent(content string) error {
	if content == "" {
		return fmt.Errorf("%w: message content must not be empty", engine.ErrInvalidInput)
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("%w: message content exceeds %d bytes", engine.ErrInvalidInput, MaxContentBytes)
	}
	return nil
}

func lockKey(agentID uuid.UUID, sessionID string) string {
	return agentID.String() + "/" + sessionID
}

func rowToConversation(row postgres.Conversation) Conversation {
	return Conversation{
		ID:             pgToUUID(row.ID),
		AgentID:        pgToUUID(row.AgentID),
		SessionID:      row.SessionID,
		Resolved:       row.Resolved,
		StartedAt:      row.StartedAt.Time,
		LastActivityAt: row.LastActivityAt.Time,
	}
}

func rowToMessage(row postgres.Message) Message {
	return Message{
		ID:             pgToUUID(row.ID),
		ConversationID: pgToUUID(row.ConversationID),
		Role:           Role(row.Role),
		Content:        row.Content,
		Ordinal:        int(row.Ordinal),
		CreatedAt:      row.CreatedAt.Time,
	}
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
