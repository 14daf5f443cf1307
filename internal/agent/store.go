// Package agent provides the Agent Registry: tenant-scoped agent
// configuration with cascading deletion.
package agent

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

// Querier defines the database operations the registry needs. Satisfied by
// *postgres.Queries.
type Querier interface {
	CreateAgent(ctx context.Context, arg postgres.CreateAgentParams) (postgres.Agent, error)
	GetAgent(ctx context.Context, id pgtype.UUID) (postgres.Agent, error)
	ListAgentsByTenant(ctx context.Context, tenantID string) ([]postgres.Agent, error)
	UpdateAgent(ctx context.Context, arg postgres.UpdateAgentParams) (postgres.Agent, error)
	DeleteAgent(ctx context.Context, id pgtype.UUID) (int64, error)
	DeleteMessagesByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error)
	DeleteConversationsByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error)
	DeleteFragmentsByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error)
}

// Store is the Agent Registry. Safe for concurrent use.
type Store struct {
	queries Querier
	pool    *pgxpool.Pool // transaction support for cascade delete; nil in unit tests
	logger  *slog.Logger
}

// New creates a Store. pool may be nil for tests with mock queriers, in which
// case cascade deletion runs without a transaction.
func New(querier Querier, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries: querier,
		pool:    pool,
		logger:  logger,
	}
}

// Create validates the spec and persists a new agent owned by tenantID. The
// principal must be allowed to act on that tenant.
func (s *Store) Create(ctx context.Context, tenantID string, principal tenant.Principal, spec Spec) (*Agent, error) {
	if err := tenant.Authorize(principal, tenantID); err != nil {
		return nil, err
	}

	if spec.Name == "" {
		return nil, fmt.Errorf("%w: agent name must not be empty", engine.ErrInvalidInput)
	}
	if spec.BusinessName == "" {
		return nil, fmt.Errorf("%w: business name must not be empty", engine.ErrInvalidInput)
	}
	tone, err := ParseTone(spec.Tone)
	if err != nil {
		return nil, err
	}

	var description *string
	if spec.Description != "" {
		description = &spec.Description
	}

	row, err := s.queries.CreateAgent(ctx, postgres.CreateAgentParams{
		TenantID:     tenantID,
		Name:         spec.Name,
		BusinessName: spec.BusinessName,
		Description:  description,
		Tone:         string(tone),
	})
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("failed to create agent: %w", err))
	}

	ag := rowToAgent(row)
	s.logger.Info("created agent", "id", ag.ID, "tenant_id", tenantID, "tone", ag.Tone)
	return &ag, nil
}

// Get fetches an agent visible to the principal. Cross-tenant agents surface
// as NotFound so existence never leaks.
func (s *Store) Get(ctx context.Context, id uuid.UUID, principal tenant.Principal) (*Agent, error) {
	row, err := s.queries.GetAgent(ctx, uuidToPg(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: agent %s", engine.ErrNotFound, id)
		}
		return nil, engine.Unavailable(fmt.Errorf("failed to get agent: %w", err))
	}
	if !principal.CanAccess(row.TenantID) {
		return nil, fmt.Errorf("%w: agent %s", engine.ErrNotFound, id)
	}

	ag := rowToAgent(row)
	return &ag, nil
}

// ListByTenant returns the tenant's agents, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, principal tenant.Principal) ([]Agent, error) {
	if err := tenant.Authorize(principal, tenantID); err != nil {
		return nil, err
	}

	rows, err := s.queries.ListAgentsByTenant(ctx, tenantID)
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("failed to list agents: %w", err))
	}

	agents := make([]Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, rowToAgent(row))
	}
	return agents, nil
}

// Update applies a partial update to the mutable configuration fields.
// Identity fields (id, tenant) never change.
func (s *Store) Update(ctx context.Context, id uuid.UUID, principal tenant.Principal, patch Patch) (*Agent, error) {
	current, err := s.Get(ctx, id, principal)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, fmt.Errorf("%w: agent name must not be empty", engine.ErrInvalidInput)
		}
		current.Name = *patch.Name
	}
	if patch.BusinessName != nil {
		if *patch.BusinessName == "" {
			return nil, fmt.Errorf("%w: business name must not be empty", engine.ErrInvalidInput)
		}
		current.BusinessName = *patch.BusinessName
	}
	if patch.Description != nil {
		current.Description = *patch.Description
	}
	if patch.Tone != nil {
		tone, err := ParseTone(*patch.Tone)
		if err != nil {
			return nil, err
		}
		current.Tone = tone
	}

	var description *string
	if current.Description != "" {
		description = &current.Description
	}

	row, err := s.queries.UpdateAgent(ctx, postgres.UpdateAgentParams{
		ID:           uuidToPg(id),
		Name:         current.Name,
		BusinessName: current.BusinessName,
		Description:  description,
		Tone:         string(current.Tone),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: agent %s", engine.ErrNotFound, id)
		}
		return nil, engine.Unavailable(fmt.Errorf("failed to update agent: %w", err))
	}

	ag := rowToAgent(row)
	s.logger.Info("updated agent", "id", ag.ID)
	return &ag, nil
}

// Delete removes the agent and every dependent row: messages, conversations,
// and fragments go in one transaction with the agent itself, so a concurrent
// reader sees either everything or nothing of the cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, principal tenant.Principal) error {
	if _, err := s.Get(ctx, id, principal); err != nil {
		return err
	}

	if s.pool == nil {
		return s.deleteCascade(ctx, s.queries, id)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return engine.Unavailable(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("cascade delete rollback failed", "error", err)
		}
	}()

	if err := s.deleteCascade(ctx, postgres.New(tx), id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return engine.Unavailable(fmt.Errorf("failed to commit cascade delete: %w", err))
	}
	return nil
}

// deleteCascade removes dependents leaf-first, then the agent. Runs inside
// the caller's transaction in production.
func (s *Store) deleteCascade(ctx context.Context, q Querier, id uuid.UUID) error {
	pgID := uuidToPg(id)

	messages, err := q.DeleteMessagesByAgent(ctx, pgID)
	if err != nil {
		return engine.Unavailable(fmt.Errorf("failed to delete messages: %w", err))
	}
	conversations, err := q.DeleteConversationsByAgent(ctx, pgID)
	if err != nil {
		return engine.Unavailable(fmt.Errorf("failed to delete conversations: %w", err))
	}
	fragments, err := q.DeleteFragmentsByAgent(ctx, pgID)
	if err != nil {
		return engine.Unavailable(fmt.Errorf("failed to delete fragments: %w", err))
	}

	affected, err := q.DeleteAgent(ctx, pgID)
	if err != nil {
		return engine.Unavailable(fmt.Errorf("failed to delete agent: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("%w: agent %s", engine.ErrNotFound, id)
	}

	s.logger.Info("deleted agent",
		"id", id,
		"messages", messages,
		"conversations", conversations,
		"fragments", fragments)
	return nil
}

func rowToAgent(row postgres.Agent) Agent {
	ag := Agent{
		ID:           pgToUUID(row.ID),
		TenantID:     row.TenantID,
		Name:         row.Name,
		BusinessName: row.BusinessName,
		Tone:         Tone(row.Tone),
		CreatedAt:    row.CreatedAt.Time,
	}
	if row.Description != nil {
		ag.Description = *row.Description
	}
	return ag
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
