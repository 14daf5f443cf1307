// Package knowledge holds per-agent knowledge fragments and answers relevance
// queries against them.
//
// Fragments are embedded through a genkit ai.Embedder and ranked by pgvector
// cosine similarity. The ranking contract: deterministic ordering for
// identical inputs, fragments from other agents are never returned, and an
// agent with zero fragments yields an empty result, never an error.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/relaydesk/relaydesk/internal/engine"
	"github.com/relaydesk/relaydesk/internal/postgres"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Retrieval bounds.
const (
	// DefaultTopK is used when the caller passes a non-positive maxResults.
	DefaultTopK = 5

	// MaxTopK caps a single relevance query.
	MaxTopK = 50
)

// Querier defines the database operations the store needs. Satisfied by
// *postgres.Queries; interfaces are defined by the consumer.
type Querier interface {
	InsertFragment(ctx context.Context, arg postgres.InsertFragmentParams) (postgres.Fragment, error)
	GetFragmentOwner(ctx context.Context, id pgtype.UUID) (postgres.FragmentOwnerRow, error)
	DeleteFragment(ctx context.Context, id pgtype.UUID) (int64, error)
	SearchFragments(ctx context.Context, arg postgres.SearchFragmentsParams) ([]postgres.SearchFragmentsRow, error)
	CountFragmentsByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error)
	GetAgent(ctx context.Context, id pgtype.UUID) (postgres.Agent, error)
}

// Store is the Knowledge Index. Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default.
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
	}
}

// AddFragment embeds and stores a document as a fragment of the given agent.
// The agent must exist and be visible to the principal; no deduplication is
// attempted.
func (s *Store) AddFragment(ctx context.Context, agentID uuid.UUID, principal tenant.Principal, doc Document) (*Fragment, error) {
	if doc.Content == "" {
		return nil, fmt.Errorf("%w: fragment content must not be empty", engine.ErrInvalidInput)
	}
	if len(doc.Content) > MaxContentBytes {
		return nil, fmt.Errorf("%w: fragment content exceeds %d bytes", engine.ErrInvalidInput, MaxContentBytes)
	}
	if doc.Source == "" {
		return nil, fmt.Errorf("%w: fragment source must not be empty", engine.ErrInvalidInput)
	}

	if err := s.checkAgent(ctx, agentID, principal); err != nil {
		return nil, err
	}

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return nil, err
	}

	row, err := s.queries.InsertFragment(ctx, postgres.InsertFragmentParams{
		AgentID:   uuidToPg(agentID),
		Source:    doc.Source,
		Content:   doc.Content,
		ByteSize:  int32(len(doc.Content)), // #nosec G115 -- bounded by MaxContentBytes
		Embedding: embedding,
	})
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("failed to insert fragment: %w", err))
	}

	frag := rowToFragment(row)
	s.logger.Debug("added fragment", "id", frag.ID, "agent_id", agentID, "bytes", frag.ByteSize)
	return &frag, nil
}

// RemoveFragment deletes a fragment. Removing an absent fragment is
// ErrNotFound, not a no-op success, so callers can tell "nothing happened"
// from "didn't exist".
func (s *Store) RemoveFragment(ctx context.Context, fragmentID uuid.UUID, principal tenant.Principal) error {
	owner, err := s.queries.GetFragmentOwner(ctx, uuidToPg(fragmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: fragment %s", engine.ErrNotFound, fragmentID)
		}
		return engine.Unavailable(fmt.Errorf("failed to look up fragment: %w", err))
	}

	// Cross-tenant callers get NotFound, never a hint the fragment exists.
	if !principal.CanAccess(owner.TenantID) {
		return fmt.Errorf("%w: fragment %s", engine.ErrNotFound, fragmentID)
	}

	affected, err := s.queries.DeleteFragment(ctx, uuidToPg(fragmentID))
	if err != nil {
		return engine.Unavailable(fmt.Errorf("failed to delete fragment: %w", err))
	}
	if affected == 0 {
		return fmt.Errorf("%w: fragment %s", engine.ErrNotFound, fragmentID)
	}

	s.logger.Debug("removed fragment", "id", fragmentID)
	return nil
}

// QueryRelevant returns at most maxResults fragments of the agent, ranked by
// similarity to queryText. An agent with zero fragments yields an empty
// slice.
func (s *Store) QueryRelevant(ctx context.Context, agentID uuid.UUID, principal tenant.Principal, queryText string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = DefaultTopK
	}
	if maxResults > MaxTopK {
		maxResults = MaxTopK
	}

	if err := s.checkAgent(ctx, agentID, principal); err != nil {
		return nil, err
	}

	embedding, err := s.embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	rows, err := s.queries.SearchFragments(ctx, postgres.SearchFragmentsParams{
		AgentID:        uuidToPg(agentID),
		QueryEmbedding: embedding,
		ResultLimit:    int32(maxResults), // #nosec G115 -- clamped to MaxTopK
	})
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("failed to search fragments: %w", err))
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{
			Fragment:   rowToFragment(row.Fragment),
			Similarity: row.Similarity,
		})
	}

	s.logger.Debug("relevance query", "agent_id", agentID, "results", len(results))
	return results, nil
}

// CountByAgent reports how many fragments the agent holds.
func (s *Store) CountByAgent(ctx context.Context, agentID uuid.UUID, principal tenant.Principal) (int64, error) {
	if err := s.checkAgent(ctx, agentID, principal); err != nil {
		return 0, err
	}

	count, err := s.queries.CountFragmentsByAgent(ctx, uuidToPg(agentID))
	if err != nil {
		return 0, engine.Unavailable(fmt.Errorf("failed to count fragments: %w", err))
	}
	return count, nil
}

// checkAgent verifies the agent exists and is visible to the principal.
// Cross-tenant agents surface as NotFound.
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

// embed runs text through the configured embedder and validates the output.
func (s *Store) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("failed to generate embedding: %w", err))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, engine.Unavailable(fmt.Errorf("empty embedding returned"))
	}

	vec := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &vec, nil
}

func rowToFragment(row postgres.Fragment) Fragment {
	return Fragment{
		ID:        pgToUUID(row.ID),
		AgentID:   pgToUUID(row.AgentID),
		Source:    row.Source,
		Content:   row.Content,
		ByteSize:  int(row.ByteSize),
		CreatedAt: row.CreatedAt.Time,
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
