package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

// Fragment mirrors a row of the fragments table, minus the embedding column
// (embeddings are written and compared in SQL, never read back).
type Fragment struct {
	ID        pgtype.UUID
	AgentID   pgtype.UUID
	Source    string
	Content   string
	ByteSize  int32
	CreatedAt pgtype.Timestamptz
}

const fragmentColumns = `id, agent_id, source, content, byte_size, created_at`

// InsertFragmentParams holds the fields for a new fragment row.
type InsertFragmentParams struct {
	AgentID   pgtype.UUID
	Source    string
	Content   string
	ByteSize  int32
	Embedding *pgvector.Vector
}

// InsertFragment stores a fragment with its embedding.
func (q *Queries) InsertFragment(ctx context.Context, arg InsertFragmentParams) (Fragment, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO fragments (agent_id, source, content, byte_size, embedding)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+fragmentColumns,
		arg.AgentID, arg.Source, arg.Content, arg.ByteSize, arg.Embedding)
	var f Fragment
	err := row.Scan(&f.ID, &f.AgentID, &f.Source, &f.Content, &f.ByteSize, &f.CreatedAt)
	return f, err
}

// FragmentOwnerRow carries the tenant ownership chain of a fragment.
type FragmentOwnerRow struct {
	ID       pgtype.UUID
	AgentID  pgtype.UUID
	TenantID string
}

// GetFragmentOwner resolves a fragment to its owning agent and tenant.
func (q *Queries) GetFragmentOwner(ctx context.Context, id pgtype.UUID) (FragmentOwnerRow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT f.id, f.agent_id, a.tenant_id
		FROM fragments f
		JOIN agents a ON a.id = f.agent_id
		WHERE f.id = $1`, id)
	var r FragmentOwnerRow
	err := row.Scan(&r.ID, &r.AgentID, &r.TenantID)
	return r, err
}

// DeleteFragment removes a fragment, reporting how many rows were affected so
// the caller can distinguish "deleted" from "was never there".
func (q *Queries) DeleteFragment(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM fragments WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SearchFragmentsParams holds the inputs for an agent-scoped vector search.
type SearchFragmentsParams struct {
	AgentID        pgtype.UUID
	QueryEmbedding *pgvector.Vector
	ResultLimit    int32
}

// SearchFragmentsRow is one ranked search hit.
type SearchFragmentsRow struct {
	Fragment
	Similarity float32
}

// SearchFragments ranks an agent's fragments by cosine similarity to the
// query embedding. Ties break on fragment id so ordering is deterministic.
func (q *Queries) SearchFragments(ctx context.Context, arg SearchFragmentsParams) ([]SearchFragmentsRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT f.id, f.agent_id, f.source, f.content, f.byte_size, f.created_at,
		       1 - (f.embedding <=> $2) AS similarity
		FROM fragments f
		WHERE f.agent_id = $1
		ORDER BY f.embedding <=> $2, f.id
		LIMIT $3`,
		arg.AgentID, arg.QueryEmbedding, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchFragmentsRow
	for rows.Next() {
		var r SearchFragmentsRow
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Source, &r.Content, &r.ByteSize, &r.CreatedAt, &r.Similarity); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountFragmentsByAgent counts an agent's fragments.
func (q *Queries) CountFragmentsByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM fragments WHERE agent_id = $1`, agentID).Scan(&count)
	return count, err
}
