package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Agent mirrors a row of the agents table.
type Agent struct {
	ID           pgtype.UUID
	TenantID     string
	Name         string
	BusinessName string
	Description  *string
	Tone         string
	CreatedAt    pgtype.Timestamptz
}

const agentColumns = `id, tenant_id, name, business_name, description, tone, created_at`

func scanAgent(row interface{ Scan(dest ...any) error }) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.BusinessName, &a.Description, &a.Tone, &a.CreatedAt)
	return a, err
}

// CreateAgentParams holds the fields for a new agent row.
type CreateAgentParams struct {
	TenantID     string
	Name         string
	BusinessName string
	Description  *string
	Tone         string
}

// CreateAgent inserts an agent and returns the stored row.
func (q *Queries) CreateAgent(ctx context.Context, arg CreateAgentParams) (Agent, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO agents (tenant_id, name, business_name, description, tone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+agentColumns,
		arg.TenantID, arg.Name, arg.BusinessName, arg.Description, arg.Tone)
	return scanAgent(row)
}

// GetAgent fetches an agent by id.
func (q *Queries) GetAgent(ctx context.Context, id pgtype.UUID) (Agent, error) {
	row := q.db.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

// ListAgentsByTenant returns a tenant's agents, newest first.
func (q *Queries) ListAgentsByTenant(ctx context.Context, tenantID string) ([]Agent, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgentParams holds the full set of mutable fields. The store merges
// the patch before calling.
type UpdateAgentParams struct {
	ID           pgtype.UUID
	Name         string
	BusinessName string
	Description  *string
	Tone         string
}

// UpdateAgent overwrites the mutable fields of an agent.
func (q *Queries) UpdateAgent(ctx context.Context, arg UpdateAgentParams) (Agent, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE agents
		SET name = $2, business_name = $3, description = $4, tone = $5
		WHERE id = $1
		RETURNING `+agentColumns,
		arg.ID, arg.Name, arg.BusinessName, arg.Description, arg.Tone)
	return scanAgent(row)
}

// DeleteAgent removes the agent row itself. Dependent rows must already be
// gone; the store runs the full cascade in one transaction.
func (q *Queries) DeleteAgent(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteMessagesByAgent removes every message of every conversation owned by
// the agent.
func (q *Queries) DeleteMessagesByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM messages
		USING conversations
		WHERE messages.conversation_id = conversations.id
		  AND conversations.agent_id = $1`, agentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteConversationsByAgent removes every conversation owned by the agent.
func (q *Queries) DeleteConversationsByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM conversations WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteFragmentsByAgent removes every knowledge fragment owned by the agent.
func (q *Queries) DeleteFragmentsByAgent(ctx context.Context, agentID pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM fragments WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
