package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Conversation mirrors a row of the conversations table.
type Conversation struct {
	ID             pgtype.UUID
	AgentID        pgtype.UUID
	SessionID      string
	Resolved       bool
	StartedAt      pgtype.Timestamptz
	LastActivityAt pgtype.Timestamptz
}

const conversationColumns = `id, agent_id, session_id, resolved, started_at, last_activity_at`

func scanConversation(row interface{ Scan(dest ...any) error }) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.AgentID, &c.SessionID, &c.Resolved, &c.StartedAt, &c.LastActivityAt)
	return c, err
}

// Message mirrors a row of the messages table.
type Message struct {
	ID             pgtype.UUID
	ConversationID pgtype.UUID
	Role           string
	Content        string
	Ordinal        int32
	CreatedAt      pgtype.Timestamptz
}

const messageColumns = `id, conversation_id, role, content, ordinal, created_at`

// ActiveConversationParams identifies the open conversation of one customer
// session.
type ActiveConversationParams struct {
	AgentID   pgtype.UUID
	SessionID string
}

// ActiveConversationForUpdate locks and returns the unresolved conversation
// for (agent, session), if any. The row lock serializes concurrent appends
// for the same session; the partial unique index on (agent_id, session_id)
// WHERE NOT resolved backstops conversation creation.
func (q *Queries) ActiveConversationForUpdate(ctx context.Context, arg ActiveConversationParams) (Conversation, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE agent_id = $1 AND session_id = $2 AND NOT resolved
		FOR UPDATE`,
		arg.AgentID, arg.SessionID)
	return scanConversation(row)
}

// CreateConversation opens a new conversation for a session.
func (q *Queries) CreateConversation(ctx context.Context, arg ActiveConversationParams) (Conversation, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO conversations (agent_id, session_id)
		VALUES ($1, $2)
		RETURNING `+conversationColumns,
		arg.AgentID, arg.SessionID)
	return scanConversation(row)
}

// ConversationForUpdate locks and returns a conversation by id.
func (q *Queries) ConversationForUpdate(ctx context.Context, id pgtype.UUID) (Conversation, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, id)
	return scanConversation(row)
}

// ConversationOwnerRow carries the ownership chain and session key of a
// conversation.
type ConversationOwnerRow struct {
	ID        pgtype.UUID
	AgentID   pgtype.UUID
	SessionID string
	TenantID  string
	Resolved  bool
}

// GetConversationOwner resolves a conversation to its agent, session, and
// tenant.
func (q *Queries) GetConversationOwner(ctx context.Context, id pgtype.UUID) (ConversationOwnerRow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT c.id, c.agent_id, c.session_id, a.tenant_id, c.resolved
		FROM conversations c
		JOIN agents a ON a.id = c.agent_id
		WHERE c.id = $1`, id)
	var r ConversationOwnerRow
	err := row.Scan(&r.ID, &r.AgentID, &r.SessionID, &r.TenantID, &r.Resolved)
	return r, err
}

// GetConversation fetches a conversation by id.
func (q *Queries) GetConversation(ctx context.Context, id pgtype.UUID) (Conversation, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	return scanConversation(row)
}

// MaxOrdinal returns the highest message ordinal in a conversation, or -1 if
// the conversation has no messages.
func (q *Queries) MaxOrdinal(ctx context.Context, conversationID pgtype.UUID) (int32, error) {
	var max int32
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(ordinal), -1) FROM messages WHERE conversation_id = $1`,
		conversationID).Scan(&max)
	return max, err
}

// InsertMessageParams holds the fields for a new message row.
type InsertMessageParams struct {
	ConversationID pgtype.UUID
	Role           string
	Content        string
	Ordinal        int32
}

// InsertMessage appends a message at the given ordinal. The unique index on
// (conversation_id, ordinal) rejects duplicate ordinals.
func (q *Queries) InsertMessage(ctx context.Context, arg InsertMessageParams) (Message, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, ordinal)
		VALUES ($1, $2, $3, $4)
		RETURNING `+messageColumns,
		arg.ConversationID, arg.Role, arg.Content, arg.Ordinal)
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Ordinal, &m.CreatedAt)
	return m, err
}

// TouchConversation bumps the last-activity timestamp.
func (q *Queries) TouchConversation(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE conversations SET last_activity_at = now() WHERE id = $1`, id)
	return err
}

// ResolveConversation transitions a conversation to resolved. The transition
// is one-way; nothing ever clears the flag.
func (q *Queries) ResolveConversation(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, `
		UPDATE conversations SET resolved = TRUE WHERE id = $1`, id)
	return err
}

// ListConversations returns an agent's conversations, most recent activity
// first.
func (q *Queries) ListConversations(ctx context.Context, agentID pgtype.UUID) ([]Conversation, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE agent_id = $1
		ORDER BY last_activity_at DESC, id`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ListMessages returns a conversation's messages in ordinal order.
func (q *Queries) ListMessages(ctx context.Context, conversationID pgtype.UUID) ([]Message, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY ordinal`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Ordinal, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// IdleConversationRow identifies an open conversation eligible for the idle
// sweep.
type IdleConversationRow struct {
	ID        pgtype.UUID
	AgentID   pgtype.UUID
	SessionID string
}

// ListIdleConversations returns open conversations with no activity since the
// cutoff.
func (q *Queries) ListIdleConversations(ctx context.Context, cutoff pgtype.Timestamptz) ([]IdleConversationRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, agent_id, session_id
		FROM conversations
		WHERE NOT resolved AND last_activity_at < $1
		ORDER BY last_activity_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var idle []IdleConversationRow
	for rows.Next() {
		var r IdleConversationRow
		if err := rows.Scan(&r.ID, &r.AgentID, &r.SessionID); err != nil {
			return nil, err
		}
		idle = append(idle, r)
	}
	return idle, rows.Err()
}
