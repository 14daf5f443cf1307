package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/relaydesk/relaydesk/internal/agent"
	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/dispatch"
	"github.com/relaydesk/relaydesk/internal/knowledge"
	"github.com/relaydesk/relaydesk/internal/log"
	"github.com/relaydesk/relaydesk/internal/postgres"
)

const testServiceToken = "test-token"

// memQuerier is an in-memory stand-in for *postgres.Queries, shared by every
// store under test.
type memQuerier struct {
	mu            sync.Mutex
	agents        map[uuid.UUID]postgres.Agent
	fragments     map[uuid.UUID]postgres.Fragment
	embeddings    map[uuid.UUID][]float32
	conversations map[uuid.UUID]postgres.Conversation
	messages      map[uuid.UUID][]postgres.Message
}

func newMemQuerier() *memQuerier {
	return &memQuerier{
		agents:        make(map[uuid.UUID]postgres.Agent),
		fragments:     make(map[uuid.UUID]postgres.Fragment),
		embeddings:    make(map[uuid.UUID][]float32),
		conversations: make(map[uuid.UUID]postgres.Conversation),
		messages:      make(map[uuid.UUID][]postgres.Message),
	}
}

func pgid(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgnow() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now(), Valid: true}
}

func (m *memQuerier) CreateAgent(_ context.Context, arg postgres.CreateAgentParams) (postgres.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	row := postgres.Agent{
		ID:           pgid(id),
		TenantID:     arg.TenantID,
		Name:         arg.Name,
		BusinessName: arg.BusinessName,
		Description:  arg.Description,
		Tone:         arg.Tone,
		CreatedAt:    pgnow(),
	}
	m.agents[id] = row
	return row, nil
}

func (m *memQuerier) GetAgent(_ context.Context, id pgtype.UUID) (postgres.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.agents[uuid.UUID(id.Bytes)]
	if !ok {
		return postgres.Agent{}, pgx.ErrNoRows
	}
	return row, nil
}

func (m *memQuerier) ListAgentsByTenant(_ context.Context, tenantID string) ([]postgres.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []postgres.Agent
	for _, row := range m.agents {
		if row.TenantID == tenantID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (m *memQuerier) UpdateAgent(_ context.Context, arg postgres.UpdateAgentParams) (postgres.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.UUID(arg.ID.Bytes)
	row, ok := m.agents[id]
	if !ok {
		return postgres.Agent{}, pgx.ErrNoRows
	}
	row.Name = arg.Name
	row.BusinessName = arg.BusinessName
	row.Description = arg.Description
	row.Tone = arg.Tone
	m.agents[id] = row
	return row, nil
}

func (m *memQuerier) DeleteAgent(_ context.Context, id pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.UUID(id.Bytes)
	if _, ok := m.agents[key]; !ok {
		return 0, nil
	}
	delete(m.agents, key)
	return 1, nil
}

func (m *memQuerier) DeleteMessagesByAgent(_ context.Context, agentID pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for cid, c := range m.conversations {
		if c.AgentID == agentID {
			n += int64(len(m.messages[cid]))
			delete(m.messages, cid)
		}
	}
	return n, nil
}

func (m *memQuerier) DeleteConversationsByAgent(_ context.Context, agentID pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for cid, c := range m.conversations {
		if c.AgentID == agentID {
			delete(m.conversations, cid)
			n++
		}
	}
	return n, nil
}

func (m *memQuerier) DeleteFragmentsByAgent(_ context.Context, agentID pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for fid, f := range m.fragments {
		if f.AgentID == agentID {
			delete(m.fragments, fid)
			delete(m.embeddings, fid)
			n++
		}
	}
	return n, nil
}

func (m *memQuerier) InsertFragment(_ context.Context, arg postgres.InsertFragmentParams) (postgres.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	row := postgres.Fragment{
		ID:        pgid(id),
		AgentID:   arg.AgentID,
		Source:    arg.Source,
		Content:   arg.Content,
		ByteSize:  arg.ByteSize,
		CreatedAt: pgnow(),
	}
	m.fragments[id] = row
	if arg.Embedding != nil {
		m.embeddings[id] = arg.Embedding.Slice()
	}
	return row, nil
}

func (m *memQuerier) GetFragmentOwner(_ context.Context, id pgtype.UUID) (postgres.FragmentOwnerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frag, ok := m.fragments[uuid.UUID(id.Bytes)]
	if !ok {
		return postgres.FragmentOwnerRow{}, pgx.ErrNoRows
	}
	ag := m.agents[uuid.UUID(frag.AgentID.Bytes)]
	return postgres.FragmentOwnerRow{ID: frag.ID, AgentID: frag.AgentID, TenantID: ag.TenantID}, nil
}

func (m *memQuerier) DeleteFragment(_ context.Context, id pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.UUID(id.Bytes)
	if _, ok := m.fragments[key]; !ok {
		return 0, nil
	}
	delete(m.fragments, key)
	delete(m.embeddings, key)
	return 1, nil
}

// SearchFragments ranks the agent's fragments by cosine similarity to the
// query embedding, mirroring the pgvector query. Both sides come out of the
// embedder unit-normalized, so the dot product is the cosine.
func (m *memQuerier) SearchFragments(_ context.Context, arg postgres.SearchFragmentsParams) ([]postgres.SearchFragmentsRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query := arg.QueryEmbedding.Slice()
	var rows []postgres.SearchFragmentsRow
	for id, frag := range m.fragments {
		if frag.AgentID != arg.AgentID {
			continue
		}
		var dot float64
		for i, v := range m.embeddings[id] {
			dot += float64(v) * float64(query[i])
		}
		rows = append(rows, postgres.SearchFragmentsRow{Fragment: frag, Similarity: float32(dot)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Similarity != rows[j].Similarity {
			return rows[i].Similarity > rows[j].Similarity
		}
		return uuid.UUID(rows[i].ID.Bytes).String() < uuid.UUID(rows[j].ID.Bytes).String()
	})
	if int32(len(rows)) > arg.ResultLimit {
		rows = rows[:arg.ResultLimit]
	}
	return rows, nil
}

func (m *memQuerier) CountFragmentsByAgent(_ context.Context, agentID pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.fragments {
		if f.AgentID == agentID {
			n++
		}
	}
	return n, nil
}

func (m *memQuerier) ActiveConversationForUpdate(_ context.Context, arg postgres.ActiveConversationParams) (postgres.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.AgentID == arg.AgentID && c.SessionID == arg.SessionID && !c.Resolved {
			return c, nil
		}
	}
	return postgres.Conversation{}, pgx.ErrNoRows
}

func (m *memQuerier) CreateConversation(_ context.Context, arg postgres.ActiveConversationParams) (postgres.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	row := postgres.Conversation{
		ID:             pgid(id),
		AgentID:        arg.AgentID,
		SessionID:      arg.SessionID,
		StartedAt:      pgnow(),
		LastActivityAt: pgnow(),
	}
	m.conversations[id] = row
	return row, nil
}

func (m *memQuerier) ConversationForUpdate(_ context.Context, id pgtype.UUID) (postgres.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.conversations[uuid.UUID(id.Bytes)]
	if !ok {
		return postgres.Conversation{}, pgx.ErrNoRows
	}
	return row, nil
}

func (m *memQuerier) GetConversation(ctx context.Context, id pgtype.UUID) (postgres.Conversation, error) {
	return m.ConversationForUpdate(ctx, id)
}

func (m *memQuerier) GetConversationOwner(_ context.Context, id pgtype.UUID) (postgres.ConversationOwnerRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[uuid.UUID(id.Bytes)]
	if !ok {
		return postgres.ConversationOwnerRow{}, pgx.ErrNoRows
	}
	ag := m.agents[uuid.UUID(c.AgentID.Bytes)]
	return postgres.ConversationOwnerRow{
		ID:        c.ID,
		AgentID:   c.AgentID,
		SessionID: c.SessionID,
		TenantID:  ag.TenantID,
		Resolved:  c.Resolved,
	}, nil
}

func (m *memQuerier) MaxOrdinal(_ context.Context, conversationID pgtype.UUID) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	highest := int32(-1)
	for _, msg := range m.messages[uuid.UUID(conversationID.Bytes)] {
		if msg.Ordinal > highest {
			highest = msg.Ordinal
		}
	}
	return highest, nil
}

func (m *memQuerier) InsertMessage(_ context.Context, arg postgres.InsertMessageParams) (postgres.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.UUID(arg.ConversationID.Bytes)
	row := postgres.Message{
		ID:             pgid(uuid.New()),
		ConversationID: arg.ConversationID,
		Role:           arg.Role,
		Content:        arg.Content,
		Ordinal:        arg.Ordinal,
		CreatedAt:      pgnow(),
	}
	m.messages[key] = append(m.messages[key], row)
	return row, nil
}

func (m *memQuerier) TouchConversation(_ context.Context, id pgtype.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.UUID(id.Bytes)
	c := m.conversations[key]
	c.LastActivityAt = pgnow()
	m.conversations[key] = c
	return nil
}

func (m *memQuerier) ResolveConversation(_ context.Context, id pgtype.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := uuid.UUID(id.Bytes)
	c := m.conversations[key]
	c.Resolved = true
	m.conversations[key] = c
	return nil
}

func (m *memQuerier) ListConversations(_ context.Context, agentID pgtype.UUID) ([]postgres.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []postgres.Conversation
	for _, c := range m.conversations {
		if c.AgentID == agentID {
			rows = append(rows, c)
		}
	}
	return rows, nil
}

func (m *memQuerier) ListMessages(_ context.Context, conversationID pgtype.UUID) ([]postgres.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.messages[uuid.UUID(conversationID.Bytes)]
	sorted := make([]postgres.Message, len(msgs))
	copy(sorted, msgs)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Ordinal < sorted[j-1].Ordinal; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted, nil
}

func (m *memQuerier) ListIdleConversations(_ context.Context, cutoff pgtype.Timestamptz) ([]postgres.IdleConversationRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var idle []postgres.IdleConversationRow
	for _, c := range m.conversations {
		if !c.Resolved && c.LastActivityAt.Time.Before(cutoff.Time) {
			idle = append(idle, postgres.IdleConversationRow{ID: c.ID, AgentID: c.AgentID, SessionID: c.SessionID})
		}
	}
	return idle, nil
}

// newTestServer builds a full server over the in-memory querier.
func newTestServer(q *memQuerier, opts Options) *Server {
	logger := log.NewNop()
	agents := agent.New(q, nil, logger)
	index := knowledge.New(q, knowledge.NewLocalEmbedder(), logger)
	conversations := conversation.New(q, nil, logger)
	dispatcher := dispatch.New(agents, index, conversations, dispatch.Config{
		TopK:              5,
		MinRelevance:      0.30,
		ResolveConfidence: 0.80,
	}, logger)
	return NewServer(agents, index, conversations, dispatcher, nil, opts, logger)
}

func defaultTestOptions() Options {
	return Options{ServiceToken: testServiceToken, InboundRate: 100, InboundBurst: 100}
}
