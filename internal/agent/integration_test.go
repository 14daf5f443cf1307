//go:build integration

package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/relaydesk/relaydesk/internal/agent"
	"github.com/relaydesk/relaydesk/internal/conversation"
	"github.com/relaydesk/relaydesk/internal/engine"
	"github.com/relaydesk/relaydesk/internal/knowledge"
	"github.com/relaydesk/relaydesk/internal/log"
	"github.com/relaydesk/relaydesk/internal/postgres"
	"github.com/relaydesk/relaydesk/internal/tenant"
	"github.com/relaydesk/relaydesk/internal/testutil"
)

func TestCascadeDelete(t *testing.T) {
	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	logger := log.NewNop()
	queries := postgres.New(tdb.Pool)
	owner := tenant.Principal{TenantID: "t1", Role: tenant.RoleOwner}

	agents := agent.New(queries, tdb.Pool, logger)
	index := knowledge.New(queries, knowledge.NewLocalEmbedder(), logger)
	conversations := conversation.New(queries, tdb.Pool, logger)

	ag, err := agents.Create(ctx, "t1", owner, agent.Spec{
		Name: "bot", BusinessName: "Acme", Tone: "professional",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	for _, content := range []string{"refunds", "shipping"} {
		if _, err := index.AddFragment(ctx, ag.ID, owner, knowledge.Document{Source: "faq.md", Content: content}); err != nil {
			t.Fatalf("add fragment: %v", err)
		}
	}
	conv, _, err := conversations.AppendCustomerMessage(ctx, ag.ID, "s1", "hello", owner)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := conversations.AppendAgentMessage(ctx, conv.ID, "hi", owner); err != nil {
		t.Fatalf("append agent: %v", err)
	}

	if err := agents.Delete(ctx, ag.ID, owner); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// No dependent row may survive the cascade.
	for _, table := range []string{"agents", "fragments", "conversations", "messages"} {
		var count int
		if err := tdb.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s rows after cascade = %d, want 0", table, count)
		}
	}

	if _, err := agents.Get(ctx, ag.ID, owner); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("get after delete error = %v, want ErrNotFound", err)
	}
}
