package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/relaydesk/relaydesk/internal/engine"
	"github.com/relaydesk/relaydesk/internal/postgres"
)

// Sweeper resolves conversations whose last activity is older than the idle
// timeout. Resolution goes through the same per-session lock and row lock as
// appends, so a sweep racing a live message cannot close a conversation that
// just woke up.
type Sweeper struct {
	store       *Store
	interval    time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store *Store, interval, idleTimeout time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:       store,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("idle sweeper started",
		"interval", s.interval, "idle_timeout", s.idleTimeout)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idle sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("idle sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep and returns the number of conversations it
// resolved.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := pgtype.Timestamptz{Time: time.Now().Add(-s.idleTimeout), Valid: true}

	rows, err := s.store.queries.ListIdleConversations(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list idle conversations: %w", err)
	}

	resolved := 0
	for _, row := range rows {
		if err := s.resolveIdle(ctx, row); err != nil {
			s.logger.Warn("failed to resolve idle conversation",
				"conversation_id", pgToUUID(row.ID), "error", err)
			continue
		}
		resolved++
	}

	if resolved > 0 {
		s.logger.Info("idle sweep resolved conversations", "count", resolved)
	}
	return resolved, nil
}

// resolveIdle closes one idle conversation. The for-update reread inside the
// transaction rechecks last activity, so a message that arrived after the
// listing keeps the conversation open.
func (s *Sweeper) resolveIdle(ctx context.Context, row postgres.IdleConversationRow) error {
	key := lockKey(pgToUUID(row.AgentID), row.SessionID)
	s.store.locks.acquire(key)
	defer s.store.locks.release(key)

	cutoff := time.Now().Add(-s.idleTimeout)
	err := s.store.withTx(ctx, func(q Querier) error {
		current, err := q.ConversationForUpdate(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("failed to lock conversation: %w", err)
		}
		if current.Resolved || current.LastActivityAt.Time.After(cutoff) {
			return nil
		}
		return q.ResolveConversation(ctx, current.ID)
	})
	if err != nil {
		return engine.Unavailable(err)
	}
	return nil
}
