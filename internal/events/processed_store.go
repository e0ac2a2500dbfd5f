package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type processedDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore remembers which inbound events were handled, keyed by the
// source they came from, so redelivered queue messages act once.
type ProcessedStore struct {
	db processedDB
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{db: pool}
}

func newProcessedStoreWithExec(db processedDB) *ProcessedStore {
	if db == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{db: db}
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error) {
	const query = `SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2`
	var one int
	err := s.db.QueryRow(ctx, query, source, eventID).Scan(&one)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("events: check processed %s/%s: %w", source, eventID, err)
	}
	return true, nil
}

// MarkProcessed reports false when the id was already recorded.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	const query = `
		INSERT INTO processed_events (provider, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query, source, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed %s/%s: %w", source, eventID, err)
	}
	return ct.RowsAffected() > 0, nil
}

// Prune forgets ids recorded before now minus retention and returns how
// many were removed.
func (s *ProcessedStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	const query = `DELETE FROM processed_events WHERE processed_at < now() - make_interval(secs => $1)`
	ct, err := s.db.Exec(ctx, query, retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("events: prune processed: %w", err)
	}
	return ct.RowsAffected(), nil
}
