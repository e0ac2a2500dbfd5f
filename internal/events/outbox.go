package events

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

// OutboxEntry is one booking change waiting to be announced.
type OutboxEntry struct {
	ID        uuid.UUID
	TenantID  string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
	Attempts  int
}

// DeliveryHandler announces an entry, usually on the realtime hub.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// Execer is satisfied by pgxpool.Pool, pgx.Tx and pgxmock.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type outboxDB interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore claims and settles outbox rows. Claims are leases, so several
// API instances can drain the same table.
type OutboxStore struct {
	db    outboxDB
	lease time.Duration
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return newOutboxStoreWithExec(pool)
}

func newOutboxStoreWithExec(db outboxDB) *OutboxStore {
	return &OutboxStore{db: db, lease: 30 * time.Second}
}

// Enqueue writes an entry through db. Pass the booking transaction so the
// entry commits or rolls back with the appointment.
func Enqueue(ctx context.Context, db Execer, tenantID, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	const query = `
		INSERT INTO outbox (id, tenant_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := db.Exec(ctx, query, id, tenantID, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: enqueue %s: %w", eventType, err)
	}
	return id, nil
}

// Claim leases up to limit pending entries, oldest first.
func (s *OutboxStore) Claim(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	const query = `
		UPDATE outbox
		SET claimed_until = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, type, payload, created_at, attempts
	`
	rows, err := s.db.Query(ctx, query, limit, s.lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("events: claim outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Type, &payload, &entry.CreatedAt, &entry.Attempts); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: claim outbox: %w", err)
	}
	// RETURNING has no order.
	slices.SortStableFunc(entries, func(a, b OutboxEntry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return entries, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `
		UPDATE outbox
		SET delivered_at = now(), claimed_until = NULL
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed attempt and frees the entry for the next pass.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	const query = `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1
	`
	if _, err := s.db.Exec(ctx, query, id, cause.Error()); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

// Release drops the lease on entries that were claimed but not attempted.
func (s *OutboxStore) Release(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `UPDATE outbox SET claimed_until = NULL WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("events: release outbox: %w", err)
	}
	return nil
}

// Deliverer drains the outbox into a handler. Entries of one tenant are
// handed over in commit order: after a failure the rest of that tenant's
// batch is released untouched.
type Deliverer struct {
	store     *OutboxStore
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Run drains on every tick until ctx is canceled. A fully delivered batch is
// followed immediately by another drain.
func (d *Deliverer) Run(ctx context.Context) error {
	if d.store == nil || d.handler == nil {
		return nil
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for ctx.Err() == nil {
				if d.Drain(ctx) < int(d.batchSize) {
					break
				}
			}
		}
	}
}

// Drain settles one claimed batch and reports how many entries it delivered.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.Claim(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox claim failed", "error", err)
		return 0
	}

	delivered := 0
	blocked := map[string]bool{}
	var held []uuid.UUID
	for _, entry := range entries {
		if blocked[entry.TenantID] {
			held = append(held, entry.ID)
			continue
		}
		if err := d.handler.Handle(ctx, entry); err != nil {
			blocked[entry.TenantID] = true
			d.logger.Error("outbox delivery failed", "error", err, "event_id", entry.ID, "tenant_id", entry.TenantID, "attempts", entry.Attempts+1)
			if err := d.store.MarkFailed(ctx, entry.ID, err); err != nil {
				d.logger.Error("failed to record outbox failure", "error", err, "event_id", entry.ID)
			}
			continue
		}
		delivered++
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	if err := d.store.Release(ctx, held); err != nil {
		d.logger.Warn("failed to release held outbox entries", "error", err, "count", len(held))
	}
	return delivered
}
