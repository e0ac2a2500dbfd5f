package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adriangmrraa/dentalogic-sub000/internal/events"
	"github.com/adriangmrraa/dentalogic-sub000/internal/tenancy"
)

// Event types written to the outbox for committed appointment changes.
const (
	EventAppointmentCreated = "NEW_APPOINTMENT"
	EventAppointmentUpdated = "APPOINTMENT_UPDATED"
	EventAppointmentDeleted = "APPOINTMENT_DELETED"
)

type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore is a Store reading and writing the clinic database directly.
// The write path serializes per professional with an advisory lock, rechecks
// overlap inside the transaction and records the outbox event atomically.
type PostgresStore struct {
	db pgxDB
}

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

// NewPostgresStoreWithDB allows injecting mocks for tests.
func NewPostgresStoreWithDB(db pgxDB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func blockingStatusStrings() []string {
	statuses := BlockingStatuses()
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func (s *PostgresStore) ListBookings(ctx context.Context, professionalID string, from, to time.Time) ([]Appointment, error) {
	tenantID, err := tenancy.RequireTenantID(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	query := `
		SELECT id, professional_id, COALESCE(patient_id, ''), COALESCE(appointment_type, ''),
		       appointment_datetime, duration_minutes, status, COALESCE(source, '')
		FROM appointments
		WHERE tenant_id = $1
		  AND professional_id = $2
		  AND appointment_datetime < $4
		  AND appointment_datetime + make_interval(mins => duration_minutes) > $3
		ORDER BY appointment_datetime
	`
	rows, err := s.db.Query(ctx, query, tenantID, professionalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var (
			appt   Appointment
			status string
		)
		if err := rows.Scan(&appt.ID, &appt.ProfessionalID, &appt.PatientID, &appt.TreatmentCode,
			&appt.Start, &appt.DurationMinutes, &status, &appt.Source); err != nil {
			return nil, fmt.Errorf("bookings: scan appointment: %w", err)
		}
		appt.TenantID = tenantID
		appt.Status = Status(status)
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: list rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateAppointment(ctx context.Context, draft Draft) (Appointment, error) {
	tenantID, err := tenancy.RequireTenantID(ctx)
	if err != nil {
		return Appointment{}, fmt.Errorf("bookings: create: %w", err)
	}
	want := draft.Interval()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Appointment{}, fmt.Errorf("bookings: begin: %w", err)
	}

	appt, err := createInTx(ctx, tx, tenantID, draft, want)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Appointment{}, fmt.Errorf("bookings: commit: %w", err)
	}
	return appt, nil
}

func createInTx(ctx context.Context, tx pgx.Tx, tenantID string, draft Draft, want Interval) (Appointment, error) {
	lockKey := tenantID + ":" + draft.ProfessionalID
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return Appointment{}, fmt.Errorf("bookings: lock professional: %w", err)
	}

	conflictQuery := `
		SELECT id, appointment_datetime, duration_minutes
		FROM appointments
		WHERE tenant_id = $1
		  AND professional_id = $2
		  AND status = ANY($3)
		  AND appointment_datetime < $5
		  AND appointment_datetime + make_interval(mins => duration_minutes) > $4
		ORDER BY appointment_datetime
		LIMIT 1
	`
	var (
		conflictID       string
		conflictStart    time.Time
		conflictDuration int
	)
	err := tx.QueryRow(ctx, conflictQuery, tenantID, draft.ProfessionalID, blockingStatusStrings(), want.Start, want.End).
		Scan(&conflictID, &conflictStart, &conflictDuration)
	switch {
	case err == nil:
		conflicting := NewInterval(conflictStart, conflictDuration)
		return Appointment{}, &StoreConflict{
			Detail:      "professional already has an appointment in this range",
			Conflicting: &conflicting,
			BookingID:   conflictID,
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return Appointment{}, fmt.Errorf("bookings: check collisions: %w", err)
	}

	source := draft.Source
	if source == "" {
		source = "manual"
	}
	appt := Appointment{
		TenantID:        tenantID,
		ProfessionalID:  draft.ProfessionalID,
		PatientID:       draft.PatientID,
		TreatmentCode:   draft.TreatmentCode,
		Start:           draft.Start,
		DurationMinutes: draft.DurationMinutes,
		Status:          StatusConfirmed,
		Source:          source,
		Notes:           draft.Notes,
	}
	insert := `
		INSERT INTO appointments (tenant_id, professional_id, patient_id, appointment_type,
		                          appointment_datetime, duration_minutes, status, source, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	if err := tx.QueryRow(ctx, insert, tenantID, draft.ProfessionalID, draft.PatientID, draft.TreatmentCode,
		draft.Start, draft.DurationMinutes, string(StatusConfirmed), source, draft.Notes).Scan(&appt.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return Appointment{}, &StoreConflict{Detail: pgErr.Message}
		}
		return Appointment{}, fmt.Errorf("bookings: insert appointment: %w", err)
	}

	if _, err := events.Enqueue(ctx, tx, tenantID, EventAppointmentCreated, appt); err != nil {
		return Appointment{}, err
	}
	return appt, nil
}
