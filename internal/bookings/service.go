package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

var bookingsTracer = otel.Tracer("dentalogic.internal.bookings")

// StoreConflict is returned by a Store when the authoritative write was
// refused because the slot is taken.
type StoreConflict struct {
	Detail      string
	Conflicting *Interval
	BookingID   string
}

func (e *StoreConflict) Error() string {
	if e.Detail == "" {
		return "bookings: store reported a conflict"
	}
	return "bookings: store reported a conflict: " + e.Detail
}

// UpstreamRejection carries a non-conflict refusal from the records service
// (authorization, validation). Detail is the upstream message, verbatim.
type UpstreamRejection struct {
	Status int
	Detail string
}

func (e *UpstreamRejection) Error() string {
	return fmt.Sprintf("bookings: upstream rejected request (%d): %s", e.Status, e.Detail)
}

// Store is the authoritative booking store.
type Store interface {
	ListBookings(ctx context.Context, professionalID string, from, to time.Time) ([]Appointment, error)
	CreateAppointment(ctx context.Context, draft Draft) (Appointment, error)
}

// Notifier is told about bookings committed through the service.
type Notifier interface {
	AppointmentCreated(ctx context.Context, appt Appointment)
}

// Confirmation is the result of a successful Book.
type Confirmation struct {
	Appointment Appointment     `json:"appointment"`
	Token       AcceptanceToken `json:"acceptance"`
}

// Service commits drafts: fresh snapshot, local guard, then the
// authoritative write with collision checking on.
type Service struct {
	store    Store
	guard    *Guard
	notifier Notifier
	metrics  *metrics.SchedulingMetrics
	logger   *logging.Logger
}

// NewService constructs a bookings service.
func NewService(store Store, logger *logging.Logger) *Service {
	if store == nil {
		panic("bookings: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, guard: NewGuard(), logger: logger}
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithMetrics(m *metrics.SchedulingMetrics) *Service {
	s.metrics = m
	return s
}

// Snapshot fetches the professional's bookings for the calendar day of at.
func (s *Service) Snapshot(ctx context.Context, professionalID string, at time.Time) ([]Appointment, error) {
	y, m, d := at.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, at.Location())
	appts, err := s.store.ListBookings(ctx, professionalID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("bookings: snapshot: %w", err)
	}
	return appts, nil
}

// Book re-fetches the day's bookings, runs the guard and forwards the draft
// to the store. Conflicts from either stage come back as *SlotConflict;
// other upstream refusals as *UpstreamRejection.
func (s *Service) Book(ctx context.Context, draft Draft) (Confirmation, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("dentalogic.professional_id", draft.ProfessionalID),
		attribute.String("dentalogic.treatment", draft.TreatmentCode),
		attribute.String("dentalogic.start", draft.Start.Format(time.RFC3339)),
	)

	if err := draft.Validate(); err != nil {
		s.metrics.ObserveBooking("invalid")
		return Confirmation{}, err
	}

	snapshot, err := s.Snapshot(ctx, draft.ProfessionalID, draft.Start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		s.metrics.ObserveBooking("error")
		return Confirmation{}, err
	}

	token, err := s.guard.Check(draft, snapshot)
	if err != nil {
		s.metrics.ObserveBooking("conflict")
		s.logger.Info("booking refused by guard", "professional_id", draft.ProfessionalID, "start", draft.Start, "error", err)
		return Confirmation{}, err
	}

	appt, err := s.store.CreateAppointment(ctx, draft)
	if err != nil {
		span.RecordError(err)
		return Confirmation{}, s.mapStoreError(draft, err)
	}

	s.metrics.ObserveBooking("accepted")
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"professional_id", draft.ProfessionalID,
		"start", draft.Start,
		"duration_minutes", draft.DurationMinutes,
		"acceptance_id", token.ID,
	)
	if s.notifier != nil {
		s.notifier.AppointmentCreated(ctx, appt)
	}
	return Confirmation{Appointment: appt, Token: token}, nil
}

func (s *Service) mapStoreError(draft Draft, err error) error {
	var storeConflict *StoreConflict
	if errors.As(err, &storeConflict) {
		s.metrics.ObserveBooking("conflict")
		s.logger.Info("booking refused by store", "professional_id", draft.ProfessionalID, "start", draft.Start, "detail", storeConflict.Detail)
		return &SlotConflict{
			Draft:       draft.Interval(),
			Conflicting: storeConflict.Conflicting,
			BookingID:   storeConflict.BookingID,
			Source:      "store",
			Detail:      storeConflict.Detail,
		}
	}
	var rejection *UpstreamRejection
	if errors.As(err, &rejection) {
		s.metrics.ObserveBooking("rejected")
		s.logger.Warn("booking rejected upstream", "status", rejection.Status, "detail", rejection.Detail)
		return rejection
	}
	s.metrics.ObserveBooking("error")
	s.logger.Error("booking store failed", "error", err, "professional_id", draft.ProfessionalID)
	return fmt.Errorf("bookings: create appointment: %w", err)
}
