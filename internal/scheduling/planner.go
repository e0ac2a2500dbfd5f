package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/bookings"
	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/internal/slots"
	"github.com/adriangmrraa/dentalogic-sub000/internal/treatments"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

var schedulingTracer = otel.Tracer("dentalogic.internal.scheduling")

// ErrStale is returned by Load when the selection changed while the fetch
// was in flight. The result was discarded.
var ErrStale = errors.New("scheduling: result is stale")

// ErrNoSelection is returned when nothing has been selected yet.
var ErrNoSelection = errors.New("scheduling: no selection")

type AvailabilityLoader interface {
	Load(ctx context.Context, professionalID string) (availability.WeeklyAvailability, error)
}

type TreatmentSource interface {
	Treatment(ctx context.Context, code string) (treatments.Constraint, error)
}

type BookingSource interface {
	ListBookings(ctx context.Context, professionalID string, from, to time.Time) ([]bookings.Appointment, error)
}

type SessionHistory interface {
	LastSessionEnd(ctx context.Context, patientID, treatmentCode string, before time.Time) (*time.Time, error)
}

type Booker interface {
	Book(ctx context.Context, draft bookings.Draft) (bookings.Confirmation, error)
}

// Target identifies what the user is looking at.
type Target struct {
	ProfessionalID  string
	Date            time.Time
	TreatmentCode   string
	DurationMinutes int
	PatientID       string
}

func (t Target) sameAs(o Target) bool {
	return t.ProfessionalID == o.ProfessionalID &&
		t.Date.Equal(o.Date) &&
		t.TreatmentCode == o.TreatmentCode &&
		t.DurationMinutes == o.DurationMinutes &&
		t.PatientID == o.PatientID
}

// Result is one consistent offer: every input was fetched for Target.
type Result struct {
	Target     Target
	Generation uint64
	Plan       slots.Plan
	Treatment  treatments.Constraint
	Snapshot   []bookings.Appointment
	Slots      []slots.Slot
}

// Planner coordinates the fetches behind a slot offer. Each Select starts a
// new generation; Load results carry the generation they were started
// under and are dropped if it is no longer current.
type Planner struct {
	availability AvailabilityLoader
	treatments   TreatmentSource
	bookings     BookingSource
	history      SessionHistory
	booker       Booker
	generator    slots.Generator
	fallback     treatments.Constraint
	metrics      *metrics.SchedulingMetrics
	logger       *logging.Logger

	mu         sync.Mutex
	current    Target
	selected   bool
	generation uint64
	latest     *Result
}

// Deps are the planner's collaborators. History and Booker are optional.
type Deps struct {
	Availability AvailabilityLoader
	Treatments   TreatmentSource
	Bookings     BookingSource
	History      SessionHistory
	Booker       Booker
}

func NewPlanner(deps Deps, generator slots.Generator, logger *logging.Logger) *Planner {
	if deps.Availability == nil || deps.Treatments == nil || deps.Bookings == nil {
		panic("scheduling: availability, treatment and booking sources required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Planner{
		availability: deps.Availability,
		treatments:   deps.Treatments,
		bookings:     deps.Bookings,
		history:      deps.History,
		booker:       deps.Booker,
		generator:    generator,
		fallback: treatments.Constraint{
			Code:                   "consultation",
			Name:                   "Consulta",
			DefaultDurationMinutes: 30,
			MinDurationMinutes:     15,
			MaxDurationMinutes:     120,
		},
		logger: logger,
	}
}

func (p *Planner) WithMetrics(m *metrics.SchedulingMetrics) *Planner {
	p.metrics = m
	return p
}

// WithDefaultTreatment sets the constraint used when a target names no treatment.
func (p *Planner) WithDefaultTreatment(c treatments.Constraint) *Planner {
	p.fallback = c
	return p
}

// Select makes t the current target and returns its generation. Any
// cached result is dropped.
func (p *Planner) Select(t Target) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = t
	p.selected = true
	p.generation++
	p.latest = nil
	return p.generation
}

// Current returns the selected target and its generation.
func (p *Planner) Current() (Target, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.generation, p.selected
}

// Latest returns the last result accepted for the current generation.
func (p *Planner) Latest() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Result{}, false
	}
	return *p.latest, true
}

// Load fetches and generates the offer for the current target. If the
// selection changes before the fetches finish the result is discarded and
// ErrStale returned.
func (p *Planner) Load(ctx context.Context) (Result, error) {
	p.mu.Lock()
	if !p.selected {
		p.mu.Unlock()
		return Result{}, ErrNoSelection
	}
	target, gen := p.current, p.generation
	p.mu.Unlock()

	res, err := p.Offer(ctx, target)
	res.Generation = gen

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation || !target.sameAs(p.current) {
		p.metrics.ObserveStaleResult()
		p.logger.Debug("discarding stale slot offer", "professional_id", target.ProfessionalID, "generation", gen, "current", p.generation)
		return Result{}, ErrStale
	}
	if err != nil {
		return Result{}, err
	}
	p.latest = &res
	return res, nil
}

// Offer fetches availability, treatment, bookings and (for multi-session
// treatments) the patient's last session concurrently, then generates
// slots. It keeps no state.
func (p *Planner) Offer(ctx context.Context, t Target) (Result, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.offer")
	defer span.End()
	span.SetAttributes(
		attribute.String("dentalogic.professional_id", t.ProfessionalID),
		attribute.String("dentalogic.treatment", t.TreatmentCode),
	)

	start := time.Now()
	res, err := p.offer(ctx, t)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "offer failed")
	case len(res.Slots) == 0:
		result = "empty"
	}
	span.SetAttributes(attribute.Int("dentalogic.slots", len(res.Slots)))
	p.metrics.ObserveSlotListing(result, time.Since(start).Seconds())
	return res, err
}

func (p *Planner) offer(ctx context.Context, t Target) (Result, error) {
	if t.ProfessionalID == "" {
		return Result{}, errors.New("scheduling: professional required")
	}
	loc := p.generator.Location
	if loc == nil {
		loc = t.Date.Location()
	}
	y, m, d := t.Date.In(loc).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var (
		weekly    availability.WeeklyAvailability
		treatment = p.fallback
		snapshot  []bookings.Appointment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w, err := p.availability.Load(gctx, t.ProfessionalID)
		if err != nil {
			return fmt.Errorf("scheduling: load availability: %w", err)
		}
		weekly = w
		return nil
	})
	if t.TreatmentCode != "" {
		g.Go(func() error {
			c, err := p.treatments.Treatment(gctx, t.TreatmentCode)
			if err != nil {
				return fmt.Errorf("scheduling: load treatment: %w", err)
			}
			treatment = c
			return nil
		})
	}
	g.Go(func() error {
		appts, err := p.bookings.ListBookings(gctx, t.ProfessionalID, dayStart, dayEnd)
		if err != nil {
			return fmt.Errorf("scheduling: load bookings: %w", err)
		}
		snapshot = appts
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var previous *time.Time
	if treatment.RequiresMultipleSessions && t.PatientID != "" && p.history != nil {
		end, err := p.history.LastSessionEnd(ctx, t.PatientID, treatment.Code, dayStart)
		if err != nil {
			return Result{}, fmt.Errorf("scheduling: load session history: %w", err)
		}
		previous = end
	}

	req := slots.Request{
		Availability:       weekly,
		Treatment:          treatment,
		Date:               dayStart,
		DurationMinutes:    t.DurationMinutes,
		Bookings:           snapshot,
		PreviousSessionEnd: previous,
	}
	plan := p.generator.Plan(req)
	return Result{
		Target:    t,
		Plan:      plan,
		Treatment: treatment,
		Snapshot:  snapshot,
		Slots:     slots.Collect(p.generator.Generate(req)),
	}, nil
}

// Commit books slot for the current target. The booker takes its own fresh
// snapshot. Whatever the outcome the cached offer is dropped so the view
// re-fetches instead of showing the draft as booked.
func (p *Planner) Commit(ctx context.Context, slot slots.Slot, notes string) (bookings.Confirmation, error) {
	if p.booker == nil {
		return bookings.Confirmation{}, errors.New("scheduling: no booker configured")
	}
	p.mu.Lock()
	if !p.selected {
		p.mu.Unlock()
		return bookings.Confirmation{}, ErrNoSelection
	}
	target := p.current
	p.mu.Unlock()

	draft := bookings.Draft{
		ProfessionalID:  target.ProfessionalID,
		PatientID:       target.PatientID,
		TreatmentCode:   target.TreatmentCode,
		Start:           slot.Start,
		DurationMinutes: slot.DurationMinutes,
		Notes:           notes,
	}
	conf, err := p.booker.Book(ctx, draft)

	p.mu.Lock()
	if target.sameAs(p.current) {
		p.latest = nil
	}
	p.mu.Unlock()

	if err != nil {
		return bookings.Confirmation{}, err
	}
	return conf, nil
}
