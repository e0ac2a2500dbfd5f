package bookings

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adriangmrraa/dentalogic-sub000/internal/observability/metrics"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

type stubStore struct {
	snapshots   [][]Appointment
	listCalls   int
	listFrom    time.Time
	listTo      time.Time
	created     []Draft
	createErr   error
	createdAppt Appointment
}

func (s *stubStore) ListBookings(ctx context.Context, professionalID string, from, to time.Time) ([]Appointment, error) {
	s.listFrom, s.listTo = from, to
	idx := s.listCalls
	s.listCalls++
	if idx < len(s.snapshots) {
		return s.snapshots[idx], nil
	}
	return nil, nil
}

func (s *stubStore) CreateAppointment(ctx context.Context, draft Draft) (Appointment, error) {
	s.created = append(s.created, draft)
	if s.createErr != nil {
		return Appointment{}, s.createErr
	}
	appt := s.createdAppt
	appt.Start = draft.Start
	appt.DurationMinutes = draft.DurationMinutes
	return appt, nil
}

type recordingNotifier struct {
	created []Appointment
}

func (n *recordingNotifier) AppointmentCreated(ctx context.Context, appt Appointment) {
	n.created = append(n.created, appt)
}

func newTestService(store Store) *Service {
	return NewService(store, logging.Discard()).WithMetrics(metrics.NewSchedulingMetrics(prometheus.NewRegistry()))
}

func TestBookCommitsFreeSlot(t *testing.T) {
	store := &stubStore{createdAppt: Appointment{ID: "appt-9", Status: StatusConfirmed}}
	notifier := &recordingNotifier{}
	svc := newTestService(store).WithNotifier(notifier)

	conf, err := svc.Book(context.Background(), draftAt(60, 30))
	require.NoError(t, err)
	assert.Equal(t, "appt-9", conf.Appointment.ID)
	assert.Equal(t, NewInterval(base.Add(time.Hour), 30), conf.Token.Interval)
	require.Len(t, store.created, 1)
	require.Len(t, notifier.created, 1)

	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), store.listFrom)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), store.listTo)
}

func TestBookUsesFreshSnapshotEachTime(t *testing.T) {
	store := &stubStore{
		snapshots: [][]Appointment{
			nil,
			{apptAt("taken", 0, 30, StatusConfirmed)},
		},
	}
	svc := newTestService(store)

	_, err := svc.Book(context.Background(), draftAt(0, 30))
	require.NoError(t, err)

	_, err = svc.Book(context.Background(), draftAt(0, 30))
	var conflict *SlotConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "taken", conflict.BookingID)
	assert.Len(t, store.created, 1, "second draft must not reach the store")
}

func TestBookMapsStoreConflict(t *testing.T) {
	conflicting := NewInterval(base, 45)
	store := &stubStore{createErr: &StoreConflict{Detail: "overlap", Conflicting: &conflicting}}
	notifier := &recordingNotifier{}
	svc := newTestService(store).WithNotifier(notifier)

	_, err := svc.Book(context.Background(), draftAt(15, 30))
	var conflict *SlotConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "store", conflict.Source)
	assert.Equal(t, conflicting, *conflict.Conflicting)
	assert.Empty(t, notifier.created)
}

func TestBookSurfacesUpstreamRejectionVerbatim(t *testing.T) {
	store := &stubStore{createErr: &UpstreamRejection{Status: http.StatusForbidden, Detail: "Not enough permissions"}}
	svc := newTestService(store)

	_, err := svc.Book(context.Background(), draftAt(0, 30))
	var rejection *UpstreamRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "Not enough permissions", rejection.Detail)
	assert.False(t, errors.Is(err, ErrSlotConflict))
}

func TestBookWrapsUnexpectedStoreErrors(t *testing.T) {
	store := &stubStore{createErr: errors.New("connection reset")}
	svc := newTestService(store)

	_, err := svc.Book(context.Background(), draftAt(0, 30))
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	assert.False(t, errors.Is(err, ErrSlotConflict))
}

func TestBookRejectsInvalidDraftWithoutFetching(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(store)
	_, err := svc.Book(context.Background(), Draft{})
	assert.ErrorIs(t, err, ErrInvalidDraft)
	assert.Zero(t, store.listCalls)
}

func TestNewServicePanicsWithoutStore(t *testing.T) {
	assert.Panics(t, func() { NewService(nil, nil) })
}
