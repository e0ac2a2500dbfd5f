package availability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adriangmrraa/dentalogic-sub000/internal/tenancy"
	"github.com/adriangmrraa/dentalogic-sub000/pkg/logging"
)

func TestFromStdIsTotal(t *testing.T) {
	tests := []struct {
		in   time.Weekday
		want Weekday
	}{
		{time.Monday, Monday},
		{time.Tuesday, Tuesday},
		{time.Wednesday, Wednesday},
		{time.Thursday, Thursday},
		{time.Friday, Friday},
		{time.Saturday, Saturday},
		{time.Sunday, Sunday},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FromStd(tt.in))
		})
	}
	assert.True(t, FromStd(time.Weekday(-3)).Valid())
	assert.True(t, FromStd(time.Weekday(12)).Valid())
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, Clock(570), c)
	assert.Equal(t, "09:30", c.String())

	for _, bad := range []string{"", "9", "24:00", "12:60", "ab:cd", "12:5", "-1:00"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestClockOnUsesLocation(t *testing.T) {
	loc := time.FixedZone("ART", -3*3600)
	day := time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC)
	got := MustClock("10:15").On(day, loc)
	assert.Equal(t, 4, got.Day())
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 10, got.Hour())
	assert.Equal(t, 15, got.Minute())
}

func TestDefaultHasSundayRest(t *testing.T) {
	w := Default()
	for _, d := range Weekdays() {
		day := w.Day(d)
		if d == Sunday {
			assert.False(t, day.Enabled)
			assert.Empty(t, day.Slots)
			continue
		}
		assert.True(t, day.Enabled, d.String())
		assert.Equal(t, []TimeRange{MustRange("09:00", "18:00")}, day.Slots)
	}
}

func TestNormalizeIsTotal(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"garbage", "{not json"},
		{"array", "[1,2,3]"},
		{"null", "null"},
		{"string", `"monday"`},
		{"unknown keys", `{"funday": {"enabled": true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Default(), Normalize([]byte(tt.input)))
		})
	}
}

func TestNormalizeFillsMissingFields(t *testing.T) {
	raw := `{
		"monday": {"enabled": false},
		"tuesday": {"slots": [{"start": "14:00", "end": "16:00"}, {"start": "08:00", "end": "12:00"}]},
		"wednesday": {"enabled": true, "slots": [{"start": "bad", "end": "12:00"}]},
		"thursday": [],
		"friday": [{"start": "10:00", "end": "11:00"}],
		"sunday": {"enabled": true}
	}`
	w := Normalize([]byte(raw))

	monday := w.Day(Monday)
	assert.False(t, monday.Enabled)
	assert.Equal(t, []TimeRange{DefaultRange}, monday.Slots)

	tuesday := w.Day(Tuesday)
	assert.True(t, tuesday.Enabled)
	assert.Equal(t, []TimeRange{MustRange("08:00", "12:00"), MustRange("14:00", "16:00")}, tuesday.Slots)

	wednesday := w.Day(Wednesday)
	assert.True(t, wednesday.Enabled)
	assert.Equal(t, []TimeRange{DefaultRange}, wednesday.Slots)

	thursday := w.Day(Thursday)
	assert.False(t, thursday.Enabled)
	assert.Empty(t, thursday.Slots)

	friday := w.Day(Friday)
	assert.True(t, friday.Enabled)
	assert.Equal(t, []TimeRange{MustRange("10:00", "11:00")}, friday.Slots)

	assert.Equal(t, Default().Day(Saturday), w.Day(Saturday))

	sunday := w.Day(Sunday)
	assert.True(t, sunday.Enabled)
	assert.Equal(t, []TimeRange{DefaultRange}, sunday.Slots)
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		`{"monday": {"enabled": true, "slots": [{"start": "13:00", "end": "17:00"}, {"start": "09:00", "end": "12:00"}]}}`,
		`{"tuesday": {"enabled": true, "slots": []}, "sunday": [{"start": "10:00", "end": "09:00"}]}`,
		`garbage`,
	}
	for _, in := range inputs {
		once := Normalize([]byte(in))
		data, err := json.Marshal(once)
		require.NoError(t, err)
		twice := Normalize(data)
		assert.Equal(t, once, twice, in)
	}
}

func TestNormalizeRoundTripsValidConfig(t *testing.T) {
	w := FromDays(map[Weekday]DayConfig{
		Monday:   {Enabled: true, Slots: []TimeRange{MustRange("08:00", "12:00"), MustRange("13:00", "17:30")}},
		Tuesday:  {Enabled: true, Slots: []TimeRange{MustRange("09:00", "18:00")}},
		Saturday: {Enabled: true, Slots: []TimeRange{MustRange("09:00", "13:00")}},
	})
	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Equal(t, w, Normalize(data))
}

func TestStrictUnmarshal(t *testing.T) {
	data, err := json.Marshal(Default())
	require.NoError(t, err)

	var w WeeklyAvailability
	require.NoError(t, json.Unmarshal(data, &w))
	assert.Equal(t, Default(), w)

	var missing WeeklyAvailability
	assert.Error(t, json.Unmarshal([]byte(`{"monday": {"enabled": true, "slots": []}}`), &missing))

	var badTime WeeklyAvailability
	assert.Error(t, json.Unmarshal([]byte(`{"monday": {"enabled": true, "slots": [{"start": "25:00", "end": "26:00"}]}}`), &badTime))
}

func TestValidate(t *testing.T) {
	w := Default().
		With(Monday, DayConfig{Enabled: true, Slots: []TimeRange{
			MustRange("09:00", "12:00"),
			MustRange("11:00", "13:00"),
			MustRange("12:00", "14:00"),
		}}).
		With(Tuesday, DayConfig{Enabled: true, Slots: []TimeRange{MustRange("12:00", "12:00")}}).
		With(Wednesday, DayConfig{Enabled: true, Slots: []TimeRange{MustRange("09:00", "12:00"), MustRange("12:00", "15:00")}})

	violations := Validate(w)
	require.Len(t, violations, 3)

	assert.Equal(t, Monday, violations[0].Day)
	assert.Equal(t, ViolationOverlap, violations[0].Kind)
	assert.Equal(t, 0, violations[0].Index)
	assert.Equal(t, 1, violations[0].OtherIndex)

	assert.Equal(t, Monday, violations[1].Day)
	assert.Equal(t, 1, violations[1].Index)
	assert.Equal(t, 2, violations[1].OtherIndex)

	assert.Equal(t, Tuesday, violations[2].Day)
	assert.Equal(t, ViolationInvertedRange, violations[2].Kind)

	err := Check(w)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Violations, 3)
	assert.NoError(t, Check(Default()))
}

func TestWithDoesNotAlias(t *testing.T) {
	base := Default()
	changed := base.With(Monday, DayConfig{Enabled: false, Slots: []TimeRange{}})
	assert.True(t, base.Day(Monday).Enabled)
	assert.False(t, changed.Day(Monday).Enabled)

	day := base.Day(Tuesday)
	day.Slots[0] = MustRange("01:00", "02:00")
	assert.Equal(t, DefaultRange, base.Day(Tuesday).Slots[0])
}

type fakeSource struct {
	raw     json.RawMessage
	fetches int
	saved   *WeeklyAvailability
	err     error
}

func (f *fakeSource) FetchWorkingHours(ctx context.Context, professionalID string) (json.RawMessage, error) {
	f.fetches++
	return f.raw, f.err
}

func (f *fakeSource) UpdateWorkingHours(ctx context.Context, professionalID string, w WeeklyAvailability) error {
	f.saved = &w
	return f.err
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLoaderCachesNormalizedConfig(t *testing.T) {
	client := newTestRedis(t)
	store := NewStore(client, time.Minute)
	src := &fakeSource{raw: json.RawMessage(`{"monday": {"enabled": false}}`)}
	loader := NewLoader(src, store, logging.Discard())
	ctx := tenancy.WithTenantID(context.Background(), "clinic-1")

	first, err := loader.Load(ctx, "prof-1")
	require.NoError(t, err)
	assert.False(t, first.Day(Monday).Enabled)

	second, err := loader.Load(ctx, "prof-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.fetches)

	exists, err := client.Exists(ctx, "availability:clinic-1:prof-1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestLoaderSaveRejectsInvalidAndInvalidates(t *testing.T) {
	client := newTestRedis(t)
	store := NewStore(client, 0)
	src := &fakeSource{raw: json.RawMessage(`{}`)}
	loader := NewLoader(src, store, logging.Discard())
	ctx := tenancy.WithTenantID(context.Background(), "clinic-1")

	_, err := loader.Load(ctx, "prof-1")
	require.NoError(t, err)

	bad := Default().With(Monday, DayConfig{Enabled: true, Slots: []TimeRange{MustRange("10:00", "09:00")}})
	var vErr *ValidationError
	require.ErrorAs(t, loader.Save(ctx, "prof-1", bad), &vErr)
	assert.Nil(t, src.saved)

	good := Default().With(Monday, DayConfig{Enabled: true, Slots: []TimeRange{MustRange("14:00", "18:00"), MustRange("08:00", "12:00")}})
	require.NoError(t, loader.Save(ctx, "prof-1", good))
	require.NotNil(t, src.saved)
	assert.Equal(t, MustRange("08:00", "12:00"), src.saved.Day(Monday).Slots[0])

	_, ok, err := store.Get(ctx, "clinic-1", "prof-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoaderPropagatesSourceErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	loader := NewLoader(src, nil, logging.Discard())
	_, err := loader.Load(context.Background(), "prof-1")
	assert.ErrorContains(t, err, "boom")
}
