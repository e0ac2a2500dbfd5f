// Package clinic holds per-tenant clinic settings: timezone, default
// working hours, slot granularity and who is told about handoffs.
package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adriangmrraa/dentalogic-sub000/internal/availability"
	"github.com/adriangmrraa/dentalogic-sub000/internal/slots"
	"github.com/adriangmrraa/dentalogic-sub000/internal/tenancy"
)

const DefaultTimezone = "America/Argentina/Buenos_Aires"

// NotificationPrefs says who hears about handoffs nobody picked up.
type NotificationPrefs struct {
	EmailEnabled    bool     `json:"email_enabled"`
	EmailRecipients []string `json:"email_recipients,omitempty"`
	// NotifyOnHandoff sends an email when a handoff arrives and no console
	// is listening.
	NotifyOnHandoff bool `json:"notify_on_handoff"`
}

// Recipients returns the trimmed, de-duplicated email recipients.
func (n NotificationPrefs) Recipients() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range n.EmailRecipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Config holds clinic-specific configuration.
type Config struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	// RestDay starts disabled in the default working hours.
	RestDay availability.Weekday `json:"rest_day"`
	// DefaultHours is the range every other day gets by default.
	DefaultHours availability.TimeRange `json:"default_hours"`
	// SlotGranularityMinutes fixes the slot step; zero uses the treatment duration.
	SlotGranularityMinutes int `json:"slot_granularity_minutes,omitempty"`
	// MinGranularityMinutes floors the slot step.
	MinGranularityMinutes int               `json:"min_granularity_minutes"`
	HandoffVisibleSeconds int               `json:"handoff_visible_seconds"`
	Notifications         NotificationPrefs `json:"notifications"`
}

// DefaultConfig returns the settings used until a clinic saves its own.
func DefaultConfig(tenantID string) *Config {
	return &Config{
		TenantID:              tenantID,
		Name:                  "Clínica",
		Timezone:              DefaultTimezone,
		RestDay:               availability.Sunday,
		DefaultHours:          availability.DefaultRange,
		MinGranularityMinutes: slots.DefaultMinGranularity,
		HandoffVisibleSeconds: 5,
		Notifications: NotificationPrefs{
			EmailEnabled:    false,
			NotifyOnHandoff: true,
		},
	}
}

// Validate reports settings that would break scheduling.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if !c.RestDay.Valid() {
		errs = append(errs, fmt.Errorf("rest_day %d out of range", c.RestDay))
	}
	if !c.DefaultHours.Valid() {
		errs = append(errs, fmt.Errorf("default_hours %s is not a valid range", c.DefaultHours))
	}
	if c.SlotGranularityMinutes < 0 || c.MinGranularityMinutes < 0 {
		errs = append(errs, errors.New("granularity must not be negative"))
	}
	if c.HandoffVisibleSeconds < 0 {
		errs = append(errs, errors.New("handoff_visible_seconds must not be negative"))
	}
	return errors.Join(errs...)
}

// Location resolves the clinic timezone, falling back to the default zone
// and finally UTC.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// DefaultAvailability is the working-hours template for professionals that
// never saved their own.
func (c *Config) DefaultAvailability() availability.WeeklyAvailability {
	hours := c.DefaultHours
	if !hours.Valid() {
		hours = availability.DefaultRange
	}
	rest := c.RestDay
	if !rest.Valid() {
		rest = availability.Sunday
	}
	days := make(map[availability.Weekday]availability.DayConfig, 7)
	for _, d := range availability.Weekdays() {
		if d == rest {
			days[d] = availability.DayConfig{Enabled: false, Slots: []availability.TimeRange{}}
			continue
		}
		days[d] = availability.DayConfig{Enabled: true, Slots: []availability.TimeRange{hours}}
	}
	return availability.FromDays(days)
}

// IsOpenAt checks t against the default working hours in the clinic zone.
func (c *Config) IsOpenAt(t time.Time) bool {
	local := t.In(c.Location())
	day := c.DefaultAvailability().Day(availability.WeekdayOf(local))
	if !day.Enabled {
		return false
	}
	minute := availability.Clock(local.Hour()*60 + local.Minute())
	for _, r := range day.Slots {
		if minute >= r.Start && minute < r.End {
			return true
		}
	}
	return false
}

// Generator returns the slot generator configured for this clinic.
func (c *Config) Generator() slots.Generator {
	return slots.Generator{
		GranularityMinutes:    c.SlotGranularityMinutes,
		MinGranularityMinutes: c.MinGranularityMinutes,
		Location:              c.Location(),
	}
}

// HandoffVisibility is how long a handoff toast stays up.
func (c *Config) HandoffVisibility() time.Duration {
	if c.HandoffVisibleSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.HandoffVisibleSeconds) * time.Second
}

// Store provides persistence for clinic configurations.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new clinic config store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(tenantID string) string {
	return fmt.Sprintf("clinic:config:%s", tenantID)
}

// Get retrieves clinic config, returning default if not found.
func (s *Store) Get(ctx context.Context, tenantID string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultConfig(tenantID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	cfg := DefaultConfig(tenantID)
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	cfg.TenantID = tenantID
	return cfg, nil
}

// Set saves clinic config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.TenantID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}

// ForContext loads the settings of the request's tenant. Errors fall back
// to the defaults so scheduling keeps working when Redis is down.
func (s *Store) ForContext(ctx context.Context) *Config {
	tenantID, _ := tenancy.TenantIDFromContext(ctx)
	if s == nil || s.redis == nil {
		return DefaultConfig(tenantID)
	}
	cfg, err := s.Get(ctx, tenantID)
	if err != nil {
		return DefaultConfig(tenantID)
	}
	return cfg
}

// DefaultAvailability is a per-request default for availability.Loader.
func (s *Store) DefaultAvailability(ctx context.Context) availability.WeeklyAvailability {
	return s.ForContext(ctx).DefaultAvailability()
}
