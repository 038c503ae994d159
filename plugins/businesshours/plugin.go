package businesshours

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Window is one opening interval of a weekday, in "15:04" layout. Close must
// be after Open; overnight shifts are split across two days.
type Window struct {
	Open  string `yaml:"open" validate:"required"`
	Close string `yaml:"close" validate:"required"`
}

// Schedule is the weekly opening schedule of a tenant. Days are keyed by
// weekday name ("mon", "monday", "seg"...). A schedule without days is
// always open. Holidays are "2006-01-02" dates on which the tenant is closed.
type Schedule struct {
	Timezone string            `yaml:"timezone" default:"UTC" validate:"timezone"`
	Days     map[string]Window `yaml:"days" validate:"dive"`
	Holidays []string          `yaml:"holidays"`
}

type Config struct {
	Default Schedule            `yaml:"default"`
	Tenants map[string]Schedule `yaml:"tenants" validate:"dive"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday, "dom": time.Sunday, "domingo": time.Sunday,
	"mon": time.Monday, "monday": time.Monday, "seg": time.Monday, "segunda": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday, "ter": time.Tuesday, "terca": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday, "qua": time.Wednesday, "quarta": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday, "qui": time.Thursday, "quinta": time.Thursday,
	"fri": time.Friday, "friday": time.Friday, "sex": time.Friday, "sexta": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday, "sab": time.Saturday, "sabado": time.Saturday,
}

type span struct {
	open, close int // minutes since midnight
}

type compiled struct {
	loc        *time.Location
	days       map[time.Weekday]span
	holidays   map[string]struct{}
	alwaysOpen bool
}

// Hours implements runtime.BusinessHours from static per-tenant schedules.
type Hours struct {
	Config  Config
	l       *slog.Logger
	now     func() time.Time
	def     *compiled
	tenants map[string]*compiled
}

func New(l *slog.Logger, cfg Config) *Hours {
	if l == nil {
		l = slog.Default()
	}
	return &Hours{Config: cfg, l: l, now: time.Now}
}

// Initialize implements runtime.Initializer. It parses every schedule so
// configuration mistakes surface at startup.
func (h *Hours) Initialize(ctx context.Context) error {
	def, err := compile(h.Config.Default)
	if err != nil {
		return fmt.Errorf("businesshours: default schedule: %w", err)
	}
	h.def = def
	h.tenants = make(map[string]*compiled, len(h.Config.Tenants))
	for tenant, s := range h.Config.Tenants {
		c, err := compile(s)
		if err != nil {
			return fmt.Errorf("businesshours: tenant %s: %w", tenant, err)
		}
		h.tenants[tenant] = c
	}
	h.l.InfoContext(ctx, "business hours loaded", "tenants", len(h.tenants))
	return nil
}

func compile(s Schedule) (*compiled, error) {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}

	c := &compiled{
		loc:        loc,
		days:       make(map[time.Weekday]span, len(s.Days)),
		holidays:   make(map[string]struct{}, len(s.Holidays)),
		alwaysOpen: len(s.Days) == 0,
	}
	for name, w := range s.Days {
		day, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		open, err := minutes(w.Open)
		if err != nil {
			return nil, fmt.Errorf("%s open: %w", name, err)
		}
		closeAt, err := minutes(w.Close)
		if err != nil {
			return nil, fmt.Errorf("%s close: %w", name, err)
		}
		if closeAt <= open {
			return nil, fmt.Errorf("%s closes at %s before opening at %s", name, w.Close, w.Open)
		}
		c.days[day] = span{open: open, close: closeAt}
	}
	for _, d := range s.Holidays {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("holiday %q: %w", d, err)
		}
		c.holidays[d] = struct{}{}
	}
	return c, nil
}

func minutes(hhmm string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (h *Hours) schedule(tenantID string) (*compiled, error) {
	if h.def == nil {
		return nil, fmt.Errorf("businesshours: not initialized")
	}
	if c, ok := h.tenants[tenantID]; ok {
		return c, nil
	}
	return h.def, nil
}

func (c *compiled) openAt(t time.Time) bool {
	if c.alwaysOpen {
		return true
	}
	if _, holiday := c.holidays[t.Format(time.DateOnly)]; holiday {
		return false
	}
	s, ok := c.days[t.Weekday()]
	if !ok {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= s.open && m < s.close
}

func (h *Hours) IsOpenNow(_ context.Context, tenantID string) (bool, error) {
	c, err := h.schedule(tenantID)
	if err != nil {
		return false, err
	}
	return c.openAt(h.now().In(c.loc)), nil
}

// NextOpenTime returns the next opening within two weeks, or now when the
// tenant is open. ok is false when no opening is found in that range.
func (h *Hours) NextOpenTime(_ context.Context, tenantID string) (time.Time, bool, error) {
	c, err := h.schedule(tenantID)
	if err != nil {
		return time.Time{}, false, err
	}
	now := h.now().In(c.loc)
	if c.openAt(now) {
		return now, true, nil
	}

	for offset := 0; offset <= 14; offset++ {
		day := now.AddDate(0, 0, offset)
		if _, holiday := c.holidays[day.Format(time.DateOnly)]; holiday {
			continue
		}
		s, ok := c.days[day.Weekday()]
		if !ok {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), s.open/60, s.open%60, 0, 0, c.loc)
		if candidate.After(now) {
			return candidate, true, nil
		}
	}
	return time.Time{}, false, nil
}
