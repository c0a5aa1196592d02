package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type RecurrenceKind string

const (
	RecurDaily    RecurrenceKind = "daily"
	RecurWeekly   RecurrenceKind = "weekly"
	RecurMonthly  RecurrenceKind = "monthly"
	RecurYearly   RecurrenceKind = "yearly"
	RecurWeekdays RecurrenceKind = "weekdays"
)

var (
	ErrInvalidRecurrenceKind = errors.New("model: invalid recurrence kind")
	ErrInvalidWeekday        = errors.New("model: invalid weekday in recurrence")
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Recurrence is a parsed repeat rule. Days only applies to RecurWeekly; an
// empty set means "same weekday every week".
type Recurrence struct {
	Kind RecurrenceKind
	Days []time.Weekday
}

// ParseRecurrence accepts "daily", "weekly", "weekly:mon,wed,fri", "monthly",
// "yearly" and "weekdays".
func ParseRecurrence(raw string) (Recurrence, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	kind, days, hasDays := strings.Cut(raw, ":")
	r := Recurrence{Kind: RecurrenceKind(kind)}
	if hasDays {
		if r.Kind != RecurWeekly {
			return Recurrence{}, fmt.Errorf("%w: %q", ErrInvalidRecurrenceKind, raw)
		}
		seen := map[time.Weekday]bool{}
		for _, part := range strings.Split(days, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			d, ok := weekdayNames[part]
			if !ok {
				return Recurrence{}, fmt.Errorf("%w: %q", ErrInvalidWeekday, part)
			}
			if !seen[d] {
				seen[d] = true
				r.Days = append(r.Days, d)
			}
		}
		sort.Slice(r.Days, func(i, j int) bool { return r.Days[i] < r.Days[j] })
	}
	if err := r.Validate(); err != nil {
		return Recurrence{}, err
	}
	return r, nil
}

func (r Recurrence) Validate() error {
	switch r.Kind {
	case RecurDaily, RecurWeekly, RecurMonthly, RecurYearly, RecurWeekdays:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRecurrenceKind, r.Kind)
	}
	if len(r.Days) > 0 && r.Kind != RecurWeekly {
		return errors.New("model: weekday set only applies to weekly recurrence")
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
	}
	return nil
}

func (r Recurrence) String() string {
	if r.Kind != RecurWeekly || len(r.Days) == 0 {
		return string(r.Kind)
	}
	names := make([]string, 0, len(r.Days))
	for _, d := range r.Days {
		names = append(names, strings.ToLower(d.String()[:3]))
	}
	return string(r.Kind) + ":" + strings.Join(names, ",")
}

func (r Recurrence) MarshalText() ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return []byte(r.String()), nil
}

func (r *Recurrence) UnmarshalText(text []byte) error {
	parsed, err := ParseRecurrence(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Next returns the first occurrence strictly after from, keeping its clock.
func (r Recurrence) Next(from time.Time) time.Time {
	switch r.Kind {
	case RecurDaily:
		return from.AddDate(0, 0, 1)
	case RecurWeekly:
		if len(r.Days) == 0 {
			return from.AddDate(0, 0, 7)
		}
		return nextAllowed(from, r.allowedWeekdays())
	case RecurMonthly:
		return addMonthsClamped(from, 1)
	case RecurYearly:
		return addMonthsClamped(from, 12)
	case RecurWeekdays:
		return nextAllowed(from, r.allowedWeekdays())
	default:
		return from
	}
}

func (r Recurrence) Preview(from time.Time, count int) []time.Time {
	if count <= 0 {
		return []time.Time{}
	}
	out := make([]time.Time, 0, count)
	cursor := from
	for i := 0; i < count; i++ {
		cursor = r.Next(cursor)
		out = append(out, cursor)
	}
	return out
}

func (r Recurrence) allowedWeekdays() map[time.Weekday]bool {
	if r.Kind == RecurWeekly && len(r.Days) > 0 {
		m := make(map[time.Weekday]bool, len(r.Days))
		for _, w := range r.Days {
			m[w] = true
		}
		return m
	}
	return map[time.Weekday]bool{
		time.Monday:    true,
		time.Tuesday:   true,
		time.Wednesday: true,
		time.Thursday:  true,
		time.Friday:    true,
	}
}

func nextAllowed(from time.Time, allowed map[time.Weekday]bool) time.Time {
	probe := from.AddDate(0, 0, 1)
	for i := 0; i < 7; i++ {
		if allowed[probe.Weekday()] {
			return probe
		}
		probe = probe.AddDate(0, 0, 1)
	}
	return probe
}

// addMonthsClamped moves t by n months, pinning the day to the target month's
// last day when it would overflow (Jan 31 + 1 month = Feb 28).
func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	last := lastDayOfMonth(y, m+time.Month(n), t.Location())
	if d > last {
		d = last
	}
	return time.Date(y, m+time.Month(n), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
