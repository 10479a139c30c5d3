package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSchedule accepts either "@every <duration>" or a five-field cron
// expression.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid interval %q: %w", rest, err)
		}
		s, err := NewIntervalSchedule(d)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	c, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule runs a job at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates an IntervalSchedule. The interval must be
// positive.
func NewIntervalSchedule(interval time.Duration) (*IntervalSchedule, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	return &IntervalSchedule{Interval: interval}, nil
}

// Next implements Schedule.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule is a parsed "minute hour day-of-month month day-of-week"
// expression. Each field accepts *, n, n-m, */s, n-m/s and comma lists.
// Day-of-week runs 0-6 with 0 = Sunday. Both day fields must match.
type CronSchedule struct {
	raw     string
	minute  fieldSet
	hour    fieldSet
	day     fieldSet
	month   fieldSet
	weekday fieldSet
}

// fieldSet is a bitmask of allowed values; 64 bits cover every cron field.
type fieldSet uint64

func (f fieldSet) has(v int) bool {
	return f&(1<<uint(v)) != 0
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("scheduler: cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	bounds := [5]struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day", 1, 31},
		{"month", 1, 12},
		{"weekday", 0, 6},
	}

	var sets [5]fieldSet
	for i, f := range fields {
		set, err := parseCronField(f, bounds[i].min, bounds[i].max)
		if err != nil {
			return nil, fmt.Errorf("scheduler: cron %s field %q: %w", bounds[i].name, f, err)
		}
		sets[i] = set
	}

	return &CronSchedule{
		raw:     expr,
		minute:  sets[0],
		hour:    sets[1],
		day:     sets[2],
		month:   sets[3],
		weekday: sets[4],
	}, nil
}

// MustParseCron is ParseCron for static expressions.
func MustParseCron(expr string) *CronSchedule {
	c, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func parseCronField(field string, min, max int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		rng, stepStr, hasStep := strings.Cut(part, "/")
		if hasStep {
			s, err := strconv.Atoi(stepStr)
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("invalid step %q", stepStr)
			}
			step = s
		}

		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("invalid range start %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("invalid range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", rng)
			}
			lo = v
			if !hasStep {
				hi = v
			}
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("value out of range [%d-%d]", min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

// Next implements Schedule. It returns the zero time if nothing matches
// within a year.
func (c *CronSchedule) Next(after time.Time) time.Time {
	t := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), after.Minute()+1, 0, 0, after.Location())
	limit := t.AddDate(1, 0, 0)

	for t.Before(limit) {
		switch {
		case !c.month.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		case !c.day.has(t.Day()) || !c.weekday.has(int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		case !c.hour.has(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
		case !c.minute.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			return t
		}
	}
	return time.Time{}
}

func (c *CronSchedule) String() string {
	return c.raw
}
