package sql

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PollInterval is the polling cadence of a statement used for live push.
// Max == 0 disables growth; otherwise each quiet poll multiplies the current
// interval by (1 + StepPercent/100), clamped to Max.
type PollInterval struct {
	Base        time.Duration
	Max         time.Duration
	StepPercent int
}

// ParsePollInterval parses "base[:max:stepPercent]". Durations accept Go
// syntax ("10s") or a bare integer number of milliseconds.
func ParsePollInterval(s string) (PollInterval, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 1 && len(parts) != 3 {
		return PollInterval{}, fmt.Errorf("poll interval %q: expected base or base:max:stepPercent", s)
	}

	base, err := parseMillisOrDuration(parts[0])
	if err != nil {
		return PollInterval{}, fmt.Errorf("poll interval %q: base: %w", s, err)
	}
	pi := PollInterval{Base: base}

	if len(parts) == 3 {
		if pi.Max, err = parseMillisOrDuration(parts[1]); err != nil {
			return PollInterval{}, fmt.Errorf("poll interval %q: max: %w", s, err)
		}
		if pi.StepPercent, err = strconv.Atoi(strings.TrimSpace(parts[2])); err != nil {
			return PollInterval{}, fmt.Errorf("poll interval %q: step percent: %w", s, err)
		}
	}

	if err := pi.Validate(); err != nil {
		return PollInterval{}, fmt.Errorf("poll interval %q: %w", s, err)
	}
	return pi, nil
}

// Validate checks the interval bounds.
func (p PollInterval) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("base must be positive")
	}
	if p.Max != 0 && p.Max < p.Base {
		return fmt.Errorf("max %s is below base %s", p.Max, p.Base)
	}
	if p.StepPercent < 0 {
		return fmt.Errorf("step percent must not be negative")
	}
	return nil
}

// IsZero reports whether no interval was configured.
func (p PollInterval) IsZero() bool {
	return p.Base == 0
}

// Next returns the interval that follows current after a poll without change.
func (p PollInterval) Next(current time.Duration) time.Duration {
	if p.Max <= 0 || current >= p.Max {
		return current
	}
	next := time.Duration(float64(current) * (1 + float64(p.StepPercent)/100))
	if next > p.Max {
		next = p.Max
	}
	return next
}

func (p PollInterval) String() string {
	if p.Max == 0 {
		return p.Base.String()
	}
	return fmt.Sprintf("%s:%s:%d", p.Base, p.Max, p.StepPercent)
}

func parseMillisOrDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
