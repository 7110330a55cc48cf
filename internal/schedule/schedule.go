// Package schedule parses the two trigger-label conventions the read
// API groups tasks by (spec.md §6, `/tasks/scheduled` and
// `/tasks/repeating`): `time.HHMM` for a fixed daily time-of-day, and
// `time.interval.N` for a fixed-minute repeating cadence. Neither
// drives dispatch — the core only ever reacts to messages it actually
// receives over the bus (spec.md Non-goals: no cron-inside-core); this
// package exists purely so the read-only views can present a schedule
// a human would recognize.
package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Kind distinguishes the two trigger-label grammars.
type Kind int

const (
	KindDaily Kind = iota
	KindInterval
)

// Schedule is the parsed form of one `time.*` trigger label.
type Schedule struct {
	Label           string
	Kind            Kind
	Hour            int // KindDaily only
	Minute          int // KindDaily only
	IntervalMinutes int // KindInterval only
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse recognizes label as a `time.HHMM` or `time.interval.N` trigger
// label. ok is false if label matches neither grammar (an ordinary,
// non-scheduled trigger name) — that is not an error.
func Parse(label string) (sched Schedule, ok bool, err error) {
	rest, isTime := strings.CutPrefix(label, "time.")
	if !isTime {
		return Schedule{}, false, nil
	}

	if n, isInterval := strings.CutPrefix(rest, "interval."); isInterval {
		minutes, err := strconv.Atoi(n)
		if err != nil || minutes <= 0 {
			return Schedule{}, false, fmt.Errorf("schedule: %q: invalid interval minutes", label)
		}
		if _, err := parser.Parse(fmt.Sprintf("*/%d * * * *", minutes)); err != nil {
			return Schedule{}, false, fmt.Errorf("schedule: %q: %w", label, err)
		}
		return Schedule{Label: label, Kind: KindInterval, IntervalMinutes: minutes}, true, nil
	}

	if len(rest) != 4 {
		return Schedule{}, false, fmt.Errorf("schedule: %q: expected time.HHMM", label)
	}
	hh, hErr := strconv.Atoi(rest[:2])
	mm, mErr := strconv.Atoi(rest[2:])
	if hErr != nil || mErr != nil {
		return Schedule{}, false, fmt.Errorf("schedule: %q: expected time.HHMM", label)
	}
	if _, err := parser.Parse(fmt.Sprintf("%d %d * * *", mm, hh)); err != nil {
		return Schedule{}, false, fmt.Errorf("schedule: %q: %w", label, err)
	}
	return Schedule{Label: label, Kind: KindDaily, Hour: hh, Minute: mm}, true, nil
}

// HHMM formats a KindDaily schedule's time-of-day as "HHMM".
func (s Schedule) HHMM() string {
	return fmt.Sprintf("%02d%02d", s.Hour, s.Minute)
}
