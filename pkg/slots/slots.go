// Package slots turns delivery preferences into the day's send instants.
package slots

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	ModeAuto   = "auto"
	ModeCustom = "custom"

	MinCount = 1
	MaxCount = 5

	minutesPerDay = 24 * 60
	lastMinute    = Clock(minutesPerDay - 1)
	padStep       = 60
)

// Clock is a local time of day in minutes after midnight.
type Clock int

func ParseClock(value string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return Clock(hour*60 + minute), nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Plan is the subset of delivery settings slot computation depends on.
type Plan struct {
	WordsPerDay   int
	Mode          string
	CustomTimes   []string
	PreferredTime string
}

var autoOffsets = map[int][]Clock{
	1: {0},
	2: {0, 6 * 60},
	3: {0, 4 * 60, 8 * 60},
	4: {0, 3 * 60, 6 * 60, 9 * 60},
	5: {0, 2 * 60, 4 * 60, 6 * 60, 8 * 60},
}

var fixedTimes = map[int][]Clock{
	1: {10 * 60},
	2: {10 * 60, 18 * 60},
	3: {10 * 60, 14 * 60, 18 * 60},
	4: {9 * 60, 12 * 60, 15 * 60, 18 * 60},
	5: {9 * 60, 11 * 60, 13 * 60, 15 * 60, 17 * 60},
}

// ClampCount keeps a words-per-day value inside the supported range.
func ClampCount(n int) int {
	if n < MinCount {
		return MinCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

// LocalTimes returns the ordered local times of day for the plan.
func LocalTimes(plan Plan) []Clock {
	n := ClampCount(plan.WordsPerDay)

	if strings.EqualFold(plan.Mode, ModeCustom) {
		if times := customTimes(plan.CustomTimes, n); len(times) > 0 {
			return times
		}
	}

	if preferred, err := ParseClock(plan.PreferredTime); err == nil {
		return spacedFrom(preferred, n)
	}

	out := make([]Clock, n)
	copy(out, fixedTimes[n])
	return out
}

// spacedFrom keeps start as the first slot. When the offsets would run past
// midnight the remaining slots are spread evenly over what is left of the day.
func spacedFrom(start Clock, n int) []Clock {
	offsets := autoOffsets[n]
	out := make([]Clock, n)
	if start+offsets[len(offsets)-1] <= lastMinute {
		for i, offset := range offsets {
			out[i] = start + offset
		}
		return out
	}

	// Too late for even one-minute steps: end the day on the last minute.
	if room := lastMinute - start; int(room) < n-1 {
		start = lastMinute - Clock(n-1)
	}
	step := (lastMinute - start) / Clock(n-1)
	for i := range out {
		out[i] = start + Clock(i)*step
	}
	return out
}

func customTimes(values []string, n int) []Clock {
	seen := make(map[Clock]struct{}, len(values))
	var times []Clock
	for _, value := range values {
		c, err := ParseClock(value)
		if err != nil {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		times = append(times, c)
	}
	if len(times) == 0 {
		return nil
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	if len(times) > n {
		times = times[:n]
	}
	return pad(times, n)
}

// pad fills the list up to n with hourly steps after the last time, falling
// back to steps before the first one near midnight.
func pad(times []Clock, n int) []Clock {
	for len(times) < n {
		next := times[len(times)-1] + padStep
		if next < minutesPerDay {
			times = append(times, next)
			continue
		}
		prev := times[0] - padStep
		if prev < 0 {
			break
		}
		times = append([]Clock{prev}, times...)
	}
	return times
}

// LoadLocation resolves an IANA zone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

var ErrNoLocation = errors.New("location is required")

// Compute returns the plan's send instants on day's calendar date in loc,
// converted to UTC. Instants are strictly increasing; a slot that collapses
// onto its predecessor across a DST transition moves one minute later.
func Compute(plan Plan, day time.Time, loc *time.Location) ([]time.Time, error) {
	if loc == nil {
		return nil, ErrNoLocation
	}
	year, month, date := day.Date()
	locals := LocalTimes(plan)
	out := make([]time.Time, 0, len(locals))
	for _, c := range locals {
		instant := time.Date(year, month, date, c.Hour(), c.Minute(), 0, 0, loc).UTC()
		if len(out) > 0 {
			prev := out[len(out)-1]
			if !instant.After(prev) {
				instant = prev.Add(time.Minute)
			}
		}
		out = append(out, instant)
	}
	return out, nil
}
