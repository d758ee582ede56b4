// Package timeparse turns a caller's free-text scheduling preference into a
// concrete candidate date and time. It is a best-effort heuristic: the
// reservation and booking logic never depends on it for correctness, only the
// conversational flow uses it to propose slots.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Candidate is the parsed preference. When no pattern matches, the fallback
// is 10:00 local on the next business day, with Matched* false so callers can
// tell a guess from a stated preference.
type Candidate struct {
	When        time.Time
	MatchedDate bool
	MatchedTime bool
}

var (
	clockRe  = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	clock24Re = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

	weekdays = map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
)

const fallbackHour = 10

// Parse extracts a candidate date/time from freeText relative to now.
func Parse(freeText string, now time.Time) Candidate {
	text := strings.ToLower(freeText)
	loc := now.Location()

	day, matchedDate := parseDay(text, now)
	hour, minute, matchedTime := parseClock(text)

	if !matchedDate {
		day = nextBusinessDay(now)
	}
	if !matchedTime {
		hour, minute = fallbackHour, 0
	}

	return Candidate{
		When:        time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc),
		MatchedDate: matchedDate,
		MatchedTime: matchedTime,
	}
}

func parseDay(text string, now time.Time) (time.Time, bool) {
	switch {
	case strings.Contains(text, "today"):
		return now, true
	case strings.Contains(text, "tomorrow"):
		return now.AddDate(0, 0, 1), true
	}

	for name, wd := range weekdays {
		if !strings.Contains(text, name) {
			continue
		}
		// "next monday" and a plain "monday" resolve the same way: the
		// nearest future occurrence, a full week out when said on that day.
		ahead := (int(wd) - int(now.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return now.AddDate(0, 0, ahead), true
	}

	if strings.Contains(text, "next week") {
		return now.AddDate(0, 0, 7), true
	}
	return time.Time{}, false
}

func parseClock(text string) (hour, minute int, ok bool) {
	if m := clockRe.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && hour < 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
		if hour <= 23 {
			return hour, minute, true
		}
	}

	if m := clock24Re.FindStringSubmatch(text); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		return hour, minute, true
	}

	switch {
	case strings.Contains(text, "noon"):
		return 12, 0, true
	case strings.Contains(text, "morning"):
		return 10, 0, true
	case strings.Contains(text, "afternoon"):
		return 14, 0, true
	case strings.Contains(text, "evening"):
		return 17, 0, true
	}
	return 0, 0, false
}

func nextBusinessDay(now time.Time) time.Time {
	d := now.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
