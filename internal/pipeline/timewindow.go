package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/sells-group/insight-cli/internal/model"
)

const defaultWindowDays = 90

var (
	reTrailing    = regexp.MustCompile(`\b(?:past|last|previous|trailing)\s+(\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s+(day|week|month|quarter|year)s?\b`)
	reTrailingOne = regexp.MustCompile(`\b(?:past|trailing)\s+(day|week|month|quarter|year)\b`)
	reCalendar    = regexp.MustCompile(`\b(this|current|last|previous|prior)\s+(week|month|quarter|year)\b`)
	reYTD         = regexp.MustCompile(`\b(?:ytd|year to date|year-to-date)\b`)
	reToday       = regexp.MustCompile(`\btoday\b`)
	reYesterday   = regexp.MustCompile(`\byesterday\b`)
)

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

// DeriveTimeWindow maps a time phrase in text to a half-open window
// relative to now. The second return is false when no phrase was
// recognized and the trailing 90-day default was used.
func DeriveTimeWindow(text string, now time.Time) (model.TimeWindow, bool) {
	norm := model.NormalizeText(text)
	today := startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)

	switch {
	case reYTD.MatchString(norm):
		return model.TimeWindow{
			Start:       time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location()),
			End:         tomorrow,
			Granularity: model.GranularityMonth,
			Label:       "year to date",
		}, true
	case reYesterday.MatchString(norm):
		return model.TimeWindow{Start: today.AddDate(0, 0, -1), End: today, Granularity: model.GranularityDay, Label: "yesterday"}, true
	case reToday.MatchString(norm):
		return model.TimeWindow{Start: today, End: tomorrow, Granularity: model.GranularityDay, Label: "today"}, true
	}

	if m := reTrailing.FindStringSubmatch(norm); m != nil {
		n, ok := numberWords[m[1]]
		if !ok {
			n, _ = strconv.Atoi(m[1])
		}
		if n > 0 {
			return trailingWindow(n, m[2], tomorrow), true
		}
	}
	if m := reTrailingOne.FindStringSubmatch(norm); m != nil {
		return trailingWindow(1, m[1], tomorrow), true
	}
	if m := reCalendar.FindStringSubmatch(norm); m != nil {
		offset := 0
		if m[1] == "last" || m[1] == "previous" || m[1] == "prior" {
			offset = -1
		}
		return calendarWindow(m[2], offset, now), true
	}

	return DefaultTimeWindow(now), false
}

// DefaultTimeWindow is the trailing 90 days ending today, by day.
func DefaultTimeWindow(now time.Time) model.TimeWindow {
	end := startOfDay(now).AddDate(0, 0, 1)
	return model.TimeWindow{
		Start:       end.AddDate(0, 0, -defaultWindowDays),
		End:         end,
		Granularity: model.GranularityDay,
		Label:       fmt.Sprintf("last %d days", defaultWindowDays),
		Defaulted:   true,
	}
}

func trailingWindow(n int, unit string, end time.Time) model.TimeWindow {
	var start time.Time
	g := model.Granularity(unit)
	switch unit {
	case "day":
		start = end.AddDate(0, 0, -n)
	case "week":
		start = end.AddDate(0, 0, -7*n)
	case "month":
		start = end.AddDate(0, -n, 0)
	case "quarter":
		start = end.AddDate(0, -3*n, 0)
		g = model.GranularityMonth
	default:
		start = end.AddDate(-n, 0, 0)
		g = model.GranularityMonth
	}
	label := fmt.Sprintf("past %d %ss", n, unit)
	if n == 1 {
		label = "past " + unit
	}
	return model.TimeWindow{Start: start, End: end, Granularity: g, Label: label}
}

// calendarWindow returns the full calendar period containing now, shifted
// by offset periods.
func calendarWindow(unit string, offset int, now time.Time) model.TimeWindow {
	loc := now.Location()
	prefix := "this "
	if offset < 0 {
		prefix = "last "
	}

	switch unit {
	case "week":
		day := startOfDay(now)
		// Weeks start on Monday.
		back := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -back+7*offset)
		return model.TimeWindow{Start: start, End: start.AddDate(0, 0, 7), Granularity: model.GranularityDay, Label: prefix + "week"}
	case "month":
		start := time.Date(now.Year(), now.Month()+time.Month(offset), 1, 0, 0, 0, 0, loc)
		return model.TimeWindow{Start: start, End: start.AddDate(0, 1, 0), Granularity: model.GranularityDay, Label: prefix + "month"}
	case "quarter":
		q := (int(now.Month()) - 1) / 3
		start := time.Date(now.Year(), time.Month(q*3+1+3*offset), 1, 0, 0, 0, 0, loc)
		return model.TimeWindow{
			Start:       start,
			End:         start.AddDate(0, 3, 0),
			Granularity: model.GranularityMonth,
			Label:       fmt.Sprintf("%squarter (Q%d %d)", prefix, (int(start.Month())-1)/3+1, start.Year()),
		}
	default:
		start := time.Date(now.Year()+offset, time.January, 1, 0, 0, 0, 0, loc)
		return model.TimeWindow{Start: start, End: start.AddDate(1, 0, 0), Granularity: model.GranularityMonth, Label: prefix + "year"}
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
