package view

import "time"

// DayGroup is one calendar day's worth of messages, for rendering date
// separators in a conversation.
type DayGroup struct {
	Day     time.Time
	Label   string
	Entries []Entry
}

// GroupByDay splits an ordered entry list into per-day buckets. Input order is
// preserved; days are labelled relative to now ("today", "yesterday", else the
// ISO date).
func GroupByDay(entries []Entry, now time.Time) []DayGroup {
	groups := make([]DayGroup, 0)
	for _, entry := range entries {
		day := truncateToDay(entry.CreatedAt.In(now.Location()))
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Entries = append(groups[n-1].Entries, entry)
			continue
		}
		groups = append(groups, DayGroup{
			Day:     day,
			Label:   dayLabel(day, now),
			Entries: []Entry{entry},
		})
	}
	return groups
}

func dayLabel(day, now time.Time) string {
	today := truncateToDay(now)
	switch {
	case day.Equal(today):
		return "today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "yesterday"
	default:
		return day.Format("2006-01-02")
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
