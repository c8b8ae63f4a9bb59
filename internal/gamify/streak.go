package gamify

import (
	"sort"
	"time"
)

// DateLayout is the calendar date format used for activity and check-in
// dates.
const DateLayout = "2006-01-02"

// DateOf formats the calendar date of t in loc.
func DateOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// Streak holds the derived day streaks.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// DeriveStreak computes streaks from the calendar dates on which activity
// happened. Dates may repeat and come in any order; unparseable entries are
// ignored. The current streak only counts if its most recent day is today
// or yesterday.
func DeriveStreak(dates []string, today string) Streak {
	days := distinctDays(dates)
	if len(days) == 0 {
		return Streak{}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(days)))

	var s Streak
	run := 1
	for i := 1; i < len(days); i++ {
		if days[i-1]-days[i] == 1 {
			run++
			continue
		}
		s.Longest = max(s.Longest, run)
		run = 1
	}
	s.Longest = max(s.Longest, run)

	todayNum, ok := dayNumber(today)
	if !ok || (days[0] != todayNum && days[0] != todayNum-1) {
		return s
	}
	s.Current = 1
	for i := 1; i < len(days) && days[i-1]-days[i] == 1; i++ {
		s.Current++
	}
	return s
}

func distinctDays(dates []string) []int {
	seen := make(map[int]bool, len(dates))
	days := make([]int, 0, len(dates))
	for _, d := range dates {
		n, ok := dayNumber(d)
		if !ok || seen[n] {
			continue
		}
		seen[n] = true
		days = append(days, n)
	}
	return days
}

// dayNumber converts a calendar date into days since the Unix epoch.
func dayNumber(date string) (int, bool) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return 0, false
	}
	return int(t.Unix() / 86400), true
}
