package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var serviceLevelPattern = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ServiceLevel is a parsed ISO-8601 duration split into whole days and a
// sub-day remainder, so weekend skipping can work on days.
type ServiceLevel struct {
	Days int
	Rest time.Duration
}

// ParseServiceLevel parses durations such as P2D, PT8H, P1W or P1DT4H30M.
func ParseServiceLevel(s string) (ServiceLevel, error) {
	m := serviceLevelPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" || s[len(s)-1] == 'T' {
		return ServiceLevel{}, fmt.Errorf("invalid service level %q", s)
	}
	num := func(v string) int {
		if v == "" {
			return 0
		}
		n, _ := strconv.Atoi(v)
		return n
	}
	return ServiceLevel{
		Days: num(m[1])*7 + num(m[2]),
		Rest: time.Duration(num(m[3]))*time.Hour + time.Duration(num(m[4]))*time.Minute + time.Duration(num(m[5]))*time.Second,
	}, nil
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// addDays moves t by n days (n may be negative). With skipWeekends, Saturdays
// and Sundays are not counted and a result never lands on one.
func addDays(t time.Time, n int, skipWeekends bool) time.Time {
	if !skipWeekends {
		return t.AddDate(0, 0, n)
	}
	step := 1
	if n < 0 {
		step, n = -1, -n
	}
	for n > 0 {
		t = t.AddDate(0, 0, step)
		if !isWeekend(t) {
			n--
		}
	}
	for isWeekend(t) {
		t = t.AddDate(0, 0, step)
	}
	return t
}

// DueFrom computes the due date of a task planned at planned.
func (sl ServiceLevel) DueFrom(planned time.Time, skipWeekends bool) time.Time {
	return addDays(planned, sl.Days, skipWeekends).Add(sl.Rest)
}

// PlannedFrom computes the planned date of a task due at due.
func (sl ServiceLevel) PlannedFrom(due time.Time, skipWeekends bool) time.Time {
	return addDays(due.Add(-sl.Rest), -sl.Days, skipWeekends)
}
