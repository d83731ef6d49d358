package domain

import "time"

// DateLayout is the stored calendar date format.
const DateLayout = "2006-01-02"

// LocalDate returns the calendar date of ts in loc. A zero ts means now.
func LocalDate(ts time.Time, loc *time.Location) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	if loc == nil {
		loc = time.UTC
	}
	return ts.In(loc).Format(DateLayout)
}

// ValidDate reports whether s is a real calendar date in DateLayout.
func ValidDate(s string) bool {
	t, err := time.Parse(DateLayout, s)
	return err == nil && t.Format(DateLayout) == s
}
