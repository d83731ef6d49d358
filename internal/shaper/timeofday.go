package shaper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// timeExpr matches a clock time that cannot be confused with a bare number:
// it needs minutes, an am/pm suffix or a word.
const timeExpr = `\d{1,2}:\d{2}\s?(?:am|pm)?|\d{1,2}\s?(?:am|pm)|midnight|noon`

var clockRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s?(am|pm)?$`)

// ParseTimeOfDay converts "6am", "11pm", "23:30", "7:05 pm", "midnight" or
// "noon" to 24h HH:MM. It reports false for anything else.
func ParseTimeOfDay(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "midnight":
		return "00:00", true
	case "noon":
		return "12:00", true
	}
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
		if m[3] == "pm" {
			hour += 12
		}
	default:
		if m[2] == "" {
			return "", false
		}
	}
	if hour > 23 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}
