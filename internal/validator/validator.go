// Package validator enforces the per-container record invariants. Every
// rejection carries a code from a fixed set so the caller can turn it into a
// question rather than a dead end.
package validator

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"yaha-bot/internal/domain"
)

// Code identifies one invariant violation.
type Code string

const (
	CodeMissingChatID         Code = "missing_chat_id"
	CodeInvalidDate           Code = "invalid_date"
	CodeEmptyRecord           Code = "empty_record"
	CodeNegativeValue         Code = "negative_value"
	CodeOutOfRange            Code = "out_of_range"
	CodeInvalidTime           Code = "invalid_time"
	CodeSleepWindowAmbiguous  Code = "sleep_window_ambiguous"
	CodeHeartRateInconsistent Code = "hr_inconsistent"
	CodeUnsupportedContainer  Code = "unsupported_container"
)

// Rejection is one violated invariant on one field.
type Rejection struct {
	Code    Code   `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Rejected is returned when at least one invariant fails.
type Rejected struct {
	Container domain.Container
	Reasons   []Rejection
}

func (e *Rejected) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		if r.Field != "" {
			parts = append(parts, fmt.Sprintf("%s(%s)", r.Code, r.Field))
			continue
		}
		parts = append(parts, string(r.Code))
	}
	return fmt.Sprintf("validator: %s record rejected: %s", e.Container, strings.Join(parts, ", "))
}

// NextAction returns the question or instruction shown to the user for the
// first rejection.
func (e *Rejected) NextAction() string {
	if len(e.Reasons) == 0 {
		return ""
	}
	return nextActions[e.Reasons[0].Code]
}

var nextActions = map[Code]string{
	CodeMissingChatID:         "Send the entry again from your chat.",
	CodeInvalidDate:           "Tell me the date as YYYY-MM-DD.",
	CodeEmptyRecord:           "I couldn't find any values. Add at least one, for example \"520 kcal\" or \"slept 7h\".",
	CodeNegativeValue:         "Values like calories, distances, durations and heart rates can't be negative. Send the corrected value.",
	CodeOutOfRange:            "Scores go from 0 to 100 and intensities from 1 to 10. Send the corrected value.",
	CodeInvalidTime:           "Give times as HH:MM, for example 23:30.",
	CodeSleepWindowAmbiguous:  "Your sleep start and end don't line up. When did you fall asleep and wake up?",
	CodeHeartRateInconsistent: "Max heart rate is below the average. Which value is right?",
	CodeUnsupportedContainer:  "Tell me whether this is food, sleep or exercise.",
}

// Limits holds the tunable bounds. The zero value is not useful; use DefaultLimits.
type Limits struct {
	// MaxOvernightHours caps a sleep window that crosses midnight.
	MaxOvernightHours float64
	// DurationTolerance is how far duration_hr may disagree with the window, in hours.
	DurationTolerance float64
}

func DefaultLimits() Limits {
	return Limits{MaxOvernightHours: 16, DurationTolerance: 1.5}
}

type Validator struct {
	limits Limits
}

func New(l Limits) *Validator {
	d := DefaultLimits()
	if l.MaxOvernightHours <= 0 {
		l.MaxOvernightHours = d.MaxOvernightHours
	}
	if l.DurationTolerance <= 0 {
		l.DurationTolerance = d.DurationTolerance
	}
	return &Validator{limits: l}
}

// Validate returns nil or a *Rejected listing every violation found.
func (v *Validator) Validate(rec domain.Record) error {
	if rec == nil {
		return &Rejected{Container: domain.ContainerUnknown, Reasons: []Rejection{reject(CodeUnsupportedContainer, "", "no record")}}
	}
	var reasons []Rejection
	meta := rec.Header()
	if strings.TrimSpace(meta.ChatID) == "" {
		reasons = append(reasons, reject(CodeMissingChatID, "chat_id", "chat_id is empty"))
	}
	if !domain.ValidDate(meta.Date) {
		reasons = append(reasons, reject(CodeInvalidDate, "date", fmt.Sprintf("%q is not a calendar date", meta.Date)))
	}
	if domain.DomainFieldCount(rec) == 0 {
		reasons = append(reasons, reject(CodeEmptyRecord, "", "no domain field is set"))
	}

	switch r := rec.(type) {
	case *domain.FoodRecord:
		reasons = append(reasons, nonNegativeFloats(map[string]*float64{
			"calories": r.Calories, "protein_g": r.ProteinG, "carbs_g": r.CarbsG, "fat_g": r.FatG, "fiber_g": r.FiberG,
		})...)
	case *domain.SleepRecord:
		reasons = append(reasons, v.sleep(r)...)
	case *domain.ExerciseRecord:
		reasons = append(reasons, exercise(r)...)
	default:
		reasons = append(reasons, reject(CodeUnsupportedContainer, "", fmt.Sprintf("container %q", rec.Container())))
	}

	if len(reasons) == 0 {
		return nil
	}
	return &Rejected{Container: rec.Container(), Reasons: reasons}
}

func (v *Validator) sleep(r *domain.SleepRecord) []Rejection {
	reasons := nonNegativeFloats(map[string]*float64{"duration_hr": r.DurationHr})
	reasons = append(reasons, nonNegativeInts(map[string]*int{"resting_hr": r.RestingHr})...)
	reasons = append(reasons, inRange(0, 100, map[string]*int{"sleep_score": r.SleepScore, "energy_score": r.EnergyScore})...)
	if r.DurationHr != nil && *r.DurationHr > 24 {
		reasons = append(reasons, reject(CodeOutOfRange, "duration_hr", "more than 24 hours"))
	}

	start, okStart := minutesOf(r.SleepStart)
	end, okEnd := minutesOf(r.SleepEnd)
	if r.SleepStart != nil && !okStart {
		reasons = append(reasons, reject(CodeInvalidTime, "sleep_start", fmt.Sprintf("%q is not HH:MM", *r.SleepStart)))
	}
	if r.SleepEnd != nil && !okEnd {
		reasons = append(reasons, reject(CodeInvalidTime, "sleep_end", fmt.Sprintf("%q is not HH:MM", *r.SleepEnd)))
	}
	if okStart && okEnd && !v.windowConsistent(start, end, r.DurationHr) {
		reasons = append(reasons, reject(CodeSleepWindowAmbiguous, "sleep_end",
			fmt.Sprintf("window %s-%s needs clarification", *r.SleepStart, *r.SleepEnd)))
	}
	return reasons
}

// windowConsistent accepts start <= end, and start > end when it reads as a
// night crossing midnight: the wrapped span is within MaxOvernightHours and,
// if a duration is given, within DurationTolerance of it.
func (v *Validator) windowConsistent(start, end int, duration *float64) bool {
	span := end - start
	if span < 0 {
		span += 24 * 60
		if float64(span)/60 > v.limits.MaxOvernightHours {
			return false
		}
	}
	if duration == nil {
		return true
	}
	return math.Abs(float64(span)/60-*duration) <= v.limits.DurationTolerance
}

func exercise(r *domain.ExerciseRecord) []Rejection {
	reasons := nonNegativeFloats(map[string]*float64{"distance_km": r.DistanceKm, "duration_min": r.DurationMin})
	reasons = append(reasons, nonNegativeInts(map[string]*int{
		"calories_burned": r.CaloriesBurned, "avg_hr": r.AvgHr, "max_hr": r.MaxHr,
	})...)
	reasons = append(reasons, inRange(1, 10, map[string]*int{
		"training_intensity": r.TrainingIntensity, "perceived_intensity": r.PerceivedIntensity,
	})...)
	if r.AvgHr != nil && r.MaxHr != nil && *r.MaxHr < *r.AvgHr {
		reasons = append(reasons, reject(CodeHeartRateInconsistent, "max_hr", "max_hr is below avg_hr"))
	}
	return reasons
}

func reject(code Code, field, msg string) Rejection {
	return Rejection{Code: code, Field: field, Message: msg}
}

func nonNegativeFloats(fields map[string]*float64) []Rejection {
	var out []Rejection
	for _, name := range sortedKeys(fields) {
		if v := fields[name]; v != nil && (*v < 0 || math.IsNaN(*v)) {
			out = append(out, reject(CodeNegativeValue, name, fmt.Sprintf("%s is %v", name, *v)))
		}
	}
	return out
}

func nonNegativeInts(fields map[string]*int) []Rejection {
	var out []Rejection
	for _, name := range sortedKeys(fields) {
		if v := fields[name]; v != nil && *v < 0 {
			out = append(out, reject(CodeNegativeValue, name, fmt.Sprintf("%s is %d", name, *v)))
		}
	}
	return out
}

func inRange(lo, hi int, fields map[string]*int) []Rejection {
	var out []Rejection
	for _, name := range sortedKeys(fields) {
		if v := fields[name]; v != nil && (*v < lo || *v > hi) {
			out = append(out, reject(CodeOutOfRange, name, fmt.Sprintf("%s must be %d-%d, got %d", name, lo, hi, *v)))
		}
	}
	return out
}

func minutesOf(hhmm *string) (int, bool) {
	if hhmm == nil {
		return 0, false
	}
	s := *hhmm
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, errH := strconv.Atoi(s[:2])
	m, errM := strconv.Atoi(s[3:])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
