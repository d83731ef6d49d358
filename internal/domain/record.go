package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Meta holds the fields every container record carries.
type Meta struct {
	ChatID    string   `json:"chat_id"`
	Date      string   `json:"date"`
	Notes     *string  `json:"notes"`
	Estimated []string `json:"estimated_fields,omitempty"`
}

// MarkEstimated records that field holds an estimated rather than user-supplied value.
func (m *Meta) MarkEstimated(field string) {
	if !slices.Contains(m.Estimated, field) {
		m.Estimated = append(m.Estimated, field)
	}
}

// Record is the tagged variant over the container record shapes. The concrete
// types are *FoodRecord, *SleepRecord and *ExerciseRecord.
type Record interface {
	Container() Container
	Header() *Meta
	// Columns lists every stored field in schema order. A nil Value is an explicit null.
	Columns() []Column
}

// Column is one named record field. Value is nil, float64, int, string or []string.
type Column struct {
	Name  string
	Value any
}

// IsNull reports whether the column holds an explicit null.
func (c Column) IsNull() bool { return c.Value == nil }

// String renders the value for user-facing summaries.
func (c Column) String() string {
	switch v := c.Value.(type) {
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// FoodRecord is a single meal.
type FoodRecord struct {
	Meta
	MealName *string  `json:"meal_name"`
	Calories *float64 `json:"calories"`
	ProteinG *float64 `json:"protein_g"`
	CarbsG   *float64 `json:"carbs_g"`
	FatG     *float64 `json:"fat_g"`
	FiberG   *float64 `json:"fiber_g"`
}

func (r *FoodRecord) Container() Container { return ContainerFood }
func (r *FoodRecord) Header() *Meta        { return &r.Meta }

func (r *FoodRecord) Columns() []Column {
	return []Column{
		strCol("meal_name", r.MealName),
		floatCol("calories", r.Calories),
		floatCol("protein_g", r.ProteinG),
		floatCol("carbs_g", r.CarbsG),
		floatCol("fat_g", r.FatG),
		floatCol("fiber_g", r.FiberG),
		strCol("notes", r.Notes),
	}
}

// MacrosEmpty reports whether every macro field, calories included, is null.
func (r *FoodRecord) MacrosEmpty() bool {
	return r.Calories == nil && r.ProteinG == nil && r.CarbsG == nil && r.FatG == nil && r.FiberG == nil
}

// Macros is a set of nutrition values, any of which may be unknown.
type Macros struct {
	Calories *float64 `json:"calories"`
	ProteinG *float64 `json:"protein_g"`
	CarbsG   *float64 `json:"carbs_g"`
	FatG     *float64 `json:"fat_g"`
	FiberG   *float64 `json:"fiber_g"`
}

// ApplyEstimate fills null macro fields from m and marks each filled field as
// estimated. Fields the user supplied are never overwritten.
func (r *FoodRecord) ApplyEstimate(m Macros) []string {
	var filled []string
	apply := func(name string, dst **float64, v *float64) {
		if *dst != nil || v == nil {
			return
		}
		val := *v
		*dst = &val
		r.MarkEstimated(name)
		filled = append(filled, name)
	}
	apply("calories", &r.Calories, m.Calories)
	apply("protein_g", &r.ProteinG, m.ProteinG)
	apply("carbs_g", &r.CarbsG, m.CarbsG)
	apply("fat_g", &r.FatG, m.FatG)
	apply("fiber_g", &r.FiberG, m.FiberG)
	return filled
}

// SleepRecord is one night of sleep. SleepStart and SleepEnd are HH:MM in 24h time.
type SleepRecord struct {
	Meta
	SleepScore  *int     `json:"sleep_score"`
	EnergyScore *int     `json:"energy_score"`
	DurationHr  *float64 `json:"duration_hr"`
	RestingHr   *int     `json:"resting_hr"`
	SleepStart  *string  `json:"sleep_start"`
	SleepEnd    *string  `json:"sleep_end"`
}

func (r *SleepRecord) Container() Container { return ContainerSleep }
func (r *SleepRecord) Header() *Meta        { return &r.Meta }

func (r *SleepRecord) Columns() []Column {
	return []Column{
		intCol("sleep_score", r.SleepScore),
		intCol("energy_score", r.EnergyScore),
		floatCol("duration_hr", r.DurationHr),
		intCol("resting_hr", r.RestingHr),
		strCol("sleep_start", r.SleepStart),
		strCol("sleep_end", r.SleepEnd),
		strCol("notes", r.Notes),
	}
}

// ExerciseRecord is one workout.
type ExerciseRecord struct {
	Meta
	WorkoutName        *string  `json:"workout_name"`
	DistanceKm         *float64 `json:"distance_km"`
	DurationMin        *float64 `json:"duration_min"`
	CaloriesBurned     *int     `json:"calories_burned"`
	TrainingIntensity  *int     `json:"training_intensity"`
	AvgHr              *int     `json:"avg_hr"`
	MaxHr              *int     `json:"max_hr"`
	TrainingType       *string  `json:"training_type"`
	PerceivedIntensity *int     `json:"perceived_intensity"`
	EffortDescription  *string  `json:"effort_description"`
	Tags               []string `json:"tags"`
}

func (r *ExerciseRecord) Container() Container { return ContainerExercise }
func (r *ExerciseRecord) Header() *Meta        { return &r.Meta }

func (r *ExerciseRecord) Columns() []Column {
	tags := Column{Name: "tags"}
	if len(r.Tags) > 0 {
		tags.Value = slices.Clone(r.Tags)
	}
	return []Column{
		strCol("workout_name", r.WorkoutName),
		floatCol("distance_km", r.DistanceKm),
		floatCol("duration_min", r.DurationMin),
		intCol("calories_burned", r.CaloriesBurned),
		intCol("training_intensity", r.TrainingIntensity),
		intCol("avg_hr", r.AvgHr),
		intCol("max_hr", r.MaxHr),
		strCol("training_type", r.TrainingType),
		intCol("perceived_intensity", r.PerceivedIntensity),
		strCol("effort_description", r.EffortDescription),
		tags,
		strCol("notes", r.Notes),
	}
}

// NewRecord returns an all-null record for c. It returns nil for containers
// without a record shape.
func NewRecord(c Container, chatID, date string) Record {
	meta := Meta{ChatID: chatID, Date: date}
	switch c {
	case ContainerFood:
		return &FoodRecord{Meta: meta}
	case ContainerSleep:
		return &SleepRecord{Meta: meta}
	case ContainerExercise:
		return &ExerciseRecord{Meta: meta}
	}
	return nil
}

// DomainFieldCount counts non-null fields other than chat_id, date and notes.
func DomainFieldCount(r Record) int {
	n := 0
	for _, c := range r.Columns() {
		if c.Name != "notes" && !c.IsNull() {
			n++
		}
	}
	return n
}

// Float, Int and String return pointers for literal field values.
func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }
func String(v string) *string  { return &v }

func strCol(name string, v *string) Column {
	if v == nil {
		return Column{Name: name}
	}
	return Column{Name: name, Value: *v}
}

func floatCol(name string, v *float64) Column {
	if v == nil {
		return Column{Name: name}
	}
	return Column{Name: name, Value: *v}
}

func intCol(name string, v *int) Column {
	if v == nil {
		return Column{Name: name}
	}
	return Column{Name: name, Value: *v}
}
