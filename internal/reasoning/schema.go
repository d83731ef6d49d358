package reasoning

import (
	"encoding/json"

	"yaha-bot/internal/domain"
)

type fieldKind string

const (
	kindString  fieldKind = "string"
	kindNumber  fieldKind = "number"
	kindInteger fieldKind = "integer"
	kindTags    fieldKind = "array of strings"
)

type field struct {
	name string
	kind fieldKind
}

// recordFields is the wire shape the reasoning service must return per
// container. chat_id and date never come from the model.
var recordFields = map[domain.Container][]field{
	domain.ContainerFood: {
		{"meal_name", kindString},
		{"calories", kindNumber},
		{"protein_g", kindNumber},
		{"carbs_g", kindNumber},
		{"fat_g", kindNumber},
		{"fiber_g", kindNumber},
		{"notes", kindString},
	},
	domain.ContainerSleep: {
		{"sleep_score", kindInteger},
		{"energy_score", kindInteger},
		{"duration_hr", kindNumber},
		{"resting_hr", kindInteger},
		{"sleep_start", kindString},
		{"sleep_end", kindString},
		{"notes", kindString},
	},
	domain.ContainerExercise: {
		{"workout_name", kindString},
		{"distance_km", kindNumber},
		{"duration_min", kindNumber},
		{"calories_burned", kindInteger},
		{"training_intensity", kindInteger},
		{"avg_hr", kindInteger},
		{"max_hr", kindInteger},
		{"training_type", kindString},
		{"perceived_intensity", kindInteger},
		{"effort_description", kindString},
		{"tags", kindTags},
		{"notes", kindString},
	},
}

var macroFields = []field{
	{"calories", kindNumber},
	{"protein_g", kindNumber},
	{"carbs_g", kindNumber},
	{"fat_g", kindNumber},
	{"fiber_g", kindNumber},
}

func propertySchema(k fieldKind) map[string]any {
	if k == kindTags {
		return map[string]any{
			"type":  []string{"array", "null"},
			"items": map[string]any{"type": "string"},
		}
	}
	return map[string]any{"type": []string{string(k), "null"}}
}

func objectSchema(name string, fields []field) *domain.ResponseSchema {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.name] = propertySchema(f.kind)
		required = append(required, f.name)
	}
	return mustSchema(name, map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	})
}

func verdictSchema() *domain.ResponseSchema {
	containers := []string{"food", "sleep", "exercise", "unknown"}
	return mustSchema("container_verdict", map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"container":  map[string]any{"type": "string", "enum": containers},
			"confidence": map[string]any{"type": "number"},
			"ambiguous":  map[string]any{"type": "boolean"},
			"candidates": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": containers[:3]},
			},
		},
		"required": []string{"container", "confidence", "ambiguous", "candidates"},
	})
}

func mustSchema(name string, v map[string]any) *domain.ResponseSchema {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("reasoning: marshal schema " + name + ": " + err.Error())
	}
	return &domain.ResponseSchema{Name: name, Schema: raw}
}
