package reasoning

import (
	"fmt"
	"strings"

	"yaha-bot/internal/domain"
)

func classifyMessages(text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildClassifyPrompt()},
		{Role: "user", Content: normalizePromptInput(text)},
	}
}

func shapeMessages(text string, c domain.Container) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildShapePrompt(c)},
		{Role: "user", Content: strings.TrimSpace(text)},
	}
}

func estimateMessages(description string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: buildEstimatePrompt()},
		{Role: "user", Content: normalizePromptInput(description)},
	}
}

func buildClassifyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You sort personal health log messages into containers.",
		"",
		"Task:",
		"Decide which single container the message belongs to: food, sleep or exercise.",
		"",
		"Rules:",
		"1) Choose a container only when the message clearly describes a meal, a night of sleep or a workout.",
		"2) If the message fits two or more containers, set ambiguous=true and list every plausible container in candidates.",
		"3) If the message fits none, set ambiguous=true, container=\"unknown\" and candidates=[].",
		"4) Never pick a container to break a tie.",
		"",
		"Output Contract:",
		"Return JSON only with keys container (food|sleep|exercise|unknown), confidence (0..1), " +
			"ambiguous (boolean) and candidates (array of containers).",
	}, "\n")
}

func buildShapePrompt(c domain.Container) string {
	return strings.Join([]string{
		"Role:",
		"You convert a personal health log message into a " + c.String() + " record.",
		"",
		"Fields:",
		fieldList(c),
		"",
		"Rules:",
		"1) Copy only values the message states explicitly.",
		"2) Every field the message does not state is null. Never guess, default or write 0 for an unknown value.",
		"3) Durations in hours become decimal hours; workout durations become minutes.",
		"4) Times of day are HH:MM in 24 hour time.",
		"5) notes holds only text the user marked as a note.",
		"",
		"Output Contract:",
		"Return JSON only containing exactly the listed fields.",
	}, "\n")
}

func buildEstimatePrompt() string {
	return strings.Join([]string{
		"Role:",
		"You estimate nutrition for a described meal.",
		"",
		"Rules:",
		"1) Estimate calories, protein_g, carbs_g, fat_g and fiber_g for one typical serving.",
		"2) Use null for any value you cannot estimate with reasonable confidence.",
		"3) Values are non-negative numbers.",
		"",
		"Output Contract:",
		"Return JSON only with keys calories, protein_g, carbs_g, fat_g, fiber_g.",
	}, "\n")
}

func fieldList(c domain.Container) string {
	fields := recordFields[c]
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, fmt.Sprintf("- %s (%s or null)", f.name, f.kind))
	}
	return strings.Join(lines, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
