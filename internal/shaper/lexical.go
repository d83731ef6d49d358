package shaper

import (
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"yaha-bot/internal/domain"
)

// num captures a decimal number. A comma is only accepted as a thousands
// separator, as in "1,200".
const num = `(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`

var (
	notesRe = regexp.MustCompile(`(?is)\bnotes?\s*:\s*(.+)$`)

	caloriesRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + num + `\s?(?:kcal|cals?|calories)\b`),
		regexp.MustCompile(`(?i)\b(?:kcal|cals?|calories)\s*[:=]?\s*` + num + `\b`),
	}
	proteinRe = macroPatterns(`protein`)
	carbsRe   = macroPatterns(`carbs?|carbohydrates?`)
	fatRe     = macroPatterns(`fats?`)
	fiberRe   = macroPatterns(`fib(?:er|re)`)

	mealPrefixRe = regexp.MustCompile(`(?i)^(?:(?:i\s+)?(?:ate|had|eaten)\s+|(?:for\s+)?(?:breakfast|lunch|dinner|brunch|supper|snack)\s*[:\-]\s*)`)
	mealOnlyRe   = regexp.MustCompile(`(?i)^(?:for\s+)?(?:breakfast|lunch|dinner|brunch|supper|snack)$`)
	segmentRe    = regexp.MustCompile(`[,;\n]+`)
	groupedRe    = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})+\b`)

	// Minutes need a unit unless they follow the hours directly, as in "7h30".
	sleepDurationRe = regexp.MustCompile(`(?i)` + num + `\s?(?:hours?|hrs?|h)(?:\s*(?:and\s+)?(\d{1,2})\s?(?:m|mins?|minutes)\b|(\d{2})\b|\b)`)
	restingHrRe     = regexp.MustCompile(`(?i)\b(?:resting\s+(?:hr|heart\s*rate)|rhr)\s*(?:of|was|:|=)?\s*` + num)
	sleepScoreRe    = regexp.MustCompile(`(?i)\bsleep\s+score\s*(?:of|was|:|=)?\s*` + num)
	energyScoreRe   = regexp.MustCompile(`(?i)\benergy(?:\s+score)?\s*(?:of|was|:|=)?\s*` + num)
	sleepStartRe    = regexp.MustCompile(`(?i)\b(?:asleep|slept|sleep|bed|bedtime|lights\s+out)\s*(?:at|by|around|from|~)?\s*(` + timeExpr + `)`)
	sleepEndRe      = regexp.MustCompile(`(?i)\b(?:woke|wake|awake|got\s+up|up)\s*(?:up)?\s*(?:at|by|around|~)?\s*(` + timeExpr + `)`)
	sleepRangeRe    = regexp.MustCompile(`(?i)(` + timeExpr + `)\s*(?:-|–|to|until|till)\s*(` + timeExpr + `)`)

	distanceKmRe    = regexp.MustCompile(`(?i)` + num + `\s?(?:km|kms|kilomet(?:er|re)s?)\b`)
	distanceMilesRe = regexp.MustCompile(`(?i)` + num + `\s?(?:mi|miles?)\b`)
	distanceMRe     = regexp.MustCompile(`(?i)` + num + `\s?(?:m|metres?|meters?)\b`)
	hoursMinutesRe  = regexp.MustCompile(`(?i)` + num + `\s?(?:h|hrs?|hours?)\s*(?:and\s+)?(\d{1,2})\s?(?:m|mins?|minutes)\b`)
	minutesRe       = regexp.MustCompile(`(?i)` + num + `\s?(?:mins?|minutes)\b`)
	hoursRe         = regexp.MustCompile(`(?i)` + num + `\s?(?:h|hrs?|hours?)\b`)
	burnedRe        = []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + num + `\s?(?:kcal|cals?|calories)\b`),
		regexp.MustCompile(`(?i)\b(?:burned|burnt)\s*` + num + `\b`),
	}
	avgHrRe       = regexp.MustCompile(`(?i)\b(?:avg|average)\s*(?:hr|heart\s*rate)\s*(?:of|was|:|=)?\s*` + num)
	maxHrRe       = regexp.MustCompile(`(?i)\b(?:max|maximum|peak)\s*(?:hr|heart\s*rate)\s*(?:of|was|:|=)?\s*` + num)
	perceivedRe   = regexp.MustCompile(`(?i)\b(?:rpe|perceived(?:\s+(?:intensity|effort|exertion))?)\s*(?:of|was|:|=)?\s*` + num + `(?:\s*/\s*10)?`)
	intensityRe   = regexp.MustCompile(`(?i)\b(?:training\s+)?intensity\s*(?:of|was|:|=)?\s*` + num + `(?:\s*/\s*10)?`)
	trainingRe    = regexp.MustCompile(`(?i)\b(cardio|strength|hiit|mobility|endurance|flexibility)\b`)
	tagRe         = regexp.MustCompile(`#([\p{L}\p{N}_-]+)`)
	feltRe        = regexp.MustCompile(`(?i)\bfelt\s+([^,.;\n#]+)`)
	activityRe    = regexp.MustCompile(`(?i)\b(run|ran|running|jog|jogged|jogging|walk|walked|walking|hike|hiked|hiking|swim|swam|swimming|cycle|cycled|cycling|bike|biked|ride|rode|yoga|pilates|hiit|lifting|lifted|weights|rowing|rowed)\b`)
	activityNames = map[string]string{
		"run": "run", "ran": "run", "running": "run",
		"jog": "jog", "jogged": "jog", "jogging": "jog",
		"walk": "walk", "walked": "walk", "walking": "walk",
		"hike": "hike", "hiked": "hike", "hiking": "hike",
		"swim": "swim", "swam": "swim", "swimming": "swim",
		"cycle": "ride", "cycled": "ride", "cycling": "ride", "bike": "ride", "biked": "ride", "ride": "ride", "rode": "ride",
		"yoga": "yoga", "pilates": "pilates", "hiit": "hiit",
		"lifting": "weights", "lifted": "weights", "weights": "weights",
		"rowing": "row", "rowed": "row",
	}
)

func macroPatterns(name string) []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`(?i)` + num + `\s?g(?:rams?)?\s+(?:of\s+)?(?:` + name + `)\b`),
		regexp.MustCompile(`(?i)\b(?:` + name + `)\s*(?::|=)?\s*` + num + `\s?(?:g|grams?)?\b`),
	}
}

// match returns the submatches of the first match of re whose leading capture
// is a whole figure. "5" in "18,5g" or "1,2000" is part of a larger figure and
// is skipped.
func match(text string, re *regexp.Regexp) []string {
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if len(loc) > 3 && loc[2] >= 0 && partOfFigure(text, loc[2], loc[3]) {
			continue
		}
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		return m
	}
	return nil
}

func partOfFigure(text string, start, end int) bool {
	if start > 0 {
		prev := text[start-1]
		if isDigit(prev) || ((prev == '.' || prev == ',') && start > 1 && isDigit(text[start-2])) {
			return true
		}
	}
	return end+1 < len(text) && (text[end] == '.' || text[end] == ',') && isDigit(text[end+1])
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// firstMatch returns the first capture of the first pattern that matches.
func firstMatch(text string, patterns ...*regexp.Regexp) (string, bool) {
	for _, re := range patterns {
		if m := match(text, re); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func parseFloat(raw string) *float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// parseInt rejects fractional input so integer fields never hold a rounded value.
func parseInt(raw string) *int {
	v, err := strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return nil
	}
	return &v
}

func floatField(text string, patterns ...*regexp.Regexp) *float64 {
	raw, ok := firstMatch(text, patterns...)
	if !ok {
		return nil
	}
	return parseFloat(raw)
}

func intField(text string, patterns ...*regexp.Regexp) *int {
	raw, ok := firstMatch(text, patterns...)
	if !ok {
		return nil
	}
	return parseInt(raw)
}

func stringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// splitNotes separates an explicit "notes:" suffix from the text it ends.
func splitNotes(text string) (string, *string) {
	loc := notesRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}
	return text[:loc[0]], stringPtr(text[loc[2]:loc[3]])
}

func shapeLexical(text, description string, c domain.Container, meta domain.Meta) domain.Record {
	body, notes := splitNotes(text)
	meta.Notes = notes
	switch c {
	case domain.ContainerFood:
		if description == "" {
			description = body
		} else {
			description, _ = splitNotes(description)
		}
		return shapeFood(body, description, meta)
	case domain.ContainerSleep:
		return shapeSleep(body, meta)
	case domain.ContainerExercise:
		return shapeExercise(body, meta)
	}
	return nil
}

func shapeFood(text, description string, meta domain.Meta) *domain.FoodRecord {
	return &domain.FoodRecord{
		Meta:     meta,
		MealName: mealName(description),
		Calories: floatField(text, caloriesRe...),
		ProteinG: floatField(text, proteinRe...),
		CarbsG:   floatField(text, carbsRe...),
		FatG:     floatField(text, fatRe...),
		FiberG:   floatField(text, fiberRe...),
	}
}

// mealName keeps the description segments that carry no nutrition figure.
func mealName(description string) *string {
	figures := [][]*regexp.Regexp{caloriesRe, proteinRe, carbsRe, fatRe, fiberRe}
	description = groupedRe.ReplaceAllStringFunc(description, func(g string) string {
		return strings.ReplaceAll(g, ",", "")
	})
	var kept []string
	for _, seg := range segmentRe.Split(description, -1) {
		seg = strings.TrimSpace(mealPrefixRe.ReplaceAllString(strings.TrimSpace(seg), ""))
		if seg == "" || mealOnlyRe.MatchString(seg) {
			continue
		}
		hasFigure := false
		for _, patterns := range figures {
			if _, ok := firstMatch(seg, patterns...); ok {
				hasFigure = true
				break
			}
		}
		if !hasFigure {
			kept = append(kept, seg)
		}
	}
	return stringPtr(strings.Join(kept, ", "))
}

func shapeSleep(text string, meta domain.Meta) *domain.SleepRecord {
	rec := &domain.SleepRecord{
		Meta:        meta,
		SleepScore:  intField(text, sleepScoreRe),
		EnergyScore: intField(text, energyScoreRe),
		RestingHr:   intField(text, restingHrRe),
		DurationHr:  sleepDuration(text),
	}
	if m := sleepRangeRe.FindStringSubmatch(text); m != nil {
		start, okStart := ParseTimeOfDay(m[1])
		end, okEnd := ParseTimeOfDay(m[2])
		if okStart && okEnd {
			rec.SleepStart, rec.SleepEnd = &start, &end
			return rec
		}
	}
	if raw, ok := firstMatch(text, sleepStartRe); ok {
		if hhmm, ok := ParseTimeOfDay(raw); ok {
			rec.SleepStart = &hhmm
		}
	}
	if raw, ok := firstMatch(text, sleepEndRe); ok {
		if hhmm, ok := ParseTimeOfDay(raw); ok {
			rec.SleepEnd = &hhmm
		}
	}
	return rec
}

func sleepDuration(text string) *float64 {
	m := match(text, sleepDurationRe)
	if m == nil {
		return nil
	}
	return hoursAndMinutes(m[1], m[2]+m[3])
}

// hoursAndMinutes adds an optional whole-minute part to hours. Minutes above
// 59 make the value unreadable.
func hoursAndMinutes(rawHours, rawMinutes string) *float64 {
	hours := parseFloat(rawHours)
	if hours == nil || rawMinutes == "" {
		return hours
	}
	minutes, err := strconv.Atoi(rawMinutes)
	if err != nil || minutes > 59 {
		return nil
	}
	v := math.Round((*hours+float64(minutes)/60)*100) / 100
	return &v
}

func shapeExercise(text string, meta domain.Meta) *domain.ExerciseRecord {
	rec := &domain.ExerciseRecord{
		Meta:               meta,
		DistanceKm:         exerciseDistance(text),
		DurationMin:        exerciseDuration(text),
		CaloriesBurned:     intField(text, burnedRe...),
		AvgHr:              intField(text, avgHrRe),
		MaxHr:              intField(text, maxHrRe),
		PerceivedIntensity: intField(text, perceivedRe),
		// Strip perceived-intensity phrases so "perceived intensity 7" is not
		// also read as training intensity.
		TrainingIntensity: intField(perceivedRe.ReplaceAllString(text, " "), intensityRe),
	}
	if m := activityRe.FindStringSubmatch(text); m != nil {
		name := activityNames[strings.ToLower(m[1])]
		rec.WorkoutName = &name
	}
	if m := trainingRe.FindStringSubmatch(text); m != nil {
		rec.TrainingType = stringPtr(strings.ToLower(m[1]))
	}
	if m := feltRe.FindStringSubmatch(text); m != nil {
		rec.EffortDescription = stringPtr(m[1])
	}
	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if !slices.Contains(rec.Tags, tag) {
			rec.Tags = append(rec.Tags, tag)
		}
	}
	return rec
}

func exerciseDistance(text string) *float64 {
	if v := floatField(text, distanceKmRe); v != nil {
		return v
	}
	if miles := floatField(text, distanceMilesRe); miles != nil {
		km := math.Round(*miles*1.609344*100) / 100
		return &km
	}
	// "7h 30m" is a duration, not metres.
	metres := floatField(hoursMinutesRe.ReplaceAllString(text, " "), distanceMRe)
	if metres == nil {
		return nil
	}
	km := math.Round(*metres) / 1000
	return &km
}

// exerciseDuration reads "1h 20min" and "1h 20m" as one value, or sums a
// separate hours part and minutes part. A bare "m" is never minutes on its own.
func exerciseDuration(text string) *float64 {
	if m := match(text, hoursMinutesRe); m != nil {
		hours := parseFloat(m[1])
		minutes, err := strconv.Atoi(m[2])
		if hours == nil || err != nil || minutes > 59 {
			return nil
		}
		total := *hours*60 + float64(minutes)
		return &total
	}
	hours := floatField(text, hoursRe)
	minutes := floatField(text, minutesRe)
	if hours == nil && minutes == nil {
		return nil
	}
	total := 0.0
	if hours != nil {
		total += *hours * 60
	}
	if minutes != nil {
		total += *minutes
	}
	return &total
}
