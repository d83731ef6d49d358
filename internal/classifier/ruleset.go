package classifier

import (
	"regexp"
	"slices"
	"strings"

	"yaha-bot/internal/domain"
)

// RulesetVersion identifies the lexical signatures below. Bump it whenever a
// signal or weight changes.
const RulesetVersion = "lexical-v1"

// strongScore is the score a container needs before it counts as a match.
const strongScore = 1.0

type signal struct {
	pattern *regexp.Regexp
	weight  float64
	// unless suppresses the signal when it also matches.
	unless *regexp.Regexp
}

// word matches expr as a whole word. A leading digit counts as a boundary so
// "520kcal" and "5km" match.
func word(expr string, weight float64) signal {
	return signal{pattern: regexp.MustCompile(`(?:\b|\d)(?:` + expr + `)\b`), weight: weight}
}

var burned = regexp.MustCompile(`\bburn(?:ed|t|ing)?\b`)

var signatures = map[domain.Container][]signal{
	domain.ContainerFood: {
		word(`kcal|cal`, 1),
		{pattern: regexp.MustCompile(`\bcalories?\b`), weight: 1, unless: burned},
		word(`protein|carbs?|fat|fib(?:er|re)|macros?`, 1),
		word(`ate|eaten|eat|eating|meal|snack(?:ed)?`, 1),
		word(`oats|oatmeal|porridge|wrap|sandwich|salad|rice|pasta|chicken|eggs?|yogh?urt|shake|smoothie|banana|toast`, 1),
		// Meal names often just say when something happened.
		word(`breakfast|lunch|dinner|brunch|supper`, 0.5),
		{pattern: regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s?g\b`), weight: 0.5},
	},
	domain.ContainerSleep: {
		word(`slept|sleep|sleeping|asleep|nap|napped|insomnia`, 1),
		word(`bed|bedtime|woke|wake|awake|waking`, 1),
		word(`sleep score|energy score|energy`, 1),
		word(`resting (?:hr|heart rate)|rhr`, 1),
		word(`tired|rested|groggy`, 0.5),
	},
	domain.ContainerExercise: {
		word(`run|ran|running|jog|jogged|jogging|walk|walked|walking|hike|hiked|swim|swam|cycled|cycling|bike|biked|ride|rode`, 1),
		word(`km|kms|miles?|pace|steps`, 1),
		word(`workout|gym|training|trained|cardio|strength|lift|lifted|lifting|squats?|yoga|hiit|pilates|reps`, 1),
		word(`avg hr|average hr|max hr|heart rate zone`, 1),
		{pattern: burned, weight: 1},
	},
}

// Lexical scores text against the signatures. It is deterministic for a given
// RulesetVersion.
func Lexical(text string, threshold float64) domain.ClassificationResult {
	res, _ := lexical(text, threshold)
	return res
}

// lexical also returns how many containers reached strongScore.
func lexical(text string, threshold float64) (domain.ClassificationResult, int) {
	res := domain.ClassificationResult{
		Container:      domain.ContainerUnknown,
		Ambiguous:      true,
		RulesetVersion: RulesetVersion,
	}
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if normalized == "" {
		return res, 0
	}

	scores := make(map[domain.Container]float64, len(signatures))
	total := 0.0
	for _, c := range domain.StorableContainers {
		for _, s := range signatures[c] {
			if !s.pattern.MatchString(normalized) {
				continue
			}
			if s.unless != nil && s.unless.MatchString(normalized) {
				continue
			}
			scores[c] += s.weight
		}
		total += scores[c]
	}
	if total == 0 {
		return res, 0
	}

	var strong, weak []domain.Container
	for _, c := range domain.StorableContainers {
		switch {
		case scores[c] >= strongScore:
			strong = append(strong, c)
		case scores[c] > 0:
			weak = append(weak, c)
		}
	}
	byScore := func(cs []domain.Container) []domain.Container {
		slices.SortStableFunc(cs, func(a, b domain.Container) int {
			switch {
			case scores[a] > scores[b]:
				return -1
			case scores[a] < scores[b]:
				return 1
			}
			return 0
		})
		return cs
	}

	if len(strong) == 1 {
		confidence := scores[strong[0]] / total
		if confidence >= threshold {
			res.Container = strong[0]
			res.Confidence = confidence
			res.Ambiguous = false
			return res, 1
		}
		res.Confidence = confidence
		res.Candidates = byScore(append(strong, weak...))
		return res, 1
	}
	if len(strong) > 1 {
		res.Candidates = byScore(strong)
	} else {
		res.Candidates = byScore(weak)
	}
	res.Confidence = scores[res.Candidates[0]] / total
	return res, len(strong)
}
