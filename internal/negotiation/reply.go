package negotiation

import (
	"strconv"
	"strings"

	"yaha-bot/internal/domain"
)

// Reply is what a user message means while a question is pending.
type Reply int

const (
	ReplyUnparseable Reply = iota
	ReplyContainer
	ReplyOther
	ReplyYes
	ReplyNo
	ReplyCancel
)

// OptionSomethingElse is the extra choice offered next to the candidates.
const OptionSomethingElse = "something else"

var (
	cancelWords = set("cancel", "stop", "abort", "/cancel")
	// Skip words are an explicit refusal.
	skipWords  = set("skip", "no", "none", "pass", "n", "nope", "nah", "keep", "keep as is", "keep as given", "no thanks")
	yesWords   = set("yes", "y", "yeah", "yep", "sure", "ok", "okay", "please", "estimate", "yes please", "go ahead")
	otherWords = set(OptionSomethingElse, "other", "none of these", "neither", "none", "skip", "pass")
)

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func normalize(text string) string {
	t := strings.ToLower(strings.Join(strings.Fields(text), " "))
	return strings.Trim(t, ".!?")
}

// ParseContainerChoice reads a reply to the container question. It accepts a
// container name or the 1-based number of a candidate.
func ParseContainerChoice(text string, candidates []domain.Container) (domain.Container, Reply) {
	t := normalize(text)
	switch {
	case cancelWords[t]:
		return "", ReplyCancel
	case otherWords[t]:
		return "", ReplyOther
	}
	if c, ok := domain.ParseContainer(t); ok && c.Storable() {
		return c, ReplyContainer
	}
	if n, err := strconv.Atoi(t); err == nil {
		switch {
		case n >= 1 && n <= len(candidates):
			return candidates[n-1], ReplyContainer
		case n == len(candidates)+1:
			return "", ReplyOther
		}
	}
	return "", ReplyUnparseable
}

// ParseConsent reads a reply to the macro estimation question.
func ParseConsent(text string) Reply {
	t := normalize(text)
	switch {
	case cancelWords[t]:
		return ReplyCancel
	case yesWords[t]:
		return ReplyYes
	case skipWords[t]:
		return ReplyNo
	}
	return ReplyUnparseable
}

// IsCancel reports whether text asks to drop the pending entry.
func IsCancel(text string) bool {
	return cancelWords[normalize(text)]
}
