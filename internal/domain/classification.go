package domain

// ClassificationResult is the classifier verdict for one block of text.
type ClassificationResult struct {
	Container      Container   `json:"container"`
	Confidence     float64     `json:"confidence"`
	Ambiguous      bool        `json:"ambiguous"`
	Candidates     []Container `json:"candidate_containers,omitempty"`
	RulesetVersion string      `json:"ruleset_version"`
}

// Unclassifiable reports an ambiguous verdict with no candidate container. Such
// input is filed under unknown instead of being negotiated.
func (r ClassificationResult) Unclassifiable() bool {
	return r.Ambiguous && len(r.Candidates) == 0
}
