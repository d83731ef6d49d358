package domain

import "time"

// InputKind identifies how a message reached the bot.
type InputKind string

const (
	KindText  InputKind = "text"
	KindImage InputKind = "image"
	KindAudio InputKind = "audio"
	KindFile  InputKind = "file"
)

// Valid reports whether k is a known input kind.
func (k InputKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindFile:
		return true
	}
	return false
}

// MediaRef points at bytes an extraction adapter knows how to resolve.
type MediaRef struct {
	Kind InputKind `json:"kind"`
	Ref  string    `json:"ref"`
}

// RawInput is one inbound message. It is never mutated after ingress.
type RawInput struct {
	ChatID    string     `json:"chat_id"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      InputKind  `json:"kind"`
	Text      string     `json:"text,omitempty"`
	Media     []MediaRef `json:"media,omitempty"`
}

// ExtractionResult is the best-effort text an adapter produced for one MediaRef.
type ExtractionResult struct {
	SourceKind InputKind `json:"source_kind"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Error      string    `json:"error,omitempty"`
}

// Usable reports whether the result carries text worth classifying.
func (r ExtractionResult) Usable() bool {
	return r.Error == "" && r.Text != ""
}
