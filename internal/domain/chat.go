package domain

import "encoding/json"

// ChatMessage is the provider-agnostic chat message shape sent to the
// reasoning service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseSchema names a strict JSON schema the reasoning service must answer with.
type ResponseSchema struct {
	Name   string
	Schema json.RawMessage
}
