// Package llm abstracts the chat-completion service behind a narrow
// provider interface. The pipeline depends only on Provider; the
// OpenAI-compatible client lives in openai.go.
package llm

import (
	"context"
	"strings"
)

// Request describes one chat completion call.
type Request struct {
	// Model overrides the provider's default model when non-empty.
	Model string
	// System and User are the two messages sent.
	System string
	User   string
	// JSONMode requests response_format=json_object.
	JSONMode bool
}

// Provider issues chat completions and returns the raw model content.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// SupportsTemperature reports whether a model family accepts a
// non-default sampling temperature. Reasoning-model families reject
// anything but the default.
func SupportsTemperature(model string) bool {
	m := strings.ToLower(model)
	if strings.HasPrefix(m, "o1") || strings.Contains(m, "gpt-5") {
		return false
	}
	return true
}
