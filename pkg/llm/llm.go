// Package llm defines the narrow LLMAdapter capability the core depends on
// (spec.md §1: "complete(system, messages) -> text") and ships two concrete
// implementations external to the core's decision logic: an OpenAI-compatible
// HTTP adapter and a deterministic fake for tests. Grounded in the teacher's
// pkg/llm/client.go (Client interface shape) and pkg/llm/openai.go (HTTP
// wiring), narrowed to the single method the spec actually requires.
package llm

import "context"

// Message is one turn in a chat-style completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Adapter is the capability Observer/Reflector consume. Implementations must
// not perform network I/O outside their configured endpoint (spec.md §6).
type Adapter interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}
