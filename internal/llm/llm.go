package llm

import "context"

// Chatter is a single-turn chat completion. Implementations return the
// model's text output for a system prompt plus one user message.
type Chatter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}
