package llm

import "context"

// CompletionClient is the interface for the optional remote completion service.
// Every prompt is a single user turn; the response text is expected to be bare
// JSON because every prompt asks for JSON only.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Provider() string
	GetModel() string
}
