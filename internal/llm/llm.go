package llm

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationParams are the sampling settings sent alongside the messages of a
// completion request.
type GenerationParams struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Stop             []string
}

func DefaultParams() GenerationParams {
	return GenerationParams{
		Model:       "llama-3.2-1b-instruct",
		MaxTokens:   2000,
		Temperature: 0.7,
		TopP:        0.95,
	}
}

// CompletionRequest is encoded once per call; retries resend the same bytes.
type CompletionRequest struct {
	Messages []ChatMessage
	Params   GenerationParams
}

var (
	ErrTransport         = errors.New("llm transport failure")
	ErrMalformedResponse = errors.New("llm malformed response")
	ErrRetryExhausted    = errors.New("llm retries exhausted")
)

// Observer receives client lifecycle events. Implementations must be safe for
// concurrent use.
type Observer interface {
	// AttemptFailed is called for every failed attempt. delay is zero when no
	// retry follows.
	AttemptFailed(attempt int, delay time.Duration, err error)
	Exhausted(attempts int, err error)
	RatingForced(field Field, appended bool)
}

// Completer is the capability the analyzers need from a transport.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
