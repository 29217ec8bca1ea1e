package format

import (
    "context"
    "errors"
    "fmt"
)

// Request is one chat completion call.
type Request struct {
    Model        string
    SystemPrompt string
    UserPrompt   string
    Temperature  float64
    MaxTokens    int
}

type Response struct {
    Text      string
    TokensIn  int
    TokensOut int
}

// Client is a formatting backend (OpenAI-compatible, Anthropic).
type Client interface {
    Name() string
    Model() string
    Do(ctx context.Context, req Request) (Response, error)
}

var (
    ErrRateLimited = errors.New("rate_limited")
    ErrNoContent   = errors.New("no content in response")
    ErrMissingKey  = errors.New("missing api key")
)

// HTTPError represents a non-success status from a backend.
type HTTPError struct {
    StatusCode int
    Body       string
    Provider   string
}

func (e *HTTPError) Error() string {
    return fmt.Sprintf("HTTP %d from %s: %s", e.StatusCode, e.Provider, e.Body)
}

func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }
