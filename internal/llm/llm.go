// Package llm provides the client for hosted text-generation models.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the registry rejects the token.
	ErrUnauthorized = errors.New("token rejected by model registry")

	// ErrAccessDenied is returned when the token is valid but has not been
	// granted access to a gated model.
	ErrAccessDenied = errors.New("access to model denied")

	// ErrModelUnavailable is returned while the hosted model is loading or
	// the endpoint is overloaded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrNoCompletion is returned when the endpoint answers with an empty list.
	ErrNoCompletion = errors.New("no completion returned")
)

// GenerateOptions configures a single generation request.
type GenerateOptions struct {
	// MaxNewTokens limits the number of generated tokens.
	MaxNewTokens int

	// Temperature controls randomness in sampling.
	Temperature float64

	// DoSample enables sampling; when false decoding is greedy.
	DoSample bool
}

// Completion is one generated sequence.
type Completion struct {
	Text string
}

// Generator defines the interface for hosted text-generation models.
type Generator interface {
	// Generate sends the prompt to the model and blocks until every
	// requested completion has been produced or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]Completion, error)
}

// APIError carries a non-2xx answer from the inference endpoint.
type APIError struct {
	StatusCode int
	Message    string
	// Kind is one of the package sentinel errors when the status maps to one.
	Kind error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inference API error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}
