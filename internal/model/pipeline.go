package model

import (
	"context"
	"time"

	"github.com/knoguchi/uigen/internal/llm"
	"github.com/knoguchi/uigen/internal/registry"
)

// Pipeline is a text-generation handle bound to a loaded model. It is never
// mutated after construction.
type Pipeline struct {
	modelID   string
	generator llm.Generator
	tokenizer registry.Tokenizer
	loadedAt  time.Time
}

// NewPipeline binds a generator and an optional tokenizer to a model id.
func NewPipeline(modelID string, generator llm.Generator, tokenizer registry.Tokenizer) *Pipeline {
	return &Pipeline{
		modelID:   modelID,
		generator: generator,
		tokenizer: tokenizer,
		loadedAt:  time.Now(),
	}
}

// ModelID returns the model the pipeline was built from.
func (p *Pipeline) ModelID() string { return p.modelID }

// LoadedAt returns when the pipeline was built.
func (p *Pipeline) LoadedAt() time.Time { return p.loadedAt }

// Generate runs one generation and returns the first completion's text.
func (p *Pipeline) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	completions, err := p.generator.Generate(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	if len(completions) == 0 {
		return "", llm.ErrNoCompletion
	}
	return completions[0].Text, nil
}

// CountTokens returns the prompt length in tokens, or false without a tokenizer.
func (p *Pipeline) CountTokens(prompt string) (int, bool) {
	if p.tokenizer == nil {
		return 0, false
	}
	return len(p.tokenizer.Encode(prompt)), true
}
