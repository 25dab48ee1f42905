package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/uigen/internal/llm"
	"github.com/knoguchi/uigen/internal/model"
	"github.com/knoguchi/uigen/internal/results"
	"github.com/knoguchi/uigen/internal/settings"
	"golang.org/x/sync/semaphore"
)

// ErrEmptyPrompt is returned for prompts that are empty or only whitespace.
var ErrEmptyPrompt = errors.New("please enter a prompt first")

// PipelineLoader returns the shared generation pipeline.
type PipelineLoader interface {
	Load(ctx context.Context) (*model.Pipeline, error)
}

// Result is the outcome of one generation.
type Result struct {
	ID        uuid.UUID
	Prompt    string
	Settings  settings.Settings
	Code      string
	Language  string
	Filename  string
	ModelID   string
	CreatedAt time.Time
	Duration  time.Duration

	// PromptTokens is zero when the model has no local tokenizer.
	PromptTokens int
}

// CodegenService turns prompts into UI code.
type CodegenService struct {
	loader PipelineLoader
	store  *results.Store
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// CodegenServiceOption is a functional option for configuring CodegenService.
type CodegenServiceOption func(*CodegenService)

// WithResultStore keeps every result in store so it can be downloaded later.
func WithResultStore(store *results.Store) CodegenServiceOption {
	return func(s *CodegenService) {
		s.store = store
	}
}

// WithMaxConcurrent bounds how many generations run at once.
func WithMaxConcurrent(n int) CodegenServiceOption {
	return func(s *CodegenService) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) CodegenServiceOption {
	return func(s *CodegenService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCodegenService creates a new CodegenService. Generations run one at a
// time unless WithMaxConcurrent says otherwise.
func NewCodegenService(loader PipelineLoader, opts ...CodegenServiceOption) *CodegenService {
	s := &CodegenService{
		loader: loader,
		sem:    semaphore.NewWeighted(1),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Generate runs exactly one sampled generation for prompt with the given
// settings. Blank prompts return ErrEmptyPrompt without touching the model.
func (s *CodegenService) Generate(ctx context.Context, prompt string, set settings.Settings) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	set = set.Clamp()

	pipeline, err := s.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for generation slot: %w", err)
	}
	defer s.sem.Release(1)

	result := &Result{
		ID:        uuid.New(),
		Prompt:    prompt,
		Settings:  set,
		Language:  set.Framework.Language(),
		Filename:  set.Framework.Filename(),
		ModelID:   pipeline.ModelID(),
		CreatedAt: time.Now(),
	}
	if n, ok := pipeline.CountTokens(prompt); ok {
		result.PromptTokens = n
	}

	s.logger.Info("generating code",
		"result_id", result.ID,
		"framework", set.Framework,
		"max_tokens", set.MaxTokens,
		"temperature", set.Temperature,
		"prompt_tokens", result.PromptTokens,
	)

	code, err := pipeline.Generate(ctx, prompt, llm.GenerateOptions{
		MaxNewTokens: set.MaxTokens,
		Temperature:  set.Temperature,
		DoSample:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("generating code: %w", err)
	}
	result.Code = code
	result.Duration = time.Since(result.CreatedAt)

	if s.store != nil {
		s.store.Put(results.Entry{
			ID:        result.ID,
			Filename:  result.Filename,
			Content:   result.Code,
			CreatedAt: result.CreatedAt,
		})
	}

	s.logger.Info("generated code",
		"result_id", result.ID,
		"bytes", len(code),
		"duration", result.Duration,
	)

	return result, nil
}
