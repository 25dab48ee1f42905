// Package model loads the code-generation model once per process and hands
// out the shared pipeline.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knoguchi/uigen/internal/llm"
	"github.com/knoguchi/uigen/internal/registry"
	"golang.org/x/sync/singleflight"
)

// ID is the model every pipeline is built from.
const ID = "bigcode/starcoder"

// Fetcher fetches a model's artifacts from the registry.
type Fetcher interface {
	Fetch(ctx context.Context, modelID string) (*registry.Artifact, error)
}

// GeneratorFactory builds the inference generator for a model.
type GeneratorFactory func(modelID string) llm.Generator

// Loader lazily builds the pipeline on first use and returns the same
// pipeline afterwards. Failed loads are not remembered.
type Loader struct {
	fetcher      Fetcher
	newGenerator GeneratorFactory
	logger       *slog.Logger

	mu       sync.RWMutex
	pipeline *Pipeline

	group   singleflight.Group
	fetches atomic.Int64
}

// NewLoader creates a loader. Nothing is fetched until Load is called.
func NewLoader(fetcher Fetcher, newGenerator GeneratorFactory, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher:      fetcher,
		newGenerator: newGenerator,
		logger:       logger,
	}
}

// Load returns the process-wide pipeline, fetching the model on first call.
// Concurrent first calls share one fetch. A caller whose ctx ends stops
// waiting with ctx's error; the shared fetch keeps running for the others.
func (l *Loader) Load(ctx context.Context) (*Pipeline, error) {
	if p := l.cached(); p != nil {
		return p, nil
	}

	// The fetch outlives whichever caller happened to start it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(ID, func() (any, error) {
		return l.load(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Pipeline), nil
	}
}

func (l *Loader) load(ctx context.Context) (*Pipeline, error) {
	if p := l.cached(); p != nil {
		return p, nil
	}

	start := time.Now()
	l.fetches.Add(1)
	l.logger.Info("loading model", "model", ID)

	artifact, err := l.fetcher.Fetch(ctx, ID)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", ID, err)
	}

	p := NewPipeline(ID, l.newGenerator(ID), artifact.Tokenizer)

	l.mu.Lock()
	l.pipeline = p
	l.mu.Unlock()

	l.logger.Info("model loaded",
		"model", ID,
		"tokenizer", artifact.Tokenizer != nil,
		"duration", time.Since(start),
	)
	return p, nil
}

// Loaded reports whether the pipeline has been built.
func (l *Loader) Loaded() bool {
	return l.cached() != nil
}

// Fetches returns how many times the model was fetched from the registry.
func (l *Loader) Fetches() int {
	return int(l.fetches.Load())
}

func (l *Loader) cached() *Pipeline {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pipeline
}
