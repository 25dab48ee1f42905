package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
)

// accessCheckFile is small and present in every model repo; downloading it
// fails when the token was not granted access to a gated model.
const accessCheckFile = "config.json"

// ErrAccessDenied is returned when the token has not been granted access to
// a gated model.
var ErrAccessDenied = errors.New("access to model denied by registry")

// hubStatus finds the HTTP status the hub library folds into its error text,
// either `bad status code 403: ...` or `... failed with the following
// message: "403 Forbidden"`.
var hubStatus = regexp.MustCompile(`(?:bad status code |")(40[13])\b`)

// Tokenizer turns text into token ids.
type Tokenizer interface {
	Encode(text string) []int
}

// Artifact is what was fetched for a model.
type Artifact struct {
	ModelID    string
	ConfigPath string
	// Tokenizer is nil when the repo's tokenizer could not be built locally.
	Tokenizer Tokenizer
}

// HubFetcher fetches model artifacts from the registry hub.
type HubFetcher struct {
	endpoint string
	token    string
	cacheDir string
	logger   *slog.Logger
}

// NewHubFetcher creates a fetcher authenticating with token against
// endpoint. An empty endpoint selects DefaultEndpoint; an empty cacheDir
// keeps the hub library's default cache location.
func NewHubFetcher(endpoint, token, cacheDir string, logger *slog.Logger) *HubFetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HubFetcher{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		token:    token,
		cacheDir: cacheDir,
		logger:   logger,
	}
}

// Fetch downloads the repo info, checks access and builds the tokenizer.
func (f *HubFetcher) Fetch(ctx context.Context, modelID string) (*Artifact, error) {
	repo := hub.New(modelID).WithAuth(f.token).WithEndpoint(f.endpoint)
	repo.Verbosity = 0
	if f.cacheDir != "" {
		repo = repo.WithCacheDir(f.cacheDir)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := repo.DownloadInfo(false); err != nil {
		return nil, classify(fmt.Sprintf("fetching info for %s", modelID), err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	configPath, err := repo.DownloadFile(accessCheckFile)
	if err != nil {
		return nil, classify(fmt.Sprintf("downloading %s from %s", accessCheckFile, modelID), err)
	}

	artifact := &Artifact{
		ModelID:    modelID,
		ConfigPath: configPath,
	}

	tok, err := tokenizers.New(repo)
	if err != nil {
		f.logger.Warn("tokenizer unavailable, prompt token counts disabled",
			"model", modelID,
			"error", err,
		)
	} else {
		artifact.Tokenizer = tok
	}

	return artifact, nil
}

// classify wraps a hub error with ErrUnauthorized or ErrAccessDenied when
// the registry answered 401 or 403.
func classify(op string, err error) error {
	var status string
	if m := hubStatus.FindStringSubmatch(err.Error()); m != nil {
		status = m[1]
	}
	switch status {
	case "401":
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
	case "403":
		return fmt.Errorf("%s: %w: %w", op, ErrAccessDenied, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
