package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultInferenceURL is the default hosted inference endpoint.
	DefaultInferenceURL = "https://api-inference.huggingface.co"

	// DefaultTimeout bounds a single generation round trip.
	DefaultTimeout = 5 * time.Minute
)

// InferenceClient implements the Generator interface against the Hugging Face
// hosted inference API for one model.
type InferenceClient struct {
	baseURL    string
	httpClient *http.Client
	model      string
	token      string
}

// InferenceOption is a functional option for configuring InferenceClient.
type InferenceOption func(*InferenceClient)

// WithBaseURL sets a custom base URL for the inference API.
func WithBaseURL(url string) InferenceOption {
	return func(c *InferenceClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) InferenceOption {
	return func(c *InferenceClient) {
		c.httpClient = client
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) InferenceOption {
	return func(c *InferenceClient) {
		c.token = token
	}
}

// NewInferenceClient creates a client bound to the given model.
func NewInferenceClient(model string, opts ...InferenceOption) *InferenceClient {
	c := &InferenceClient{
		baseURL: DefaultInferenceURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		model: model,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Model returns the model identifier the client is bound to.
func (c *InferenceClient) Model() string {
	return c.model
}

// inferenceRequest is the request body for the text-generation task.
type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
	Options    inferenceOptions    `json:"options"`
}

type inferenceParameters struct {
	MaxNewTokens       int      `json:"max_new_tokens,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	DoSample           bool     `json:"do_sample"`
	ReturnFullText     bool     `json:"return_full_text"`
	NumReturnSequences int      `json:"num_return_sequences"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
	UseCache     bool `json:"use_cache"`
}

// inferenceResponse is one element of the text-generation answer.
type inferenceResponse struct {
	GeneratedText string `json:"generated_text"`
}

// inferenceError is the error body returned on failure.
type inferenceError struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time,omitempty"`
}

// Generate sends a prompt to the hosted model and returns its completions.
func (c *InferenceClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) ([]Completion, error) {
	req, err := c.buildRequest(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newAPIError(resp)
	}

	var results []inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrNoCompletion
	}

	completions := make([]Completion, len(results))
	for i, r := range results {
		completions[i] = Completion{Text: r.GeneratedText}
	}
	return completions, nil
}

// buildRequest constructs the HTTP request for the inference API.
func (c *InferenceClient) buildRequest(ctx context.Context, prompt string, opts GenerateOptions) (*http.Request, error) {
	reqBody := inferenceRequest{
		Inputs: prompt,
		Parameters: inferenceParameters{
			MaxNewTokens: opts.MaxNewTokens,
			DoSample:     opts.DoSample,
			// The pipeline echoes the prompt in front of the generated text.
			ReturnFullText:     true,
			NumReturnSequences: 1,
		},
		Options: inferenceOptions{
			WaitForModel: true,
			UseCache:     !opts.DoSample,
		},
	}
	if opts.Temperature > 0 {
		t := opts.Temperature
		reqBody.Parameters.Temperature = &t
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.baseURL + "/models/" + c.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return req, nil
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	var errBody inferenceError
	if json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
		msg = errBody.Error
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: msg}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		apiErr.Kind = ErrUnauthorized
	case http.StatusForbidden:
		apiErr.Kind = ErrAccessDenied
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		apiErr.Kind = ErrModelUnavailable
	}
	return apiErr
}

// Ensure InferenceClient implements Generator interface.
var _ Generator = (*InferenceClient)(nil)
