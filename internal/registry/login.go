// Package registry talks to the remote model registry: token login and
// fetching model artifacts.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the registry the token authenticates against.
const DefaultEndpoint = "https://huggingface.co"

var (
	// ErrMissingToken is returned when no token was configured.
	ErrMissingToken = errors.New("registry token is not set")

	// ErrUnauthorized is returned when the registry rejects the token.
	ErrUnauthorized = errors.New("registry rejected token")
)

// Account identifies the owner of a token.
type Account struct {
	Name string
	Type string
	Role string
}

type whoamiResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Auth struct {
		AccessToken struct {
			Role string `json:"role"`
		} `json:"accessToken"`
	} `json:"auth"`
}

// Authenticator verifies registry tokens.
type Authenticator struct {
	endpoint   string
	httpClient *http.Client
}

// NewAuthenticator creates an authenticator for the given registry endpoint.
// An empty endpoint selects DefaultEndpoint; a nil client gets a 30s timeout.
func NewAuthenticator(endpoint string, client *http.Client) *Authenticator {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Authenticator{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: client,
	}
}

// Login checks the token against the registry and returns its account.
func (a *Authenticator) Login(ctx context.Context, token string) (*Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/api/whoami-v2", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("registry API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var who whoamiResponse
	if err := json.NewDecoder(resp.Body).Decode(&who); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &Account{
		Name: who.Name,
		Type: who.Type,
		Role: who.Auth.AccessToken.Role,
	}, nil
}
