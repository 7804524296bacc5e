package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/AltairaLabs/VoiceKit/pkg/errors"
	"github.com/AltairaLabs/VoiceKit/pkg/httputil"
	"github.com/AltairaLabs/VoiceKit/runtime/logger"
)

const maxTokenBody = 64 * 1024

// ErrEmptyToken is returned when the token endpoint answers without a client secret.
var ErrEmptyToken = errors.New("token response has no client secret")

// Token is an ephemeral credential for one realtime session.
type Token struct {
	ClientSecret string
	Model        string
	ExpiresAt    time.Time
}

// tokenResponse accepts both the flat shape and the nested OpenAI shape.
type tokenResponse struct {
	ClientSecret json.RawMessage `json:"clientSecret"`
	Secret       json.RawMessage `json:"client_secret"`
	Value        string          `json:"value"`
	ExpiresAt    int64           `json:"expires_at"`
	Model        string          `json:"model"`
	Session      struct {
		Model string `json:"model"`
	} `json:"session"`
}

type nestedSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// TokenClient fetches ephemeral client secrets from the collaborator's token endpoint.
type TokenClient struct {
	URL        string
	Method     string
	HTTPClient *http.Client
}

// NewTokenClient creates a token client. An empty method means POST.
func NewTokenClient(url, method string, client *http.Client) *TokenClient {
	if method == "" {
		method = http.MethodPost
	}
	return &TokenClient{URL: url, Method: strings.ToUpper(method), HTTPClient: httputil.OrDefault(client)}
}

// Fetch requests a fresh token.
func (c *TokenClient) Fetch(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, c.Method, c.URL, http.NoBody)
	if err != nil {
		return Token{}, pkgerrors.New("realtime", "FetchToken", err).WithCategory(pkgerrors.CategoryNegotiation)
	}
	req.Header.Set("Accept", "application/json")

	logger.APIRequest("token", c.Method, c.URL, map[string]string{"Accept": "application/json"}, nil)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		logger.APIResponse("token", 0, "", err)
		return Token{}, pkgerrors.New("realtime", "FetchToken", err).WithCategory(pkgerrors.CategoryNegotiation)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return Token{}, pkgerrors.New("realtime", "FetchToken", err).WithCategory(pkgerrors.CategoryNegotiation)
	}
	logger.APIResponse("token", resp.StatusCode, string(body), nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, pkgerrors.New("realtime", "FetchToken",
			fmt.Errorf("token endpoint returned %s", resp.Status)).
			WithStatusCode(resp.StatusCode).
			WithCategory(pkgerrors.CategoryNegotiation)
	}

	tok, err := parseToken(body)
	if err != nil {
		return Token{}, pkgerrors.New("realtime", "FetchToken", err).WithCategory(pkgerrors.CategoryNegotiation)
	}
	return tok, nil
}

func parseToken(body []byte) (Token, error) {
	var raw tokenResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}

	tok := Token{Model: raw.Model}
	if tok.Model == "" {
		tok.Model = raw.Session.Model
	}
	expires := raw.ExpiresAt

	for _, field := range []json.RawMessage{raw.ClientSecret, raw.Secret} {
		if len(field) == 0 || tok.ClientSecret != "" {
			continue
		}
		var flat string
		if err := json.Unmarshal(field, &flat); err == nil {
			tok.ClientSecret = flat
			continue
		}
		var nested nestedSecret
		if err := json.Unmarshal(field, &nested); err == nil {
			tok.ClientSecret = nested.Value
			if nested.ExpiresAt != 0 {
				expires = nested.ExpiresAt
			}
		}
	}
	if tok.ClientSecret == "" {
		tok.ClientSecret = raw.Value
	}
	if tok.ClientSecret == "" {
		return Token{}, ErrEmptyToken
	}
	if expires != 0 {
		tok.ExpiresAt = time.Unix(expires, 0)
	}
	return tok, nil
}
