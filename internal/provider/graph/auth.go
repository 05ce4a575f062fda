package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// earlyRefresh treats a token as stale this long before it expires.
	earlyRefresh = 5 * time.Minute
)

// accessToken is a bearer token and the time it stops being usable.
type accessToken struct {
	value   string
	staleAt time.Time
}

func (t accessToken) usable(now time.Time) bool {
	return t.value != "" && now.Before(t.staleAt)
}

// tokenCache hands out the client-credentials token for one app
// registration, fetching a new one once the cached token goes stale.
type tokenCache struct {
	endpoint string
	form     url.Values
	client   *http.Client

	mu      sync.Mutex
	current accessToken
}

func newTokenCache(tokenURL, clientID, clientSecret string, client *http.Client) *tokenCache {
	return &tokenCache{
		endpoint: tokenURL,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		client: client,
	}
}

// Token returns the cached token or fetches a new one. Safe for concurrent use.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.current.usable(time.Now()) {
		return tc.current.value, nil
	}

	tok, err := tc.fetch(ctx)
	if err != nil {
		return "", err
	}
	tc.current = tok
	return tok.value, nil
}

func (tc *tokenCache) fetch(ctx context.Context) (accessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.endpoint, strings.NewReader(tc.form.Encode()))
	if err != nil {
		return accessToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.client.Do(req)
	if err != nil {
		return accessToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return accessToken{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return accessToken{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return accessToken{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return accessToken{}, fmt.Errorf("token response missing access_token")
	}

	lifetime := time.Duration(parsed.ExpiresIn) * time.Second
	return accessToken{
		value:   parsed.AccessToken,
		staleAt: time.Now().Add(lifetime - earlyRefresh),
	}, nil
}
