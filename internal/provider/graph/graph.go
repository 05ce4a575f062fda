package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/mail-console/internal/email"
)

const (
	loginBase = "https://login.microsoftonline.com"
	graphBase = "https://graph.microsoft.com/v1.0"

	// maxErrorBody caps how much of a failed response is kept for the error.
	maxErrorBody = 4096
)

// GraphProviderConfig holds the app registration and mailbox used to send.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string

	// Timeout bounds every HTTP round trip. Zero means no limit.
	Timeout time.Duration
}

// GraphProvider posts messages to the sendMail action of the sender's
// mailbox with an app-only token.
type GraphProvider struct {
	sender     string
	sendURL    string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a GraphProvider for the public Microsoft cloud.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := loginBase + "/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token"
	sendURL := graphBase + "/users/" + url.PathEscape(cfg.Sender) + "/sendMail"
	return newWithOverrides(cfg, sendURL, tokenURL, &http.Client{Timeout: cfg.Timeout})
}

// newWithOverrides creates a GraphProvider with custom endpoints, used for testing.
func newWithOverrides(cfg GraphProviderConfig, sendURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		sendURL:    sendURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send delivers msg with one sendMail call. The configured sender's
// mailbox sends it; msg.From is not used.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Message) error {
	payload, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to encode sendMail request: %w", err)
	}

	token, err := g.token.Token(ctx)
	if err != nil {
		return &email.Error{Kind: email.KindAuth, Op: "acquire Graph token", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create sendMail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &email.Error{Kind: email.KindConnection, Op: "Graph sendMail", Err: err}
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted with an empty body.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		slog.Debug("message accepted by Graph", "sender", g.sender, "status", resp.StatusCode)
		return nil
	}

	apiErr := readAPIError(resp)
	return &email.Error{Kind: apiErr.kind(), Op: "Graph sendMail", Err: apiErr}
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// apiError is a non-success sendMail response.
type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.status, e.message)
}

// kind maps the status onto the shared failure kinds. Rejected or
// insufficient credentials are auth failures; everything else the service
// refused is a protocol failure.
func (e *apiError) kind() email.Kind {
	if e.status == http.StatusUnauthorized || e.status == http.StatusForbidden {
		return email.KindAuth
	}
	return email.KindProtocol
}

func readAPIError(resp *http.Response) *apiError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	out := &apiError{status: resp.StatusCode, message: string(body)}
	var decoded graphErrorResponse
	if json.Unmarshal(body, &decoded) == nil && decoded.Error.Message != "" {
		out.code = decoded.Error.Code
		out.message = decoded.Error.Message
	}
	return out
}
