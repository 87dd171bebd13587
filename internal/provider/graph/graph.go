// Package graph implements a Provider that sends mail through the
// Microsoft Graph sendMail endpoint, authenticating with OAuth2 client
// credentials.
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

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/euphoria1203/campus-email/internal/email"
)

const (
	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	sendURLFormat  = "https://graph.microsoft.com/v1.0/users/%s/sendMail"
	defaultScope   = "https://graph.microsoft.com/.default"
	requestTimeout = 30 * time.Second
)

// Config holds the Graph application registration and the mailbox that
// sends on behalf of campus accounts.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// Configured reports whether every field is set.
func (c Config) Configured() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != "" && c.Sender != ""
}

// Provider posts messages to Graph. Tokens are cached and refreshed by the
// oauth2 transport.
type Provider struct {
	sender  string
	sendURL string
	client  *http.Client
}

// New creates a Provider for cfg.
func New(cfg Config) *Provider {
	return newWithEndpoints(cfg,
		fmt.Sprintf(sendURLFormat, url.PathEscape(cfg.Sender)),
		fmt.Sprintf(tokenURLFormat, url.PathEscape(cfg.TenantID)),
		&http.Client{Timeout: requestTimeout})
}

func newWithEndpoints(cfg Config, sendURL, tokenURL string, base *http.Client) *Provider {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
	}
	// The token source outlives any single request, so it gets its own
	// background context carrying the base client.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = base.Timeout

	return &Provider{sender: cfg.Sender, sendURL: sendURL, client: client}
}

// Name returns the provider name.
func (p *Provider) Name() string { return "msgraph" }

// Send posts msg once. Failures are returned as *Error; nothing is
// retried here.
func (p *Provider) Send(ctx context.Context, msg *email.Outbound) error {
	body, err := json.Marshal(buildSendMailRequest(p.sender, msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		slog.Debug("Graph accepted message",
			"message_id", msg.MessageID,
			"recipients", len(msg.Recipients()))
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &Error{StatusCode: resp.StatusCode, Message: string(raw)}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}

// Error is a non-success response from Graph.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
