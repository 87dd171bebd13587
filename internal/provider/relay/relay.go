// Package relay implements a Provider that hands mail to an SMTP relay,
// normally the host configured on the sending account.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	jemail "github.com/jordan-wright/email"

	"github.com/euphoria1203/campus-email/internal/email"
)

// Config holds the fallback relay used when the sending account does
// not name one.
type Config struct {
	Host string
	Port int
}

// SendFunc submits a composed message to addr. Used for testing.
type SendFunc func(addr string, e *jemail.Email) error

// Provider relays mail over SMTP without authentication.
type Provider struct {
	host string
	port int
	send SendFunc
}

// New creates a Provider with the given fallback relay.
func New(cfg Config) *Provider {
	return NewWithSender(cfg, func(addr string, e *jemail.Email) error {
		return e.Send(addr, nil)
	})
}

// NewWithSender creates a Provider with a custom submit function.
func NewWithSender(cfg Config, send SendFunc) *Provider {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	return &Provider{host: cfg.Host, port: cfg.Port, send: send}
}

// Send relays msg to its account's SMTP host. The call returns when ctx
// ends even if the SMTP exchange is still running.
func (p *Provider) Send(ctx context.Context, msg *email.Outbound) error {
	addr, err := p.addr(msg)
	if err != nil {
		return err
	}

	e, err := compose(msg)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- p.send(addr, e) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("relay via %s failed: %w", addr, err)
		}
		slog.Debug("relayed message", "relay", addr, "message_id", msg.MessageID)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay via %s: %w", addr, ctx.Err())
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "relay"
}

func (p *Provider) addr(msg *email.Outbound) (string, error) {
	host, port := msg.RelayHost, msg.RelayPort
	if host == "" {
		host = p.host
	}
	if port == 0 {
		port = p.port
	}
	if host == "" {
		return "", fmt.Errorf("no relay host for message %s", msg.MessageID)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func compose(msg *email.Outbound) (*jemail.Email, error) {
	e := jemail.NewEmail()
	e.From = msg.From
	e.To = msg.To
	e.Cc = msg.Cc
	e.Bcc = msg.Bcc
	e.Subject = msg.Subject
	if msg.TextBody != "" {
		e.Text = []byte(msg.TextBody)
	}
	if msg.HTMLBody != "" {
		e.HTML = []byte(msg.HTMLBody)
	}
	if msg.MessageID != "" {
		e.Headers.Set("Message-Id", "<"+msg.MessageID+">")
	}
	if msg.Priority > 0 && msg.Priority != email.PriorityNormal {
		e.Headers.Set("X-Priority", strconv.Itoa(msg.Priority))
	}

	for _, f := range msg.Attachments {
		if _, err := e.Attach(bytes.NewReader(f.Content), f.Filename, f.ContentType); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", f.Filename, err)
		}
	}
	return e, nil
}
