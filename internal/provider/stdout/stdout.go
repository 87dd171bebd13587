// Package stdout implements a Provider that prints outbound mail instead
// of sending it. It is meant for local runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/euphoria1203/campus-email/internal/email"
)

const separator = "========================================\n"

// Provider prints outbound mail in a human-readable format.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints msg. Bcc recipients are listed since this is the sender's view.
func (p *Provider) Send(_ context.Context, msg *email.Outbound) error {
	headers := [][2]string{
		{"Message-Id", msg.MessageID},
		{"From", msg.From},
		{"To", strings.Join(msg.To, ", ")},
		{"Cc", strings.Join(msg.Cc, ", ")},
		{"Bcc", strings.Join(msg.Bcc, ", ")},
		{"Subject", msg.Subject},
	}
	if msg.Priority != 0 && msg.Priority != email.PriorityNormal {
		headers = append(headers, [2]string{"Priority", strconv.Itoa(msg.Priority)})
	}
	if msg.RelayHost != "" {
		headers = append(headers, [2]string{"Relay", net.JoinHostPort(msg.RelayHost, strconv.Itoa(msg.RelayPort))})
	}

	var b strings.Builder
	b.WriteString(separator)
	for _, h := range headers {
		if h[1] != "" || h[0] == "Subject" {
			fmt.Fprintf(&b, "%s: %s\n", h[0], h[1])
		}
	}

	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	b.WriteString("Body:\n" + body + "\n")

	if n := len(msg.Attachments); n > 0 {
		files := make([]string, n)
		for i, f := range msg.Attachments {
			files[i] = f.Filename + " (" + formatSize(len(f.Content)) + ")"
		}
		b.WriteString("Attachments: " + strings.Join(files, ", ") + "\n")
	}
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("stdout provider: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
