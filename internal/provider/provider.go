// Package provider defines the interface for outbound mail transports.
package provider

import (
	"context"

	"github.com/euphoria1203/campus-email/internal/email"
)

// Provider hands mail for external recipients to a transport. Deciding
// who receives a message is done by the caller; a Provider only delivers.
type Provider interface {
	// Send delivers msg to every address in its To, Cc and Bcc lists.
	Send(ctx context.Context, msg *email.Outbound) error

	// Name returns the human-readable name of this provider.
	Name() string
}
