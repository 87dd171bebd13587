// Package delivery implements the distribution engine: it persists sent,
// drafted, scheduled and received mail, fans messages out to local
// inboxes, and hands external recipients to the outbound provider.
package delivery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/euphoria1203/campus-email/internal/blob"
	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/provider"
	"github.com/euphoria1203/campus-email/internal/store"
	"github.com/euphoria1203/campus-email/internal/telemetry"
)

// Defaults.
const (
	DefaultInternalDomain = "@campus.mail"
	DefaultBatchSize      = 50
)

// Compose is the user-supplied content of an outgoing message or draft.
type Compose struct {
	// AccountID selects the sending account. Empty means the owner's
	// default account.
	AccountID string

	// To, Cc and Bcc are raw lists separated by ";" or ",".
	To  string
	Cc  string
	Bcc string

	Subject  string
	HTMLBody string
	// TextBody is derived from HTMLBody when empty.
	TextBody string
	// Priority is 1 (high) to 5 (low); zero means normal.
	Priority int

	// AttachmentIDs are uploaded attachments to link to the message.
	AttachmentIDs []string

	// DraftID names the draft this content came from. Send and Schedule
	// remove it; SaveDraft updates it in place.
	DraftID string
}

// Engine is safe for concurrent use; all shared state lives in the store.
type Engine struct {
	store    store.Store
	provider provider.Provider
	blobs    blob.Store
	otel     *telemetry.Instrumentation

	internalDomain string
	relayInbound   bool
	batchSize      int

	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithProvider sets the outbound transport. Without one, external
// recipients are skipped with a warning.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithBlobStore sets the attachment content store.
func WithBlobStore(b blob.Store) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithTelemetry sets the tracing and metrics instrumentation.
func WithTelemetry(t *telemetry.Instrumentation) Option {
	return func(e *Engine) { e.otel = t }
}

// WithInternalDomain sets the suffix that marks an address as local.
func WithInternalDomain(domain string) Option {
	return func(e *Engine) {
		if domain = strings.TrimSpace(domain); domain != "" {
			if !strings.HasPrefix(domain, "@") {
				domain = "@" + domain
			}
			e.internalDomain = strings.ToLower(domain)
		}
	}
}

// WithRelayInbound makes inbound SMTP mail for external addresses go out
// through the provider. Off by default so the server is not an open relay.
func WithRelayInbound(enabled bool) Option {
	return func(e *Engine) { e.relayInbound = enabled }
}

// WithBatchSize bounds how many scheduled messages one DispatchDue call
// handles.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine on st.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		internalDomain: DefaultInternalDomain,
		batchSize:      DefaultBatchSize,
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolveAccount returns the account named by accountID, which must
// belong to ownerID, or the owner's default account.
func resolveAccount(ctx context.Context, st store.Store, ownerID, accountID string) (*email.Account, error) {
	if accountID != "" {
		acc, err := st.Accounts().FindByID(ctx, accountID)
		if store.IsNotFound(err) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		if acc.UserID != ownerID {
			return nil, ErrAccountNotFound
		}
		return acc, nil
	}

	acc, err := st.Accounts().FindDefault(ctx, ownerID)
	if store.IsNotFound(err) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

// requireOwned loads a message, deleted or not, and checks its owner.
func requireOwned(ctx context.Context, st store.Store, ownerID, id string) (*email.Message, error) {
	m, err := st.Messages().FindByIDIncludingDeleted(ctx, id)
	if store.IsNotFound(err) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return m, nil
}

func normalizePriority(p int) (int, error) {
	if p == 0 {
		return email.PriorityNormal, nil
	}
	if p < email.PriorityHigh || p > email.PriorityLow {
		return 0, ErrInvalidPriority
	}
	return p, nil
}

func textBody(c Compose) string {
	if c.TextBody != "" {
		return c.TextBody
	}
	return email.PlainText(c.HTMLBody)
}
