package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
	"github.com/euphoria1203/campus-email/internal/telemetry"
)

// Deliver stores mail accepted by the SMTP server. It satisfies the
// server's Deliverer interface.
func (e *Engine) Deliver(ctx context.Context, p *email.Parsed) error {
	_, err := e.Receive(ctx, p)
	return err
}

// Receive stores one inbox copy of p per envelope recipient that has a
// local account and returns the copies. Recipients without an account are
// skipped. Copies show the header To and Cc; without either, a copy is
// addressed to its own recipient so envelope-only (blind) recipients stay
// hidden. When inbound relaying is enabled, external envelope recipients
// are handed to the provider after the local copies commit; a relay
// failure is logged and not returned, so the client does not retry a
// delivery that already landed locally.
func (e *Engine) Receive(ctx context.Context, p *email.Parsed) (copies []*email.Message, err error) {
	start := time.Now()
	ctx, end := e.otel.StartSpan(ctx, "delivery.Receive",
		attribute.String("mail.from", p.EnvelopeFrom),
		attribute.Int("mail.rcpt_count", len(p.EnvelopeTo)))
	var external bool
	defer func() {
		end(err)
		e.otel.RecordDelivery(ctx, telemetry.KindInbound, time.Since(start), len(copies), external, err)
	}()

	if len(p.EnvelopeTo) == 0 {
		return nil, ErrNoRecipients
	}

	to := email.AggregateRecipients(p.EnvelopeTo...)
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		subject = email.DefaultSubject
	}
	from := p.From
	if from == "" {
		from = p.EnvelopeFrom
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		copies = copies[:0]
		for _, r := range email.CollectRecipients(to, "", "") {
			acc, err := tx.Accounts().FindByAddress(ctx, r.Address)
			if store.IsNotFound(err) {
				e.logger.Warn("No local account for inbound recipient",
					slog.String("from", p.EnvelopeFrom),
					slog.String("recipient", r.Address))
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to look up recipient %s: %w", r.Address, err)
			}

			now := e.now()
			m := &email.Message{
				OwnerID:     acc.UserID,
				AccountID:   acc.ID,
				Folder:      email.FolderInbox,
				From:        from,
				To:          p.To,
				Cc:          p.Cc,
				Subject:     subject,
				HTMLBody:    p.Body,
				TextBody:    p.Body,
				Priority:    email.PriorityNormal,
				ReceiveTime: &now,
			}
			if m.To == "" && m.Cc == "" {
				m.To = r.Address
			}
			if err := tx.Messages().Create(ctx, m); err != nil {
				return fmt.Errorf("failed to store inbound message for %s: %w", r.Address, err)
			}
			copies = append(copies, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(copies) == 0 {
		e.logger.Warn("Inbound message matched no local account",
			slog.String("from", p.EnvelopeFrom),
			slog.String("to", to))
	}

	if e.relayInbound {
		external = e.relay(ctx, p, from, to, subject)
	}
	return copies, nil
}

func (e *Engine) relay(ctx context.Context, p *email.Parsed, from, to, subject string) bool {
	out := e.buildOutbound(&email.Message{
		From:     from,
		To:       to,
		Subject:  subject,
		TextBody: p.Body,
		Priority: email.PriorityNormal,
	})
	if out == nil || e.provider == nil {
		return false
	}
	if err := e.provider.Send(ctx, out); err != nil {
		e.logger.Error("Failed to relay inbound message",
			slog.String("from", p.EnvelopeFrom),
			slog.String("provider", e.provider.Name()),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
