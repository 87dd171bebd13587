package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/euphoria1203/campus-email/internal/blob"
	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
	"github.com/euphoria1203/campus-email/internal/telemetry"
)

// Send stores c as a sent message of ownerID, delivers a copy to every
// local recipient and hands external recipients to the provider.
//
// Local work commits before the external leg runs. When the external leg
// fails the stored message is returned together with an error wrapping
// ErrTransport.
func (e *Engine) Send(ctx context.Context, ownerID string, c Compose) (msg *email.Message, err error) {
	start := time.Now()
	ctx, end := e.otel.StartSpan(ctx, "delivery.Send", attribute.String("owner.id", ownerID))
	var copies int
	var external bool
	defer func() {
		end(err)
		e.otel.RecordDelivery(ctx, telemetry.KindOutbound, time.Since(start), copies, external, err)
	}()

	if !email.HasAny(c.To, c.Cc, c.Bcc) {
		return nil, ErrNoRecipients
	}
	priority, err := normalizePriority(c.Priority)
	if err != nil {
		return nil, err
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		acc, err := resolveAccount(ctx, tx, ownerID, c.AccountID)
		if err != nil {
			return err
		}

		now := e.now()
		msg = &email.Message{
			OwnerID:       ownerID,
			AccountID:     acc.ID,
			Folder:        email.FolderSent,
			From:          acc.Sender(),
			To:            c.To,
			Cc:            c.Cc,
			Bcc:           c.Bcc,
			Subject:       c.Subject,
			HTMLBody:      c.HTMLBody,
			TextBody:      textBody(c),
			IsRead:        true,
			HasAttachment: len(c.AttachmentIDs) > 0,
			Priority:      priority,
			SendTime:      &now,
		}
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return fmt.Errorf("failed to store sent message: %w", err)
		}
		if err := linkAttachments(ctx, tx, ownerID, msg.ID, c.AttachmentIDs); err != nil {
			return err
		}

		copies, err = e.distribute(ctx, tx, msg)
		if err != nil {
			return err
		}
		if c.DraftID != "" {
			return discardDraft(ctx, tx, ownerID, c.DraftID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	external, err = e.sendExternal(ctx, msg)
	if err != nil {
		return msg, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return msg, nil
}

// SaveDraft creates a draft, or updates c.DraftID in place. Recipients
// are not required.
func (e *Engine) SaveDraft(ctx context.Context, ownerID string, c Compose) (*email.Message, error) {
	priority, err := normalizePriority(c.Priority)
	if err != nil {
		return nil, err
	}

	var draft *email.Message
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		acc, err := resolveAccount(ctx, tx, ownerID, c.AccountID)
		if err != nil {
			return err
		}

		if c.DraftID != "" {
			draft, err = requireOwned(ctx, tx, ownerID, c.DraftID)
			if err != nil {
				return err
			}
			if draft.Folder != email.FolderDrafts {
				return ErrNotDraft
			}
		} else {
			draft = &email.Message{OwnerID: ownerID, Folder: email.FolderDrafts, IsRead: true}
		}

		draft.AccountID = acc.ID
		draft.From = acc.Sender()
		draft.To, draft.Cc, draft.Bcc = c.To, c.Cc, c.Bcc
		draft.Subject = c.Subject
		draft.HTMLBody = c.HTMLBody
		draft.TextBody = textBody(c)
		draft.Priority = priority
		draft.SendTime, draft.ReceiveTime = nil, nil
		if len(c.AttachmentIDs) > 0 {
			draft.HasAttachment = true
		}

		if draft.ID == "" {
			err = tx.Messages().Create(ctx, draft)
		} else {
			err = tx.Messages().Update(ctx, draft)
		}
		if err != nil {
			return fmt.Errorf("failed to store draft: %w", err)
		}
		return linkAttachments(ctx, tx, ownerID, draft.ID, c.AttachmentIDs)
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// SendDraft promotes a stored draft to sent and delivers it like Send.
func (e *Engine) SendDraft(ctx context.Context, ownerID, draftID string) (msg *email.Message, err error) {
	start := time.Now()
	ctx, end := e.otel.StartSpan(ctx, "delivery.SendDraft", attribute.String("message.id", draftID))
	var copies int
	var external bool
	defer func() {
		end(err)
		e.otel.RecordDelivery(ctx, telemetry.KindOutbound, time.Since(start), copies, external, err)
	}()

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		draft, err := requireOwned(ctx, tx, ownerID, draftID)
		if err != nil {
			return err
		}
		if draft.Folder != email.FolderDrafts {
			return ErrNotDraft
		}
		if !draft.HasRecipients() {
			return ErrNoRecipients
		}
		acc, err := tx.Accounts().FindByID(ctx, draft.AccountID)
		if store.IsNotFound(err) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		now := e.now()
		draft.Folder = email.FolderSent
		draft.From = acc.Sender()
		draft.SendTime = &now
		draft.IsDeleted = false
		draft.IsRead = true
		if draft.Priority == 0 {
			draft.Priority = email.PriorityNormal
		}
		if err := tx.Messages().Update(ctx, draft); err != nil {
			return fmt.Errorf("failed to promote draft: %w", err)
		}

		copies, err = e.distribute(ctx, tx, draft)
		msg = draft
		return err
	})
	if err != nil {
		return nil, err
	}

	external, err = e.sendExternal(ctx, msg)
	if err != nil {
		return msg, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return msg, nil
}

// Schedule stores c in the scheduled folder to be dispatched at or after
// at. Nothing is delivered until DispatchDue picks it up.
func (e *Engine) Schedule(ctx context.Context, ownerID string, c Compose, at time.Time) (*email.Message, error) {
	if !email.HasAny(c.To, c.Cc, c.Bcc) {
		return nil, ErrNoRecipients
	}
	if at.IsZero() || at.Before(e.now()) {
		return nil, ErrInvalidSchedule
	}
	priority, err := normalizePriority(c.Priority)
	if err != nil {
		return nil, err
	}

	var msg *email.Message
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		acc, err := resolveAccount(ctx, tx, ownerID, c.AccountID)
		if err != nil {
			return err
		}

		sendAt := at.UTC()
		msg = &email.Message{
			OwnerID:       ownerID,
			AccountID:     acc.ID,
			Folder:        email.FolderScheduled,
			From:          acc.Sender(),
			To:            c.To,
			Cc:            c.Cc,
			Bcc:           c.Bcc,
			Subject:       c.Subject,
			HTMLBody:      c.HTMLBody,
			TextBody:      textBody(c),
			IsRead:        true,
			HasAttachment: len(c.AttachmentIDs) > 0,
			Priority:      priority,
			SendTime:      &sendAt,
		}
		if err := tx.Messages().Create(ctx, msg); err != nil {
			return fmt.Errorf("failed to store scheduled message: %w", err)
		}
		if err := linkAttachments(ctx, tx, ownerID, msg.ID, c.AttachmentIDs); err != nil {
			return err
		}
		if c.DraftID != "" {
			return discardDraft(ctx, tx, ownerID, c.DraftID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// distribute creates an inbox copy of src for every recipient that has a
// local account and returns how many were made. Unknown addresses are
// skipped. Bcc recipients see only their own address in To.
func (e *Engine) distribute(ctx context.Context, tx store.Store, src *email.Message) (int, error) {
	recipients := email.CollectRecipients(src.To, src.Cc, src.Bcc)
	if len(recipients) == 0 {
		return 0, nil
	}

	var atts []*email.Attachment
	if src.HasAttachment {
		var err error
		atts, err = tx.Attachments().FindByMessageID(ctx, src.ID)
		if err != nil {
			return 0, fmt.Errorf("failed to load attachments: %w", err)
		}
	}

	copies := 0
	for _, r := range recipients {
		acc, err := tx.Accounts().FindByAddress(ctx, r.Address)
		if store.IsNotFound(err) {
			e.logger.Warn("No local account for recipient, skipping",
				slog.String("message_id", src.ID),
				slog.String("recipient", r.Address))
			continue
		}
		if err != nil {
			return copies, fmt.Errorf("failed to look up recipient %s: %w", r.Address, err)
		}

		cp := e.inboxCopy(src, acc, r)
		if err := tx.Messages().Create(ctx, cp); err != nil {
			return copies, fmt.Errorf("failed to deliver to %s: %w", r.Address, err)
		}
		if len(atts) > 0 {
			clones := make([]*email.Attachment, 0, len(atts))
			for _, a := range atts {
				clones = append(clones, &email.Attachment{
					MessageID:   cp.ID,
					FileName:    a.FileName,
					ContentType: a.ContentType,
					Size:        a.Size,
					StoragePath: a.StoragePath,
				})
			}
			if err := tx.Attachments().BatchInsert(ctx, clones); err != nil {
				return copies, fmt.Errorf("failed to copy attachments to %s: %w", r.Address, err)
			}
		}
		copies++
	}
	return copies, nil
}

func (e *Engine) inboxCopy(src *email.Message, acc *email.Account, r email.Recipient) *email.Message {
	now := e.now()
	cp := &email.Message{
		OwnerID:       acc.UserID,
		AccountID:     acc.ID,
		Folder:        email.FolderInbox,
		From:          src.From,
		To:            src.To,
		Cc:            src.Cc,
		Subject:       src.Subject,
		HTMLBody:      src.HTMLBody,
		TextBody:      src.TextBody,
		HasAttachment: src.HasAttachment,
		Priority:      src.Priority,
		ReceiveTime:   &now,
	}
	if r.Role == email.RoleBcc {
		cp.To = r.Address
		cp.Cc = ""
	}
	if src.SendTime != nil {
		t := *src.SendTime
		cp.SendTime = &t
	}
	return cp
}

// sendExternal hands the external recipients of msg to the provider. It
// reports whether anything was handed over.
func (e *Engine) sendExternal(ctx context.Context, msg *email.Message) (bool, error) {
	out := e.buildOutbound(msg)
	if out == nil {
		e.logger.Debug("No external recipients", slog.String("message_id", msg.ID))
		return false, nil
	}
	if e.provider == nil {
		e.logger.Warn("No outbound provider configured, external recipients dropped",
			slog.String("message_id", msg.ID),
			slog.Int("recipients", len(out.Recipients())))
		return false, nil
	}

	if acc, err := e.store.Accounts().FindByID(ctx, msg.AccountID); err == nil {
		out.RelayHost, out.RelayPort = acc.SMTPHost, acc.SMTPPort
	}

	if msg.HasAttachment {
		files, err := e.loadFiles(ctx, msg.ID)
		if err != nil {
			return false, err
		}
		out.Attachments = files
	}

	if err := e.provider.Send(ctx, out); err != nil {
		e.logger.Error("External delivery failed",
			slog.String("message_id", msg.ID),
			slog.String("provider", e.provider.Name()),
			slog.String("error", err.Error()))
		return false, err
	}
	e.logger.Info("External delivery accepted",
		slog.String("message_id", msg.ID),
		slog.String("provider", e.provider.Name()),
		slog.Int("recipients", len(out.Recipients())))
	return true, nil
}

// buildOutbound returns nil when msg has no external recipients.
func (e *Engine) buildOutbound(msg *email.Message) *email.Outbound {
	to := email.SplitAddresses(email.FilterExternal(msg.To, e.internalDomain))
	cc := email.SplitAddresses(email.FilterExternal(msg.Cc, e.internalDomain))
	bcc := email.SplitAddresses(email.FilterExternal(msg.Bcc, e.internalDomain))
	if len(to)+len(cc)+len(bcc) == 0 {
		return nil
	}
	return &email.Outbound{
		MessageID: msg.ID,
		From:      msg.From,
		To:        to,
		Cc:        cc,
		Bcc:       bcc,
		Subject:   msg.Subject,
		TextBody:  msg.TextBody,
		HTMLBody:  msg.HTMLBody,
		Priority:  msg.Priority,
	}
}

func (e *Engine) loadFiles(ctx context.Context, messageID string) ([]email.File, error) {
	atts, err := e.store.Attachments().FindByMessageID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments: %w", err)
	}
	if len(atts) == 0 {
		return nil, nil
	}
	if e.blobs == nil {
		return nil, ErrNoBlobStore
	}

	files := make([]email.File, 0, len(atts))
	for _, a := range atts {
		content, err := blob.ReadAll(ctx, e.blobs, a.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", a.FileName, err)
		}
		files = append(files, email.File{
			Filename:    a.FileName,
			ContentType: a.ContentType,
			Content:     content,
		})
	}
	return files, nil
}

// linkAttachments ties uploaded attachments to messageID. An attachment
// already linked to another owner's message is refused.
func linkAttachments(ctx context.Context, tx store.Store, ownerID, messageID string, ids []string) error {
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		att, err := tx.Attachments().FindByID(ctx, id)
		if store.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrAttachmentNotFound, id)
		}
		if err != nil {
			return err
		}
		if att.MessageID != "" && att.MessageID != messageID {
			prev, err := tx.Messages().FindByIDIncludingDeleted(ctx, att.MessageID)
			if err == nil && prev.OwnerID != ownerID {
				return ErrForbidden
			}
		}
		if err := tx.Attachments().Link(ctx, id, messageID); err != nil {
			return fmt.Errorf("failed to link attachment %s: %w", id, err)
		}
	}
	return nil
}

// discardDraft removes the draft a message was composed from. A missing
// or non-draft message is left alone.
func discardDraft(ctx context.Context, tx store.Store, ownerID, draftID string) error {
	draft, err := requireOwned(ctx, tx, ownerID, draftID)
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if draft.Folder != email.FolderDrafts {
		return nil
	}
	if err := tx.Attachments().DeleteByMessageID(ctx, draft.ID); err != nil {
		return fmt.Errorf("failed to drop draft attachments: %w", err)
	}
	if err := tx.Messages().Delete(ctx, draft.ID); err != nil {
		return fmt.Errorf("failed to drop draft: %w", err)
	}
	return nil
}
