package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
)

const attachmentColumns = `id, message_id, file_name, file_type, file_size, storage_path`

const insertAttachment = `
	INSERT INTO attachments (` + attachmentColumns + `)
	VALUES (:id, :message_id, :file_name, :file_type, :file_size, :storage_path)`

type attachments struct{ s *Store }

func (a attachments) Create(ctx context.Context, att *email.Attachment) error {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	_, err := a.s.q.NamedExecContext(ctx, insertAttachment, att)
	return mapErr("insert attachment", err)
}

func (a attachments) FindByID(ctx context.Context, id string) (*email.Attachment, error) {
	if !validID(id) {
		return nil, store.ErrNotFound
	}
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	var att email.Attachment
	err := a.s.q.GetContext(ctx, &att, `SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr("get attachment", err)
	}
	return &att, nil
}

func (a attachments) FindByMessageID(ctx context.Context, messageID string) ([]*email.Attachment, error) {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	var out []*email.Attachment
	err := a.s.q.SelectContext(ctx, &out, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE message_id = $1
		ORDER BY created_at ASC, id
	`, messageID)
	if err != nil {
		return nil, mapErr("list attachments", err)
	}
	return out, nil
}

func (a attachments) Link(ctx context.Context, id, messageID string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	res, err := a.s.q.ExecContext(ctx, `UPDATE attachments SET message_id = $1 WHERE id = $2`, messageID, id)
	if err != nil {
		return mapErr("link attachment", err)
	}
	return requireRow(res, "link attachment")
}

func (a attachments) BatchInsert(ctx context.Context, atts []*email.Attachment) error {
	if len(atts) == 0 {
		return nil
	}
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	for _, att := range atts {
		if att.ID == "" {
			att.ID = uuid.New().String()
		}
	}
	_, err := a.s.q.NamedExecContext(ctx, insertAttachment, atts)
	return mapErr("batch insert attachments", err)
}

func (a attachments) DeleteByMessageID(ctx context.Context, messageID string) error {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()

	_, err := a.s.q.ExecContext(ctx, `DELETE FROM attachments WHERE message_id = $1`, messageID)
	return mapErr("delete attachments", err)
}
