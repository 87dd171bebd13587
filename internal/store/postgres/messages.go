package postgres

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
)

const messageColumns = `id, owner_id, account_id, folder, from_address, to_address, cc_address,
       bcc_address, subject, content, plain_content, is_read, is_starred, is_deleted,
       has_attachment, priority, send_time, receive_time, created_at, updated_at`

type messages struct{ s *Store }

func (m messages) Create(ctx context.Context, msg *email.Message) error {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	_, err := m.s.q.NamedExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :owner_id, :account_id, :folder, :from_address, :to_address, :cc_address,
		        :bcc_address, :subject, :content, :plain_content, :is_read, :is_starred, :is_deleted,
		        :has_attachment, :priority, :send_time, :receive_time, :created_at, :updated_at)
	`, msg)
	return mapErr("insert message", err)
}

func (m messages) Update(ctx context.Context, msg *email.Message) error {
	if !validID(msg.ID) {
		return store.ErrNotFound
	}
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	msg.UpdatedAt = time.Now().UTC()
	res, err := m.s.q.NamedExecContext(ctx, `
		UPDATE messages SET
			owner_id = :owner_id, account_id = :account_id, folder = :folder,
			from_address = :from_address, to_address = :to_address, cc_address = :cc_address,
			bcc_address = :bcc_address, subject = :subject, content = :content,
			plain_content = :plain_content, is_read = :is_read, is_starred = :is_starred,
			is_deleted = :is_deleted, has_attachment = :has_attachment, priority = :priority,
			send_time = :send_time, receive_time = :receive_time, updated_at = :updated_at
		WHERE id = :id
	`, msg)
	if err != nil {
		return mapErr("update message", err)
	}
	return requireRow(res, "update message")
}

func (m messages) FindByID(ctx context.Context, id string) (*email.Message, error) {
	return m.find(ctx, id, `SELECT `+messageColumns+` FROM messages WHERE id = $1 AND is_deleted = FALSE`)
}

func (m messages) FindByIDIncludingDeleted(ctx context.Context, id string) (*email.Message, error) {
	return m.find(ctx, id, `SELECT `+messageColumns+` FROM messages WHERE id = $1`)
}

func (m messages) find(ctx context.Context, id, query string) (*email.Message, error) {
	if !validID(id) {
		return nil, store.ErrNotFound
	}
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	var msg email.Message
	if err := m.s.q.GetContext(ctx, &msg, query, id); err != nil {
		return nil, mapErr("get message", err)
	}
	return &msg, nil
}

func (m messages) FindDueScheduled(ctx context.Context, before time.Time, limit int) ([]*email.Message, error) {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	var out []*email.Message
	err := m.s.q.SelectContext(ctx, &out, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE folder = $1 AND is_deleted = FALSE AND send_time IS NOT NULL AND send_time <= $2
		ORDER BY send_time ASC, created_at ASC
		LIMIT $3
	`, email.FolderScheduled, before, limit)
	if err != nil {
		return nil, mapErr("find due scheduled", err)
	}
	return out, nil
}

// folderFilter returns the WHERE fragment and argument selecting folder.
// The fragment uses $2 when it takes an argument.
func folderFilter(folder string) (string, []any) {
	switch folder {
	case "":
		return "is_deleted = FALSE", nil
	case email.FolderTrash:
		return "(is_deleted = TRUE OR folder = 'trash' OR folder LIKE 'trash:%')", nil
	case email.FolderStarred:
		return "is_deleted = FALSE AND is_starred = TRUE", nil
	default:
		return "is_deleted = FALSE AND folder = $2", []any{folder}
	}
}

func (m messages) List(ctx context.Context, ownerID, folder string) ([]*email.Message, error) {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	where, extra := folderFilter(folder)
	args := append([]any{ownerID}, extra...)

	var out []*email.Message
	err := m.s.q.SelectContext(ctx, &out, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE owner_id = $1 AND `+where+`
		ORDER BY created_at DESC, id
	`, args...)
	if err != nil {
		return nil, mapErr("list messages", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches keyword anywhere, with LIKE wildcards taken literally.
func likePattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}

func (m messages) Search(ctx context.Context, q store.SearchQuery) ([]*email.Message, error) {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	where, extra := folderFilter(q.Folder)
	args := append([]any{q.OwnerID}, extra...)
	args = append(args, likePattern(q.Keyword))
	kw := "$" + strconv.Itoa(len(args))

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE owner_id = $1 AND ` + where + `
		  AND (subject ILIKE ` + kw + ` OR from_address ILIKE ` + kw + ` OR to_address ILIKE ` + kw + `
		       OR cc_address ILIKE ` + kw + ` OR plain_content ILIKE ` + kw + `)
		ORDER BY created_at DESC, id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	var out []*email.Message
	if err := m.s.q.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapErr("search messages", err)
	}
	return out, nil
}

func (m messages) Stats(ctx context.Context, ownerID string) (email.Stats, error) {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	var st email.Stats
	err := m.s.q.GetContext(ctx, &st, `
		SELECT
			COUNT(*) FILTER (WHERE NOT is_deleted) AS total,
			COUNT(*) FILTER (WHERE NOT is_deleted AND folder = 'inbox') AS received,
			COUNT(*) FILTER (WHERE NOT is_deleted AND folder = 'sent') AS sent,
			COUNT(*) FILTER (WHERE NOT is_deleted AND folder = 'drafts') AS drafts,
			COUNT(*) FILTER (WHERE NOT is_deleted AND folder = 'scheduled') AS scheduled,
			COUNT(*) FILTER (WHERE NOT is_deleted AND folder = 'inbox' AND NOT is_read) AS unread,
			COUNT(*) FILTER (WHERE NOT is_deleted AND is_starred) AS starred,
			COUNT(*) FILTER (WHERE NOT is_deleted AND has_attachment) AS with_attachment,
			COUNT(*) FILTER (WHERE is_deleted) AS trashed
		FROM messages
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return email.Stats{}, mapErr("message stats", err)
	}
	return st, nil
}

func (m messages) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return store.ErrNotFound
	}
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()

	res, err := m.s.q.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete message", err)
	}
	return requireRow(res, "delete message")
}
