package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
)

// Get returns a message owned by ownerID, deleted ones included. Bcc is
// blanked outside sender-side folders.
func (e *Engine) Get(ctx context.Context, ownerID, id string) (*email.Message, error) {
	m, err := e.store.Messages().FindByIDIncludingDeleted(ctx, id)
	if store.IsNotFound(err) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if m.OwnerID != ownerID {
		return nil, ErrMessageNotFound
	}
	email.Sanitize(m)
	return m, nil
}

// List returns the messages of ownerID in folder, newest first. Folder
// names are matched case-insensitively; "starred" and "trash" are
// virtual views and "" lists every live message.
func (e *Engine) List(ctx context.Context, ownerID, folder string) ([]*email.Message, error) {
	folder = strings.ToLower(strings.TrimSpace(folder))
	msgs, err := e.store.Messages().List(ctx, ownerID, folder)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		email.Sanitize(m)
	}
	return msgs, nil
}

// MaxSearchResults caps one page of Search results.
const MaxSearchResults = 200

// Search finds messages of ownerID whose subject, sender, To, Cc or plain
// body contains keyword. folder narrows the search as in List; page is
// zero-based and size is clamped to 1..MaxSearchResults. A blank keyword
// finds nothing.
func (e *Engine) Search(ctx context.Context, ownerID, keyword, folder string, page, size int) ([]*email.Message, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	size = min(max(size, 1), MaxSearchResults)
	page = max(page, 0)

	msgs, err := e.store.Messages().Search(ctx, store.SearchQuery{
		OwnerID: ownerID,
		Keyword: keyword,
		Folder:  strings.ToLower(strings.TrimSpace(folder)),
		Limit:   size,
		Offset:  page * size,
	})
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		email.Sanitize(m)
	}
	return msgs, nil
}

// Stats counts the mail of ownerID per folder.
func (e *Engine) Stats(ctx context.Context, ownerID string) (email.Stats, error) {
	return e.store.Messages().Stats(ctx, ownerID)
}

// Attachments lists the attachment records of a message owned by ownerID.
func (e *Engine) Attachments(ctx context.Context, ownerID, messageID string) ([]*email.Attachment, error) {
	if _, err := requireOwned(ctx, e.store, ownerID, messageID); err != nil {
		return nil, err
	}
	return e.store.Attachments().FindByMessageID(ctx, messageID)
}

// MarkRead flags a message as read.
func (e *Engine) MarkRead(ctx context.Context, ownerID, id string) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		m, err := requireOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if m.IsRead {
			return nil
		}
		m.IsRead = true
		return tx.Messages().Update(ctx, m)
	})
}

// ToggleStar flips the starred flag and returns the new value.
func (e *Engine) ToggleStar(ctx context.Context, ownerID, id string) (bool, error) {
	var starred bool
	err := e.store.WithinTx(ctx, func(tx store.Store) error {
		m, err := requireOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		m.IsStarred = !m.IsStarred
		starred = m.IsStarred
		return tx.Messages().Update(ctx, m)
	})
	return starred, err
}

// Trash moves messages to the trash, remembering where each came from.
// All ids must be owned by ownerID or nothing changes.
func (e *Engine) Trash(ctx context.Context, ownerID string, ids ...string) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		for _, id := range ids {
			m, err := requireOwned(ctx, tx, ownerID, id)
			if err != nil {
				return err
			}
			m.Folder = email.TrashFolder(m.Folder)
			m.IsDeleted = true
			if err := tx.Messages().Update(ctx, m); err != nil {
				return fmt.Errorf("failed to trash %s: %w", id, err)
			}
		}
		return nil
	})
}

// Restore returns trashed messages to their original folder. Unknown ids
// and messages that are not deleted are skipped.
func (e *Engine) Restore(ctx context.Context, ownerID string, ids ...string) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		for _, id := range ids {
			m, err := requireOwned(ctx, tx, ownerID, id)
			if errors.Is(err, ErrMessageNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !m.IsDeleted {
				continue
			}
			m.Folder = email.OriginalFolder(m.Folder)
			m.IsDeleted = false
			if err := tx.Messages().Update(ctx, m); err != nil {
				return fmt.Errorf("failed to restore %s: %w", id, err)
			}
		}
		return nil
	})
}

// DeletePermanently removes messages and their attachment records.
// Attachment content stays in the blob store because local copies share
// it.
func (e *Engine) DeletePermanently(ctx context.Context, ownerID string, ids ...string) error {
	return e.store.WithinTx(ctx, func(tx store.Store) error {
		for _, id := range ids {
			if _, err := requireOwned(ctx, tx, ownerID, id); err != nil {
				return err
			}
			if err := tx.Attachments().DeleteByMessageID(ctx, id); err != nil {
				return fmt.Errorf("failed to delete attachments of %s: %w", id, err)
			}
			if err := tx.Messages().Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", id, err)
			}
		}
		return nil
	})
}

// Attach uploads attachment content and stores an unlinked record for it.
// The returned ID is passed in Compose.AttachmentIDs.
func (e *Engine) Attach(ctx context.Context, filename, contentType string, r io.Reader) (*email.Attachment, error) {
	if e.blobs == nil {
		return nil, ErrNoBlobStore
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	cr := &countingReader{r: r}
	key, err := e.blobs.Put(ctx, filename, contentType, cr)
	if err != nil {
		return nil, fmt.Errorf("failed to store attachment content: %w", err)
	}

	att := &email.Attachment{
		FileName:    filename,
		ContentType: contentType,
		Size:        cr.n,
		StoragePath: key,
	}
	if err := e.store.Attachments().Create(ctx, att); err != nil {
		if derr := e.blobs.Delete(ctx, key); derr != nil {
			e.logger.Warn("Failed to remove orphaned attachment content",
				slog.String("key", key),
				slog.String("error", derr.Error()))
		}
		return nil, fmt.Errorf("failed to store attachment: %w", err)
	}
	return att, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
