// Package store defines the persistence contract used by the delivery
// engine, the account service and the dispatch poller.
package store

import (
	"context"
	"time"

	"github.com/euphoria1203/campus-email/internal/email"
)

// MessageStore persists mail records.
type MessageStore interface {
	// Create assigns an ID when m.ID is empty and stores m.
	Create(ctx context.Context, m *email.Message) error
	Update(ctx context.Context, m *email.Message) error
	// FindByID returns a message that is not flagged deleted.
	FindByID(ctx context.Context, id string) (*email.Message, error)
	// FindByIDIncludingDeleted also returns messages flagged deleted, as
	// needed to restore from trash.
	FindByIDIncludingDeleted(ctx context.Context, id string) (*email.Message, error)
	// FindDueScheduled returns up to limit scheduled, non-deleted
	// messages whose send time is at or before before, oldest first.
	FindDueScheduled(ctx context.Context, before time.Time, limit int) ([]*email.Message, error)
	// List returns the messages of owner in folder, newest first. An
	// empty folder lists every live message, "trash" lists deleted
	// messages and "starred" lists starred live messages.
	List(ctx context.Context, ownerID, folder string) ([]*email.Message, error)
	// Search returns the messages of q.OwnerID in q.Folder (as for List)
	// whose subject, sender, To, Cc or plain body contains q.Keyword,
	// ignoring case. Results are newest first and paged by Limit/Offset.
	Search(ctx context.Context, q SearchQuery) ([]*email.Message, error)
	// Stats counts the messages of ownerID.
	Stats(ctx context.Context, ownerID string) (email.Stats, error)
	Delete(ctx context.Context, id string) error
}

// SearchQuery selects messages for MessageStore.Search.
type SearchQuery struct {
	OwnerID string
	Keyword string
	Folder  string
	Limit   int
	Offset  int
}

// AccountStore persists mail accounts.
type AccountStore interface {
	Create(ctx context.Context, a *email.Account) error
	Update(ctx context.Context, a *email.Account) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*email.Account, error)
	// FindByAddress matches the address case-insensitively.
	FindByAddress(ctx context.Context, address string) (*email.Account, error)
	FindDefault(ctx context.Context, userID string) (*email.Account, error)
	CountDefaults(ctx context.Context, userID string) (int, error)
	// ClearDefault unsets the default flag on every account of userID
	// except exceptID.
	ClearDefault(ctx context.Context, userID, exceptID string) error
	SetDefault(ctx context.Context, id string, isDefault bool) error
	// ListByUser returns the accounts of userID, oldest first.
	ListByUser(ctx context.Context, userID string) ([]*email.Account, error)
	// LockUser serializes default-flag repairs for userID until the
	// surrounding transaction ends.
	LockUser(ctx context.Context, userID string) error
}

// AttachmentStore persists attachment records.
type AttachmentStore interface {
	Create(ctx context.Context, a *email.Attachment) error
	FindByID(ctx context.Context, id string) (*email.Attachment, error)
	FindByMessageID(ctx context.Context, messageID string) ([]*email.Attachment, error)
	// Link ties an unlinked attachment to a message.
	Link(ctx context.Context, id, messageID string) error
	// BatchInsert stores clones; IDs are assigned where empty.
	BatchInsert(ctx context.Context, atts []*email.Attachment) error
	DeleteByMessageID(ctx context.Context, messageID string) error
}

// Store groups the three stores and runs units of work atomically.
type Store interface {
	Messages() MessageStore
	Accounts() AccountStore
	Attachments() AttachmentStore

	// WithinTx runs fn against a transactional view of the store. The
	// work is committed when fn returns nil and rolled back otherwise.
	// Calling WithinTx on a transactional view joins the open transaction.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
