// Package memory provides an in-memory implementation of store.Store for
// tests and single-process runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store keeps every record in maps guarded by one mutex. A transaction
// holds the mutex for its whole duration and restores a snapshot when it
// fails, so transactions are fully serialized.
type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{d: newData(), now: func() time.Time { return time.Now().UTC() }}
}

type data struct {
	messages    map[string]*email.Message
	accounts    map[string]*email.Account
	attachments map[string]*email.Attachment

	// order records insertion order for stable listings.
	order map[string]int64
	seq   int64
}

func newData() *data {
	return &data{
		messages:    make(map[string]*email.Message),
		accounts:    make(map[string]*email.Account),
		attachments: make(map[string]*email.Attachment),
		order:       make(map[string]int64),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.messages {
		c.messages[k] = v.Clone()
	}
	for k, v := range d.accounts {
		a := *v
		c.accounts[k] = &a
	}
	for k, v := range d.attachments {
		a := *v
		c.attachments[k] = &a
	}
	for k, v := range d.order {
		c.order[k] = v
	}
	c.seq = d.seq
	return c
}

func (d *data) track(id string) {
	d.seq++
	d.order[id] = d.seq
}

// view runs operations either under the store mutex or, inside a
// transaction, directly on the locked data.
type view struct {
	s  *Store
	tx *data
}

func (v view) with(fn func(d *data) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.d)
}

func (s *Store) Messages() store.MessageStore       { return messages{view{s: s}} }
func (s *Store) Accounts() store.AccountStore       { return accounts{view{s: s}} }
func (s *Store) Attachments() store.AttachmentStore { return attachments{view{s: s}} }

// WithinTx runs fn with exclusive access to the store.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	if err := fn(txStore{view{s: s, tx: s.d}}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

type txStore struct{ v view }

func (t txStore) Messages() store.MessageStore       { return messages{t.v} }
func (t txStore) Accounts() store.AccountStore       { return accounts{t.v} }
func (t txStore) Attachments() store.AttachmentStore { return attachments{t.v} }

func (t txStore) WithinTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

// =============================================================================
// Messages
// =============================================================================

type messages struct{ view }

func (m messages) Create(_ context.Context, msg *email.Message) error {
	return m.with(func(d *data) error {
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		if _, ok := d.messages[msg.ID]; ok {
			return store.ErrDuplicateEntry
		}
		now := m.s.now()
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		msg.UpdatedAt = now
		d.messages[msg.ID] = msg.Clone()
		d.track(msg.ID)
		return nil
	})
}

func (m messages) Update(_ context.Context, msg *email.Message) error {
	return m.with(func(d *data) error {
		if _, ok := d.messages[msg.ID]; !ok {
			return store.ErrNotFound
		}
		msg.UpdatedAt = m.s.now()
		d.messages[msg.ID] = msg.Clone()
		return nil
	})
}

func (m messages) FindByID(_ context.Context, id string) (*email.Message, error) {
	var out *email.Message
	err := m.with(func(d *data) error {
		msg, ok := d.messages[id]
		if !ok || msg.IsDeleted {
			return store.ErrNotFound
		}
		out = msg.Clone()
		return nil
	})
	return out, err
}

func (m messages) FindByIDIncludingDeleted(_ context.Context, id string) (*email.Message, error) {
	var out *email.Message
	err := m.with(func(d *data) error {
		msg, ok := d.messages[id]
		if !ok {
			return store.ErrNotFound
		}
		out = msg.Clone()
		return nil
	})
	return out, err
}

func (m messages) FindDueScheduled(_ context.Context, before time.Time, limit int) ([]*email.Message, error) {
	var out []*email.Message
	err := m.with(func(d *data) error {
		for _, msg := range d.messages {
			if msg.Folder != email.FolderScheduled || msg.IsDeleted || msg.SendTime == nil {
				continue
			}
			if msg.SendTime.After(before) {
				continue
			}
			out = append(out, msg.Clone())
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].SendTime.Equal(*out[j].SendTime) {
				return out[i].SendTime.Before(*out[j].SendTime)
			}
			return d.order[out[i].ID] < d.order[out[j].ID]
		})
		return nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (m messages) List(_ context.Context, ownerID, folder string) ([]*email.Message, error) {
	var out []*email.Message
	err := m.with(func(d *data) error {
		for _, msg := range d.messages {
			if msg.OwnerID == ownerID && inFolder(msg, folder) {
				out = append(out, msg.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return d.order[out[i].ID] > d.order[out[j].ID]
		})
		return nil
	})
	return out, err
}

func (m messages) Search(_ context.Context, q store.SearchQuery) ([]*email.Message, error) {
	kw := strings.ToLower(q.Keyword)
	var out []*email.Message
	err := m.with(func(d *data) error {
		for _, msg := range d.messages {
			if msg.OwnerID == q.OwnerID && inFolder(msg, q.Folder) && matches(msg, kw) {
				out = append(out, msg.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return d.order[out[i].ID] > d.order[out[j].ID]
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(msg *email.Message, kw string) bool {
	for _, f := range []string{msg.Subject, msg.From, msg.To, msg.Cc, msg.TextBody} {
		if strings.Contains(strings.ToLower(f), kw) {
			return true
		}
	}
	return false
}

func (m messages) Stats(_ context.Context, ownerID string) (email.Stats, error) {
	var st email.Stats
	err := m.with(func(d *data) error {
		for _, msg := range d.messages {
			if msg.OwnerID != ownerID {
				continue
			}
			if msg.IsDeleted {
				st.Trashed++
				continue
			}
			st.Total++
			switch msg.Folder {
			case email.FolderInbox:
				st.Received++
				if !msg.IsRead {
					st.Unread++
				}
			case email.FolderSent:
				st.Sent++
			case email.FolderDrafts:
				st.Drafts++
			case email.FolderScheduled:
				st.Scheduled++
			}
			if msg.IsStarred {
				st.Starred++
			}
			if msg.HasAttachment {
				st.WithAttachment++
			}
		}
		return nil
	})
	return st, err
}

func inFolder(msg *email.Message, folder string) bool {
	switch folder {
	case "":
		return !msg.IsDeleted
	case email.FolderTrash:
		return msg.IsDeleted || email.IsTrash(msg.Folder)
	case email.FolderStarred:
		return !msg.IsDeleted && msg.IsStarred
	default:
		return !msg.IsDeleted && msg.Folder == folder
	}
}

func (m messages) Delete(_ context.Context, id string) error {
	return m.with(func(d *data) error {
		if _, ok := d.messages[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.messages, id)
		delete(d.order, id)
		return nil
	})
}

// =============================================================================
// Accounts
// =============================================================================

type accounts struct{ view }

func (a accounts) Create(_ context.Context, acc *email.Account) error {
	return a.with(func(d *data) error {
		if acc.ID == "" {
			acc.ID = uuid.New().String()
		}
		for _, existing := range d.accounts {
			if existing.ID == acc.ID || sameAddress(existing.Address, acc.Address) {
				return store.ErrDuplicateEntry
			}
		}
		if acc.CreatedAt.IsZero() {
			acc.CreatedAt = a.s.now()
		}
		c := *acc
		d.accounts[acc.ID] = &c
		d.track(acc.ID)
		return nil
	})
}

func (a accounts) Update(_ context.Context, acc *email.Account) error {
	return a.with(func(d *data) error {
		if _, ok := d.accounts[acc.ID]; !ok {
			return store.ErrNotFound
		}
		for _, existing := range d.accounts {
			if existing.ID != acc.ID && sameAddress(existing.Address, acc.Address) {
				return store.ErrDuplicateEntry
			}
		}
		c := *acc
		d.accounts[acc.ID] = &c
		return nil
	})
}

func (a accounts) Delete(_ context.Context, id string) error {
	return a.with(func(d *data) error {
		if _, ok := d.accounts[id]; !ok {
			return store.ErrNotFound
		}
		delete(d.accounts, id)
		delete(d.order, id)
		return nil
	})
}

func (a accounts) FindByID(_ context.Context, id string) (*email.Account, error) {
	var out *email.Account
	err := a.with(func(d *data) error {
		acc, ok := d.accounts[id]
		if !ok {
			return store.ErrNotFound
		}
		c := *acc
		out = &c
		return nil
	})
	return out, err
}

func (a accounts) FindByAddress(_ context.Context, address string) (*email.Account, error) {
	var out *email.Account
	err := a.with(func(d *data) error {
		for _, acc := range d.accounts {
			if sameAddress(acc.Address, address) {
				c := *acc
				out = &c
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (a accounts) FindDefault(_ context.Context, userID string) (*email.Account, error) {
	var out *email.Account
	err := a.with(func(d *data) error {
		for _, acc := range sortedAccounts(d, userID) {
			if acc.IsDefault {
				c := *acc
				out = &c
				return nil
			}
		}
		return store.ErrNotFound
	})
	return out, err
}

func (a accounts) CountDefaults(_ context.Context, userID string) (int, error) {
	n := 0
	err := a.with(func(d *data) error {
		for _, acc := range d.accounts {
			if acc.UserID == userID && acc.IsDefault {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (a accounts) ClearDefault(_ context.Context, userID, exceptID string) error {
	return a.with(func(d *data) error {
		for _, acc := range d.accounts {
			if acc.UserID == userID && acc.ID != exceptID {
				acc.IsDefault = false
			}
		}
		return nil
	})
}

func (a accounts) SetDefault(_ context.Context, id string, isDefault bool) error {
	return a.with(func(d *data) error {
		acc, ok := d.accounts[id]
		if !ok {
			return store.ErrNotFound
		}
		acc.IsDefault = isDefault
		return nil
	})
}

func (a accounts) ListByUser(_ context.Context, userID string) ([]*email.Account, error) {
	var out []*email.Account
	err := a.with(func(d *data) error {
		for _, acc := range sortedAccounts(d, userID) {
			c := *acc
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

// LockUser is a no-op: transactions already hold the store mutex.
func (a accounts) LockUser(context.Context, string) error { return nil }

func sortedAccounts(d *data, userID string) []*email.Account {
	var out []*email.Account
	for _, acc := range d.accounts {
		if acc.UserID == userID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return d.order[out[i].ID] < d.order[out[j].ID] })
	return out
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// =============================================================================
// Attachments
// =============================================================================

type attachments struct{ view }

func (a attachments) Create(_ context.Context, att *email.Attachment) error {
	return a.with(func(d *data) error {
		insertAttachment(d, att)
		return nil
	})
}

func (a attachments) FindByID(_ context.Context, id string) (*email.Attachment, error) {
	var out *email.Attachment
	err := a.with(func(d *data) error {
		att, ok := d.attachments[id]
		if !ok {
			return store.ErrNotFound
		}
		c := *att
		out = &c
		return nil
	})
	return out, err
}

func (a attachments) FindByMessageID(_ context.Context, messageID string) ([]*email.Attachment, error) {
	var out []*email.Attachment
	err := a.with(func(d *data) error {
		for _, att := range d.attachments {
			if att.MessageID == messageID {
				c := *att
				out = append(out, &c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return d.order[out[i].ID] < d.order[out[j].ID] })
		return nil
	})
	return out, err
}

func (a attachments) Link(_ context.Context, id, messageID string) error {
	return a.with(func(d *data) error {
		att, ok := d.attachments[id]
		if !ok {
			return store.ErrNotFound
		}
		att.MessageID = messageID
		return nil
	})
}

func (a attachments) BatchInsert(_ context.Context, atts []*email.Attachment) error {
	return a.with(func(d *data) error {
		for _, att := range atts {
			insertAttachment(d, att)
		}
		return nil
	})
}

func (a attachments) DeleteByMessageID(_ context.Context, messageID string) error {
	return a.with(func(d *data) error {
		for id, att := range d.attachments {
			if att.MessageID == messageID {
				delete(d.attachments, id)
				delete(d.order, id)
			}
		}
		return nil
	})
}

func insertAttachment(d *data, att *email.Attachment) {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	c := *att
	d.attachments[att.ID] = &c
	d.track(att.ID)
}
