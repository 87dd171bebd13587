// Package email defines the mail data model shared by the SMTP front end,
// the delivery engine and the stores.
package email

import (
	"time"

	"github.com/k3a/html2text"
)

// Priority levels carried on a message.
const (
	PriorityHigh   = 1
	PriorityNormal = 3
	PriorityLow    = 5
)

// DefaultSubject is used for inbound mail that arrives without a Subject header.
const DefaultSubject = "(no subject)"

// Message is a stored mail record. Every recipient of a locally delivered
// mail owns a separate Message.
type Message struct {
	ID        string `db:"id"`
	OwnerID   string `db:"owner_id"`
	AccountID string `db:"account_id"`
	Folder    string `db:"folder"`

	// From may carry a display name ("Name <addr>").
	From string `db:"from_address"`
	// To, Cc and Bcc are raw ";" or "," separated address lists.
	To  string `db:"to_address"`
	Cc  string `db:"cc_address"`
	Bcc string `db:"bcc_address"`

	Subject  string `db:"subject"`
	HTMLBody string `db:"content"`
	TextBody string `db:"plain_content"`

	IsRead        bool `db:"is_read"`
	IsStarred     bool `db:"is_starred"`
	IsDeleted     bool `db:"is_deleted"`
	HasAttachment bool `db:"has_attachment"`
	Priority      int  `db:"priority"`

	SendTime    *time.Time `db:"send_time"`
	ReceiveTime *time.Time `db:"receive_time"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Stats counts the mail of one user. Trashed messages only count in
// Trashed.
type Stats struct {
	Total          int `db:"total"`
	Received       int `db:"received"`
	Sent           int `db:"sent"`
	Drafts         int `db:"drafts"`
	Scheduled      int `db:"scheduled"`
	Unread         int `db:"unread"`
	Starred        int `db:"starred"`
	WithAttachment int `db:"with_attachment"`
	Trashed        int `db:"trashed"`
}

// Clone returns a copy of m that shares no pointers with it.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.SendTime != nil {
		t := *m.SendTime
		c.SendTime = &t
	}
	if m.ReceiveTime != nil {
		t := *m.ReceiveTime
		c.ReceiveTime = &t
	}
	return &c
}

// HasRecipients reports whether at least one of To, Cc or Bcc is non-blank.
func (m *Message) HasRecipients() bool {
	return HasAny(m.To, m.Cc, m.Bcc)
}

// Account is a mail address owned by a user. Its SMTP host and port are
// used to relay outbound mail.
type Account struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Address     string    `db:"email_address"`
	DisplayName string    `db:"display_name"`
	SMTPHost    string    `db:"smtp_host"`
	SMTPPort    int       `db:"smtp_port"`
	IsDefault   bool      `db:"is_default"`
	CreatedAt   time.Time `db:"created_at"`
}

// Sender formats the account as a From value.
func (a *Account) Sender() string {
	return FormatSender(a.DisplayName, a.Address)
}

// Attachment is a file record. The content lives in a blob store under
// StoragePath; clones made for local copies share the same path.
type Attachment struct {
	ID          string `db:"id"`
	MessageID   string `db:"message_id"`
	FileName    string `db:"file_name"`
	ContentType string `db:"file_type"`
	Size        int64  `db:"file_size"`
	StoragePath string `db:"storage_path"`
}

// Parsed is the result of parsing an SMTP DATA block together with its
// envelope.
type Parsed struct {
	EnvelopeFrom string
	EnvelopeTo   []string

	// From is the header From when present, else the envelope sender.
	From string
	// To and Cc are the decoded header lists, empty when absent. Blind
	// recipients only appear in EnvelopeTo.
	To      string
	Cc      string
	Subject string
	Body    string
	Raw     []byte
}

// PlainText derives a plain-text rendition of an HTML body.
func PlainText(html string) string {
	if html == "" {
		return ""
	}
	return html2text.HTML2Text(html)
}
