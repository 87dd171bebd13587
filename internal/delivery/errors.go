package delivery

import "errors"

// Sentinel errors returned by the Engine.
var (
	// ErrNoRecipients is returned when To, Cc and Bcc are all empty.
	ErrNoRecipients = errors.New("delivery: at least one of to, cc or bcc is required")

	// ErrAccountNotFound is returned when the sending account does not
	// exist, belongs to someone else, or the owner has no default account.
	ErrAccountNotFound = errors.New("delivery: sending account not found")

	// ErrMessageNotFound is returned when a message does not exist or is
	// not visible to the caller.
	ErrMessageNotFound = errors.New("delivery: message not found")

	// ErrAttachmentNotFound is returned when a referenced attachment does
	// not exist.
	ErrAttachmentNotFound = errors.New("delivery: attachment not found")

	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("delivery: forbidden")

	// ErrNotDraft is returned when a draft operation targets a message
	// outside the drafts folder.
	ErrNotDraft = errors.New("delivery: message is not a draft")

	// ErrInvalidSchedule is returned when a scheduled time is missing or
	// in the past.
	ErrInvalidSchedule = errors.New("delivery: scheduled time must be in the future")

	// ErrInvalidPriority is returned for priorities outside 1..5.
	ErrInvalidPriority = errors.New("delivery: priority must be between 1 and 5")

	// ErrTransport wraps failures of the external leg. Send and SendDraft
	// return it after local delivery has committed.
	ErrTransport = errors.New("delivery: external transport failed")

	// ErrNoBlobStore is returned by Attach when no content store is configured.
	ErrNoBlobStore = errors.New("delivery: attachment storage is not configured")
)
