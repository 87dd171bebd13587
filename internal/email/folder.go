package email

import "strings"

// Folder names.
const (
	FolderInbox     = "inbox"
	FolderSent      = "sent"
	FolderDrafts    = "drafts"
	FolderTrash     = "trash"
	FolderScheduled = "scheduled"

	// FolderStarred is a virtual folder listing starred messages.
	FolderStarred = "starred"
)

const trashPrefix = FolderTrash + ":"

// TrashFolder returns the tombstone folder that remembers where a message
// was trashed from. Trashing an already trashed message keeps the
// existing tombstone.
func TrashFolder(folder string) string {
	if IsTrash(folder) {
		return folder
	}
	return trashPrefix + folder
}

// IsTrash reports whether folder is "trash" or a trash tombstone.
func IsTrash(folder string) bool {
	return folder == FolderTrash || strings.HasPrefix(folder, trashPrefix)
}

// OriginalFolder recovers the folder a message lived in before it was
// trashed. Blank and bare "trash" map to inbox; other folders are
// returned unchanged.
func OriginalFolder(folder string) string {
	if strings.TrimSpace(folder) == "" {
		return FolderInbox
	}
	if strings.HasPrefix(folder, trashPrefix) {
		orig := strings.TrimPrefix(folder, trashPrefix)
		if strings.TrimSpace(orig) == "" || strings.HasPrefix(orig, FolderTrash) {
			return FolderInbox
		}
		return orig
	}
	if folder == FolderTrash {
		return FolderInbox
	}
	return folder
}

// Sanitize blanks Bcc unless the message belongs to a sender-side folder
// (sent or drafts), judged after tombstone normalization.
func Sanitize(m *Message) {
	if m == nil {
		return
	}
	switch strings.ToLower(OriginalFolder(m.Folder)) {
	case FolderSent, FolderDrafts:
		return
	}
	m.Bcc = ""
}
