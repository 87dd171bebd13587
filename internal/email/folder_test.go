package email

import (
	"strings"
	"testing"
	"time"
)

func TestOriginalFolder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		folder string
		want   string
	}{
		{"", FolderInbox},
		{"trash", FolderInbox},
		{"trash:", FolderInbox},
		{"trash:trash:sent", FolderInbox},
		{"trash:sent", FolderSent},
		{"trash:drafts", FolderDrafts},
		{"sent", FolderSent},
		{"inbox", FolderInbox},
	}
	for _, tt := range tests {
		if got := OriginalFolder(tt.folder); got != tt.want {
			t.Errorf("OriginalFolder(%q): got %q, want %q", tt.folder, got, tt.want)
		}
	}
}

func TestTrashFolder_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, f := range []string{FolderInbox, FolderSent, FolderDrafts, FolderScheduled} {
		tomb := TrashFolder(f)
		if !IsTrash(tomb) {
			t.Errorf("IsTrash(%q) = false", tomb)
		}
		if got := OriginalFolder(tomb); got != f {
			t.Errorf("OriginalFolder(TrashFolder(%q)): got %q", f, got)
		}
	}
	if got := TrashFolder("trash:sent"); got != "trash:sent" {
		t.Errorf("TrashFolder on tombstone: got %q", got)
	}
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		folder  string
		keepBcc bool
	}{
		{FolderSent, true},
		{FolderDrafts, true},
		{"trash:sent", true},
		{FolderInbox, false},
		{FolderScheduled, false},
		{"trash:inbox", false},
		{FolderTrash, false},
	}
	for _, tt := range tests {
		m := &Message{Folder: tt.folder, Bcc: "hidden@campus.mail"}
		Sanitize(m)
		if got := m.Bcc != ""; got != tt.keepBcc {
			t.Errorf("Sanitize folder %q: bcc kept = %v, want %v", tt.folder, got, tt.keepBcc)
		}
	}
}

func TestMessageClone(t *testing.T) {
	t.Parallel()

	now := time.Now()
	m := &Message{ID: "1", SendTime: &now}
	c := m.Clone()
	c.ID = "2"
	*c.SendTime = now.Add(time.Hour)
	if m.ID != "1" || !m.SendTime.Equal(now) {
		t.Error("Clone shares state with the original")
	}
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	got := PlainText("<p>Hello <b>world</b></p>")
	if !strings.Contains(got, "Hello world") {
		t.Errorf("PlainText: got %q, want it to contain %q", got, "Hello world")
	}
	if PlainText("") != "" {
		t.Error("PlainText(\"\") should be empty")
	}
}
