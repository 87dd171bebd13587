package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/euphoria1203/campus-email/internal/email"
)

func TestSend_BasicMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Outbound{
		From:     "Alice <alice@campus.mail>",
		To:       []string{"bob@example.com", "carol@example.com"},
		Subject:  "Lab schedule",
		TextBody: "Lab moves to room 204.",
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"From: Alice <alice@campus.mail>",
		"To: bob@example.com, carol@example.com",
		"Subject: Lab schedule",
		"Lab moves to room 204.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
	for _, absent := range []string{"Cc:", "Bcc:", "Attachments:"} {
		if strings.Contains(output, absent) {
			t.Errorf("output should not contain %q", absent)
		}
	}
	if !strings.HasPrefix(output, separator) || !strings.HasSuffix(output, separator) {
		t.Error("output should be framed by separator lines")
	}
}

func TestSend_CcAndBcc(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Outbound{
		To:       []string{"bob@example.com"},
		Cc:       []string{"carol@example.com"},
		Bcc:      []string{"dave@example.com"},
		TextBody: "Hello",
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Cc: carol@example.com") {
		t.Error("output missing Cc line")
	}
	if !strings.Contains(output, "Bcc: dave@example.com") {
		t.Error("output missing Bcc line")
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Outbound{
		To:       []string{"bob@example.com"},
		TextBody: "Slides attached.",
		Attachments: []email.File{
			{Filename: "lecture.pdf", Content: make([]byte, 1258291)},
			{Filename: "grades.xlsx", Content: make([]byte, 46080)},
		},
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Attachments: lecture.pdf (1.2 MB), grades.xlsx (45.0 KB)") {
		t.Errorf("unexpected attachments line in %q", output)
	}
}

func TestSend_HTMLBodyFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Outbound{To: []string{"bob@example.com"}, HTMLBody: "<p>HTML content</p>"}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "<p>HTML content</p>") {
		t.Error("output should display HTML body when text body is empty")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{})
	if err := p.Send(context.Background(), &email.Outbound{}); err == nil {
		t.Fatal("expected the write error to surface")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New().Name(); got != "stdout" {
		t.Errorf("Name: got %q, want %q", got, "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestSend_PriorityAndRelay(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Outbound{
		MessageID: "m-1",
		To:        []string{"bob@example.com"},
		Priority:  email.PriorityHigh,
		RelayHost: "smtp.dept.example",
		RelayPort: 587,
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Message-Id: m-1", "Priority: 1", "Relay: smtp.dept.example:587", "Subject: \n"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q", want)
		}
	}

	buf.Reset()
	msg.Priority = email.PriorityNormal
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Priority:") {
		t.Error("normal priority should not be printed")
	}
}
