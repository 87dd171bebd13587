package parser

import (
	"strings"
	"testing"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Sender <sender@example.com>",
		"To: alice@campus.mail",
		"Subject: Test Subject",
		"",
		"Hello, this is a plain text email.",
		"",
	}, "\r\n"))

	msg := Parse(raw, "bounce@example.com", []string{"alice@campus.mail"})

	if msg.From != "Sender <sender@example.com>" {
		t.Errorf("From: got %q, want %q", msg.From, "Sender <sender@example.com>")
	}
	if msg.EnvelopeFrom != "bounce@example.com" {
		t.Errorf("EnvelopeFrom: got %q, want %q", msg.EnvelopeFrom, "bounce@example.com")
	}
	if len(msg.EnvelopeTo) != 1 || msg.EnvelopeTo[0] != "alice@campus.mail" {
		t.Errorf("EnvelopeTo: got %v, want [alice@campus.mail]", msg.EnvelopeTo)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.Body != "Hello, this is a plain text email." {
		t.Errorf("Body: got %q, want %q", msg.Body, "Hello, this is a plain text email.")
	}
}

func TestParseNoFromHeaderKeepsEnvelope(t *testing.T) {
	t.Parallel()

	raw := []byte("Subject: hi\r\n\r\nbody\r\n")
	msg := Parse(raw, "env@example.com", nil)

	if msg.From != "env@example.com" {
		t.Errorf("From: got %q, want envelope sender", msg.From)
	}
}

func TestParseNoSeparator(t *testing.T) {
	t.Parallel()

	raw := []byte("just a body line\r\nand another\r\n")
	msg := Parse(raw, "env@example.com", nil)

	if msg.Subject != "" {
		t.Errorf("Subject: got %q, want empty", msg.Subject)
	}
	if msg.Body != string(raw) {
		t.Errorf("Body: got %q, want the raw input", msg.Body)
	}
	if msg.From != "env@example.com" {
		t.Errorf("From: got %q, want envelope sender", msg.From)
	}
}

func TestParseLFOnly(t *testing.T) {
	t.Parallel()

	raw := []byte("Subject: Unix lines\nFrom: a@example.com\n\nbody here\n")
	msg := Parse(raw, "env@example.com", nil)

	if msg.Subject != "Unix lines" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Unix lines")
	}
	if msg.From != "a@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "a@example.com")
	}
	if msg.Body != "body here" {
		t.Errorf("Body: got %q, want %q", msg.Body, "body here")
	}
}

func TestParseFoldedSubject(t *testing.T) {
	t.Parallel()

	raw := []byte("Subject: Hello\r\n world\r\n\r\nbody")
	msg := Parse(raw, "", nil)

	if msg.Subject != "Hello world" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Hello world")
	}
}

func TestParseEncodedSubject(t *testing.T) {
	t.Parallel()

	raw := []byte("Subject: =?UTF-8?B?SGVsbG8gd29ybGQ=?=\r\n\r\nbody")
	msg := Parse(raw, "", nil)

	if msg.Subject != "Hello world" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Hello world")
	}
}

func TestParseMalformedHeadersKeepsBody(t *testing.T) {
	t.Parallel()

	raw := []byte("this is not a header\r\n\r\n  the body  ")
	msg := Parse(raw, "env@example.com", nil)

	if msg.Subject != "" {
		t.Errorf("Subject: got %q, want empty", msg.Subject)
	}
	if msg.Body != "the body" {
		t.Errorf("Body: got %q, want %q", msg.Body, "the body")
	}
	if msg.From != "env@example.com" {
		t.Errorf("From: got %q, want envelope sender", msg.From)
	}
}

func TestParseDotLinePreserved(t *testing.T) {
	t.Parallel()

	raw := []byte("Subject: dots\r\n\r\n.leading dot\r\n")
	msg := Parse(raw, "", nil)

	if msg.Body != ".leading dot" {
		t.Errorf("Body: got %q, want %q", msg.Body, ".leading dot")
	}
}

func TestParseRecipientHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"To: Alice <alice@campus.mail>, bob@campus.mail",
		"Cc: =?UTF-8?Q?Caf=C3=A9?= <cafe@campus.mail>",
		"",
		"body",
	}, "\r\n"))
	msg := Parse(raw, "s@example.com", []string{"alice@campus.mail", "bob@campus.mail", "hidden@campus.mail"})

	if msg.To != "Alice <alice@campus.mail>, bob@campus.mail" {
		t.Errorf("To: got %q", msg.To)
	}
	if msg.Cc != "Café <cafe@campus.mail>" {
		t.Errorf("Cc: got %q", msg.Cc)
	}

	bare := Parse([]byte("Subject: x\r\n\r\nbody"), "s@example.com", nil)
	if bare.To != "" || bare.Cc != "" {
		t.Errorf("missing headers: To %q Cc %q, want empty", bare.To, bare.Cc)
	}
}
