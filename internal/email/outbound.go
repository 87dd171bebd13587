package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Outbound is a message handed to an external transport. Address lists
// hold bare addresses, already filtered to external recipients.
type Outbound struct {
	MessageID string
	From      string
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	TextBody  string
	HTMLBody  string
	Priority  int

	Attachments []File

	// RelayHost and RelayPort come from the sending account and are used
	// by the SMTP relay transport.
	RelayHost string
	RelayPort int
}

// File is attachment content loaded for transport.
type File struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Recipients returns every envelope recipient, Bcc included.
func (o *Outbound) Recipients() []string {
	out := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	out = append(out, o.To...)
	out = append(out, o.Cc...)
	return append(out, o.Bcc...)
}

// MIME renders the message as multipart/mixed. Bcc is never written.
func (o *Outbound) MIME(from string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.Set("From", from)
	if len(o.To) > 0 {
		h.Set("To", strings.Join(o.To, ", "))
	}
	if len(o.Cc) > 0 {
		h.Set("Cc", strings.Join(o.Cc, ", "))
	}
	h.SetSubject(o.Subject)
	if o.MessageID != "" {
		h.Set("Message-Id", "<"+o.MessageID+">")
	}
	if o.Priority > 0 && o.Priority != PriorityNormal {
		h.Set("X-Priority", fmt.Sprint(o.Priority))
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	for _, part := range []struct{ contentType, body string }{
		{"text/plain", o.TextBody},
		{"text/html", o.HTMLBody},
	} {
		if part.body == "" {
			continue
		}
		var ph mail.InlineHeader
		ph.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		if err := writePart(func() (io.WriteCloser, error) { return tw.CreatePart(ph) }, []byte(part.body)); err != nil {
			return nil, fmt.Errorf("failed to write body part: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close body part: %w", err)
	}

	for _, f := range o.Attachments {
		var ah mail.AttachmentHeader
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.Set("Content-Type", ct)
		ah.SetFilename(f.Filename)
		if err := writePart(func() (io.WriteCloser, error) { return mw.CreateAttachment(ah) }, f.Content); err != nil {
			return nil, fmt.Errorf("failed to write attachment %q: %w", f.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(create func() (io.WriteCloser, error), data []byte) error {
	w, err := create()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
