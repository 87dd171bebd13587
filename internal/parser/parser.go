// Package parser turns an SMTP DATA block into an email.Parsed value.
// Only a flat body is supported; MIME parts are passed through untouched.
package parser

import (
	"bufio"
	"bytes"
	"log/slog"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/euphoria1203/campus-email/internal/email"
)

// Parse splits raw at the first blank line into headers and body. The
// Subject, To and Cc headers are decoded and a non-empty From header
// replaces the envelope sender. Without a blank line the whole input is the body.
func Parse(raw []byte, envelopeFrom string, envelopeTo []string) *email.Parsed {
	p := &email.Parsed{
		EnvelopeFrom: envelopeFrom,
		EnvelopeTo:   append([]string(nil), envelopeTo...),
		From:         envelopeFrom,
		Raw:          raw,
	}

	headers, body, ok := split(string(raw))
	if !ok {
		p.Body = body
		return p
	}
	p.Body = strings.TrimSpace(body)

	h, err := readHeader(headers)
	if err != nil {
		slog.Warn("ignoring malformed header block", "error", err)
		return p
	}

	p.Subject = headerText(h, "Subject")
	p.To = headerText(h, "To")
	p.Cc = headerText(h, "Cc")
	if from := headerText(h, "From"); from != "" {
		p.From = from
	}
	return p
}

// split returns the header block and the body. ok is false when the input
// has no blank line separating them.
func split(raw string) (headers, body string, ok bool) {
	if i := strings.Index(raw, "\r\n\r\n"); i >= 0 {
		return raw[:i], raw[i:], true
	}
	if i := strings.Index(raw, "\n\n"); i >= 0 {
		return raw[:i], raw[i:], true
	}
	return "", raw, false
}

func readHeader(block string) (mail.Header, error) {
	block = strings.ReplaceAll(block, "\r\n", "\n")
	block = strings.ReplaceAll(block, "\n", "\r\n")
	r := bufio.NewReader(bytes.NewReader([]byte(block + "\r\n\r\n")))
	h, err := textproto.ReadHeader(r)
	if err != nil {
		return mail.Header{}, err
	}
	var mh mail.Header
	mh.Header.Header = h
	return mh, nil
}

// headerText returns the decoded value of key, falling back to the raw
// value when the encoded words cannot be decoded.
func headerText(h mail.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		v = h.Get(key)
	}
	return strings.TrimSpace(v)
}
