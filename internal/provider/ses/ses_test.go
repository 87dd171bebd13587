package ses

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/euphoria1203/campus-email/internal/email"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("noreply@campus.mail", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("noreply@campus.mail", mock)

	msg := &email.Outbound{
		From:     "Alice <alice@campus.mail>",
		To:       []string{"bob@example.com"},
		Subject:  "Test Subject",
		TextBody: "Hello, World!",
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "noreply@campus.mail" {
		t.Errorf("FromEmailAddress: got %q, want the configured sender", got)
	}
	if len(input.ReplyToAddresses) != 1 || input.ReplyToAddresses[0] != msg.From {
		t.Errorf("ReplyToAddresses: got %v, want [%s]", input.ReplyToAddresses, msg.From)
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q", got)
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestSend_UsesMessageFromWithoutSender(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("", mock)

	msg := &email.Outbound{From: "alice@campus.mail", To: []string{"bob@example.com"}, TextBody: "hi"}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *mock.lastInput.FromEmailAddress; got != "alice@campus.mail" {
		t.Errorf("FromEmailAddress: got %q", got)
	}
	if mock.lastInput.ReplyToAddresses != nil {
		t.Error("no reply-to expected when From is the sender")
	}
}

func TestSend_WithRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("noreply@campus.mail", mock)

	msg := &email.Outbound{
		To:       []string{"to1@example.com", "to2@example.com"},
		Cc:       []string{"cc@example.com"},
		Bcc:      []string{"bcc@example.com"},
		Subject:  "Multi-recipient",
		TextBody: "Hello",
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := mock.lastInput.Destination
	if len(dest.ToAddresses) != 2 || len(dest.CcAddresses) != 1 || len(dest.BccAddresses) != 1 {
		t.Errorf("destination: got %d/%d/%d, want 2/1/1",
			len(dest.ToAddresses), len(dest.CcAddresses), len(dest.BccAddresses))
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("noreply@campus.mail", mock)

	msg := &email.Outbound{
		To:       []string{"to@example.com"},
		Bcc:      []string{"hidden@example.com"},
		Subject:  "With Attachment",
		TextBody: "See attachment",
		Attachments: []email.File{
			{Filename: "test.txt", ContentType: "text/plain", Content: []byte("file content")},
		},
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content for attachment, got nil")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}
	if len(input.Destination.BccAddresses) != 1 {
		t.Error("Bcc must travel in the destination for raw messages")
	}

	raw := string(input.Content.Raw.Data)
	for _, want := range []string{"From: noreply@campus.mail", "To: to@example.com", "Subject: With Attachment", "multipart/mixed", "test.txt"} {
		if !strings.Contains(raw, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
	if strings.Contains(raw, "hidden@example.com") {
		t.Error("raw message must not expose Bcc")
	}
}

func TestSend_ErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	p := NewWithClient("noreply@campus.mail", mock)

	err := p.Send(context.Background(), &email.Outbound{To: []string{"to@example.com"}, TextBody: "x"})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "throttled") {
		t.Errorf("error should wrap the SES error, got %q", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestSimpleContent(t *testing.T) {
	t.Parallel()

	msg := &email.Outbound{
		To:       []string{"to@example.com"},
		Subject:  "Test",
		TextBody: "text",
		HTMLBody: "<p>html</p>",
	}
	content := simpleContent(msg)

	if content.Body.Html == nil || content.Body.Text == nil {
		t.Fatal("expected both bodies")
	}
	if got := *content.Body.Html.Charset; got != "UTF-8" {
		t.Errorf("HTML charset: got %q, want %q", got, "UTF-8")
	}
	if got := *content.Subject.Data; got != "Test" {
		t.Errorf("Subject: got %q, want %q", got, "Test")
	}
}

func TestSend_TagsMessageID(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("noreply@campus.mail", mock)

	if err := p.Send(context.Background(), &email.Outbound{
		MessageID: "0b6f4c1e-1d2a-4c9e-9d1b-7f5e2a3c4d5e",
		To:        []string{"bob@example.com"},
		TextBody:  "hi",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tags := mock.lastInput.EmailTags
	if len(tags) != 1 || aws.ToString(tags[0].Name) != "campus-message-id" ||
		aws.ToString(tags[0].Value) != "0b6f4c1e-1d2a-4c9e-9d1b-7f5e2a3c4d5e" {
		t.Errorf("EmailTags = %+v", tags)
	}

	if err := p.Send(context.Background(), &email.Outbound{To: []string{"bob@example.com"}}); err != nil {
		t.Fatal(err)
	}
	if mock.lastInput.EmailTags != nil {
		t.Error("no tag expected without a message id")
	}
}
