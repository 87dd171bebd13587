// Package ses implements a Provider that sends mail via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/euphoria1203/campus-email/internal/email"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender is a verified identity used as the envelope sender. When
	// empty the message's own From is used.
	Sender string
}

// Provider sends mail via the AWS SES v2 API. Failed sends are not
// retried.
type Provider struct {
	sender string
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a Provider with the given configuration.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *Provider {
	return &Provider{sender: sender, client: client}
}

// Send delivers msg via AWS SES v2. Messages with attachments go out as
// raw MIME, others use the simple content format. The campus message id
// travels as the campus-message-id tag for bounce correlation.
func (p *Provider) Send(ctx context.Context, msg *email.Outbound) error {
	from := p.sender
	if from == "" {
		from = msg.From
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.Cc,
			BccAddresses: msg.Bcc,
		},
	}
	if msg.From != "" && msg.From != from {
		input.ReplyToAddresses = []string{msg.From}
	}
	if msg.MessageID != "" {
		input.EmailTags = []types.MessageTag{{
			Name:  aws.String("campus-message-id"),
			Value: aws.String(msg.MessageID),
		}}
	}

	if len(msg.Attachments) > 0 {
		raw, err := msg.MIME(from)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	} else {
		input.Content = &types.EmailContent{Simple: simpleContent(msg)}
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses: send %s: %w", msg.MessageID, err)
	}
	if out != nil {
		slog.Debug("Accepted by SES",
			"message_id", msg.MessageID,
			"ses_message_id", aws.ToString(out.MessageId),
			"recipients", len(msg.Recipients()))
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return "ses" }

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

func simpleContent(msg *email.Outbound) *types.Message {
	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = utf8(msg.HTMLBody)
	}
	if msg.TextBody != "" {
		body.Text = utf8(msg.TextBody)
	}
	return &types.Message{Subject: utf8(msg.Subject), Body: body}
}
