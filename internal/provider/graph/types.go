package graph

import (
	"encoding/base64"

	"github.com/euphoria1203/campus-email/internal/email"
)

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject       string           `json:"subject"`
	Body          messageBody      `json:"body"`
	Importance    string           `json:"importance,omitempty"`
	ToRecipients  []recipient      `json:"toRecipients,omitempty"`
	CcRecipients  []recipient      `json:"ccRecipients,omitempty"`
	BccRecipients []recipient      `json:"bccRecipients,omitempty"`
	ReplyTo       []recipient      `json:"replyTo,omitempty"`
	Attachments   []fileAttachment `json:"attachments,omitempty"`
	Headers       []internetHeader `json:"internetMessageHeaders,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// internetHeader values must start with "X-" per the Graph API.
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func recipients(addrs []string) []recipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: a}})
	}
	return out
}

func importance(priority int) string {
	switch {
	case priority <= 0 || priority == email.PriorityNormal:
		return ""
	case priority < email.PriorityNormal:
		return "high"
	default:
		return "low"
	}
}

// buildSendMailRequest maps an outbound message onto a sendMail body. The
// HTML body wins over the text body when both are set.
func buildSendMailRequest(sender string, msg *email.Outbound) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: msg.TextBody}
	if msg.HTMLBody != "" {
		body = messageBody{ContentType: "html", Content: msg.HTMLBody}
	}

	m := sendMailMessage{
		Subject:       msg.Subject,
		Body:          body,
		Importance:    importance(msg.Priority),
		ToRecipients:  recipients(msg.To),
		CcRecipients:  recipients(msg.Cc),
		BccRecipients: recipients(msg.Bcc),
	}
	if from := email.ExtractAddress(msg.From); from != "" && from != sender {
		m.ReplyTo = recipients([]string{from})
	}
	if msg.MessageID != "" {
		m.Headers = []internetHeader{{Name: "X-Campus-Message-Id", Value: msg.MessageID}}
	}
	for _, f := range msg.Attachments {
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		m.Attachments = append(m.Attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         f.Filename,
			ContentType:  ct,
			ContentBytes: base64.StdEncoding.EncodeToString(f.Content),
		})
	}
	return &sendMailRequest{Message: m}
}
