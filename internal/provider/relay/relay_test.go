package relay

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	jemail "github.com/jordan-wright/email"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/smtp"
)

type captured struct {
	addr  string
	email *jemail.Email
}

func capturing(err error) (*captured, SendFunc) {
	c := &captured{}
	return c, func(addr string, e *jemail.Email) error {
		c.addr = addr
		c.email = e
		return err
	}
}

func TestSend_UsesAccountRelay(t *testing.T) {
	t.Parallel()

	c, send := capturing(nil)
	p := NewWithSender(Config{Host: "fallback.example", Port: 2525}, send)

	msg := &email.Outbound{
		MessageID: "m-1",
		From:      "Alice <alice@campus.mail>",
		To:        []string{"bob@example.com"},
		Cc:        []string{"carol@example.com"},
		Bcc:       []string{"dave@example.com"},
		Subject:   "Grades",
		TextBody:  "posted",
		Priority:  email.PriorityHigh,
		RelayHost: "smtp.campus.mail",
		RelayPort: 587,
		Attachments: []email.File{
			{Filename: "grades.csv", ContentType: "text/csv", Content: []byte("a,b")},
		},
	}
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if c.addr != "smtp.campus.mail:587" {
		t.Errorf("addr: got %q", c.addr)
	}
	e := c.email
	if e.From != msg.From || e.Subject != "Grades" || string(e.Text) != "posted" {
		t.Errorf("composed email: %+v", e)
	}
	if len(e.To) != 1 || len(e.Cc) != 1 || len(e.Bcc) != 1 {
		t.Errorf("recipients: to=%v cc=%v bcc=%v", e.To, e.Cc, e.Bcc)
	}
	if got := e.Headers.Get("Message-Id"); got != "<m-1>" {
		t.Errorf("Message-Id: got %q", got)
	}
	if got := e.Headers.Get("X-Priority"); got != "1" {
		t.Errorf("X-Priority: got %q", got)
	}
	if len(e.Attachments) != 1 || e.Attachments[0].Filename != "grades.csv" {
		t.Errorf("attachments: %v", e.Attachments)
	}
}

func TestSend_FallbackRelay(t *testing.T) {
	t.Parallel()

	c, send := capturing(nil)
	p := NewWithSender(Config{Host: "fallback.example"}, send)

	if err := p.Send(context.Background(), &email.Outbound{From: "a@campus.mail", To: []string{"b@example.com"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.addr != "fallback.example:25" {
		t.Errorf("addr: got %q", c.addr)
	}
}

func TestSend_NoRelayHost(t *testing.T) {
	t.Parallel()

	c, send := capturing(nil)
	p := NewWithSender(Config{}, send)

	if err := p.Send(context.Background(), &email.Outbound{To: []string{"b@example.com"}}); err == nil {
		t.Fatal("expected an error without any relay host")
	}
	if c.email != nil {
		t.Error("nothing should be submitted")
	}
}

func TestSend_Error(t *testing.T) {
	t.Parallel()

	_, send := capturing(errors.New("550 relay denied"))
	p := NewWithSender(Config{Host: "relay.example"}, send)

	err := p.Send(context.Background(), &email.Outbound{From: "a@campus.mail", To: []string{"b@example.com"}})
	if err == nil || !strings.Contains(err.Error(), "relay denied") {
		t.Errorf("got %v, want the relay error", err)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	p := NewWithSender(Config{Host: "relay.example"}, func(string, *jemail.Email) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Send(ctx, &email.Outbound{From: "a@campus.mail", To: []string{"b@example.com"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

type recordingDeliverer struct {
	mu   sync.Mutex
	msgs []*email.Parsed
}

func (d *recordingDeliverer) Deliver(_ context.Context, p *email.Parsed) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, p)
	return nil
}

// TestSend_ThroughSMTPServer relays through the inbound server over a
// loopback socket.
func TestSend_ThroughSMTPServer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	d := &recordingDeliverer{}
	srv := smtp.New(smtp.ServerConfig{Hostname: "mx.test", Deliverer: d})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	portNum, err := strconv.Atoi(port)
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	p := New(Config{Host: host, Port: portNum})
	msg := &email.Outbound{
		From:     "alice@campus.mail",
		To:       []string{"bob@example.com"},
		Bcc:      []string{"hidden@example.com"},
		Subject:  "Hello relay",
		TextBody: "body text",
	}
	sendCtx, sendCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sendCancel()
	if err := p.Send(sendCtx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.msgs) != 1 {
		t.Fatalf("delivered: got %d messages, want 1", len(d.msgs))
	}
	got := d.msgs[0]
	if got.EnvelopeFrom != "alice@campus.mail" {
		t.Errorf("envelope from: got %q", got.EnvelopeFrom)
	}
	if len(got.EnvelopeTo) != 2 {
		t.Errorf("envelope to: got %v, want To and Bcc", got.EnvelopeTo)
	}
	if got.Subject != "Hello relay" {
		t.Errorf("subject: got %q", got.Subject)
	}
	if strings.Contains(string(got.Raw), "hidden@example.com") {
		t.Error("Bcc must not appear in the relayed content")
	}
}
