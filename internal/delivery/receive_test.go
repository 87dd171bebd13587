package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/euphoria1203/campus-email/internal/email"
)

func TestReceive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.campus(t)

	copies, err := f.engine.Receive(ctx, &email.Parsed{
		EnvelopeFrom: "sender@example.net",
		EnvelopeTo:   []string{"bob@campus.mail", "BOB@campus.mail", "ghost@campus.mail", "far@example.org"},
		From:         "Sender <sender@example.net>",
		Body:         "hello there",
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(copies) != 1 {
		t.Fatalf("got %d copies, want 1", len(copies))
	}

	bob := f.folder(t, "bob", email.FolderInbox)
	if len(bob) != 1 {
		t.Fatalf("bob inbox has %d messages, want 1", len(bob))
	}
	m := bob[0]
	if m.Subject != email.DefaultSubject {
		t.Errorf("Subject = %q, want default", m.Subject)
	}
	if m.From != "Sender <sender@example.net>" {
		t.Errorf("From = %q", m.From)
	}
	if m.To != "bob@campus.mail" || m.Cc != "" {
		t.Errorf("without headers the copy should be addressed to bob only, got To %q Cc %q", m.To, m.Cc)
	}
	if m.TextBody != "hello there" || m.HTMLBody != "hello there" {
		t.Errorf("body = %q / %q", m.TextBody, m.HTMLBody)
	}
	if m.IsRead || m.Priority != email.PriorityNormal || m.ReceiveTime == nil {
		t.Errorf("flags = read %v priority %d receive %v", m.IsRead, m.Priority, m.ReceiveTime)
	}

	if n := len(f.provider.calls()); n != 0 {
		t.Errorf("inbound mail relayed %d times with relaying off", n)
	}
}

func TestReceive_HidesBlindRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.campus(t)

	copies, err := f.engine.Receive(ctx, &email.Parsed{
		EnvelopeFrom: "sender@example.net",
		EnvelopeTo:   []string{"bob@campus.mail", "carol@campus.mail", "dave@campus.mail"},
		To:           "Bob <bob@campus.mail>",
		Cc:           "carol@campus.mail",
		Subject:      "minutes",
		Body:         "attached",
	})
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(copies) != 3 {
		t.Fatalf("got %d copies, want 3", len(copies))
	}
	for _, u := range []string{"bob", "carol", "dave"} {
		inbox := f.folder(t, u, email.FolderInbox)
		if len(inbox) != 1 {
			t.Fatalf("%s inbox has %d messages, want 1", u, len(inbox))
		}
		m := inbox[0]
		if m.To != "Bob <bob@campus.mail>" || m.Cc != "carol@campus.mail" {
			t.Errorf("%s copy: To %q Cc %q, want the header lists", u, m.To, m.Cc)
		}
		if strings.Contains(m.To+m.Cc+m.Bcc, "dave") {
			t.Errorf("%s copy reveals the blind recipient", u)
		}
	}
}

func TestReceive_RelayInbound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, WithRelayInbound(true))
	f.campus(t)

	err := f.engine.Deliver(ctx, &email.Parsed{
		EnvelopeFrom: "sender@example.net",
		EnvelopeTo:   []string{"bob@campus.mail", "far@example.org"},
		Subject:      "fwd",
		Body:         "body",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	calls := f.provider.calls()
	if len(calls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(calls))
	}
	if len(calls[0].To) != 1 || calls[0].To[0] != "far@example.org" {
		t.Errorf("relayed To = %v", calls[0].To)
	}
	if calls[0].From != "sender@example.net" {
		t.Errorf("relayed From = %q", calls[0].From)
	}
}

func TestReceive_RelayFailureDoesNotFail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, WithRelayInbound(true))
	f.campus(t)
	f.provider.err = errors.New("upstream down")

	err := f.engine.Deliver(ctx, &email.Parsed{
		EnvelopeFrom: "sender@example.net",
		EnvelopeTo:   []string{"bob@campus.mail", "far@example.org"},
		Body:         "body",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(f.folder(t, "bob", email.FolderInbox)) != 1 {
		t.Error("local copy should be stored")
	}
}

func TestReceive_NoRecipients(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, err := f.engine.Receive(context.Background(), &email.Parsed{EnvelopeFrom: "a@b.c"}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("got %v, want ErrNoRecipients", err)
	}
}
