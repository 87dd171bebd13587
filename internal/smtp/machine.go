package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/euphoria1203/campus-email/internal/email"
	"github.com/euphoria1203/campus-email/internal/parser"
)

// Reply codes used by the server.
const (
	CodeReady            = 220
	CodeClosing          = 221
	CodeOK               = 250
	CodeStartMailInput   = 354
	CodeServiceNotAvail  = 421
	CodeLocalError       = 451
	CodeSyntaxError      = 500
	CodeParamSyntaxError = 501
	CodeBadSequence      = 503
	CodeExceededStorage  = 552
)

// Phase is the position of a session in the mail transaction.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseGreeted
	PhaseMailFrom
	PhaseRcptTo
	PhaseData
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseGreeted:
		return "GREETED"
	case PhaseMailFrom:
		return "MAIL_FROM"
	case PhaseRcptTo:
		return "RCPT_TO"
	case PhaseData:
		return "DATA"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Verb identifies a command.
type Verb int

const (
	VerbUnknown Verb = iota
	VerbHELO
	VerbEHLO
	VerbMAIL
	VerbRCPT
	VerbDATA
	VerbRSET
	VerbNOOP
	VerbQUIT
)

var verbs = map[string]Verb{
	"HELO": VerbHELO,
	"EHLO": VerbEHLO,
	"MAIL": VerbMAIL,
	"RCPT": VerbRCPT,
	"DATA": VerbDATA,
	"RSET": VerbRSET,
	"NOOP": VerbNOOP,
	"QUIT": VerbQUIT,
}

// Command is one parsed command line.
type Command struct {
	Verb Verb
	Name string
	Arg  string
}

// ParseCommand splits a command line into its verb and argument.
func ParseCommand(line string) Command {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	name := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return Command{Verb: verbs[name], Name: name, Arg: arg}
}

// State is the transaction state of one session. It is owned by a single
// session and never shared.
type State struct {
	Phase        Phase
	Greeted      bool
	ClientDomain string
	From         string
	Recipients   []string
}

// Reset clears the envelope and returns to GREETED, or INIT when the
// client never greeted.
func (s *State) Reset() {
	s.From = ""
	s.Recipients = nil
	if s.Greeted {
		s.Phase = PhaseGreeted
	} else {
		s.Phase = PhaseInit
	}
}

// Reply is the response to one command.
type Reply struct {
	Code  int
	Lines []string

	// Close asks the session to close the connection after writing.
	Close bool
	// ReadBody asks the session to read the message body next.
	ReadBody bool
}

func reply(code int, format string, args ...any) Reply {
	return Reply{Code: code, Lines: []string{fmt.Sprintf(format, args...)}}
}

// Wire renders the reply as CRLF terminated lines, using the "code-text"
// form for every line but the last.
func (r Reply) Wire() []string {
	lines := r.Lines
	if len(lines) == 0 {
		lines = []string{""}
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		out[i] = fmt.Sprintf("%d%s%s", r.Code, sep, l)
	}
	return out
}

func (r Reply) String() string {
	return strings.Join(r.Wire(), "\r\n")
}

// Deliverer accepts a parsed inbound message.
type Deliverer interface {
	Deliver(ctx context.Context, msg *email.Parsed) error
}

// Machine holds the transition rules. It carries no per-session state and
// is shared by all sessions of a server.
type Machine struct {
	Hostname       string
	MaxMessageSize int64
	Deliverer      Deliverer
}

// Step applies cmd to st and returns the reply. Rejected commands leave
// st unchanged.
func (m *Machine) Step(st *State, cmd Command) Reply {
	switch cmd.Verb {
	case VerbHELO, VerbEHLO:
		return m.greet(st, cmd)
	case VerbMAIL:
		return m.mail(st, cmd.Arg)
	case VerbRCPT:
		return m.rcpt(st, cmd.Arg)
	case VerbDATA:
		if st.Phase != PhaseRcptTo {
			return reply(CodeBadSequence, "Error: need RCPT command first")
		}
		st.Phase = PhaseData
		r := reply(CodeStartMailInput, "Start mail input; end with <CRLF>.<CRLF>")
		r.ReadBody = true
		return r
	case VerbRSET:
		st.Reset()
		return reply(CodeOK, "OK")
	case VerbNOOP:
		return reply(CodeOK, "OK")
	case VerbQUIT:
		r := reply(CodeClosing, "Bye")
		r.Close = true
		return r
	default:
		return reply(CodeSyntaxError, "Syntax error, command unrecognized")
	}
}

func (m *Machine) greet(st *State, cmd Command) Reply {
	if cmd.Arg == "" {
		return reply(CodeParamSyntaxError, "Syntax: %s hostname", cmd.Name)
	}
	// An open transaction survives a repeated greeting.
	st.Greeted = true
	st.ClientDomain = cmd.Arg
	st.Phase = PhaseGreeted

	if cmd.Verb == VerbHELO {
		return reply(CodeOK, "%s Hello %s, pleased to meet you", m.Hostname, cmd.Arg)
	}
	return Reply{Code: CodeOK, Lines: []string{
		fmt.Sprintf("%s Hello %s", m.Hostname, cmd.Arg),
		fmt.Sprintf("SIZE %d", m.MaxMessageSize),
		"OK",
	}}
}

func (m *Machine) mail(st *State, arg string) Reply {
	if !st.Greeted {
		return reply(CodeBadSequence, "Error: send HELO/EHLO first")
	}
	addr, ok := pathArg(arg, "FROM:")
	if !ok {
		return reply(CodeParamSyntaxError, "Syntax: MAIL FROM:<address>")
	}
	st.From = addr
	st.Recipients = nil
	st.Phase = PhaseMailFrom
	return reply(CodeOK, "OK")
}

func (m *Machine) rcpt(st *State, arg string) Reply {
	if st.Phase != PhaseMailFrom && st.Phase != PhaseRcptTo {
		return reply(CodeBadSequence, "Error: need MAIL command first")
	}
	addr, ok := pathArg(arg, "TO:")
	if !ok {
		return reply(CodeParamSyntaxError, "Syntax: RCPT TO:<address>")
	}
	st.Recipients = append(st.Recipients, addr)
	st.Phase = PhaseRcptTo
	return reply(CodeOK, "OK")
}

// Complete finishes a DATA transaction: the body is parsed, handed to the
// deliverer and the transaction is reset whatever the outcome.
func (m *Machine) Complete(ctx context.Context, st *State, body []byte) Reply {
	if st.Phase != PhaseData {
		return reply(CodeBadSequence, "Error: need RCPT command first")
	}
	defer st.Reset()

	msg := parser.Parse(body, st.From, st.Recipients)
	if m.Deliverer == nil {
		return reply(CodeLocalError, "Requested action aborted: error in processing")
	}
	if err := m.Deliverer.Deliver(ctx, msg); err != nil {
		slog.Error("inbound delivery failed",
			"from", msg.From,
			"recipients", len(msg.EnvelopeTo),
			"error", err,
		)
		return reply(CodeLocalError, "Requested action aborted: error in processing")
	}
	return reply(CodeOK, "OK: Message queued")
}

// Oversized aborts a DATA transaction whose body exceeded the size limit.
func (m *Machine) Oversized(st *State) Reply {
	st.Reset()
	return reply(CodeExceededStorage, "Requested mail action aborted: exceeded storage allocation")
}

// pathArg extracts the address from a "FROM:" or "TO:" argument. The
// address is taken from angle brackets, or else from a bare token that
// contains "@".
func pathArg(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])

	if strings.HasPrefix(rest, "<") {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return "", false
		}
		addr := strings.TrimSpace(rest[1:end])
		return addr, addr != ""
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	addr := fields[0]
	at := strings.IndexByte(addr, '@')
	if strings.ContainsAny(addr, "<>") || at <= 0 || at == len(addr)-1 {
		return "", false
	}
	return addr, true
}
