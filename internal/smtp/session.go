package smtp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// defaultIdleTimeout bounds each read from the client.
const defaultIdleTimeout = 60 * time.Second

// shutdownWriteTimeout bounds the 421 written to a session being shut down.
const shutdownWriteTimeout = 5 * time.Second

// maxCommandLine is the longest command line accepted, CRLF included.
const maxCommandLine = 4096

var errLineTooLong = errors.New("smtp: line too long")

// Session represents a single SMTP client connection. It owns the
// connection and its transaction State.
type Session struct {
	id      string
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	machine *Machine
	state   State
	logger  *slog.Logger

	idleTimeout time.Duration

	// work is the context handed to the deliverer. It outlives the
	// shutdown signal so a command in progress can finish.
	work context.Context

	// waiting is set while the session is blocked reading a command line.
	waiting atomic.Bool
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, m *Machine, idleTimeout time.Duration) *Session {
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleTimeout
	}
	id := ulid.Make().String()
	return &Session{
		id:          id,
		conn:        conn,
		reader:      bufio.NewReader(conn),
		writer:      bufio.NewWriter(conn),
		machine:     m,
		logger:      slog.With("session", id, "remote", conn.RemoteAddr().String()),
		idleTimeout: idleTimeout,
	}
}

// ID returns the trace id of the session.
func (s *Session) ID() string { return s.id }

// Handle runs the command loop until the client quits, the connection
// fails or ctx is cancelled. The connection is always closed on return.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	work := s.work
	if work == nil {
		work = context.WithoutCancel(ctx)
	}

	s.logger.Debug("session opened")
	defer s.logger.Debug("session closed")

	s.writeReply(reply(CodeReady, "%s ESMTP campus-email", s.machine.Hostname))

	for {
		if ctx.Err() != nil {
			s.writeShutdown()
			return
		}

		line, err := s.readCommand(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.writeShutdown()
			case errors.Is(err, errLineTooLong):
				s.writeReply(reply(CodeSyntaxError, "Line too long"))
				continue
			case errors.Is(err, io.EOF):
			case isTimeout(err):
				s.logger.Debug("idle timeout")
				s.writeReply(reply(CodeServiceNotAvail, "%s Idle timeout, closing connection", s.machine.Hostname))
			default:
				s.logger.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd := ParseCommand(line)
		r := s.machine.Step(&s.state, cmd)
		if r.Code >= 400 {
			s.logger.Debug("command rejected", "command", cmd.Name, "code", r.Code, "phase", s.state.Phase)
		}
		if !s.writeReply(r) {
			return
		}
		if r.Close {
			return
		}
		if r.ReadBody {
			if !s.handleBody(work) {
				return
			}
		}
	}
}

// readCommand reads one command line. The waiting flag is raised after
// the idle deadline is set so that a shutdown interrupt always lands on
// the read it is meant to cut short.
func (s *Session) readCommand(ctx context.Context) (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
		return "", err
	}
	s.waiting.Store(true)
	defer s.waiting.Store(false)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	line, truncated, err := s.readLine(maxCommandLine)
	if err != nil {
		return "", err
	}
	if truncated {
		return "", errLineTooLong
	}
	return string(line), nil
}

// handleBody reads the DATA body and completes the transaction. It
// returns false when the connection must be closed.
func (s *Session) handleBody(work context.Context) bool {
	body, tooLarge, err := s.readBody()
	if err != nil {
		s.logger.Debug("error reading DATA", "error", err)
		return false
	}
	if tooLarge {
		s.logger.Info("message rejected: size limit exceeded", "limit", s.machine.MaxMessageSize)
		return s.writeReply(s.machine.Oversized(&s.state))
	}

	r := s.machine.Complete(work, &s.state, body)
	if r.Code == CodeOK {
		s.logger.Info("message accepted", "size", len(body))
	}
	return s.writeReply(r)
}

// readBody reads lines until a lone "." and undoes dot-stuffing. Once the
// size limit is passed the rest of the body is drained and discarded.
func (s *Session) readBody() ([]byte, bool, error) {
	limit := s.machine.MaxMessageSize
	var body bytes.Buffer
	tooLarge := false

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			return nil, false, err
		}
		lineLimit := maxCommandLine
		if limit > 0 {
			lineLimit = int(limit) + 2
		}
		line, truncated, err := s.readLine(lineLimit)
		if err != nil {
			return nil, false, err
		}

		trimmed := bytes.TrimRight(line, "\r\n")
		if !truncated && len(trimmed) == 1 && trimmed[0] == '.' {
			return body.Bytes(), tooLarge, nil
		}
		if tooLarge {
			continue
		}
		if bytes.HasPrefix(line, []byte("..")) {
			line = line[1:]
		}
		if truncated || (limit > 0 && int64(body.Len()+len(line)) > limit) {
			tooLarge = true
			body.Reset()
			continue
		}
		body.Write(line)
	}
}

// readLine reads up to and including the next '\n'. At most max bytes are
// kept; the rest of an overlong line is consumed and dropped.
func (s *Session) readLine(max int) ([]byte, bool, error) {
	var line []byte
	truncated := false
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if !truncated {
			if len(line)+len(chunk) > max {
				truncated = true
				line = append(line, chunk[:max-len(line)]...)
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return line, truncated, nil
	}
}

// interrupt unblocks a session that is idle between commands.
func (s *Session) interrupt() {
	if s.waiting.Load() {
		_ = s.conn.SetReadDeadline(time.Now())
	}
}

func (s *Session) writeShutdown() {
	s.write(reply(CodeServiceNotAvail, "%s Service shutting down", s.machine.Hostname), shutdownWriteTimeout)
}

// writeReply writes every line of r and flushes. It returns false when
// the write failed. Each reply gets its own write deadline, so a slow
// DATA transfer or delivery never eats into the time left to answer it.
func (s *Session) writeReply(r Reply) bool {
	return s.write(r, s.idleTimeout)
}

func (s *Session) write(r Reply, timeout time.Duration) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		s.logger.Debug("failed to set write deadline", "error", err)
		return false
	}
	for _, l := range r.Wire() {
		if _, err := s.writer.WriteString(l + "\r\n"); err != nil {
			s.logger.Debug("failed to write to client", "error", err)
			return false
		}
	}
	if err := s.writer.Flush(); err != nil {
		s.logger.Debug("failed to flush to client", "error", err)
		return false
	}
	return true
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
