package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T, cfg ServerConfig) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()
	t.Cleanup(cancel)
	return srv, cancel, errCh
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func waitAddr(t *testing.T, srv *Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := srv.Addr(); a != "" {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start listening")
	return ""
}

func TestServer_QueuesBeyondWorkerLimit(t *testing.T) {
	t.Parallel()

	srv, _, _ := startServer(t, ServerConfig{
		Hostname:  "mx.test",
		Deliverer: &mockDeliverer{},
		Workers:   1,
	})
	addr := waitAddr(t, srv)

	first, firstReader := dial(t, addr)
	if g := readLine(t, firstReader); !strings.HasPrefix(g, "220 ") {
		t.Fatalf("first greeting: got %q", g)
	}

	// The second connection is accepted but waits for a worker.
	second, secondReader := dial(t, addr)
	_ = second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := secondReader.ReadString('\n'); err == nil {
		t.Fatal("second session should not be served while the only worker is busy")
	}
	_ = second.SetReadDeadline(time.Time{})

	sendCmd(t, first, "QUIT")
	expectCode(t, firstReader, "QUIT", "221")

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if g := readLine(t, secondReader); !strings.HasPrefix(g, "220 ") {
		t.Errorf("second greeting: got %q", g)
	}
}

func TestServer_ShutdownClosesIdleSessions(t *testing.T) {
	t.Parallel()

	srv, cancel, errCh := startServer(t, ServerConfig{
		Hostname:      "mx.test",
		Deliverer:     &mockDeliverer{},
		ShutdownGrace: 2 * time.Second,
	})
	addr := waitAddr(t, srv)

	conn, reader := dial(t, addr)
	readLine(t, reader) // Skip greeting
	sendCmd(t, conn, "HELO client.test")
	expectCode(t, reader, "HELO", "250")

	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveSessions() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if resp := readLine(t, reader); !strings.HasPrefix(resp, "421 ") {
		t.Errorf("shutdown response: got %q, want prefix '421 '", resp)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("listener should be closed after shutdown")
	}
}

func TestServer_ForceClosesAfterGrace(t *testing.T) {
	t.Parallel()

	srv, cancel, errCh := startServer(t, ServerConfig{
		Hostname:      "mx.test",
		Deliverer:     &mockDeliverer{},
		ShutdownGrace: 100 * time.Millisecond,
	})
	addr := waitAddr(t, srv)

	conn, reader := dial(t, addr)
	readLine(t, reader) // Skip greeting
	sendCmd(t, conn, "HELO client.test")
	expectCode(t, reader, "HELO", "250")
	sendCmd(t, conn, "MAIL FROM:<a@example.com>")
	expectCode(t, reader, "MAIL", "250")
	sendCmd(t, conn, "RCPT TO:<b@campus.mail>")
	expectCode(t, reader, "RCPT", "250")
	sendCmd(t, conn, "DATA")
	expectCode(t, reader, "DATA", "354")

	// The session is busy reading the body and never finishes.
	cancel()

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the grace period")
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := reader.ReadString('\n'); err == nil {
		t.Error("connection should have been closed")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	srv := New(ServerConfig{})
	if srv.config.Hostname != "localhost" {
		t.Errorf("Hostname: got %q, want localhost", srv.config.Hostname)
	}
	if srv.config.Workers != defaultWorkers {
		t.Errorf("Workers: got %d, want %d", srv.config.Workers, defaultWorkers)
	}
	if srv.config.MaxMessageSize != defaultMaxSize {
		t.Errorf("MaxMessageSize: got %d", srv.config.MaxMessageSize)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr before serving: got %q", srv.Addr())
	}
}
