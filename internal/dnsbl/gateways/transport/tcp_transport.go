package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
)

const (
	defaultRegisterTimeout = 30 * time.Second
	maxLineLength          = 512
)

// TCPTransport implements ServerTransport with a line protocol. A client sends
// "USER <name>"; once screening lets it through it receives a welcome line or
// an ERROR line carrying the reject reason, and the connection is closed.
type TCPTransport struct {
	addr     string
	listener net.Listener
	logger   log.Logger
	timeout  time.Duration

	// Synchronization for graceful shutdown
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	sessions conc.WaitGroup
}

// NewTCPTransport creates a new TCP transport instance.
func NewTCPTransport(addr string, logger log.Logger) *TCPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &TCPTransport{
		addr:    addr,
		logger:  logger,
		timeout: defaultRegisterTimeout,
		stopCh:  make(chan struct{}),
	}
}

// setTimeout sets how long a session may take to register.
// just for testing purposes, not part of the public API.
func (t *TCPTransport) setTimeout(d time.Duration) {
	if d > 0 {
		t.timeout = d
	}
}

// Start binds the listener and starts the accept loop.
func (t *TCPTransport) Start(ctx context.Context, s Screener) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("TCP transport already running")
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.addr, err)
	}

	t.listener = ln
	t.running = true
	t.stopCh = make(chan struct{})

	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   ln.Addr().String(),
	}, "Client transport started")

	t.sessions.Go(func() { t.acceptLoop(ctx, ln, s) })
	return nil
}

// Stop closes the listener and waits for every session to finish.
func (t *TCPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopCh)
	closeErr := t.listener.Close()
	if closeErr != nil {
		t.logger.Warn(map[string]any{
			"error": closeErr.Error(),
		}, "Error closing TCP listener")
	}
	t.mu.Unlock()

	t.sessions.Wait()

	t.logger.Info(map[string]any{
		"transport": "tcp",
		"address":   t.addr,
	}, "Client transport stopped")

	return closeErr
}

// Address returns the bound address once started, the configured one before.
func (t *TCPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

func (t *TCPTransport) acceptLoop(ctx context.Context, ln net.Listener, s Screener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()

			if !running || errors.Is(err, net.ErrClosed) {
				return // Normal shutdown
			}

			t.logger.Warn(map[string]any{
				"error": err.Error(),
			}, "Failed to accept connection")
			continue
		}
		t.sessions.Go(func() { t.serve(ctx, conn, s) })
	}
}

// serve runs one session from accept to close.
func (t *TCPTransport) serve(ctx context.Context, conn net.Conn, s Screener) {
	sess, err := newSession(conn)
	if err != nil {
		t.logger.Warn(map[string]any{
			"client": conn.RemoteAddr().String(),
			"error":  err.Error(),
		}, "Rejecting connection with unusable address")
		_ = conn.Close()
		return
	}
	defer func() {
		s.ReleaseClient(sess)
		sess.exit()
		_ = conn.Close()
	}()

	issued := s.StartLookups(sess)
	t.logger.Debug(map[string]any{
		"client":  sess.Name(),
		"lookups": issued,
	}, "Client connected")

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go readLines(conn, lines, done)

	deadline := time.NewTimer(t.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			sess.send("ERROR :Server shutting down")
			return
		case <-deadline.C:
			sess.send("ERROR :Registration timed out")
			return
		case <-sess.registered:
			t.finishRegistration(sess, s)
			return
		case line, ok := <-lines:
			if !ok {
				t.logger.Debug(map[string]any{"client": sess.Name()}, "Client disconnected before registration")
				return
			}
			if !t.handleLine(sess, s, line) {
				return
			}
		}
	}
}

// handleLine applies one client command and reports whether the session
// continues.
func (t *TCPTransport) handleLine(sess *session, s Screener, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToUpper(cmd) {
	case "USER":
		name := strings.TrimSpace(arg)
		if name == "" || strings.ContainsAny(name, " :") {
			sess.send("ERROR :Invalid user name")
			return true
		}
		if !sess.setUser(name) {
			sess.send("ERROR :Already sent USER")
			return true
		}
		s.MaybeRegister(sess)
	case "QUIT":
		sess.send("ERROR :Closing link")
		return false
	case "":
	default:
		sess.send("ERROR :Not registered")
	}
	return true
}

func (t *TCPTransport) finishRegistration(sess *session, s Screener) {
	if v, listed := s.Listing(sess); listed {
		t.logger.Info(map[string]any{
			"client": sess.Name(),
			"list":   v.List,
		}, "Rejecting blacklisted client")
		sess.send("ERROR :" + v.RejectReason)
		return
	}
	sess.send(fmt.Sprintf(":dnsbl 001 %s :Welcome", sess.user()))
}

// readLines feeds lines from conn into out until the connection fails or
// done is closed.
func readLines(conn net.Conn, out chan<- string, done <-chan struct{}) {
	defer close(out)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxLineLength), maxLineLength)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-done:
			return
		}
	}
}
