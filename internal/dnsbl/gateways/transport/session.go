package transport

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/services/screening"
)

var errNoTCPAddr = errors.New("remote address is not TCP")

// session is one connection's screening.Client. Register only signals; the
// serving goroutine finishes registration outside the service lock.
type session struct {
	conn net.Conn
	addr netip.Addr
	pre  *screening.PreClient

	mu         sync.Mutex
	name       string
	exited     bool
	registered chan struct{}
	once       sync.Once
}

func newSession(conn net.Conn) (*session, error) {
	tcp, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, errNoTCPAddr
	}
	return &session{
		conn:       conn,
		addr:       tcp.AddrPort().Addr().Unmap(),
		pre:        screening.NewPreClient(),
		registered: make(chan struct{}),
	}, nil
}

func (s *session) Name() string {
	return s.conn.RemoteAddr().String()
}

func (s *session) Addr() netip.Addr { return s.addr }

func (s *session) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

func (s *session) PreClient() *screening.PreClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exited {
		return nil
	}
	return s.pre
}

func (s *session) ReadyToRegister() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name != ""
}

func (s *session) Register() {
	s.once.Do(func() { close(s.registered) })
}

// setUser records the USER name once.
func (s *session) setUser(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.name != "" {
		return false
	}
	s.name = name
	return true
}

func (s *session) user() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *session) exit() {
	s.mu.Lock()
	s.exited = true
	s.mu.Unlock()
}

// send writes one CRLF-terminated line, ignoring errors from a closing peer.
func (s *session) send(line string) {
	_, _ = s.conn.Write([]byte(line + "\r\n"))
}

var _ screening.Client = (*session)(nil)
