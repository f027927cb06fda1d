package screening

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/clock"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/repos/registry"
)

// recordingLogger keeps every message by level.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+msg)
}

func (l *recordingLogger) Debug(_ map[string]any, msg string) { l.add("DEBUG", msg) }
func (l *recordingLogger) Info(_ map[string]any, msg string)  { l.add("INFO", msg) }
func (l *recordingLogger) Warn(_ map[string]any, msg string)  { l.add("WARN", msg) }
func (l *recordingLogger) Error(_ map[string]any, msg string) { l.add("ERROR", msg) }
func (l *recordingLogger) Panic(_ map[string]any, msg string) { l.add("PANIC", msg) }
func (l *recordingLogger) Fatal(_ map[string]any, msg string) { l.add("FATAL", msg) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if len(e) > len(level) && e[:len(level)+1] == level+":" {
			n++
		}
	}
	return n
}

// fakeResolver records submissions and cancellations; completions are
// injected by the test through Service.HandleCompletion.
type fakeResolver struct {
	next      Handle
	names     map[Handle]string
	order     []Handle
	cancelled []Handle
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{names: make(map[Handle]string)}
}

func (r *fakeResolver) Submit(name string, _ domain.AddressFamily) Handle {
	r.next++
	r.names[r.next] = name
	r.order = append(r.order, r.next)
	return r.next
}

func (r *fakeResolver) Cancel(h Handle) {
	r.cancelled = append(r.cancelled, h)
}

// handleFor returns the handle submitted for name.
func (r *fakeResolver) handleFor(t *testing.T, name string) Handle {
	t.Helper()
	for h, n := range r.names {
		if n == name {
			return h
		}
	}
	t.Fatalf("no lookup submitted for %s (have %v)", name, r.names)
	return 0
}

type fakeClient struct {
	name       string
	addr       netip.Addr
	pre        *PreClient
	exited     bool
	ready      bool
	registered int
}

func newClient(addr string) *fakeClient {
	return &fakeClient{
		name: "client-" + addr,
		addr: netip.MustParseAddr(addr),
		pre:  NewPreClient(),
	}
}

func (c *fakeClient) Name() string          { return c.name }
func (c *fakeClient) Addr() netip.Addr      { return c.addr }
func (c *fakeClient) Exited() bool          { return c.exited }
func (c *fakeClient) PreClient() *PreClient { return c.pre }
func (c *fakeClient) ReadyToRegister() bool { return c.ready }
func (c *fakeClient) Register()             { c.registered++ }

// countingMetrics tallies metric calls.
type countingMetrics struct {
	issued, hits, garbage, rejected map[string]int
	pending                         int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		issued:   map[string]int{},
		hits:     map[string]int{},
		garbage:  map[string]int{},
		rejected: map[string]int{},
	}
}

func (m *countingMetrics) LookupIssued(list string)   { m.issued[list]++ }
func (m *countingMetrics) ListHit(list string)        { m.hits[list]++ }
func (m *countingMetrics) GarbageReply(list string)   { m.garbage[list]++ }
func (m *countingMetrics) ClientRejected(list string) { m.rejected[list]++ }
func (m *countingMetrics) PendingLookups(delta int)   { m.pending += delta }

type fixture struct {
	svc      *Service
	reg      *registry.Registry
	resolver *fakeResolver
	logger   *recordingLogger
	metrics  *countingMetrics
	clock    *clock.MockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:      registry.New(),
		resolver: newFakeResolver(),
		logger:   &recordingLogger{},
		metrics:  newCountingMetrics(),
		clock:    &clock.MockClock{CurrentTime: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(Options{
		Registry: f.reg,
		Resolver: f.resolver,
		Clock:    f.clock,
		Logger:   f.logger,
		Metrics:  f.metrics,
	})
	return f
}

// list installs an IPv4+IPv6 blacklist with the given filter strings.
func (f *fixture) list(t *testing.T, host string, matches ...string) *registry.Entry {
	t.Helper()
	filters, err := domain.ParseFilters(matches)
	require.NoError(t, err)
	id := f.svc.UpsertBlacklist(domain.Blacklist{
		Host:         host,
		RejectReason: fmt.Sprintf("You are listed in %s", host),
		IPv4:         true,
		IPv6:         true,
		Filters:      filters,
	})
	e, ok := f.reg.Get(id)
	require.True(t, ok)
	return e
}

func (f *fixture) complete(t *testing.T, name, reply string, ok bool) {
	t.Helper()
	f.svc.HandleCompletion(Completion{
		Handle:    f.resolver.handleFor(t, name),
		Reply:     reply,
		Succeeded: ok,
		Family:    domain.FamilyIPv4,
	})
}
