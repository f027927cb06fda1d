// Package lookup resolves blacklist lookup names against upstream DNS servers
// in the background and delivers each outcome on a completion channel.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/sourcegraph/conc"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/repos/replycache"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/services/screening"
)

// Error message constants for consistent error handling
const (
	errNoServersProvided = "no upstream DNS servers provided"
	errServerFailed      = "server %s: %w"
	errAllServersFailed  = "all %d upstream servers failed"
	errBadRcode          = "rcode %s"
	errNilResponse       = "empty response"
)

var ErrClosed = errors.New("resolver closed")

// maxCacheTTL bounds how long any outcome is reused.
const maxCacheTTL = time.Hour

// Exchanger sends one DNS message to addr. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// Cache stores lookup outcomes by name.
type Cache interface {
	Get(name string) (replycache.Reply, bool)
	Set(name string, r replycache.Reply, ttl time.Duration)
}

// Options defines configuration parameters for the lookup resolver.
type Options struct {
	// required parameters
	Servers []string
	Timeout time.Duration
	// optional
	Cache  Cache
	Logger log.Logger
	Buffer int
	// options to inject for testing purposes
	Client Exchanger
}

// Resolver runs each submitted lookup in its own goroutine. Outcomes for
// cancelled handles are dropped; everything else is sent on Completions.
type Resolver struct {
	servers []string
	timeout time.Duration
	cache   Cache
	logger  log.Logger
	client  Exchanger

	mu       sync.Mutex
	next     screening.Handle
	inflight map[screening.Handle]context.CancelFunc
	closed   bool

	ctx  context.Context
	stop context.CancelFunc
	wg   conc.WaitGroup
	out  chan screening.Completion
}

// NewResolver creates a lookup resolver. Servers without a port get :53.
func NewResolver(opts Options) (*Resolver, error) {
	if len(opts.Servers) == 0 {
		return nil, errors.New(errNoServersProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Client == nil {
		opts.Client = &dns.Client{Net: "udp", Timeout: opts.Timeout}
	}

	servers := make([]string, len(opts.Servers))
	for i, s := range opts.Servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		servers[i] = s
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Resolver{
		servers:  servers,
		timeout:  opts.Timeout,
		cache:    opts.Cache,
		logger:   opts.Logger,
		client:   opts.Client,
		inflight: make(map[screening.Handle]context.CancelFunc),
		ctx:      ctx,
		stop:     stop,
		out:      make(chan screening.Completion, opts.Buffer),
	}, nil
}

// Completions returns the channel outcomes are delivered on. It is closed by
// Close.
func (r *Resolver) Completions() <-chan screening.Completion {
	return r.out
}

// Submit starts resolving name and returns its handle. The outcome is never
// delivered before Submit returns.
func (r *Resolver) Submit(name string, family domain.AddressFamily) screening.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	if r.closed {
		r.logger.Warn(map[string]any{"name": name}, "Lookup submitted after resolver closed")
		return h
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	r.inflight[h] = cancel
	r.wg.Go(func() {
		defer cancel()
		reply, ok := r.lookup(ctx, name, family)
		r.deliver(screening.Completion{Handle: h, Reply: reply, Succeeded: ok, Family: family})
	})
	return h
}

// Cancel stops the lookup for h. No completion is delivered for it after
// Cancel returns unless one was already handed to the channel.
func (r *Resolver) Cancel(h screening.Handle) {
	r.mu.Lock()
	cancel, ok := r.inflight[h]
	delete(r.inflight, h)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Pending returns the number of lookups in flight.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Close cancels all lookups, waits for their goroutines and closes the
// completion channel.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
	close(r.out)
	return nil
}

func (r *Resolver) deliver(comp screening.Completion) {
	r.mu.Lock()
	_, live := r.inflight[comp.Handle]
	delete(r.inflight, comp.Handle)
	r.mu.Unlock()
	if !live {
		return
	}

	select {
	case r.out <- comp:
	case <-r.ctx.Done():
	}
}

// lookup returns the first address record for name. A name that does not
// exist resolves successfully to an empty reply.
func (r *Resolver) lookup(ctx context.Context, name string, family domain.AddressFamily) (string, bool) {
	if r.cache != nil {
		if cached, ok := r.cache.Get(name); ok {
			return cached.Address, cached.Succeeded
		}
	}

	qtype := dns.TypeA
	if family == domain.FamilyIPv6 {
		qtype = dns.TypeAAAA
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	resp, err := r.exchangeSerial(ctx, m)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Debug(map[string]any{"name": name, "error": err}, "Blacklist lookup failed")
		}
		return "", false
	}

	addr, ttl := answer(resp, qtype)
	if r.cache != nil {
		r.cache.Set(name, replycache.Reply{Address: addr, Succeeded: true}, ttl)
	}
	return addr, true
}

// exchangeSerial tries each server in order until one answers with NOERROR
// or NXDOMAIN.
func (r *Resolver) exchangeSerial(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range r.servers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		switch {
		case err != nil:
			lastErr = fmt.Errorf(errServerFailed, server, err)
		case resp == nil:
			lastErr = fmt.Errorf(errServerFailed, server, errors.New(errNilResponse))
		case resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError:
			lastErr = fmt.Errorf(errServerFailed, server, fmt.Errorf(errBadRcode, dns.RcodeToString[resp.Rcode]))
		default:
			return resp, nil
		}
	}
	return nil, fmt.Errorf(errAllServersFailed+": %w", len(r.servers), lastErr)
}

// answer extracts the first record of qtype and how long the outcome may be
// cached: the lowest answer TTL, or the SOA minimum for negative answers,
// capped at maxCacheTTL.
func answer(resp *dns.Msg, qtype uint16) (string, time.Duration) {
	var (
		addr string
		ttl  uint32
	)
	if resp.Rcode == dns.RcodeSuccess {
		for _, rr := range resp.Answer {
			var text string
			switch v := rr.(type) {
			case *dns.A:
				if qtype == dns.TypeA {
					text = v.A.String()
				}
			case *dns.AAAA:
				if qtype == dns.TypeAAAA {
					text = v.AAAA.String()
				}
			}
			if text == "" {
				continue
			}
			if addr == "" {
				addr, ttl = text, rr.Header().Ttl
			} else {
				ttl = min(ttl, rr.Header().Ttl)
			}
		}
	}
	if addr == "" {
		for _, rr := range resp.Ns {
			if soa, ok := rr.(*dns.SOA); ok {
				ttl = min(soa.Hdr.Ttl, soa.Minttl)
				break
			}
		}
	}
	return addr, min(time.Duration(ttl)*time.Second, maxCacheTTL)
}

var _ screening.Resolver = (*Resolver)(nil)
