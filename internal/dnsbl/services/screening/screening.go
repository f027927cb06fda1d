// Package screening gates client registration on DNSBL lookups.
//
// For every connecting client the Service issues one lookup per active
// blacklist, classifies each reply, records the first listing on the client
// and lets registration continue once no lookups remain. All state is guarded
// by a single mutex; completions from the resolver are consumed by Run.
package screening

import (
	"context"
	"sync"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/clock"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
	"github.com/haukened/rr-dnsbl/internal/dnsbl/repos/registry"
)

// Service is the query lifecycle manager and registration gate.
type Service struct {
	mu       sync.Mutex
	registry *registry.Registry
	resolver Resolver
	logger   log.Logger
	metrics  Metrics
	matcher  matcher
	pending  map[Handle]*pendingQuery
}

// Options configures a Service. Registry and Resolver are required; the
// rest fall back to a fresh registry, the real clock, a no-op logger and
// no-op metrics.
type Options struct {
	Registry *registry.Registry
	Resolver Resolver
	Clock    clock.Clock
	Logger   log.Logger
	Metrics  Metrics
}

func NewService(opts Options) *Service {
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	return &Service{
		registry: opts.Registry,
		resolver: opts.Resolver,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		matcher:  matcher{clock: opts.Clock, logger: opts.Logger, metrics: opts.Metrics},
		pending:  make(map[Handle]*pendingQuery),
	}
}

// UpsertBlacklist installs or updates one blacklist and returns its ID.
func (s *Service) UpsertBlacklist(def domain.Blacklist) registry.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Upsert(def).ID()
}

// RetireUnconfiguredBlacklists finishes a reconfiguration: lists not
// upserted since the last call stop receiving new lookups and are freed once
// their in-flight lookups are done.
func (s *Service) RetireUnconfiguredBlacklists() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.RetireUnconfigured()
}

// Reload applies a complete blacklist configuration atomically with respect
// to lookups and completions.
func (s *Service) Reload(defs []domain.Blacklist) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range defs {
		s.registry.Upsert(def)
	}
	retired := s.registry.RetireUnconfigured()

	s.logger.Info(map[string]any{
		"configured": len(defs),
		"retired":    retired,
		"entries":    s.registry.Len(),
	}, "Blacklists reloaded")
}

// StartLookups issues one lookup per active blacklist that supports the
// client's address family and returns how many were issued.
func (s *Service) StartLookups(c Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pre := c.PreClient()
	if pre == nil {
		s.logger.Warn(map[string]any{"client": c.Name()}, "Client has no pre-registration record, skipping blacklist lookups")
		return 0
	}

	addr := c.Addr()
	family := domain.FamilyOf(addr)
	issued := 0
	for e := range s.registry.Active() {
		if !e.Supports(family) {
			continue
		}
		name, ok := domain.LookupName(addr, e.Host)
		if !ok {
			continue
		}

		s.registry.Retain(e.ID())
		// DNSBLs answer with A records for both address families.
		h := s.resolver.Submit(name, domain.FamilyIPv4)
		q := &pendingQuery{client: c, pre: pre, list: e.ID(), handle: h, name: name}
		s.pending[h] = q
		pre.queries[h] = q
		issued++

		s.metrics.LookupIssued(e.Host)
		s.metrics.PendingLookups(1)
		s.logger.Debug(map[string]any{
			"client": c.Name(),
			"list":   e.Host,
			"name":   name,
			"handle": uint64(h),
		}, "Blacklist lookup issued")
	}
	return issued
}

// HandleCompletion applies one resolver outcome.
func (s *Service) HandleCompletion(comp Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.pending[comp.Handle]
	if !ok {
		// cancelled, or delivered twice
		s.logger.Debug(map[string]any{"handle": uint64(comp.Handle)}, "Discarding completion for unknown lookup")
		return
	}

	if q.client.Exited() {
		s.finish(q, queryCompleted, false)
		return
	}
	pre := q.client.PreClient()
	if pre == nil {
		s.logger.Error(map[string]any{
			"client": q.client.Name(),
			"handle": uint64(q.handle),
		}, "Blacklist reply for client without pre-registration record")
		s.finish(q, queryCompleted, false)
		return
	}

	e, ok := s.registry.Get(q.list)
	if !ok {
		s.logger.Error(map[string]any{
			"client": q.client.Name(),
			"name":   q.name,
		}, "Blacklist entry vanished while referenced")
		s.finish(q, queryCompleted, false)
		s.gate(q.client, pre)
		return
	}

	kept := false
	if comp.Succeeded && comp.Reply != "" && s.matcher.match(e, comp.Reply) {
		e.Hit()
		s.metrics.ListHit(e.Host)
		if pre.listed == 0 {
			pre.listed = e.ID()
			kept = true
			s.logger.Info(map[string]any{
				"client": q.client.Name(),
				"list":   e.Host,
				"reply":  comp.Reply,
			}, "Client listed in blacklist")
		}
	}
	s.finish(q, queryCompleted, kept)
	s.gate(q.client, pre)
}

// finish destroys q exactly once. Its reference is dropped unless kept, which
// means it moved to the client's listed slot.
func (s *Service) finish(q *pendingQuery, state queryState, kept bool) {
	if q.state != queryIssued {
		return
	}
	q.state = state
	delete(q.pre.queries, q.handle)
	delete(s.pending, q.handle)
	s.metrics.PendingLookups(-1)
	if !kept {
		s.registry.Release(q.list)
	}
}

// AbortLookups cancels every lookup still pending for c. It is a no-op for a
// client without pending lookups.
func (s *Service) AbortLookups(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abort(c)
}

func (s *Service) abort(c Client) {
	pre := c.PreClient()
	if pre == nil {
		return
	}
	for h, q := range pre.queries {
		s.resolver.Cancel(h)
		s.finish(q, queryCancelled, false)
	}
}

// ReleaseClient tears down all screening state for c: pending lookups are
// aborted and the reference held by a recorded listing is dropped.
func (s *Service) ReleaseClient(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abort(c)
	pre := c.PreClient()
	if pre == nil {
		return
	}
	if pre.listed != 0 {
		s.registry.Release(pre.listed)
		pre.listed = 0
	}
	pre.gated = true
}

// Verdict describes the blacklist a client was found on.
type Verdict struct {
	List         string
	RejectReason string
}

// Listing returns the blacklist that matched c first, if any.
func (s *Service) Listing(c Client) (Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pre := c.PreClient()
	if pre == nil || pre.listed == 0 {
		return Verdict{}, false
	}
	e, ok := s.registry.Get(pre.listed)
	if !ok {
		return Verdict{}, false
	}
	return Verdict{List: e.Host, RejectReason: e.RejectReason}, true
}

// Pending returns how many lookups are outstanding for c.
func (s *Service) Pending(c Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pre := c.PreClient(); pre != nil {
		return len(pre.queries)
	}
	return 0
}

// Stats lists every blacklist with its counters.
func (s *Service) Stats() []registry.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Stats()
}

// Shutdown releases the registry. Lists still referenced by lookups or
// listed clients linger until those references are released.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.Destroy()
	s.logger.Info(map[string]any{"remaining": s.registry.Len()}, "Blacklist registry destroyed")
}

// Run feeds completions into the service until ctx is done or the channel is
// closed.
func (s *Service) Run(ctx context.Context, completions <-chan Completion) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case comp, ok := <-completions:
			if !ok {
				return nil
			}
			s.HandleCompletion(comp)
		}
	}
}
