package screening

import (
	"net/netip"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/domain"
)

// Handle identifies one lookup submitted to a Resolver.
type Handle uint64

// Completion is the outcome of one lookup. Reply is the first answer
// address in textual form, empty when no answer arrived.
type Completion struct {
	Handle    Handle
	Reply     string
	Succeeded bool
	Family    domain.AddressFamily
}

// Resolver issues DNSBL lookups asynchronously. Outcomes are delivered as
// Completions to whoever drives Service.Run; Submit must never deliver
// synchronously. Cancel stops delivery for the handle; a Completion already
// queued when Cancel runs is discarded by the Service.
type Resolver interface {
	Submit(name string, family domain.AddressFamily) Handle
	Cancel(h Handle)
}

// Client is the connection side of screening. All methods are called with the
// service lock held and must not call back into the Service.
type Client interface {
	// Name identifies the client in logs.
	Name() string
	// Addr is the remote address lookups are built from.
	Addr() netip.Addr
	// Exited reports that the client has been torn down completely.
	Exited() bool
	// PreClient returns the pre-registration record, or nil once it is gone.
	PreClient() *PreClient
	// ReadyToRegister reports whether every prerequisite other than the
	// blacklist checks is satisfied.
	ReadyToRegister() bool
	// Register continues registration. It is called at most once.
	Register()
}

// Metrics receives screening counters.
type Metrics interface {
	LookupIssued(list string)
	ListHit(list string)
	GarbageReply(list string)
	ClientRejected(list string)
	PendingLookups(delta int)
}

type noopMetrics struct{}

func (noopMetrics) LookupIssued(string)   {}
func (noopMetrics) ListHit(string)        {}
func (noopMetrics) GarbageReply(string)   {}
func (noopMetrics) ClientRejected(string) {}
func (noopMetrics) PendingLookups(int)    {}
