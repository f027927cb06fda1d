// Package transport accepts client connections and walks each one through
// blacklist screening before letting it register.
package transport

import (
	"context"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/services/screening"
)

// ServerTransport defines the interface for client-facing listeners.
type ServerTransport interface {
	// Start begins accepting connections and screening them through s.
	Start(ctx context.Context, s Screener) error

	// Stop closes the listener and waits for open sessions to end.
	Stop() error

	// Address returns the network address the transport is bound to.
	Address() string
}

// Screener is the part of screening.Service a transport drives.
type Screener interface {
	StartLookups(c screening.Client) int
	MaybeRegister(c screening.Client) bool
	Listing(c screening.Client) (screening.Verdict, bool)
	ReleaseClient(c screening.Client)
}

// TransportType names a listener protocol.
type TransportType string

const (
	// TransportTCP is the line-oriented plaintext listener.
	TransportTCP TransportType = "tcp"

	// TransportTLS is TCP wrapped in TLS - future implementation
	TransportTLS TransportType = "tls"
)

var _ Screener = (*screening.Service)(nil)
