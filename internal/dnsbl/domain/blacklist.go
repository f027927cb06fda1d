package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/utils"
)

var (
	ErrEmptyHost         = errors.New("blacklist host is empty")
	ErrEmptyRejectReason = errors.New("blacklist reject reason is empty")
	ErrNoFamilies        = errors.New("blacklist supports neither IPv4 nor IPv6")
)

// Blacklist is the configured definition of one DNSBL. The registry wraps it
// with runtime state (references, hits, retirement); the definition itself is
// replaced wholesale on reconfiguration.
type Blacklist struct {
	Host         string   // zone suffix, canonical, e.g. "dnsbl.example.org"
	RejectReason string   // sent to a client refused because of this list
	IPv4         bool     // list answers reversed IPv4 names
	IPv6         bool     // list answers nibble-reversed IPv6 names
	Filters      []Filter // empty means any answer is a listing
}

// NewBlacklist canonicalises and validates a definition.
func NewBlacklist(host, reason string, ipv4, ipv6 bool, filters []Filter) (Blacklist, error) {
	b := Blacklist{
		Host:         utils.CanonicalDNSName(host),
		RejectReason: strings.TrimSpace(reason),
		IPv4:         ipv4,
		IPv6:         ipv6,
		Filters:      append([]Filter(nil), filters...),
	}
	if err := b.Validate(); err != nil {
		return Blacklist{}, err
	}
	return b, nil
}

// Validate checks the definition is usable for lookups.
func (b Blacklist) Validate() error {
	if b.Host == "" {
		return ErrEmptyHost
	}
	if b.RejectReason == "" {
		return ErrEmptyRejectReason
	}
	if !b.IPv4 && !b.IPv6 {
		return ErrNoFamilies
	}
	for _, f := range b.Filters {
		if f.Kind != FilterWholeAddress && f.Kind != FilterLastOctet {
			return fmt.Errorf("blacklist %s: unsupported filter kind %v", b.Host, f.Kind)
		}
	}
	return nil
}

// Supports reports whether the list takes lookups for the address family.
func (b Blacklist) Supports(f AddressFamily) bool {
	switch f {
	case FamilyIPv4:
		return b.IPv4
	case FamilyIPv6:
		return b.IPv6
	default:
		return false
	}
}
