package domain

import "net/netip"

// AddressFamily identifies the IP version of a client or lookup.
type AddressFamily uint8

const (
	FamilyUnknown AddressFamily = iota
	FamilyIPv4
	FamilyIPv6
)

func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// FamilyOf classifies addr. IPv4-mapped IPv6 addresses, as produced by
// dual-stack listeners, count as IPv4.
func FamilyOf(addr netip.Addr) AddressFamily {
	switch {
	case !addr.IsValid():
		return FamilyUnknown
	case addr.Is4() || addr.Is4In6():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}
