package domain

import (
	"net/netip"
	"strconv"
	"strings"
)

const hexDigits = "0123456789abcdef"

// LookupName builds the DNSBL query name for addr under zone, following the
// usual reverse encoding:
//
//	IPv4 127.0.0.1 -> 1.0.0.127.<zone>
//	IPv6 ::1       -> 1.0.0.0. ... 0.0.<zone> (bytes last to first, low nibble first)
//
// It returns false for an invalid address.
func LookupName(addr netip.Addr, zone string) (string, bool) {
	var b strings.Builder
	switch FamilyOf(addr) {
	case FamilyIPv4:
		ip := addr.Unmap().As4()
		b.Grow(16 + len(zone))
		for i := len(ip) - 1; i >= 0; i-- {
			b.WriteString(strconv.Itoa(int(ip[i])))
			b.WriteByte('.')
		}
	case FamilyIPv6:
		ip := addr.As16()
		b.Grow(64 + len(zone))
		for i := len(ip) - 1; i >= 0; i-- {
			b.WriteByte(hexDigits[ip[i]&0x0f])
			b.WriteByte('.')
			b.WriteByte(hexDigits[ip[i]>>4])
			b.WriteByte('.')
		}
	default:
		return "", false
	}
	b.WriteString(zone)
	return b.String(), true
}
