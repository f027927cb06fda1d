package domain

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// FilterKind selects which part of a DNSBL reply a Filter compares.
//
// whole - the full reply address, e.g. "127.0.0.2"
// last  - only the token after the final dot, e.g. "2"
type FilterKind uint8

const (
	// FilterWholeAddress compares the entire reply string.
	FilterWholeAddress FilterKind = iota + 1
	// FilterLastOctet compares the trailing token of the reply.
	FilterLastOctet
)

// String returns a stable string representation of the filter kind.
func (k FilterKind) String() string {
	switch k {
	case FilterWholeAddress:
		return "whole"
	case FilterLastOctet:
		return "last"
	default:
		return fmt.Sprintf("FilterKind(%d)", k)
	}
}

// Filter narrows which DNSBL reply values count as a listing.
type Filter struct {
	Kind  FilterKind
	Match string
}

// String renders the filter in the configuration syntax it was parsed from.
func (f Filter) String() string {
	return f.Match
}

// ParseFilter turns one configured match string into a Filter.
// A string containing a dot is a whole-address filter and must be an IPv4
// address inside 127.0.0.0/8, which is where DNSBLs answer. Anything else is a
// last-octet filter and must be an integer between 0 and 255.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Filter{}, fmt.Errorf("empty filter")
	}

	if strings.Contains(s, ".") {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return Filter{}, fmt.Errorf("filter %q is not a valid IPv4 address", s)
		}
		if addr.As4()[0] != 127 {
			return Filter{}, fmt.Errorf("filter %q is not in 127.0.0.0/8", s)
		}
		return Filter{Kind: FilterWholeAddress, Match: addr.String()}, nil
	}

	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return Filter{}, fmt.Errorf("filter %q is not a valid octet", s)
	}
	return Filter{Kind: FilterLastOctet, Match: strconv.FormatUint(n, 10)}, nil
}

// ParseFilters parses every match string, failing on the first bad one.
func ParseFilters(matches []string) ([]Filter, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	filters := make([]Filter, 0, len(matches))
	for _, m := range matches {
		f, err := ParseFilter(m)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}
