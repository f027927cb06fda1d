package utils

import "golang.org/x/net/publicsuffix"

// IsListZone reports whether name can host a DNSBL zone, i.e. whether it sits
// below a public suffix. "org" and "co.uk" cannot.
func IsListZone(name string) bool {
	name = CanonicalDNSName(name)
	if name == "" {
		return false
	}
	_, err := publicsuffix.EffectiveTLDPlusOne(name)
	return err == nil
}
