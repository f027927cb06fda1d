package transport

import (
	"fmt"
	"slices"

	"github.com/haukened/rr-dnsbl/internal/dnsbl/common/log"
)

// NewTransport creates a transport of the given type.
func NewTransport(transportType TransportType, addr string, logger log.Logger) (ServerTransport, error) {
	switch transportType {
	case TransportTCP:
		return NewTCPTransport(addr, logger), nil

	case TransportTLS:
		return nil, fmt.Errorf("TLS transport not yet implemented")

	default:
		return nil, fmt.Errorf("unsupported transport type: %s", transportType)
	}
}

// GetSupportedTransports returns a list of currently supported transport types.
func GetSupportedTransports() []TransportType {
	return []TransportType{
		TransportTCP,
	}
}

// IsTransportSupported checks if a given transport type is currently supported.
func IsTransportSupported(transportType TransportType) bool {
	return slices.Contains(GetSupportedTransports(), transportType)
}
