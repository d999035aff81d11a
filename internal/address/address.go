// Package address provides a lightweight newtype for host:port network
// addresses. Peers across the cluster are identified solely by address.
package address

import (
	"fmt"
	"net"
)

// Address is a host:port socket address.
type Address string

// Newf formats an Address from the given format specifier and arguments.
func Newf(format string, args ...any) Address {
	return Address(fmt.Sprintf(format, args...))
}

func (a Address) String() string { return string(a) }

// Host returns the host portion of the address, or "" if the address is
// malformed.
func (a Address) Host() string {
	host, _, err := net.SplitHostPort(string(a))
	if err != nil {
		return ""
	}
	return host
}

// Port returns the port portion of the address, or "" if the address is
// malformed.
func (a Address) Port() string {
	_, port, err := net.SplitHostPort(string(a))
	if err != nil {
		return ""
	}
	return port
}

// PortString returns the port prefixed with a colon, suitable for
// net.Listen.
func (a Address) PortString() string { return ":" + a.Port() }
