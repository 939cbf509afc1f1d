package netx

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Candidate is one resolved transport address for a measurement flow. A
// resolution produces an ordered list of candidates; the one that yields
// a usable socket is kept by the flow for a possible deferred connect.
type Candidate struct {
	// Family is the address family (unix.AF_INET or unix.AF_INET6).
	Family int
	// Addr is the candidate IP address.
	Addr netip.Addr
	// Port is the destination port in host byte order.
	Port int
}

// NewCandidate builds a Candidate from a resolver result. Four-in-six
// mapped addresses are unmapped so that IPv4 destinations get an
// AF_INET socket.
func NewCandidate(ip net.IPAddr, port int) Candidate {
	addr, ok := netip.AddrFromSlice(ip.IP)
	if !ok {
		return Candidate{}
	}
	addr = addr.Unmap()
	if ip.Zone != "" {
		addr = addr.WithZone(ip.Zone)
	}
	family := unix.AF_INET6
	if addr.Is4() {
		family = unix.AF_INET
	}
	return Candidate{Family: family, Addr: addr, Port: port}
}

// Valid reports whether the candidate holds a usable address.
func (c Candidate) Valid() bool {
	return c.Addr.IsValid()
}

// Sockaddr converts the candidate into the sockaddr to connect to.
func (c Candidate) Sockaddr() unix.Sockaddr {
	if c.Addr.Is4() {
		return &unix.SockaddrInet4{Port: c.Port, Addr: c.Addr.As4()}
	}
	sa := &unix.SockaddrInet6{Port: c.Port, Addr: c.Addr.As16()}
	if zone := c.Addr.Zone(); zone != "" {
		if ifi, err := net.InterfaceByName(zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa
}

// HostString returns the candidate's address in its normalized textual
// form: dotted-decimal for IPv4 and the canonical form for IPv6.
func (c Candidate) HostString() string {
	return c.Addr.String()
}

// String returns the candidate's address and port.
func (c Candidate) String() string {
	return netip.AddrPortFrom(c.Addr, uint16(c.Port)).String()
}

// sockaddrToAddrPort converts a sockaddr returned by the kernel into a
// netip.AddrPort. Unknown sockaddr types map to the zero value.
func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr).Unmap(), uint16(v.Port))
	default:
		return netip.AddrPort{}
	}
}
