// Package resolver turns a destination host/port pair into a usable
// measurement socket. Resolution yields candidate addresses in the
// order the system resolver prefers them; candidates are then tried
// strictly in that order and the first one that yields a socket (and,
// when asked, a completed handshake) wins. There is deliberately no
// concurrent racing between candidates: measurement setup must stay
// reproducible, so the walk is sequential and blocking.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/aoimidori27/flowgrind/logging"
	"github.com/aoimidori27/flowgrind/metrics"
	"github.com/aoimidori27/flowgrind/netx"
	"github.com/m-lab/go/warnonerror"
)

// A ResolveError reports that forward name resolution itself failed,
// before any socket existed. Callers distinguish it from candidate
// exhaustion with errors.As.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving %q: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Query describes one socket acquisition.
type Query struct {
	// Host and Port name the destination. Host may be a DNS name or a
	// literal address.
	Host string
	Port int
	// DoConnect selects whether the handshake must complete. When
	// false the first socket obtained wins and comes back unconnected,
	// for callers that defer the connect to a later phase.
	DoConnect bool
	// ReadBufferSize and SendBufferSize are the requested socket
	// buffer sizes. Zero means no explicit request: the OS default
	// stays in place and is only reported back.
	ReadBufferSize int
	SendBufferSize int
}

// Result carries what the winning candidate yielded besides the socket
// itself.
type Result struct {
	// Candidate is the address the socket was created (and possibly
	// connected) for. Callers on the deferred-connect path keep it for
	// the eventual handshake.
	Candidate netx.Candidate
	// PeerName is the normalized textual form of the connected peer,
	// dotted-decimal for IPv4 and canonical text for IPv6. It is only
	// set when the handshake ran.
	PeerName string
	// RealReadBufferSize and RealSendBufferSize are the sizes the
	// kernel actually granted. They are authoritative: the kernel may
	// clamp or inflate any request.
	RealReadBufferSize int
	RealSendBufferSize int
}

// Resolver obtains sockets for measurement flows. The zero value is
// ready to use and resolves through net.DefaultResolver.
type Resolver struct {
	// LookupIPAddr resolves a host into candidate addresses in
	// preference order. Nil means net.DefaultResolver.LookupIPAddr.
	LookupIPAddr func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Socket resolves the query and walks the candidates until one yields a
// usable socket. Buffer sizing always happens before any connect
// attempt: the window scale announced in the SYN is derived from the
// buffer sizes and several stacks ignore post-connect resizing. Connect
// failures are per-candidate warnings; only resolution failure or
// exhaustion of the candidate list is terminal, the latter carrying the
// last OS error.
func (r *Resolver) Socket(ctx context.Context, q Query) (*netx.Socket, *Result, error) {
	lookup := r.LookupIPAddr
	if lookup == nil {
		lookup = net.DefaultResolver.LookupIPAddr
	}
	addrs, err := lookup(ctx, q.Host)
	if err != nil {
		return nil, nil, &ResolveError{Host: q.Host, Err: err}
	}
	dest := net.JoinHostPort(q.Host, strconv.Itoa(q.Port))
	var lastErr error
	for _, ip := range addrs {
		candidate := netx.NewCandidate(ip, q.Port)
		if !candidate.Valid() {
			continue
		}
		sock, err := netx.NewSocket(candidate)
		if err != nil {
			logging.Logger.WithError(err).Warnf("could not create a socket for candidate %s", candidate)
			lastErr = err
			continue
		}
		result := &Result{Candidate: candidate}
		result.RealSendBufferSize = sizeBuffer(sock.SetSendBufferSize, q.SendBufferSize, "send", candidate)
		result.RealReadBufferSize = sizeBuffer(sock.SetReceiveBufferSize, q.ReadBufferSize, "read", candidate)
		if !q.DoConnect {
			return sock, result, nil
		}
		if err := sock.Connect(candidate); err != nil {
			logging.Logger.WithError(err).Warnf("failed to connect to %q via %s", dest, candidate)
			metrics.CandidateConnects.WithLabelValues(familyLabel(candidate), "error").Inc()
			warnonerror.Close(sock, "could not close the failed candidate's socket")
			lastErr = err
			continue
		}
		metrics.CandidateConnects.WithLabelValues(familyLabel(candidate), "ok").Inc()
		result.PeerName = candidate.HostString()
		return sock, result, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no usable candidate address")
	}
	return nil, nil, fmt.Errorf("could not establish connection to %q: %w", dest, lastErr)
}

// sizeBuffer applies one directed buffer request and reports the size
// the kernel granted. A failed query is a warning, not a candidate
// failure, and reports zero.
func sizeBuffer(apply func(int) (int, error), requested int, direction string, c netx.Candidate) int {
	granted, err := apply(requested)
	if err != nil {
		logging.Logger.WithError(err).Warnf("could not size the %s buffer for %s", direction, c)
		return 0
	}
	metrics.SocketBufferSize.WithLabelValues(direction).Observe(float64(granted))
	return granted
}

func familyLabel(c netx.Candidate) string {
	if c.Addr.Is4() {
		return "ipv4"
	}
	return "ipv6"
}
