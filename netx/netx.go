// Package netx gives measurement flows direct ownership of their TCP
// sockets. Flow establishment needs control that net.Dialer does not
// expose: socket buffers must be sized before the handshake so that the
// window scale announced in the SYN reflects them, and a flow may have
// to hold an unconnected socket when the handshake is deferred until
// the measurement starts. Socket therefore wraps a raw descriptor
// created with unix.Socket and keeps it until the flow is torn down.
package netx

import (
	"errors"
	"net/netip"
	"os"

	guuid "github.com/google/uuid"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/uuid"
	"golang.org/x/sys/unix"
)

// ErrNoSupport indicates that the current platform cannot answer a path
// MTU query.
var ErrNoSupport = errors.New("IP_MTU not supported on this platform")

// Socket is a TCP socket owned by a measurement flow. It is created
// unconnected so that buffer sizes can be negotiated before the
// handshake. A Socket is not safe for concurrent use.
type Socket struct {
	fd     int
	family int
}

// NewSocket creates an unconnected TCP socket for the candidate's
// address family.
func NewSocket(c Candidate) (*Socket, error) {
	fd, err := unix.Socket(c.Family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	return &Socket{fd: fd, family: c.Family}, nil
}

// Fd returns the underlying descriptor for socket-level queries. The
// descriptor stays owned by the Socket.
func (s *Socket) Fd() int {
	return s.fd
}

// Family returns the socket's address family.
func (s *Socket) Family() int {
	return s.family
}

// SetSendBufferSize negotiates the send buffer size and returns the
// size the kernel actually granted. See negotiateBufferSize for the
// semantics of the requested value.
func (s *Socket) SetSendBufferSize(requested int) (int, error) {
	return negotiateBufferSize(s.fd, unix.SO_SNDBUF, requested)
}

// SetReceiveBufferSize negotiates the receive buffer size and returns
// the size the kernel actually granted.
func (s *Socket) SetReceiveBufferSize(requested int) (int, error) {
	return negotiateBufferSize(s.fd, unix.SO_RCVBUF, requested)
}

// negotiateBufferSize sizes one direction of the socket's buffering. A
// requested size of zero or less leaves the kernel default in place and
// only reports it. Any other request is issued as-is, so a flow can
// shrink its buffer below the kernel default. Some kernels reject a
// request above their limit instead of clamping it; only then is the
// request halved and retried, stopping once the next attempt would not
// beat the size already in place. The returned size is re-read from the
// kernel and is authoritative; on Linux it includes the bookkeeping
// overhead the kernel adds, so it may exceed the request.
func negotiateBufferSize(fd int, direction int, requested int) (int, error) {
	current, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, direction)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	if requested <= 0 {
		return current, nil
	}
	for attempt := requested; ; attempt /= 2 {
		if unix.SetsockoptInt(fd, unix.SOL_SOCKET, direction, attempt) == nil {
			break
		}
		if attempt/2 <= current {
			break
		}
	}
	granted, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, direction)
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	return granted, nil
}

// Connect performs the TCP handshake with the candidate and blocks
// until it completes or fails. The call is issued exactly once:
// retrying connect after EINTR returns EALREADY or EISCONN because the
// interrupted attempt keeps going, and EINTR cannot surface here anyway
// since the runtime's signal handlers use SA_RESTART and the socket
// carries no timeouts.
func (s *Socket) Connect(c Candidate) error {
	if err := unix.Connect(s.fd, c.Sockaddr()); err != nil {
		return os.NewSyscallError("connect", err)
	}
	return nil
}

// Close releases the descriptor. Closing an already closed Socket is a
// no-op so that teardown paths may run unconditionally.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	if err := unix.Close(fd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return nil
}

// File returns an *os.File for the socket. The returned file wraps a
// dup() of the descriptor, hence you now have ownership of two objects
// that you need to remember to Close.
func (s *Socket) File() (*os.File, error) {
	fd, err := unix.Dup(s.fd)
	if err != nil {
		return nil, os.NewSyscallError("dup", err)
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), "flow-socket"), nil
}

// UUID returns the socket's globally unique identifier.
func (s *Socket) UUID() (string, error) {
	fp, err := s.File()
	if err != nil {
		return "", err
	}
	defer fp.Close()
	id, err := uuid.FromFile(fp)
	if err != nil {
		// Use UUIDv1 as fallback when SO_COOKIE isn't supported by the kernel.
		fallback, err := guuid.NewUUID()
		rtx.Must(err, "unable to fallback to uuid")
		id = fallback.String()
	}
	return id, nil
}

// LocalAddrPort returns the socket's local address. Before a connect or
// an explicit bind the port is zero.
func (s *Socket) LocalAddrPort() (netip.AddrPort, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netip.AddrPort{}, os.NewSyscallError("getsockname", err)
	}
	return sockaddrToAddrPort(sa), nil
}

// RemoteAddrPort returns the peer address of a connected socket.
func (s *Socket) RemoteAddrPort() (netip.AddrPort, error) {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return netip.AddrPort{}, os.NewSyscallError("getpeername", err)
	}
	return sockaddrToAddrPort(sa), nil
}

// PathMTU reports the MTU of the path behind a connected socket. It
// returns ErrNoSupport where the kernel has no IP_MTU query.
func (s *Socket) PathMTU() (int, error) {
	return pathMTU(s.fd, s.family)
}
