// Package flow holds the per-flow state of the measurement agent: the
// flow record itself, its settings, and the bounded pool the agent
// allocates records from. A flow is built by the source package and
// later driven by the transfer phase; this package only owns its
// identity, buffers, and socket lifetime.
package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/aoimidori27/flowgrind/netx"
	"github.com/aoimidori27/flowgrind/tcpinfox"
	"github.com/m-lab/go/warnonerror"
	"github.com/m-lab/tcp-info/tcp"
)

// State is the position of a flow in its establishment lifecycle.
// States past Connected and Deferred belong to the transfer phase.
type State int

const (
	// Uninitialized is the state of a freed or never-built flow.
	Uninitialized State = iota
	// AwaitingConnect means the flow has its buffers and settings and
	// is about to obtain (or has obtained) a socket.
	AwaitingConnect
	// Connected means the immediate-connect path completed the TCP
	// handshake.
	Connected
	// Deferred means the flow holds an unconnected socket whose
	// handshake was handed off to a later phase.
	Deferred
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case AwaitingConnect:
		return "awaiting-connect"
	case Connected:
		return "connected"
	case Deferred:
		return "deferred"
	default:
		return "uninitialized"
	}
}

// Settings are the generic flow parameters copied from an add-flow
// request. A requested buffer size of zero means no explicit request:
// the OS default stays in place.
type Settings struct {
	MaximumBlockSize        int
	ByteCounting            bool
	RequestedReadBufferSize int
	RequestedSendBufferSize int
}

// SourceSettings are the source-endpoint parameters of an add-flow
// request.
type SourceSettings struct {
	DestinationHost string
	DestinationPort int
	LateConnect     bool
}

// Flow is one measurement endpoint record. It is built synchronously by
// a single add-flow call; once fully constructed other goroutines may
// drive its socket and buffers for the transfer phase, but nothing in
// this package synchronizes that access.
type Flow struct {
	// ID is the flow's identity within the pool. It is unique among
	// currently allocated flows and may be reused after release.
	ID int
	// UUID identifies the flow's socket globally. Empty until a socket
	// exists.
	UUID string
	// State tracks the establishment lifecycle.
	State State
	// Sock is the flow's owned socket. Nil until resolution succeeds.
	Sock *netx.Socket
	// PeerAddr is the resolved peer the socket was obtained for. The
	// deferred-connect path reuses it when the handshake finally runs.
	PeerAddr netx.Candidate
	// Settings and SourceSettings are copied verbatim from the request.
	Settings       Settings
	SourceSettings SourceSettings
	// WriteBlock and ReadBlock are the transfer-phase data buffers,
	// zero-initialized and sized to Settings.MaximumBlockSize.
	WriteBlock []byte
	ReadBlock  []byte
	// ConnectCalled is true once an explicit connect has been issued
	// for the flow.
	ConnectCalled bool
	// PathMTU is the path MTU queried right after an immediate
	// connect. Zero when the connect was deferred or the query is
	// unsupported.
	PathMTU int
	// LastError is a human-readable diagnostic owned by the flow until
	// consumed or cleared.
	LastError string
	// Established records when establishment finished.
	Established time.Time
}

// Errorf records a diagnostic on the flow, replacing any earlier one.
func (fl *Flow) Errorf(format string, v ...interface{}) {
	fl.LastError = fmt.Sprintf(format, v...)
}

// TCPInfo returns a TCP_INFO snapshot of the flow's socket. It returns
// tcpinfox.ErrNoSupport where the kernel cannot answer.
func (fl *Flow) TCPInfo() (*tcp.LinuxTCPInfo, error) {
	if fl.Sock == nil {
		return nil, errors.New("flow has no socket")
	}
	return tcpinfox.GetTCPInfo(fl.Sock.Fd())
}

// teardown releases everything the flow owns. It is safe on a
// half-built flow, so failure paths may run it unconditionally.
func (fl *Flow) teardown() {
	if fl.Sock != nil {
		warnonerror.Close(fl.Sock, "could not close the flow's socket")
		fl.Sock = nil
	}
	fl.WriteBlock = nil
	fl.ReadBlock = nil
	fl.PeerAddr = netx.Candidate{}
	fl.ConnectCalled = false
	fl.PathMTU = 0
	fl.LastError = ""
	fl.State = Uninitialized
}
