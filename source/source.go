// Package source implements the agent's add-flow-source operation: it
// turns a controller request into a live (or deliberately deferred) TCP
// connection backed by an allocated flow record. Establishment runs
// synchronously on the caller's goroutine, candidates are tried
// strictly in resolver order, and any failure unwinds every resource
// the call acquired, so a failed request never leaks a descriptor, a
// buffer, or a pool slot.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aoimidori27/flowgrind/capture"
	"github.com/aoimidori27/flowgrind/congestion"
	"github.com/aoimidori27/flowgrind/flow"
	"github.com/aoimidori27/flowgrind/logging"
	"github.com/aoimidori27/flowgrind/metrics"
	"github.com/aoimidori27/flowgrind/netx"
	"github.com/aoimidori27/flowgrind/redisx"
	"github.com/aoimidori27/flowgrind/resolver"
	"github.com/m-lab/go/prometheusx"
)

// OptionApplier applies measurement-relevant TCP options to a freshly
// obtained socket, between acquisition and the connect decision. The
// concrete option set belongs to the transfer phase's configuration;
// establishment only consumes the contract.
type OptionApplier interface {
	Apply(fl *flow.Flow) error
}

// NoopOptions leaves the socket's options untouched.
type NoopOptions struct{}

// Apply does nothing and never fails.
func (NoopOptions) Apply(fl *flow.Flow) error {
	return nil
}

// Request carries the settings of one add-flow call. It is request
// scoped: the manager copies what it keeps into the flow.
type Request struct {
	Settings       flow.Settings
	SourceSettings flow.SourceSettings
}

// Response reports an established flow back to the controller. The
// buffer sizes are what the kernel granted, not what was requested.
type Response struct {
	FlowID             int    `json:"flow_id"`
	FlowUUID           string `json:"flow_uuid,omitempty"`
	RealReadBufferSize int    `json:"real_read_buffer_size"`
	RealSendBufferSize int    `json:"real_send_buffer_size"`
	CongestionControl  string `json:"congestion_control,omitempty"`
}

// Manager owns the agent-wide establishment state.
type Manager struct {
	// Pool is the flow arena. Required.
	Pool *flow.Pool
	// Resolver obtains sockets for flows. Required.
	Resolver *resolver.Resolver
	// Options is applied to every socket after acquisition. Nil means
	// no options.
	Options OptionApplier
	// Capture is attached to every flow after option application. Nil
	// disables capture.
	Capture capture.Hook
	// Store receives establishment records when non-nil. Export
	// failures are logged, never fatal.
	Store *redisx.Client

	// mu serializes whole add-flow calls. The pool has its own lock,
	// but a flow under construction must not be observable half-built
	// either.
	mu sync.Mutex

	// allocBlock builds one zero-initialized data block. Tests replace
	// it to exercise the allocation-failure path without exhausting
	// memory.
	allocBlock func(size int) ([]byte, error)
}

func defaultAllocBlock(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("invalid block size %d", size)
	}
	return make([]byte, size), nil
}

// AddFlowSource establishes one measurement flow: reserve a pool slot,
// build the data blocks, obtain a socket against the destination's
// candidates, apply TCP options, introspect congestion control where
// the platform can, attach capture, then either handshake now or leave
// the socket for a later phase (late connect). On failure the returned
// error is a *Failure whose Kind names the failed stage, and the pool
// is exactly as it was before the call.
func (m *Manager) AddFlowSource(ctx context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fl, err := m.Pool.Allocate()
	if err != nil {
		metrics.FlowSetupErrors.WithLabelValues(PoolExhausted.String()).Inc()
		return nil, newFailure(PoolExhausted, err, "cannot add a flow source")
	}
	logging.Logger.Debugf("flow %d: establishing source to %s:%d", fl.ID,
		req.SourceSettings.DestinationHost, req.SourceSettings.DestinationPort)

	fl.Settings = req.Settings
	fl.SourceSettings = req.SourceSettings

	alloc := m.allocBlock
	if alloc == nil {
		alloc = defaultAllocBlock
	}
	if fl.WriteBlock, err = alloc(fl.Settings.MaximumBlockSize); err == nil {
		fl.ReadBlock, err = alloc(fl.Settings.MaximumBlockSize)
	}
	if err != nil {
		return nil, m.unwind(fl, AllocationFailure, err,
			"could not allocate %d-byte blocks for flow %d", fl.Settings.MaximumBlockSize, fl.ID)
	}
	if fl.Settings.ByteCounting {
		// The transfer phase verifies payload integrity by offset, so
		// the write block carries its own indexes, modulo 256.
		for i := range fl.WriteBlock {
			fl.WriteBlock[i] = byte(i)
		}
	}

	fl.State = flow.AwaitingConnect

	// The socket comes back unconnected: the handshake belongs to the
	// late-connect decision below, and buffer sizing must precede it
	// either way.
	sock, res, err := m.Resolver.Socket(ctx, resolver.Query{
		Host:           fl.SourceSettings.DestinationHost,
		Port:           fl.SourceSettings.DestinationPort,
		DoConnect:      false,
		ReadBufferSize: fl.Settings.RequestedReadBufferSize,
		SendBufferSize: fl.Settings.RequestedSendBufferSize,
	})
	if err != nil {
		kind := ConnectionFailure
		var rerr *resolver.ResolveError
		if errors.As(err, &rerr) {
			kind = ResolutionFailure
		}
		return nil, m.unwind(fl, kind, err, "could not obtain a data socket for flow %d", fl.ID)
	}
	fl.Sock = sock
	fl.PeerAddr = res.Candidate

	resp := &Response{
		FlowID:             fl.ID,
		RealReadBufferSize: res.RealReadBufferSize,
		RealSendBufferSize: res.RealSendBufferSize,
	}

	if id, err := sock.UUID(); err == nil {
		fl.UUID = id
		resp.FlowUUID = id
	} else {
		logging.Logger.WithError(err).Warnf("flow %d: could not derive a socket UUID", fl.ID)
	}

	if m.Options != nil {
		if err := m.Options.Apply(fl); err != nil {
			return nil, m.unwind(fl, OptionApplicationFailure, err,
				"could not apply TCP options to flow %d", fl.ID)
		}
	}

	// Platforms without the query simply report no algorithm name. A
	// failing query on a supported platform is fatal: the socket is
	// already fixed, so there is no next candidate to retry against.
	switch algo, err := congestion.Algorithm(sock.Fd()); {
	case err == nil:
		resp.CongestionControl = algo
	case errors.Is(err, congestion.ErrNoSupport):
	default:
		return nil, m.unwind(fl, IntrospectionFailure, err,
			"could not query the congestion control algorithm of flow %d", fl.ID)
	}

	if m.Capture != nil {
		if err := m.Capture.Attach(fl); err != nil {
			return nil, m.unwind(fl, CaptureAttachmentFailure, err,
				"could not attach packet capture to flow %d", fl.ID)
		}
	}

	connectMode := "deferred"
	if fl.SourceSettings.LateConnect {
		fl.State = flow.Deferred
	} else {
		connectMode = "immediate"
		fl.ConnectCalled = true
		if err := sock.Connect(fl.PeerAddr); err != nil {
			// The flow stays allocated with the diagnostic recorded;
			// the transfer phase surfaces the dead socket.
			fl.Errorf("could not connect to %s: %v", fl.PeerAddr, err)
			logging.Logger.WithError(err).Warnf("flow %d: early connect to %s failed", fl.ID, fl.PeerAddr)
		} else {
			fl.State = flow.Connected
			m.recordPathMTU(fl)
		}
	}

	fl.Established = time.Now().UTC()
	metrics.ActiveFlows.Inc()
	metrics.FlowsEstablished.WithLabelValues(connectMode).Inc()
	logging.Logger.Debugf("flow %d: established (%s connect)", fl.ID, connectMode)
	m.export(ctx, fl, resp)
	return resp, nil
}

// RemoveFlow tears down an established flow and frees its slot, after
// which the identity may be reused.
func (m *Manager) RemoveFlow(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Pool.Get(id) == nil {
		return fmt.Errorf("no flow with id %d", id)
	}
	m.Pool.Release(id)
	metrics.ActiveFlows.Dec()
	return nil
}

// unwind rolls a failed call back: count the stage, release the slot
// (which closes any socket and drops the blocks), and build the Failure
// handed to the caller.
func (m *Manager) unwind(fl *flow.Flow, kind FailureKind, err error, format string, v ...interface{}) error {
	f := newFailure(kind, err, format, v...)
	logging.Logger.WithError(err).Warnf("flow %d: establishment failed at the %s stage", fl.ID, kind)
	metrics.FlowSetupErrors.WithLabelValues(kind.String()).Inc()
	m.Pool.Release(fl.ID)
	return f
}

func (m *Manager) recordPathMTU(fl *flow.Flow) {
	mtu, err := fl.Sock.PathMTU()
	if err != nil {
		if !errors.Is(err, netx.ErrNoSupport) {
			logging.Logger.WithError(err).Warnf("flow %d: could not query the path MTU", fl.ID)
		}
		return
	}
	fl.PathMTU = mtu
}

// export ships the establishment record when a store is configured.
func (m *Manager) export(ctx context.Context, fl *flow.Flow, resp *Response) {
	if m.Store == nil {
		return
	}
	record := &redisx.FlowRecord{
		GitShortCommit:     prometheusx.GitShortCommit,
		UUID:               fl.UUID,
		FlowID:             fl.ID,
		DestinationHost:    fl.SourceSettings.DestinationHost,
		DestinationPort:    fl.SourceSettings.DestinationPort,
		LateConnect:        fl.SourceSettings.LateConnect,
		RealReadBufferSize: resp.RealReadBufferSize,
		RealSendBufferSize: resp.RealSendBufferSize,
		CongestionControl:  resp.CongestionControl,
		PathMTU:            fl.PathMTU,
		Established:        fl.Established,
	}
	if err := m.Store.PutFlowRecord(ctx, record); err != nil {
		logging.Logger.WithError(err).Warnf("flow %d: could not export the establishment record", fl.ID)
	}
}
