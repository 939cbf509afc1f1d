// Package capture defines the attach hook the establishment path
// offers to the packet-capture subsystem. The capture loop itself is an
// external collaborator; establishment only needs a way to hand a
// freshly built flow over before it starts transferring.
package capture

import (
	"github.com/aoimidori27/flowgrind/flow"
)

// Hook begins packet capture for an established flow. An attach error
// fails the add-flow request that triggered it.
type Hook interface {
	Attach(fl *flow.Flow) error
}

// Noop is the hook agents run with when capture is disabled.
type Noop struct{}

// Attach does nothing and never fails.
func (Noop) Attach(fl *flow.Flow) error {
	return nil
}
