// Package congestion reads and sets the congestion control algorithm of
// a TCP socket. This code currently only works on Linux systems, as
// TCP_CONGESTION is only available there.
package congestion

import (
	"errors"
)

// ErrNoSupport indicates that this system does not support querying or
// setting the congestion control algorithm.
var ErrNoSupport = errors.New("TCP_CONGESTION not supported")

// Algorithm returns the name of the congestion control algorithm the
// kernel runs for the socket behind |fd|, e.g. "cubic" or "reno".
func Algorithm(fd int) (string, error) {
	return algorithm(fd)
}

// Set asks the kernel to run the named congestion control algorithm for
// the socket behind |fd|.
func Set(fd int, name string) error {
	return set(fd, name)
}
