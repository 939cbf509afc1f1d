// Package tcpinfox helps to gather TCP_INFO statistics.
package tcpinfox

import (
	"errors"

	"github.com/m-lab/tcp-info/tcp"
)

// ErrNoSupport is returned on systems that do not support TCP_INFO.
var ErrNoSupport = errors.New("TCP_INFO not supported")

// GetTCPInfo measures TCP_INFO metrics of the socket behind |fd| and
// returns them. In case of error, instead, an error is returned.
func GetTCPInfo(fd int) (*tcp.LinuxTCPInfo, error) {
	return getTCPInfo(fd)
}
