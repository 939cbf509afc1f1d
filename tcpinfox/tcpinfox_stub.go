// +build !linux

package tcpinfox

import (
	"github.com/m-lab/tcp-info/tcp"
)

func getTCPInfo(fd int) (*tcp.LinuxTCPInfo, error) {
	return nil, ErrNoSupport
}
