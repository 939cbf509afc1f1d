package netx

import (
	"os"

	"golang.org/x/sys/unix"
)

func pathMTU(fd int, family int) (int, error) {
	var mtu int
	var err error
	if family == unix.AF_INET6 {
		mtu, err = unix.GetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MTU)
	} else {
		mtu, err = unix.GetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU)
	}
	if err != nil {
		return 0, os.NewSyscallError("getsockopt", err)
	}
	return mtu, nil
}
