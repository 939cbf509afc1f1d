package congestion

import (
	"os"

	"golang.org/x/sys/unix"
)

func algorithm(fd int) (string, error) {
	name, err := unix.GetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_CONGESTION)
	if err != nil {
		return "", os.NewSyscallError("getsockopt", err)
	}
	return name, nil
}

func set(fd int, name string) error {
	err := unix.SetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_CONGESTION, name)
	if err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}
