// +build !linux

package netx

func pathMTU(fd int, family int) (int, error) {
	return 0, ErrNoSupport
}
