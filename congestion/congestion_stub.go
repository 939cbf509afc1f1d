// +build !linux

package congestion

func algorithm(fd int) (string, error) {
	return "", ErrNoSupport
}

func set(fd int, name string) error {
	return ErrNoSupport
}
