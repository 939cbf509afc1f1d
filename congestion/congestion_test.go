package congestion

import (
	"errors"
	"runtime"
	"testing"

	"github.com/m-lab/go/rtx"
	"golang.org/x/sys/unix"
)

func TestAlgorithmRoundTrip(t *testing.T) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	rtx.Must(err, "could not create a socket")
	defer unix.Close(fd)

	name, err := Algorithm(fd)
	if runtime.GOOS != "linux" {
		if !errors.Is(err, ErrNoSupport) {
			t.Fatalf("Algorithm err = %v, want ErrNoSupport", err)
		}
		if err := Set(fd, "reno"); !errors.Is(err, ErrNoSupport) {
			t.Fatalf("Set err = %v, want ErrNoSupport", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("Algorithm: %v", err)
	}
	if name == "" {
		t.Fatal("Algorithm returned an empty name")
	}
	// Setting the algorithm we just read back must always succeed.
	if err := Set(fd, name); err != nil {
		t.Errorf("Set(%q): %v", name, err)
	}
	got, err := Algorithm(fd)
	if err != nil {
		t.Fatalf("Algorithm after Set: %v", err)
	}
	if got != name {
		t.Errorf("Algorithm = %q after Set(%q)", got, name)
	}
}

func TestSetUnknownAlgorithm(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("TCP_CONGESTION is linux only")
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	rtx.Must(err, "could not create a socket")
	defer unix.Close(fd)
	if err := Set(fd, "no-such-algorithm"); err == nil {
		t.Error("setting an unknown algorithm succeeded")
	}
}
